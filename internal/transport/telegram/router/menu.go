package router

import (
	"strings"

	kit "studybot/internal/transport"
)

// sanitizeCommand maps s onto Telegram's command charset [a-z0-9_]{1,32}.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	under := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == ' ':
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// buildMenu lists public commands first, in registration order. Telegram
// shows at most 100 entries.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, pass := range []Access{AccessEveryone, AccessOwnerOnly} {
		for _, c := range cmds {
			if c.Access != pass {
				continue
			}
			desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
			if desc == "" {
				desc = c.Name
			}
			if pass == AccessOwnerOnly {
				desc = "🔒 " + desc
			}
			out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
			if len(out) == 100 {
				return out
			}
		}
	}
	return out
}
