package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders the command list, or one command's details, in HTML.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	byName := m.commands
	ordered := m.ordered
	m.mu.RUnlock()

	if len(args) > 0 {
		c, ok := byName[sanitizeCommand(strings.TrimPrefix(args[0], "/"))]
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to see the list."
		}
		return commandHelp(*c)
	}

	rows := append([]Command(nil), ordered...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Access != rows[j].Access {
			return rows[i].Access < rows[j].Access
		}
		return rows[i].Name < rows[j].Name
	})

	lines := []string{"📚 <b>Commands</b>", "Type <code>/help &lt;command&gt;</code> for details.", ""}
	for _, c := range rows {
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		line := prefix + "<code>/" + html.EscapeString(c.Name) + "</code>"
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " – " + html.EscapeString(d)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func commandHelp(c Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(c.Name) + "</code>"}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Owners only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(c.Aliases) > 0 {
		al := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, "<code>/"+html.EscapeString(a)+"</code>")
		}
		lines = append(lines, "", "<b>Aliases</b> "+strings.Join(al, ", "))
	}
	return strings.Join(lines, "\n")
}
