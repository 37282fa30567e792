package logx

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	chatLineLimit  = 3500
	chatFieldLimit = 600
	chatStackLimit = 900
)

var levelIcons = map[string]string{
	"debug": "🔍",
	"info":  "ℹ️",
	"warn":  "⚠️",
	"error": "🛑",
	"fatal": "💀",
	"panic": "💀",
}

// formatChatLine turns one zerolog JSON line into a short operator
// message:
//
//	⚠️ [notifier] dispatch failed
//	channel: email
//	user: 42
//
// Input that is not a JSON object is sent trimmed.
func formatChatLine(p []byte) string {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if json.Unmarshal([]byte(line), &m) != nil {
		return truncate(line, chatLineLimit)
	}

	var b strings.Builder
	if icon, ok := levelIcons[str(m["level"])]; ok {
		b.WriteString(icon + " ")
	}
	if comp := str(m["comp"]); comp != "" {
		b.WriteString("[" + comp + "] ")
	}
	b.WriteString(str(m["message"]))
	stack := str(m["stack"])

	for _, k := range []string{"level", "time", "message", "comp", "caller", "stack"} {
		delete(m, k)
	}
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "\n%s: %s", k, truncate(fmt.Sprint(m[k]), chatFieldLimit))
	}
	if stack != "" {
		b.WriteString("\n\n" + truncate(stack, chatStackLimit))
	}
	return truncate(b.String(), chatLineLimit)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut
// with "...".
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n - 3
	if cut < 1 {
		cut = n
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == n {
		return s[:cut]
	}
	return s[:cut] + "..."
}
