// Package render builds the chat and email texts of every reminder.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"
)

const ParseModeHTML = "HTML"

// Message is one rendered reminder for both channels.
type Message struct {
	Text      string
	ParseMode string

	Subject string
	HTML    string
	Plain   string
}

// EventUpcoming is sent by a planned timer ahead of an event. when is the
// localised "YYYY-MM-DD HH:MM".
func EventUpcoming(title, when string) Message {
	subject := "Upcoming event: " + title
	return Message{
		Text:    fmt.Sprintf("⏰ Schedule Reminder:\n“%s”\nis on %s", title, when),
		Subject: subject,
		Plain:   fmt.Sprintf("Schedule Reminder\n\nEvent: %s\nTime: %s", title, when),
		HTML: card(subject, "⏰", "Upcoming Event", nil,
			"Event: "+title,
			"Time: "+when,
		),
	}
}

// TaskUpcoming is sent by a planned timer ahead of a task deadline.
func TaskUpcoming(title, when string) Message {
	subject := "Task due: " + title
	return Message{
		Text:    fmt.Sprintf("📝 Task Reminder:\n“%s”\nis due on %s", title, when),
		Subject: subject,
		Plain:   fmt.Sprintf("Task Reminder\n\nTask: %s\nDue: %s", title, when),
		HTML: card(subject, "📝", "Task Due", nil,
			"Task: "+title,
			"Due: "+when,
		),
	}
}

// EventSoon is the sweep's pre-offset catch-up for an event. clock is "HH:MM".
func EventSoon(title, clock string) Message {
	subject := "Upcoming event: " + title
	return Message{
		Text:    fmt.Sprintf("⏰ Schedule reminder: “%s” starts at %s!", title, clock),
		Subject: subject,
		Plain:   fmt.Sprintf("Schedule Reminder\n\nEvent: %s\nTime: %s", title, clock),
		HTML: card(subject, "⏰", "Upcoming Event", nil,
			"Event: "+title,
			"Time: "+clock,
		),
	}
}

// TaskSoon is the sweep's pre-offset catch-up for a task.
func TaskSoon(title, category, clock string) Message {
	subject := "Task due: " + title
	return Message{
		Text:    fmt.Sprintf("📝 Task reminder: “%s” (%s) is due at %s!", title, category, clock),
		Subject: subject,
		Plain:   fmt.Sprintf("Task Reminder\n\nTask: %s\nCategory: %s\nDue: %s", title, category, clock),
		HTML: card(subject, "📝", "Task Due Soon", nil,
			"Task: "+title,
			"Category: "+category,
			"Due: "+clock,
		),
	}
}

func EventNow(title, clock string) Message {
	subject := "Event now: " + title
	return Message{
		Text:    fmt.Sprintf("🕒 Event starting now: “%s” at %s", title, clock),
		Subject: subject,
		Plain:   fmt.Sprintf("Event Reminder\n\nEvent: %s\nTime: %s (now)", title, clock),
		HTML: card(subject, "🕒", "Event Starting Now", nil,
			"Event: "+title,
			"Time: "+clock,
		),
	}
}

func TaskNow(title, category, clock string) Message {
	subject := "Task due: " + title
	return Message{
		Text:    fmt.Sprintf("📌 Task due now: “%s” (%s) at %s", title, category, clock),
		Subject: subject,
		Plain:   fmt.Sprintf("Task Reminder\n\nTask: %s\nCategory: %s\nDue: %s (now)", title, category, clock),
		HTML: card(subject, "📌", "Task Due Now", nil,
			"Task: "+title,
			"Category: "+category,
			"Due: "+clock,
		),
	}
}

// EmailCheck is the message behind /email test.
func EmailCheck() Message {
	subject := "📨 Test Email from StudyBot"
	return Message{
		Subject: subject,
		Plain:   "This is a test email from StudyBot.",
		HTML: card(subject, "📨", "Test Email", nil,
			"This is a test email to confirm your email notification setup is working.",
		),
	}
}

type DigestEvent struct {
	Title string
	Clock string
}

type DigestTask struct {
	Title    string
	Category string
	Clock    string
}

const digestSubject = "📅 Daily Reminder"

// Digest renders the consolidated daily message. ok is false when there is
// nothing to send.
func Digest(events []DigestEvent, tasks []DigestTask) (msg Message, ok bool) {
	if len(events) == 0 && len(tasks) == 0 {
		return Message{}, false
	}

	var chat, plain strings.Builder
	chat.WriteString("📅 <b>Daily Reminder</b>\n\n")
	plain.WriteString("Daily Reminder\n\n")

	var sections []section
	if len(events) > 0 {
		chat.WriteString("🗓️ <b>Today's Events</b>\n")
		plain.WriteString("Today's Events:\n")
		s := section{Heading: "🗓️ Today's Events"}
		for _, e := range events {
			fmt.Fprintf(&chat, " • %s at %s\n", Sanitize(e.Title), Sanitize(e.Clock))
			fmt.Fprintf(&plain, "- %s at %s\n", e.Title, e.Clock)
			s.Items = append(s.Items, e.Title+" at "+e.Clock)
		}
		chat.WriteString("\n")
		plain.WriteString("\n")
		sections = append(sections, s)
	}
	if len(tasks) > 0 {
		chat.WriteString("📝 <b>Today's Tasks</b>\n")
		plain.WriteString("Today's Tasks:\n")
		s := section{Heading: "📝 Today's Tasks"}
		for _, t := range tasks {
			fmt.Fprintf(&chat, " • %s (%s) – %s\n", Sanitize(t.Title), Sanitize(t.Category), Sanitize(t.Clock))
			fmt.Fprintf(&plain, "- %s (%s) – %s\n", t.Title, t.Category, t.Clock)
			s.Items = append(s.Items, fmt.Sprintf("%s (%s) – %s", t.Title, t.Category, t.Clock))
		}
		sections = append(sections, s)
	}

	return Message{
		Text:      strings.TrimSpace(chat.String()),
		ParseMode: ParseModeHTML,
		Subject:   digestSubject,
		Plain:     strings.TrimSpace(plain.String()),
		HTML:      card(digestSubject, "", "", sections),
	}, true
}

// Sanitize escapes user text for Telegram's HTML parse mode.
func Sanitize(s string) string {
	return html.EscapeString(s)
}

type section struct {
	Heading string
	Items   []string
}

type cardData struct {
	Subject  string
	Icon     string
	Lead     string
	Lines    []string
	Sections []section
}

var cardTmpl = template.Must(template.New("card").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Subject}}</title>
</head>
<body style="font-family: Arial, Helvetica, sans-serif; font-size: 14px; color: #333333; margin: 0; padding: 20px;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px; background-color: #f9f9f9; border: 1px solid #dddddd; border-radius: 5px;">
<h2 style="font-size: 18px; color: #444444; margin: 0 0 10px;">{{.Subject}}</h2>
{{- if .Lead}}
<p style="margin: 0 0 10px;">{{.Icon}} <strong>{{.Lead}}</strong></p>
{{- end}}
{{- range .Lines}}
<p style="margin: 0 0 5px;">{{.}}</p>
{{- end}}
{{- range .Sections}}
<h3 style="font-size: 16px; color: #444444; margin: 10px 0;">{{.Heading}}</h3>
<ul style="list-style-type: disc; padding-left: 20px; margin: 0 0 15px;">
{{- range .Items}}
<li style="margin-bottom: 5px;">{{.}}</li>
{{- end}}
</ul>
{{- end}}
</div>
</body>
</html>
`))

// card renders the styled email wrapper. Template escaping covers titles.
func card(subject, icon, lead string, sections []section, lines ...string) string {
	var buf bytes.Buffer
	err := cardTmpl.Execute(&buf, cardData{
		Subject:  subject,
		Icon:     icon,
		Lead:     lead,
		Lines:    lines,
		Sections: sections,
	})
	if err != nil {
		// Static template over plain strings; fall back to escaped text.
		return "<p>" + html.EscapeString(strings.Join(lines, "\n")) + "</p>"
	}
	return buf.String()
}
