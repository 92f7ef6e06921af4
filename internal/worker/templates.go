package worker

import (
	"fmt"
	"html"
	"strings"
)

// Message is a rendered reminder. Email uses Subject and HTML, SMS uses Text,
// push uses Title and Text.
type Message struct {
	Subject string
	HTML    string
	Text    string
	Title   string
}

type messageTemplate struct {
	subject string
	html    string
	text    string
	title   string
}

const genericTemplate = "generic"

var templates = map[string]messageTemplate{
	"appointment_reminder": {
		subject: "Appointment reminder: {job_title}",
		html:    "<p>Hi {name},</p><p>This is a reminder of your appointment for {job_title} on {scheduled_for}.</p>",
		text:    "Hi {name}, reminder: {job_title} on {scheduled_for}.",
		title:   "Upcoming appointment",
	},
	"invoice_due": {
		subject: "Invoice {invoice_number} is due {due_date}",
		html:    "<p>Hi {name},</p><p>Invoice {invoice_number} for {amount} is due on {due_date}.</p>",
		text:    "Hi {name}, invoice {invoice_number} for {amount} is due {due_date}.",
		title:   "Invoice due",
	},
	"estimate_followup": {
		subject: "Following up on your estimate",
		html:    "<p>Hi {name},</p><p>We wanted to follow up on estimate {estimate_id} for {total}. Reply to this email with any questions.</p>",
		text:    "Hi {name}, following up on your estimate for {total}.",
		title:   "Estimate follow-up",
	},
	genericTemplate: {
		subject: "Reminder",
		html:    "<p>Hi {name},</p><p>{message}</p>",
		text:    "Hi {name}, {message}",
		title:   "Reminder",
	},
}

// Render fills the template named key from vars. Unknown keys use the
// generic template; missing variables render empty. Values placed in the HTML
// body are escaped.
func Render(key string, vars map[string]interface{}) Message {
	tmpl, ok := templates[key]
	if !ok {
		tmpl = templates[genericTemplate]
	}
	if _, ok := vars["message"]; !ok {
		vars = withDefault(vars, "message", "you have an upcoming reminder.")
	}
	return Message{
		Subject: renderTemplate(tmpl.subject, vars),
		HTML:    expand(tmpl.html, vars, html.EscapeString),
		Text:    renderTemplate(tmpl.text, vars),
		Title:   renderTemplate(tmpl.title, vars),
	}
}

func renderTemplate(template string, vars map[string]interface{}) string {
	return expand(template, vars, nil)
}

func expand(template string, vars map[string]interface{}, escape func(string) string) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		value := str(vars, rest[start+1:start+end])
		if escape != nil {
			value = escape(value)
		}
		b.WriteString(value)
		rest = rest[start+end+1:]
	}
}

func str(vars map[string]interface{}, key string) string {
	value, ok := vars[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return text
	}
	return fmt.Sprint(value)
}

func withDefault(vars map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out[key] = value
	return out
}
