package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type sendEmailParams struct {
	To       string `json:"to"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}

const sendEmailSchema = `{
  "type": "object",
  "properties": {
    "to": { "type": "string", "format": "email" },
    "template": { "type": "string", "minLength": 1 },
    "subject": { "type": "string", "minLength": 1 },
    "body": { "type": "string", "minLength": 1 }
  },
  "anyOf": [
    { "required": ["template"] },
    { "required": ["subject", "body"] }
  ],
  "additionalProperties": false
}`

// EmailTemplate is a named subject/body pair. Both are text/template strings rendered against
// the trigger snapshot, so "Hi {{.Contact.FirstName}}" works.
type EmailTemplate struct {
	Subject string
	Body    string
}

// DefaultEmailTemplates are the templates referenced by the seeded system workflows.
func DefaultEmailTemplates() map[string]EmailTemplate {
	return map[string]EmailTemplate{
		"vip-welcome": {
			Subject: "Welcome to our VIP list",
			Body:    "Hi {{with .Contact}}{{.FirstName}}{{end}},\n\nThanks for being one of our best customers. You now get priority booking.",
		},
		"lead-welcome": {
			Subject: "Thanks for reaching out",
			Body:    "Hi {{with .Contact}}{{.FirstName}}{{end}},\n\nWe received your request and will get back to you shortly.",
		},
		"booking-confirmation": {
			Subject: "Your booking is confirmed",
			Body:    "Hi {{with .Contact}}{{.FirstName}}{{end}},\n\nYour {{with .Booking}}{{.ServiceName}} on {{.StartsAt.Format \"Jan 2 at 3:04 PM\"}}{{end}} is confirmed.",
		},
		"invoice-reminder": {
			Subject: "Invoice {{with .Invoice}}{{.Number}}{{end}} is due",
			Body:    "Hi {{with .Contact}}{{.FirstName}}{{end}},\n\nThis is a reminder that invoice {{with .Invoice}}{{.Number}}{{end}} is still open.",
		},
		"payment-receipt": {
			Subject: "Payment received",
			Body:    "Thanks! We received your payment{{with .Payment}} of {{.AmountCents}} {{.Currency}}{{end}}.",
		},
	}
}

// SendEmailHandler sends an email to params.to, or to the snapshot contact when to is omitted.
// Content comes from a named template or from inline subject and body.
type SendEmailHandler struct {
	mailer    Mailer
	from      string
	templates map[string]EmailTemplate
}

func NewSendEmailHandler(mailer Mailer, from string) *SendEmailHandler {
	return &SendEmailHandler{mailer: mailer, from: from, templates: DefaultEmailTemplates()}
}

// WithTemplate adds or replaces a named template.
func (h *SendEmailHandler) WithTemplate(name string, t EmailTemplate) *SendEmailHandler {
	h.templates[name] = t
	return h
}

func (h *SendEmailHandler) Type() domain.ActionType { return domain.ActionSendEmail }

func (h *SendEmailHandler) Schema() string { return sendEmailSchema }

func (h *SendEmailHandler) Execute(ctx context.Context, req Request) error {
	p, err := decodeParams[sendEmailParams](req.Params)
	if err != nil {
		return err
	}
	to := p.To
	if to == "" && req.Snapshot.Contact != nil {
		to = req.Snapshot.Contact.Email
	}
	if to == "" {
		return errors.New("send_email: no recipient, set params.to or include a contact with an email")
	}

	content := EmailTemplate{Subject: p.Subject, Body: p.Body}
	if p.Template != "" {
		t, ok := h.templates[p.Template]
		if !ok {
			return fmt.Errorf("send_email: unknown template %q", p.Template)
		}
		content = t
		if p.Subject != "" {
			content.Subject = p.Subject
		}
	}

	subject, err := render("subject", content.Subject, req.Snapshot)
	if err != nil {
		return err
	}
	body, err := render("body", content.Body, req.Snapshot)
	if err != nil {
		return err
	}
	return h.mailer.Send(ctx, Message{From: h.from, To: to, Subject: subject, Body: body})
}

func render(name, text string, snapshot domain.TriggerContext) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, snapshot); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// LogMailer logs messages instead of sending them. It is the default when no SMTP host is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Email (log mailer)", "to", msg.To, "subject", msg.Subject)
	return nil
}
