package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is one plain-text email.
type Message struct {
	To      string
	ToName  string
	Subject string
	Text    string
}

type sendFunc func(ctx context.Context, m *mail.SGMailV3) (status int, messageID string, body string, err error)

// SendGridSender delivers through the SendGrid v3 mail API.
type SendGridSender struct {
	from *mail.Email
	send sendFunc
}

func NewSendGridSender(apiKey, fromEmail, fromName string) *SendGridSender {
	client := sendgrid.NewSendClient(apiKey)
	return &SendGridSender{
		from: mail.NewEmail(fromName, fromEmail),
		send: func(ctx context.Context, m *mail.SGMailV3) (int, string, string, error) {
			resp, err := client.SendWithContext(ctx, m)
			if err != nil {
				return 0, "", "", err
			}
			var id string
			if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
				id = ids[0]
			}
			return resp.StatusCode, id, resp.Body, nil
		},
	}
}

func (s *SendGridSender) ProviderID() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, m Message) (string, error) {
	msg := mail.NewSingleEmail(s.from, m.Subject, mail.NewEmail(m.ToName, m.To), m.Text, "")
	status, id, body, err := s.send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("sendgrid send: %w", err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("sendgrid returned %d: %s", status, body)
	}
	return id, nil
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@barberdesk.local"
	}
	return &SMTPSender{
		addr: strings.TrimSpace(host) + ":" + strings.TrimSpace(port),
		from: from,
	}
}

func (s *SMTPSender) ProviderID() string { return "smtp" }

// Send ignores ctx; net/smtp has no context support.
func (s *SMTPSender) Send(_ context.Context, m Message) (string, error) {
	raw := buildMessage(s.from, m.To, m.Subject, m.Text)
	if err := smtp.SendMail(s.addr, nil, s.from, []string{m.To}, []byte(raw)); err != nil {
		return "", err
	}
	return "", nil
}

func buildMessage(from, to, subject, body string) string {
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from, to, subject, body,
	)
}
