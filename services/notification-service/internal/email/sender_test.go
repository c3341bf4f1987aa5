package email

import (
	"context"
	"strings"
	"testing"

	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func TestSendGridSenderBuildsMessage(t *testing.T) {
	var got *mail.SGMailV3
	s := &SendGridSender{
		from: mail.NewEmail("Barberdesk", "shop@example.com"),
		send: func(_ context.Context, m *mail.SGMailV3) (int, string, string, error) {
			got = m
			return 202, "msg-1", "", nil
		},
	}
	id, err := s.Send(context.Background(), Message{To: "maria@example.com", ToName: "Maria", Subject: "Booked", Text: "See you"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected provider id msg-1, got %q", id)
	}
	if got.From.Address != "shop@example.com" || got.Subject != "Booked" {
		t.Fatalf("unexpected message from=%s subject=%s", got.From.Address, got.Subject)
	}
	to := got.Personalizations[0].To[0]
	if to.Address != "maria@example.com" || to.Name != "Maria" {
		t.Fatalf("unexpected recipient %+v", to)
	}
	var text string
	for _, c := range got.Content {
		if c.Type == "text/plain" {
			text = c.Value
		}
	}
	if text != "See you" {
		t.Fatalf("expected plain text part, got %+v", got.Content)
	}
}

func TestSendGridSenderRejectsNon2xx(t *testing.T) {
	s := &SendGridSender{
		from: mail.NewEmail("", "shop@example.com"),
		send: func(context.Context, *mail.SGMailV3) (int, string, string, error) {
			return 401, "", `{"errors":[{"message":"bad key"}]}`, nil
		},
	}
	_, err := s.Send(context.Background(), Message{To: "maria@example.com", Subject: "s", Text: "t"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}
}

func TestBuildMessage(t *testing.T) {
	raw := buildMessage("a@x", "b@y", "Hi", "Body")
	if !strings.HasPrefix(raw, "From: a@x\r\nTo: b@y\r\nSubject: Hi\r\n") || !strings.HasSuffix(raw, "\r\n\r\nBody\r\n") {
		t.Fatalf("unexpected message %q", raw)
	}
}
