package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Prefix is how Twilio addresses WhatsApp numbers.
const Prefix = "whatsapp:"

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends WhatsApp messages through the Twilio Messages API.
type TwilioSender struct {
	api  messageCreator
	from string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   accountSID,
		Password:   authToken,
		AccountSid: accountSID,
	})
	return &TwilioSender{api: client.Api, from: Address(from)}
}

// Address turns "+351912345678" or "whatsapp:+351912345678" into the latter.
func Address(number string) string {
	number = strings.TrimSpace(number)
	if number == "" || strings.HasPrefix(number, Prefix) {
		return number
	}
	return Prefix + number
}

func (s *TwilioSender) ProviderID() string { return "twilio" }

// Send returns the Twilio message SID. The Twilio client takes no context, so
// ctx is only checked before the call.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to = Address(to)
	if to == "" {
		return "", errors.New("whatsapp recipient is empty")
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("twilio create message: %w", err)
	}
	if msg == nil || msg.Sid == nil {
		return "", nil
	}
	return *msg.Sid, nil
}

// NoopSender accepts every message. It stands in for Twilio in local runs.
type NoopSender struct{}

func (NoopSender) ProviderID() string { return "whatsapp-noop" }

func (NoopSender) Send(context.Context, string, string) (string, error) { return "", nil }
