package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/barberdesk/barberdesk/libs/events"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/email"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/storage"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/whatsapp"
)

const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// KindConfirmation is the delivery kind of booking confirmations.
const KindConfirmation = "confirmation"

// PayloadWhatsAppTo overrides the WhatsApp recipient (bot bookings answer the chat they came from).
const PayloadWhatsAppTo = "whatsapp_to"

type Deliveries interface {
	Claim(ctx context.Context, d storage.Delivery) (int64, error)
	Finish(ctx context.Context, id int64, status, provider, providerID, reason string) error
}

type WhatsAppSender interface {
	ProviderID() string
	Send(ctx context.Context, to, body string) (string, error)
}

type EmailSender interface {
	ProviderID() string
	Send(ctx context.Context, m email.Message) (string, error)
}

type Config struct {
	ShopName string
	// FailSuffix makes recipients ending in it fail without contacting a provider. Used in local runs.
	FailSuffix string
}

// Service sends booking confirmations and reminders to customers.
// A nil sender disables its channel.
type Service struct {
	deliveries Deliveries
	whatsapp   WhatsAppSender
	email      EmailSender
	logger     *slog.Logger
	cfg        Config
}

func NewService(deliveries Deliveries, wa WhatsAppSender, mail EmailSender, logger *slog.Logger, cfg Config) *Service {
	return &Service{deliveries: deliveries, whatsapp: wa, email: mail, logger: logger, cfg: cfg}
}

type target struct {
	channel   string
	recipient string
}

func (s *Service) targets(ev events.AppointmentBooked) []target {
	var out []target
	if s.whatsapp != nil {
		to := ev.Payload[PayloadWhatsAppTo]
		if to == "" {
			to = ev.Customer.Phone
		}
		if to != "" {
			out = append(out, target{channel: ChannelWhatsApp, recipient: whatsapp.Address(to)})
		}
	}
	if s.email != nil && ev.Customer.Email != "" {
		out = append(out, target{channel: ChannelEmail, recipient: ev.Customer.Email})
	}
	return out
}

// Handle sends the booking confirmation for ev.
func (s *Service) Handle(ctx context.Context, ev events.AppointmentBooked) error {
	return s.send(ctx, ev, ev.EventID, KindConfirmation, Render(ev, s.cfg.ShopName))
}

// Remind sends the reminder r.
func (s *Service) Remind(ctx context.Context, r events.ReminderDue) error {
	return s.send(ctx, r.Appointment, r.EventID, r.Kind(), RenderReminder(r.Appointment, s.cfg.ShopName))
}

// send delivers msg on every channel the customer can be reached on.
// A (appointment, kind, channel) triple is delivered at most once, so replayed
// events send nothing twice. The returned error joins the failures of all channels.
func (s *Service) send(ctx context.Context, ev events.AppointmentBooked, eventID, kind string, msg Message) error {
	targets := s.targets(ev)
	if len(targets) == 0 {
		s.logger.Info("no reachable channel", "appointment_id", ev.AppointmentID, "kind", kind)
		return nil
	}
	var errs []error
	for _, t := range targets {
		if err := s.deliver(ctx, ev, eventID, kind, t, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deliver(ctx context.Context, ev events.AppointmentBooked, eventID, kind string, t target, msg Message) error {
	id, err := s.deliveries.Claim(ctx, storage.Delivery{
		AppointmentID: ev.AppointmentID,
		EventID:       eventID,
		Kind:          kind,
		Channel:       t.channel,
		Recipient:     t.recipient,
	})
	if err != nil {
		return err
	}
	if id == 0 {
		s.logger.Info("delivery already handled", "appointment_id", ev.AppointmentID, "kind", kind, "channel", t.channel)
		return nil
	}

	provider, providerID, sendErr := s.sendOne(ctx, ev, t, msg)
	status, reason := storage.StatusSent, ""
	if sendErr != nil {
		status, reason = storage.StatusFailed, sendErr.Error()
	}
	if err := s.deliveries.Finish(ctx, id, status, provider, providerID, reason); err != nil {
		return errors.Join(sendErr, err)
	}
	if sendErr != nil {
		s.logger.Error("delivery failed", "appointment_id", ev.AppointmentID, "kind", kind, "channel", t.channel, "err", sendErr)
		return fmt.Errorf("%s %s: %w", kind, t.channel, sendErr)
	}
	s.logger.Info("delivery sent", "appointment_id", ev.AppointmentID, "kind", kind, "channel", t.channel, "provider", provider)
	return nil
}

func (s *Service) sendOne(ctx context.Context, ev events.AppointmentBooked, t target, msg Message) (string, string, error) {
	switch t.channel {
	case ChannelWhatsApp:
		if s.failing(t.recipient) {
			return s.whatsapp.ProviderID(), "", errors.New("simulated failure")
		}
		id, err := s.whatsapp.Send(ctx, t.recipient, msg.Text)
		return s.whatsapp.ProviderID(), id, err
	case ChannelEmail:
		if s.failing(t.recipient) {
			return s.email.ProviderID(), "", errors.New("simulated failure")
		}
		id, err := s.email.Send(ctx, email.Message{
			To:      t.recipient,
			ToName:  ev.Customer.Name,
			Subject: msg.Subject,
			Text:    msg.Text,
		})
		return s.email.ProviderID(), id, err
	}
	return "", "", fmt.Errorf("unsupported channel %q", t.channel)
}

func (s *Service) failing(recipient string) bool {
	return s.cfg.FailSuffix != "" && strings.HasSuffix(recipient, s.cfg.FailSuffix)
}
