// Package bot runs the WhatsApp booking conversation. The dialog walks the
// customer through service, staff, date, time and name, then books through
// the engine like every other channel.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/availability"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/contact"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/google/uuid"
)

// maxTimeOptions caps the numbered time menu so it fits in one message.
const maxTimeOptions = 12

type Engine interface {
	Services(ctx context.Context) ([]model.Service, error)
	StaffMembers(ctx context.Context) ([]model.Staff, error)
	ComputeSlotsForService(ctx context.Context, staffID, serviceID string, date calendar.Date) ([]availability.Slot, error)
	TryBook(ctx context.Context, req booking.Request) (string, error)
	Today() calendar.Date
}

type Notifier interface {
	Notify(ctx context.Context, appointmentID string, payload map[string]string)
}

// PayloadWhatsAppTo tells the notification service which WhatsApp address to answer.
const PayloadWhatsAppTo = "whatsapp_to"

type Bot struct {
	engine   Engine
	sessions SessionStore
	notifier Notifier
	logger   *slog.Logger
	region   string
}

func New(engine Engine, sessions SessionStore, notifier Notifier, logger *slog.Logger, region string) *Bot {
	return &Bot{engine: engine, sessions: sessions, notifier: notifier, logger: logger, region: region}
}

// Handle advances the conversation of from by one inbound message and
// returns the reply. from is the sender address as delivered by Twilio
// ("whatsapp:+351912345678").
func (b *Bot) Handle(ctx context.Context, from, text string) (string, error) {
	text = strings.TrimSpace(text)
	sess, found, err := b.sessions.Load(ctx, from)
	if err != nil {
		return "", err
	}
	if !found || isRestart(text) {
		sess = Session{ID: uuid.NewString()}
	}

	reply, err := b.step(ctx, from, &sess, text)
	if err != nil {
		return "", err
	}
	if sess.Step == StepStart {
		err = b.sessions.Delete(ctx, from)
	} else {
		err = b.sessions.Save(ctx, from, sess)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (b *Bot) step(ctx context.Context, from string, sess *Session, text string) (string, error) {
	switch sess.Step {
	case StepStart:
		return b.offerServices(ctx, sess, "Hi! What would you like to book?")
	case StepService:
		return b.pickService(ctx, sess, text)
	case StepStaff:
		return b.pickStaff(ctx, sess, text)
	case StepDate:
		return b.pickDate(ctx, sess, text)
	case StepTime:
		return b.pickTime(sess, text)
	case StepName:
		return b.pickName(sess, text)
	case StepConfirm:
		return b.confirm(ctx, from, sess, text)
	}
	*sess = Session{ID: uuid.NewString()}
	return b.offerServices(ctx, sess, "Let's start over. What would you like to book?")
}

func (b *Bot) offerServices(ctx context.Context, sess *Session, greeting string) (string, error) {
	services, err := b.engine.Services(ctx)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	if len(services) == 0 {
		sess.Step = StepStart
		return "Sorry, there is nothing to book right now.", nil
	}
	sess.Step = StepService
	sess.Options = sess.Options[:0]
	var sb strings.Builder
	sb.WriteString(greeting)
	for i, s := range services {
		sess.Options = append(sess.Options, s.ID)
		fmt.Fprintf(&sb, "\n%d. %s (%d min)", i+1, s.Name, s.DurationMinutes)
	}
	sb.WriteString("\nReply with a number.")
	return sb.String(), nil
}

func (b *Bot) pickService(ctx context.Context, sess *Session, text string) (string, error) {
	id, ok := choose(sess.Options, text)
	if !ok {
		return "Please reply with one of the numbers above.", nil
	}
	services, err := b.engine.Services(ctx)
	if err != nil {
		return "", fmt.Errorf("list services: %w", err)
	}
	for _, s := range services {
		if s.ID == id {
			sess.ServiceID, sess.ServiceName = s.ID, s.Name
			return b.offerStaff(ctx, sess)
		}
	}
	return b.offerServices(ctx, sess, "That service is no longer offered. Pick another one:")
}

func (b *Bot) offerStaff(ctx context.Context, sess *Session) (string, error) {
	staff, err := b.engine.StaffMembers(ctx)
	if err != nil {
		return "", fmt.Errorf("list staff: %w", err)
	}
	if len(staff) == 0 {
		sess.Step = StepStart
		return "Sorry, nobody is taking bookings right now.", nil
	}
	sess.Step = StepStaff
	sess.Options = sess.Options[:0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "Who would you like for your %s?", sess.ServiceName)
	for i, s := range staff {
		sess.Options = append(sess.Options, s.ID+"|"+s.Name)
		fmt.Fprintf(&sb, "\n%d. %s", i+1, s.Name)
	}
	sb.WriteString("\nReply with a number.")
	return sb.String(), nil
}

func (b *Bot) pickStaff(_ context.Context, sess *Session, text string) (string, error) {
	opt, ok := choose(sess.Options, text)
	if !ok {
		return "Please reply with one of the numbers above.", nil
	}
	sess.StaffID, sess.StaffName, _ = strings.Cut(opt, "|")
	sess.Step = StepDate
	sess.Options = nil
	return fmt.Sprintf("Which day would you like to see %s? Reply with a date like %s, or \"today\" or \"tomorrow\".",
		sess.StaffName, b.engine.Today().AddDays(1)), nil
}

func (b *Bot) pickDate(ctx context.Context, sess *Session, text string) (string, error) {
	date, ok := b.parseDay(text)
	if !ok {
		return "I didn't get that date. Please use the format YYYY-MM-DD.", nil
	}
	sess.Date = date
	return b.offerTimes(ctx, sess, "")
}

func (b *Bot) offerTimes(ctx context.Context, sess *Session, prefix string) (string, error) {
	slots, err := b.engine.ComputeSlotsForService(ctx, sess.StaffID, sess.ServiceID, sess.Date)
	if err != nil {
		var be *booking.Error
		if errors.As(err, &be) {
			sess.Step = StepDate
			return prefix + describe(be) + " Please pick another day.", nil
		}
		return "", err
	}
	if len(slots) == 0 {
		sess.Step = StepDate
		return fmt.Sprintf("%s%s has no free times on %s. Please pick another day.", prefix, sess.StaffName, sess.Date), nil
	}

	sess.Step = StepTime
	sess.Options = sess.Options[:0]
	var sb strings.Builder
	fmt.Fprintf(&sb, "%sFree times with %s on %s:", prefix, sess.StaffName, sess.Date)
	for i, s := range spread(slots, maxTimeOptions) {
		sess.Options = append(sess.Options, strconv.Itoa(s.StartMinute))
		fmt.Fprintf(&sb, "\n%d. %s", i+1, calendar.FormatClock(s.StartMinute))
	}
	sb.WriteString("\nReply with a number or a time like 10:30.")
	return sb.String(), nil
}

func (b *Bot) pickTime(sess *Session, text string) (string, error) {
	opt, ok := choose(sess.Options, text)
	if !ok {
		// Accept a typed time when it was on offer.
		m, err := calendar.ParseClock(text)
		if err != nil || !contains(sess.Options, strconv.Itoa(m)) {
			return "Please reply with one of the numbers above.", nil
		}
		opt = strconv.Itoa(m)
	}
	sess.StartMinute, _ = strconv.Atoi(opt)
	sess.Step = StepName
	sess.Options = nil
	return "What name should we put the booking under?", nil
}

func (b *Bot) pickName(sess *Session, text string) (string, error) {
	name := strings.Join(strings.Fields(text), " ")
	if name == "" {
		return "What name should we put the booking under?", nil
	}
	sess.Name = name
	sess.Step = StepConfirm
	return fmt.Sprintf("Book %s with %s on %s at %s for %s? Reply YES to confirm or NO to cancel.",
		sess.ServiceName, sess.StaffName, sess.Date, calendar.FormatClock(sess.StartMinute), sess.Name), nil
}

func (b *Bot) confirm(ctx context.Context, from string, sess *Session, text string) (string, error) {
	switch strings.ToLower(text) {
	case "yes", "y", "sim", "s":
	case "no", "n", "nao", "não":
		*sess = Session{}
		return "No problem, nothing was booked. Send any message to start again.", nil
	default:
		return "Please reply YES to confirm or NO to cancel.", nil
	}

	phone, err := contact.NormalizePhone(strings.TrimPrefix(from, "whatsapp:"), b.region)
	if err != nil {
		b.logger.Warn("bot sender has no usable phone number", "from", from, "err", err)
	}
	id, err := b.engine.TryBook(ctx, booking.Request{
		StaffID:     sess.StaffID,
		ServiceID:   sess.ServiceID,
		Date:        sess.Date,
		StartMinute: sess.StartMinute,
		Customer:    model.Customer{Name: sess.Name, Phone: phone},
		Channel:     model.ChannelBot,
		// Stable for the whole session so a YES resent after a failure
		// cannot book twice.
		IdempotencyKey: "bot:" + sess.ID,
	})
	if err != nil {
		var be *booking.Error
		switch {
		case booking.IsSlotTaken(err):
			return b.offerTimes(ctx, sess, "Sorry, that time was just taken. ")
		case errors.As(err, &be):
			*sess = Session{}
			return describe(be) + " Send any message to start again.", nil
		default:
			b.logger.Error("bot booking failed", "session_id", sess.ID, "err", err)
			return "We couldn't confirm your booking right now. Reply YES to try again in a moment.", nil
		}
	}

	b.notifier.Notify(ctx, id, map[string]string{PayloadWhatsAppTo: from})
	reply := fmt.Sprintf("Done! %s with %s on %s at %s is booked. We'll confirm it shortly.",
		sess.ServiceName, sess.StaffName, sess.Date, calendar.FormatClock(sess.StartMinute))
	*sess = Session{}
	return reply, nil
}

func (b *Bot) parseDay(text string) (calendar.Date, bool) {
	switch strings.ToLower(text) {
	case "today", "hoje":
		return b.engine.Today(), true
	case "tomorrow", "amanha", "amanhã":
		return b.engine.Today().AddDays(1), true
	}
	d, err := calendar.ParseDate(text)
	return d, err == nil
}

func describe(be *booking.Error) string {
	switch be.Kind {
	case booking.KindPastOrOutOfRange:
		return "That day can't be booked."
	case booking.KindStaffNotBookable:
		return "That person isn't working that day."
	case booking.KindInvalidService:
		return "That service is no longer offered."
	}
	return "That time isn't available."
}

func isRestart(text string) bool {
	switch strings.ToLower(text) {
	case "menu", "restart", "start", "reset", "cancel":
		return true
	}
	return false
}

// choose resolves a 1-based menu number.
func choose(options []string, text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(text, "."))
	if err != nil || n < 1 || n > len(options) {
		return "", false
	}
	return options[n-1], true
}

func contains(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// spread picks at most n slots evenly across the day.
func spread(slots []availability.Slot, n int) []availability.Slot {
	if len(slots) <= n {
		return slots
	}
	out := make([]availability.Slot, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, slots[i*len(slots)/n])
	}
	return out
}
