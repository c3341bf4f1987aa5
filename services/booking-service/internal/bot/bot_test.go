package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/storage/memstore"
	"github.com/redis/go-redis/v9"
)

var monday = calendar.Date{Year: 2026, Month: time.March, Day: 2}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []map[string]string
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, payload map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads = append(n.payloads, payload)
}

func newEngine(t *testing.T) (*booking.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutStaff(model.Staff{ID: "ana", Name: "Ana", Active: true})
	store.PutStaff(model.Staff{ID: "joel", Name: "Joel", Active: false})
	store.PutService(model.Service{ID: "cut", Name: "Haircut", DurationMinutes: 30, Active: true})
	store.PutService(model.Service{ID: "beard", Name: "Beard trim", DurationMinutes: 20, Active: true})
	store.PutSchedule(schedule.Model{
		StaffID:   "ana",
		WorkHours: []schedule.WorkHourRule{{StaffID: "ana", Weekday: time.Monday, Start: 9 * 60, End: 11 * 60}},
	})
	now := time.Date(2026, time.March, 1, 8, 0, 0, 0, time.UTC)
	engine := booking.NewEngine(store, booking.Config{Location: time.UTC, Now: func() time.Time { return now }},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return engine, store
}

func newBot(engine Engine, notifier Notifier) *Bot {
	return New(engine, NewMemorySessionStore(time.Hour), notifier, slog.New(slog.NewTextHandler(io.Discard, nil)), "PT")
}

func say(t *testing.T, b *Bot, from, text string) string {
	t.Helper()
	reply, err := b.Handle(context.Background(), from, text)
	if err != nil {
		t.Fatalf("Handle(%q): %v", text, err)
	}
	return reply
}

func expect(t *testing.T, reply, want string) {
	t.Helper()
	if !strings.Contains(reply, want) {
		t.Fatalf("expected reply containing %q, got %q", want, reply)
	}
}

// walkToConfirm drives a conversation up to the confirmation question for
// Haircut with Ana tomorrow at the first offered time.
func walkToConfirm(t *testing.T, b *Bot, from string) {
	t.Helper()
	expect(t, say(t, b, from, "hi"), "2. Haircut (30 min)")
	expect(t, say(t, b, from, "2"), "1. Ana")
	expect(t, say(t, b, from, "1"), "Which day")
	reply := say(t, b, from, "tomorrow")
	expect(t, reply, "Free times with Ana on 2026-03-02")
	expect(t, reply, "7. 10:30")
	expect(t, say(t, b, from, "09:00"), "What name")
	expect(t, say(t, b, from, "  Carla  Sousa "), "Book Haircut with Ana on 2026-03-02 at 09:00 for Carla Sousa?")
}

func TestConversationBooks(t *testing.T) {
	engine, store := newEngine(t)
	notifier := &recordingNotifier{}
	b := newBot(engine, notifier)
	from := "whatsapp:+351912345678"

	walkToConfirm(t, b, from)
	expect(t, say(t, b, from, "maybe"), "Please reply YES")
	expect(t, say(t, b, from, "YES"), "is booked")

	appts, _ := store.Appointments(context.Background(), "ana", monday)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment, got %d", len(appts))
	}
	a := appts[0]
	if a.Channel != model.ChannelBot || a.Status != model.StatusPending || a.Customer.Phone != "+351912345678" || a.Customer.Name != "Carla Sousa" {
		t.Fatalf("unexpected appointment %+v", a)
	}
	if len(notifier.payloads) != 1 || notifier.payloads[0][PayloadWhatsAppTo] != from {
		t.Fatalf("unexpected notifications %v", notifier.payloads)
	}

	// The session is gone; the next message starts over.
	expect(t, say(t, b, from, "thanks"), "What would you like to book?")
}

func TestTakenSlotIsReoffered(t *testing.T) {
	engine, store := newEngine(t)
	b := newBot(engine, &recordingNotifier{})

	walkToConfirm(t, b, "whatsapp:+351911111111")
	walkToConfirm(t, b, "whatsapp:+351922222222")
	expect(t, say(t, b, "whatsapp:+351911111111", "yes"), "is booked")

	reply := say(t, b, "whatsapp:+351922222222", "yes")
	expect(t, reply, "that time was just taken")
	if strings.Contains(reply, " 09:00") {
		t.Fatalf("taken time offered again: %q", reply)
	}
	expect(t, say(t, b, "whatsapp:+351922222222", "1"), "What name")

	appts, _ := store.Appointments(context.Background(), "ana", monday)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment, got %d", len(appts))
	}
}

type flakyEngine struct {
	*booking.Engine
	failures int
}

func (f *flakyEngine) TryBook(ctx context.Context, req booking.Request) (string, error) {
	id, err := f.Engine.TryBook(ctx, req)
	if f.failures > 0 {
		f.failures--
		return "", errors.New("connection reset")
	}
	return id, err
}

func TestRetryAfterFaultDoesNotDoubleBook(t *testing.T) {
	engine, store := newEngine(t)
	b := newBot(&flakyEngine{Engine: engine, failures: 1}, &recordingNotifier{})
	from := "whatsapp:+351912345678"

	walkToConfirm(t, b, from)
	expect(t, say(t, b, from, "yes"), "Reply YES to try again")
	expect(t, say(t, b, from, "yes"), "is booked")

	appts, _ := store.Appointments(context.Background(), "ana", monday)
	if len(appts) != 1 {
		t.Fatalf("expected one appointment after retry, got %d", len(appts))
	}
}

func TestDateErrorsKeepAsking(t *testing.T) {
	engine, _ := newEngine(t)
	b := newBot(engine, &recordingNotifier{})
	from := "whatsapp:+351912345678"

	say(t, b, from, "hi")
	say(t, b, from, "2")
	say(t, b, from, "1")
	expect(t, say(t, b, from, "next week"), "YYYY-MM-DD")
	expect(t, say(t, b, from, "2026-02-23"), "can't be booked")
	expect(t, say(t, b, from, "2026-03-03"), "has no free times on 2026-03-03")
	expect(t, say(t, b, from, "menu"), "What would you like to book?")
}

func TestRedisSessionStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := NewRedisSessionStore(rdb, 30*time.Minute, "")
	ctx := context.Background()

	if _, found, err := store.Load(ctx, "k"); err != nil || found {
		t.Fatalf("expected empty store, found=%v err=%v", found, err)
	}
	in := Session{ID: "s1", Step: StepTime, StaffID: "ana", Date: monday, Options: []string{"540", "555"}}
	if err := store.Save(ctx, "k", in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, found, err := store.Load(ctx, "k")
	if err != nil || !found || out.Date != monday || out.Step != StepTime || len(out.Options) != 2 {
		t.Fatalf("unexpected session %+v found=%v err=%v", out, found, err)
	}
	if ttl := mr.TTL("bot:session:k"); ttl != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %s", ttl)
	}

	mr.FastForward(31 * time.Minute)
	if _, found, _ := store.Load(ctx, "k"); found {
		t.Fatal("expected session to expire")
	}
}

func TestConversationWithRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	engine, _ := newEngine(t)
	b := New(engine, NewRedisSessionStore(rdb, time.Hour, ""), &recordingNotifier{}, slog.New(slog.NewTextHandler(io.Discard, nil)), "PT")

	walkToConfirm(t, b, "whatsapp:+351912345678")
	expect(t, say(t, b, "whatsapp:+351912345678", "yes"), "is booked")
	if mr.Exists("bot:session:whatsapp:+351912345678") {
		t.Fatal("expected session to be deleted after booking")
	}
}
