package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/storage/memstore"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []AppointmentBooked
	statuses []AppointmentStatusChanged
	started chan struct{}
	release chan struct{}
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, ev AppointmentBooked) error {
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, ev AppointmentStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type results struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *results) NotificationResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[result]++
}

func (r *results) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[result]
}

func seededStore() *memstore.Store {
	s := memstore.New()
	s.PutStaff(model.Staff{ID: "s-1", Name: "Ana", Active: true})
	s.PutService(model.Service{ID: "cut", Name: "Haircut", DurationMinutes: 30, Active: true})
	for _, id := range []string{"a-1", "a-2", "a-3"} {
		s.PutAppointment(model.Appointment{
			ID:              id,
			StaffID:         "s-1",
			ServiceID:       "cut",
			Date:            calendar.Date{Year: 2026, Month: time.March, Day: 2},
			StartMinute:     600,
			DurationMinutes: 30,
			Status:          model.StatusPending,
			Channel:         model.ChannelBot,
			Customer:        model.Customer{Name: "Carla", Phone: "+351912345678"},
		})
	}
	return s
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDispatcherPublishesEnrichedEvent(t *testing.T) {
	pub := &recordingPublisher{}
	obs := &results{counts: map[string]int{}}
	loc := time.FixedZone("shop", 3600)
	d := NewDispatcher(seededStore(), pub, quiet, Config{Location: loc}, obs)

	d.Notify(context.Background(), "a-1", map[string]string{"reply_to": "whatsapp:+351912345678"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.EventID == "" || ev.StaffName != "Ana" || ev.ServiceName != "Haircut" || ev.StartTime != "10:00" || ev.Date != "2026-03-02" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.StartsAt.Equal(time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected starts_at %s", ev.StartsAt)
	}
	if ev.Payload["reply_to"] != "whatsapp:+351912345678" {
		t.Fatalf("payload lost: %v", ev.Payload)
	}
	if obs.get(ResultPublished) != 1 {
		t.Fatalf("expected one published result, got %v", obs.counts)
	}

	d.Notify(context.Background(), "a-2", nil)
	if obs.get(ResultDropped) != 1 {
		t.Fatal("notify after close must drop")
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	pub := &recordingPublisher{started: make(chan struct{}, 3), release: make(chan struct{})}
	obs := &results{counts: map[string]int{}}
	d := NewDispatcher(seededStore(), pub, quiet, Config{QueueSize: 1}, obs)

	d.Notify(context.Background(), "a-1", nil)
	<-pub.started // worker is now blocked publishing a-1

	done := make(chan struct{})
	go func() {
		d.Notify(context.Background(), "a-2", nil) // fills the queue
		d.Notify(context.Background(), "a-3", nil) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked")
	}
	if obs.get(ResultDropped) != 1 {
		t.Fatalf("expected one dropped notification, got %v", obs.counts)
	}

	close(pub.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected two published events, got %d", len(pub.events))
	}
}

func TestDispatcherLogsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	obs := &results{counts: map[string]int{}}
	d := NewDispatcher(seededStore(), pub, quiet, Config{}, obs)

	d.Notify(context.Background(), "a-1", nil)
	d.Notify(context.Background(), "missing", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if obs.get(ResultFailed) != 2 {
		t.Fatalf("expected two failures, got %v", obs.counts)
	}
}

func TestDispatcherPublishesStatusChange(t *testing.T) {
	store := seededStore()
	appt, err := store.Appointment(context.Background(), "a-2")
	if err != nil {
		t.Fatalf("Appointment: %v", err)
	}
	appt.Status = model.StatusCancelled
	appt.CancelReason = "customer called"
	store.PutAppointment(appt)

	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, quiet, Config{}, nil)
	d.StatusChanged(context.Background(), "a-2")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if len(pub.events) != 0 || len(pub.statuses) != 1 {
		t.Fatalf("expected one status event only, got %d booked and %d status", len(pub.events), len(pub.statuses))
	}
	ev := pub.statuses[0]
	if ev.EventID == "" || ev.AppointmentID != "a-2" || ev.Status != model.StatusCancelled || ev.Reason != "customer called" {
		t.Fatalf("unexpected status event %+v", ev)
	}
}
