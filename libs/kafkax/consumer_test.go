package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	select {
	case <-r.drained:
	default:
		close(r.drained)
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type memInbox struct {
	mu        sync.Mutex
	seen      map[string]bool
	forgotten []string
	failFirst int
}

func (m *memInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFirst > 0 {
		m.failFirst--
		return false, errors.New("db down")
	}
	if m.seen[eventID] {
		return false, nil
	}
	m.seen[eventID] = true
	return true, nil
}

func (m *memInbox) Forget(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, eventID)
	m.forgotten = append(m.forgotten, eventID)
	return nil
}

func message(offset int64, eventID string) kafka.Message {
	return kafka.Message{
		Topic:   "booking.appointment.booked.v1",
		Offset:  offset,
		Value:   []byte(eventID),
		Headers: EventMeta{EventID: eventID, EventType: "booking.appointment.booked.v1"}.Headers(context.Background()),
	}
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the reader")
	}
	cancel()
	<-done
}

func TestConsumerSkipsDuplicates(t *testing.T) {
	r := newFakeReader(message(1, "evt-1"), message(2, "evt-1"), message(3, "evt-2"))
	inbox := &memInbox{seen: map[string]bool{}, failFirst: 1}
	var handled []string
	c := NewConsumerWithReader(r, slog.New(slog.NewTextHandler(io.Discard, nil)), inbox,
		ConsumerConfig{Backoff: time.Millisecond},
		func(_ context.Context, msg kafka.Message) error {
			handled = append(handled, string(msg.Value))
			return nil
		})

	runUntilDrained(t, c, r)

	if len(handled) != 2 || handled[0] != "evt-1" || handled[1] != "evt-2" {
		t.Fatalf("expected evt-1 and evt-2 handled once, got %v", handled)
	}
	if len(r.committed) != 3 {
		t.Fatalf("expected every offset committed, got %v", r.committed)
	}
	if !r.closed {
		t.Fatal("reader not closed")
	}
}

func TestConsumerGivesUpAfterMaxAttempts(t *testing.T) {
	r := newFakeReader(message(7, "evt-9"))
	inbox := &memInbox{seen: map[string]bool{}}
	attempts := 0
	c := NewConsumerWithReader(r, slog.New(slog.NewTextHandler(io.Discard, nil)), inbox,
		ConsumerConfig{MaxAttempts: 3, Backoff: time.Millisecond},
		func(context.Context, kafka.Message) error {
			attempts++
			return errors.New("provider down")
		})

	runUntilDrained(t, c, r)

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(inbox.forgotten) != 1 || inbox.forgotten[0] != "evt-9" {
		t.Fatalf("expected evt-9 forgotten, got %v", inbox.forgotten)
	}
	if len(r.committed) != 1 || r.committed[0] != 7 {
		t.Fatalf("expected offset 7 committed, got %v", r.committed)
	}
}

func TestBackoff(t *testing.T) {
	if backoff(time.Second, 1) != time.Second || backoff(time.Second, 3) != 4*time.Second {
		t.Fatal("unexpected backoff growth")
	}
	if backoff(time.Second, 40) != 30*time.Second {
		t.Fatal("expected backoff capped at 30s")
	}
}
