// Package notify hands booking confirmations to the notification service.
// Nothing here can delay or fail a booking: Notify never blocks and errors
// are only logged.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	otelx "github.com/barberdesk/barberdesk/libs/otel"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/google/uuid"
)

// Lookup resolves the records an event is rendered from.
type Lookup interface {
	Appointment(ctx context.Context, id string) (model.Appointment, error)
	Staff(ctx context.Context, staffID string) (model.Staff, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

type Publisher interface {
	Publish(ctx context.Context, ev AppointmentBooked) error
	PublishStatusChanged(ctx context.Context, ev AppointmentStatusChanged) error
	Close() error
}

// Observer counts notification results.
type Observer interface {
	NotificationResult(result string)
}

const (
	ResultPublished = "published"
	ResultDropped   = "dropped"
	ResultFailed    = "failed"
)

type Config struct {
	QueueSize      int
	PublishTimeout time.Duration
	Location       *time.Location
}

type jobKind int

const (
	kindBooked jobKind = iota
	kindStatusChanged
)

type job struct {
	kind          jobKind
	appointmentID string
	payload       map[string]string
	trace         otelx.TraceContext
}

type Dispatcher struct {
	lookup   Lookup
	pub      Publisher
	logger   *slog.Logger
	observer Observer
	cfg      Config
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan job
	done   chan struct{}
}

func NewDispatcher(lookup Lookup, pub Publisher, logger *slog.Logger, cfg Config, observer Observer) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	d := &Dispatcher{
		lookup:   lookup,
		pub:      pub,
		logger:   logger,
		observer: observer,
		cfg:      cfg,
		now:      time.Now,
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify queues a confirmation for appointmentID. payload carries
// channel-specific hints such as the WhatsApp number to answer. When the queue
// is full the notification is dropped.
func (d *Dispatcher) Notify(ctx context.Context, appointmentID string, payload map[string]string) {
	d.enqueue(job{kind: kindBooked, appointmentID: appointmentID, payload: payload, trace: otelx.Capture(ctx)})
}

// StatusChanged queues a status event for appointmentID with the same
// non-blocking semantics as Notify.
func (d *Dispatcher) StatusChanged(ctx context.Context, appointmentID string) {
	d.enqueue(job{kind: kindStatusChanged, appointmentID: appointmentID, trace: otelx.Capture(ctx)})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.record(ResultDropped)
		d.logger.Warn("notification dropped after shutdown", "appointment_id", j.appointmentID)
		return
	}
	select {
	case d.queue <- j:
	default:
		d.record(ResultDropped)
		d.logger.Warn("notification queue full; dropping", "appointment_id", j.appointmentID)
	}
}

// Close stops accepting work and waits for queued notifications until ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	var err error
	select {
	case <-d.done:
	case <-ctx.Done():
		err = fmt.Errorf("notification queue not drained: %w", ctx.Err())
	}
	return errors.Join(err, d.pub.Close())
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.trace.Attach(context.Background()), d.cfg.PublishTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case kindStatusChanged:
		err = d.publishStatus(ctx, j)
	default:
		err = d.publishBooked(ctx, j)
	}
	if err != nil {
		d.record(ResultFailed)
		d.logger.Error("booking notification failed", "appointment_id", j.appointmentID, "err", err)
		return
	}
	d.record(ResultPublished)
	d.logger.Debug("booking notification published", "appointment_id", j.appointmentID)
}

func (d *Dispatcher) publishBooked(ctx context.Context, j job) error {
	ev, err := d.build(ctx, j)
	if err != nil {
		return err
	}
	return d.pub.Publish(ctx, ev)
}

func (d *Dispatcher) publishStatus(ctx context.Context, j job) error {
	appt, err := d.lookup.Appointment(ctx, j.appointmentID)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	return d.pub.PublishStatusChanged(ctx, AppointmentStatusChanged{
		EventID:       uuid.NewString(),
		AppointmentID: appt.ID,
		StaffID:       appt.StaffID,
		Status:        appt.Status,
		Reason:        appt.CancelReason,
		OccurredAt:    d.now().UTC(),
	})
}

func (d *Dispatcher) build(ctx context.Context, j job) (AppointmentBooked, error) {
	appt, err := d.lookup.Appointment(ctx, j.appointmentID)
	if err != nil {
		return AppointmentBooked{}, fmt.Errorf("load appointment: %w", err)
	}
	staff, err := d.lookup.Staff(ctx, appt.StaffID)
	if err != nil {
		return AppointmentBooked{}, fmt.Errorf("load staff: %w", err)
	}
	svc, err := d.lookup.Service(ctx, appt.ServiceID)
	if err != nil {
		return AppointmentBooked{}, fmt.Errorf("load service: %w", err)
	}
	return newAppointmentBooked(uuid.NewString(), appt, staff, svc, d.cfg.Location, j.payload, d.now()), nil
}

func (d *Dispatcher) record(result string) {
	if d.observer != nil {
		d.observer.NotificationResult(result)
	}
}
