package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/barberdesk/barberdesk/libs/events"
	otelx "github.com/barberdesk/barberdesk/libs/otel"
)

// Job is a reminder waiting to be published.
type Job struct {
	ID             int64
	IdempotencyKey string
	AppointmentID  string
	OffsetMinutes  int
	RemindAt       time.Time
	Appointment    events.AppointmentBooked
	Trace          otelx.TraceContext
	Attempts       int
	MaxAttempts    int
}

// Store persists reminder jobs.
type Store interface {
	// Schedule inserts jobs unless the appointment is closed. Known jobs are kept.
	Schedule(ctx context.Context, appointmentID string, jobs []Job) (int, error)
	// Close marks the appointment closed and cancels its pending jobs.
	Close(ctx context.Context, appointmentID, status string) (int, error)
	// ProcessDue hands due jobs to handle inside one transaction. A job whose
	// handle fails is retried after backoff until it runs out of attempts.
	ProcessDue(ctx context.Context, limit int, backoff time.Duration, handle func(context.Context, Job) error) (int, error)
}

type Config struct {
	Offsets     []time.Duration
	MaxAttempts int
}

// Scheduler turns booking events into reminder jobs.
type Scheduler struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewScheduler(store Store, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Scheduler{store: store, logger: logger, cfg: cfg, now: time.Now}
}

// Booked schedules the reminders of a new appointment.
func (s *Scheduler) Booked(ctx context.Context, ev events.AppointmentBooked) error {
	if ev.StartsAt.IsZero() {
		s.logger.Warn("booked event without starts_at; no reminders", "appointment_id", ev.AppointmentID)
		return nil
	}
	planned := Plan(ev.StartsAt, s.now(), s.cfg.Offsets)
	if len(planned) == 0 {
		s.logger.Info("appointment too close for reminders", "appointment_id", ev.AppointmentID)
		return nil
	}
	trace := otelx.Capture(ctx)
	jobs := make([]Job, 0, len(planned))
	for _, p := range planned {
		mins := int(p.Offset / time.Minute)
		jobs = append(jobs, Job{
			IdempotencyKey: fmt.Sprintf("%s|%d", ev.AppointmentID, mins),
			AppointmentID:  ev.AppointmentID,
			OffsetMinutes:  mins,
			RemindAt:       p.RemindAt,
			Appointment:    ev,
			Trace:          trace,
			MaxAttempts:    s.cfg.MaxAttempts,
		})
	}
	n, err := s.store.Schedule(ctx, ev.AppointmentID, jobs)
	if err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	s.logger.Info("reminders scheduled", "appointment_id", ev.AppointmentID, "count", n)
	return nil
}

// StatusChanged cancels pending reminders once an appointment is cancelled or completed.
func (s *Scheduler) StatusChanged(ctx context.Context, ev events.AppointmentStatusChanged) error {
	if !ev.Closed() {
		return nil
	}
	n, err := s.store.Close(ctx, ev.AppointmentID, ev.Status)
	if err != nil {
		return fmt.Errorf("cancel reminders: %w", err)
	}
	s.logger.Info("reminders cancelled", "appointment_id", ev.AppointmentID, "status", ev.Status, "count", n)
	return nil
}
