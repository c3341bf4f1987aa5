package reminders

import (
	"context"
	"log/slog"
	"time"

	"github.com/barberdesk/barberdesk/libs/events"
)

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

// Worker polls for due reminder jobs and publishes them.
type Worker struct {
	store  Store
	pub    Publisher
	logger *slog.Logger
	cfg    WorkerConfig
	now    func() time.Time
}

func NewWorker(store Store, pub Publisher, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{store: store, pub: pub, logger: logger, cfg: cfg, now: time.Now}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

// RunOnce processes one batch and returns how many jobs it settled.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	return w.store.ProcessDue(ctx, w.cfg.BatchSize, w.cfg.Backoff, w.publish)
}

func (w *Worker) publish(ctx context.Context, job Job) error {
	if !job.Appointment.StartsAt.IsZero() && !job.Appointment.StartsAt.After(w.now()) {
		w.logger.Warn("reminder expired before it could be sent", "appointment_id", job.AppointmentID, "offset_minutes", job.OffsetMinutes)
		return nil
	}
	err := w.pub.PublishReminder(ctx, events.ReminderDue{
		// Stable across retries so consumers de-duplicate repeated publishes.
		EventID:       job.IdempotencyKey,
		AppointmentID: job.AppointmentID,
		OffsetMinutes: job.OffsetMinutes,
		RemindAt:      job.RemindAt,
		Appointment:   job.Appointment,
	})
	if err != nil {
		w.logger.Warn("reminder publish failed", "appointment_id", job.AppointmentID, "attempt", job.Attempts+1, "err", err)
		return err
	}
	return nil
}
