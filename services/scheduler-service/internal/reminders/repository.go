package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/jackc/pgx/v5"
)

// Repository is the Postgres Store. Scheduling and closing one appointment
// serialize on an advisory lock so a late booked event cannot revive
// reminders of a cancelled appointment.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) inAppointment(ctx context.Context, appointmentID string, fn func(pgx.Tx) (int, error)) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, appointmentID); err != nil {
		return 0, fmt.Errorf("lock appointment: %w", err)
	}
	n, err := fn(tx)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

func (r *Repository) Schedule(ctx context.Context, appointmentID string, jobs []Job) (int, error) {
	return r.inAppointment(ctx, appointmentID, func(tx pgx.Tx) (int, error) {
		var closed bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM closed_appointments WHERE appointment_id = $1)
		`, appointmentID).Scan(&closed); err != nil {
			return 0, err
		}
		if closed {
			return 0, nil
		}

		inserted := 0
		for _, job := range jobs {
			payload, err := json.Marshal(job.Appointment)
			if err != nil {
				return 0, err
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO reminder_jobs (idempotency_key, appointment_id, offset_minutes, remind_at, appointment, next_run_at, max_attempts, traceparent, tracestate)
				VALUES ($1, $2, $3, $4, $5, $4, $6, $7, $8)
				ON CONFLICT (idempotency_key) DO NOTHING
			`, job.IdempotencyKey, job.AppointmentID, job.OffsetMinutes, job.RemindAt, payload, job.MaxAttempts, job.Trace.Parent, job.Trace.State)
			if err != nil {
				return 0, fmt.Errorf("insert reminder %s: %w", job.IdempotencyKey, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return inserted, nil
	})
}

func (r *Repository) Close(ctx context.Context, appointmentID, status string) (int, error) {
	return r.inAppointment(ctx, appointmentID, func(tx pgx.Tx) (int, error) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO closed_appointments (appointment_id, status)
			VALUES ($1, $2)
			ON CONFLICT (appointment_id) DO NOTHING
		`, appointmentID, status); err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE reminder_jobs
			SET status = 'cancelled', updated_at = now()
			WHERE appointment_id = $1 AND status = 'pending'
		`, appointmentID)
		if err != nil {
			return 0, err
		}
		return int(tag.RowsAffected()), nil
	})
}

func (r *Repository) ProcessDue(ctx context.Context, limit int, backoff time.Duration, handle func(context.Context, Job) error) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := fetchDue(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, tx.Commit(ctx)
	}

	var done []int64
	for _, job := range jobs {
		if err := handle(job.Trace.Attach(ctx), job); err != nil {
			if err := markFailed(ctx, tx, job, time.Now().UTC().Add(backoff), err.Error()); err != nil {
				return 0, err
			}
			continue
		}
		done = append(done, job.ID)
	}
	if err := markProcessed(ctx, tx, done); err != nil {
		return 0, err
	}
	return len(jobs), tx.Commit(ctx)
}

func fetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, appointment_id, offset_minutes, remind_at, appointment, traceparent, tracestate, attempts, max_attempts
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.AppointmentID, &j.OffsetMinutes, &j.RemindAt, &raw,
			&j.Trace.Parent, &j.Trace.State, &j.Attempts, &j.MaxAttempts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &j.Appointment); err != nil {
			return nil, fmt.Errorf("decode reminder %d: %w", j.ID, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func markProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func markFailed(ctx context.Context, tx pgx.Tx, job Job, nextRunAt time.Time, lastError string) error {
	attempts := job.Attempts + 1
	status := "pending"
	if attempts >= job.MaxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2, status = $3, next_run_at = $4, last_error = $5, updated_at = now()
		WHERE id = $1
	`, job.ID, attempts, status, nextRunAt, lastError)
	return err
}

// Pending lists the pending jobs of an appointment, earliest first.
func (r *Repository) Pending(ctx context.Context, appointmentID string) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, idempotency_key, appointment_id, offset_minutes, remind_at, attempts, max_attempts
		FROM reminder_jobs
		WHERE appointment_id = $1 AND status = 'pending'
		ORDER BY remind_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.AppointmentID, &j.OffsetMinutes, &j.RemindAt, &j.Attempts, &j.MaxAttempts); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
