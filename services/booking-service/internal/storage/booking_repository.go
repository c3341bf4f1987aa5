// Package storage is the PostgreSQL implementation of booking.Store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type BookingRepository struct {
	pool *db.Pool
}

var _ booking.Store = (*BookingRepository)(nil)

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

const appointmentColumns = `
	id::text, staff_id, service_id, day, start_minute, duration_minutes, status, channel,
	customer_name, customer_phone, customer_email, customer_notes,
	COALESCE(idempotency_key, ''), created_at, cancelled_at, COALESCE(cancellation_reason, '')`

// InStaffDay serializes every unit of work for (staffID, date) behind a
// transaction-scoped advisory lock. The transaction must stay READ COMMITTED:
// reads fn makes after the lock is granted have to see what the previous
// holder committed. The exclusion constraint on appointments is the last line
// if a writer bypasses the lock.
func (r *BookingRepository) InStaffDay(ctx context.Context, staffID string, date calendar.Date, fn func(context.Context, booking.DayTx) error) error {
	tx, err := r.pool.BeginReadCommitted(ctx)
	if err != nil {
		return fmt.Errorf("begin booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtext($1), ($2::date - DATE '2000-01-01'))
	`, staffID, dateArg(date)); err != nil {
		return classify(fmt.Errorf("lock staff day: %w", err))
	}

	if err := fn(ctx, &dayTx{q: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit booking tx: %w", err))
	}
	return nil
}

func (r *BookingRepository) UpdateAppointment(ctx context.Context, id string, fn func(model.Appointment) (model.Appointment, error)) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
		}
		return model.Appointment{}, err
	}

	next, err := fn(cur)
	if err != nil {
		return model.Appointment{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			cancelled_at = $3,
			cancellation_reason = NULLIF($4, '')
		WHERE id::text = $1
	`, id, string(next.Status), next.CancelledAt, next.CancelReason)
	if err != nil {
		return model.Appointment{}, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, classify(err)
	}
	next.ID = cur.ID
	return next, nil
}

func (r *BookingRepository) Appointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error) {
	return listDay(ctx, r.pool, staffID, date)
}

func (r *BookingRepository) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id::text = $1
	`, id))
	if err != nil {
		if db.IsNotFound(err) {
			return model.Appointment{}, fmt.Errorf("appointment %s: %w", id, booking.ErrNotFound)
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

type dayTx struct {
	q querier
}

func (t *dayTx) Schedule(ctx context.Context, staffID string) (schedule.Model, error) {
	return loadSchedule(ctx, t.q, staffID)
}

func (t *dayTx) Appointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error) {
	return listDay(ctx, t.q, staffID, date)
}

func (r *BookingRepository) AppointmentByIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	return findByKey(ctx, r.pool, key)
}

func (t *dayTx) FindByIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	return findByKey(ctx, t.q, key)
}

func findByKey(ctx context.Context, q querier, key string) (string, bool, error) {
	var id string
	err := q.QueryRow(ctx, `
		SELECT id::text FROM appointments WHERE idempotency_key = $1
	`, key).Scan(&id)
	if err != nil {
		if db.IsNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, true, nil
}

func (t *dayTx) Insert(ctx context.Context, a *model.Appointment) error {
	var key *string
	if a.IdempotencyKey != "" {
		key = &a.IdempotencyKey
	}
	return t.q.QueryRow(ctx, `
		INSERT INTO appointments
			(staff_id, service_id, day, start_minute, duration_minutes, status, channel,
			 customer_name, customer_phone, customer_email, customer_notes, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id::text, created_at
	`, a.StaffID, a.ServiceID, dateArg(a.Date), a.StartMinute, a.DurationMinutes, string(a.Status), string(a.Channel),
		a.Customer.Name, a.Customer.Phone, a.Customer.Email, a.Customer.Notes, key).Scan(&a.ID, &a.CreatedAt)
}

func listDay(ctx context.Context, q querier, staffID string, date calendar.Date) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE staff_id = $1 AND day = $2
		ORDER BY start_minute ASC, created_at ASC
	`, staffID, dateArg(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		appt        model.Appointment
		day         time.Time
		status      string
		channel     string
		cancelledAt *time.Time
	)
	err := row.Scan(
		&appt.ID,
		&appt.StaffID,
		&appt.ServiceID,
		&day,
		&appt.StartMinute,
		&appt.DurationMinutes,
		&status,
		&channel,
		&appt.Customer.Name,
		&appt.Customer.Phone,
		&appt.Customer.Email,
		&appt.Customer.Notes,
		&appt.IdempotencyKey,
		&appt.CreatedAt,
		&cancelledAt,
		&appt.CancelReason,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Date = calendar.DateOf(day)
	appt.Status = model.Status(status)
	appt.Channel = model.Channel(channel)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

// dateArg encodes a civil date for a DATE column.
func dateArg(d calendar.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// classify turns constraint and serialization failures into
// booking.ErrWriteConflict and leaves everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *booking.Error
	if errors.As(err, &be) {
		return err
	}
	if db.IsSerializationFailure(err) || db.IsExclusionViolation(err) || db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", booking.ErrWriteConflict, err)
	}
	return err
}
