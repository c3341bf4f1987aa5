package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
)

const (
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Delivery is one message of one kind (confirmation, reminder) sent or
// attempted on one channel.
type Delivery struct {
	ID            int64
	AppointmentID string
	EventID       string
	Kind          string
	Channel       string
	Recipient     string
	Status        string
	Provider      string
	ProviderID    string
	ErrorReason   string
	Attempts      int
}

type DeliveriesRepository struct {
	pool *db.Pool
	// stale is how long a "sending" row may sit before another worker may take it over.
	stale time.Duration
}

func NewDeliveriesRepository(pool *db.Pool) *DeliveriesRepository {
	return &DeliveriesRepository{pool: pool, stale: 5 * time.Minute}
}

// Claim reserves the (appointment, kind, channel) triple for sending. It returns 0
// when the confirmation was already sent or another worker is sending it.
// Failed rows are re-claimed with attempts incremented.
func (r *DeliveriesRepository) Claim(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO deliveries (appointment_id, event_id, kind, channel, recipient, status)
		VALUES ($1, $2, $3, $4, $5, 'sending')
		ON CONFLICT (appointment_id, kind, channel) DO UPDATE
		SET status = 'sending',
		    recipient = EXCLUDED.recipient,
		    event_id = EXCLUDED.event_id,
		    attempts = deliveries.attempts + 1,
		    error_reason = '',
		    updated_at = now()
		WHERE deliveries.status = 'failed'
		   OR (deliveries.status = 'sending' AND deliveries.updated_at < now() - make_interval(secs => $6))
		RETURNING id
	`, d.AppointmentID, d.EventID, d.Kind, d.Channel, d.Recipient, r.stale.Seconds()).Scan(&id)
	if db.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("claim delivery: %w", err)
	}
	return id, nil
}

// Finish records the outcome of a claimed delivery.
func (r *DeliveriesRepository) Finish(ctx context.Context, id int64, status, provider, providerID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deliveries
		SET status = $2, provider = $3, provider_id = $4, error_reason = $5, updated_at = now()
		WHERE id = $1
	`, id, status, provider, providerID, reason)
	if err != nil {
		return fmt.Errorf("finish delivery %d: %w", id, err)
	}
	return nil
}

func (r *DeliveriesRepository) ForAppointment(ctx context.Context, appointmentID string) ([]Delivery, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, event_id, kind, channel, recipient, status, provider, provider_id, error_reason, attempts
		FROM deliveries
		WHERE appointment_id = $1
		ORDER BY created_at, kind, channel
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.AppointmentID, &d.EventID, &d.Kind, &d.Channel, &d.Recipient, &d.Status,
			&d.Provider, &d.ProviderID, &d.ErrorReason, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
