package storage

import (
	"context"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/stats"
)

type FactsRepository struct {
	pool *db.Pool
}

func NewFactsRepository(pool *db.Pool) *FactsRepository {
	return &FactsRepository{pool: pool}
}

func (r *FactsRepository) RecordBooked(ctx context.Context, f stats.Fact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_facts (appointment_id, staff_id, service_id, day, channel, status)
		VALUES ($1, $2, $3, $4::date, $5, $6)
		ON CONFLICT (appointment_id) DO UPDATE
		SET staff_id = EXCLUDED.staff_id,
		    service_id = EXCLUDED.service_id,
		    day = EXCLUDED.day,
		    channel = EXCLUDED.channel,
		    status = CASE
		        WHEN appointment_status_rank(appointment_facts.status) > appointment_status_rank(EXCLUDED.status)
		        THEN appointment_facts.status
		        ELSE EXCLUDED.status
		    END,
		    updated_at = now()
	`, f.AppointmentID, f.StaffID, f.ServiceID, f.Day, f.Channel, f.Status)
	return err
}

func (r *FactsRepository) RecordStatus(ctx context.Context, appointmentID, staffID, status string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_facts (appointment_id, staff_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = now()
		WHERE appointment_status_rank(appointment_facts.status) <= appointment_status_rank(EXCLUDED.status)
	`, appointmentID, staffID, status)
	return err
}

func (r *FactsRepository) Daily(ctx context.Context, from, to time.Time, staffID string) ([]stats.DailyRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), staff_id,
		       count(*),
		       count(*) FILTER (WHERE status = 'pending'),
		       count(*) FILTER (WHERE status = 'confirmed'),
		       count(*) FILTER (WHERE status = 'completed'),
		       count(*) FILTER (WHERE status = 'cancelled')
		FROM appointment_facts
		WHERE day BETWEEN $1::date AND $2::date
		  AND ($3::text = '' OR staff_id = $3)
		GROUP BY day, staff_id
		ORDER BY day, staff_id
	`, from.Format("2006-01-02"), to.Format("2006-01-02"), staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stats.DailyRow
	for rows.Next() {
		var row stats.DailyRow
		if err := rows.Scan(&row.Day, &row.StaffID, &row.Booked, &row.Pending, &row.Confirmed, &row.Completed, &row.Cancelled); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
