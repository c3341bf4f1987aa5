package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/seed"
)

func (r *BookingRepository) Staff(ctx context.Context, staffID string) (model.Staff, error) {
	var st model.Staff
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, active FROM staff WHERE id = $1
	`, staffID).Scan(&st.ID, &st.Name, &st.Active)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Staff{}, fmt.Errorf("staff %s: %w", staffID, booking.ErrNotFound)
		}
		return model.Staff{}, err
	}
	return st, nil
}

func (r *BookingRepository) Service(ctx context.Context, serviceID string) (model.Service, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, price_cents, active FROM services WHERE id = $1
	`, serviceID).Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents, &svc.Active)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Service{}, fmt.Errorf("service %s: %w", serviceID, booking.ErrNotFound)
		}
		return model.Service{}, err
	}
	return svc, nil
}

func (r *BookingRepository) ListStaff(ctx context.Context) ([]model.Staff, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, active FROM staff ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Staff
	for rows.Next() {
		var st model.Staff
		if err := rows.Scan(&st.ID, &st.Name, &st.Active); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *BookingRepository) ListServices(ctx context.Context) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, duration_minutes, price_cents, active FROM services ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.PriceCents, &svc.Active); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (r *BookingRepository) Schedule(ctx context.Context, staffID string) (schedule.Model, error) {
	return loadSchedule(ctx, r.pool, staffID)
}

func loadSchedule(ctx context.Context, q querier, staffID string) (schedule.Model, error) {
	m := schedule.Model{StaffID: staffID}

	work, err := loadWeekly(ctx, q, "work_hour_rules", staffID)
	if err != nil {
		return schedule.Model{}, fmt.Errorf("load work hours: %w", err)
	}
	for _, w := range work {
		m.WorkHours = append(m.WorkHours, schedule.WorkHourRule{StaffID: staffID, Weekday: w.weekday, Start: w.start, End: w.end})
	}

	breaks, err := loadWeekly(ctx, q, "break_rules", staffID)
	if err != nil {
		return schedule.Model{}, fmt.Errorf("load breaks: %w", err)
	}
	for _, b := range breaks {
		m.Breaks = append(m.Breaks, schedule.BreakRule{StaffID: staffID, Weekday: b.weekday, Start: b.start, End: b.end})
	}

	rows, err := q.Query(ctx, `
		SELECT day, is_closed, start_minute, end_minute
		FROM schedule_exceptions
		WHERE staff_id = $1
		ORDER BY day, id
	`, staffID)
	if err != nil {
		return schedule.Model{}, fmt.Errorf("load exceptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			day time.Time
			ex  = schedule.Exception{StaffID: staffID}
		)
		if err := rows.Scan(&day, &ex.Closed, &ex.Start, &ex.End); err != nil {
			return schedule.Model{}, err
		}
		ex.Date = calendar.DateOf(day)
		m.Exceptions = append(m.Exceptions, ex)
	}
	if rows.Err() != nil {
		return schedule.Model{}, rows.Err()
	}
	return m, nil
}

type weeklyRow struct {
	weekday time.Weekday
	start   int
	end     int
}

// loadWeekly reads work_hour_rules or break_rules; both share one shape.
func loadWeekly(ctx context.Context, q querier, table, staffID string) ([]weeklyRow, error) {
	rows, err := q.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM `+table+`
		WHERE staff_id = $1
		ORDER BY weekday, start_minute
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []weeklyRow
	for rows.Next() {
		var (
			weekday int16
			row     weeklyRow
		)
		if err := rows.Scan(&weekday, &row.start, &row.end); err != nil {
			return nil, err
		}
		row.weekday = time.Weekday(weekday)
		out = append(out, row)
	}
	return out, rows.Err()
}

// ApplySeed upserts the catalog and replaces the schedule rules of every
// staff member named in s. Appointments are left alone.
func (r *BookingRepository) ApplySeed(ctx context.Context, s seed.Seed) error {
	schedules, err := s.Schedules()
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, st := range s.Staff {
		if _, err := tx.Exec(ctx, `
			INSERT INTO staff (id, name, active) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
		`, st.ID, st.Name, st.Active); err != nil {
			return fmt.Errorf("upsert staff %s: %w", st.ID, err)
		}
	}
	for _, svc := range s.Services {
		if _, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, duration_minutes, price_cents, active) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name,
				duration_minutes = EXCLUDED.duration_minutes,
				price_cents = EXCLUDED.price_cents,
				active = EXCLUDED.active
		`, svc.ID, svc.Name, svc.DurationMinutes, svc.PriceCents, svc.Active); err != nil {
			return fmt.Errorf("upsert service %s: %w", svc.ID, err)
		}
	}

	for _, st := range s.Staff {
		for _, table := range []string{"work_hour_rules", "break_rules", "schedule_exceptions"} {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE staff_id = $1`, st.ID); err != nil {
				return fmt.Errorf("reset %s for %s: %w", table, st.ID, err)
			}
		}
		m := schedules[st.ID]
		for _, w := range m.WorkHours {
			if _, err := tx.Exec(ctx, `
				INSERT INTO work_hour_rules (staff_id, weekday, start_minute, end_minute) VALUES ($1, $2, $3, $4)
			`, st.ID, int16(w.Weekday), w.Start, w.End); err != nil {
				return fmt.Errorf("insert work hours for %s: %w", st.ID, err)
			}
		}
		for _, b := range m.Breaks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO break_rules (staff_id, weekday, start_minute, end_minute) VALUES ($1, $2, $3, $4)
			`, st.ID, int16(b.Weekday), b.Start, b.End); err != nil {
				return fmt.Errorf("insert break for %s: %w", st.ID, err)
			}
		}
		for _, ex := range m.Exceptions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO schedule_exceptions (staff_id, day, is_closed, start_minute, end_minute) VALUES ($1, $2, $3, $4, $5)
			`, st.ID, dateArg(ex.Date), ex.Closed, ex.Start, ex.End); err != nil {
				return fmt.Errorf("insert exception for %s: %w", st.ID, err)
			}
		}
	}
	return tx.Commit(ctx)
}
