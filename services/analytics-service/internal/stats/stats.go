// Package stats projects booking events into per-day, per-staff counts for
// the shop owner.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/barberdesk/barberdesk/libs/events"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const dayLayout = "2006-01-02"

// MaxRangeDays bounds a single report query.
const MaxRangeDays = 366

var ErrInvalidRange = errors.New("invalid date range")

// Fact is the projected state of one appointment.
type Fact struct {
	AppointmentID string
	StaffID       string
	ServiceID     string
	Day           string
	Channel       string
	Status        string
}

type DailyRow struct {
	Day       string `json:"day"`
	StaffID   string `json:"staff_id"`
	Booked    int    `json:"booked"`
	Pending   int    `json:"pending"`
	Confirmed int    `json:"confirmed"`
	Completed int    `json:"completed"`
	Cancelled int    `json:"cancelled"`
}

type Store interface {
	RecordBooked(ctx context.Context, f Fact) error
	RecordStatus(ctx context.Context, appointmentID, staffID, status string) error
	Daily(ctx context.Context, from, to time.Time, staffID string) ([]DailyRow, error)
}

// Supersedes reports whether status next may replace current. Statuses only
// move forward, so a late "confirmed" never overwrites "cancelled".
func Supersedes(next, current string) bool {
	return rank(next) >= rank(current)
}

func rank(s string) int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	default:
		return 2
	}
}

func knownStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Projector struct {
	store  Store
	logger *slog.Logger
}

func NewProjector(store Store, logger *slog.Logger) *Projector {
	return &Projector{store: store, logger: logger}
}

func (p *Projector) Booked(ctx context.Context, ev events.AppointmentBooked) error {
	status := ev.Status
	if !knownStatus(status) {
		status = StatusConfirmed
	}
	if err := p.store.RecordBooked(ctx, Fact{
		AppointmentID: ev.AppointmentID,
		StaffID:       ev.StaffID,
		ServiceID:     ev.ServiceID,
		Day:           ev.Date,
		Channel:       ev.Channel,
		Status:        status,
	}); err != nil {
		return fmt.Errorf("record booked %s: %w", ev.AppointmentID, err)
	}
	p.logger.Info("booking recorded", "appointment_id", ev.AppointmentID, "day", ev.Date, "staff_id", ev.StaffID)
	return nil
}

func (p *Projector) StatusChanged(ctx context.Context, ev events.AppointmentStatusChanged) error {
	if !knownStatus(ev.Status) {
		p.logger.Warn("ignoring unknown appointment status", "appointment_id", ev.AppointmentID, "status", ev.Status)
		return nil
	}
	if err := p.store.RecordStatus(ctx, ev.AppointmentID, ev.StaffID, ev.Status); err != nil {
		return fmt.Errorf("record status %s: %w", ev.AppointmentID, err)
	}
	return nil
}

// ParseRange validates an inclusive [from, to] pair of YYYY-MM-DD dates.
func ParseRange(from, to string) (time.Time, time.Time, error) {
	f, err := time.Parse(dayLayout, from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	t, err := time.Parse(dayLayout, to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to is before from", ErrInvalidRange)
	}
	if t.Sub(f) > (MaxRangeDays-1)*24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxRangeDays)
	}
	return f, t, nil
}
