package booking

import (
	"context"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
)

// Reader is the read path of the persistence collaborator. Lookups of unknown
// ids return an error wrapping ErrNotFound.
type Reader interface {
	Staff(ctx context.Context, staffID string) (model.Staff, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
	Schedule(ctx context.Context, staffID string) (schedule.Model, error)
	Appointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error)
	Appointment(ctx context.Context, id string) (model.Appointment, error)
	ListStaff(ctx context.Context) ([]model.Staff, error)
	ListServices(ctx context.Context) ([]model.Service, error)
	// AppointmentByIdempotencyKey returns the id of a committed appointment
	// created with key.
	AppointmentByIdempotencyKey(ctx context.Context, key string) (string, bool, error)
}

// DayTx is the view of one staff member's day inside an atomic unit.
type DayTx interface {
	Schedule(ctx context.Context, staffID string) (schedule.Model, error)
	Appointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error)
	// FindByIdempotencyKey returns the id of an appointment created with key.
	FindByIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	// Insert stores a and assigns a.ID and a.CreatedAt.
	Insert(ctx context.Context, a *model.Appointment) error
}

type Store interface {
	Reader
	// InStaffDay runs fn as one atomic unit against (staffID, date). Concurrent
	// units for the same pair never interleave their reads and writes. When fn
	// returns an error nothing is written. A lost race is reported by wrapping
	// ErrWriteConflict.
	InStaffDay(ctx context.Context, staffID string, date calendar.Date, fn func(ctx context.Context, tx DayTx) error) error
	// UpdateAppointment loads the appointment under a row lock, applies fn and
	// saves its result.
	UpdateAppointment(ctx context.Context, id string, fn func(current model.Appointment) (model.Appointment, error)) (model.Appointment, error)
}
