// Package booking computes availability for staff members and commits bookings
// atomically through a Store.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/availability"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/conflict"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/schedule"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/barberdesk/barberdesk/services/booking-service/internal/booking"

// Outcomes reported to the Observer besides the error kinds.
const (
	OutcomeBooked   = "booked"
	OutcomeReplayed = "replayed"
	OutcomeError    = "error"
)

type Config struct {
	StepMinutes    int
	LeadTime       time.Duration
	MaxBookingDays int
	// Location is the shop's time zone; dates and times of day are civil times there.
	Location *time.Location
	Now      func() time.Time
}

// Observer receives booking metrics.
type Observer interface {
	BookingAttempt(channel model.Channel, outcome string, elapsed time.Duration)
	SlotsComputed(count int)
}

type nopObserver struct{}

func (nopObserver) BookingAttempt(model.Channel, string, time.Duration) {}
func (nopObserver) SlotsComputed(int)                                  {}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

type Engine struct {
	store    Store
	cfg      Config
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

func NewEngine(store Store, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.StepMinutes <= 0 {
		cfg.StepMinutes = availability.DefaultStepMinutes
	}
	if cfg.MaxBookingDays <= 0 {
		cfg.MaxBookingDays = 90
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		cfg:      cfg,
		logger:   logger,
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Location() *time.Location { return e.cfg.Location }

// Today is the current date in the shop's time zone.
func (e *Engine) Today() calendar.Date {
	return calendar.DateOf(e.cfg.Now().In(e.cfg.Location))
}

// Request is a candidate booking as gathered by an intake channel.
type Request struct {
	StaffID     string
	ServiceID   string
	Date        calendar.Date
	StartMinute int
	Customer    model.Customer
	Channel     model.Channel
	// IdempotencyKey makes a retried request return the original appointment.
	IdempotencyKey string
}

// InitialStatus is the status a new booking starts in for channel.
// Staff bookings are confirmed on entry; customer bookings await confirmation.
func InitialStatus(channel model.Channel) model.Status {
	if channel == model.ChannelStaff {
		return model.StatusConfirmed
	}
	return model.StatusPending
}

// ComputeSlots lists the bookable start times of staffID on date for a service
// of durationMinutes. The result is advisory; only TryBook decides.
func (e *Engine) ComputeSlots(ctx context.Context, staffID string, date calendar.Date, durationMinutes int) ([]availability.Slot, error) {
	ctx, span := e.tracer.Start(ctx, "booking.ComputeSlots", trace.WithAttributes(
		attribute.String("staff_id", staffID),
		attribute.String("date", date.String()),
	))
	defer span.End()

	if durationMinutes <= 0 {
		return nil, newError(KindInvalidService, "duration must be positive")
	}
	if err := e.checkHorizon(date); err != nil {
		return nil, err
	}
	if _, err := e.bookableStaff(ctx, staffID); err != nil {
		return nil, err
	}
	sched, err := e.store.Schedule(ctx, staffID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	existing, err := e.store.Appointments(ctx, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}

	slots := availability.ComputeSlots(availability.Input{
		Schedule:        e.validSchedule(sched),
		StaffID:         staffID,
		Date:            date,
		DurationMinutes: durationMinutes,
		StepMinutes:     e.cfg.StepMinutes,
		Existing:        existing,
		Now:             e.cfg.Now(),
		LeadTime:        e.cfg.LeadTime,
		Location:        e.cfg.Location,
	})
	span.SetAttributes(attribute.Int("slots", len(slots)))
	e.observer.SlotsComputed(len(slots))
	return slots, nil
}

// ComputeSlotsForService is ComputeSlots with the duration taken from serviceID.
func (e *Engine) ComputeSlotsForService(ctx context.Context, staffID, serviceID string, date calendar.Date) ([]availability.Slot, error) {
	svc, err := e.bookableService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return e.ComputeSlots(ctx, staffID, date, svc.DurationMinutes)
}

// TryBook is the only way appointments are created. It re-reads the schedule
// and the day's appointments inside one atomic store unit, validates the
// candidate against them and inserts it. Expected failures are *Error values;
// anything else means the outcome is unknown.
func (e *Engine) TryBook(ctx context.Context, req Request) (id string, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "booking.TryBook", trace.WithAttributes(
		attribute.String("staff_id", req.StaffID),
		attribute.String("service_id", req.ServiceID),
		attribute.String("date", req.Date.String()),
		attribute.Int("start_minute", req.StartMinute),
		attribute.String("channel", string(req.Channel)),
	))
	replayed := false
	defer func() {
		outcome := OutcomeBooked
		switch kind, ok := KindOf(err); {
		case ok:
			outcome = string(kind)
			span.SetAttributes(attribute.String("booking.error_kind", outcome))
		case err != nil:
			outcome = OutcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, "booking status unknown")
		case replayed:
			outcome = OutcomeReplayed
		}
		e.observer.BookingAttempt(req.Channel, outcome, time.Since(start))
		span.End()
	}()

	// A retry of a committed booking answers with the original id even when
	// the start has since passed or the staff member is no longer bookable.
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existingID, found, err := e.store.AppointmentByIdempotencyKey(ctx, key)
		if err != nil {
			e.logger.Error("idempotency lookup failed", "err", err)
			return "", fmt.Errorf("lookup idempotency key: %w", err)
		}
		if found {
			id, replayed = existingID, true
			span.SetAttributes(attribute.String("appointment_id", id))
			e.logger.Info("idempotent booking replayed", "appointment_id", id, "channel", string(req.Channel))
			return id, nil
		}
	}

	svc, err := e.bookableService(ctx, req.ServiceID)
	if err != nil {
		return "", err
	}
	if _, err := e.bookableStaff(ctx, req.StaffID); err != nil {
		return "", err
	}
	if req.StartMinute < 0 || req.StartMinute+svc.DurationMinutes > calendar.MinutesPerDay {
		return "", newError(KindSlotUnavailable, "start time outside the day")
	}
	if err := e.checkStart(req.Date, req.StartMinute); err != nil {
		return "", err
	}

	candidate := model.Appointment{
		StaffID:         req.StaffID,
		ServiceID:       svc.ID,
		Date:            req.Date,
		StartMinute:     req.StartMinute,
		DurationMinutes: svc.DurationMinutes,
		Status:          InitialStatus(req.Channel),
		Channel:         req.Channel,
		Customer:        req.Customer,
		IdempotencyKey:  key,
	}

	err = e.store.InStaffDay(ctx, req.StaffID, req.Date, func(ctx context.Context, tx DayTx) error {
		if key != "" {
			existingID, found, err := tx.FindByIdempotencyKey(ctx, key)
			if err != nil {
				return fmt.Errorf("lookup idempotency key: %w", err)
			}
			if found {
				id, replayed = existingID, true
				return nil
			}
		}

		sched, err := tx.Schedule(ctx, req.StaffID)
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}
		sched = e.validSchedule(sched)
		if !sched.HasWorkHours(req.Date.Weekday()) {
			return newError(KindStaffNotBookable, fmt.Sprintf("no work hours on %s", req.Date.Weekday()))
		}
		if !fitsWindow(sched.DayWindows(req.Date), candidate.Interval()) {
			return newError(KindSlotUnavailable, "outside working hours")
		}

		existing, err := tx.Appointments(ctx, req.StaffID, req.Date)
		if err != nil {
			return fmt.Errorf("load appointments: %w", err)
		}
		if clash, found := conflict.FirstConflict(req.StaffID, req.Date, candidate.StartMinute, candidate.DurationMinutes, existing); found {
			e.logger.Debug("booking conflict",
				"staff_id", req.StaffID,
				"date", req.Date.String(),
				"start", calendar.FormatClock(req.StartMinute),
				"conflicting_appointment_id", clash.ID,
			)
			return newError(KindSlotUnavailable, "overlaps an existing appointment")
		}

		if err := tx.Insert(ctx, &candidate); err != nil {
			return err
		}
		id = candidate.ID
		return nil
	})
	if err != nil {
		var be *Error
		switch {
		case errors.As(err, &be):
			return "", be
		case errors.Is(err, ErrWriteConflict):
			e.logger.Info("booking lost a race", "staff_id", req.StaffID, "date", req.Date.String(), "err", err)
			return "", newError(KindPersistenceConflict, "slot was taken concurrently")
		default:
			e.logger.Error("booking failed", "staff_id", req.StaffID, "date", req.Date.String(), "err", err)
			return "", fmt.Errorf("book appointment: %w", err)
		}
	}

	span.SetAttributes(attribute.String("appointment_id", id))
	if replayed {
		e.logger.Info("idempotent booking replayed", "appointment_id", id, "channel", string(req.Channel))
	} else {
		e.logger.Info("appointment booked",
			"appointment_id", id,
			"staff_id", req.StaffID,
			"service_id", svc.ID,
			"date", req.Date.String(),
			"start", calendar.FormatClock(req.StartMinute),
			"channel", string(req.Channel),
		)
	}
	return id, nil
}

// UpdateStatus moves an appointment along its lifecycle. Cancelling records
// the time and reason; the row is never deleted.
func (e *Engine) UpdateStatus(ctx context.Context, appointmentID string, next model.Status, reason string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.UpdateStatus", trace.WithAttributes(
		attribute.String("appointment_id", appointmentID),
		attribute.String("status", string(next)),
	))
	defer span.End()

	updated, err := e.store.UpdateAppointment(ctx, appointmentID, func(cur model.Appointment) (model.Appointment, error) {
		if !cur.Status.CanTransitionTo(next) {
			return cur, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, cur.Status, next)
		}
		cur.Status = next
		if next == model.StatusCancelled {
			now := e.cfg.Now().UTC()
			cur.CancelledAt = &now
			cur.CancelReason = strings.TrimSpace(reason)
		}
		return cur, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Appointment{}, fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
		}
		if !errors.Is(err, ErrInvalidTransition) {
			span.RecordError(err)
		}
		return model.Appointment{}, err
	}
	e.logger.Info("appointment status changed", "appointment_id", appointmentID, "status", string(next))
	return updated, nil
}

// ListAppointments returns every appointment of staffID on date, cancelled
// ones included, ordered by start time.
func (e *Engine) ListAppointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error) {
	appts, err := e.store.Appointments(ctx, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	sort.SliceStable(appts, func(i, j int) bool { return appts[i].StartMinute < appts[j].StartMinute })
	return appts, nil
}

func (e *Engine) Appointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := e.store.Appointment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return model.Appointment{}, fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return a, err
}

// Services lists the active services.
func (e *Engine) Services(ctx context.Context) ([]model.Service, error) {
	all, err := e.store.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, s := range all {
		if s.Active && s.DurationMinutes > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// StaffMembers lists the active staff.
func (e *Engine) StaffMembers(ctx context.Context) ([]model.Staff, error) {
	all, err := e.store.ListStaff(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, s := range all {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (e *Engine) bookableService(ctx context.Context, serviceID string) (model.Service, error) {
	if strings.TrimSpace(serviceID) == "" {
		return model.Service{}, newError(KindInvalidService, "service is required")
	}
	svc, err := e.store.Service(ctx, serviceID)
	if errors.Is(err, ErrNotFound) {
		return model.Service{}, newError(KindInvalidService, "unknown service")
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("load service: %w", err)
	}
	if !svc.Active || svc.DurationMinutes <= 0 {
		return model.Service{}, newError(KindInvalidService, "service is not offered")
	}
	return svc, nil
}

func (e *Engine) bookableStaff(ctx context.Context, staffID string) (model.Staff, error) {
	if strings.TrimSpace(staffID) == "" {
		return model.Staff{}, newError(KindStaffNotBookable, "staff member is required")
	}
	st, err := e.store.Staff(ctx, staffID)
	if errors.Is(err, ErrNotFound) {
		return model.Staff{}, newError(KindStaffNotBookable, "unknown staff member")
	}
	if err != nil {
		return model.Staff{}, fmt.Errorf("load staff: %w", err)
	}
	if !st.Active {
		return model.Staff{}, newError(KindStaffNotBookable, "staff member is inactive")
	}
	return st, nil
}

// checkHorizon rejects dates before today or past the booking horizon.
func (e *Engine) checkHorizon(date calendar.Date) error {
	if date.IsZero() {
		return newError(KindPastOrOutOfRange, "date is required")
	}
	today := e.Today()
	if date.Before(today) {
		return newError(KindPastOrOutOfRange, "date is in the past")
	}
	if today.DaysUntil(date) > e.cfg.MaxBookingDays {
		return newError(KindPastOrOutOfRange, fmt.Sprintf("date is more than %d days ahead", e.cfg.MaxBookingDays))
	}
	return nil
}

func (e *Engine) checkStart(date calendar.Date, startMinute int) error {
	if err := e.checkHorizon(date); err != nil {
		return err
	}
	if date.At(startMinute, e.cfg.Location).Before(e.cfg.Now().Add(e.cfg.LeadTime)) {
		return newError(KindPastOrOutOfRange, "start time has passed")
	}
	return nil
}

func (e *Engine) validSchedule(m schedule.Model) schedule.Model {
	clean, problems := m.Validate()
	for _, p := range problems {
		e.logger.Warn("ignoring invalid schedule rule", "staff_id", m.StaffID, "err", p)
	}
	return clean
}

func fitsWindow(windows []calendar.Interval, iv calendar.Interval) bool {
	for _, w := range windows {
		if w.Contains(iv) {
			return true
		}
	}
	return false
}
