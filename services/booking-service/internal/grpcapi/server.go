package grpcapi

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/auth"
	"github.com/barberdesk/barberdesk/libs/grpcx"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/availability"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/contact"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorKindTrailer carries the booking.Kind of a failed call.
const ErrorKindTrailer = "booking-error-kind"

type Engine interface {
	ComputeSlots(ctx context.Context, staffID string, date calendar.Date, durationMinutes int) ([]availability.Slot, error)
	ComputeSlotsForService(ctx context.Context, staffID, serviceID string, date calendar.Date) ([]availability.Slot, error)
	TryBook(ctx context.Context, req booking.Request) (string, error)
	ListAppointments(ctx context.Context, staffID string, date calendar.Date) ([]model.Appointment, error)
	Appointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, appointmentID string, next model.Status, reason string) (model.Appointment, error)
	Location() *time.Location
}

type Notifier interface {
	Notify(ctx context.Context, appointmentID string, payload map[string]string)
	StatusChanged(ctx context.Context, appointmentID string)
}

type Server struct {
	engine   Engine
	notifier Notifier
	logger   *slog.Logger
	region   string
}

var _ StaffBookingServer = (*Server)(nil)

func NewServer(engine Engine, notifier Notifier, logger *slog.Logger, region string) *Server {
	return &Server{engine: engine, notifier: notifier, logger: logger, region: region}
}

func (s *Server) ComputeSlots(ctx context.Context, req *ComputeSlotsRequest) (*ComputeSlotsResponse, error) {
	staffID, err := actingStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}

	var slots []availability.Slot
	if strings.TrimSpace(req.ServiceID) != "" {
		slots, err = s.engine.ComputeSlotsForService(ctx, staffID, req.ServiceID, date)
	} else {
		slots, err = s.engine.ComputeSlots(ctx, staffID, date, req.DurationMinutes)
	}
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	loc := s.engine.Location()
	out := &ComputeSlotsResponse{Slots: make([]Slot, 0, len(slots))}
	for _, sl := range slots {
		out.Slots = append(out.Slots, Slot{
			StartTime: calendar.FormatClock(sl.StartMinute),
			EndTime:   calendar.FormatClock(sl.EndMinute),
			StartsAt:  sl.Date.At(sl.StartMinute, loc),
		})
	}
	return out, nil
}

func (s *Server) TryBook(ctx context.Context, req *TryBookRequest) (*TryBookResponse, error) {
	staffID, err := actingStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	start, err := calendar.ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	customer, err := s.walkInCustomer(req.Customer)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var key string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = "staff:" + k
	}
	id, err := s.engine.TryBook(ctx, booking.Request{
		StaffID:        staffID,
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Date:           date,
		StartMinute:    start,
		Customer:       customer,
		Channel:        model.ChannelStaff,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if customer.Phone != "" || customer.Email != "" {
		s.notifier.Notify(ctx, id, nil)
	}
	return &TryBookResponse{AppointmentID: id, Status: booking.InitialStatus(model.ChannelStaff)}, nil
}

func (s *Server) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	staffID, err := actingStaff(ctx, req.StaffID)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return nil, err
	}
	appts, err := s.engine.ListAppointments(ctx, staffID, date)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	out := &ListAppointmentsResponse{Appointments: make([]Appointment, 0, len(appts))}
	for _, a := range appts {
		out.Appointments = append(out.Appointments, toAppointment(a))
	}
	return out, nil
}

func (s *Server) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*UpdateStatusResponse, error) {
	next, ok := model.ParseStatus(string(req.Status))
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}
	current, err := s.engine.Appointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if _, err := actingStaff(ctx, current.StaffID); err != nil {
		return nil, err
	}
	updated, err := s.engine.UpdateStatus(ctx, req.AppointmentID, next, req.Reason)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.notifier.StatusChanged(ctx, updated.ID)
	return &UpdateStatusResponse{Appointment: toAppointment(updated)}, nil
}

// walkInCustomer only requires a name; staff book customers standing at the
// counter who may leave no contact details.
func (s *Server) walkInCustomer(c model.Customer) (model.Customer, error) {
	if strings.TrimSpace(c.Phone) == "" && strings.TrimSpace(c.Email) == "" {
		name := strings.Join(strings.Fields(c.Name), " ")
		if name == "" {
			return model.Customer{}, contact.ErrNameRequired
		}
		return model.Customer{Name: name, Notes: strings.TrimSpace(c.Notes)}, nil
	}
	return contact.Customer(c, s.region)
}

// actingStaff resolves which staff member a call acts for. Barbers act for
// themselves only; owners may act for anyone. Calls without claims (auth
// disabled) must name the staff member.
func actingStaff(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	claims, ok := grpcx.ClaimsFromContext(ctx)
	if !ok {
		if requested == "" {
			return "", status.Error(codes.InvalidArgument, "staff_id is required")
		}
		return requested, nil
	}
	if requested == "" {
		return claims.Subject, nil
	}
	if requested != claims.Subject && !claims.HasRole(auth.RoleOwner) {
		return "", status.Error(codes.PermissionDenied, "cannot act for another staff member")
	}
	return requested, nil
}

func parseDate(raw string) (calendar.Date, error) {
	d, err := calendar.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return calendar.Date{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return d, nil
}

// toStatus maps engine errors to gRPC codes and reports the booking kind in
// a trailer so clients need not parse messages.
func (s *Server) toStatus(ctx context.Context, err error) error {
	var be *booking.Error
	if errors.As(err, &be) {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorKindTrailer, string(be.Kind)))
		return status.Error(codeFor(be.Kind), be.Error())
	}
	switch {
	case errors.Is(err, booking.ErrAppointmentNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	s.logger.Error("staff booking call failed", "err", err)
	return status.Error(codes.Unavailable, "booking status unknown")
}

func codeFor(kind booking.Kind) codes.Code {
	switch kind {
	case booking.KindSlotUnavailable, booking.KindPersistenceConflict:
		return codes.Aborted
	case booking.KindStaffNotBookable:
		return codes.FailedPrecondition
	case booking.KindInvalidService:
		return codes.NotFound
	case booking.KindPastOrOutOfRange:
		return codes.OutOfRange
	}
	return codes.Unknown
}

// KindFromTrailer reads the booking kind a failed call reported.
func KindFromTrailer(trailer metadata.MD) (booking.Kind, bool) {
	vals := trailer.Get(ErrorKindTrailer)
	if len(vals) == 0 {
		return "", false
	}
	return booking.Kind(vals[0]), true
}

func toAppointment(a model.Appointment) Appointment {
	return Appointment{
		ID:              a.ID,
		StaffID:         a.StaffID,
		ServiceID:       a.ServiceID,
		Date:            a.Date.String(),
		StartTime:       calendar.FormatClock(a.StartMinute),
		EndTime:         calendar.FormatClock(a.EndMinute()),
		DurationMinutes: a.DurationMinutes,
		Status:          a.Status,
		Channel:         a.Channel,
		Customer:        a.Customer,
		CreatedAt:       a.CreatedAt,
		CancelledAt:     a.CancelledAt,
		CancelReason:    a.CancelReason,
	}
}
