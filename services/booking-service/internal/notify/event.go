package notify

import (
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
)

const (
	TopicAppointmentBooked        = "booking.appointment.booked.v1"
	TopicAppointmentStatusChanged = "booking.appointment.status_changed.v1"
)

// AppointmentBooked is published after a booking commits. The notification
// service renders the customer confirmation from it.
type AppointmentBooked struct {
	EventID         string            `json:"event_id"`
	AppointmentID   string            `json:"appointment_id"`
	StaffID         string            `json:"staff_id"`
	StaffName       string            `json:"staff_name"`
	ServiceID       string            `json:"service_id"`
	ServiceName     string            `json:"service_name"`
	Date            string            `json:"date"`
	StartTime       string            `json:"start_time"`
	StartsAt        time.Time         `json:"starts_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          model.Status      `json:"status"`
	Channel         model.Channel     `json:"channel"`
	Customer        model.Customer    `json:"customer"`
	Payload         map[string]string `json:"payload,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

func newAppointmentBooked(eventID string, a model.Appointment, staff model.Staff, svc model.Service, loc *time.Location, payload map[string]string, now time.Time) AppointmentBooked {
	return AppointmentBooked{
		EventID:         eventID,
		AppointmentID:   a.ID,
		StaffID:         a.StaffID,
		StaffName:       staff.Name,
		ServiceID:       a.ServiceID,
		ServiceName:     svc.Name,
		Date:            a.Date.String(),
		StartTime:       calendar.FormatClock(a.StartMinute),
		StartsAt:        a.Date.At(a.StartMinute, loc),
		DurationMinutes: a.DurationMinutes,
		Status:          a.Status,
		Channel:         a.Channel,
		Customer:        a.Customer,
		Payload:         payload,
		OccurredAt:      now.UTC(),
	}
}

// AppointmentStatusChanged is published after a staff member confirms,
// completes or cancels an appointment. Reminders are dropped on cancellation.
type AppointmentStatusChanged struct {
	EventID       string       `json:"event_id"`
	AppointmentID string       `json:"appointment_id"`
	StaffID       string       `json:"staff_id"`
	Status        model.Status `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}
