// Package events holds the consumer side of the booking event contracts.
// Decoders ignore unknown fields so producers can add fields freely.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TopicAppointmentBooked        = "booking.appointment.booked.v1"
	TopicAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	TopicReminderDue              = "scheduler.reminder.due.v1"
)

// ErrInvalid marks payloads that can never be processed; they are not retried.
var ErrInvalid = errors.New("invalid event")

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

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
	Status          string            `json:"status"`
	Channel         string            `json:"channel"`
	Customer        Customer          `json:"customer"`
	Payload         map[string]string `json:"payload,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

type AppointmentStatusChanged struct {
	EventID       string    `json:"event_id"`
	AppointmentID string    `json:"appointment_id"`
	StaffID       string    `json:"staff_id"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Closed reports whether the appointment will not take place or is over.
func (e AppointmentStatusChanged) Closed() bool {
	return e.Status == "cancelled" || e.Status == "completed"
}

// ReminderDue asks for a reminder of Appointment to be sent now.
type ReminderDue struct {
	EventID       string            `json:"event_id"`
	AppointmentID string            `json:"appointment_id"`
	OffsetMinutes int               `json:"offset_minutes"`
	RemindAt      time.Time         `json:"remind_at"`
	Appointment   AppointmentBooked `json:"appointment"`
}

// Kind names the reminder for delivery bookkeeping, e.g. "reminder_1440".
func (r ReminderDue) Kind() string {
	return fmt.Sprintf("reminder_%d", r.OffsetMinutes)
}

func DecodeAppointmentBooked(raw []byte) (AppointmentBooked, error) {
	var ev AppointmentBooked
	if err := json.Unmarshal(raw, &ev); err != nil {
		return AppointmentBooked{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := ev.validate(); err != nil {
		return AppointmentBooked{}, err
	}
	return ev, nil
}

func (ev AppointmentBooked) validate() error {
	switch {
	case ev.AppointmentID == "":
		return fmt.Errorf("%w: missing appointment_id", ErrInvalid)
	case ev.Date == "" || ev.StartTime == "":
		return fmt.Errorf("%w: missing date or start_time", ErrInvalid)
	case ev.Customer.Name == "":
		return fmt.Errorf("%w: missing customer name", ErrInvalid)
	}
	return nil
}

func DecodeAppointmentStatusChanged(raw []byte) (AppointmentStatusChanged, error) {
	var ev AppointmentStatusChanged
	if err := json.Unmarshal(raw, &ev); err != nil {
		return AppointmentStatusChanged{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if ev.AppointmentID == "" || ev.Status == "" {
		return AppointmentStatusChanged{}, fmt.Errorf("%w: missing appointment_id or status", ErrInvalid)
	}
	return ev, nil
}

func DecodeReminderDue(raw []byte) (ReminderDue, error) {
	var ev ReminderDue
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ReminderDue{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if ev.OffsetMinutes <= 0 {
		return ReminderDue{}, fmt.Errorf("%w: offset_minutes must be positive", ErrInvalid)
	}
	if err := ev.Appointment.validate(); err != nil {
		return ReminderDue{}, err
	}
	if ev.AppointmentID != ev.Appointment.AppointmentID {
		return ReminderDue{}, fmt.Errorf("%w: appointment id mismatch", ErrInvalid)
	}
	return ev, nil
}
