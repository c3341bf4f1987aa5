package model

import (
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Blocking reports whether an appointment in this status occupies its interval.
func (s Status) Blocking() bool { return s != StatusCancelled }

// CanTransitionTo encodes the appointment lifecycle. Completed and cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

// Channel identifies the intake path a booking came through.
type Channel string

const (
	ChannelPublic Channel = "public"
	ChannelStaff  Channel = "staff"
	ChannelBot    Channel = "bot"
)

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type Appointment struct {
	ID              string
	StaffID         string
	ServiceID       string
	Date            calendar.Date
	StartMinute     int
	DurationMinutes int
	Status          Status
	Channel         Channel
	Customer        Customer
	IdempotencyKey  string
	CreatedAt       time.Time
	CancelledAt     *time.Time
	CancelReason    string
}

func (a Appointment) EndMinute() int { return a.StartMinute + a.DurationMinutes }

func (a Appointment) Interval() calendar.Interval {
	return calendar.Interval{Start: a.StartMinute, End: a.EndMinute()}
}
