package grpcapi

import (
	"time"

	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
)

// Messages travel as JSON (see libs/grpcx.JSONCodec).

type ComputeSlotsRequest struct {
	StaffID   string `json:"staff_id"`
	ServiceID string `json:"service_id,omitempty"`
	// DurationMinutes is used when ServiceID is empty.
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	Date            string `json:"date"`
}

type Slot struct {
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StartsAt  time.Time `json:"starts_at"`
}

type ComputeSlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type TryBookRequest struct {
	StaffID        string         `json:"staff_id"`
	ServiceID      string         `json:"service_id"`
	Date           string         `json:"date"`
	StartTime      string         `json:"start_time"`
	Customer       model.Customer `json:"customer"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

type TryBookResponse struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
}

type ListAppointmentsRequest struct {
	StaffID string `json:"staff_id"`
	Date    string `json:"date"`
}

type Appointment struct {
	ID              string         `json:"id"`
	StaffID         string         `json:"staff_id"`
	ServiceID       string         `json:"service_id"`
	Date            string         `json:"date"`
	StartTime       string         `json:"start_time"`
	EndTime         string         `json:"end_time"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          model.Status   `json:"status"`
	Channel         model.Channel  `json:"channel"`
	Customer        model.Customer `json:"customer"`
	CreatedAt       time.Time      `json:"created_at"`
	CancelledAt     *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason    string         `json:"cancel_reason,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []Appointment `json:"appointments"`
}

type UpdateStatusRequest struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
	Reason        string       `json:"reason,omitempty"`
}

type UpdateStatusResponse struct {
	Appointment Appointment `json:"appointment"`
}
