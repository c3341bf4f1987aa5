// Package handlers serves the public booking form API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/availability"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/calendar"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/contact"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/model"
)

// Engine is the part of booking.Engine the public form uses.
type Engine interface {
	ComputeSlotsForService(ctx context.Context, staffID, serviceID string, date calendar.Date) ([]availability.Slot, error)
	TryBook(ctx context.Context, req booking.Request) (string, error)
	Services(ctx context.Context) ([]model.Service, error)
	StaffMembers(ctx context.Context) ([]model.Staff, error)
	Location() *time.Location
}

// Notifier receives successful bookings. It must not block.
type Notifier interface {
	Notify(ctx context.Context, appointmentID string, payload map[string]string)
}

type PublicHandler struct {
	engine   Engine
	notifier Notifier
	logger   *slog.Logger
	region   string
}

// NewPublicHandler builds the handler. region is the default country for
// phone numbers entered without a prefix.
func NewPublicHandler(engine Engine, notifier Notifier, logger *slog.Logger, region string) *PublicHandler {
	return &PublicHandler{engine: engine, notifier: notifier, logger: logger, region: region}
}

// Register mounts the public routes on mux.
func (h *PublicHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/services", h.Services)
	mux.HandleFunc("/api/v1/public/staff", h.Staff)
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
}

type serviceItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
}

type staffItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type slotItem struct {
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StartsAt  time.Time `json:"starts_at"`
}

type slotsResponse struct {
	StaffID   string        `json:"staff_id"`
	ServiceID string        `json:"service_id"`
	Date      calendar.Date `json:"date"`
	Slots     []slotItem    `json:"slots"`
}

type bookRequest struct {
	StaffID   string         `json:"staff_id"`
	ServiceID string         `json:"service_id"`
	Date      string         `json:"date"`
	StartTime string         `json:"start_time"`
	Customer  model.Customer `json:"customer"`
}

type bookResponse struct {
	AppointmentID string       `json:"appointment_id"`
	Status        model.Status `json:"status"`
}

type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	RefreshSlots bool   `json:"refresh_slots,omitempty"`
}

func (h *PublicHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	services, err := h.engine.Services(r.Context())
	if err != nil {
		h.logger.Error("list services failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not load services", false)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{ID: s.ID, Name: s.Name, DurationMinutes: s.DurationMinutes, PriceCents: s.PriceCents})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"services": items})
}

func (h *PublicHandler) Staff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	staff, err := h.engine.StaffMembers(r.Context())
	if err != nil {
		h.logger.Error("list staff failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "could not load staff", false)
		return
	}
	items := make([]staffItem, 0, len(staff))
	for _, s := range staff {
		items = append(items, staffItem{ID: s.ID, Name: s.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"staff": items})
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	staffID := strings.TrimSpace(q.Get("staff_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if staffID == "" || serviceID == "" || q.Get("date") == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "staff_id, service_id and date are required", false)
		return
	}
	date, err := calendar.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}

	slots, err := h.engine.ComputeSlotsForService(r.Context(), staffID, serviceID, date)
	if err != nil {
		h.writeBookingError(w, err)
		return
	}
	loc := h.engine.Location()
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: calendar.FormatClock(s.StartMinute),
			EndTime:   calendar.FormatClock(s.EndMinute),
			StartsAt:  s.Date.At(s.StartMinute, loc),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{StaffID: staffID, ServiceID: serviceID, Date: date, Slots: items})
}

func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}
	date, err := calendar.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}
	start, err := calendar.ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), false)
		return
	}
	customer, err := contact.Customer(req.Customer, h.region)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_customer", err.Error(), false)
		return
	}

	id, err := h.engine.TryBook(r.Context(), booking.Request{
		StaffID:        strings.TrimSpace(req.StaffID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Date:           date,
		StartMinute:    start,
		Customer:       customer,
		Channel:        model.ChannelPublic,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	h.notifier.Notify(r.Context(), id, nil)
	httpx.WriteJSON(w, http.StatusCreated, bookResponse{AppointmentID: id, Status: booking.InitialStatus(model.ChannelPublic)})
}

// idempotencyKey namespaces the client's Idempotency-Key header so keys from
// different channels cannot collide.
func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" || len(key) > 200 {
		return ""
	}
	return "public:" + key
}

func (h *PublicHandler) writeBookingError(w http.ResponseWriter, err error) {
	var be *booking.Error
	if !errors.As(err, &be) {
		h.logger.Error("booking request failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "booking status unknown", false)
		return
	}
	switch be.Kind {
	case booking.KindSlotUnavailable, booking.KindPersistenceConflict:
		writeError(w, http.StatusConflict, string(be.Kind), "that time is no longer available", true)
	case booking.KindStaffNotBookable, booking.KindInvalidService:
		writeError(w, http.StatusUnprocessableEntity, string(be.Kind), be.Message, false)
	case booking.KindPastOrOutOfRange:
		writeError(w, http.StatusBadRequest, string(be.Kind), be.Message, false)
	default:
		writeError(w, http.StatusServiceUnavailable, "unavailable", "booking status unknown", false)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string, refresh bool) {
	httpx.WriteJSON(w, status, errorResponse{Error: code, Message: msg, RefreshSlots: refresh})
}
