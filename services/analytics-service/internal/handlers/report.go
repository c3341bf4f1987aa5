package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/auth"
	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/stats"
)

type Reports interface {
	Daily(ctx context.Context, from, to time.Time, staffID string) ([]stats.DailyRow, error)
}

// ReportHandler serves booking counts to staff. Owners see every barber;
// a barber only sees their own rows.
type ReportHandler struct {
	reports Reports
	secret  string
	logger  *slog.Logger
}

func NewReportHandler(reports Reports, secret string, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, secret: secret, logger: logger}
}

func (h *ReportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/analytics/daily", h.Daily)
}

type dailyResponse struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Rows []stats.DailyRow `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *ReportHandler) Daily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
		return
	}
	claims, err := auth.ParseAndVerifyHS256(token, h.secret)
	if err != nil {
		httpx.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid token"})
		return
	}

	q := r.URL.Query()
	from, to, err := stats.ParseRange(q.Get("from"), q.Get("to"))
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	staffID := strings.TrimSpace(q.Get("staff_id"))
	if !claims.HasRole(auth.RoleOwner) {
		if staffID != "" && staffID != claims.Subject {
			httpx.WriteJSON(w, http.StatusForbidden, errorResponse{Error: "barbers can only see their own bookings"})
			return
		}
		staffID = claims.Subject
	}

	rows, err := h.reports.Daily(r.Context(), from, to, staffID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("daily report failed", "err", err)
		httpx.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load report"})
		return
	}
	if rows == nil {
		rows = []stats.DailyRow{}
	}
	httpx.WriteJSON(w, http.StatusOK, dailyResponse{From: q.Get("from"), To: q.Get("to"), Rows: rows})
}
