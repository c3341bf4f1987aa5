package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/auth"
	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/audit"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/sessions"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type Accounts interface {
	Create(ctx context.Context, a storage.Account) (storage.Account, error)
	GetByEmail(ctx context.Context, email string) (storage.Account, error)
	GetByID(ctx context.Context, id string) (storage.Account, error)
	Disable(ctx context.Context, id string) error
}

type RefreshTokens interface {
	Create(ctx context.Context, accountID, rawToken string, expiresAt time.Time) (string, error)
	GetByRaw(ctx context.Context, rawToken string) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, id string) (bool, error)
}

type Auditor interface {
	Record(ctx context.Context, eventType, actorID string, metadata map[string]any) error
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler signs staff in and issues the HS256 access tokens the booking
// service's staff API verifies.
type AuthHandler struct {
	accounts Accounts
	refresh  RefreshTokens
	audit    Auditor
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewAuthHandler(accounts Accounts, refresh RefreshTokens, auditor Auditor, logger *slog.Logger, cfg Config) *AuthHandler {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = time.Hour
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthHandler{accounts: accounts, refresh: refresh, audit: auditor, logger: logger, cfg: cfg, now: time.Now}
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/login", h.Login)
	mux.HandleFunc("/api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", h.Logout)
	mux.HandleFunc("/api/v1/auth/me", h.Me)
	mux.HandleFunc("/api/v1/auth/accounts", h.CreateAccount)
	mux.HandleFunc("/api/v1/auth/accounts/disable", h.DisableAccount)
	mux.HandleFunc("/api/v1/auth/audit", h.Audit)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	StaffID string `json:"staff_id"`
	ShopID  string `json:"shop_id,omitempty"`
	Role    string `json:"role"`
}

type createAccountRequest struct {
	StaffID  string `json:"staff_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type accountResponse struct {
	ID      string `json:"id"`
	StaffID string `json:"staff_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type disableRequest struct {
	AccountID string `json:"account_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := storage.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	ctx := r.Context()
	account, err := h.accounts.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.logger.Error("account lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to lookup account")
		return
	}
	if err != nil || account.Disabled || VerifyPassword(account.PasswordHash, req.Password) != nil {
		h.record(ctx, audit.LoginFailed, account.ID, map[string]any{"email": email})
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	resp, err := h.issue(ctx, account)
	if err != nil {
		h.logger.Error("issue tokens failed", "account_id", account.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	h.record(ctx, audit.LoginSucceeded, account.ID, map[string]any{"staff_id": account.StaffID})
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new pair. The old token is revoked
// first, so replaying it fails.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}

	ctx := r.Context()
	record, err := h.refresh.GetByRaw(ctx, raw)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to lookup refresh token")
		return
	}
	if !record.Usable(h.now()) {
		writeError(w, http.StatusUnauthorized, "refresh token expired")
		return
	}
	account, err := h.accounts.GetByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to lookup account")
		return
	}
	if account.Disabled {
		writeError(w, http.StatusUnauthorized, "account disabled")
		return
	}
	revoked, err := h.refresh.Revoke(ctx, record.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rotate refresh token")
		return
	}
	if !revoked {
		writeError(w, http.StatusUnauthorized, "refresh token expired")
		return
	}

	resp, err := h.issue(ctx, account)
	if err != nil {
		h.logger.Error("issue tokens failed", "account_id", account.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	record, err := h.refresh.GetByRaw(r.Context(), raw)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to lookup refresh token")
		return
	}
	if _, err := h.refresh.Revoke(r.Context(), record.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to revoke refresh token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{StaffID: claims.Subject, ShopID: claims.ShopID, Role: claims.Role})
}

// CreateAccount lets an owner give a staff member a sign-in.
func (h *AuthHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.Role == "" {
		req.Role = auth.RoleBarber
	}
	if req.Role != auth.RoleOwner && req.Role != auth.RoleBarber {
		writeError(w, http.StatusBadRequest, "role must be owner or barber")
		return
	}
	if req.StaffID == "" || storage.NormalizeEmail(req.Email) == "" {
		writeError(w, http.StatusBadRequest, "staff_id and email required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, "password must be at least "+strconv.Itoa(minPasswordLength)+" characters")
		return
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	created, err := h.accounts.Create(r.Context(), storage.Account{
		StaffID:      req.StaffID,
		ShopID:       claims.ShopID,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	})
	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
		return
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid account")
		return
	case err != nil:
		h.logger.Error("create account failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	h.record(r.Context(), audit.AccountCreated, claims.Subject, map[string]any{
		"account_id": created.ID,
		"staff_id":   created.StaffID,
		"role":       created.Role,
	})
	httpx.WriteJSON(w, http.StatusCreated, accountResponse{
		ID:      created.ID,
		StaffID: created.StaffID,
		Email:   created.Email,
		Role:    created.Role,
	})
}

func (h *AuthHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	claims, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	var req disableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		writeError(w, http.StatusBadRequest, "account_id required")
		return
	}
	if err := h.accounts.Disable(r.Context(), req.AccountID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to disable account")
		return
	}
	h.record(r.Context(), audit.AccountRevoked, claims.Subject, map[string]any{"account_id": req.AccountID})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := h.requireOwner(w, r); !ok {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load audit events")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

func (h *AuthHandler) issue(ctx context.Context, account storage.Account) (tokenResponse, error) {
	claims := auth.NewClaims(account.StaffID, account.ShopID, account.Role, h.cfg.AccessTTL)
	access, err := auth.SignHS256(claims, h.cfg.Secret)
	if err != nil {
		return tokenResponse{}, err
	}
	raw, err := sessions.NewRawToken()
	if err != nil {
		return tokenResponse{}, err
	}
	if _, err := h.refresh.Create(ctx, account.ID, raw, h.now().Add(h.cfg.RefreshTTL)); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.cfg.AccessTTL / time.Second),
	}, nil
}

func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid Authorization header")
		return nil, false
	}
	claims, err := auth.ParseAndVerifyHS256(token, h.cfg.Secret)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) requireOwner(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return nil, false
	}
	if !claims.HasRole(auth.RoleOwner) {
		writeError(w, http.StatusForbidden, "owner role required")
		return nil, false
	}
	return claims, true
}

// record writes an audit event. Audit failures never fail the request.
func (h *AuthHandler) record(ctx context.Context, eventType, actorID string, metadata map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, eventType, actorID, metadata); err != nil {
		h.logger.Warn("audit record failed", "event_type", eventType, "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	httpx.WriteJSON(w, status, errorResponse{Error: msg})
}

func HashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func VerifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
