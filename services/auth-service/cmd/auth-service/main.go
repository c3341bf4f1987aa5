package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/barberdesk/barberdesk/libs/auth"
	"github.com/barberdesk/barberdesk/libs/config"
	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/libs/httpx"
	otelx "github.com/barberdesk/barberdesk/libs/otel"
	"github.com/barberdesk/barberdesk/libs/runtime"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/audit"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/handlers"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/sessions"
	"github.com/barberdesk/barberdesk/services/auth-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "auth-service")
	logger := runtime.NewLogger(service, runtime.LogOptionsFromEnv())
	if err := run(service, logger); err != nil {
		logger.Error("auth service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8081")
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	// Shared with booking-service, which verifies the tokens issued here.
	secret, err := config.RequiredString("STAFF_JWT_SECRET")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()
	if config.Bool("DB_MIGRATE", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	accounts := storage.NewAccountRepository(pool)
	if err := bootstrapOwner(ctx, accounts, logger); err != nil {
		return err
	}

	authHandler := handlers.NewAuthHandler(accounts, sessions.NewRefreshRepository(pool), audit.NewRepository(pool), logger, handlers.Config{
		Secret:     secret,
		AccessTTL:  config.Minutes("ACCESS_TTL_MINUTES", 60),
		RefreshTTL: time.Duration(config.Int("REFRESH_TTL_HOURS", 720, 1)) * time.Hour,
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	authRoutes := http.NewServeMux()
	authHandler.Register(authRoutes)
	window := time.Minute
	mux.Handle("/api/v1/auth/", httpx.Chain(authRoutes,
		httpx.RateLimit(httpx.NewMemoryLimiter(config.Int("AUTH_RATE_LIMIT_PER_MINUTE", 20, 1), window), window, logger, true),
	))
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(16<<10),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "auth"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("server failed", "err", err)
		stop()
	}

	runtime.Shutdown(logger, 10*time.Second,
		runtime.Closer{Name: "http", Close: srv.Shutdown},
		runtime.Closer{Name: "otel", Close: otelShutdown},
	)
	logger.Info("auth service stopped")
	return err
}

// bootstrapOwner creates the first owner account from the environment so a
// fresh install has someone who can add the rest of the staff.
func bootstrapOwner(ctx context.Context, accounts *storage.AccountRepository, logger *slog.Logger) error {
	email := config.String("BOOTSTRAP_OWNER_EMAIL", "")
	if email == "" {
		return nil
	}
	if _, err := accounts.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	password, err := config.RequiredString("BOOTSTRAP_OWNER_PASSWORD")
	if err != nil {
		return err
	}
	staffID, err := config.RequiredString("BOOTSTRAP_OWNER_STAFF_ID")
	if err != nil {
		return err
	}
	hash, err := handlers.HashPassword(password)
	if err != nil {
		return err
	}
	created, err := accounts.Create(ctx, storage.Account{
		StaffID:      staffID,
		ShopID:       config.String("SHOP_ID", ""),
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleOwner,
	})
	if err != nil && !errors.Is(err, storage.ErrEmailTaken) {
		return fmt.Errorf("bootstrap owner: %w", err)
	}
	logger.Info("bootstrap owner account ready", "account_id", created.ID, "staff_id", staffID)
	return nil
}
