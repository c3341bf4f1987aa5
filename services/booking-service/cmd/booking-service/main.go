package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/barberdesk/barberdesk/libs/config"
	"github.com/barberdesk/barberdesk/libs/grpcx"
	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/libs/kafkax"
	otelx "github.com/barberdesk/barberdesk/libs/otel"
	"github.com/barberdesk/barberdesk/libs/runtime"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/booking"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/bot"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/grpcapi"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/handlers"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/metrics"
	"github.com/barberdesk/barberdesk/services/booking-service/internal/notify"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service, runtime.LogOptionsFromEnv())
	if err := run(service, logger); err != nil {
		logger.Error("booking service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	loc, err := config.Location("SHOP_TIMEZONE", "UTC")
	if err != nil {
		return err
	}
	region := config.String("SHOP_PHONE_REGION", "PT")
	jwtSecret, err := staffAuthSecret(logger)
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

	opened, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer opened.close()
	readyChecks := opened.ready

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0, 0),
		})
		defer rdb.Close()
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	m := metrics.NewBooking()
	engine := booking.NewEngine(opened.store, booking.Config{
		StepMinutes:    config.Int("SLOT_STEP_MINUTES", 15, 1),
		LeadTime:       config.Minutes("MIN_LEAD_MINUTES", 0),
		MaxBookingDays: config.Int("MAX_BOOKING_DAYS", 90, 1),
		Location:       loc,
	}, logger, booking.WithObserver(m))

	var publisher notify.Publisher = notify.LogPublisher{Logger: logger}
	if brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", "")); len(brokers) > 0 {
		publisher = notify.NewKafkaPublisher(brokers, notify.Topics{
			Booked:        config.String("KAFKA_BOOKED_TOPIC", notify.TopicAppointmentBooked),
			StatusChanged: config.String("KAFKA_STATUS_TOPIC", notify.TopicAppointmentStatusChanged),
		})
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; booking notifications are only logged")
	}
	dispatcher := notify.NewDispatcher(opened.store, publisher, logger, notify.Config{
		QueueSize: config.Int("NOTIFY_QUEUE_SIZE", 256, 1),
		Location:  loc,
	}, m)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/api/v1/public/", publicAPI(engine, dispatcher, rdb, logger, region))
	mux.Handle("/api/v1/bot/whatsapp", botWebhook(engine, dispatcher, rdb, logger, region))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(64<<10),
		httpx.WithTimeout(15*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(httpHandler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer(logger, grpcx.ServerOptions{AuthSecret: jwtSecret})
	grpcapi.RegisterStaffBookingServer(grpcSrv, grpcapi.NewServer(engine, dispatcher, logger, region))
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("server failed", "err", err)
	}

	runtime.Shutdown(logger, 10*time.Second,
		runtime.Closer{Name: "http", Close: srv.Shutdown},
		runtime.Closer{Name: "grpc", Close: func(context.Context) error {
			grpcSrv.GracefulStop()
			return nil
		}},
		runtime.Closer{Name: "notifications", Close: dispatcher.Close},
		runtime.Closer{Name: "otel", Close: otelShutdown},
	)
	logger.Info("booking service stopped")
	return err
}

func publicAPI(engine *booking.Engine, n handlers.Notifier, rdb *redis.Client, logger *slog.Logger, region string) http.Handler {
	public := http.NewServeMux()
	handlers.NewPublicHandler(engine, n, logger, region).Register(public)

	window := time.Minute
	limit := config.Int("PUBLIC_RATE_LIMIT_PER_MINUTE", 30, 1)
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(limit, window)
	if rdb != nil {
		limiter = httpx.NewRedisLimiter(rdb, limit, window, "ratelimit:public:")
	}
	return httpx.Chain(public,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(limiter, window, logger, true),
	)
}

func botWebhook(engine *booking.Engine, n bot.Notifier, rdb *redis.Client, logger *slog.Logger, region string) http.Handler {
	ttl := config.Minutes("BOT_SESSION_TTL_MINUTES", 30)
	var sessions bot.SessionStore = bot.NewMemorySessionStore(ttl)
	if rdb != nil {
		sessions = bot.NewRedisSessionStore(rdb, ttl, "bot:session:")
	}
	authToken := config.String("TWILIO_AUTH_TOKEN", "")
	if authToken == "" {
		logger.Warn("TWILIO_AUTH_TOKEN not set; bot webhook signatures are not checked")
	}
	b := bot.New(engine, sessions, n, logger, region)
	return bot.NewWebhookHandler(b, authToken, config.String("BOT_WEBHOOK_URL", ""), logger)
}

// staffAuthSecret returns the key that verifies staff tokens on the gRPC
// channel. Running without one takes an explicit STAFF_AUTH_DISABLED=true.
func staffAuthSecret(logger *slog.Logger) (string, error) {
	secret := config.String("STAFF_JWT_SECRET", "")
	if secret != "" {
		return secret, nil
	}
	if !config.Bool("STAFF_AUTH_DISABLED", false) {
		return "", errors.New("STAFF_JWT_SECRET is required (set STAFF_AUTH_DISABLED=true to run the staff API unauthenticated)")
	}
	logger.Warn("STAFF_AUTH_DISABLED set; staff gRPC API runs without authentication")
	return "", nil
}
