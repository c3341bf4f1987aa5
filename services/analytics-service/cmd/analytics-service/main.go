package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/barberdesk/barberdesk/libs/config"
	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/libs/events"
	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/libs/inbox"
	"github.com/barberdesk/barberdesk/libs/kafkax"
	otelx "github.com/barberdesk/barberdesk/libs/otel"
	"github.com/barberdesk/barberdesk/libs/runtime"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/handlers"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/stats"
	"github.com/barberdesk/barberdesk/services/analytics-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "analytics-service")
	logger := runtime.NewLogger(service, runtime.LogOptionsFromEnv())
	if err := run(service, logger); err != nil {
		logger.Error("analytics service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8086")
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	secret, err := config.RequiredString("STAFF_JWT_SECRET")
	if err != nil {
		return err
	}
	brokers := kafkax.SplitBrokers(config.String("KAFKA_BROKERS", ""))
	if len(brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
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

	facts := storage.NewFactsRepository(pool)
	projector := stats.NewProjector(facts, logger)

	bookedTopic := config.String("KAFKA_BOOKED_TOPIC", events.TopicAppointmentBooked)
	statusTopic := config.String("KAFKA_STATUS_TOPIC", events.TopicAppointmentStatusChanged)
	eventConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool), kafkax.ConsumerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
		Topics:  []string{bookedTopic, statusTopic},
		Backoff: time.Second,
	}, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case bookedTopic:
			ev, err := events.DecodeAppointmentBooked(msg.Value)
			if err != nil {
				logger.Error("dropping booking event", "err", err, "offset", msg.Offset)
				return nil
			}
			return projector.Booked(ctx, ev)
		case statusTopic:
			ev, err := events.DecodeAppointmentStatusChanged(msg.Value)
			if err != nil {
				logger.Error("dropping status event", "err", err, "offset", msg.Offset)
				return nil
			}
			return projector.StatusChanged(ctx, ev)
		}
		logger.Warn("message from unexpected topic", "topic", msg.Topic)
		return nil
	})
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		eventConsumer.Run(ctx)
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.NewReportHandler(facts, secret, logger).Register(mux)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "analytics"),
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
		runtime.Closer{Name: "consumer", Close: func(ctx context.Context) error {
			select {
			case <-consumerDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}},
		runtime.Closer{Name: "otel", Close: otelShutdown},
	)
	logger.Info("analytics service stopped")
	return err
}
