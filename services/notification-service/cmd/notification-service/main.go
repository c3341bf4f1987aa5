package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/barberdesk/barberdesk/libs/config"
	"github.com/barberdesk/barberdesk/libs/db"
	"github.com/barberdesk/barberdesk/libs/events"
	"github.com/barberdesk/barberdesk/libs/httpx"
	"github.com/barberdesk/barberdesk/libs/inbox"
	"github.com/barberdesk/barberdesk/libs/kafkax"
	otelx "github.com/barberdesk/barberdesk/libs/otel"
	"github.com/barberdesk/barberdesk/libs/runtime"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/confirm"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/email"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/storage"
	"github.com/barberdesk/barberdesk/services/notification-service/internal/whatsapp"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "notification-service")
	logger := runtime.NewLogger(service, runtime.LogOptionsFromEnv())
	if err := run(service, logger); err != nil {
		logger.Error("notification service stopped", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8085")
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
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

	wa, err := whatsAppSender(logger)
	if err != nil {
		return err
	}
	mail, err := emailSender(logger)
	if err != nil {
		return err
	}
	svc := confirm.NewService(storage.NewDeliveriesRepository(pool), wa, mail, logger, confirm.Config{
		ShopName:   config.String("SHOP_NAME", ""),
		FailSuffix: config.String("NOTIFICATION_FAIL_SUFFIX", ""),
	})

	bookedTopic := config.String("KAFKA_BOOKED_TOPIC", events.TopicAppointmentBooked)
	reminderTopic := config.String("KAFKA_REMINDER_TOPIC", events.TopicReminderDue)
	eventConsumer := kafkax.NewConsumer(logger, inbox.NewRepository(pool), kafkax.ConsumerConfig{
		Brokers:     brokers,
		GroupID:     config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:      []string{bookedTopic, reminderTopic},
		MaxAttempts: config.Int("NOTIFY_MAX_ATTEMPTS", 3, 1),
		Backoff:     time.Second,
	}, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case bookedTopic:
			ev, err := events.DecodeAppointmentBooked(msg.Value)
			if err != nil {
				logger.Error("dropping booking event", "err", err, "offset", msg.Offset)
				return nil
			}
			return svc.Handle(ctx, ev)
		case reminderTopic:
			r, err := events.DecodeReminderDue(msg.Value)
			if err != nil {
				logger.Error("dropping reminder event", "err", err, "offset", msg.Offset)
				return nil
			}
			return svc.Remind(ctx, r)
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
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "notification"),
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
	logger.Info("notification service stopped")
	return err
}

func whatsAppSender(logger *slog.Logger) (confirm.WhatsAppSender, error) {
	switch provider := strings.ToLower(config.String("WHATSAPP_PROVIDER", "noop")); provider {
	case "twilio":
		sid, err := config.RequiredString("TWILIO_ACCOUNT_SID")
		if err != nil {
			return nil, err
		}
		token, err := config.RequiredString("TWILIO_AUTH_TOKEN")
		if err != nil {
			return nil, err
		}
		from, err := config.RequiredString("TWILIO_WHATSAPP_FROM")
		if err != nil {
			return nil, err
		}
		return whatsapp.NewTwilioSender(sid, token, from), nil
	case "noop":
		logger.Warn("WHATSAPP_PROVIDER=noop; WhatsApp confirmations are recorded but not sent")
		return whatsapp.NoopSender{}, nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown WHATSAPP_PROVIDER %q", provider)
	}
}

func emailSender(logger *slog.Logger) (confirm.EmailSender, error) {
	switch provider := strings.ToLower(config.String("EMAIL_PROVIDER", "smtp")); provider {
	case "sendgrid":
		key, err := config.RequiredString("SENDGRID_API_KEY")
		if err != nil {
			return nil, err
		}
		from, err := config.RequiredString("SENDGRID_FROM_EMAIL")
		if err != nil {
			return nil, err
		}
		return email.NewSendGridSender(key, from, config.String("SENDGRID_FROM_NAME", "Barberdesk")), nil
	case "smtp":
		logger.Info("sending email through SMTP", "host", config.String("SMTP_HOST", "mailpit"))
		return email.NewSMTPSender(
			config.String("SMTP_HOST", "mailpit"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", "no-reply@barberdesk.local"),
		), nil
	case "off":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", provider)
	}
}
