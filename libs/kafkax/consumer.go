package kafkax

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one message. A non-nil error is retried; handlers drop
// payloads that can never succeed by logging them and returning nil.
type Handler func(ctx context.Context, msg kafka.Message) error

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Inbox interface {
	Record(ctx context.Context, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxAttempts bounds handler retries per message.
	MaxAttempts int
	Backoff     time.Duration
}

// Consumer reads a consumer group, de-duplicates by event id through an
// Inbox and retries failing handlers with exponential backoff.
type Consumer struct {
	reader  Reader
	logger  *slog.Logger
	inbox   Inbox
	handler Handler
	cfg     ConsumerConfig
}

func NewConsumer(logger *slog.Logger, inbox Inbox, cfg ConsumerConfig, handler Handler) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if len(cfg.Topics) == 1 {
		rc.Topic = cfg.Topics[0]
	} else {
		rc.GroupTopics = cfg.Topics
	}
	return NewConsumerWithReader(kafka.NewReader(rc), logger, inbox, cfg, handler)
}

func NewConsumerWithReader(reader Reader, logger *slog.Logger, inbox Inbox, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &Consumer{reader: reader, logger: logger, inbox: inbox, handler: handler, cfg: cfg}
}

// Run consumes until ctx is cancelled. Offsets are committed only after a
// message has been handled or given up on.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, c.cfg.Backoff) {
				return
			}
			continue
		}

		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("kafka commit error", "err", err, "offset", msg.Offset, "partition", msg.Partition)
		}
	}
}

// process returns false only when ctx was cancelled before the message was settled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctx, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	meta := ExtractEventMeta(msg)
	span.SetAttributes(attribute.String("messaging.message.id", meta.EventID))

	var fresh bool
	for attempt := 1; ; attempt++ {
		var err error
		fresh, err = c.inbox.Record(ctx, meta.EventID, meta.EventType)
		if err == nil {
			break
		}
		c.logger.Error("inbox record failed", "err", err, "event_id", meta.EventID, "attempt", attempt)
		span.RecordError(err)
		if !sleep(ctx, backoff(c.cfg.Backoff, attempt)) {
			return false
		}
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return true
	}

	var err error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err = c.handler(ctx, msg); err == nil {
			return true
		}
		c.logger.Warn("handler error", "err", err, "event_id", meta.EventID, "attempt", attempt)
		if attempt < c.cfg.MaxAttempts && !sleep(ctx, backoff(c.cfg.Backoff, attempt)) {
			break
		}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "handler failed")
	c.logger.Error("giving up on event", "err", err, "event_id", meta.EventID)
	// Forget so a replay of the topic can deliver it again.
	if ferr := c.inbox.Forget(context.WithoutCancel(ctx), meta.EventID); ferr != nil {
		c.logger.Error("inbox forget failed", "err", ferr, "event_id", meta.EventID)
	}
	return ctx.Err() == nil
}

func backoff(base time.Duration, attempt int) time.Duration {
	const limit = 30 * time.Second
	if attempt > 16 {
		return limit
	}
	if d := base << (attempt - 1); d < limit {
		return d
	}
	return limit
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
