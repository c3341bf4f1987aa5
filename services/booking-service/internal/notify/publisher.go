package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barberdesk/barberdesk/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Topics names the topic of each event type. Empty fields use the defaults.
type Topics struct {
	Booked        string
	StatusChanged string
}

// KafkaPublisher writes events keyed by appointment id so every event of one
// appointment lands on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topics Topics
}

func NewKafkaPublisher(brokers []string, topics Topics) *KafkaPublisher {
	if topics.Booked == "" {
		topics.Booked = TopicAppointmentBooked
	}
	if topics.StatusChanged == "" {
		topics.StatusChanged = TopicAppointmentStatusChanged
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		topics: topics,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev AppointmentBooked) error {
	return p.write(ctx, p.topics.Booked, ev.EventID, ev.AppointmentID, ev)
}

func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, ev AppointmentStatusChanged) error {
	return p.write(ctx, p.topics.StatusChanged, ev.EventID, ev.AppointmentID, ev)
}

func (p *KafkaPublisher) write(ctx context.Context, topic, eventID, key string, ev any) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	meta := kafkax.EventMeta{EventID: eventID, EventType: topic}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: meta.Headers(ctx),
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// LogPublisher only logs events. It stands in for Kafka in local runs.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev AppointmentBooked) error {
	p.Logger.Info("booking event (not published, no brokers configured)",
		"event_id", ev.EventID,
		"appointment_id", ev.AppointmentID,
		"date", ev.Date,
		"start", ev.StartTime,
		"channel", string(ev.Channel),
	)
	return nil
}

func (p LogPublisher) PublishStatusChanged(_ context.Context, ev AppointmentStatusChanged) error {
	p.Logger.Info("status event (not published, no brokers configured)",
		"event_id", ev.EventID,
		"appointment_id", ev.AppointmentID,
		"status", string(ev.Status),
	)
	return nil
}

func (LogPublisher) Close() error { return nil }
