package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/barberdesk/barberdesk/libs/events"
	"github.com/barberdesk/barberdesk/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

type Publisher interface {
	PublishReminder(ctx context.Context, ev events.ReminderDue) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	if topic == "" {
		topic = events.TopicReminderDue
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) PublishReminder(ctx context.Context, ev events.ReminderDue) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode reminder: %w", err)
	}
	meta := kafkax.EventMeta{EventID: ev.EventID, EventType: p.writer.Topic}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.AppointmentID),
		Value:   value,
		Headers: meta.Headers(ctx),
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
