package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"seat-reservation/model"
)

// MessageWriter is the part of *kafka.Writer the repository uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// writeBatchTimeout caps how long a synchronous WriteMessages waits for more
// messages before flushing. kafka-go's default is one second.
const writeBatchTimeout = 5 * time.Millisecond

type KafkaRepository struct {
	Writer     MessageWriter
	EventTopic string
	DLQTopic   string
}

func NewKafkaRepository(brokers []string, eventTopic, dlqTopic string) *KafkaRepository {
	return &KafkaRepository{
		Writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           writeBatchTimeout,
			AllowAutoTopicCreation: true,
		},
		EventTopic: eventTopic,
		DLQTopic:   dlqTopic,
	}
}

// Publish sends a lifecycle event keyed by reservation id, so every event of
// one reservation lands on the same partition in order.
func (r *KafkaRepository) Publish(ctx context.Context, event model.ReservationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.Writer.WriteMessages(ctx, kafka.Message{
		Topic: r.EventTopic,
		Key:   []byte(event.ReservationID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
}

func (r *KafkaRepository) PublishToDLQ(ctx context.Context, key, value []byte, reason string) error {
	return r.Writer.WriteMessages(ctx,
		kafka.Message{
			Topic: r.DLQTopic,
			Key:   key,
			Value: value,
			Headers: []kafka.Header{
				{Key: "error_reason", Value: []byte(reason)},
			},
		},
	)
}

func (r *KafkaRepository) Close() error {
	return r.Writer.Close()
}
