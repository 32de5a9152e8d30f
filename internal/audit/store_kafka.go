package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"genascope/internal/platform/kafka/producer"
)

// Producer is the slice of the Kafka producer the sink needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaStore publishes events to a topic keyed by session ID, so all events of
// one session land on the same partition in order.
type KafkaStore struct {
	producer Producer
	topic    string
}

func NewKafkaStore(p Producer, topic string) *KafkaStore {
	return &KafkaStore{producer: p, topic: topic}
}

func (s *KafkaStore) Append(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	err = s.producer.Produce(ctx, &producer.Message{
		Topic: s.topic,
		Key:   []byte(event.SessionID),
		Value: payload,
		Headers: map[string]string{
			"action": event.Action,
		},
	})
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}
