package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Producer sends one record to a topic. Implemented by the Kafka producer.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// TopicSink writes events as JSON records keyed by case ID, so one case's
// entries land on one partition in sequence order.
type TopicSink struct {
	producer Producer
	topic    string
}

// NewTopicSink creates a sink publishing to topic.
func NewTopicSink(producer Producer, topic string) *TopicSink {
	return &TopicSink{producer: producer, topic: topic}
}

func (s *TopicSink) Write(ctx context.Context, events []Event) error {
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit event: %w", err)
		}
		if err := s.producer.Produce(ctx, s.topic, []byte(e.CaseID), value); err != nil {
			return fmt.Errorf("produce audit event %s/%d: %w", e.CaseID, e.Seq, err)
		}
	}
	return nil
}
