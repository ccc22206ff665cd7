// Package notify tells the review surface that a case is waiting on a person.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
)

// LogNotifier writes review requests to the structured log. It is the
// default when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReviewNeeded(ctx context.Context, caseID id.CaseID, kind models.CheckKind, reasons []string) error {
	n.logger.InfoContext(ctx, "review needed",
		"case_id", caseID.String(),
		"check", string(kind),
		"reasons", reasons,
	)
	return nil
}

// Producer is the slice of the Kafka producer the notifier needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// ReviewRequested is the message published for each opened review.
type ReviewRequested struct {
	CaseID      string    `json:"case_id"`
	Check       string    `json:"check"`
	Reasons     []string  `json:"reasons"`
	RequestedAt time.Time `json:"requested_at"`
}

// KafkaNotifier publishes review requests keyed by case so a consumer sees
// them in order per case.
type KafkaNotifier struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaNotifier(producer Producer, topic string) (*KafkaNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	return &KafkaNotifier{producer: producer, topic: topic, now: time.Now}, nil
}

func (n *KafkaNotifier) NotifyReviewNeeded(ctx context.Context, caseID id.CaseID, kind models.CheckKind, reasons []string) error {
	payload, err := json.Marshal(ReviewRequested{
		CaseID:      caseID.String(),
		Check:       string(kind),
		Reasons:     reasons,
		RequestedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal review request: %w", err)
	}
	if err := n.producer.Produce(ctx, n.topic, []byte(caseID.String()), payload); err != nil {
		return fmt.Errorf("publish review request: %w", err)
	}
	return nil
}
