//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"wealthcheck/pkg/testutil/containers"
)

type KafkaSuite struct {
	suite.Suite
	brokers  []string
	producer *Producer
}

func TestKafkaSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaSuite))
}

func (s *KafkaSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
	producer, err := NewProducer(s.brokers)
	s.Require().NoError(err)
	s.producer = producer
}

func (s *KafkaSuite) TearDownSuite() {
	s.producer.Close()
}

func (s *KafkaSuite) TestEnsureTopicsIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(EnsureTopics(ctx, s.producer.Client(), 1, 1, "wealthcheck.ensure"))
	s.NoError(EnsureTopics(ctx, s.producer.Client(), 1, 1, "wealthcheck.ensure"))
}

func (s *KafkaSuite) TestProducedRecordsReachConsumer() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const topic = "wealthcheck.roundtrip"
	s.Require().NoError(EnsureTopics(ctx, s.producer.Client(), 1, 1, topic))

	received := make(chan *Message, 2)
	consumer, err := NewConsumer(s.brokers, "roundtrip-group", []string{topic}, HandlerFunc(func(_ context.Context, msg *Message) error {
		received <- msg
		return nil
	}))
	s.Require().NoError(err)
	defer consumer.Close()
	go func() { _ = consumer.Run(ctx) }()

	s.Require().NoError(s.producer.Produce(ctx, topic, []byte("case-1"), []byte(`{"n":1}`)))
	s.Require().NoError(s.producer.Produce(ctx, topic, []byte("case-1"), []byte(`{"n":2}`)))

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-received:
			s.Equal("case-1", string(msg.Key))
			got = append(got, string(msg.Value))
		case <-ctx.Done():
			s.FailNow("timed out waiting for records", "got %v", got)
		}
	}
	s.Equal([]string{`{"n":1}`, `{"n":2}`}, got)
	s.NoError(s.producer.Health(ctx))
}
