package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"
)

// Message is a consumed record decoupled from the client library.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message.
//
// A nil error or a PermanentError lets the consumer commit the record. Any
// other error is transient: the record is retried with backoff and its offset
// is not committed until it succeeds or is parked on the dead-letter topic.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// PermanentError marks a failure that no redelivery can fix, such as a
// malformed payload.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the consumer stops retrying it. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// DeadLetterProducer parks records that could not be processed.
type DeadLetterProducer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Consumer polls a consumer group and dispatches records. Partitions are
// processed concurrently up to the worker limit; records within a partition
// are handled in offset order, and a record that keeps failing holds back
// the records after it.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
	workers int

	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration

	deadLetter      DeadLetterProducer
	deadLetterTopic string
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithLogger sets the consumer logger.
func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// WithWorkers bounds how many partitions are processed at once.
func WithWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithRetry sets how often a transient failure is retried before the record
// is parked, and the backoff between attempts. The backoff doubles per
// attempt up to max.
func WithRetry(attempts int, backoff, max time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithDeadLetter parks records on topic once retries are exhausted or the
// failure is permanent. Without it a transient failure is retried until the
// consumer stops, and the record is redelivered on the next start.
func WithDeadLetter(p DeadLetterProducer, topic string) ConsumerOption {
	return func(c *Consumer) {
		if p != nil && topic != "" {
			c.deadLetter = p
			c.deadLetterTopic = topic
		}
	}
}

func newConsumer(handler Handler, opts []ConsumerOption) *Consumer {
	c := &Consumer{
		handler:     handler,
		logger:      slog.New(slog.DiscardHandler),
		workers:     4,
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		maxBackoff:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewConsumer joins group and subscribes to topics.
func NewConsumer(brokers []string, group string, topics []string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("kafka handler is required")
	}
	if len(brokers) == 0 || group == "" || len(topics) == 0 {
		return nil, fmt.Errorf("kafka brokers, group and topics are required")
	}
	c := newConsumer(handler, opts)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.AutoCommitMarks(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c.client = client
	return c, nil
}

// Run polls until ctx is cancelled or the client is closed. Only records
// that were handled, skipped as permanent, or parked are committed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			if len(p.Records) == 0 {
				return
			}
			g.Go(func() error {
				for _, r := range p.Records {
					if err := c.process(gctx, toMessage(r)); err != nil {
						// Stopping: leave this record and the rest uncommitted.
						return nil
					}
					c.client.MarkCommitRecords(r)
				}
				return nil
			})
		})
		_ = g.Wait()

		if err := c.client.CommitMarkedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "kafka commit failed", "error", err)
		}
	}
}

func toMessage(r *kgo.Record) *Message {
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
}

// process handles msg until it succeeds, fails permanently, or is parked. It
// returns an error only when ctx ends first, in which case the record must not
// be committed.
func (c *Consumer) process(ctx context.Context, msg *Message) error {
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			c.logger.ErrorContext(ctx, "kafka message rejected",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
			c.park(ctx, msg, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "kafka message handling failed, will retry",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		if attempt >= c.maxAttempts && c.deadLetter != nil {
			if c.park(ctx, msg, err) {
				return nil
			}
		}
		if err := sleep(ctx, c.delay(attempt)); err != nil {
			return err
		}
	}
}

// park copies msg to the dead-letter topic. It reports whether the record is
// now safe to commit.
func (c *Consumer) park(ctx context.Context, msg *Message, cause error) bool {
	if c.deadLetter == nil {
		return false
	}
	if err := c.deadLetter.Produce(ctx, c.deadLetterTopic, msg.Key, msg.Value); err != nil {
		c.logger.ErrorContext(ctx, "kafka dead-letter publish failed",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return false
	}
	c.logger.WarnContext(ctx, "kafka message parked",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"dead_letter_topic", c.deadLetterTopic,
		"error", cause,
	)
	return true
}

func (c *Consumer) delay(attempt int) time.Duration {
	d := c.backoff
	for i := 1; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	return min(d, c.maxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}
