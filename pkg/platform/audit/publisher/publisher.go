// Package publisher streams committed audit events to a sink without ever
// blocking or failing the case transition that produced them.
//
// Events are already durable in the case store when they reach the publisher,
// so delivery is fail-open: when the sink is unhealthy the circuit breaker
// opens and events are dropped and counted rather than retried inline.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "wealthcheck/pkg/platform/audit"
	"wealthcheck/pkg/platform/circuit"
)

// ErrBufferFull is returned by async Publish when the buffer cannot take the batch.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher delivers events to a Sink, synchronously or through a bounded buffer.
type Publisher struct {
	sink    audit.Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration

	buffer chan []audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithAsyncBuffer makes Publish enqueue batches for a background worker.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan []audit.Event, size)
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

// WithLogger sets a logger for delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithWriteTimeout bounds a single sink write in async mode.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewPublisher creates a publisher for sink.
func NewPublisher(sink audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:    sink,
		breaker: circuit.New("audit-sink", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:  slog.New(slog.DiscardHandler),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Publish delivers events. In sync mode sink errors are absorbed after being
// logged and counted; the returned error is reserved for async back-pressure.
func (p *Publisher) Publish(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].At.IsZero() {
			events[i].At = time.Now()
		}
		if events[i].Category == "" {
			events[i].Category = audit.CategoryOf(events[i].Action)
		}
	}
	if p.buffer == nil {
		p.deliver(ctx, events)
		return nil
	}
	select {
	case p.buffer <- events:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.metrics.AddDropped(len(events))
		return ErrBufferFull
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for batch := range p.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		p.deliver(ctx, batch)
		cancel()
	}
}

func (p *Publisher) deliver(ctx context.Context, events []audit.Event) {
	if !p.breaker.Allow() {
		p.metrics.AddDropped(len(events))
		return
	}
	if err := p.sink.Write(ctx, events); err != nil {
		_, change := p.breaker.RecordFailure()
		p.metrics.IncFailures()
		if change.Opened {
			p.metrics.SetBreakerOpen(true)
			p.logger.WarnContext(ctx, "audit sink circuit opened", "breaker", p.breaker.Name())
		}
		p.metrics.AddDropped(len(events))
		p.logger.ErrorContext(ctx, "audit sink write failed",
			"case_id", events[0].CaseID,
			"events", len(events),
			"error", err,
		)
		return
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetBreakerOpen(false)
		p.logger.InfoContext(ctx, "audit sink circuit closed", "breaker", p.breaker.Name())
	}
	p.metrics.AddPublished(len(events))
}

// Close drains buffered events and stops the background worker.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
	return nil
}
