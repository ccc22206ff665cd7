package publisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "wealthcheck/pkg/platform/audit"
	"wealthcheck/pkg/platform/audit/store/memory"
	"wealthcheck/pkg/platform/circuit"
)

type failingSink struct {
	calls atomic.Int32
}

func (f *failingSink) Write(context.Context, []audit.Event) error {
	f.calls.Add(1)
	return errors.New("broker unavailable")
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Publish(context.Background(), []audit.Event{
		{CaseID: "case-1", Seq: 1, Action: "case_created"},
		{CaseID: "case-1", Seq: 2, Action: "check_completed"},
	})
	require.NoError(t, err)

	events, err := store.ListByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, audit.CategoryOperations, events[1].Category)
	assert.False(t, events[0].At.IsZero(), "missing timestamps are filled in")
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for i := range 10 {
		err := pub.Publish(context.Background(), []audit.Event{{CaseID: "case-1", Seq: uint64(i + 1), Action: "check_completed"}})
		require.NoError(t, err)
	}

	require.NoError(t, pub.Close())

	events, err := store.ListByCase(context.Background(), "case-1")
	require.NoError(t, err)
	require.Len(t, events, 10, "all events should be drained on close")
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq, "per-case order is preserved")
	}
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	custom := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(context.Background(), []audit.Event{{CaseID: "c", Action: "case_failed", At: custom}}))

	events, err := store.ListByCase(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, custom, events[0].At)
}

func TestPublisher_SinkFailureIsAbsorbedAndOpensBreaker(t *testing.T) {
	sink := &failingSink{}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	pub := NewPublisher(sink, WithBreaker(breaker))
	defer pub.Close()

	for range 5 {
		err := pub.Publish(context.Background(), []audit.Event{{CaseID: "c", Action: "case_created"}})
		require.NoError(t, err, "sync delivery never fails the caller")
	}

	assert.True(t, breaker.IsOpen())
	assert.Equal(t, int32(2), sink.calls.Load(), "open breaker stops calling the sink")
}

func TestPublisher_BufferFull(t *testing.T) {
	block := make(chan struct{})
	sink := sinkFunc(func(context.Context, []audit.Event) error {
		<-block
		return nil
	})
	pub := NewPublisher(sink, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	var full atomic.Int32
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Publish(context.Background(), []audit.Event{{CaseID: "c", Action: "case_created"}}); errors.Is(err, ErrBufferFull) {
				full.Add(1)
			}
		}()
	}
	wg.Wait()
	close(block)
	require.NoError(t, pub.Close())

	assert.Positive(t, full.Load(), "a one-slot buffer cannot take ten concurrent batches")
}

type sinkFunc func(context.Context, []audit.Event) error

func (f sinkFunc) Write(ctx context.Context, events []audit.Event) error { return f(ctx, events) }
