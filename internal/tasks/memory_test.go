package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	q := NewMemoryQueue(clk)
	ctx := context.Background()

	now := New(FetchServices, Payload{SubscriptionID: "a"}, clk.Now())
	later := New(FetchServices, Payload{SubscriptionID: "b"}, clk.Now())
	require.NoError(t, q.Enqueue(ctx, later, 30*time.Second))
	require.NoError(t, q.Enqueue(ctx, now, 0))

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, now.ID, got.ID)

	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1, InFlight: 1}, stats)

	require.NoError(t, q.Ack(ctx, now))
	clk.Advance(30 * time.Second)
	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, later.ID, got.ID)
}

func TestMemoryQueue_DequeueWaitsForEnqueue(t *testing.T) {
	q := NewMemoryQueue(clock.RealClock{})
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, New(SyncSubscriptions, Payload{}, time.Now()), 0)
	}()

	got, err := q.Dequeue(ctx, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SyncSubscriptions, got.Name)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(clock.RealClock{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
