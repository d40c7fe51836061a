package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, clk clock.Clock) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisQueue(client, "test", clk)
}

func TestRedisQueue_FIFO(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	q := setupTestRedis(t, clk)
	ctx := context.Background()

	first := New(FetchServices, Payload{SubscriptionID: "a"}, clk.Now())
	second := New(FetchServices, Payload{SubscriptionID: "b"}, clk.Now())
	require.NoError(t, q.Enqueue(ctx, first, 0))
	require.NoError(t, q.Enqueue(ctx, second, 0))

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "a", got.Payload.SubscriptionID)

	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)

	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisQueue_DelayedBecomesDue(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	q := setupTestRedis(t, clk)
	ctx := context.Background()

	task := New(FetchBlobs, Payload{SubscriptionID: "a"}, clk.Now())
	require.NoError(t, q.Enqueue(ctx, task, time.Minute))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Delayed: 1}, stats)

	got, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	assert.Nil(t, got, "task must not be delivered before it is due")

	clk.Advance(time.Minute)
	got, err = q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestRedisQueue_AckAndRecover(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	q := setupTestRedis(t, clk)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, New(ProcessBlob, Payload{ExportRunID: "run-1"}, clk.Now()), 0))
	require.NoError(t, q.Enqueue(ctx, New(ProcessBlob, Payload{ExportRunID: "run-2"}, clk.Now()), 0))

	acked, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, *acked))

	lost, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, lost)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{InFlight: 1}, stats)

	moved, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, lost.ID, again.ID)
	assert.Equal(t, "run-2", again.Payload.ExportRunID)
}

func TestRedisQueue_Ping(t *testing.T) {
	q := setupTestRedis(t, clock.RealClock{})
	assert.NoError(t, q.Ping(context.Background()))
}
