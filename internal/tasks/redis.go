package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/koetjeengdjalanan/nilakandi/internal/clock"
	"github.com/koetjeengdjalanan/nilakandi/internal/config"
	redis "github.com/redis/go-redis/v9"
)

// promoteBatch bounds how many due tasks one Dequeue moves to the ready list
const promoteBatch = 100

// promoteScript moves due members of the delayed set onto the ready list
const promoteScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
for _, item in ipairs(due) do
  redis.call("ZREM", KEYS[1], item)
  redis.call("LPUSH", KEYS[2], item)
end
return #due
`

// RedisQueue keeps ready tasks in a list, delayed tasks in a sorted set scored
// by due time in milliseconds, and delivered tasks in a processing list until
// they are acknowledged
type RedisQueue struct {
	client     *redis.Client
	clock      clock.Clock
	promote    *redis.Script
	ready      string
	delayed    string
	processing string
}

// NewRedisClient opens a client for cfg
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisQueue creates a queue whose keys start with prefix
func NewRedisQueue(client *redis.Client, prefix string, clk clock.Clock) *RedisQueue {
	return &RedisQueue{
		client:     client,
		clock:      clk,
		promote:    redis.NewScript(promoteScript),
		ready:      prefix + ":ready",
		delayed:    prefix + ":delayed",
		processing: prefix + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t Task, delay time.Duration) error {
	raw, err := t.encode()
	if err != nil {
		return err
	}
	if delay <= 0 {
		err = q.client.LPush(ctx, q.ready, raw).Err()
	} else {
		due := q.clock.Now().Add(delay).UnixMilli()
		err = q.client.ZAdd(ctx, q.delayed, redis.Z{Score: float64(due), Member: raw}).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", t.Name, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	now := strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
	if err := q.promote.Run(ctx, q.client, []string{q.delayed, q.ready}, now, promoteBatch).Err(); err != nil {
		return nil, fmt.Errorf("failed to promote due tasks: %w", err)
	}

	var (
		raw string
		err error
	)
	if wait <= 0 {
		raw, err = q.client.LMove(ctx, q.ready, q.processing, "RIGHT", "LEFT").Result()
	} else {
		raw, err = q.client.BLMove(ctx, q.ready, q.processing, "RIGHT", "LEFT", wait).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	t, err := decodeTask(raw)
	if err != nil {
		// Undecodable entries would be redelivered forever
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, err
	}
	return &t, nil
}

func (q *RedisQueue) Ack(ctx context.Context, t Task) error {
	if t.raw == "" {
		return nil
	}
	if err := q.client.LRem(ctx, q.processing, 1, t.raw).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge task %s: %w", t.ID, err)
	}
	return nil
}

// Recover returns tasks left in the processing list by a crashed worker to the
// ready list. Call it before any worker of this queue starts.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.ready, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight tasks: %w", err)
		}
		moved++
	}
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.ready)
	delayed := pipe.ZCard(ctx, q.delayed)
	processing := pipe.LLen(ctx, q.processing)
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Delayed: delayed.Val(), InFlight: processing.Val()}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
