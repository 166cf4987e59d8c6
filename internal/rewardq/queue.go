package rewardq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/caro-series/internal/clock"
)

const (
	DefaultBaseDelay   = 5 * time.Second
	DefaultMaxAttempts = 8
	maxDelay           = 10 * time.Minute
)

var ErrDeadLettered = errors.New("reward redelivery moved to dead letter queue")

// DeadLetter is a series whose rewards could not be delivered within the attempt budget.
type DeadLetter struct {
	SeriesID string    `json:"series_id"`
	Attempts int       `json:"attempts"`
	Reason   string    `json:"reason"`
	MovedAt  time.Time `json:"moved_at"`
}

// Queue schedules series ids for reward redelivery.
// Keys: rewardq:<name> (zset, score = due unix ms), rewardq:<name>:attempts (hash), rewardq:<name>:dlq (list).
type Queue struct {
	rdb         *redis.Client
	clk         clock.Scheduler
	queueKey    string
	attemptsKey string
	dlqKey      string
	base        time.Duration
	maxAttempts int
}

func NewQueue(rdb *redis.Client, name string, clk clock.Scheduler, base time.Duration, maxAttempts int) *Queue {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "rewards"
	}
	if clk == nil {
		clk = clock.Real()
	}
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		rdb:         rdb,
		clk:         clk,
		queueKey:    fmt.Sprintf("rewardq:%s", name),
		attemptsKey: fmt.Sprintf("rewardq:%s:attempts", name),
		dlqKey:      fmt.Sprintf("rewardq:%s:dlq", name),
		base:        base,
		maxAttempts: maxAttempts,
	}
}

// Enqueue schedules the first redelivery. An already scheduled series keeps its due time.
func (q *Queue) Enqueue(ctx context.Context, seriesID string) error {
	seriesID = strings.TrimSpace(seriesID)
	if seriesID == "" {
		return fmt.Errorf("enqueue: empty series id")
	}
	due := q.clk.Now().Add(q.base)
	if err := q.rdb.ZAddNX(ctx, q.queueKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: seriesID,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue reward redelivery: %w", err)
	}
	return nil
}

// claimScript pops due members in one step, so a failed call leaves the queue untouched
// and concurrent workers never claim the same id.
var claimScript = redis.NewScript(`
	local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	if #ids > 0 then
		redis.call('ZREM', KEYS[1], unpack(ids))
	end
	return ids
`)

// Claim removes and returns up to limit series whose due time has passed.
func (q *Queue) Claim(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 16
	}
	now := q.clk.Now().UnixMilli()
	ids, err := claimScript.Run(ctx, q.rdb, []string{q.queueKey}, strconv.FormatInt(now, 10), limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claim due redeliveries: %w", err)
	}
	return ids, nil
}

// Retry records a failed attempt and reschedules with exponential backoff, or
// dead-letters the series once the attempt budget is spent.
func (q *Queue) Retry(ctx context.Context, seriesID string, cause error) (int, error) {
	attempts, err := q.rdb.HIncrBy(ctx, q.attemptsKey, seriesID, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("count attempt: %w", err)
	}
	n := int(attempts)
	if n >= q.maxAttempts {
		reason := "max attempts exceeded"
		if cause != nil {
			reason = cause.Error()
		}
		if err := q.deadLetter(ctx, DeadLetter{
			SeriesID: seriesID,
			Attempts: n,
			Reason:   reason,
			MovedAt:  q.clk.Now(),
		}); err != nil {
			return n, err
		}
		return n, ErrDeadLettered
	}
	due := q.clk.Now().Add(q.Backoff(n))
	if err := q.rdb.ZAdd(ctx, q.queueKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: seriesID,
	}).Err(); err != nil {
		return n, fmt.Errorf("reschedule reward redelivery: %w", err)
	}
	return n, nil
}

// Done forgets the attempt count of a delivered series.
func (q *Queue) Done(ctx context.Context, seriesID string) error {
	return q.rdb.HDel(ctx, q.attemptsKey, seriesID).Err()
}

// Backoff is base * 2^attempts, capped at ten minutes.
func (q *Queue) Backoff(attempts int) time.Duration {
	d := q.base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return d
}

func (q *Queue) deadLetter(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.LPush(ctx, q.dlqKey, data)
	pipe.HDel(ctx, q.attemptsKey, dl.SeriesID)
	pipe.ZRem(ctx, q.queueKey, dl.SeriesID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("move to dead letter queue: %w", err)
	}
	return nil
}

// Size is the number of scheduled redeliveries.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, q.queueKey).Result()
}

// DeadLetters lists dead-lettered series, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.rdb.LRange(ctx, q.dlqKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}
