package series

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultSeriesTTL = 24 * time.Hour

// RedisStore keeps one JSON document per series plus a per-player id index.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSeriesTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func seriesKey(id string) string        { return "series:" + strings.TrimSpace(id) }
func idxUserKey(playerID string) string { return "series:index:user:" + strings.TrimSpace(playerID) }

// SeriesKey exposes the document key for out-of-process readers.
func SeriesKey(id string) string { return seriesKey(id) }

// UserIndexKey exposes the per-player index key for out-of-process readers.
func UserIndexKey(playerID string) string { return idxUserKey(playerID) }

func (r *RedisStore) Save(ctx context.Context, s *Series) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, seriesKey(s.ID), raw, r.ttl)
	for _, p := range []string{s.Player1, s.Player2} {
		pipe.SAdd(ctx, idxUserKey(p), s.ID)
		pipe.Expire(ctx, idxUserKey(p), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save series %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*Series, error) {
	raw, err := r.rdb.Get(ctx, seriesKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSeriesNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode series %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) ListByPlayer(ctx context.Context, playerID string) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, idxUserKey(playerID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
