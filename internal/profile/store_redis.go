package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/caro-series/internal/rank"
)

const maxTxAttempts = 32

// RedisStore keeps one hash per player under profile:<id>.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func keyProfile(playerID string) string { return "profile:" + strings.TrimSpace(playerID) }

func (s *RedisStore) Load(ctx context.Context, playerID string) (*Profile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}
	vals, err := s.rdb.HGetAll(ctx, keyProfile(playerID)).Result()
	if err != nil {
		return nil, err
	}
	return decodeProfile(playerID, vals)
}

// ApplyReward runs the read-modify-write inside WATCH so concurrent rewards never lose updates.
func (s *RedisStore) ApplyReward(ctx context.Context, playerID string, r Reward) (*Applied, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}
	key := keyProfile(playerID)
	var out *Applied
	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		p, err := decodeProfile(playerID, vals)
		if err != nil {
			return err
		}
		applied := apply(p, r, time.Now())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				"mp", p.MP,
				"coins", p.Coins,
				"exp", p.Exp,
				"tier", string(p.Tier),
				"updated_at", p.UpdatedAt.UnixMilli(),
			)
			return nil
		})
		if err != nil {
			return err
		}
		out = applied
		return nil
	}
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("apply reward: %w", err)
		}
	}
	return nil, fmt.Errorf("apply reward: %w", redis.TxFailedErr)
}

// Seed overwrites a profile balance.
func (s *RedisStore) Seed(ctx context.Context, p Profile) error {
	return s.rdb.HSet(ctx, keyProfile(p.PlayerID),
		"mp", p.MP,
		"coins", p.Coins,
		"exp", p.Exp,
		"tier", string(rank.FromMP(p.MP)),
		"updated_at", time.Now().UnixMilli(),
	).Err()
}

func decodeProfile(playerID string, vals map[string]string) (*Profile, error) {
	p := newProfile(playerID)
	if len(vals) == 0 {
		return p, nil
	}
	ints := map[string]*int{"mp": &p.MP, "coins": &p.Coins, "exp": &p.Exp}
	for field, dst := range ints {
		raw, ok := vals[field]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode profile %s.%s: %w", playerID, field, err)
		}
		*dst = n
	}
	p.Tier = rank.FromMP(p.MP)
	if ms, err := strconv.ParseInt(vals["updated_at"], 10, 64); err == nil {
		p.UpdatedAt = time.UnixMilli(ms)
	}
	return p, nil
}
