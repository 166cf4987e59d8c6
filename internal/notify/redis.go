package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/park285/caro-series/internal/msgcat"
)

const DefaultChannel = "series:events"

// Envelope is the wire form of an event on Redis and webhooks.
type Envelope struct {
	Event
	Text string `json:"text,omitempty"`
}

// RedisEgress publishes JSON envelopes to a pub/sub channel.
type RedisEgress struct {
	rdb     *redis.Client
	channel string
	cat     *msgcat.Catalog
}

func NewRedisEgress(rdb *redis.Client, channel string, cat *msgcat.Catalog) *RedisEgress {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisEgress{rdb: rdb, channel: channel, cat: cat}
}

func (r *RedisEgress) Publish(ctx context.Context, ev Event) error {
	text, _ := Text(r.cat, ev)
	payload, err := json.Marshal(Envelope{Event: ev, Text: text})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
