package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/caro-series/internal/msgcat"
)

func testCatalog(t *testing.T) *msgcat.Catalog {
	t.Helper()
	cat, err := msgcat.New("")
	require.NoError(t, err)
	return cat
}

func completedEvent() Event {
	return Event{
		Type:     EventSeriesCompleted,
		SeriesID: "s1",
		At:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Data:     map[string]any{"winner_id": "a", "loser_id": "b", "final_score": "2-1", "abandoned_by": ""},
	}
}

func TestTextRendersKnownEvents(t *testing.T) {
	cat := testCatalog(t)
	got, err := Text(cat, completedEvent())
	require.NoError(t, err)
	assert.Equal(t, "a won series s1 2-1.", got)

	got, err = Text(cat, Event{Type: "unknown"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Text(nil, completedEvent())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var last Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(body, &last)
		mu.Unlock()
		if r.Header.Get("X-Series-Event") != EventSeriesCompleted || r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhookEgress(srv.URL,
		WithCatalog(testCatalog(t)),
		WithRetry(3),
		WithBackoffBase(time.Millisecond),
		WithHeaderProvider(func() map[string]string { return map[string]string{"X-Token": "secret"} }),
	)
	require.NoError(t, wh.Publish(context.Background(), completedEvent()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "s1", last.SeriesID)
	assert.Equal(t, "a won series s1 2-1.", last.Text)
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	wh := NewWebhookEgress(srv.URL, WithRetry(5), WithBackoffBase(time.Millisecond))
	err := wh.Publish(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=422")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRedisEgressPublishes(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, "events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	eg := NewRedisEgress(rdb, "events", testCatalog(t))
	require.NoError(t, eg.Publish(ctx, completedEvent()))

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(rctx)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
	assert.Equal(t, EventSeriesCompleted, env.Type)
	assert.Equal(t, "a", env.Data["winner_id"])
	assert.Equal(t, "a won series s1 2-1.", env.Text)
}

type captureEgress struct {
	mu  sync.Mutex
	got []Event
	err error
}

func (c *captureEgress) Publish(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev)
	return c.err
}

func (c *captureEgress) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &captureEgress{}
	bad := &captureEgress{err: errors.New("down")}
	f := Fanout{ok, nil, bad}
	err := f.Publish(context.Background(), completedEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Equal(t, 1, ok.len())
	assert.Equal(t, 1, bad.len())
}

func TestAsyncDeliversAndDrains(t *testing.T) {
	inner := &captureEgress{}
	a := NewAsync(inner, 4)
	for i := 0; i < 6; i++ {
		require.NoError(t, a.Publish(context.Background(), completedEvent()))
	}
	// buffer of 4: two events were dropped
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))
	assert.Equal(t, 4, inner.len())
}
