package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type presenceFrame struct {
	Type        string `json:"type"`
	SeriesID    string `json:"series_id,omitempty"`
	PlayerID    string `json:"player_id,omitempty"`
	Reconnected bool   `json:"reconnected,omitempty"`
}

// presenceClient holds a player's presence socket open and redials when it drops.
type presenceClient struct {
	url                  string
	pingInterval         time.Duration
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

func newPresenceClient(baseURL, seriesID, playerID string) (*presenceClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/series/" + seriesID + "/presence"
	u.RawQuery = url.Values{"player": {playerID}}.Encode()
	return &presenceClient{
		url:                  u.String(),
		pingInterval:         15 * time.Second,
		reconnectDelay:       2 * time.Second,
		maxReconnectAttempts: 10,
	}, nil
}

// Run keeps the socket open until ctx is cancelled or the reconnect budget runs out.
func (p *presenceClient) Run(ctx context.Context) error {
	attempts := 0
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		attempts++
		if attempts > p.maxReconnectAttempts {
			return fmt.Errorf("presence: giving up after %d attempts: %w", attempts-1, err)
		}
		delay := p.reconnectDelay * time.Duration(attempts)
		log.Printf("presence dropped (%v), redialing in %s", err, delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (p *presenceClient) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, p.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	go p.pingLoop(sctx, conn)

	for {
		var f presenceFrame
		if err := wsjson.Read(sctx, conn, &f); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		switch f.Type {
		case "presence":
			log.Printf("connected series=%s player=%s reconnected=%t", f.SeriesID, f.PlayerID, f.Reconnected)
		case "pong":
		default:
			log.Printf("frame: %+v", f)
		}
	}
}

func (p *presenceClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(p.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := wsjson.Write(wctx, conn, presenceFrame{Type: "ping"})
			cancel()
			if err != nil {
				_ = conn.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}
