package rematch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/notify"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/series"
)

const (
	DefaultExpiry = 15 * time.Second
	DefaultWindow = 2 * time.Minute
)

type window struct {
	mu       sync.Mutex
	seriesID string
	player1  string
	player2  string
	closesAt time.Time
	closed   bool
	req      *Request
	expiry   clock.Timer
	closer   clock.Timer
}

// Negotiator tracks one rematch window per terminal series.
type Negotiator struct {
	src    SeriesSource
	clk    clock.Scheduler
	expiry time.Duration
	span   time.Duration

	egMu   sync.RWMutex
	egress notify.Egress

	mu      sync.Mutex
	windows map[string]*window
}

func NewNegotiator(src SeriesSource, clk clock.Scheduler, expiry, span time.Duration) *Negotiator {
	if clk == nil {
		clk = clock.Real()
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if span <= 0 {
		span = DefaultWindow
	}
	return &Negotiator{src: src, clk: clk, expiry: expiry, span: span, windows: make(map[string]*window)}
}

func (n *Negotiator) AttachEgress(e notify.Egress) {
	n.egMu.Lock()
	n.egress = e
	n.egMu.Unlock()
}

// Arm opens the rematch window of a terminal series. Later calls are no-ops.
func (n *Negotiator) Arm(s *series.Series) {
	if s == nil || !s.Status.Terminal() {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.windows[s.ID]; ok {
		return
	}
	w := &window{
		seriesID: s.ID,
		player1:  s.Player1,
		player2:  s.Player2,
		closesAt: n.clk.Now().Add(n.span),
	}
	id := s.ID
	w.closer = n.clk.AfterFunc(n.span, func() { n.closeWindow(id, w) })
	n.windows[id] = w
	obslog.L().Debug("rematch_armed", zap.String("series_id", id), zap.Time("closes_at", w.closesAt))
}

func (n *Negotiator) lookup(seriesID string) *window {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.windows[seriesID]
}

// RequestRematch offers a rematch to the other participant of a finished series.
func (n *Negotiator) RequestRematch(ctx context.Context, seriesID, requesterID string) (*Request, error) {
	seriesID = strings.TrimSpace(seriesID)
	requesterID = strings.TrimSpace(requesterID)
	s, err := n.src.Get(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	if !s.Status.Terminal() {
		return nil, series.ErrSeriesNotTerminal
	}
	if !s.Has(requesterID) {
		return nil, series.ErrInvalidParticipants
	}
	w := n.lookup(seriesID)
	if w == nil {
		return nil, series.ErrRematchClosed
	}

	now := n.clk.Now()
	w.mu.Lock()
	if w.req.live(now) {
		w.mu.Unlock()
		return nil, series.ErrRematchAlreadyPending
	}
	if w.closed || !now.Before(w.closesAt) {
		w.mu.Unlock()
		return nil, series.ErrRematchClosed
	}
	id, err := gonanoid.New()
	if err != nil {
		w.mu.Unlock()
		return nil, fmt.Errorf("rematch id: %w", err)
	}
	req := &Request{
		ID:          id,
		SeriesID:    seriesID,
		RequesterID: requesterID,
		ResponderID: s.Opponent(requesterID),
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(n.expiry),
	}
	if w.expiry != nil {
		w.expiry.Stop()
	}
	w.req = req
	w.expiry = n.clk.AfterFunc(n.expiry, func() { n.expire(w, id) })
	out := *req
	w.mu.Unlock()

	obslog.L().Info("rematch_request",
		zap.String("series_id", seriesID),
		zap.String("request_id", id),
		zap.String("requester_id", requesterID),
		zap.Time("expires_at", out.ExpiresAt),
	)
	n.publish(ctx, notify.Event{
		Type:     notify.EventRematchRequested,
		SeriesID: seriesID,
		PlayerID: out.ResponderID,
		At:       now,
		Data:     map[string]any{"request_id": id, "requester_id": requesterID, "expires_at": out.ExpiresAt},
	})
	return &out, nil
}

// RespondToRematch resolves the pending request. Accepting starts a new series
// with the player order reversed, so the other player moves first in game 1.
func (n *Negotiator) RespondToRematch(ctx context.Context, seriesID, responderID string, accept bool) (*Response, error) {
	seriesID = strings.TrimSpace(seriesID)
	responderID = strings.TrimSpace(responderID)
	w := n.lookup(seriesID)
	if w == nil {
		return nil, series.ErrNoPendingRequest
	}
	now := n.clk.Now()
	w.mu.Lock()
	req := w.req
	if w.closed || !req.live(now) {
		w.mu.Unlock()
		return nil, series.ErrNoPendingRequest
	}
	if responderID != req.ResponderID {
		w.mu.Unlock()
		return nil, series.ErrInvalidParticipants
	}

	if !accept {
		req.Status = StatusDeclined
		req.RespondedAt = now
		w.expiry.Stop()
		out := *req
		w.mu.Unlock()
		obslog.L().Info("rematch_decline", zap.String("series_id", seriesID), zap.String("request_id", out.ID))
		n.publish(ctx, notify.Event{
			Type:     notify.EventRematchDeclined,
			SeriesID: seriesID,
			PlayerID: out.RequesterID,
			At:       now,
			Data:     map[string]any{"request_id": out.ID},
		})
		return &Response{Request: &out}, nil
	}

	next, err := n.src.CreateSeries(ctx, w.player2, w.player1)
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	req.Status = StatusAccepted
	req.RespondedAt = now
	req.NewSeriesID = next.ID
	w.closed = true
	w.expiry.Stop()
	w.closer.Stop()
	out := *req
	w.mu.Unlock()
	n.drop(seriesID, w)

	obslog.L().Info("rematch_accept",
		zap.String("series_id", seriesID),
		zap.String("request_id", out.ID),
		zap.String("new_series_id", next.ID),
	)
	n.publish(ctx, notify.Event{
		Type:     notify.EventRematchAccepted,
		SeriesID: seriesID,
		PlayerID: out.RequesterID,
		At:       now,
		Data:     map[string]any{"request_id": out.ID, "new_series_id": next.ID},
	})
	return &Response{Request: &out, Series: next}, nil
}

// Pending returns the live request of a series, if any.
func (n *Negotiator) Pending(seriesID string) (*Request, bool) {
	w := n.lookup(strings.TrimSpace(seriesID))
	if w == nil {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.req.live(n.clk.Now()) {
		return nil, false
	}
	out := *w.req
	return &out, true
}

func (n *Negotiator) expire(w *window, reqID string) {
	w.mu.Lock()
	req := w.req
	if req == nil || req.ID != reqID || req.Status != StatusPending {
		w.mu.Unlock()
		return
	}
	req.Status = StatusExpired
	w.req = nil
	out := *req
	w.mu.Unlock()

	obslog.L().Info("rematch_expired", zap.String("series_id", out.SeriesID), zap.String("request_id", out.ID))
	n.publish(context.Background(), notify.Event{
		Type:     notify.EventRematchExpired,
		SeriesID: out.SeriesID,
		PlayerID: out.RequesterID,
		At:       n.clk.Now(),
		Data:     map[string]any{"request_id": out.ID},
	})
}

func (n *Negotiator) closeWindow(seriesID string, w *window) {
	n.drop(seriesID, w)
	w.mu.Lock()
	w.closed = true
	if w.expiry != nil {
		w.expiry.Stop()
	}
	if w.req != nil && w.req.Status == StatusPending {
		w.req.Status = StatusExpired
	}
	w.mu.Unlock()
	obslog.L().Debug("rematch_window_closed", zap.String("series_id", seriesID))
}

func (n *Negotiator) drop(seriesID string, w *window) {
	n.mu.Lock()
	if n.windows[seriesID] == w {
		delete(n.windows, seriesID)
	}
	n.mu.Unlock()
}

func (n *Negotiator) publish(ctx context.Context, ev notify.Event) {
	n.egMu.RLock()
	eg := n.egress
	n.egMu.RUnlock()
	if eg == nil {
		return
	}
	if err := eg.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_error", zap.String("type", ev.Type), zap.Error(err))
	}
}
