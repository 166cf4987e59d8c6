package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/obslog"
)

// Async decouples slow egresses from state transitions with a bounded buffer.
// Events are dropped, and logged, when the buffer is full.
type Async struct {
	inner Egress
	ch    chan Event
}

func NewAsync(inner Egress, buffer int) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	return &Async{inner: inner, ch: make(chan Event, buffer)}
}

func (a *Async) Publish(ctx context.Context, ev Event) error {
	select {
	case a.ch <- ev:
	default:
		obslog.L().Warn("event_dropped", zap.String("type", ev.Type), zap.String("series_id", ev.SeriesID))
	}
	return nil
}

// Run delivers buffered events until ctx is cancelled, then drains what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-a.ch:
			a.deliver(ctx, ev)
		case <-ctx.Done():
			a.drain()
			return nil
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-a.ch:
			a.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (a *Async) deliver(ctx context.Context, ev Event) {
	if err := a.inner.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_error",
			zap.String("type", ev.Type),
			zap.String("series_id", ev.SeriesID),
			zap.Error(err),
		)
	}
}
