package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/msgcat"
	"github.com/park285/caro-series/internal/obslog"
)

// LogEgress writes every event to the structured log.
type LogEgress struct {
	cat *msgcat.Catalog
}

func NewLogEgress(cat *msgcat.Catalog) *LogEgress { return &LogEgress{cat: cat} }

func (l *LogEgress) Publish(ctx context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("type", ev.Type),
		zap.String("series_id", ev.SeriesID),
	}
	if ev.PlayerID != "" {
		fields = append(fields, zap.String("player_id", ev.PlayerID))
	}
	text, err := Text(l.cat, ev)
	if err != nil {
		obslog.L().Debug("event_text_error", zap.String("type", ev.Type), zap.Error(err))
	}
	if text != "" {
		fields = append(fields, zap.String("text", text))
	}
	obslog.L().Info("event", fields...)
	return nil
}
