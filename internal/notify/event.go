package notify

import (
	"context"
	"time"
)

// Event types emitted by the series engine.
const (
	EventSeriesCreated      = "series_created"
	EventGameRecorded       = "game_recorded"
	EventNextGameReady      = "next_game_ready"
	EventSeriesCompleted    = "series_completed"
	EventSeriesAbandoned    = "series_abandoned"
	EventRankChanged        = "rank_changed"
	EventRewardDeferred     = "reward_deferred"
	EventRematchRequested   = "rematch_requested"
	EventRematchAccepted    = "rematch_accepted"
	EventRematchDeclined    = "rematch_declined"
	EventRematchExpired     = "rematch_expired"
	EventPlayerDisconnected = "player_disconnected"
	EventPlayerReconnected  = "player_reconnected"
)

// Event is one outbound notification. Data keys are snake_case.
type Event struct {
	Type     string         `json:"type"`
	SeriesID string         `json:"series_id"`
	PlayerID string         `json:"player_id,omitempty"`
	At       time.Time      `json:"at"`
	Data     map[string]any `json:"data,omitempty"`
}

// Egress delivers events to an out-of-process consumer.
type Egress interface {
	Publish(ctx context.Context, ev Event) error
}
