package rematch

import (
	"context"
	"time"

	"github.com/park285/caro-series/internal/series"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusDeclined Status = "DECLINED"
	StatusExpired  Status = "EXPIRED"
)

// Request is one rematch offer for a finished series.
type Request struct {
	ID          string    `json:"id"`
	SeriesID    string    `json:"series_id"`
	RequesterID string    `json:"requester_id"`
	ResponderID string    `json:"responder_id"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RespondedAt time.Time `json:"responded_at,omitempty"`
	NewSeriesID string    `json:"new_series_id,omitempty"`
}

func (r *Request) live(now time.Time) bool {
	return r != nil && r.Status == StatusPending && now.Before(r.ExpiresAt)
}

// Response carries the resolved request and, on accept, the new series.
type Response struct {
	Request *Request       `json:"request"`
	Series  *series.Series `json:"series,omitempty"`
}

// SeriesSource is the series side of the negotiator.
type SeriesSource interface {
	Get(ctx context.Context, id string) (*series.Series, error)
	CreateSeries(ctx context.Context, player1, player2 string) (*series.Series, error)
}
