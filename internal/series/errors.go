package series

import "errors"

// Validation failures. Detected before any mutation; the caller may safely drop the request.
var (
	ErrInvalidParticipants   = errors.New("invalid participants")
	ErrSeriesAlreadyTerminal = errors.New("series already terminal")
	ErrStaleGameNumber       = errors.New("stale game number")
	ErrSeriesNotTerminal     = errors.New("series not terminal")
	ErrRematchAlreadyPending = errors.New("rematch already pending")
	ErrNoPendingRequest      = errors.New("no pending rematch request")
	ErrSeriesNotFound        = errors.New("series not found")
	ErrRematchClosed         = errors.New("rematch window closed")
	ErrInvalidReport         = errors.New("invalid game report")
)

// ErrRewardDelivery marks a profile store failure after the series already turned terminal.
// The stored deltas must be redelivered, never recomputed.
var ErrRewardDelivery = errors.New("reward delivery failed")
