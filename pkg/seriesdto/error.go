package seriesdto

// Error codes returned by the HTTP API.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidParticipants   = "invalid_participants"
	CodeSeriesNotFound        = "series_not_found"
	CodeSeriesAlreadyTerminal = "series_already_terminal"
	CodeStaleGameNumber       = "stale_game_number"
	CodeSeriesNotTerminal     = "series_not_terminal"
	CodeRematchPending        = "rematch_already_pending"
	CodeRematchClosed         = "rematch_closed"
	CodeNoPendingRequest      = "no_pending_request"
	CodeNotDisconnectable     = "player_not_active"
	CodeRewardDelivery        = "reward_delivery_failed"
	CodeInternal              = "internal"
)

type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "series service error"
}

// ErrorResponse wraps a DomainError for JSON bodies.
type ErrorResponse struct {
	Error DomainError `json:"error"`
}
