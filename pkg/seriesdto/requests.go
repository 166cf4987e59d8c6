package seriesdto

type CreateSeriesRequest struct {
	Player1 string `json:"player1" binding:"required"`
	Player2 string `json:"player2" binding:"required"`
}

type GameResultRequest struct {
	GameNumber      int            `json:"gameNumber" binding:"required,min=1"`
	WinnerID        string         `json:"winnerId" binding:"required"`
	LoserID         string         `json:"loserId" binding:"required"`
	TotalMoves      int            `json:"totalMoves" binding:"min=0"`
	DurationSeconds float64        `json:"durationSeconds" binding:"min=0"`
	WinCondition    string         `json:"winCondition"`
	ThinkTimeMS     map[string]int `json:"thinkTimeMs"`
}

type PlayerRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}

type RematchRequest struct {
	RequesterID string `json:"requesterId" binding:"required"`
}

type RematchResponseRequest struct {
	ResponderID string `json:"responderId" binding:"required"`
	Accept      *bool  `json:"accept" binding:"required"`
}
