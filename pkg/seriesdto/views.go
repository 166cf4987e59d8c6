package seriesdto

import "time"

type SnapshotView struct {
	MP   int    `json:"mp"`
	Tier string `json:"tier"`
}

type GameView struct {
	GameNumber   int       `json:"gameNumber"`
	WinnerID     string    `json:"winnerId"`
	LoserID      string    `json:"loserId"`
	XPlayer      string    `json:"xPlayer"`
	TotalMoves   int       `json:"totalMoves"`
	DurationMS   int64     `json:"durationMs"`
	WinCondition string    `json:"winCondition"`
	RecordedAt   time.Time `json:"recordedAt"`
}

type RewardView struct {
	MP        int    `json:"mp"`
	Coins     int    `json:"coins"`
	Exp       int    `json:"exp"`
	Confirmed bool   `json:"confirmed"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

type RankChangeView struct {
	PlayerID string `json:"playerId"`
	OldTier  string `json:"oldTier"`
	NewTier  string `json:"newTier"`
	MP       int    `json:"mp"`
}

type OutcomeView struct {
	WinnerID    string                `json:"winnerId"`
	LoserID     string                `json:"loserId"`
	FinalScore  string                `json:"finalScore"`
	Abandoned   bool                  `json:"abandoned"`
	AbandonedBy string                `json:"abandonedBy,omitempty"`
	Rewards     map[string]RewardView `json:"rewards"`
	RankChanges []RankChangeView      `json:"rankChanges,omitempty"`
}

type SeriesView struct {
	ID          string                  `json:"id"`
	Player1     string                  `json:"player1"`
	Player2     string                  `json:"player2"`
	Status      string                  `json:"status"`
	CurrentGame int                     `json:"currentGame"`
	Wins        map[string]int          `json:"wins"`
	Start       map[string]SnapshotView `json:"start"`
	XPlayer     string                  `json:"xPlayer,omitempty"`
	Games       []GameView              `json:"games"`
	Outcome     *OutcomeView            `json:"outcome,omitempty"`
	NextGameAt  *time.Time              `json:"nextGameAt,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	EndedAt     *time.Time              `json:"endedAt,omitempty"`
}

type DisconnectView struct {
	SeriesID   string    `json:"seriesId"`
	PlayerID   string    `json:"playerId"`
	GameNumber int       `json:"gameNumber"`
	Since      time.Time `json:"since"`
	Deadline   time.Time `json:"deadline"`
	Started    bool      `json:"started"`
}

type RematchView struct {
	ID          string    `json:"id"`
	SeriesID    string    `json:"seriesId"`
	RequesterID string    `json:"requesterId"`
	ResponderID string    `json:"responderId"`
	Status      string    `json:"status"`
	ExpiresAt   time.Time `json:"expiresAt"`
	NewSeriesID string    `json:"newSeriesId,omitempty"`
}

type RematchResult struct {
	Request RematchView `json:"request"`
	Series  *SeriesView `json:"series,omitempty"`
}

type HistoryEntry struct {
	SeriesID         string    `json:"seriesId"`
	Opponent         string    `json:"opponent"`
	Status           string    `json:"status"`
	Won              bool      `json:"won"`
	FinalScore       string    `json:"finalScore"`
	MPDelta          int       `json:"mpDelta"`
	RewardsConfirmed bool      `json:"rewardsConfirmed"`
	EndedAt          time.Time `json:"endedAt"`
}
