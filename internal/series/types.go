package series

import (
	"time"

	"github.com/park285/caro-series/internal/rank"
	"github.com/park285/caro-series/internal/scoring"
)

// Status represents a series lifecycle state.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

// Side identifies a Caro mark. X moves first.
type Side string

const (
	SideX Side = "X"
	SideO Side = "O"
)

const (
	GamesToWin = 2
	MaxGames   = 3

	WinConditionForfeit = "forfeit"
)

// Snapshot is a player's standing frozen at series creation.
type Snapshot struct {
	MP   int       `json:"mp"`
	Tier rank.Tier `json:"tier"`
}

// GameResult is one finished game. Immutable once recorded.
type GameResult struct {
	GameNumber   int                      `json:"game_number"`
	WinnerID     string                   `json:"winner_id"`
	LoserID      string                   `json:"loser_id"`
	XPlayer      string                   `json:"x_player"`
	TotalMoves   int                      `json:"total_moves"`
	Duration     time.Duration            `json:"duration"`
	WinCondition string                   `json:"win_condition"`
	ThinkTime    map[string]time.Duration `json:"think_time,omitempty"`
	RecordedAt   time.Time                `json:"recorded_at"`
}

// GameReport is the ingress payload for a finished game.
type GameReport struct {
	GameNumber   int
	WinnerID     string
	LoserID      string
	TotalMoves   int
	Duration     time.Duration
	WinCondition string
	// ThinkTime is optional measured decision time per player for this game.
	ThinkTime map[string]time.Duration
}

// Reward is the stored per-player delta. Confirmed flips once the profile store accepted it.
type Reward struct {
	MP        int       `json:"mp"`
	Coins     int       `json:"coins"`
	Exp       int       `json:"exp"`
	Confirmed bool      `json:"confirmed"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// Outcome is populated once at the terminal transition and never recomputed.
type Outcome struct {
	WinnerID    string               `json:"winner_id"`
	LoserID     string               `json:"loser_id"`
	FinalScore  string               `json:"final_score"`
	Abandoned   bool                 `json:"abandoned"`
	AbandonedBy string               `json:"abandoned_by,omitempty"`
	Rewards     map[string]*Reward   `json:"rewards"`
	RankChanges []scoring.RankChange `json:"rank_changes,omitempty"`
	Breakdown   scoring.Breakdown    `json:"breakdown"`
}

// Series is one ranked BO3 match between two players.
type Series struct {
	ID      string `json:"id"`
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`

	Start map[string]Snapshot `json:"start"`

	Wins        map[string]int `json:"wins"`
	CurrentGame int            `json:"current_game"`
	Games       []GameResult   `json:"games"`

	Status  Status   `json:"status"`
	Outcome *Outcome `json:"outcome,omitempty"`

	// RewardsApplied is set once, before the first profile mutation is issued.
	RewardsApplied bool `json:"rewards_applied"`

	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	// NextGameAt is the end of the between-games countdown; the current game is playable from then on.
	NextGameAt time.Time `json:"next_game_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Playable reports whether the current game has left its countdown.
func (s *Series) Playable(now time.Time) bool {
	return s.Status == StatusInProgress && !now.Before(s.NextGameAt)
}

// gameStart is when the current game became (or becomes) playable.
func (s *Series) gameStart() time.Time {
	if !s.NextGameAt.IsZero() {
		return s.NextGameAt
	}
	return s.StartedAt
}

// Has reports whether playerID takes part in the series.
func (s *Series) Has(playerID string) bool {
	return playerID != "" && (playerID == s.Player1 || playerID == s.Player2)
}

// Opponent returns the other participant, or "" for a stranger.
func (s *Series) Opponent(playerID string) string {
	switch playerID {
	case s.Player1:
		return s.Player2
	case s.Player2:
		return s.Player1
	}
	return ""
}

// SideFor returns the mark playerID holds in the given game. Player1 is X in odd games.
func (s *Series) SideFor(game int, playerID string) Side {
	p1X := game%2 == 1
	if (playerID == s.Player1) == p1X {
		return SideX
	}
	return SideO
}

// XPlayer returns who plays X in the given game.
func (s *Series) XPlayer(game int) string {
	if s.SideFor(game, s.Player1) == SideX {
		return s.Player1
	}
	return s.Player2
}

// Clone returns a deep copy safe to hand out of the machine.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	c := *s
	c.Start = make(map[string]Snapshot, len(s.Start))
	for k, v := range s.Start {
		c.Start[k] = v
	}
	c.Wins = make(map[string]int, len(s.Wins))
	for k, v := range s.Wins {
		c.Wins[k] = v
	}
	c.Games = make([]GameResult, len(s.Games))
	for i, g := range s.Games {
		c.Games[i] = g
		if g.ThinkTime != nil {
			tt := make(map[string]time.Duration, len(g.ThinkTime))
			for k, v := range g.ThinkTime {
				tt[k] = v
			}
			c.Games[i].ThinkTime = tt
		}
	}
	if s.Outcome != nil {
		o := *s.Outcome
		o.Rewards = make(map[string]*Reward, len(s.Outcome.Rewards))
		for k, v := range s.Outcome.Rewards {
			r := *v
			o.Rewards[k] = &r
		}
		o.RankChanges = append([]scoring.RankChange(nil), s.Outcome.RankChanges...)
		c.Outcome = &o
	}
	return &c
}

func (s *Series) samples() []scoring.GameSample {
	out := make([]scoring.GameSample, 0, len(s.Games))
	for _, g := range s.Games {
		out = append(out, scoring.GameSample{
			XPlayer:    g.XPlayer,
			OPlayer:    s.Opponent(g.XPlayer),
			TotalMoves: g.TotalMoves,
			Duration:   g.Duration,
			ThinkTime:  g.ThinkTime,
		})
	}
	return out
}
