package scoring

import (
	"time"

	"github.com/park285/caro-series/internal/rank"
)

// Rules holds the reward constants of a ranked BO3 series.
type Rules struct {
	BaseWinMP       int
	SweepBonus      int
	TimeBonus       int
	UpsetPerTier    int // applied when the opponent started on a higher tier
	DiscountPerTier int // applied when the opponent started on a lower tier
	MinWinMP        int
	MaxWinMP        int
	LossMP          int
	AbandonMP       int // replaces LossMP for the abandoning player, not clamped

	WinCoinsBase    int
	WinCoinsPerGame int
	LossCoins       int
	WinExp          int
	LossExp         int
}

func DefaultRules() Rules {
	return Rules{
		BaseWinMP:       20,
		SweepBonus:      10,
		TimeBonus:       5,
		UpsetPerTier:    5,
		DiscountPerTier: 3,
		MinWinMP:        5,
		MaxWinMP:        50,
		LossMP:          -15,
		AbandonMP:       -25,
		WinCoinsBase:    50,
		WinCoinsPerGame: 10,
		LossCoins:       20,
		WinExp:          100,
		LossExp:         40,
	}
}

// Snapshot is a player's frozen standing at series creation.
type Snapshot struct {
	PlayerID string
	MP       int
	Tier     rank.Tier
}

type Input struct {
	Winner      Snapshot
	Loser       Snapshot
	WinnerGames int
	LoserGames  int

	// Average per-move decision time across the series; zero means unknown.
	WinnerAvgMove time.Duration
	LoserAvgMove  time.Duration

	// Abandoned marks a series ended by the loser abandoning it.
	Abandoned bool
}

type Delta struct {
	MP    int `json:"mp"`
	Coins int `json:"coins"`
	Exp   int `json:"exp"`
}

type PlayerResult struct {
	PlayerID string    `json:"player_id"`
	Delta    Delta     `json:"delta"`
	OldMP    int       `json:"old_mp"`
	NewMP    int       `json:"new_mp"`
	OldTier  rank.Tier `json:"old_tier"`
	NewTier  rank.Tier `json:"new_tier"`
}

type RankChange struct {
	PlayerID string    `json:"player_id"`
	OldTier  rank.Tier `json:"old_tier"`
	NewTier  rank.Tier `json:"new_tier"`
	MP       int       `json:"mp"`
}

// Promoted reports whether the change moved the player up the ladder.
func (c RankChange) Promoted() bool { return rank.Value(c.NewTier) > rank.Value(c.OldTier) }

// Breakdown exposes the intermediate terms of the winner's MP.
type Breakdown struct {
	RankDifference int  `json:"rank_difference"`
	Sweep          int  `json:"sweep"`
	Time           int  `json:"time"`
	RankAdjustment int  `json:"rank_adjustment"`
	Unclamped      int  `json:"unclamped"`
	Clamped        bool `json:"clamped"`
}

type Result struct {
	Winner      PlayerResult `json:"winner"`
	Loser       PlayerResult `json:"loser"`
	RankChanges []RankChange `json:"rank_changes,omitempty"`
	Breakdown   Breakdown    `json:"breakdown"`
}

// Engine computes series rewards. It has no side effects.
type Engine struct {
	rules Rules
}

func NewEngine(rules Rules) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) Compute(in Input) Result {
	r := e.rules
	var b Breakdown

	diff := rank.Distance(in.Loser.Tier, in.Winner.Tier)
	b.RankDifference = abs(diff)

	if in.WinnerGames >= 2 && in.LoserGames == 0 {
		b.Sweep = r.SweepBonus
	}
	if in.WinnerAvgMove > 0 && in.LoserAvgMove > 0 && in.WinnerAvgMove < in.LoserAvgMove {
		b.Time = r.TimeBonus
	}
	switch {
	case diff > 0:
		b.RankAdjustment = r.UpsetPerTier * b.RankDifference
	case diff < 0:
		b.RankAdjustment = -r.DiscountPerTier * b.RankDifference
	}

	b.Unclamped = r.BaseWinMP + b.Sweep + b.Time + b.RankAdjustment
	winMP := clamp(b.Unclamped, r.MinWinMP, r.MaxWinMP)
	b.Clamped = winMP != b.Unclamped

	lossMP := r.LossMP
	if in.Abandoned {
		lossMP = r.AbandonMP
	}

	res := Result{Breakdown: b}
	res.Winner = project(in.Winner, Delta{
		MP:    winMP,
		Coins: r.WinCoinsBase + r.WinCoinsPerGame*in.WinnerGames,
		Exp:   r.WinExp,
	})
	res.Loser = project(in.Loser, Delta{MP: lossMP, Coins: r.LossCoins, Exp: r.LossExp})

	for _, p := range []PlayerResult{res.Winner, res.Loser} {
		if p.NewTier != p.OldTier {
			res.RankChanges = append(res.RankChanges, RankChange{
				PlayerID: p.PlayerID,
				OldTier:  p.OldTier,
				NewTier:  p.NewTier,
				MP:       p.NewMP,
			})
		}
	}
	return res
}

func project(s Snapshot, d Delta) PlayerResult {
	oldTier := s.Tier
	if oldTier == "" {
		oldTier = rank.FromMP(s.MP)
	}
	newMP := s.MP + d.MP
	if newMP < 0 {
		newMP = 0
	}
	return PlayerResult{
		PlayerID: s.PlayerID,
		Delta:    d,
		OldMP:    s.MP,
		NewMP:    newMP,
		OldTier:  oldTier,
		NewTier:  rank.FromMP(newMP),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
