package scoring

import "time"

// GameSample is the part of a recorded game needed for move-time averages.
type GameSample struct {
	XPlayer    string // first mover
	OPlayer    string
	TotalMoves int
	Duration   time.Duration
	// ThinkTime carries the measured decision time per player, when the game layer reports it.
	ThinkTime map[string]time.Duration
}

// MovesMade returns how many moves playerID made in the game; X moves first.
func (g GameSample) MovesMade(playerID string) int {
	switch playerID {
	case g.XPlayer:
		return (g.TotalMoves + 1) / 2
	case g.OPlayer:
		return g.TotalMoves / 2
	}
	return 0
}

// AverageMoveTime returns the player's average decision time per move across the
// games that carry a measured think time for that player. Game duration alone is
// shared by both sides and cannot tell them apart, so such games are skipped.
// Zero means unknown.
func AverageMoveTime(games []GameSample, playerID string) time.Duration {
	var total time.Duration
	moves := 0
	for _, g := range games {
		made := g.MovesMade(playerID)
		think := g.ThinkTime[playerID]
		if made <= 0 || think <= 0 {
			continue
		}
		total += think
		moves += made
	}
	if moves == 0 {
		return 0
	}
	return total / time.Duration(moves)
}
