package api

import (
	"time"

	"github.com/park285/caro-series/internal/disconnect"
	"github.com/park285/caro-series/internal/rematch"
	"github.com/park285/caro-series/internal/series"
	"github.com/park285/caro-series/internal/sqlstore"
	"github.com/park285/caro-series/pkg/seriesdto"
)

func seriesView(s *series.Series) seriesdto.SeriesView {
	v := seriesdto.SeriesView{
		ID:          s.ID,
		Player1:     s.Player1,
		Player2:     s.Player2,
		Status:      string(s.Status),
		CurrentGame: s.CurrentGame,
		Wins:        map[string]int{s.Player1: s.Wins[s.Player1], s.Player2: s.Wins[s.Player2]},
		Start:       make(map[string]seriesdto.SnapshotView, len(s.Start)),
		Games:       make([]seriesdto.GameView, 0, len(s.Games)),
		CreatedAt:   s.CreatedAt,
	}
	for pid, snap := range s.Start {
		v.Start[pid] = seriesdto.SnapshotView{MP: snap.MP, Tier: string(snap.Tier)}
	}
	for _, g := range s.Games {
		v.Games = append(v.Games, seriesdto.GameView{
			GameNumber:   g.GameNumber,
			WinnerID:     g.WinnerID,
			LoserID:      g.LoserID,
			XPlayer:      g.XPlayer,
			TotalMoves:   g.TotalMoves,
			DurationMS:   g.Duration.Milliseconds(),
			WinCondition: g.WinCondition,
			RecordedAt:   g.RecordedAt,
		})
	}
	if s.Status == series.StatusInProgress {
		v.XPlayer = s.XPlayer(s.CurrentGame)
		if !s.NextGameAt.IsZero() {
			v.NextGameAt = timePtr(s.NextGameAt)
		}
	}
	if !s.EndedAt.IsZero() {
		v.EndedAt = timePtr(s.EndedAt)
	}
	if o := s.Outcome; o != nil {
		ov := &seriesdto.OutcomeView{
			WinnerID:    o.WinnerID,
			LoserID:     o.LoserID,
			FinalScore:  o.FinalScore,
			Abandoned:   o.Abandoned,
			AbandonedBy: o.AbandonedBy,
			Rewards:     make(map[string]seriesdto.RewardView, len(o.Rewards)),
		}
		for pid, r := range o.Rewards {
			ov.Rewards[pid] = seriesdto.RewardView{
				MP:        r.MP,
				Coins:     r.Coins,
				Exp:       r.Exp,
				Confirmed: r.Confirmed,
				Attempts:  r.Attempts,
				LastError: r.LastError,
			}
		}
		for _, rc := range o.RankChanges {
			ov.RankChanges = append(ov.RankChanges, seriesdto.RankChangeView{
				PlayerID: rc.PlayerID,
				OldTier:  string(rc.OldTier),
				NewTier:  string(rc.NewTier),
				MP:       rc.MP,
			})
		}
		v.Outcome = ov
	}
	return v
}

func rematchView(r *rematch.Request) seriesdto.RematchView {
	return seriesdto.RematchView{
		ID:          r.ID,
		SeriesID:    r.SeriesID,
		RequesterID: r.RequesterID,
		ResponderID: r.ResponderID,
		Status:      string(r.Status),
		ExpiresAt:   r.ExpiresAt,
		NewSeriesID: r.NewSeriesID,
	}
}

func disconnectView(st disconnect.State, started bool) seriesdto.DisconnectView {
	return seriesdto.DisconnectView{
		SeriesID:   st.SeriesID,
		PlayerID:   st.PlayerID,
		GameNumber: st.GameNumber,
		Since:      st.Since,
		Deadline:   st.Deadline,
		Started:    started,
	}
}

func historyEntry(playerID string, rec *sqlstore.Record) seriesdto.HistoryEntry {
	e := seriesdto.HistoryEntry{
		SeriesID:         rec.SeriesID,
		Opponent:         rec.Player1,
		Status:           string(rec.Status),
		Won:              rec.WinnerID == playerID,
		FinalScore:       rec.FinalScore,
		RewardsConfirmed: rec.RewardsConfirmed,
		EndedAt:          rec.EndedAt,
	}
	if rec.Player1 == playerID {
		e.Opponent = rec.Player2
	}
	if e.Won {
		e.MPDelta = rec.WinnerMP
	} else {
		e.MPDelta = rec.LoserMP
	}
	return e
}

func timePtr(t time.Time) *time.Time { return &t }
