package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/caro-series/internal/series"
)

var ErrNotArchived = errors.New("series not archived")

// Record is one archived terminal series.
type Record struct {
	SeriesID         string              `json:"series_id"`
	Player1          string              `json:"player1"`
	Player2          string              `json:"player2"`
	Status           series.Status       `json:"status"`
	WinnerID         string              `json:"winner_id"`
	LoserID          string              `json:"loser_id"`
	FinalScore       string              `json:"final_score"`
	AbandonedBy      string              `json:"abandoned_by,omitempty"`
	WinnerMP         int                 `json:"winner_mp"`
	LoserMP          int                 `json:"loser_mp"`
	RewardsConfirmed bool                `json:"rewards_confirmed"`
	Games            []series.GameResult `json:"games"`
	Outcome          *series.Outcome     `json:"outcome"`
	StartedAt        time.Time           `json:"started_at"`
	EndedAt          time.Time           `json:"ended_at"`
}

// Archive stores finished series; it satisfies series.Archiver.
type Archive struct {
	db *sql.DB
}

func NewArchive(db *sql.DB) *Archive { return &Archive{db: db} }

// Archive upserts a terminal series. Re-archiving refreshes reward confirmation.
func (a *Archive) Archive(ctx context.Context, s *series.Series) error {
	if a == nil || a.db == nil || s == nil {
		return nil
	}
	if !s.Status.Terminal() || s.Outcome == nil {
		return fmt.Errorf("archive %s: %w", s.ID, series.ErrSeriesNotTerminal)
	}
	gamesRaw, err := json.Marshal(s.Games)
	if err != nil {
		return fmt.Errorf("marshal games: %w", err)
	}
	outcomeRaw, err := json.Marshal(s.Outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	o := s.Outcome
	var winnerMP, loserMP int
	confirmed := 1
	if r := o.Rewards[o.WinnerID]; r != nil {
		winnerMP = r.MP
		if !r.Confirmed {
			confirmed = 0
		}
	}
	if r := o.Rewards[o.LoserID]; r != nil {
		loserMP = r.MP
		if !r.Confirmed {
			confirmed = 0
		}
	}

	const query = `
		INSERT INTO series_archive (
			series_id, player1, player2, status,
			winner_id, loser_id, final_score, abandoned_by,
			winner_mp, loser_mp, rewards_confirmed,
			games_json, outcome_json, started_at_ms, ended_at_ms
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
		) ON CONFLICT (series_id) DO UPDATE SET
			status=EXCLUDED.status,
			winner_mp=EXCLUDED.winner_mp,
			loser_mp=EXCLUDED.loser_mp,
			rewards_confirmed=EXCLUDED.rewards_confirmed,
			outcome_json=EXCLUDED.outcome_json`
	_, err = a.db.ExecContext(ctx, query,
		s.ID, s.Player1, s.Player2, string(s.Status),
		o.WinnerID, o.LoserID, o.FinalScore, o.AbandonedBy,
		winnerMP, loserMP, confirmed,
		string(gamesRaw), string(outcomeRaw), s.StartedAt.UnixMilli(), s.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("archive series %s: %w", s.ID, err)
	}
	return nil
}

const selectRecord = `
	SELECT
		series_id, player1, player2, status,
		winner_id, loser_id, final_score, abandoned_by,
		winner_mp, loser_mp, rewards_confirmed,
		games_json, outcome_json, started_at_ms, ended_at_ms
	FROM series_archive`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                  Record
		status               string
		confirmed            int
		gamesRaw, outcomeRaw string
		startMS, endMS       int64
	)
	if err := row.Scan(
		&rec.SeriesID, &rec.Player1, &rec.Player2, &status,
		&rec.WinnerID, &rec.LoserID, &rec.FinalScore, &rec.AbandonedBy,
		&rec.WinnerMP, &rec.LoserMP, &confirmed,
		&gamesRaw, &outcomeRaw, &startMS, &endMS,
	); err != nil {
		return nil, err
	}
	rec.Status = series.Status(status)
	rec.RewardsConfirmed = confirmed == 1
	if err := json.Unmarshal([]byte(gamesRaw), &rec.Games); err != nil {
		return nil, fmt.Errorf("unmarshal games: %w", err)
	}
	if err := json.Unmarshal([]byte(outcomeRaw), &rec.Outcome); err != nil {
		return nil, fmt.Errorf("unmarshal outcome: %w", err)
	}
	rec.StartedAt = time.UnixMilli(startMS)
	rec.EndedAt = time.UnixMilli(endMS)
	return &rec, nil
}

func (a *Archive) Get(ctx context.Context, seriesID string) (*Record, error) {
	rec, err := scanRecord(a.db.QueryRowContext(ctx, selectRecord+` WHERE series_id = $1`, strings.TrimSpace(seriesID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotArchived
	}
	if err != nil {
		return nil, fmt.Errorf("select archived series: %w", err)
	}
	return rec, nil
}

// History returns a player's archived series, most recent first.
func (a *Archive) History(ctx context.Context, playerID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	playerID = strings.TrimSpace(playerID)
	rows, err := a.db.QueryContext(ctx,
		selectRecord+` WHERE player1 = $1 OR player2 = $1 ORDER BY ended_at_ms DESC LIMIT $2`,
		playerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()
	out := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
