package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/caro-series/internal/profile"
	"github.com/park285/caro-series/internal/rank"
)

// ProfileStore keeps player balances in player_profiles.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore { return &ProfileStore{db: db} }

func (s *ProfileStore) Load(ctx context.Context, playerID string) (*profile.Profile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, profile.ErrInvalidPlayer
	}
	const query = `
		SELECT mp, coins, exp, updated_at_ms
		FROM player_profiles
		WHERE player_id = $1`
	p := &profile.Profile{PlayerID: playerID}
	var updatedMS int64
	err := s.db.QueryRowContext(ctx, query, playerID).Scan(&p.MP, &p.Coins, &p.Exp, &updatedMS)
	if errors.Is(err, sql.ErrNoRows) {
		p.Tier = rank.Unranked
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select profile: %w", err)
	}
	p.Tier = rank.FromMP(p.MP)
	if updatedMS > 0 {
		p.UpdatedAt = time.UnixMilli(updatedMS)
	}
	return p, nil
}

// ApplyReward adds the delta in one upsert so concurrent rewards never lose updates.
func (s *ProfileStore) ApplyReward(ctx context.Context, playerID string, r profile.Reward) (*profile.Applied, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, profile.ErrInvalidPlayer
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin reward tx: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO player_profiles (player_id, mp, coins, exp, tier, updated_at_ms)
		VALUES ($1, CASE WHEN $2 < 0 THEN 0 ELSE $2 END, $3, $4, $5, $6)
		ON CONFLICT (player_id) DO UPDATE SET
			mp = CASE WHEN player_profiles.mp + $2 < 0 THEN 0 ELSE player_profiles.mp + $2 END,
			coins = player_profiles.coins + $3,
			exp = player_profiles.exp + $4,
			updated_at_ms = $6
		RETURNING mp, coins, exp`
	out := &profile.Applied{PlayerID: playerID}
	now := time.Now().UnixMilli()
	if err := tx.QueryRowContext(ctx, upsert,
		playerID, r.MP, r.Coins, r.Exp, string(rank.Unranked), now,
	).Scan(&out.MP, &out.Coins, &out.Exp); err != nil {
		return nil, fmt.Errorf("apply reward: %w", err)
	}
	out.Tier = rank.FromMP(out.MP)
	if _, err := tx.ExecContext(ctx,
		`UPDATE player_profiles SET tier = $1 WHERE player_id = $2`,
		string(out.Tier), playerID,
	); err != nil {
		return nil, fmt.Errorf("update tier: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit reward: %w", err)
	}
	return out, nil
}

// Seed overwrites a profile balance.
func (s *ProfileStore) Seed(ctx context.Context, p profile.Profile) error {
	const query = `
		INSERT INTO player_profiles (player_id, mp, coins, exp, tier, updated_at_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (player_id) DO UPDATE SET
			mp = EXCLUDED.mp,
			coins = EXCLUDED.coins,
			exp = EXCLUDED.exp,
			tier = EXCLUDED.tier,
			updated_at_ms = EXCLUDED.updated_at_ms`
	_, err := s.db.ExecContext(ctx, query,
		strings.TrimSpace(p.PlayerID), p.MP, p.Coins, p.Exp, string(rank.FromMP(p.MP)), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("seed profile: %w", err)
	}
	return nil
}
