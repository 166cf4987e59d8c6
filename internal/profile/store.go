package profile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/park285/caro-series/internal/rank"
)

var ErrInvalidPlayer = errors.New("invalid player id")

// Profile is a player's mutable ladder balance.
type Profile struct {
	PlayerID  string    `json:"player_id"`
	MP        int       `json:"mp"`
	Coins     int       `json:"coins"`
	Exp       int       `json:"exp"`
	Tier      rank.Tier `json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reward is the delta applied to a profile in one mutation.
type Reward struct {
	MP    int
	Coins int
	Exp   int
}

// Applied is the profile balance after a reward was written.
type Applied struct {
	PlayerID string
	MP       int
	Coins    int
	Exp      int
	Tier     rank.Tier
}

// Store is the profile mutation hook. ApplyReward must be a single atomic
// read-modify-write per call; MP never drops below zero.
type Store interface {
	Load(ctx context.Context, playerID string) (*Profile, error)
	ApplyReward(ctx context.Context, playerID string, r Reward) (*Applied, error)
}

func newProfile(playerID string) *Profile {
	return &Profile{PlayerID: playerID, Tier: rank.Unranked}
}

// apply mutates p in place and returns the resulting balance.
func apply(p *Profile, r Reward, now time.Time) *Applied {
	p.MP += r.MP
	if p.MP < 0 {
		p.MP = 0
	}
	p.Coins += r.Coins
	p.Exp += r.Exp
	p.Tier = rank.FromMP(p.MP)
	p.UpdatedAt = now
	return &Applied{PlayerID: p.PlayerID, MP: p.MP, Coins: p.Coins, Exp: p.Exp, Tier: p.Tier}
}

// MemoryStore is an in-process Store used when no external profile backend is configured.
type MemoryStore struct {
	mu       sync.Mutex
	profiles map[string]*Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]*Profile)}
}

func (m *MemoryStore) Load(ctx context.Context, playerID string) (*Profile, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[playerID]; ok {
		copy := *p
		return &copy, nil
	}
	return newProfile(playerID), nil
}

func (m *MemoryStore) ApplyReward(ctx context.Context, playerID string, r Reward) (*Applied, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, ErrInvalidPlayer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[playerID]
	if !ok {
		p = newProfile(playerID)
		m.profiles[playerID] = p
	}
	return apply(p, r, time.Now()), nil
}

// Seed overwrites a profile balance; the tier is derived from MP.
func (m *MemoryStore) Seed(p Profile) {
	p.PlayerID = strings.TrimSpace(p.PlayerID)
	p.Tier = rank.FromMP(p.MP)
	m.mu.Lock()
	m.profiles[p.PlayerID] = &p
	m.mu.Unlock()
}
