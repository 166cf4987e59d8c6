package disconnect

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/notify"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/series"
)

const DefaultGrace = 60 * time.Second

var ErrNotActive = errors.New("player is not in an active series")

// Sink is the series side of the monitor.
type Sink interface {
	ActiveGame(seriesID, playerID string) (int, bool)
	OnDisconnectTimeout(ctx context.Context, seriesID, playerID string, gameNumber int) (*series.Series, error)
}

// State describes one running disconnect deadline.
type State struct {
	SeriesID   string    `json:"series_id"`
	PlayerID   string    `json:"player_id"`
	GameNumber int       `json:"game_number"`
	Since      time.Time `json:"since"`
	Deadline   time.Time `json:"deadline"`
}

type key struct{ series, player string }

type pending struct {
	State
	gen   uint64
	timer clock.Timer
	// firing is set while the timeout is being handed to the sink.
	firing bool
}

// Monitor keeps at most one deadline per (series, player).
type Monitor struct {
	sink  Sink
	clk   clock.Scheduler
	grace time.Duration

	egMu   sync.RWMutex
	egress notify.Egress

	mu     sync.Mutex
	seq    uint64
	timers map[key]*pending
}

func New(sink Sink, clk clock.Scheduler, grace time.Duration) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Monitor{sink: sink, clk: clk, grace: grace, timers: make(map[key]*pending)}
}

func (m *Monitor) AttachEgress(e notify.Egress) {
	m.egMu.Lock()
	m.egress = e
	m.egMu.Unlock()
}

func (m *Monitor) Grace() time.Duration { return m.grace }

// Disconnect starts the grace deadline for playerID. A second call while the
// deadline runs returns the running state and started=false.
func (m *Monitor) Disconnect(ctx context.Context, seriesID, playerID string) (State, bool, error) {
	k := key{strings.TrimSpace(seriesID), strings.TrimSpace(playerID)}
	game, ok := m.sink.ActiveGame(k.series, k.player)
	if !ok {
		return State{}, false, ErrNotActive
	}
	m.mu.Lock()
	if p, exists := m.timers[k]; exists {
		st := p.State
		m.mu.Unlock()
		return st, false, nil
	}
	st := m.armLocked(k, game, m.clk.Now())
	m.mu.Unlock()

	obslog.L().Info("player_disconnect",
		zap.String("series_id", k.series),
		zap.String("player_id", k.player),
		zap.Int("game_number", game),
		zap.Time("deadline", st.Deadline),
	)
	m.publish(ctx, notify.Event{
		Type:     notify.EventPlayerDisconnected,
		SeriesID: k.series,
		PlayerID: k.player,
		At:       st.Since,
		Data:     map[string]any{"game_number": game, "deadline": st.Deadline},
	})
	return st, true, nil
}

// Reconnect cancels a running deadline. It reports whether one was running.
func (m *Monitor) Reconnect(ctx context.Context, seriesID, playerID string) bool {
	k := key{strings.TrimSpace(seriesID), strings.TrimSpace(playerID)}
	m.mu.Lock()
	p, ok := m.timers[k]
	if ok {
		delete(m.timers, k)
		p.timer.Stop()
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	obslog.L().Info("player_reconnect",
		zap.String("series_id", k.series),
		zap.String("player_id", k.player),
		zap.Duration("away", m.clk.Now().Sub(p.Since)),
	)
	m.publish(ctx, notify.Event{
		Type:     notify.EventPlayerReconnected,
		SeriesID: k.series,
		PlayerID: k.player,
		At:       m.clk.Now(),
	})
	return true
}

// Release cancels every deadline of a series.
func (m *Monitor) Release(seriesID string) {
	seriesID = strings.TrimSpace(seriesID)
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.timers {
		if k.series == seriesID {
			p.timer.Stop()
			delete(m.timers, k)
		}
	}
}

// Pending lists running deadlines of a series ordered by player id.
func (m *Monitor) Pending(seriesID string) []State {
	seriesID = strings.TrimSpace(seriesID)
	m.mu.Lock()
	var out []State
	for k, p := range m.timers {
		if k.series == seriesID {
			out = append(out, p.State)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

func (m *Monitor) armLocked(k key, game int, now time.Time) State {
	m.seq++
	gen := m.seq
	p := &pending{
		State: State{
			SeriesID:   k.series,
			PlayerID:   k.player,
			GameNumber: game,
			Since:      now,
			Deadline:   now.Add(m.grace),
		},
		gen: gen,
	}
	p.timer = m.clk.AfterFunc(m.grace, func() { m.expire(k, gen) })
	m.timers[k] = p
	return p.State
}

func (m *Monitor) expire(k key, gen uint64) {
	m.mu.Lock()
	p, ok := m.timers[k]
	if !ok || p.gen != gen || p.firing {
		m.mu.Unlock()
		return
	}
	// The entry stays visible while the sink runs so a Reconnect can still clear it.
	p.firing = true
	game := p.GameNumber
	m.mu.Unlock()

	ctx := context.Background()
	s, err := m.sink.OnDisconnectTimeout(ctx, k.series, k.player, game)
	switch {
	case err == nil:
		obslog.L().Info("disconnect_timeout",
			zap.String("series_id", k.series),
			zap.String("player_id", k.player),
			zap.Int("game_number", game),
			zap.String("status", string(s.Status)),
		)
	case errors.Is(err, series.ErrStaleGameNumber),
		errors.Is(err, series.ErrSeriesAlreadyTerminal),
		errors.Is(err, series.ErrSeriesNotFound):
		obslog.L().Debug("disconnect_timeout_stale",
			zap.String("series_id", k.series),
			zap.String("player_id", k.player),
			zap.Int("game_number", game),
			zap.Error(err),
		)
	default:
		obslog.L().Warn("disconnect_timeout_error",
			zap.String("series_id", k.series),
			zap.String("player_id", k.player),
			zap.Error(err),
		)
		m.clearFiring(k, gen)
		return
	}

	// The player is still away; the next game gets a fresh grace period.
	next, active := m.sink.ActiveGame(k.series, k.player)
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.timers[k]
	if !ok || cur.gen != gen {
		// reconnected or released while the sink ran
		return
	}
	delete(m.timers, k)
	if active {
		m.armLocked(k, next, m.clk.Now())
	}
}

func (m *Monitor) clearFiring(k key, gen uint64) {
	m.mu.Lock()
	if cur, ok := m.timers[k]; ok && cur.gen == gen {
		delete(m.timers, k)
	}
	m.mu.Unlock()
}

func (m *Monitor) publish(ctx context.Context, ev notify.Event) {
	m.egMu.RLock()
	eg := m.egress
	m.egMu.RUnlock()
	if eg == nil {
		return
	}
	if err := eg.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_error", zap.String("type", ev.Type), zap.Error(err))
	}
}
