package series

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/notify"
	"github.com/park285/caro-series/internal/obslog"
	"github.com/park285/caro-series/internal/profile"
	"github.com/park285/caro-series/internal/rank"
	"github.com/park285/caro-series/internal/scoring"
)

const (
	DefaultNextGameCountdown = 10 * time.Second

	WinConditionFiveInRow = "five_in_row"
)

// Releaser drops per-series connectivity timers once a series is terminal.
type Releaser interface {
	Release(seriesID string)
}

// Armer opens the rematch window for a terminal series. Arm runs under the series
// lock and must not call back into the Machine.
type Armer interface {
	Arm(s *Series)
}

// Archiver records finished series for history queries.
type Archiver interface {
	Archive(ctx context.Context, s *Series) error
}

// RewardRetrier schedules redelivery of unconfirmed rewards.
type RewardRetrier interface {
	Enqueue(ctx context.Context, seriesID string) error
}

type Options struct {
	// NextGameCountdown defaults to 10s when zero; negative disables it.
	NextGameCountdown time.Duration
	Rules             *scoring.Rules
}

type entry struct {
	mu        sync.Mutex
	s         *Series
	countdown clock.Timer
	// unsaved marks reward confirmations the store has not accepted yet.
	unsaved bool
}

// Machine owns every live series. Transitions on one series are serialized by
// that series' entry lock; different series never contend.
type Machine struct {
	profiles  profile.Store
	store     Store
	clk       clock.Scheduler
	engine    *scoring.Engine
	countdown time.Duration

	mu      sync.RWMutex
	entries map[string]*entry

	hookMu   sync.RWMutex
	monitor  Releaser
	rematch  Armer
	archiver Archiver
	egress   notify.Egress
	retrier  RewardRetrier
}

func NewMachine(profiles profile.Store, store Store, clk clock.Scheduler, opts Options) *Machine {
	if store == nil {
		store = NewMemoryStore()
	}
	if clk == nil {
		clk = clock.Real()
	}
	rules := scoring.DefaultRules()
	if opts.Rules != nil {
		rules = *opts.Rules
	}
	countdown := opts.NextGameCountdown
	switch {
	case countdown == 0:
		countdown = DefaultNextGameCountdown
	case countdown < 0:
		countdown = 0
	}
	return &Machine{
		profiles:  profiles,
		store:     store,
		clk:       clk,
		engine:    scoring.NewEngine(rules),
		countdown: countdown,
		entries:   make(map[string]*entry),
	}
}

func (m *Machine) AttachMonitor(r Releaser) {
	m.hookMu.Lock()
	m.monitor = r
	m.hookMu.Unlock()
}

func (m *Machine) AttachRematch(a Armer) {
	m.hookMu.Lock()
	m.rematch = a
	m.hookMu.Unlock()
}

func (m *Machine) AttachArchiver(a Archiver) {
	m.hookMu.Lock()
	m.archiver = a
	m.hookMu.Unlock()
}

func (m *Machine) AttachEgress(e notify.Egress) {
	m.hookMu.Lock()
	m.egress = e
	m.hookMu.Unlock()
}

func (m *Machine) AttachRetrier(r RewardRetrier) {
	m.hookMu.Lock()
	m.retrier = r
	m.hookMu.Unlock()
}

type hooks struct {
	monitor  Releaser
	rematch  Armer
	archiver Archiver
	egress   notify.Egress
	retrier  RewardRetrier
}

func (m *Machine) hooks() hooks {
	m.hookMu.RLock()
	defer m.hookMu.RUnlock()
	return hooks{m.monitor, m.rematch, m.archiver, m.egress, m.retrier}
}

// Now exposes the machine clock to collaborators sharing it.
func (m *Machine) Now() time.Time { return m.clk.Now() }

// CreateSeries starts a series and freezes both players' standing.
func (m *Machine) CreateSeries(ctx context.Context, player1, player2 string) (*Series, error) {
	p1, p2 := strings.TrimSpace(player1), strings.TrimSpace(player2)
	if p1 == "" || p2 == "" || p1 == p2 {
		return nil, ErrInvalidParticipants
	}
	start := make(map[string]Snapshot, 2)
	for _, pid := range []string{p1, p2} {
		prof, err := m.profiles.Load(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", pid, err)
		}
		start[pid] = Snapshot{MP: prof.MP, Tier: rank.FromMP(prof.MP)}
	}
	now := m.clk.Now()
	s := &Series{
		ID:          uuid.NewString(),
		Player1:     p1,
		Player2:     p2,
		Start:       start,
		Wins:        map[string]int{p1: 0, p2: 0},
		CurrentGame: 1,
		Games:       []GameResult{},
		Status:      StatusInProgress,
		CreatedAt:   now,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.entries[s.ID] = &entry{s: s}
	m.mu.Unlock()

	obslog.L().Info("series_create",
		zap.String("series_id", s.ID),
		zap.String("player1", p1),
		zap.String("player2", p2),
		zap.Int("player1_mp", start[p1].MP),
		zap.Int("player2_mp", start[p2].MP),
	)
	m.publish(ctx, notify.Event{
		Type:     notify.EventSeriesCreated,
		SeriesID: s.ID,
		At:       now,
		Data: map[string]any{
			"player1":  p1,
			"player2":  p2,
			"x_player": s.XPlayer(1),
		},
	})
	return s.Clone(), nil
}

// RecordGameResult accepts the result of the current game.
func (m *Machine) RecordGameResult(ctx context.Context, id string, rep GameReport) (*Series, error) {
	rep.WinnerID = strings.TrimSpace(rep.WinnerID)
	rep.LoserID = strings.TrimSpace(rep.LoserID)
	return m.transition(ctx, id, "series_game_recorded", func(s *Series, now time.Time) error {
		if s.Status.Terminal() {
			return ErrSeriesAlreadyTerminal
		}
		if rep.GameNumber != s.CurrentGame {
			return ErrStaleGameNumber
		}
		if !s.Has(rep.WinnerID) || s.Opponent(rep.WinnerID) != rep.LoserID {
			return ErrInvalidParticipants
		}
		if rep.TotalMoves < 0 || rep.Duration < 0 {
			return ErrInvalidReport
		}
		m.applyGame(s, rep, now)
		return nil
	})
}

// ForfeitCurrentGame records the current game as lost by playerID.
func (m *Machine) ForfeitCurrentGame(ctx context.Context, id, playerID string) (*Series, error) {
	playerID = strings.TrimSpace(playerID)
	return m.transition(ctx, id, "series_game_forfeit", func(s *Series, now time.Time) error {
		if s.Status.Terminal() {
			return ErrSeriesAlreadyTerminal
		}
		if !s.Has(playerID) {
			return ErrInvalidParticipants
		}
		m.forfeit(s, playerID, now)
		return nil
	})
}

// OnDisconnectTimeout forfeits the game that was current when playerID disconnected.
// A timeout for a game that is no longer current returns ErrStaleGameNumber.
func (m *Machine) OnDisconnectTimeout(ctx context.Context, id, playerID string, gameNumber int) (*Series, error) {
	playerID = strings.TrimSpace(playerID)
	return m.transition(ctx, id, "series_disconnect_forfeit", func(s *Series, now time.Time) error {
		if s.Status.Terminal() {
			return ErrSeriesAlreadyTerminal
		}
		if gameNumber != s.CurrentGame {
			return ErrStaleGameNumber
		}
		if !s.Has(playerID) {
			return ErrInvalidParticipants
		}
		m.forfeit(s, playerID, now)
		return nil
	})
}

// AbandonSeries ends the series immediately with the opponent as winner.
func (m *Machine) AbandonSeries(ctx context.Context, id, playerID string) (*Series, error) {
	playerID = strings.TrimSpace(playerID)
	return m.transition(ctx, id, "series_abandon", func(s *Series, now time.Time) error {
		if s.Status.Terminal() {
			return ErrSeriesAlreadyTerminal
		}
		if !s.Has(playerID) {
			return ErrInvalidParticipants
		}
		s.Status = StatusAbandoned
		s.EndedAt = now
		s.NextGameAt = time.Time{}
		s.Outcome = &Outcome{
			WinnerID:    s.Opponent(playerID),
			LoserID:     playerID,
			Abandoned:   true,
			AbandonedBy: playerID,
		}
		return nil
	})
}

// ApplyRewards redelivers the stored deltas of every unconfirmed player.
// It never recomputes scoring and is safe to call any number of times.
func (m *Machine) ApplyRewards(ctx context.Context, id string) error {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if !e.s.Status.Terminal() || e.s.Outcome == nil {
		e.mu.Unlock()
		return ErrSeriesNotTerminal
	}
	e.s.RewardsApplied = true
	confirmed, derr := m.deliverLocked(ctx, e)
	out := e.s.Clone()
	e.mu.Unlock()

	m.emitRankChanges(ctx, out, confirmed)
	if len(confirmed) > 0 {
		if a := m.hooks().archiver; a != nil {
			if err := a.Archive(ctx, out); err != nil {
				obslog.L().Warn("series_archive_error", zap.String("series_id", out.ID), zap.Error(err))
			}
		}
	}
	return derr
}

// Get returns a copy of the series.
func (m *Machine) Get(ctx context.Context, id string) (*Series, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// List returns the series playerID took part in, oldest first.
func (m *Machine) List(ctx context.Context, playerID string) ([]*Series, error) {
	ids, err := m.store.ListByPlayer(ctx, strings.TrimSpace(playerID))
	if err != nil {
		return nil, err
	}
	out := make([]*Series, 0, len(ids))
	for _, id := range ids {
		s, err := m.Get(ctx, id)
		if errors.Is(err, ErrSeriesNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortByCreated(out)
	return out, nil
}

// ActiveGame returns the current game number when playerID is in an in-progress series.
func (m *Machine) ActiveGame(id, playerID string) (int, bool) {
	e, err := m.lookup(context.Background(), id)
	if err != nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.Status != StatusInProgress || !e.s.Has(strings.TrimSpace(playerID)) {
		return 0, false
	}
	return e.s.CurrentGame, true
}

func (m *Machine) lookup(ctx context.Context, id string) (*entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrSeriesNotFound
	}
	m.mu.RLock()
	e := m.entries[id]
	m.mu.RUnlock()
	if e != nil {
		return e, nil
	}
	s, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if existing := m.entries[id]; existing != nil {
		m.mu.Unlock()
		return existing, nil
	}
	e = &entry{s: s}
	m.entries[id] = e
	m.mu.Unlock()

	now := m.clk.Now()
	e.mu.Lock()
	if s.Status == StatusInProgress && s.NextGameAt.After(now) {
		e.countdown = m.armCountdown(e, s.ID, s.CurrentGame, s.NextGameAt.Sub(now))
	}
	e.mu.Unlock()
	obslog.L().Debug("series_rehydrate", zap.String("series_id", id), zap.String("status", string(s.Status)))
	return e, nil
}

// transition runs fn on a copy of the series under its lock and commits the copy only
// when fn accepts and the store write succeeds.
func (m *Machine) transition(ctx context.Context, id, op string, fn func(s *Series, now time.Time) error) (*Series, error) {
	e, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	now := m.clk.Now()
	next := e.s.Clone()
	prevGames := len(next.Games)
	if err := fn(next, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	next.UpdatedAt = now
	terminal := next.Status.Terminal()
	deliver := false
	if terminal {
		m.settle(next)
		deliver = !next.RewardsApplied
		next.RewardsApplied = true
	}
	if err := m.store.Save(ctx, next); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("save series %s: %w", next.ID, err)
	}
	e.s = next
	if e.countdown != nil {
		e.countdown.Stop()
		e.countdown = nil
	}
	if !terminal && next.NextGameAt.After(now) {
		e.countdown = m.armCountdown(e, next.ID, next.CurrentGame, next.NextGameAt.Sub(now))
	}
	events := transitionEvents(next, prevGames, now)

	var confirmed []string
	var derr error
	if deliver {
		confirmed, derr = m.deliverLocked(ctx, e)
	}
	if terminal {
		// Armed before the lock is released: a terminal series is never visible without its window.
		if a := m.hooks().rematch; a != nil {
			a.Arm(e.s)
		}
	}
	out := e.s.Clone()
	e.mu.Unlock()

	fields := []zap.Field{
		zap.String("series_id", out.ID),
		zap.String("status", string(out.Status)),
		zap.Int("current_game", out.CurrentGame),
		zap.Int("player1_wins", out.Wins[out.Player1]),
		zap.Int("player2_wins", out.Wins[out.Player2]),
	}
	if out.Outcome != nil {
		fields = append(fields,
			zap.String("winner_id", out.Outcome.WinnerID),
			zap.String("final_score", out.Outcome.FinalScore),
			zap.Int("winner_mp", out.Outcome.Rewards[out.Outcome.WinnerID].MP),
			zap.Int("loser_mp", out.Outcome.Rewards[out.Outcome.LoserID].MP),
		)
	}
	obslog.L().Info(op, fields...)

	for _, ev := range events {
		m.publish(ctx, ev)
	}
	m.emitRankChanges(ctx, out, confirmed)
	if derr != nil {
		m.deferRewards(ctx, out, derr)
	}
	if terminal {
		m.terminalHooks(ctx, out)
	}
	return out, nil
}

func (m *Machine) applyGame(s *Series, rep GameReport, now time.Time) {
	wc := strings.TrimSpace(rep.WinCondition)
	if wc == "" {
		wc = WinConditionFiveInRow
	}
	s.Games = append(s.Games, GameResult{
		GameNumber:   s.CurrentGame,
		WinnerID:     rep.WinnerID,
		LoserID:      rep.LoserID,
		XPlayer:      s.XPlayer(s.CurrentGame),
		TotalMoves:   rep.TotalMoves,
		Duration:     rep.Duration,
		WinCondition: wc,
		ThinkTime:    participantThinkTime(s, rep.ThinkTime),
		RecordedAt:   now,
	})
	s.Wins[rep.WinnerID]++
	if s.Wins[rep.WinnerID] >= GamesToWin {
		s.Status = StatusCompleted
		s.EndedAt = now
		s.NextGameAt = time.Time{}
		s.Outcome = &Outcome{WinnerID: rep.WinnerID, LoserID: rep.LoserID}
		return
	}
	s.CurrentGame++
	s.NextGameAt = now.Add(m.countdown)
}

func (m *Machine) forfeit(s *Series, playerID string, now time.Time) {
	d := now.Sub(s.gameStart())
	if d < 0 {
		d = 0
	}
	m.applyGame(s, GameReport{
		GameNumber:   s.CurrentGame,
		WinnerID:     s.Opponent(playerID),
		LoserID:      playerID,
		Duration:     d,
		WinCondition: WinConditionForfeit,
	}, now)
}

func participantThinkTime(s *Series, in map[string]time.Duration) map[string]time.Duration {
	var out map[string]time.Duration
	for pid, d := range in {
		if !s.Has(pid) || d <= 0 {
			continue
		}
		if out == nil {
			out = make(map[string]time.Duration, 2)
		}
		out[pid] = d
	}
	return out
}

// settle fills the write-once outcome from the frozen start snapshots.
func (m *Machine) settle(s *Series) {
	o := s.Outcome
	if o == nil || o.Rewards != nil {
		return
	}
	w, l := o.WinnerID, o.LoserID
	samples := s.samples()
	res := m.engine.Compute(scoring.Input{
		Winner:        scoring.Snapshot{PlayerID: w, MP: s.Start[w].MP, Tier: s.Start[w].Tier},
		Loser:         scoring.Snapshot{PlayerID: l, MP: s.Start[l].MP, Tier: s.Start[l].Tier},
		WinnerGames:   s.Wins[w],
		LoserGames:    s.Wins[l],
		WinnerAvgMove: scoring.AverageMoveTime(samples, w),
		LoserAvgMove:  scoring.AverageMoveTime(samples, l),
		Abandoned:     o.Abandoned,
	})
	o.FinalScore = fmt.Sprintf("%d-%d", s.Wins[w], s.Wins[l])
	o.Rewards = map[string]*Reward{
		w: {MP: res.Winner.Delta.MP, Coins: res.Winner.Delta.Coins, Exp: res.Winner.Delta.Exp},
		l: {MP: res.Loser.Delta.MP, Coins: res.Loser.Delta.Coins, Exp: res.Loser.Delta.Exp},
	}
	o.RankChanges = res.RankChanges
	o.Breakdown = res.Breakdown
}

// deliverLocked applies every unconfirmed reward once. Caller holds e.mu.
func (m *Machine) deliverLocked(ctx context.Context, e *entry) ([]string, error) {
	s := e.s
	o := s.Outcome
	if o == nil {
		return nil, nil
	}
	now := m.clk.Now()
	var confirmed, failed []string
	for _, pid := range []string{o.WinnerID, o.LoserID} {
		r := o.Rewards[pid]
		if r == nil || r.Confirmed {
			continue
		}
		r.Attempts++
		applied, err := m.profiles.ApplyReward(ctx, pid, profile.Reward{MP: r.MP, Coins: r.Coins, Exp: r.Exp})
		if err != nil {
			r.LastError = err.Error()
			failed = append(failed, pid)
			obslog.L().Warn("reward_apply_error",
				zap.String("series_id", s.ID),
				zap.String("player_id", pid),
				zap.Int("attempt", r.Attempts),
				zap.Error(err),
			)
			continue
		}
		r.Confirmed = true
		r.LastError = ""
		r.AppliedAt = now
		confirmed = append(confirmed, pid)
		obslog.L().Info("reward_applied",
			zap.String("series_id", s.ID),
			zap.String("player_id", pid),
			zap.Int("mp_delta", r.MP),
			zap.Int("coins_delta", r.Coins),
			zap.Int("exp_delta", r.Exp),
			zap.Int("new_mp", applied.MP),
			zap.String("new_tier", string(applied.Tier)),
		)
	}
	var errs []error
	if len(failed) > 0 {
		errs = append(errs, fmt.Errorf("%w: series %s players %s", ErrRewardDelivery, s.ID, strings.Join(failed, ",")))
	}
	if len(confirmed)+len(failed) > 0 || e.unsaved {
		s.UpdatedAt = now
		if err := m.store.Save(ctx, s); err != nil {
			// Confirmations only live in memory until this write succeeds.
			e.unsaved = true
			obslog.L().Error("series_save_error", zap.String("series_id", s.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%w: series %s save confirmations: %w", ErrRewardDelivery, s.ID, err))
		} else {
			e.unsaved = false
		}
	}
	return confirmed, errors.Join(errs...)
}

func (m *Machine) emitRankChanges(ctx context.Context, s *Series, confirmed []string) {
	if s.Outcome == nil {
		return
	}
	for _, pid := range confirmed {
		for _, rc := range s.Outcome.RankChanges {
			if rc.PlayerID != pid {
				continue
			}
			m.publish(ctx, notify.Event{
				Type:     notify.EventRankChanged,
				SeriesID: s.ID,
				PlayerID: pid,
				At:       m.clk.Now(),
				Data: map[string]any{
					"old_tier": string(rc.OldTier),
					"new_tier": string(rc.NewTier),
					"mp":       rc.MP,
					"promoted": rc.Promoted(),
				},
			})
		}
	}
}

func (m *Machine) deferRewards(ctx context.Context, s *Series, cause error) {
	obslog.L().Warn("reward_delivery_deferred", zap.String("series_id", s.ID), zap.Error(cause))
	m.publish(ctx, notify.Event{
		Type:     notify.EventRewardDeferred,
		SeriesID: s.ID,
		At:       m.clk.Now(),
		Data:     map[string]any{"error": cause.Error()},
	})
	if r := m.hooks().retrier; r != nil {
		if err := r.Enqueue(ctx, s.ID); err != nil {
			obslog.L().Error("reward_enqueue_error", zap.String("series_id", s.ID), zap.Error(err))
		}
	}
}

func (m *Machine) terminalHooks(ctx context.Context, s *Series) {
	h := m.hooks()
	if h.monitor != nil {
		h.monitor.Release(s.ID)
	}
	if h.archiver != nil {
		if err := h.archiver.Archive(ctx, s); err != nil {
			obslog.L().Warn("series_archive_error", zap.String("series_id", s.ID), zap.Error(err))
		}
	}
}

func (m *Machine) armCountdown(e *entry, id string, game int, d time.Duration) clock.Timer {
	return m.clk.AfterFunc(d, func() {
		e.mu.Lock()
		fire := e.s.Status == StatusInProgress && e.s.CurrentGame == game
		var xPlayer string
		if fire {
			e.countdown = nil
			xPlayer = e.s.XPlayer(game)
		}
		e.mu.Unlock()
		if !fire {
			return
		}
		m.publish(context.Background(), notify.Event{
			Type:     notify.EventNextGameReady,
			SeriesID: id,
			At:       m.clk.Now(),
			Data:     map[string]any{"game_number": game, "x_player": xPlayer},
		})
	})
}

func (m *Machine) publish(ctx context.Context, ev notify.Event) {
	eg := m.hooks().egress
	if eg == nil {
		return
	}
	if err := eg.Publish(ctx, ev); err != nil {
		obslog.L().Warn("event_publish_error",
			zap.String("type", ev.Type),
			zap.String("series_id", ev.SeriesID),
			zap.Error(err),
		)
	}
}

func transitionEvents(s *Series, prevGames int, now time.Time) []notify.Event {
	var out []notify.Event
	if len(s.Games) > prevGames {
		g := s.Games[len(s.Games)-1]
		out = append(out, notify.Event{
			Type:     notify.EventGameRecorded,
			SeriesID: s.ID,
			At:       now,
			Data: map[string]any{
				"game_number":   g.GameNumber,
				"winner_id":     g.WinnerID,
				"loser_id":      g.LoserID,
				"win_condition": g.WinCondition,
				"score":         fmt.Sprintf("%d-%d", s.Wins[s.Player1], s.Wins[s.Player2]),
			},
		})
	}
	if !s.Status.Terminal() || s.Outcome == nil {
		return out
	}
	typ := notify.EventSeriesCompleted
	if s.Status == StatusAbandoned {
		typ = notify.EventSeriesAbandoned
	}
	rewards := make(map[string]any, len(s.Outcome.Rewards))
	for pid, r := range s.Outcome.Rewards {
		rewards[pid] = map[string]int{"mp": r.MP, "coins": r.Coins, "exp": r.Exp}
	}
	return append(out, notify.Event{
		Type:     typ,
		SeriesID: s.ID,
		At:       now,
		Data: map[string]any{
			"winner_id":    s.Outcome.WinnerID,
			"loser_id":     s.Outcome.LoserID,
			"final_score":  s.Outcome.FinalScore,
			"abandoned_by": s.Outcome.AbandonedBy,
			"rewards":      rewards,
		},
	})
}

func sortByCreated(list []*Series) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
}
