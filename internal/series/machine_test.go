package series

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/caro-series/internal/clock"
	"github.com/park285/caro-series/internal/notify"
	"github.com/park285/caro-series/internal/profile"
	"github.com/park285/caro-series/internal/rank"
)

type countingProfiles struct {
	*profile.MemoryStore
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]int // remaining forced failures per player
}

func newCountingProfiles() *countingProfiles {
	return &countingProfiles{
		MemoryStore: profile.NewMemoryStore(),
		calls:       make(map[string]int),
		fail:        make(map[string]int),
	}
}

func (c *countingProfiles) ApplyReward(ctx context.Context, playerID string, r profile.Reward) (*profile.Applied, error) {
	c.mu.Lock()
	if c.fail[playerID] > 0 {
		c.fail[playerID]--
		c.mu.Unlock()
		return nil, errors.New("profile backend unavailable")
	}
	c.calls[playerID]++
	c.mu.Unlock()
	return c.MemoryStore.ApplyReward(ctx, playerID, r)
}

func (c *countingProfiles) count(playerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[playerID]
}

type recordingEgress struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingEgress) Publish(ctx context.Context, ev notify.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingEgress) ofType(typ string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recordingEgress) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingHooks struct {
	mu       sync.Mutex
	released []string
	armed    []string
	queued   []string
}

func (h *recordingHooks) Release(id string) {
	h.mu.Lock()
	h.released = append(h.released, id)
	h.mu.Unlock()
}

func (h *recordingHooks) Arm(s *Series) {
	h.mu.Lock()
	h.armed = append(h.armed, s.ID)
	h.mu.Unlock()
}

func (h *recordingHooks) Enqueue(ctx context.Context, id string) error {
	h.mu.Lock()
	h.queued = append(h.queued, id)
	h.mu.Unlock()
	return nil
}

type fixture struct {
	m        *Machine
	clk      *clock.Fake
	profiles *countingProfiles
	store    *MemoryStore
	egress   *recordingEgress
	hooks    *recordingHooks
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clk:      clock.NewFake(time.Time{}),
		profiles: newCountingProfiles(),
		store:    NewMemoryStore(),
		egress:   &recordingEgress{},
		hooks:    &recordingHooks{},
	}
	f.m = NewMachine(f.profiles, f.store, f.clk, Options{NextGameCountdown: DefaultNextGameCountdown})
	f.m.AttachEgress(f.egress)
	f.m.AttachMonitor(f.hooks)
	f.m.AttachRematch(f.hooks)
	f.m.AttachRetrier(f.hooks)
	return f
}

func (f *fixture) create(t *testing.T, p1 string, mp1 int, p2 string, mp2 int) *Series {
	t.Helper()
	f.profiles.Seed(profile.Profile{PlayerID: p1, MP: mp1})
	f.profiles.Seed(profile.Profile{PlayerID: p2, MP: mp2})
	s, err := f.m.CreateSeries(context.Background(), p1, p2)
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	return s
}

func (f *fixture) win(t *testing.T, id string, game int, winner, loser string) *Series {
	t.Helper()
	s, err := f.m.RecordGameResult(context.Background(), id, GameReport{
		GameNumber: game, WinnerID: winner, LoserID: loser, TotalMoves: 21, Duration: 3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("RecordGameResult game %d: %v", game, err)
	}
	return s
}

func TestCreateSeriesRejectsInvalidParticipants(t *testing.T) {
	f := newFixture(t)
	cases := [][2]string{{"", "b"}, {"a", " "}, {"a", "a"}, {" a", "a "}}
	for _, c := range cases {
		if _, err := f.m.CreateSeries(context.Background(), c[0], c[1]); !errors.Is(err, ErrInvalidParticipants) {
			t.Fatalf("CreateSeries(%q,%q) = %v, want ErrInvalidParticipants", c[0], c[1], err)
		}
	}
}

func TestCreateSeriesFreezesStartSnapshot(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 1800, "b", 400)
	if s.Status != StatusInProgress || s.CurrentGame != 1 {
		t.Fatalf("unexpected initial state: %+v", s)
	}
	if s.Start["a"].Tier != rank.Expert || s.Start["b"].Tier != rank.Student {
		t.Fatalf("unexpected snapshot: %+v", s.Start)
	}
	if s.XPlayer(1) != "a" || s.XPlayer(2) != "b" || s.XPlayer(3) != "a" {
		t.Fatalf("sides must alternate starting with player1 as X")
	}
	f.profiles.Seed(profile.Profile{PlayerID: "a", MP: 10})
	got, err := f.m.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Start["a"].MP != 1800 {
		t.Fatalf("snapshot must not follow live profile, got %d", got.Start["a"].MP)
	}
}

func TestSweepWithFasterMovesAgainstLowerTier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 1800, "b", 400)
	think := map[string]time.Duration{"a": 20 * time.Second, "b": 60 * time.Second}
	for game := 1; game <= 2; game++ {
		if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{
			GameNumber: game, WinnerID: "a", LoserID: "b", TotalMoves: 21, Duration: 90 * time.Second, ThinkTime: think,
		}); err != nil {
			t.Fatalf("game %d: %v", game, err)
		}
	}
	got, _ := f.m.Get(ctx, s.ID)
	if got.Status != StatusCompleted || got.Outcome == nil {
		t.Fatalf("expected completed series, got %+v", got)
	}
	o := got.Outcome
	if o.WinnerID != "a" || o.FinalScore != "2-0" {
		t.Fatalf("unexpected outcome: %+v", o)
	}
	// 20 + sweep 10 + time 5 - 3*2 tiers
	if o.Rewards["a"].MP != 29 || o.Rewards["a"].Coins != 70 || o.Rewards["a"].Exp != 100 {
		t.Fatalf("unexpected winner reward: %+v", o.Rewards["a"])
	}
	if o.Rewards["b"].MP != -15 || o.Rewards["b"].Coins != 20 || o.Rewards["b"].Exp != 40 {
		t.Fatalf("unexpected loser reward: %+v", o.Rewards["b"])
	}
	if !got.RewardsApplied || !o.Rewards["a"].Confirmed || !o.Rewards["b"].Confirmed {
		t.Fatalf("rewards should be confirmed: %+v", o.Rewards)
	}
	pa, _ := f.profiles.Load(ctx, "a")
	pb, _ := f.profiles.Load(ctx, "b")
	if pa.MP != 1829 || pb.MP != 385 {
		t.Fatalf("profiles not updated: a=%d b=%d", pa.MP, pb.MP)
	}
	if len(f.hooks.armed) != 1 || len(f.hooks.released) != 1 {
		t.Fatalf("terminal hooks not run once: armed=%v released=%v", f.hooks.armed, f.hooks.released)
	}
}

func TestDuplicateCompletionAppliesRewardsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 100, "b", 100)
	f.win(t, s.ID, 1, "a", "b")
	f.win(t, s.ID, 2, "a", "b")

	if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 2, WinnerID: "a", LoserID: "b"}); !errors.Is(err, ErrSeriesAlreadyTerminal) {
		t.Fatalf("duplicate completion = %v, want ErrSeriesAlreadyTerminal", err)
	}
	if _, err := f.m.ForfeitCurrentGame(ctx, s.ID, "b"); !errors.Is(err, ErrSeriesAlreadyTerminal) {
		t.Fatalf("forfeit after completion = %v", err)
	}
	if _, err := f.m.AbandonSeries(ctx, s.ID, "b"); !errors.Is(err, ErrSeriesAlreadyTerminal) {
		t.Fatalf("abandon after completion = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.m.ApplyRewards(ctx, s.ID); err != nil {
			t.Fatalf("ApplyRewards: %v", err)
		}
	}
	if f.profiles.count("a") != 1 || f.profiles.count("b") != 1 {
		t.Fatalf("applyReward calls a=%d b=%d, want 1 each", f.profiles.count("a"), f.profiles.count("b"))
	}
}

func TestStaleOrForeignResultLeavesSeriesUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 0, "b", 0)
	before, _ := f.m.Get(ctx, s.ID)

	if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 2, WinnerID: "a", LoserID: "b"}); !errors.Is(err, ErrStaleGameNumber) {
		t.Fatalf("stale game = %v", err)
	}
	if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 1, WinnerID: "a", LoserID: "c"}); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("foreign loser = %v", err)
	}
	if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 1, WinnerID: "a", LoserID: "a"}); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("self loss = %v", err)
	}
	if _, err := f.m.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 1, WinnerID: "a", LoserID: "b", TotalMoves: -1}); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("negative moves = %v", err)
	}
	if _, err := f.m.RecordGameResult(ctx, "missing", GameReport{GameNumber: 1}); !errors.Is(err, ErrSeriesNotFound) {
		t.Fatalf("missing series = %v", err)
	}
	after, _ := f.m.Get(ctx, s.ID)
	if len(after.Games) != 0 || after.CurrentGame != 1 || after.Wins["a"] != 0 || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("rejected calls changed state: %+v", after)
	}
}

func TestAbandonAppliesSurcharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 300, "b", 300)
	f.win(t, s.ID, 1, "a", "b")

	got, err := f.m.AbandonSeries(ctx, s.ID, "b")
	if err != nil {
		t.Fatalf("AbandonSeries: %v", err)
	}
	o := got.Outcome
	if got.Status != StatusAbandoned || o.WinnerID != "a" || o.AbandonedBy != "b" || o.FinalScore != "1-0" {
		t.Fatalf("unexpected abandon outcome: %+v", o)
	}
	if o.Rewards["b"].MP != -25 {
		t.Fatalf("abandoner MP = %d, want -25", o.Rewards["b"].MP)
	}
	if o.Rewards["a"].MP != 20 || o.Rewards["a"].Coins != 60 {
		t.Fatalf("winner reward from partial score: %+v", o.Rewards["a"])
	}
	if len(f.egress.ofType(notify.EventSeriesAbandoned)) != 1 {
		t.Fatalf("expected one series_abandoned event, got %v", f.egress.types())
	}
}

func TestAbandonByStrangerRejected(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 0, "b", 0)
	if _, err := f.m.AbandonSeries(context.Background(), s.ID, "z"); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("stranger abandon = %v", err)
	}
}

func TestNextGameCountdown(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 0, "b", 0)
	got := f.win(t, s.ID, 1, "a", "b")
	if got.CurrentGame != 2 || got.Playable(f.clk.Now()) {
		t.Fatalf("game 2 should be counting down: %+v", got)
	}
	if !got.NextGameAt.Equal(f.clk.Now().Add(10 * time.Second)) {
		t.Fatalf("NextGameAt = %v", got.NextGameAt)
	}
	f.clk.Advance(9 * time.Second)
	if n := len(f.egress.ofType(notify.EventNextGameReady)); n != 0 {
		t.Fatalf("countdown fired early: %d", n)
	}
	f.clk.Advance(time.Second)
	ready := f.egress.ofType(notify.EventNextGameReady)
	if len(ready) != 1 || ready[0].Data["game_number"] != 2 || ready[0].Data["x_player"] != "b" {
		t.Fatalf("unexpected next_game_ready: %+v", ready)
	}
	cur, _ := f.m.Get(context.Background(), s.ID)
	if !cur.Playable(f.clk.Now()) {
		t.Fatalf("game 2 should be playable after countdown")
	}
}

func TestResultDuringCountdownCancelsTimer(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 0, "b", 0)
	f.win(t, s.ID, 1, "a", "b")
	f.clk.Advance(3 * time.Second)
	f.win(t, s.ID, 2, "b", "a")
	if f.clk.Pending() != 1 {
		t.Fatalf("expected only the game 3 countdown pending, got %d", f.clk.Pending())
	}
	f.clk.Advance(time.Minute)
	ready := f.egress.ofType(notify.EventNextGameReady)
	if len(ready) != 1 || ready[0].Data["game_number"] != 3 {
		t.Fatalf("stale countdown fired: %+v", ready)
	}
}

func TestCompletionStopsCountdown(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 0, "b", 0)
	f.win(t, s.ID, 1, "a", "b")
	if _, err := f.m.AbandonSeries(context.Background(), s.ID, "a"); err != nil {
		t.Fatalf("AbandonSeries: %v", err)
	}
	if f.clk.Pending() != 0 {
		t.Fatalf("countdown must be cancelled on terminal transition")
	}
}

func TestForfeitCurrentGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 0, "b", 0)
	f.clk.Advance(45 * time.Second)
	got, err := f.m.ForfeitCurrentGame(ctx, s.ID, "a")
	if err != nil {
		t.Fatalf("ForfeitCurrentGame: %v", err)
	}
	g := got.Games[0]
	if g.WinnerID != "b" || g.WinCondition != WinConditionForfeit || g.Duration != 45*time.Second {
		t.Fatalf("unexpected forfeit record: %+v", g)
	}
	if got.CurrentGame != 2 || got.Wins["b"] != 1 {
		t.Fatalf("forfeit should advance the series: %+v", got)
	}
	if _, err := f.m.ForfeitCurrentGame(ctx, s.ID, "x"); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("stranger forfeit = %v", err)
	}
}

func TestDisconnectTimeoutStaleGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 0, "b", 0)
	f.win(t, s.ID, 1, "a", "b")
	if _, err := f.m.OnDisconnectTimeout(ctx, s.ID, "b", 1); !errors.Is(err, ErrStaleGameNumber) {
		t.Fatalf("stale timeout = %v", err)
	}
	got, err := f.m.OnDisconnectTimeout(ctx, s.ID, "b", 2)
	if err != nil {
		t.Fatalf("OnDisconnectTimeout: %v", err)
	}
	if got.Status != StatusCompleted || got.Outcome.WinnerID != "a" {
		t.Fatalf("timeout should forfeit game 2 to a: %+v", got)
	}
}

func TestConcurrentTerminalTriggersApplyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 500, "b", 500)
	f.win(t, s.ID, 1, "a", "b")

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = f.m.ForfeitCurrentGame(ctx, s.ID, "b")
			case 1:
				_, err = f.m.OnDisconnectTimeout(ctx, s.ID, "b", 2)
			default:
				_, err = f.m.AbandonSeries(ctx, s.ID, "b")
			}
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrSeriesAlreadyTerminal) && !errors.Is(err, ErrStaleGameNumber) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("%d terminal transitions succeeded, want 1", ok)
	}
	if f.profiles.count("a") != 1 || f.profiles.count("b") != 1 {
		t.Fatalf("rewards applied a=%d b=%d", f.profiles.count("a"), f.profiles.count("b"))
	}
}

func TestRewardFailureIsRedeliveredFromStoredDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 100, "b", 100)
	f.profiles.fail["b"] = 1
	f.win(t, s.ID, 1, "a", "b")
	got := f.win(t, s.ID, 2, "a", "b")

	rb := got.Outcome.Rewards["b"]
	if rb.Confirmed || rb.Attempts != 1 || rb.LastError == "" {
		t.Fatalf("b reward should be pending: %+v", rb)
	}
	if !got.Outcome.Rewards["a"].Confirmed {
		t.Fatalf("a reward should be confirmed")
	}
	if len(f.hooks.queued) != 1 || f.hooks.queued[0] != s.ID {
		t.Fatalf("series should be queued for redelivery: %v", f.hooks.queued)
	}

	// a live profile change must not affect the stored delta
	f.profiles.Seed(profile.Profile{PlayerID: "b", MP: 5000})
	if err := f.m.ApplyRewards(ctx, s.ID); err != nil {
		t.Fatalf("ApplyRewards: %v", err)
	}
	after, _ := f.m.Get(ctx, s.ID)
	if !after.Outcome.Rewards["b"].Confirmed || after.Outcome.Rewards["b"].MP != -15 {
		t.Fatalf("redelivery should confirm the stored delta: %+v", after.Outcome.Rewards["b"])
	}
	if f.profiles.count("a") != 1 || f.profiles.count("b") != 1 {
		t.Fatalf("applyReward calls a=%d b=%d", f.profiles.count("a"), f.profiles.count("b"))
	}
	pb, _ := f.profiles.Load(ctx, "b")
	if pb.MP != 4985 {
		t.Fatalf("b MP = %d, want 4985", pb.MP)
	}
}

func TestApplyRewardsFailureSurfacesDeliveryError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 0, "b", 0)
	f.profiles.fail["a"] = 2
	f.win(t, s.ID, 1, "a", "b")
	f.win(t, s.ID, 2, "a", "b")
	if err := f.m.ApplyRewards(ctx, s.ID); !errors.Is(err, ErrRewardDelivery) {
		t.Fatalf("ApplyRewards = %v, want ErrRewardDelivery", err)
	}
	got, _ := f.m.Get(ctx, s.ID)
	if got.Outcome.Rewards["a"].Attempts != 2 {
		t.Fatalf("attempts = %d", got.Outcome.Rewards["a"].Attempts)
	}
	if err := f.m.ApplyRewards(ctx, s.ID); err != nil {
		t.Fatalf("third attempt: %v", err)
	}
}

// confirmLossStore rejects writes that carry a confirmed reward while broken is set.
type confirmLossStore struct {
	*MemoryStore
	mu     sync.Mutex
	broken bool
}

func (c *confirmLossStore) set(broken bool) {
	c.mu.Lock()
	c.broken = broken
	c.mu.Unlock()
}

func (c *confirmLossStore) Save(ctx context.Context, s *Series) error {
	c.mu.Lock()
	broken := c.broken
	c.mu.Unlock()
	if broken && s.Outcome != nil {
		for _, r := range s.Outcome.Rewards {
			if r.Confirmed {
				return errors.New("store unavailable")
			}
		}
	}
	return c.MemoryStore.Save(ctx, s)
}

func TestUnsavedConfirmationIsRetriedWithoutReapplying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := &confirmLossStore{MemoryStore: NewMemoryStore(), broken: true}
	f.m = NewMachine(f.profiles, st, f.clk, Options{NextGameCountdown: -1})
	f.m.AttachEgress(f.egress)
	f.m.AttachRetrier(f.hooks)

	s := f.create(t, "a", 0, "b", 0)
	f.win(t, s.ID, 1, "a", "b")
	f.win(t, s.ID, 2, "a", "b")

	if len(f.hooks.queued) != 1 || f.hooks.queued[0] != s.ID {
		t.Fatalf("lost confirmation write should queue the series: %v", f.hooks.queued)
	}
	stored, err := st.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stored.Outcome.Rewards["a"].Confirmed {
		t.Fatalf("store should not hold the confirmation yet")
	}

	if err := f.m.ApplyRewards(ctx, s.ID); !errors.Is(err, ErrRewardDelivery) {
		t.Fatalf("ApplyRewards while store is down = %v", err)
	}
	st.set(false)
	if err := f.m.ApplyRewards(ctx, s.ID); err != nil {
		t.Fatalf("ApplyRewards: %v", err)
	}
	stored, _ = st.Load(ctx, s.ID)
	for pid, r := range stored.Outcome.Rewards {
		if !r.Confirmed {
			t.Fatalf("stored reward for %s should be confirmed", pid)
		}
	}
	if f.profiles.count("a") != 1 || f.profiles.count("b") != 1 {
		t.Fatalf("applyReward calls a=%d b=%d", f.profiles.count("a"), f.profiles.count("b"))
	}
}

func TestApplyRewardsRequiresTerminal(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 0, "b", 0)
	if err := f.m.ApplyRewards(context.Background(), s.ID); !errors.Is(err, ErrSeriesNotTerminal) {
		t.Fatalf("ApplyRewards on live series = %v", err)
	}
}

func TestRankChangeEmittedAfterProfileMutation(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 1800, "b", 55)
	f.win(t, s.ID, 1, "a", "b")
	f.win(t, s.ID, 2, "a", "b")

	changes := f.egress.ofType(notify.EventRankChanged)
	if len(changes) != 1 {
		t.Fatalf("expected one rank change, got %+v", changes)
	}
	rc := changes[0]
	if rc.PlayerID != "b" || rc.Data["old_tier"] != string(rank.Novice) || rc.Data["new_tier"] != string(rank.Unranked) || rc.Data["mp"] != 40 {
		t.Fatalf("unexpected rank change: %+v", rc)
	}
	types := f.egress.types()
	completed, changed := -1, -1
	for i, typ := range types {
		switch typ {
		case notify.EventSeriesCompleted:
			completed = i
		case notify.EventRankChanged:
			changed = i
		}
	}
	if completed < 0 || changed < completed {
		t.Fatalf("rank change must follow completion: %v", types)
	}
}

func TestRankChangeWithheldUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "a", 1800, "b", 55)
	f.profiles.fail["b"] = 1
	f.win(t, s.ID, 1, "a", "b")
	f.win(t, s.ID, 2, "a", "b")
	if n := len(f.egress.ofType(notify.EventRankChanged)); n != 0 {
		t.Fatalf("rank change emitted before mutation confirmed")
	}
	if err := f.m.ApplyRewards(context.Background(), s.ID); err != nil {
		t.Fatalf("ApplyRewards: %v", err)
	}
	if n := len(f.egress.ofType(notify.EventRankChanged)); n != 1 {
		t.Fatalf("rank change after redelivery = %d", n)
	}
}

func TestMachineRehydratesFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "a", 0, "b", 0)
	f.win(t, s.ID, 1, "a", "b")

	restarted := NewMachine(f.profiles, f.store, f.clk, Options{NextGameCountdown: DefaultNextGameCountdown})
	got, err := restarted.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.CurrentGame != 2 || got.Wins["a"] != 1 {
		t.Fatalf("rehydrated state mismatch: %+v", got)
	}
	if _, err := restarted.RecordGameResult(ctx, s.ID, GameReport{GameNumber: 2, WinnerID: "a", LoserID: "b"}); err != nil {
		t.Fatalf("RecordGameResult after restart: %v", err)
	}
	if game, ok := restarted.ActiveGame(s.ID, "a"); ok {
		t.Fatalf("completed series has no active game, got %d", game)
	}
}

func TestListByPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, "a", 0, "b", 0)
	f.clk.Advance(time.Second)
	second := f.create(t, "c", 0, "a", 0)
	list, err := f.m.List(ctx, "a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
	if game, ok := f.m.ActiveGame(second.ID, "a"); !ok || game != 1 {
		t.Fatalf("ActiveGame = %d,%v", game, ok)
	}
	if _, ok := f.m.ActiveGame(second.ID, "b"); ok {
		t.Fatalf("b is not in the second series")
	}
}
