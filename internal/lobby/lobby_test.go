// internal/lobby/lobby_test.go
package lobby

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/padelhub/lobby/internal/session"
)

const wait = time.Second

var testStart = time.Date(2025, 10, 5, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type manualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.once.Do(func() { close(m.stopped) }) }

// manualTickers hands out tickers that only fire when a test says so.
type manualTickers struct{ created chan *manualTicker }

func newManualTickers() *manualTickers {
	return &manualTickers{created: make(chan *manualTicker, 8)}
}

func (f *manualTickers) New(time.Duration) Ticker {
	t := &manualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
	f.created <- t
	return t
}

func (f *manualTickers) next(t *testing.T) *manualTicker {
	t.Helper()
	select {
	case tk := <-f.created:
		return tk
	case <-time.After(wait):
		t.Fatal("timed out waiting for a ticker")
		return nil
	}
}

func (f *manualTickers) none(t *testing.T) {
	t.Helper()
	select {
	case <-f.created:
		t.Fatal("unexpected ticker started")
	default:
	}
}

func fire(t *testing.T, tk *manualTicker, at time.Time) {
	t.Helper()
	select {
	case tk.ch <- at:
	case <-time.After(wait):
		t.Fatal("ticker is not being read")
	}
}

func requireStopped(t *testing.T, tk *manualTicker) {
	t.Helper()
	select {
	case <-tk.stopped:
	case <-time.After(wait):
		t.Fatal("ticker was not stopped")
	}
}

func newSession(t *testing.T, scheduled bool, ids ...string) session.Session {
	t.Helper()
	roster := make([]session.Player, 0, len(ids))
	for _, id := range ids {
		roster = append(roster, session.Player{ID: id, DisplayName: "Player " + id, Rating: 1200})
	}
	s, err := session.New(session.Params{
		LobbyID:        "1",
		Venue:          session.Venue{Name: "Padel Center Lisboa"},
		Category:       3,
		StartTime:      testStart,
		EndTime:        testStart.Add(90 * time.Minute),
		Capacity:       4,
		CourtScheduled: scheduled,
		Roster:         roster,
	})
	require.NoError(t, err)
	return s
}

type harness struct {
	lobby   *Lobby
	clock   *fakeClock
	tickers *manualTickers
	snaps   chan session.Snapshot
	unsub   func()
}

func newHarness(t *testing.T, s session.Session, now time.Time) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(now),
		tickers: newManualTickers(),
		snaps:   make(chan session.Snapshot, 32),
	}
	l, err := New(context.Background(), s, WithClock(h.clock.Now), WithTicker(h.tickers.New))
	require.NoError(t, err)
	t.Cleanup(l.Close)
	h.lobby = l

	h.unsub, err = l.Subscribe(context.Background(), func(snap session.Snapshot) { h.snaps <- snap })
	require.NoError(t, err)
	return h
}

func (h *harness) recv(t *testing.T) session.Snapshot {
	t.Helper()
	select {
	case snap := <-h.snaps:
		return snap
	case <-time.After(wait):
		t.Fatal("timed out waiting for snapshot")
		return session.Snapshot{}
	}
}

// quiet asserts no notification is pending. Only meaningful after a request
// round trip, which orders it behind everything already in the inbox.
func (h *harness) quiet(t *testing.T) {
	t.Helper()
	_, err := h.lobby.Snapshot(context.Background())
	require.NoError(t, err)
	select {
	case snap := <-h.snaps:
		t.Fatalf("unexpected snapshot: %+v", snap)
	default:
	}
}

func (h *harness) confirm(t *testing.T, ids ...string) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	for _, id := range ids {
		var err error
		snap, err = h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: id})
		require.NoError(t, err)
		h.recv(t)
	}
	return snap
}

func TestAssignSelfCommitsAndNotifies(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-2*time.Hour))

	snap, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "1"}, session.TeamA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, []string{"1"}, snap.TeamA)

	notified := h.recv(t)
	assert.Equal(t, snap, notified)
}

func TestIdempotentAssignmentCommitsNothing(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-2*time.Hour))

	_, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "1"}, session.TeamB)
	require.NoError(t, err)
	h.recv(t)

	snap, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "1"}, session.TeamB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Version)
	h.quiet(t)
}

func TestUnknownPlayerLeavesLobbyUnchanged(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-2*time.Hour))

	_, err := h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: "99"})
	require.ErrorIs(t, err, session.ErrUnknownPlayer)
	assert.NotErrorIs(t, err, session.ErrStaleWrite)

	snap, err := h.lobby.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Version)
	assert.Zero(t, snap.Confirmed)
	h.quiet(t)
}

func TestReadyOnFinalConfirmationStartsCountdown(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-2*time.Hour))

	snap := h.confirm(t, "1", "2", "3")
	assert.Equal(t, session.PhaseAssembling, snap.Phase)
	assert.Nil(t, snap.Countdown)
	h.tickers.none(t)

	snap, err := h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: "4"})
	require.NoError(t, err)
	assert.True(t, snap.Ready)
	assert.Equal(t, session.PhaseReady, snap.Phase)
	require.NotNil(t, snap.Countdown)
	assert.Equal(t, session.Countdown{Hours: 2}, *snap.Countdown)
	h.recv(t)

	tk := h.tickers.next(t)
	h.clock.Set(testStart.Add(-2*time.Hour + time.Second))
	fire(t, tk, h.clock.Now())

	ticked := h.recv(t)
	assert.Equal(t, snap.Version, ticked.Version)
	require.NotNil(t, ticked.Countdown)
	assert.Equal(t, "01:59:59", ticked.Countdown.String())
}

func TestUnconfirmLeavesReadyAndStopsClock(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-2*time.Hour))
	h.confirm(t, "1", "2", "3", "4")
	tk := h.tickers.next(t)

	snap, err := h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: "2"})
	require.NoError(t, err)
	assert.False(t, snap.Ready)
	assert.Equal(t, session.PhaseAssembling, snap.Phase)
	assert.Nil(t, snap.Countdown)
	assert.Equal(t, 3, snap.Confirmed)
	h.recv(t)

	requireStopped(t, tk)
}

func TestStaleTickIsDiscarded(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-time.Hour))
	h.confirm(t, "1", "2")
	tk := h.tickers.next(t)

	_, err := h.lobby.SetCourtScheduled(context.Background(), false)
	require.NoError(t, err)
	h.recv(t)
	requireStopped(t, tk)

	// Generation 1 belonged to the clock that was just cancelled.
	h.lobby.inbox <- tickMsg{gen: 1}
	h.quiet(t)
}

func TestVenueRevocationBreaksReadiness(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-time.Hour))
	h.confirm(t, "1", "2")
	h.tickers.next(t)

	snap, err := h.lobby.SetCourtScheduled(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseAssembling, snap.Phase)
	assert.Equal(t, 2, snap.Confirmed)

	snap, err = h.lobby.SetCourtScheduled(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseReady, snap.Phase)
	h.tickers.next(t)
}

func TestCountdownReachesStartOnce(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-2*time.Second))
	h.confirm(t, "1", "2")
	tk := h.tickers.next(t)

	h.clock.Set(testStart)
	fire(t, tk, testStart)

	final := h.recv(t)
	require.NotNil(t, final.Countdown)
	assert.True(t, final.Countdown.Started)
	assert.Equal(t, "match started", final.Countdown.String())
	requireStopped(t, tk)

	h.lobby.inbox <- tickMsg{gen: 1}
	h.quiet(t)

	_, err := h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: "1"})
	require.ErrorIs(t, err, session.ErrConfirmationClosed)

	// Re-entering Ready after the start does not arm another clock.
	_, err = h.lobby.SetCourtScheduled(context.Background(), false)
	require.NoError(t, err)
	h.recv(t)
	snap, err := h.lobby.SetCourtScheduled(context.Background(), true)
	require.NoError(t, err)
	h.recv(t)
	require.NotNil(t, snap.Countdown)
	assert.True(t, snap.Countdown.Started)
	h.tickers.none(t)
}

func TestRemainingNeverIncreases(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-10*time.Second))
	h.confirm(t, "1", "2")
	tk := h.tickers.next(t)

	h.clock.Set(testStart.Add(-20 * time.Second))
	fire(t, tk, h.clock.Now())

	snap := h.recv(t)
	require.NotNil(t, snap.Countdown)
	assert.Equal(t, 10*time.Second, snap.Countdown.Remaining())
}

func TestHydratedReadyLobbyCountsImmediately(t *testing.T) {
	s := newSession(t, true, "1", "2")
	s.Confirmed = session.NewConfirmationSet("1", "2")
	h := newHarness(t, s, testStart.Add(-90*time.Second))

	snap, err := h.lobby.Snapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap.Countdown)
	assert.Equal(t, session.Countdown{Minutes: 1, Seconds: 30}, *snap.Countdown)
	h.tickers.next(t)
}

func TestSequencedWrites(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-time.Hour))
	ctx := context.Background()

	_, err := h.lobby.AssignSelf(ctx, Actor{PlayerID: "1", Seq: 2}, session.TeamA)
	require.NoError(t, err)

	for _, seq := range []uint64{1, 2} {
		_, err = h.lobby.AssignSelf(ctx, Actor{PlayerID: "1", Seq: seq}, session.TeamB)
		require.ErrorIs(t, err, session.ErrStaleWrite, "seq %d", seq)
	}

	// Sequences are tracked per player.
	_, err = h.lobby.AssignSelf(ctx, Actor{PlayerID: "2", Seq: 1}, session.TeamB)
	require.NoError(t, err)

	snap, err := h.lobby.AssignSelf(ctx, Actor{PlayerID: "1", Seq: 3}, session.TeamB)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, snap.TeamB)

	// Unsequenced writes are always admitted.
	_, err = h.lobby.ToggleConfirmation(ctx, Actor{PlayerID: "1"})
	require.NoError(t, err)
}

func TestRejectedWriteDoesNotConsumeSeq(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1"), testStart.Add(-time.Hour))
	ctx := context.Background()

	_, err := h.lobby.AssignSelf(ctx, Actor{PlayerID: "1", Seq: 5}, session.Team("C"))
	require.ErrorIs(t, err, session.ErrInvalidTeam)

	_, err = h.lobby.AssignSelf(ctx, Actor{PlayerID: "1", Seq: 5}, session.TeamA)
	require.NoError(t, err)
}

func TestRemovedPlayerWriteIsStale(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-time.Hour))
	ctx := context.Background()

	snap, err := h.lobby.Remove(ctx, "4")
	require.NoError(t, err)
	assert.Len(t, snap.Players, 3)
	h.recv(t)

	_, err = h.lobby.ToggleConfirmation(ctx, Actor{PlayerID: "4", Seq: 10})
	require.ErrorIs(t, err, session.ErrStaleWrite)
	require.ErrorIs(t, err, session.ErrUnknownPlayer)
	h.quiet(t)

	// Rejoining starts a fresh sequence.
	_, err = h.lobby.Join(ctx, session.Player{ID: "4", DisplayName: "Player 4"})
	require.NoError(t, err)
	_, err = h.lobby.ToggleConfirmation(ctx, Actor{PlayerID: "4", Seq: 1})
	require.NoError(t, err)
}

func TestJoinBreaksReadiness(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3"), testStart.Add(-time.Hour))
	h.confirm(t, "1", "2", "3")
	tk := h.tickers.next(t)

	snap, err := h.lobby.Join(context.Background(), session.Player{ID: "4", DisplayName: "Player 4"})
	require.NoError(t, err)
	assert.Equal(t, session.PhaseAssembling, snap.Phase)
	assert.Equal(t, []string{"4"}, snap.Unassigned)
	requireStopped(t, tk)

	_, err = h.lobby.Join(context.Background(), session.Player{ID: "5", DisplayName: "Player 5"})
	require.ErrorIs(t, err, session.ErrRosterFull)
}

func TestConcurrentConfirmationsSerialize(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2", "3", "4"), testStart.Add(-time.Hour))
	h.unsub()

	var g errgroup.Group
	for _, id := range []string{"1", "2", "3", "4"} {
		g.Go(func() error {
			if _, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: id}, session.TeamA); err != nil {
				return err
			}
			_, err := h.lobby.ToggleConfirmation(context.Background(), Actor{PlayerID: id})
			return err
		})
	}
	require.NoError(t, g.Wait())

	snap, err := h.lobby.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), snap.Version)
	assert.Len(t, snap.TeamA, 4)
	assert.True(t, snap.Ready)
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1"), testStart.Add(-time.Hour))
	h.unsub()
	h.unsub()

	_, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "1"}, session.TeamA)
	require.NoError(t, err)
	h.quiet(t)
}

func TestCancelledSubscribeLeavesNoListener(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1"), testStart.Add(-time.Hour))
	h.unsub()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	for range 50 {
		unsub, err := h.lobby.Subscribe(ctx, func(session.Snapshot) { calls.Add(1) })
		if err == nil {
			unsub()
			continue
		}
		require.ErrorIs(t, err, context.Canceled)
	}

	_, err := h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "1"}, session.TeamA)
	require.NoError(t, err)
	assert.Zero(t, calls.Load())

	h.lobby.subMu.Lock()
	defer h.lobby.subMu.Unlock()
	assert.Empty(t, h.lobby.subs)
}

func TestVersionContinuesFromHydratedSession(t *testing.T) {
	s := newSession(t, false, "1", "2")
	s.Version = 41
	h := newHarness(t, s, testStart.Add(-time.Hour))

	snap, err := h.lobby.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(41), snap.Version)

	snap, err = h.lobby.AssignSelf(context.Background(), Actor{PlayerID: "2"}, session.TeamB)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), snap.Version)
	assert.Equal(t, uint64(42), snap.Record().Version)
}

func TestCloseStopsClockAndRejectsCalls(t *testing.T) {
	h := newHarness(t, newSession(t, true, "1", "2"), testStart.Add(-time.Hour))
	h.confirm(t, "1", "2")
	tk := h.tickers.next(t)

	h.lobby.Close()
	requireStopped(t, tk)

	_, err := h.lobby.Snapshot(context.Background())
	require.ErrorIs(t, err, session.ErrLobbyClosed)
	_, err = h.lobby.Subscribe(context.Background(), func(session.Snapshot) {})
	require.ErrorIs(t, err, session.ErrLobbyClosed)
}

func TestNewRejectsInvalidSession(t *testing.T) {
	s := newSession(t, true, "1")
	s.Confirmed = session.NewConfirmationSet("ghost")

	_, err := New(context.Background(), s)
	require.ErrorIs(t, err, session.ErrInvalidSession)
}
