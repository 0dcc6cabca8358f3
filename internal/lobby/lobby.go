// internal/lobby/lobby.go
package lobby

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

// Actor identifies the player issuing a write. Seq is optional; when non-zero
// it must grow with every write the player sends.
type Actor struct {
	PlayerID string
	Seq      uint64
}

// Listener receives every committed snapshot. It runs on the lobby goroutine
// and must not block or call back into the same lobby.
type Listener func(session.Snapshot)

type msg interface{ isLobbyMsg() }

type result struct {
	snap session.Snapshot
	err  error
}

type assignMsg struct {
	actor Actor
	team  session.Team
	reply chan result
}

type toggleMsg struct {
	actor Actor
	reply chan result
}

type venueMsg struct {
	scheduled bool
	reply     chan result
}

type joinMsg struct {
	player session.Player
	reply  chan result
}

type removeMsg struct {
	playerID string
	reply    chan result
}

type snapshotMsg struct{ reply chan result }

type subscribeMsg struct {
	sub   *subscription
	reply chan result
}

type tickMsg struct{ gen uint64 }

func (assignMsg) isLobbyMsg()    {}
func (toggleMsg) isLobbyMsg()    {}
func (venueMsg) isLobbyMsg()     {}
func (joinMsg) isLobbyMsg()      {}
func (removeMsg) isLobbyMsg()    {}
func (snapshotMsg) isLobbyMsg()  {}
func (subscribeMsg) isLobbyMsg() {}
func (tickMsg) isLobbyMsg()      {}

type subscription struct {
	id     string
	fn     Listener
	active atomic.Bool
}

// Lobby hosts one session. All reads and writes go through its inbox and are
// applied one at a time on a single goroutine.
type Lobby struct {
	ID      string
	endTime time.Time

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	log    *logrus.Entry

	now       func() time.Time
	newTicker TickerFunc
	interval  time.Duration

	// Owned by the loop goroutine.
	state    session.Session
	version  uint64
	seqs     map[string]uint64
	departed map[string]struct{}

	gen         uint64
	clockCancel context.CancelFunc
	countdown   *session.Countdown
	started     bool

	subMu sync.Mutex
	subs  map[string]*subscription
}

// New validates initial and starts the lobby goroutine. The lobby stops when
// ctx is cancelled or Close is called.
func New(ctx context.Context, initial session.Session, opts ...Option) (*Lobby, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Lobby{
		ID:        initial.LobbyID,
		endTime:   initial.EndTime,
		inbox:     make(chan msg, o.inboxSize),
		ctx:       lctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		log:       o.log.WithField("lobby_id", initial.LobbyID),
		now:       o.now,
		newTicker: o.newTicker,
		interval:  o.interval,
		state:     initial.Clone(),
		version:   initial.Version,
		seqs:      make(map[string]uint64),
		departed:  make(map[string]struct{}),
		subs:      make(map[string]*subscription),
	}

	// A lobby hydrated in Ready starts counting at once.
	if session.IsReady(l.state) {
		l.startClock()
	}

	go l.loop()
	return l, nil
}

// EndTime is the published end of the match slot.
func (l *Lobby) EndTime() time.Time { return l.endTime }

// Done is closed once the lobby goroutine has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Close stops the lobby and waits for its goroutine to exit. Must not be
// called from a Listener.
func (l *Lobby) Close() {
	l.cancel()
	<-l.done
}

func (l *Lobby) loop() {
	defer close(l.done)
	defer l.teardown()

	for {
		select {
		case <-l.ctx.Done():
			return
		case m := <-l.inbox:
			l.handle(m)
		}
	}
}

func (l *Lobby) teardown() {
	l.stopClock()
	l.subMu.Lock()
	for id, sub := range l.subs {
		sub.active.Store(false)
		delete(l.subs, id)
	}
	l.subMu.Unlock()
	l.log.Debug("Lobby closed.")
}

func (l *Lobby) handle(m msg) {
	switch m := m.(type) {
	case assignMsg:
		m.reply <- l.write(m.actor, func(s session.Session) (session.Session, error) {
			return session.AssignSelf(s, m.actor.PlayerID, m.team)
		})

	case toggleMsg:
		m.reply <- l.write(m.actor, func(s session.Session) (session.Session, error) {
			return session.ToggleConfirmation(s, m.actor.PlayerID, l.now())
		})

	case venueMsg:
		m.reply <- l.commit(session.SetCourtScheduled(l.state, m.scheduled))

	case joinMsg:
		next, err := session.Join(l.state, m.player)
		if err != nil {
			m.reply <- result{snap: l.snapshot(), err: err}
			return
		}
		delete(l.departed, m.player.ID)
		delete(l.seqs, m.player.ID)
		m.reply <- l.commit(next)

	case removeMsg:
		next, err := session.Remove(l.state, m.playerID)
		if err != nil {
			m.reply <- result{snap: l.snapshot(), err: err}
			return
		}
		l.departed[m.playerID] = struct{}{}
		delete(l.seqs, m.playerID)
		m.reply <- l.commit(next)

	case snapshotMsg:
		m.reply <- result{snap: l.snapshot()}

	case subscribeMsg:
		l.subMu.Lock()
		if m.sub.active.Load() {
			l.subs[m.sub.id] = m.sub
		}
		l.subMu.Unlock()
		m.reply <- result{snap: l.snapshot()}

	case tickMsg:
		if l.handleTick(m) {
			l.notify(l.snapshot())
		} else {
			l.log.WithField("gen", m.gen).Debug("Dropped stale countdown tick.")
		}
	}
}

// write applies a player-issued change after checking the actor's sequence.
func (l *Lobby) write(a Actor, apply func(session.Session) (session.Session, error)) result {
	if err := l.admit(a); err != nil {
		return result{snap: l.snapshot(), err: err}
	}
	next, err := apply(l.state)
	if err != nil {
		return result{snap: l.snapshot(), err: err}
	}
	if a.Seq != 0 {
		l.seqs[a.PlayerID] = a.Seq
	}
	return l.commit(next)
}

func (l *Lobby) admit(a Actor) error {
	if !l.state.HasPlayer(a.PlayerID) {
		if _, gone := l.departed[a.PlayerID]; gone {
			return fmt.Errorf("%w: %w: %s left the lobby", session.ErrStaleWrite, session.ErrUnknownPlayer, a.PlayerID)
		}
		return nil
	}
	if a.Seq != 0 && a.Seq <= l.seqs[a.PlayerID] {
		return fmt.Errorf("%w: seq %d already applied for %s", session.ErrStaleWrite, a.Seq, a.PlayerID)
	}
	return nil
}

// commit installs next unless it changes nothing, then drives the clock on
// phase changes and notifies listeners.
func (l *Lobby) commit(next session.Session) result {
	if sameState(l.state, next) {
		return result{snap: l.snapshot()}
	}

	wasReady := session.IsReady(l.state)
	l.version++
	next.Version = l.version
	l.state = next
	nowReady := session.IsReady(next)

	switch {
	case !wasReady && nowReady:
		l.log.WithField("version", l.version).Info("Lobby is ready.")
		l.startClock()
	case wasReady && !nowReady:
		l.log.WithField("version", l.version).Info("Lobby is assembling again.")
		l.stopClock()
	}

	snap := l.snapshot()
	l.notify(snap)
	return result{snap: snap}
}

func sameState(a, b session.Session) bool {
	return a.CourtScheduled == b.CourtScheduled &&
		len(a.Roster) == len(b.Roster) &&
		maps.Equal(a.Assignments, b.Assignments) &&
		maps.Equal(a.Confirmed, b.Confirmed)
}

func (l *Lobby) snapshot() session.Snapshot {
	return session.NewSnapshot(l.state, l.version, l.countdown)
}

func (l *Lobby) notify(snap session.Snapshot) {
	l.subMu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for _, sub := range l.subs {
		subs = append(subs, sub)
	}
	l.subMu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(snap)
		}
	}
}

// request hands m to the loop and waits for its reply.
func (l *Lobby) request(ctx context.Context, m msg, reply chan result) (session.Snapshot, error) {
	select {
	case l.inbox <- m:
	case <-l.done:
		return session.Snapshot{}, session.ErrLobbyClosed
	case <-l.ctx.Done():
		return session.Snapshot{}, session.ErrLobbyClosed
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.snap, r.err
	case <-l.done:
		return session.Snapshot{}, session.ErrLobbyClosed
	case <-ctx.Done():
		return session.Snapshot{}, ctx.Err()
	}
}

// AssignSelf moves the actor to team.
func (l *Lobby) AssignSelf(ctx context.Context, a Actor, team session.Team) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, assignMsg{actor: a, team: team, reply: reply}, reply)
}

// ToggleConfirmation flips the actor's attendance confirmation.
func (l *Lobby) ToggleConfirmation(ctx context.Context, a Actor) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, toggleMsg{actor: a, reply: reply}, reply)
}

// SetCourtScheduled records whether the venue booking is confirmed.
func (l *Lobby) SetCourtScheduled(ctx context.Context, scheduled bool) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, venueMsg{scheduled: scheduled, reply: reply}, reply)
}

// Join adds p to the roster, unassigned and unconfirmed.
func (l *Lobby) Join(ctx context.Context, p session.Player) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, joinMsg{player: p, reply: reply}, reply)
}

// Remove takes a player off the roster. Later writes from that player fail
// with ErrStaleWrite.
func (l *Lobby) Remove(ctx context.Context, playerID string) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, removeMsg{playerID: playerID, reply: reply}, reply)
}

// Snapshot returns the latest committed snapshot.
func (l *Lobby) Snapshot(ctx context.Context) (session.Snapshot, error) {
	reply := make(chan result, 1)
	return l.request(ctx, snapshotMsg{reply: reply}, reply)
}

// Subscribe registers fn for every later commit and countdown tick. The
// returned func unsubscribes; it is safe to call more than once and from
// inside fn.
func (l *Lobby) Subscribe(ctx context.Context, fn Listener) (func(), error) {
	sub := &subscription{id: uuid.NewString(), fn: fn}
	sub.active.Store(true)

	unsubscribe := func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		l.subMu.Lock()
		delete(l.subs, sub.id)
		l.subMu.Unlock()
	}

	reply := make(chan result, 1)
	if _, err := l.request(ctx, subscribeMsg{sub: sub, reply: reply}, reply); err != nil {
		// The loop may still register sub after we gave up; it stays inactive.
		unsubscribe()
		return nil, err
	}
	return unsubscribe, nil
}
