// internal/lobby/clock.go
package lobby

import (
	"context"
	"time"

	"github.com/padelhub/lobby/internal/session"
)

// Ticker is the scheduler behind the countdown clock. The lobby only assumes
// that ticks arrive and that now() does not move backwards between them.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// SystemTicker backs the clock with time.Ticker.
func SystemTicker(d time.Duration) Ticker {
	return systemTicker{t: time.NewTicker(d)}
}

// runClock forwards ticks into the lobby inbox until ctx is cancelled.
// Ticks carry the clock generation so the lobby can drop ones that were
// already in flight when the clock was stopped.
func runClock(ctx context.Context, t Ticker, gen uint64, inbox chan<- msg) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			select {
			case inbox <- tickMsg{gen: gen}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// startClock runs on entering Ready. The first reading is taken right away so
// the committing snapshot already carries it.
func (l *Lobby) startClock() {
	if l.started {
		return
	}
	cd := l.measure()
	if cd.Started {
		l.log.Info("Match start time reached on entering ready.")
		return
	}

	l.gen++
	ctx, cancel := context.WithCancel(l.ctx)
	l.clockCancel = cancel
	go runClock(ctx, l.newTicker(l.interval), l.gen, l.inbox)
}

// stopClock runs on leaving Ready and on teardown.
func (l *Lobby) stopClock() {
	if l.clockCancel != nil {
		l.clockCancel()
		l.clockCancel = nil
	}
	l.gen++
}

// handleTick recomputes the countdown. Returns false for stale ticks.
func (l *Lobby) handleTick(m tickMsg) bool {
	if m.gen != l.gen || l.clockCancel == nil {
		return false
	}
	cd := l.measure()
	if cd.Started {
		l.log.Info("Countdown finished, match started.")
		l.stopClock()
	}
	return true
}

// measure takes a countdown reading, never letting it count back up.
func (l *Lobby) measure() session.Countdown {
	cd := session.CountdownAt(l.state.StartTime, l.now())
	if prev := l.countdown; prev != nil && !cd.Started && cd.Remaining() > prev.Remaining() {
		cd = *prev
	}
	if cd.Started {
		l.started = true
	}
	l.countdown = &cd
	return cd
}
