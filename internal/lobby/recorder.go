package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

// Recorder receives committed snapshots off the lobby goroutine, e.g. to
// persist them or announce phase changes.
type Recorder interface {
	Record(ctx context.Context, snap session.Snapshot) error
}

// Forgetter is implemented by recorders that keep per-lobby state. Forget is
// called once a torn-down lobby's last snapshot has been recorded.
type Forgetter interface {
	Forget(lobbyID string)
}

// RecordTimeout bounds a single Recorder call.
const RecordTimeout = 5 * time.Second

type recordMark struct {
	version uint64
	started bool
}

// recorderWorker batches snapshots per lobby. Only the latest pending snapshot
// of a lobby is delivered, and countdown ticks that change nothing but the
// remaining time are skipped.
type recorderWorker struct {
	recorders []Recorder
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[string]session.Snapshot
	order   []string
	evicted []string
	wake    chan struct{}

	// Only touched by flush.
	last map[string]recordMark
}

func newRecorderWorker(log *logrus.Entry) *recorderWorker {
	return &recorderWorker{
		log:     log,
		pending: make(map[string]session.Snapshot),
		last:    make(map[string]recordMark),
		wake:    make(chan struct{}, 1),
	}
}

// enqueue is a Listener; it runs on lobby goroutines.
func (w *recorderWorker) enqueue(snap session.Snapshot) {
	w.mu.Lock()
	if _, queued := w.pending[snap.LobbyID]; !queued {
		w.order = append(w.order, snap.LobbyID)
	}
	w.pending[snap.LobbyID] = snap
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// forget drops the worker's and the recorders' state for a torn-down lobby.
// A snapshot still pending for it is recorded first.
func (w *recorderWorker) forget(lobbyID string) {
	w.mu.Lock()
	w.evicted = append(w.evicted, lobbyID)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *recorderWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-w.wake:
			w.flush()
		}
	}
}

func (w *recorderWorker) flush() {
	w.mu.Lock()
	batch := make([]session.Snapshot, 0, len(w.order))
	for _, id := range w.order {
		batch = append(batch, w.pending[id])
	}
	w.pending = make(map[string]session.Snapshot)
	w.order = w.order[:0]
	evicted := w.evicted
	w.evicted = nil
	w.mu.Unlock()

	for _, snap := range batch {
		mark := recordMark{version: snap.Version, started: started(snap)}
		if prev, ok := w.last[snap.LobbyID]; ok && prev == mark {
			continue
		}
		w.last[snap.LobbyID] = mark

		for _, rec := range w.recorders {
			ctx, cancel := context.WithTimeout(context.Background(), RecordTimeout)
			if err := rec.Record(ctx, snap); err != nil {
				w.log.WithError(err).WithFields(logrus.Fields{
					"lobby_id": snap.LobbyID,
					"version":  snap.Version,
				}).Warn("Recorder failed.")
			}
			cancel()
		}
	}

	for _, id := range evicted {
		delete(w.last, id)
		for _, rec := range w.recorders {
			if f, ok := rec.(Forgetter); ok {
				f.Forget(id)
			}
		}
	}
}

func started(snap session.Snapshot) bool {
	return snap.Countdown != nil && snap.Countdown.Started
}
