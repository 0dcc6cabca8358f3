// internal/lobby/store.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/padelhub/lobby/internal/session"
)

// Source loads the published session for a lobby. Implementations return
// session.ErrLobbyNotFound for unknown ids and wrap session.ErrFetchFailed
// around every other failure.
type Source interface {
	FetchLobby(ctx context.Context, lobbyID string) (session.Session, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, lobbyID string) (session.Session, error)

func (f SourceFunc) FetchLobby(ctx context.Context, lobbyID string) (session.Session, error) {
	return f(ctx, lobbyID)
}

// Store keeps the live lobbies of this process, one per lobby id.
type Store struct {
	mu      sync.Mutex
	lobbies map[string]*Lobby

	source Source
	group  singleflight.Group
	opts   []Option
	log    *logrus.Entry
	now    func() time.Time

	rec *recorderWorker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLobbyOptions applies opts to every lobby the store hydrates.
func WithLobbyOptions(opts ...Option) StoreOption {
	return func(s *Store) { s.opts = append(s.opts, opts...) }
}

// WithRecorders forwards committed snapshots of every lobby to recs.
func WithRecorders(recs ...Recorder) StoreOption {
	return func(s *Store) {
		if len(recs) == 0 {
			return
		}
		if s.rec == nil {
			s.rec = newRecorderWorker(s.log)
		}
		s.rec.recorders = append(s.rec.recorders, recs...)
	}
}

// WithStoreClock replaces time.Now for the store and the lobbies it hydrates.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithStoreLogger(log *logrus.Entry) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore creates an empty store hydrating from source.
func NewStore(source Source, opts ...StoreOption) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		lobbies: make(map[string]*Lobby),
		source:  source,
		log:     logrus.WithField("component", "lobby_store"),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Explicit lobby options still win over the store clock.
	s.opts = append([]Option{WithClock(s.now)}, s.opts...)
	if s.rec != nil {
		s.rec.log = s.log.WithField("component", "recorder")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rec.run(ctx)
		}()
	}
	return s
}

// Get returns the live lobby for id, if hydrated.
func (s *Store) Get(id string) (*Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lobbies[id]
	return l, ok
}

// Len reports how many lobbies are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

// Ensure returns the live lobby for id, hydrating it from the source on first
// use. Concurrent callers for the same id share one fetch. Lobbies whose match
// slot has ended are never served; they fail with session.ErrLobbyClosed.
func (s *Store) Ensure(ctx context.Context, id string) (*Lobby, error) {
	if l, ok := s.Get(id); ok {
		return s.live(l)
	}
	if s.ctx.Err() != nil {
		return nil, session.ErrLobbyClosed
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		if l, ok := s.Get(id); ok {
			return s.live(l)
		}
		return s.hydrate(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Lobby), nil
}

// live returns l unless its slot ended, in which case it is torn down early
// instead of waiting for the next sweep.
func (s *Store) live(l *Lobby) (*Lobby, error) {
	if s.now().Before(l.EndTime()) {
		return l, nil
	}
	s.Remove(l.ID)
	return nil, endedError(l.ID, l.EndTime())
}

func endedError(id string, end time.Time) error {
	return fmt.Errorf("%w: lobby %s ended at %s", session.ErrLobbyClosed, id, end.UTC().Format(time.RFC3339))
}

func (s *Store) hydrate(ctx context.Context, id string) (*Lobby, error) {
	log := s.log.WithField("lobby_id", id)

	sess, err := s.source.FetchLobby(ctx, id)
	if err != nil {
		if !errors.Is(err, session.ErrLobbyNotFound) && !errors.Is(err, session.ErrFetchFailed) {
			err = fmt.Errorf("%w: %w", session.ErrFetchFailed, err)
		}
		log.WithError(err).Warn("Failed to hydrate lobby.")
		return nil, err
	}
	if sess.LobbyID != id {
		return nil, fmt.Errorf("%w: source returned lobby %q for %q", session.ErrFetchFailed, sess.LobbyID, id)
	}
	if !s.now().Before(sess.EndTime) {
		log.Debug("Refused to hydrate ended lobby.")
		return nil, endedError(id, sess.EndTime)
	}

	opts := append([]Option{WithLogger(log)}, s.opts...)
	l, err := New(s.ctx, sess, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrFetchFailed, err)
	}
	if s.rec != nil {
		if _, err := l.Subscribe(s.ctx, s.rec.enqueue); err != nil {
			l.Close()
			return nil, err
		}
	}

	s.mu.Lock()
	s.lobbies[id] = l
	s.mu.Unlock()
	log.Info("Hydrated lobby.")
	return l, nil
}

// Remove tears down the lobby for id. It reports whether one was live.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	l, ok := s.lobbies[id]
	delete(s.lobbies, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	l.Close()
	if s.rec != nil {
		s.rec.forget(id)
	}
	s.log.WithField("lobby_id", id).Info("Removed lobby.")
	return true
}

// VenueUpdate applies a booking fact from the venue collaborator.
func (s *Store) VenueUpdate(ctx context.Context, id string, scheduled bool) (session.Snapshot, error) {
	l, err := s.Ensure(ctx, id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return l.SetCourtScheduled(ctx, scheduled)
}

// Sweep tears down every lobby whose match slot ended before now and returns
// their ids.
func (s *Store) Sweep(now time.Time) []string {
	s.mu.Lock()
	var expired []string
	for id, l := range s.lobbies {
		if !now.Before(l.EndTime()) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Remove(id)
	}
	return expired
}

// Close tears down every lobby and flushes pending recorder work.
func (s *Store) Close() {
	s.mu.Lock()
	lobbies := s.lobbies
	s.lobbies = make(map[string]*Lobby)
	s.mu.Unlock()

	for _, l := range lobbies {
		l.Close()
	}
	s.cancel()
	s.wg.Wait()
}
