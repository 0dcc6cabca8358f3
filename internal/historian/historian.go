// internal/historian/historian.go pops lobby events from a Redis queue and
// archives them in PostgreSQL.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/padelhub/lobby/internal/cache"
)

// Config tunes batching.
type Config struct {
	Queue       string
	BatchSize   int
	FlushDelay  time.Duration
	PollTimeout time.Duration
}

// Service encapsulates the Redis + DB logic for archiving lobby events.
type Service struct {
	rdb   *redis.Client
	write func(ctx context.Context, events []cache.LobbyEvent) error
	cfg   Config
	log   *logrus.Entry

	batchMu sync.Mutex
	batch   []cache.LobbyEvent
}

// New builds a Service writing to pool.
func New(rdb *redis.Client, pool *pgxpool.Pool, cfg Config, log *logrus.Entry) *Service {
	if cfg.Queue == "" {
		cfg.Queue = cache.DefaultQueueName
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = 500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 3 * time.Second
	}
	return &Service{
		rdb: rdb,
		write: func(ctx context.Context, events []cache.LobbyEvent) error {
			return insertEvents(ctx, pool, events)
		},
		cfg:   cfg,
		log:   log.WithField("component", "historian"),
		batch: make([]cache.LobbyEvent, 0, cfg.BatchSize),
	}
}

// Run reads the queue and flushes batches until ctx is cancelled. Whatever is
// still buffered is flushed before returning.
func (s *Service) Run(ctx context.Context) error {
	s.log.WithField("queue", s.cfg.Queue).Info("Historian started.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(flushCtx)

	s.log.Info("Historian stopped.")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLoop uses BLPop with a timeout so that cancellation is noticed.
func (s *Service) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := s.rdb.BLPop(ctx, s.cfg.PollTimeout, s.cfg.Queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.log.WithError(err).Error("BLPop failed.")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		// res[0] is the queue name and res[1] the payload.
		if len(res) < 2 {
			continue
		}
		s.accept(ctx, res[1])
	}
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.FlushDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.flush(ctx)
		}
	}
}

// accept decodes one payload into the batch and flushes when it is full.
func (s *Service) accept(ctx context.Context, payload string) {
	var ev cache.LobbyEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		s.log.WithError(err).Warn("Invalid lobby event.")
		return
	}
	if ev.LobbyID == "" {
		s.log.Warn("Lobby event without lobby id.")
		return
	}

	s.batchMu.Lock()
	s.batch = append(s.batch, ev)
	full := len(s.batch) >= s.cfg.BatchSize
	s.batchMu.Unlock()

	if full {
		s.flush(ctx)
	}
}

// flush writes the current batch in one transaction. A failed batch is put
// back in front of events that arrived meanwhile.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]cache.LobbyEvent, 0, s.cfg.BatchSize)
	s.batchMu.Unlock()

	if err := s.write(ctx, pending); err != nil {
		s.log.WithError(err).WithField("events", len(pending)).Error("Failed to flush lobby events.")
		s.batchMu.Lock()
		s.batch = append(pending, s.batch...)
		s.batchMu.Unlock()
		return
	}
	s.log.WithField("events", len(pending)).Debug("Flushed lobby events.")
}

func insertEvents(ctx context.Context, pool *pgxpool.Pool, events []cache.LobbyEvent) error {
	q := `
		INSERT INTO lobby_events (id, lobby_id, version, phase, payload, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, ev := range events {
			if _, err := tx.Exec(ctx, q,
				ev.ID, ev.LobbyID, int64(ev.Version), string(ev.Phase), []byte(ev.Snapshot), time.UnixMilli(ev.Timestamp).UTC(),
			); err != nil {
				return fmt.Errorf("insert event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}
