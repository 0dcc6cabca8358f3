package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/padelhub/lobby/internal/session"
)

// LobbyEvent holds the minimal info needed by the historian service.
type LobbyEvent struct {
	ID        uuid.UUID       `json:"id"`
	LobbyID   string          `json:"lobby_id"`
	Version   uint64          `json:"version"`
	Phase     session.Phase   `json:"phase"`
	Snapshot  json.RawMessage `json:"snapshot"`
	Timestamp int64           `json:"timestamp"` // epoch millis
}

// EventQueue appends committed snapshots to a Redis list for archiving.
type EventQueue struct {
	rdb   *redis.Client
	queue string
	now   func() time.Time
}

func NewEventQueue(rdb *redis.Client, queue string) *EventQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &EventQueue{rdb: rdb, queue: queue, now: time.Now}
}

// NewLobbyEvent wraps a snapshot for the archive.
func NewLobbyEvent(snap session.Snapshot, at time.Time) (LobbyEvent, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return LobbyEvent{}, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return LobbyEvent{
		ID:        uuid.New(),
		LobbyID:   snap.LobbyID,
		Version:   snap.Version,
		Phase:     snap.Phase,
		Snapshot:  body,
		Timestamp: at.UnixMilli(),
	}, nil
}

// Record serializes the snapshot as a LobbyEvent and pushes it onto the queue.
func (q *EventQueue) Record(ctx context.Context, snap session.Snapshot) error {
	ev, err := NewLobbyEvent(snap, q.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal LobbyEvent: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.queue, err)
	}
	return nil
}
