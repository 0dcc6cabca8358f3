package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

// Source is the upstream a SessionCache reads through to.
type Source interface {
	FetchLobby(ctx context.Context, lobbyID string) (session.Session, error)
}

// SessionCache keeps the latest committed state of each lobby in Redis so a
// restarted process hydrates without touching the database. Redis failures
// degrade to the upstream source.
type SessionCache struct {
	rdb  *redis.Client
	next Source
	ttl  time.Duration
	log  *logrus.Entry
}

func NewSessionCache(rdb *redis.Client, next Source, ttl time.Duration, log *logrus.Entry) *SessionCache {
	return &SessionCache{rdb: rdb, next: next, ttl: ttl, log: log.WithField("component", "session_cache")}
}

func sessionKey(lobbyID string) string {
	return "lobby:session:" + lobbyID
}

// FetchLobby serves from Redis, falling back to the upstream source and
// populating the cache on success.
func (c *SessionCache) FetchLobby(ctx context.Context, lobbyID string) (session.Session, error) {
	log := c.log.WithField("lobby_id", lobbyID)

	data, err := c.rdb.Get(ctx, sessionKey(lobbyID)).Bytes()
	switch {
	case err == nil:
		var s session.Session
		decodeErr := json.Unmarshal(data, &s)
		if decodeErr == nil {
			return s, nil
		}
		log.WithError(decodeErr).Warn("Discarding undecodable cached session.")
	case errors.Is(err, redis.Nil):
	default:
		log.WithError(err).Warn("Session cache read failed.")
	}

	s, err := c.next.FetchLobby(ctx, lobbyID)
	if err != nil {
		return session.Session{}, err
	}
	if err := c.put(ctx, s.ToRecord()); err != nil {
		log.WithError(err).Warn("Session cache write failed.")
	}
	return s, nil
}

// Record refreshes the cached session from a committed snapshot.
func (c *SessionCache) Record(ctx context.Context, snap session.Snapshot) error {
	return c.put(ctx, snap.Record())
}

// Invalidate drops the cached session of a lobby.
func (c *SessionCache) Invalidate(ctx context.Context, lobbyID string) error {
	return c.rdb.Del(ctx, sessionKey(lobbyID)).Err()
}

func (c *SessionCache) put(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := c.rdb.Set(ctx, sessionKey(rec.LobbyID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", sessionKey(rec.LobbyID), err)
	}
	return nil
}
