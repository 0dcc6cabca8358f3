// internal/cache/cache_test.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/padelhub/lobby/internal/session"
)

var start = time.Date(2025, 10, 5, 18, 0, 0, 0, time.UTC)

func testSession(t *testing.T, id string) session.Session {
	t.Helper()
	s, err := session.New(session.Params{
		LobbyID:        id,
		Venue:          session.Venue{Name: "Padel Center Lisboa"},
		Category:       3,
		StartTime:      start,
		EndTime:        start.Add(90 * time.Minute),
		Capacity:       2,
		CourtScheduled: true,
		Roster:         []session.Player{{ID: "a", DisplayName: "Ana"}, {ID: "b", DisplayName: "Bruno"}},
	})
	require.NoError(t, err)
	return s
}

// testRedis connects to a local Redis or skips, e.g. when running without docker.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb, err := ConnectRedis(context.Background(), addr, 0)
	if err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func nullLog() *logrus.Entry {
	log, _ := logtest.NewNullLogger()
	return logrus.NewEntry(log)
}

type stubSource struct {
	calls int
	s     session.Session
	err   error
}

func (s *stubSource) FetchLobby(context.Context, string) (session.Session, error) {
	s.calls++
	return s.s, s.err
}

func TestNewLobbyEvent(t *testing.T) {
	snap := session.NewSnapshot(testSession(t, "1"), 3, nil)
	at := start.Add(-time.Hour)

	ev, err := NewLobbyEvent(snap, at)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, ev.ID)
	assert.Equal(t, "1", ev.LobbyID)
	assert.Equal(t, uint64(3), ev.Version)
	assert.Equal(t, session.PhaseAssembling, ev.Phase)
	assert.Equal(t, at.UnixMilli(), ev.Timestamp)

	var decoded session.Snapshot
	require.NoError(t, json.Unmarshal(ev.Snapshot, &decoded))
	assert.Equal(t, snap.Players, decoded.Players)
}

func TestSessionCacheReadsThrough(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, sessionKey(id)) })

	src := &stubSource{s: testSession(t, id)}
	c := NewSessionCache(rdb, src, time.Minute, nullLog())

	first, err := c.FetchLobby(ctx, id)
	require.NoError(t, err)
	second, err := c.FetchLobby(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first.Roster, second.Roster)
	assert.True(t, second.StartTime.Equal(start))
}

func TestSessionCacheRecordRefreshes(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	id := uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, sessionKey(id)) })

	s := testSession(t, id)
	src := &stubSource{s: s}
	c := NewSessionCache(rdb, src, time.Minute, nullLog())

	next, err := session.AssignSelf(s, "b", session.TeamA)
	require.NoError(t, err)
	require.NoError(t, c.Record(ctx, session.NewSnapshot(next, 1, nil)))

	got, err := c.FetchLobby(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, src.calls)
	assert.Equal(t, session.TeamA, got.Assignments["b"])

	require.NoError(t, c.Invalidate(ctx, id))
	_, err = c.FetchLobby(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestSessionCacheDoesNotCacheFailures(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	id := uuid.NewString()

	src := &stubSource{err: session.ErrLobbyNotFound}
	c := NewSessionCache(rdb, src, time.Minute, nullLog())

	_, err := c.FetchLobby(ctx, id)
	require.ErrorIs(t, err, session.ErrLobbyNotFound)
	err = rdb.Get(ctx, sessionKey(id)).Err()
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestEventQueuePushes(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	queue := "test_lobby_events_" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(ctx, queue) })

	q := NewEventQueue(rdb, queue)
	snap := session.NewSnapshot(testSession(t, "1"), 2, nil)
	require.NoError(t, q.Record(ctx, snap))

	raw, err := rdb.LPop(ctx, queue).Bytes()
	require.NoError(t, err)
	var ev LobbyEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, "1", ev.LobbyID)
	assert.Equal(t, uint64(2), ev.Version)
}
