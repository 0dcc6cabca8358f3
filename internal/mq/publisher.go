package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	})
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// JSONPublisher is the part of Publisher the readiness announcer needs.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type lobbyMark struct {
	phase   session.Phase
	started bool
}

// ReadinessPublisher announces phase changes of lobbies: lobby.ready when a
// lobby becomes ready, lobby.assembling when it falls back, and lobby.started
// once when its countdown reaches the start time.
type ReadinessPublisher struct {
	pub JSONPublisher
	log *logrus.Entry

	mu   sync.Mutex
	seen map[string]lobbyMark
}

func NewReadinessPublisher(pub JSONPublisher, log *logrus.Entry) *ReadinessPublisher {
	return &ReadinessPublisher{
		pub:  pub,
		log:  log.WithField("component", "readiness_publisher"),
		seen: make(map[string]lobbyMark),
	}
}

// Record implements the lobby store's Recorder.
func (r *ReadinessPublisher) Record(ctx context.Context, snap session.Snapshot) error {
	r.mu.Lock()
	prev, known := r.seen[snap.LobbyID]
	cur := lobbyMark{phase: snap.Phase, started: prev.started || (snap.Countdown != nil && snap.Countdown.Started)}
	r.mu.Unlock()

	var keys []string
	switch {
	case cur.phase == session.PhaseReady && (!known || prev.phase != session.PhaseReady):
		keys = append(keys, RKLobbyReady)
	case known && prev.phase == session.PhaseReady && cur.phase == session.PhaseAssembling:
		keys = append(keys, RKLobbyAssembling)
	}
	if cur.started && !prev.started {
		keys = append(keys, RKLobbyStarted)
	}

	ev := lobbyEventFrom(snap)
	for _, key := range keys {
		if err := r.pub.PublishJSON(ctx, key, ev); err != nil {
			// Not marked as seen, so the next snapshot retries.
			return fmt.Errorf("publish %s for lobby %s: %w", key, snap.LobbyID, err)
		}
		r.log.WithFields(logrus.Fields{"lobby_id": snap.LobbyID, "key": key}).Info("Published lobby event.")
	}

	r.mu.Lock()
	r.seen[snap.LobbyID] = cur
	r.mu.Unlock()
	return nil
}

// Forget drops the transition state of a torn-down lobby.
func (r *ReadinessPublisher) Forget(lobbyID string) {
	r.mu.Lock()
	delete(r.seen, lobbyID)
	r.mu.Unlock()
}

func lobbyEventFrom(snap session.Snapshot) LobbyEvent {
	ids := make([]string, 0, len(snap.Players))
	for _, p := range snap.Players {
		ids = append(ids, p.ID)
	}
	return LobbyEvent{
		LobbyID:   snap.LobbyID,
		Version:   snap.Version,
		Phase:     string(snap.Phase),
		StartTime: snap.StartTime,
		Venue:     snap.Venue.Name,
		PlayerIDs: ids,
	}
}
