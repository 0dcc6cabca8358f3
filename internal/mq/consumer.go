package mq

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/session"
)

// ConsumerConfig describes the queue bound to the booking exchange.
type ConsumerConfig struct {
	RabbitURL   string
	Exchange    string
	Queue       string
	Bindings    []string
	Prefetch    int
	ServiceName string
}

// VenueUpdater applies booking facts to a lobby.
type VenueUpdater interface {
	VenueUpdate(ctx context.Context, lobbyID string, scheduled bool) (session.Snapshot, error)
}

// BookingConsumer turns booking.confirmed and booking.cancelled events into
// venue updates on the affected lobby.
type BookingConsumer struct {
	cfg   ConsumerConfig
	venue VenueUpdater
	log   *logrus.Entry

	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewBookingConsumer(cfg ConsumerConfig, venue VenueUpdater, log *logrus.Entry) *BookingConsumer {
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = []string{RKBookingConfirmed, RKBookingCancelled}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 8
	}
	return &BookingConsumer{cfg: cfg, venue: venue, log: log.WithField("component", "booking_consumer")}
}

func (c *BookingConsumer) Connect() error {
	conn, err := amqp.Dial(c.cfg.RabbitURL)
	if err != nil {
		return fmt.Errorf("rabbit dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel failed: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %s failed: %w", c.cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue failed: %w", err)
	}
	for _, key := range c.cfg.Bindings {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind queue to exchange=%s key=%s failed: %w", c.cfg.Exchange, key, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("set qos failed: %w", err)
	}

	c.conn = conn
	c.ch = ch
	return nil
}

func (c *BookingConsumer) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *BookingConsumer) Run(ctx context.Context) error {
	msgs, err := c.ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.ServiceName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume failed: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			c.settle(d, c.handle(ctx, d.RoutingKey, d.Body))
		}
	}
}

// errPoison marks deliveries that can never succeed.
var errPoison = errors.New("unprocessable delivery")

func (c *BookingConsumer) settle(d amqp.Delivery, err error) {
	log := c.log.WithField("key", d.RoutingKey)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errPoison):
		log.WithError(err).Warn("Dropping delivery.")
		_ = d.Nack(false, false)
	default:
		log.WithError(err).Warn("Handle error, requeueing.")
		_ = d.Nack(false, true)
	}
}

// handle applies one delivery. Unknown and ended lobbies are acknowledged and dropped.
func (c *BookingConsumer) handle(ctx context.Context, key string, body []byte) error {
	var scheduled bool
	switch key {
	case RKBookingConfirmed:
		scheduled = true
	case RKBookingCancelled:
		scheduled = false
	default:
		c.log.WithField("key", key).Debug("Skip unknown key.")
		return nil
	}

	ev, err := decode[BookingEvent](body)
	if err != nil {
		return fmt.Errorf("%w: %w", errPoison, err)
	}
	if ev.LobbyID == "" {
		return fmt.Errorf("%w: booking %s has no lobby id", errPoison, ev.BookingID)
	}

	log := c.log.WithFields(logrus.Fields{"lobby_id": ev.LobbyID, "booking_id": ev.BookingID})
	snap, err := c.venue.VenueUpdate(ctx, ev.LobbyID, scheduled)
	switch {
	case errors.Is(err, session.ErrLobbyNotFound):
		log.Warn("Booking for unknown lobby.")
		return nil
	case errors.Is(err, session.ErrLobbyClosed):
		log.Info("Booking for ended lobby.")
		return nil
	case err != nil:
		return err
	}
	log.WithFields(logrus.Fields{"scheduled": scheduled, "phase": snap.Phase}).Info("Applied booking update.")
	return nil
}
