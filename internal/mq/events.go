package mq

import (
	"encoding/json"
	"fmt"
	"time"
)

// Routing keys consumed from the booking exchange.
const (
	RKBookingConfirmed = "booking.confirmed"
	RKBookingCancelled = "booking.cancelled"
)

// Routing keys published on the lobby exchange.
const (
	RKLobbyReady      = "lobby.ready"
	RKLobbyAssembling = "lobby.assembling"
	RKLobbyStarted    = "lobby.started"
)

// BookingEvent ties a court booking to the lobby it was made for.
type BookingEvent struct {
	BookingID string `json:"booking_id"`
	LobbyID   string `json:"lobby_id"`
}

// LobbyEvent announces a lobby phase change.
type LobbyEvent struct {
	LobbyID   string    `json:"lobby_id"`
	Version   uint64    `json:"version"`
	Phase     string    `json:"phase"`
	StartTime time.Time `json:"start_time"`
	Venue     string    `json:"venue"`
	PlayerIDs []string  `json:"player_ids"`
}

func decode[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}
