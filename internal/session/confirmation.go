package session

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ConfirmationSet holds the ids of players who confirmed attendance.
type ConfirmationSet map[string]struct{}

// NewConfirmationSet builds a set from ids.
func NewConfirmationSet(ids ...string) ConfirmationSet {
	c := make(ConfirmationSet, len(ids))
	for _, id := range ids {
		c[id] = struct{}{}
	}
	return c
}

func (c ConfirmationSet) clone() ConfirmationSet {
	if c == nil {
		return ConfirmationSet{}
	}
	return maps.Clone(c)
}

// Has reports whether id confirmed.
func (c ConfirmationSet) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// IDs returns the confirmed ids, sorted.
func (c ConfirmationSet) IDs() []string {
	ids := slices.Sorted(maps.Keys(c))
	if ids == nil {
		return []string{}
	}
	return ids
}

// ToggleConfirmation flips the acting player's attendance confirmation.
// Applying it twice restores the original membership.
//
// A team assignment is not required to confirm. Confirmation stays open in
// both phases until the match start time.
func ToggleConfirmation(s Session, actor string, now time.Time) (Session, error) {
	if !s.HasPlayer(actor) {
		return s, fmt.Errorf("%w: %s", ErrUnknownPlayer, actor)
	}
	if !now.Before(s.StartTime) {
		return s, ErrConfirmationClosed
	}

	next := s.Clone()
	if next.Confirmed.Has(actor) {
		delete(next.Confirmed, actor)
	} else {
		next.Confirmed[actor] = struct{}{}
	}
	return next, nil
}

// IsConfirmed reports whether the player confirmed attendance.
func IsConfirmed(s Session, id string) bool {
	return s.Confirmed.Has(id)
}
