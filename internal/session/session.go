// internal/session/session.go
package session

import (
	"fmt"
	"time"
)

// Team is a player's bucket inside a lobby.
type Team string

const (
	TeamA          Team = "A"
	TeamB          Team = "B"
	TeamUnassigned Team = "unassigned"
)

// Valid reports whether t is one of the three known buckets.
func (t Team) Valid() bool {
	switch t {
	case TeamA, TeamB, TeamUnassigned:
		return true
	}
	return false
}

// ParseTeam accepts "A", "B", "unassigned" and the empty string (unassigned).
func ParseTeam(s string) (Team, error) {
	if s == "" {
		return TeamUnassigned, nil
	}
	t := Team(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTeam, s)
	}
	return t, nil
}

// Player is a roster entry. Immutable for the lifetime of a session.
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Rating      int    `json:"rating"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Venue describes where the match is played.
type Venue struct {
	Name          string `json:"name"`
	Neighbourhood string `json:"neighbourhood"`
	Address       string `json:"address"`
	MapLink       string `json:"mapLink,omitempty"`
}

const (
	MinCategory = 1
	MaxCategory = 8
)

// Session is the aggregate root for one scheduled match, from publication to start.
//
// A Session is a value: the operations in this package never mutate their
// input and always return a fresh copy. The live, concurrent host for a
// session is lobby.Lobby.
type Session struct {
	LobbyID        string
	Venue          Venue
	Category       int
	StartTime      time.Time
	EndTime        time.Time
	Capacity       int
	CourtScheduled bool

	// Roster is kept in join order.
	Roster      []Player
	Assignments Assignments
	Confirmed   ConfirmationSet

	// Version is the last committed lobby version. A lobby loaded again from
	// storage keeps counting from it.
	Version uint64
}

// Params are the published match details a session starts from.
type Params struct {
	LobbyID        string
	Venue          Venue
	Category       int
	StartTime      time.Time
	EndTime        time.Time
	Capacity       int
	CourtScheduled bool
	Roster         []Player
}

// New builds a session with every roster player unassigned and unconfirmed.
func New(p Params) (Session, error) {
	s := Session{
		LobbyID:        p.LobbyID,
		Venue:          p.Venue,
		Category:       p.Category,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		Capacity:       p.Capacity,
		CourtScheduled: p.CourtScheduled,
		Roster:         append([]Player(nil), p.Roster...),
		Assignments:    make(Assignments, len(p.Roster)),
		Confirmed:      make(ConfirmationSet),
	}
	for _, pl := range p.Roster {
		s.Assignments[pl.ID] = TeamUnassigned
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Validate checks the published fields and every aggregate invariant.
func (s Session) Validate() error {
	if s.LobbyID == "" {
		return fmt.Errorf("%w: missing lobby id", ErrInvalidSession)
	}
	if s.Category < MinCategory || s.Category > MaxCategory {
		return fmt.Errorf("%w: category %d out of range %d..%d", ErrInvalidSession, s.Category, MinCategory, MaxCategory)
	}
	if s.Capacity != 2 && s.Capacity != 4 {
		return fmt.Errorf("%w: capacity must be 2 or 4, got %d", ErrInvalidSession, s.Capacity)
	}
	if !s.StartTime.Before(s.EndTime) {
		return fmt.Errorf("%w: start time must precede end time", ErrInvalidSession)
	}
	if len(s.Roster) > s.Capacity {
		return fmt.Errorf("%w: %d players exceed capacity %d", ErrInvalidSession, len(s.Roster), s.Capacity)
	}

	seen := make(map[string]struct{}, len(s.Roster))
	for _, p := range s.Roster {
		if err := validatePlayer(p); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: player %s listed twice", ErrInvalidSession, p.ID)
		}
		seen[p.ID] = struct{}{}

		team, ok := s.Assignments[p.ID]
		if !ok {
			return fmt.Errorf("%w: player %s has no assignment", ErrInvalidSession, p.ID)
		}
		if !team.Valid() {
			return fmt.Errorf("%w: player %s assigned to %q", ErrInvalidSession, p.ID, team)
		}
	}
	if len(s.Assignments) != len(s.Roster) {
		return fmt.Errorf("%w: assignments reference players outside the roster", ErrInvalidSession)
	}
	for id := range s.Confirmed {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("%w: confirmed player %s is not on the roster", ErrInvalidSession, id)
		}
	}
	return nil
}

func validatePlayer(p Player) error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidPlayer)
	}
	if p.Rating < 0 {
		return fmt.Errorf("%w: player %s has negative rating %d", ErrInvalidPlayer, p.ID, p.Rating)
	}
	return nil
}

// HasPlayer reports whether id is on the roster.
func (s Session) HasPlayer(id string) bool {
	_, ok := s.Assignments[id]
	return ok
}

// Player looks up a roster entry by id.
func (s Session) Player(id string) (Player, bool) {
	for _, p := range s.Roster {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Clone returns a deep copy that shares no maps or slices with s.
func (s Session) Clone() Session {
	c := s
	c.Roster = append([]Player(nil), s.Roster...)
	c.Assignments = s.Assignments.clone()
	c.Confirmed = s.Confirmed.clone()
	return c
}
