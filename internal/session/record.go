package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the persisted form of a session: instants in RFC 3339, sets as id
// arrays and the assignment table as a list of pairs.
type Record struct {
	LobbyID        string             `json:"lobbyId"`
	Venue          Venue              `json:"venue"`
	Category       int                `json:"category"`
	StartTime      time.Time          `json:"startTime"`
	EndTime        time.Time          `json:"endTime"`
	Capacity       int                `json:"capacity"`
	CourtScheduled bool               `json:"isCourtScheduled"`
	Roster         []Player           `json:"roster"`
	Assignments    []AssignmentRecord `json:"assignments"`
	Confirmed      []string           `json:"confirmed"`
	Version        uint64             `json:"version"`
}

// AssignmentRecord is one row of the assignment table.
type AssignmentRecord struct {
	PlayerID string `json:"playerId"`
	Team     Team   `json:"team"`
}

// ToRecord converts s into its persisted form. Assignments follow roster order.
func (s Session) ToRecord() Record {
	r := Record{
		LobbyID:        s.LobbyID,
		Venue:          s.Venue,
		Category:       s.Category,
		StartTime:      s.StartTime.UTC(),
		EndTime:        s.EndTime.UTC(),
		Capacity:       s.Capacity,
		CourtScheduled: s.CourtScheduled,
		Roster:         append([]Player{}, s.Roster...),
		Assignments:    make([]AssignmentRecord, 0, len(s.Roster)),
		Confirmed:      s.Confirmed.IDs(),
		Version:        s.Version,
	}
	for _, p := range s.Roster {
		r.Assignments = append(r.Assignments, AssignmentRecord{PlayerID: p.ID, Team: s.Assignments[p.ID]})
	}
	return r
}

// FromRecord rebuilds and validates a session. Roster players without an
// assignment row start unassigned; rows for unknown players are rejected.
func FromRecord(r Record) (Session, error) {
	s := Session{
		LobbyID:        r.LobbyID,
		Venue:          r.Venue,
		Category:       r.Category,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		Capacity:       r.Capacity,
		CourtScheduled: r.CourtScheduled,
		Roster:         append([]Player(nil), r.Roster...),
		Assignments:    make(Assignments, len(r.Roster)),
		Confirmed:      NewConfirmationSet(r.Confirmed...),
		Version:        r.Version,
	}
	for _, p := range r.Roster {
		s.Assignments[p.ID] = TeamUnassigned
	}
	for _, a := range r.Assignments {
		if _, ok := s.Assignments[a.PlayerID]; !ok {
			return Session{}, fmt.Errorf("%w: assignment for unknown player %s", ErrInvalidSession, a.PlayerID)
		}
		team, err := ParseTeam(string(a.Team))
		if err != nil {
			return Session{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
		}
		s.Assignments[a.PlayerID] = team
	}
	if err := s.Validate(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (s Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToRecord())
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	decoded, err := FromRecord(r)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// Record rebuilds the persisted form of the session this snapshot was taken from.
func (s Snapshot) Record() Record {
	r := Record{
		LobbyID:        s.LobbyID,
		Venue:          s.Venue,
		Category:       s.Category,
		StartTime:      s.StartTime.UTC(),
		EndTime:        s.EndTime.UTC(),
		Capacity:       s.Capacity,
		CourtScheduled: s.CourtScheduled,
		Roster:         make([]Player, 0, len(s.Players)),
		Assignments:    make([]AssignmentRecord, 0, len(s.Players)),
		Confirmed:      []string{},
		Version:        s.Version,
	}
	for _, p := range s.Players {
		r.Roster = append(r.Roster, p.Player)
		r.Assignments = append(r.Assignments, AssignmentRecord{PlayerID: p.ID, Team: p.Team})
		if p.Confirmed {
			r.Confirmed = append(r.Confirmed, p.ID)
		}
	}
	return r
}
