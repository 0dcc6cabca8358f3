package session

import "time"

// PlayerView is one roster row as seen by clients.
type PlayerView struct {
	Player
	Team      Team `json:"team"`
	Confirmed bool `json:"confirmed"`
}

// Snapshot is an immutable view of a session at one committed version.
// It shares no memory with the session it was derived from.
type Snapshot struct {
	LobbyID        string    `json:"lobbyId"`
	Version        uint64    `json:"version"`
	Venue          Venue     `json:"venue"`
	Category       int       `json:"category"`
	StartTime      time.Time `json:"startTime"`
	EndTime        time.Time `json:"endTime"`
	Capacity       int       `json:"capacity"`
	CourtScheduled bool      `json:"courtScheduled"`

	Players    []PlayerView `json:"players"`
	TeamA      []string     `json:"teamA"`
	TeamB      []string     `json:"teamB"`
	Unassigned []string     `json:"unassigned"`
	Confirmed  int          `json:"confirmedCount"`

	Ready bool  `json:"ready"`
	Phase Phase `json:"phase"`

	// Countdown is set only while the lobby is ready.
	Countdown *Countdown `json:"countdown,omitempty"`
}

// NewSnapshot derives the client view of s. countdown is dropped unless s is ready.
func NewSnapshot(s Session, version uint64, countdown *Countdown) Snapshot {
	snap := Snapshot{
		LobbyID:        s.LobbyID,
		Version:        version,
		Venue:          s.Venue,
		Category:       s.Category,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		Capacity:       s.Capacity,
		CourtScheduled: s.CourtScheduled,
		Players:        make([]PlayerView, 0, len(s.Roster)),
		TeamA:          []string{},
		TeamB:          []string{},
		Unassigned:     []string{},
		Confirmed:      len(s.Confirmed),
		Ready:          IsReady(s),
		Phase:          PhaseOf(s),
	}

	for _, p := range s.Roster {
		team := s.Assignments[p.ID]
		snap.Players = append(snap.Players, PlayerView{
			Player:    p,
			Team:      team,
			Confirmed: s.Confirmed.Has(p.ID),
		})
		switch team {
		case TeamA:
			snap.TeamA = append(snap.TeamA, p.ID)
		case TeamB:
			snap.TeamB = append(snap.TeamB, p.ID)
		default:
			snap.Unassigned = append(snap.Unassigned, p.ID)
		}
	}

	if snap.Ready && countdown != nil {
		cd := *countdown
		snap.Countdown = &cd
	}
	return snap
}

// Player returns the row for id, if present.
func (s Snapshot) Player(id string) (PlayerView, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerView{}, false
}
