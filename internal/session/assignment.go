package session

import (
	"fmt"
	"maps"
)

// Assignments maps a roster player's id to their team.
type Assignments map[string]Team

func (a Assignments) clone() Assignments {
	if a == nil {
		return Assignments{}
	}
	return maps.Clone(a)
}

// with returns a copy of a where id is placed on team.
func (a Assignments) with(id string, team Team) Assignments {
	c := a.clone()
	c[id] = team
	return c
}

// without returns a copy of a with id removed.
func (a Assignments) without(id string) Assignments {
	c := a.clone()
	delete(c, id)
	return c
}

// AssignSelf places the acting player on team. Only the actor's own entry can
// change: there is deliberately no way to name a different target player.
//
// Assigning to the team the player is already on returns an identical session.
// Teams are not capped, so sides may be uneven while players sort themselves.
func AssignSelf(s Session, actor string, team Team) (Session, error) {
	if !team.Valid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidTeam, team)
	}
	if !s.HasPlayer(actor) {
		return s, fmt.Errorf("%w: %s", ErrUnknownPlayer, actor)
	}

	next := s.Clone()
	next.Assignments = s.Assignments.with(actor, team)
	return next, nil
}

// PlayersByTeam returns the roster players currently on team, in join order.
func PlayersByTeam(s Session, team Team) []Player {
	out := make([]Player, 0, len(s.Roster))
	for _, p := range s.Roster {
		if s.Assignments[p.ID] == team {
			out = append(out, p)
		}
	}
	return out
}

// TeamOf returns the player's current team.
func TeamOf(s Session, id string) (Team, bool) {
	t, ok := s.Assignments[id]
	return t, ok
}
