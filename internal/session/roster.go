package session

import "fmt"

// Join appends p to the roster as unassigned and unconfirmed.
func Join(s Session, p Player) (Session, error) {
	if err := validatePlayer(p); err != nil {
		return s, err
	}
	if s.HasPlayer(p.ID) {
		return s, fmt.Errorf("%w: %s", ErrDuplicatePlayer, p.ID)
	}
	if len(s.Roster) >= s.Capacity {
		return s, fmt.Errorf("%w: capacity %d", ErrRosterFull, s.Capacity)
	}

	next := s.Clone()
	next.Roster = append(next.Roster, p)
	next.Assignments[p.ID] = TeamUnassigned
	return next, nil
}

// Remove drops a player from the roster together with their assignment and
// confirmation, so no orphan entries survive.
func Remove(s Session, id string) (Session, error) {
	if !s.HasPlayer(id) {
		return s, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}

	next := s.Clone()
	next.Roster = next.Roster[:0]
	for _, p := range s.Roster {
		if p.ID != id {
			next.Roster = append(next.Roster, p)
		}
	}
	next.Assignments = s.Assignments.without(id)
	delete(next.Confirmed, id)
	return next, nil
}

// SetCourtScheduled records the venue booking fact supplied by the booking collaborator.
func SetCourtScheduled(s Session, scheduled bool) Session {
	next := s.Clone()
	next.CourtScheduled = scheduled
	return next
}
