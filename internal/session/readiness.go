package session

// Phase is the two-state lobby lifecycle derived from readiness.
type Phase string

const (
	PhaseAssembling Phase = "assembling"
	PhaseReady      Phase = "ready"
)

// AllConfirmed reports whether every roster player confirmed. An empty roster
// is never all-confirmed.
func AllConfirmed(s Session) bool {
	if len(s.Roster) == 0 {
		return false
	}
	for _, p := range s.Roster {
		if !s.Confirmed.Has(p.ID) {
			return false
		}
	}
	// Confirmed is a subset of the roster, so equal sizes mean equal sets.
	return len(s.Confirmed) == len(s.Roster)
}

// IsReady is true when the court is booked and the whole roster confirmed.
func IsReady(s Session) bool {
	return s.CourtScheduled && AllConfirmed(s)
}

// PhaseOf derives the lobby phase.
func PhaseOf(s Session) Phase {
	if IsReady(s) {
		return PhaseReady
	}
	return PhaseAssembling
}
