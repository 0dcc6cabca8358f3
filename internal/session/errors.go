// internal/session/errors.go
package session

import "errors"

// Operation errors. Every failed operation leaves the session untouched.
var (
	ErrUnknownPlayer      = errors.New("player is not on the lobby roster")
	ErrInvalidTeam        = errors.New("invalid team")
	ErrConfirmationClosed = errors.New("confirmation is closed once the match has started")
	ErrRosterFull         = errors.New("lobby roster is full")
	ErrDuplicatePlayer    = errors.New("player already on the roster")
	ErrInvalidPlayer      = errors.New("invalid player")
	ErrInvalidSession     = errors.New("invalid lobby session")

	// StaleWrite is raised when a sequenced write arrives out of order, or when
	// the acting player was removed between read and write. Callers refetch and retry.
	ErrStaleWrite = errors.New("stale write")
)

// Hydration errors, surfaced by lobby sources. Both are retryable.
var (
	ErrLobbyNotFound = errors.New("lobby not found")
	ErrFetchFailed   = errors.New("failed to fetch lobby")
)

// ErrLobbyClosed is returned by a lobby that has been torn down.
var ErrLobbyClosed = errors.New("lobby closed")
