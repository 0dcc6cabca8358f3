package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/padelhub/lobby/internal/session"
)

// RetryAfterSeconds is sent with 503 responses when the lobby source is down.
const RetryAfterSeconds = "5"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an engine error to an HTTP status and a stable error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrStaleWrite):
		return http.StatusConflict, "stale_write"
	case errors.Is(err, session.ErrUnknownPlayer):
		return http.StatusForbidden, "unknown_player"
	case errors.Is(err, session.ErrConfirmationClosed):
		return http.StatusConflict, "confirmation_closed"
	case errors.Is(err, session.ErrInvalidTeam):
		return http.StatusBadRequest, "invalid_team"
	case errors.Is(err, session.ErrInvalidPlayer):
		return http.StatusBadRequest, "invalid_player"
	case errors.Is(err, session.ErrRosterFull):
		return http.StatusConflict, "roster_full"
	case errors.Is(err, session.ErrDuplicatePlayer):
		return http.StatusConflict, "duplicate_player"
	case errors.Is(err, session.ErrLobbyNotFound):
		return http.StatusNotFound, "lobby_not_found"
	case errors.Is(err, session.ErrFetchFailed):
		return http.StatusServiceUnavailable, "fetch_failed"
	case errors.Is(err, session.ErrLobbyClosed):
		return http.StatusGone, "lobby_closed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: msg})
}
