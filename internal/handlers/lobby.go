package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/auth"
	"github.com/padelhub/lobby/internal/lobby"
	"github.com/padelhub/lobby/internal/session"
)

type assignRequest struct {
	Team string `json:"team"`
	Seq  uint64 `json:"seq"`
}

type confirmationRequest struct {
	Seq uint64 `json:"seq"`
}

type venueRequest struct {
	CourtScheduled *bool `json:"courtScheduled"`
}

// lobbyFor resolves the lobby in the URL, hydrating it if needed. It writes
// the error response itself and returns nil on failure.
func (s *APIServer) lobbyFor(w http.ResponseWriter, r *http.Request) *lobby.Lobby {
	id := chi.URLParam(r, "lobbyID")
	l, err := s.Store.Ensure(r.Context(), id)
	if err != nil {
		s.log().WithError(err).WithField("lobby_id", id).Debug("Lobby lookup failed.")
		writeError(w, err)
		return nil
	}
	return l
}

// actor builds the write identity from the authenticated player.
func actor(r *http.Request, seq uint64) (lobby.Actor, bool) {
	id, ok := auth.PlayerFrom(r.Context())
	return lobby.Actor{PlayerID: id, Seq: seq}, ok
}

// GetLobbyHandler returns the current snapshot to players on the roster.
func (s *APIServer) GetLobbyHandler(w http.ResponseWriter, r *http.Request) {
	l := s.lobbyFor(w, r)
	if l == nil {
		return
	}
	snap, err := l.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if id, _ := auth.PlayerFrom(r.Context()); !onRoster(snap, id) {
		writeError(w, fmt.Errorf("%w: %s", session.ErrUnknownPlayer, id))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func onRoster(snap session.Snapshot, playerID string) bool {
	_, ok := snap.Player(playerID)
	return ok
}

// AssignTeamHandler moves the caller to a team.
func (s *APIServer) AssignTeamHandler(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	team, err := session.ParseTeam(req.Team)
	if err != nil {
		writeError(w, err)
		return
	}
	a, ok := actor(r, req.Seq)
	if !ok {
		writeError(w, session.ErrUnknownPlayer)
		return
	}

	l := s.lobbyFor(w, r)
	if l == nil {
		return
	}
	snap, err := l.AssignSelf(r.Context(), a, team)
	if err != nil {
		s.logRejected(l, a, "assign_self", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ToggleConfirmationHandler flips the caller's attendance confirmation.
func (s *APIServer) ToggleConfirmationHandler(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	// An empty body is an unsequenced toggle.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}
	a, ok := actor(r, req.Seq)
	if !ok {
		writeError(w, session.ErrUnknownPlayer)
		return
	}

	l := s.lobbyFor(w, r)
	if l == nil {
		return
	}
	snap, err := l.ToggleConfirmation(r.Context(), a)
	if err != nil {
		s.logRejected(l, a, "toggle_confirmation", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// VenueHandler records a booking fact pushed by the venue collaborator.
func (s *APIServer) VenueHandler(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CourtScheduled == nil {
		badRequest(w, "courtScheduled is required")
		return
	}
	snap, err := s.Store.VenueUpdate(r.Context(), chi.URLParam(r, "lobbyID"), *req.CourtScheduled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// JoinHandler adds a player to the roster.
func (s *APIServer) JoinHandler(w http.ResponseWriter, r *http.Request) {
	var p session.Player
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, "invalid player")
		return
	}
	l := s.lobbyFor(w, r)
	if l == nil {
		return
	}
	snap, err := l.Join(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// RemoveHandler takes a player off the roster.
func (s *APIServer) RemoveHandler(w http.ResponseWriter, r *http.Request) {
	l := s.lobbyFor(w, r)
	if l == nil {
		return
	}
	snap, err := l.Remove(r.Context(), chi.URLParam(r, "playerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *APIServer) logRejected(l *lobby.Lobby, a lobby.Actor, op string, err error) {
	s.log().WithFields(logrus.Fields{
		"lobby_id":  l.ID,
		"player_id": a.PlayerID,
		"op":        op,
		"seq":       a.Seq,
	}).WithError(err).Info("Rejected player action.")
}
