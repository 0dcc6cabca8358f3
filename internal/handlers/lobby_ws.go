// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/auth"
	"github.com/padelhub/lobby/internal/lobby"
	"github.com/padelhub/lobby/internal/middleware"
	"github.com/padelhub/lobby/internal/session"
)

// Frame types on the lobby socket.
const (
	FrameSnapshot           = "snapshot"
	FrameError              = "error"
	FrameAssignSelf         = "assign_self"
	FrameToggleConfirmation = "toggle_confirmation"
)

// outboxSize bounds how far a client may fall behind before it is dropped.
const outboxSize = 16

var (
	errLobbyGone = errors.New("lobby closed")
	errNotMember = errors.New("player left the roster")
)

// ServerFrame is sent to clients.
type ServerFrame struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
	Message  string            `json:"message,omitempty"`
	Seq      uint64            `json:"seq,omitempty"`
}

// ClientFrame is a player action received from a client.
type ClientFrame struct {
	Type string `json:"type"`
	Team string `json:"team,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`
}

// LobbyWSHandler streams snapshots of one lobby and accepts the caller's
// team and confirmation actions.
func (s *APIServer) LobbyWSHandler(w http.ResponseWriter, r *http.Request) {
	playerID, _ := auth.PlayerFrom(r.Context())
	lobbyID := chi.URLParam(r, "lobbyID")
	log := s.log().WithFields(logrus.Fields{
		"lobby_id":  lobbyID,
		"player_id": playerID,
		"conn_id":   uuid.NewString(),
	})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"lobby"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		log.WithError(err).Warn("websocket accept error")
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")

	if c.Subprotocol() != "lobby" {
		c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
		return
	}

	l, err := s.Store.Ensure(r.Context(), lobbyID)
	switch {
	case errors.Is(err, session.ErrLobbyNotFound):
		c.Close(InvalidLobbyIDError, "lobby not found")
		return
	case errors.Is(err, session.ErrLobbyClosed):
		c.Close(LobbyClosedError, "lobby closed")
		return
	case err != nil:
		log.WithError(err).Warn("Lobby lookup failed.")
		c.Close(websocket.StatusTryAgainLater, "lobby unavailable")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan ServerFrame, outboxSize)
	var slow atomic.Bool
	unsubscribe, err := l.Subscribe(ctx, func(snap session.Snapshot) {
		select {
		case out <- ServerFrame{Type: FrameSnapshot, Snapshot: &snap}:
		default:
			if slow.CompareAndSwap(false, true) {
				cancel()
			}
		}
	})
	if err != nil {
		c.Close(LobbyClosedError, "lobby closed")
		return
	}
	defer unsubscribe()

	initial, err := l.Snapshot(ctx)
	if err != nil {
		c.Close(LobbyClosedError, "lobby closed")
		return
	}
	if !onRoster(initial, playerID) {
		c.Close(NotMemberError, "not on the lobby roster")
		return
	}

	middleware.LogWebSocketConnect(log, r.RemoteAddr, r.URL.Path)

	go func() {
		readPump(ctx, c, l, playerID, out, log)
		cancel()
	}()
	err = writePump(ctx, c, playerID, initial, out, l.Done(), log)

	switch {
	case slow.Load():
		c.Close(SlowConsumerError, "client too slow")
	case errors.Is(err, errLobbyGone):
		c.Close(LobbyClosedError, "lobby closed")
	case errors.Is(err, errNotMember):
		c.Close(NotMemberError, "removed from the lobby roster")
	default:
		c.Close(websocket.StatusNormalClosure, "")
	}
	middleware.LogWebSocketDisconnect(log, r.RemoteAddr, r.URL.Path, err)
}

// readPump applies player actions until the connection fails.
func readPump(ctx context.Context, c *websocket.Conn, l *lobby.Lobby, playerID string, out chan<- ServerFrame, log *logrus.Entry) {
	for {
		typ, msg, err := c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				log.WithError(err).Debug("Read error.")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame ClientFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			send(ctx, out, ServerFrame{Type: FrameError, Error: "invalid_body", Message: "invalid JSON format"})
			continue
		}
		if err := applyFrame(ctx, l, playerID, frame); err != nil {
			_, code := classify(err)
			if errors.Is(err, errUnknownFrame) {
				code = "unknown_type"
			}
			log.WithError(err).WithFields(logrus.Fields{"op": frame.Type, "seq": frame.Seq}).Info("Rejected player action.")
			send(ctx, out, ServerFrame{Type: FrameError, Error: code, Message: err.Error(), Seq: frame.Seq})
		}
	}
}

var errUnknownFrame = errors.New("unknown frame type")

func applyFrame(ctx context.Context, l *lobby.Lobby, playerID string, f ClientFrame) error {
	a := lobby.Actor{PlayerID: playerID, Seq: f.Seq}
	switch f.Type {
	case FrameAssignSelf:
		team, err := session.ParseTeam(f.Team)
		if err != nil {
			return err
		}
		_, err = l.AssignSelf(ctx, a, team)
		return err
	case FrameToggleConfirmation:
		_, err := l.ToggleConfirmation(ctx, a)
		return err
	default:
		return errUnknownFrame
	}
}

func send(ctx context.Context, out chan<- ServerFrame, f ServerFrame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}

// writePump owns all writes to c. Snapshots older than one already sent are
// skipped, which covers commits racing the initial snapshot. The stream ends
// once a snapshot no longer lists playerID.
func writePump(ctx context.Context, c *websocket.Conn, playerID string, initial session.Snapshot, out <-chan ServerFrame, lobbyDone <-chan struct{}, log *logrus.Entry) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	write := func(f ServerFrame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return c.Write(writeCtx, websocket.MessageText, data)
	}

	if err := write(ServerFrame{Type: FrameSnapshot, Snapshot: &initial}); err != nil {
		return err
	}
	last := initial.Version

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lobbyDone:
			return errLobbyGone
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		case f := <-out:
			if f.Snapshot != nil {
				if f.Snapshot.Version < last {
					continue
				}
				if !onRoster(*f.Snapshot, playerID) {
					return errNotMember
				}
				last = f.Snapshot.Version
			}
			if err := write(f); err != nil {
				log.WithError(err).Debug("Failed to write to websocket.")
				return err
			}
		}
	}
}
