package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/padelhub/lobby/internal/lobby"
	"github.com/padelhub/lobby/internal/middleware"
)

// APIServer exposes the lobby store over HTTP and WebSocket.
type APIServer struct {
	Store        *lobby.Store
	Auth         middleware.Authenticator
	ServiceToken string
	Logger       *logrus.Logger
}

// Routes builds the router.
func (s *APIServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LogMiddleware(s.Logger))

	r.Get("/healthz", Healthz)

	r.Route("/lobbies/{lobbyID}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePlayer(s.Auth))
			r.Get("/", s.GetLobbyHandler)
			r.Put("/team", s.AssignTeamHandler)
			r.Post("/confirmation", s.ToggleConfirmationHandler)
			r.Get("/ws", s.LobbyWSHandler)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireServiceToken(s.ServiceToken))
			r.Put("/venue", s.VenueHandler)
			r.Post("/players", s.JoinHandler)
			r.Delete("/players/{playerID}", s.RemoveHandler)
		})
	})
	return r
}

func (s *APIServer) log() *logrus.Entry {
	return s.Logger.WithField("component", "api")
}

func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
