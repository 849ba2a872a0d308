// Package httpapi exposes the arena over HTTP. The session layer in front of
// it authenticates players and forwards their id in X-Player-Id.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/park285/cheese-arena/internal/coordinator"
)

type Server struct {
	router     *mux.Router
	arena      *coordinator.Facade
	ws         http.Handler
	limiter    *RateLimiter
	adminToken string
}

type Option func(*Server)

// WithWebsocket mounts the realtime hub at /ws.
func WithWebsocket(h http.Handler) Option { return func(s *Server) { s.ws = h } }

func WithRateLimiter(rl *RateLimiter) Option { return func(s *Server) { s.limiter = rl } }

// WithAdminToken enables the admin routes. Without a token they always answer 401.
func WithAdminToken(token string) Option { return func(s *Server) { s.adminToken = token } }

func NewServer(arena *coordinator.Facade, opts ...Option) *Server {
	s := &Server{router: mux.NewRouter(), arena: arena}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(loggingMiddleware)
	r.Use(identityMiddleware(s.adminToken))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}

	r.Handle("/matchmaking", player(s.requestMatch)).Methods(http.MethodPost)
	r.Handle("/matchmaking", player(s.cancelMatch)).Methods(http.MethodDelete)

	r.HandleFunc("/games/{id}", s.getGame).Methods(http.MethodGet)
	r.HandleFunc("/games/{id}/board.png", s.boardImage).Methods(http.MethodGet)
	r.Handle("/games/{id}", player(s.patchGame)).Methods(http.MethodPatch)
	r.Handle("/games/{id}/moves", player(s.submitMove)).Methods(http.MethodPost)
	r.Handle("/games/{id}/resign", player(s.resign)).Methods(http.MethodPost)
	r.Handle("/games/{id}/timeout", player(s.claimTimeout)).Methods(http.MethodPost)
	r.Handle("/games/{id}/report", player(s.report)).Methods(http.MethodPost)

	r.Handle("/tournaments", player(s.createTournament)).Methods(http.MethodPost)
	r.HandleFunc("/tournaments/{id}", s.getTournament).Methods(http.MethodGet)
	r.Handle("/tournaments/{id}/join", player(s.joinTournament)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/leave", player(s.leaveTournament)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/start", playerOrAdmin(s.startTournament)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/pair", player(s.pairTournament)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/results", player(s.submitTournamentResult)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/playoff", playerOrAdmin(s.startPlayoff)).Methods(http.MethodPost)
	r.Handle("/tournaments/{id}/playoff/result", player(s.submitPlayoffResult)).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/games/{id}/terminate", s.adminTerminate).Methods(http.MethodPost)
	admin.HandleFunc("/games/{id}", s.adminDelete).Methods(http.MethodDelete)
	admin.HandleFunc("/tournaments", s.adminCreateTournament).Methods(http.MethodPost)
}

func player(h http.HandlerFunc) http.Handler { return requirePlayer(h) }

func playerOrAdmin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAdmin(r) {
			h(w, r)
			return
		}
		requirePlayer(h).ServeHTTP(w, r)
	})
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "queued": s.arena.Queue().Len()})
}
