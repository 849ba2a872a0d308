package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/tournament"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

type tournamentResponse struct {
	Tournament *tournament.Tournament `json:"tournament"`
	Standings  []tournament.Standing  `json:"standings"`
	// PlayoffSuggestion names the top two once every regular match is decided.
	PlayoffSuggestion []string `json:"playoffSuggestion,omitempty"`
}

type pairingResponse struct {
	tournament.Pairing
	Game *gamestate.Game `json:"game,omitempty"`
}

type playoffResponse struct {
	Tournament *tournament.Tournament `json:"tournament"`
	Game       *gamestate.Game        `json:"game,omitempty"`
}

func tournamentView(t *tournament.Tournament) tournamentResponse {
	out := tournamentResponse{Tournament: t.Redacted(), Standings: tournament.Standings(t)}
	if t.Status() == tournament.StatusActive && len(t.Matches) > 0 && !hasOpenMatch(t) {
		out.PlayoffSuggestion = tournament.Leaders(t, 2)
	}
	return out
}

func hasOpenMatch(t *tournament.Tournament) bool {
	for _, m := range t.Matches {
		if m.Open() {
			return true
		}
	}
	return false
}

func (s *Server) createTournament(w http.ResponseWriter, r *http.Request) {
	s.create(w, r, playerID(r), false)
}

// adminCreateTournament creates a tournament the admin does not play in.
func (s *Server) adminCreateTournament(w http.ResponseWriter, r *http.Request) {
	creator := playerID(r)
	if creator == "" {
		creator = "admin"
	}
	s.create(w, r, creator, true)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request, creator string, admin bool) {
	var req chessdto.CreateTournamentRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	t, err := s.arena.CreateTournament(r.Context(), tournament.CreateRequest{
		Name:        req.Name,
		GameType:    req.GameType,
		TimeControl: req.TimeControl,
		MaxGames:    req.MaxGames,
		MaxPlayers:  req.MaxPlayers,
		Password:    req.Password,
		CreatorID:   creator,
		Admin:       admin,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tournamentView(t))
}

func (s *Server) getTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.arena.Tournament(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}

func (s *Server) joinTournament(w http.ResponseWriter, r *http.Request) {
	var req chessdto.JoinTournamentRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	t, err := s.arena.JoinTournament(r.Context(), mux.Vars(r)["id"], playerID(r), req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}

func (s *Server) leaveTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.arena.LeaveTournament(r.Context(), mux.Vars(r)["id"], playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}

func (s *Server) startTournament(w http.ResponseWriter, r *http.Request) {
	t, err := s.arena.StartTournament(r.Context(), mux.Vars(r)["id"], playerID(r), isAdmin(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}

func (s *Server) pairTournament(w http.ResponseWriter, r *http.Request) {
	p, g, err := s.arena.PairTournamentMatch(r.Context(), mux.Vars(r)["id"], playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pairingResponse{Pairing: p, Game: g})
}

func (s *Server) submitTournamentResult(w http.ResponseWriter, r *http.Request) {
	var req chessdto.TournamentResultRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	t, err := s.arena.SubmitTournamentResult(r.Context(), mux.Vars(r)["id"], req.MatchID, tournament.MatchResult(req.Result), playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}

func (s *Server) startPlayoff(w http.ResponseWriter, r *http.Request) {
	var req chessdto.PlayoffRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	t, g, err := s.arena.StartPlayoff(r.Context(), mux.Vars(r)["id"], playerID(r), isAdmin(r), req.PlayerOne, req.PlayerTwo)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, playoffResponse{Tournament: t.Redacted(), Game: g})
}

func (s *Server) submitPlayoffResult(w http.ResponseWriter, r *http.Request) {
	var req chessdto.PlayoffResultRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	t, err := s.arena.SubmitPlayoffResult(r.Context(), mux.Vars(r)["id"], tournament.MatchResult(req.Result), playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tournamentView(t))
}
