package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/park285/cheese-arena/internal/boardimg"
	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func (s *Server) requestMatch(w http.ResponseWriter, r *http.Request) {
	var req chessdto.MatchRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	out, err := s.arena.RequestMatch(r.Context(), playerID(r), req.TimeControl)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if out.Match == nil {
		respondJSON(w, http.StatusAccepted, chessdto.MatchResponse{Status: "waiting"})
		return
	}
	m := out.Match
	respondJSON(w, http.StatusOK, chessdto.MatchResponse{
		Status: "matched",
		Match:  &chessdto.MatchInfo{GameID: m.GameID, TimeControl: m.TimeControl, Opponent: m.Opponent, Color: m.Color},
	})
}

func (s *Server) cancelMatch(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, chessdto.CancelMatchResponse{Removed: s.arena.CancelMatch(playerID(r))})
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	g, err := s.arena.Game(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) patchGame(w http.ResponseWriter, r *http.Request) {
	var req chessdto.GamePatchRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	p := gamestate.Patch{
		ExpectedVersion: req.Version,
		FEN:             req.FEN,
		AppendMoves:     req.Moves,
		Status:          req.Status,
		Result:          req.Result,
		LossType:        req.LossType,
	}
	if req.DurationMs != nil {
		d := time.Duration(*req.DurationMs) * time.Millisecond
		p.Duration = &d
	}
	g, err := s.arena.UpdateGame(r.Context(), mux.Vars(r)["id"], playerID(r), p)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) submitMove(w http.ResponseWriter, r *http.Request) {
	var req chessdto.MoveRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	g, err := s.arena.SubmitMove(r.Context(), mux.Vars(r)["id"], playerID(r), req.Move, req.Version)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) resign(w http.ResponseWriter, r *http.Request) {
	g, err := s.arena.Resign(r.Context(), mux.Vars(r)["id"], playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) claimTimeout(w http.ResponseWriter, r *http.Request) {
	g, err := s.arena.ClaimTimeout(r.Context(), mux.Vars(r)["id"], playerID(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	var req chessdto.ReportRequest
	if err := decode(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := s.arena.Report(r.Context(), mux.Vars(r)["id"], playerID(r), req.Reason); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// boardImage renders the current position. ?size= sets the square size in
// pixels, ?flip=1 shows black at the bottom.
func (s *Server) boardImage(w http.ResponseWriter, r *http.Request) {
	g, err := s.arena.Game(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	opts := boardimg.Options{}
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("size")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, chessdto.CodeValidation, "size must be a number")
			return
		}
		opts.SquareSize = n
	}
	switch strings.ToLower(q.Get("flip")) {
	case "1", "true", "black":
		opts.Flip = true
	}
	if n := len(g.Moves); n > 0 {
		last := g.Moves[n-1]
		opts.Highlight = &boardimg.Highlight{From: last.From, To: last.To}
	}
	png, err := boardimg.Render(r.Context(), g.FEN, opts)
	if err != nil {
		respondError(w, http.StatusBadRequest, chessdto.CodeValidation, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func (s *Server) adminTerminate(w http.ResponseWriter, r *http.Request) {
	g, err := s.arena.AdminTerminate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (s *Server) adminDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.arena.AdminDelete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
