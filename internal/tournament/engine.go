// Package tournament runs round-robin tournaments: random pairing without
// repeat opponents, standings from submitted results, and a single decisive
// playoff that completes the tournament.
package tournament

import (
	"context"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// RandSource picks a uniform index in [0, n).
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

type Engine struct {
	store Store
	rand  RandSource
	now   func() time.Time
	newID func() string
}

type EngineOption func(*Engine)

func WithRand(r RandSource) EngineOption { return func(e *Engine) { e.rand = r } }

func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func WithIDGenerator(fn func() string) EngineOption { return func(e *Engine) { e.newID = fn } }

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, rand: globalRand{}, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func notActive(t *Tournament) error {
	return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is %s, not active", t.ID, t.Status())
}

// Create stores a pending tournament. A non-admin creator joins it right away.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*Tournament, error) {
	creator := strings.TrimSpace(req.CreatorID)
	switch {
	case creator == "":
		return nil, chessdto.Errorf(chessdto.CodeValidation, "creator is required")
	case strings.TrimSpace(req.TimeControl) == "":
		return nil, chessdto.Errorf(chessdto.CodeValidation, "time control is required")
	case req.MaxGames < 1:
		return nil, chessdto.Errorf(chessdto.CodeValidation, "maxGames must be at least 1")
	case req.MaxPlayers < 2:
		return nil, chessdto.Errorf(chessdto.CodeValidation, "maxPlayers must be at least 2")
	}
	cfg := Config{
		Name:         strings.TrimSpace(req.Name),
		GameType:     strings.TrimSpace(req.GameType),
		TimeControl:  strings.TrimSpace(req.TimeControl),
		MaxGames:     req.MaxGames,
		MaxPlayers:   req.MaxPlayers,
		CreatorID:    creator,
		AdminCreated: req.Admin,
	}
	// 관리자 대회는 비밀번호 검사를 하지 않는다.
	if req.Password != "" && !req.Admin {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		cfg.PasswordHash = string(hash)
		cfg.Private = true
	}
	now := e.now()
	t := &Tournament{
		ID:        e.newID(),
		Config:    cfg,
		Players:   []Standing{},
		Matches:   []Match{},
		State:     Pending{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !req.Admin {
		t.Players = append(t.Players, Standing{PlayerID: creator})
	}
	if err := e.store.Create(ctx, t); err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_create",
		zap.String("tournament_id", t.ID),
		zap.String("creator_id", creator),
		zap.String("time_control", cfg.TimeControl),
		zap.Int("max_games", cfg.MaxGames),
		zap.Int("max_players", cfg.MaxPlayers),
		zap.Bool("admin", cfg.AdminCreated),
	)
	return t, nil
}

func (e *Engine) Get(ctx context.Context, id string) (*Tournament, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Join(ctx context.Context, id, playerID, password string) (*Tournament, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "player id is required")
	}
	head, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The hash never changes after creation, so it is checked once outside the retry loop.
	if head.Config.PasswordHash != "" && !head.Config.AdminCreated {
		if bcrypt.CompareHashAndPassword([]byte(head.Config.PasswordHash), []byte(password)) != nil {
			return nil, chessdto.Errorf(chessdto.CodeUnauthorized, "wrong tournament password")
		}
	}
	t, err := e.store.Mutate(ctx, id, "tournament_join", func(t *Tournament) error {
		if t.Status() != StatusPending {
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is %s, joining is closed", t.ID, t.Status())
		}
		if t.HasPlayer(playerID) {
			return chessdto.Errorf(chessdto.CodeStateConflict, "player %s already joined", playerID)
		}
		if len(t.Players) >= t.Config.MaxPlayers {
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is full", t.ID)
		}
		t.Players = append(t.Players, Standing{PlayerID: playerID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_join", zap.String("tournament_id", id), zap.String("player_id", playerID), zap.Int("players", len(t.Players)))
	return t, nil
}

// Leave removes playerID and its open matches. Dropping below two players
// cancels the tournament.
func (e *Engine) Leave(ctx context.Context, id, playerID string) (*Tournament, error) {
	t, err := e.store.Mutate(ctx, id, "tournament_leave", func(t *Tournament) error {
		st := t.Status()
		if st != StatusPending && st != StatusActive {
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is %s, leaving is closed", t.ID, st)
		}
		if !t.HasPlayer(playerID) {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in tournament %s", playerID, t.ID)
		}
		if playerID == t.Config.CreatorID {
			return chessdto.Errorf(chessdto.CodeStateConflict, "the creator cannot leave")
		}
		players := t.Players[:0]
		for _, p := range t.Players {
			if p.PlayerID != playerID {
				players = append(players, p)
			}
		}
		t.Players = players
		matches := t.Matches[:0]
		for _, m := range t.Matches {
			if m.Open() && m.Involves(playerID) {
				continue
			}
			matches = append(matches, m)
		}
		t.Matches = matches
		if len(t.Players) < 2 {
			t.State = Cancelled{Reason: "not enough players", CancelledAt: e.now()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_leave", zap.String("tournament_id", id), zap.String("player_id", playerID), zap.String("status", string(t.Status())))
	return t, nil
}

func (e *Engine) Start(ctx context.Context, id, requester string, isAdmin bool) (*Tournament, error) {
	t, err := e.store.Mutate(ctx, id, "tournament_start", func(t *Tournament) error {
		if !isAdmin && (t.Config.AdminCreated || requester != t.Config.CreatorID) {
			return chessdto.Errorf(chessdto.CodeUnauthorized, "only the creator can start tournament %s", t.ID)
		}
		if t.Status() != StatusPending {
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is %s, cannot start", t.ID, t.Status())
		}
		if len(t.Players) < 2 {
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s needs at least 2 players", t.ID)
		}
		t.State = Active{StartedAt: e.now()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_start", zap.String("tournament_id", id), zap.Int("players", len(t.Players)))
	return t, nil
}

// PairMatch finds the next opponent for playerID. Found=false means no
// eligible opponent remains for now.
func (e *Engine) PairMatch(ctx context.Context, id, playerID string) (Pairing, error) {
	var out Pairing
	_, err := e.store.Mutate(ctx, id, "tournament_pair", func(t *Tournament) error {
		out = Pairing{}
		if t.Status() != StatusActive {
			return notActive(t)
		}
		me := t.standing(playerID)
		if me == nil {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in tournament %s", playerID, t.ID)
		}
		if open := openMatchFor(t, playerID); open != nil {
			out = Pairing{Found: true, MatchID: open.ID, GameID: open.GameID, Opponent: open.Opponent(playerID), TimeControl: t.Config.TimeControl, Reused: true}
			return errNoop
		}
		cands := candidates(t, playerID)
		if len(cands) == 0 {
			return errNoop
		}
		opp := cands[e.rand.IntN(len(cands))]
		m := Match{ID: e.newID(), PlayerOne: playerID, PlayerTwo: opp, GameID: e.newID(), CreatedAt: e.now()}
		t.Matches = append(t.Matches, m)
		out = Pairing{Found: true, MatchID: m.ID, GameID: m.GameID, Opponent: opp, TimeControl: t.Config.TimeControl}
		return nil
	})
	if err != nil {
		return Pairing{}, err
	}
	if !out.Found {
		obslog.L().Info("tournament_pair_none", zap.String("tournament_id", id), zap.String("player_id", playerID))
		return out, nil
	}
	obslog.L().Info("tournament_pair",
		zap.String("tournament_id", id),
		zap.String("match_id", out.MatchID),
		zap.String("player_id", playerID),
		zap.String("opponent", out.Opponent),
		zap.Bool("reused", out.Reused),
	)
	return out, nil
}

// VoidGame drops the open regular match bound to gameID, as Leave does, so
// both players can be paired again. A playoff game is left alone since an
// open playoff can be reissued. Unknown or decided matches are a no-op.
func (e *Engine) VoidGame(ctx context.Context, id, gameID string) (*Tournament, error) {
	voided := ""
	t, err := e.store.Mutate(ctx, id, "tournament_void", func(t *Tournament) error {
		voided = ""
		if t.Status() != StatusActive {
			return errNoop
		}
		for i, m := range t.Matches {
			if m.GameID == gameID && m.Open() {
				voided = m.ID
				t.Matches = append(t.Matches[:i], t.Matches[i+1:]...)
				return nil
			}
		}
		return errNoop
	})
	if err != nil {
		return nil, err
	}
	if voided != "" {
		obslog.L().Info("tournament_void", zap.String("tournament_id", id), zap.String("match_id", voided), zap.String("game_id", gameID))
	}
	return t, nil
}

// SubmitResult records a regular match result. The same result twice is a
// no-op; a different one is a result conflict.
func (e *Engine) SubmitResult(ctx context.Context, id, matchID string, result MatchResult, playerID string) (*Tournament, error) {
	if !result.Valid() {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "invalid result %q", result)
	}
	duplicate := false
	t, err := e.store.Mutate(ctx, id, "tournament_result", func(t *Tournament) error {
		duplicate = false
		if t.Status() != StatusActive {
			return notActive(t)
		}
		m := t.match(matchID)
		if m == nil {
			return chessdto.Errorf(chessdto.CodeNotFound, "match %s not found", matchID)
		}
		if !m.Involves(playerID) {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in match %s", playerID, matchID)
		}
		if !m.Open() {
			if m.Result == result {
				duplicate = true
				return errNoop
			}
			return chessdto.Errorf(chessdto.CodeResultConflict, "match %s already recorded as %s", matchID, m.Result)
		}
		one, two := t.standing(m.PlayerOne), t.standing(m.PlayerTwo)
		if one == nil || two == nil {
			return chessdto.Errorf(chessdto.CodeStateConflict, "match %s has a player who left", matchID)
		}
		m.Result = result
		applyResult(one, two, result)
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_result",
		zap.String("tournament_id", id),
		zap.String("match_id", matchID),
		zap.String("result", string(result)),
		zap.String("player_id", playerID),
		zap.Bool("duplicate", duplicate),
	)
	return t, nil
}

// StartPlayoff moves an active tournament into its playoff between p1 and
// p2. Only the creator or an admin may trigger it and every regular match
// must be decided first. A playoff without a result can be reissued, e.g.
// after a drawn playoff game.
func (e *Engine) StartPlayoff(ctx context.Context, id, requester string, isAdmin bool, p1, p2 string) (*Tournament, error) {
	p1, p2 = strings.TrimSpace(p1), strings.TrimSpace(p2)
	if p1 == "" || p2 == "" || p1 == p2 {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "playoff needs two different players")
	}
	t, err := e.store.Mutate(ctx, id, "tournament_playoff", func(t *Tournament) error {
		if !isAdmin && requester != t.Config.CreatorID {
			return chessdto.Errorf(chessdto.CodeUnauthorized, "only the creator can start the playoff")
		}
		var started time.Time
		switch s := t.State.(type) {
		case Active:
			started = s.StartedAt
		case Playoff:
			if !s.Match.Open() {
				return chessdto.Errorf(chessdto.CodeStateConflict, "playoff of %s is already decided", t.ID)
			}
			started = s.StartedAt
		default:
			return notActive(t)
		}
		if !t.HasPlayer(p1) || !t.HasPlayer(p2) {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "playoff players must be in tournament %s", t.ID)
		}
		for _, m := range t.Matches {
			if m.Open() {
				return chessdto.Errorf(chessdto.CodeStateConflict, "match %s is still open", m.ID)
			}
		}
		t.State = Playoff{StartedAt: started, Match: Match{ID: e.newID(), PlayerOne: p1, PlayerTwo: p2, GameID: e.newID(), CreatedAt: e.now()}}
		return nil
	})
	if err != nil {
		return nil, err
	}
	obslog.L().Info("tournament_playoff_start", zap.String("tournament_id", id), zap.String("player_one", p1), zap.String("player_two", p2))
	return t, nil
}

// SubmitPlayoffResult decides the playoff and completes the tournament. Draws
// are rejected.
func (e *Engine) SubmitPlayoffResult(ctx context.Context, id string, result MatchResult, playerID string) (*Tournament, error) {
	if !result.Decisive() {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "playoff result must be 1-0 or 0-1, got %q", result)
	}
	t, err := e.store.Mutate(ctx, id, "tournament_playoff_result", func(t *Tournament) error {
		switch s := t.State.(type) {
		case Playoff:
			if !s.Match.Involves(playerID) {
				return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in the playoff", playerID)
			}
			m := s.Match
			m.Result = result
			t.State = Completed{StartedAt: s.StartedAt, Playoff: m, Winner: m.Winner(), CompletedAt: e.now()}
			return nil
		case Completed:
			if !s.Playoff.Involves(playerID) {
				return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in the playoff", playerID)
			}
			if s.Playoff.Result == result {
				return errNoop
			}
			return chessdto.Errorf(chessdto.CodeResultConflict, "playoff already recorded as %s", s.Playoff.Result)
		default:
			return chessdto.Errorf(chessdto.CodeStateConflict, "tournament %s is %s, no playoff running", t.ID, t.Status())
		}
	})
	if err != nil {
		return nil, err
	}
	if c, ok := t.State.(Completed); ok {
		obslog.L().Info("tournament_complete", zap.String("tournament_id", id), zap.String("winner", c.Winner), zap.String("result", string(result)))
	}
	return t, nil
}

// Standings orders players by points, then wins, then id.
func Standings(t *Tournament) []Standing {
	out := append([]Standing(nil), t.Players...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	return out
}

// Leaders returns the ids of the top n players, a suggestion for the playoff.
func Leaders(t *Tournament, n int) []string {
	st := Standings(t)
	if n > len(st) {
		n = len(st)
	}
	ids := make([]string, 0, n)
	for _, s := range st[:n] {
		ids = append(ids, s.PlayerID)
	}
	return ids
}

func applyResult(one, two *Standing, r MatchResult) {
	one.GamesPlayed++
	two.GamesPlayed++
	switch r {
	case ResultPlayerOne:
		one.Points++
		one.Wins++
		two.Losses++
	case ResultPlayerTwo:
		two.Points++
		two.Wins++
		one.Losses++
	case ResultDraw:
		one.Points += 0.5
		two.Points += 0.5
		one.Draws++
		two.Draws++
	}
}
