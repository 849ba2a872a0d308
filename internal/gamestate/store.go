package gamestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/occ"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultGameTTL = 24 * time.Hour

// Store persists game documents in Redis and serialises concurrent writers
// with WATCH/MULTI instead of locks.
type Store struct {
	rdb      redis.UniversalClient
	profiles *profile.Store
	policy   occ.Policy
	ttl      time.Duration
	now      func() time.Time

	// commitHook runs inside the WATCH block right before MULTI/EXEC.
	commitHook func(ctx context.Context, gameID string)
}

type Option func(*Store)

func WithRetryPolicy(p occ.Policy) Option { return func(s *Store) { s.policy = p } }

func WithTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithCommitHook lets tests inject a conflicting write between read and commit.
func WithCommitHook(fn func(ctx context.Context, gameID string)) Option {
	return func(s *Store) { s.commitHook = fn }
}

func NewStore(rdb redis.UniversalClient, profiles *profile.Store, opts ...Option) *Store {
	s := &Store{
		rdb:      rdb,
		profiles: profiles,
		policy:   occ.DefaultPolicy(),
		ttl:      defaultGameTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.profiles == nil {
		s.profiles = profile.NewStore(rdb, rating.DefaultRating)
	}
	return s
}

func gameKey(id string) string { return "arena:game:" + strings.TrimSpace(id) }

// Save creates a new ongoing game with an empty move list.
func (s *Store) Save(ctx context.Context, req SaveRequest) (*Game, error) {
	p1, p2 := strings.TrimSpace(req.PlayerOne), strings.TrimSpace(req.PlayerTwo)
	if p1 == "" || p2 == "" {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "both players are required")
	}
	if p1 == p2 {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "a player cannot play themselves")
	}
	color := req.StartingColor
	if color == "" {
		color = chessdto.White
	}
	if !color.Valid() {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "invalid color %q", color)
	}
	fen := strings.TrimSpace(req.FEN)
	if fen == "" || fen == "startpos" {
		fen = StartFEN
	}
	if err := ValidateFEN(fen); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	g := &Game{
		ID:           id,
		PlayerOne:    p1,
		PlayerTwo:    p2,
		PlayerAt:     color,
		FEN:          fen,
		Moves:        []chessdto.Move{},
		Status:       chessdto.StatusOngoing,
		Version:      1,
		GameType:     strings.TrimSpace(req.GameType),
		TimeControl:  strings.TrimSpace(req.TimeControl),
		TournamentID: strings.TrimSpace(req.TournamentID),
		MatchID:      strings.TrimSpace(req.MatchID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	ok, err := s.rdb.SetNX(ctx, gameKey(id), raw, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("save game: %w", err)
	}
	if !ok {
		return nil, chessdto.Errorf(chessdto.CodeStateConflict, "game %s already exists", id)
	}
	obslog.L().Info("game_create",
		zap.String("game_id", g.ID),
		zap.String("player_one", g.PlayerOne),
		zap.String("player_two", g.PlayerTwo),
		zap.String("player_at", string(g.PlayerAt)),
		zap.String("time_control", g.TimeControl),
		zap.String("tournament_id", g.TournamentID),
	)
	return g, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Game, error) {
	g, err := s.load(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, chessdto.Errorf(chessdto.CodeNotFound, "game %s not found", id)
	}
	return g, nil
}

// Update applies a partial update under optimistic concurrency. Completing a
// rated game applies both Elo deltas in the same transaction.
func (s *Store) Update(ctx context.Context, id string, p Patch) (*Game, error) {
	return s.mutate(ctx, "game_update", s.policy, id, func(g *Game, now time.Time) error {
		return applyPatch(g, p, now)
	})
}

// PlayMove validates and appends a move for playerID against the stored FEN.
func (s *Store) PlayMove(ctx context.Context, id, playerID, move string, expectedVersion int64) (*Game, error) {
	return s.mutate(ctx, "game_move", s.policy, id, func(g *Game, now time.Time) error {
		if !g.IsParticipant(playerID) {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", playerID, g.ID)
		}
		if err := checkVersion(g, expectedVersion); err != nil {
			return err
		}
		if g.Status.Terminal() {
			return chessdto.Errorf(chessdto.CodeStateConflict, "game %s is already %s", g.ID, g.Status)
		}
		turn, err := SideToMove(g.FEN)
		if err != nil {
			return err
		}
		if g.ColorOf(playerID) != turn {
			return chessdto.Errorf(chessdto.CodeStateConflict, "not your turn")
		}
		out, err := ApplyMove(g.FEN, move, now)
		if err != nil {
			return err
		}
		p := Patch{FEN: &out.FEN, AppendMoves: []chessdto.Move{out.Move}}
		if out.Finished() {
			done := Completion(out.Result, out.LossType)
			p.Status, p.Result, p.LossType = done.Status, done.Result, done.LossType
		}
		return applyPatch(g, p, now)
	})
}

// Resign completes the game in favour of playerID's opponent.
func (s *Store) Resign(ctx context.Context, id, playerID string) (*Game, error) {
	return s.mutate(ctx, "game_resign", s.policy, id, func(g *Game, now time.Time) error {
		color := g.ColorOf(playerID)
		if color == "" {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", playerID, g.ID)
		}
		return applyPatch(g, Completion(winFor(color.Opposite()), chessdto.LossResignation), now)
	})
}

// Timeout completes the game against loserID, whose clock ran out.
func (s *Store) Timeout(ctx context.Context, id, loserID string) (*Game, error) {
	return s.mutate(ctx, "game_timeout", s.policy, id, func(g *Game, now time.Time) error {
		color := g.ColorOf(loserID)
		if color == "" {
			return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", loserID, g.ID)
		}
		return applyPatch(g, Completion(winFor(color.Opposite()), chessdto.LossTimeout), now)
	})
}

// Terminate is the admin override: an ongoing game becomes terminated without
// a result or rating change. It is attempted once.
func (s *Store) Terminate(ctx context.Context, id string) (*Game, error) {
	return s.mutate(ctx, "game_terminate", occ.NoRetry(), id, func(g *Game, now time.Time) error {
		switch g.Status {
		case chessdto.StatusTerminated:
			return errUnchanged
		case chessdto.StatusCompleted:
			return chessdto.Errorf(chessdto.CodeStateConflict, "game %s is already completed", g.ID)
		}
		g.Status = chessdto.StatusTerminated
		g.Duration = now.Sub(g.CreatedAt)
		return nil
	})
}

// Delete physically removes a game record (admin only).
func (s *Store) Delete(ctx context.Context, id string) error {
	n, err := s.rdb.Del(ctx, gameKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if n == 0 {
		return chessdto.Errorf(chessdto.CodeNotFound, "game %s not found", id)
	}
	obslog.L().Info("game_delete", zap.String("game_id", id))
	return nil
}

var errUnchanged = errors.New("unchanged")

func (s *Store) mutate(ctx context.Context, op string, policy occ.Policy, id string, fn func(g *Game, now time.Time) error) (*Game, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "game id is required")
	}
	// Participants never change, so the profile keys to watch are fixed up front.
	head, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := []string{gameKey(id), profile.Key(head.PlayerOne), profile.Key(head.PlayerTwo)}

	var out *Game
	err = policy.Do(ctx, op, func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur == nil {
				return chessdto.Errorf(chessdto.CodeNotFound, "game %s not found", id)
			}
			wasOngoing := cur.Status == chessdto.StatusOngoing
			now := s.now()
			if err := fn(cur, now); err != nil {
				if errors.Is(err, errUnchanged) {
					out = cur
					return nil
				}
				return err
			}
			cur.Version++
			cur.UpdatedAt = now

			var staged []profile.Record
			if wasOngoing && cur.Status == chessdto.StatusCompleted && cur.Rated() && cur.Elo == nil {
				staged, err = s.settleRating(ctx, tx, cur)
				if err != nil {
					return err
				}
			}

			raw, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			if s.commitHook != nil {
				s.commitHook(ctx, id)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, gameKey(id), raw, s.ttl)
				for _, rec := range staged {
					profile.Stage(ctx, pipe, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
			out = cur
			return nil
		}, keys...)
	})
	if err != nil {
		if chessdto.CodeOf(err) == chessdto.CodeInternal {
			obslog.L().Error("game_mutate_error", zap.String("op", op), zap.String("game_id", id), zap.Error(err))
		}
		return nil, err
	}
	obslog.L().Info(op,
		zap.String("game_id", out.ID),
		zap.Int64("version", out.Version),
		zap.String("status", string(out.Status)),
		zap.String("result", string(out.Result)),
		zap.Int("moves", len(out.Moves)),
	)
	return out, nil
}

// settleRating computes both deltas from fresh profile reads and records the
// snapshot on the game. The caller commits game and profiles together, and a
// retry re-runs this on re-read state, so ratings move exactly once.
func (s *Store) settleRating(ctx context.Context, tx *redis.Tx, g *Game) ([]profile.Record, error) {
	white, err := s.profiles.Load(ctx, tx, g.WhiteID())
	if err != nil {
		return nil, err
	}
	black, err := s.profiles.Load(ctx, tx, g.BlackID())
	if err != nil {
		return nil, err
	}
	d := rating.Compute(white.Rating, black.Rating, g.Result)

	elo := &chessdto.EloDifference{PlayerOne: d.White, PlayerTwo: d.Black}
	if g.PlayerAt == chessdto.Black {
		elo.PlayerOne, elo.PlayerTwo = d.Black, d.White
	}
	g.Elo = elo

	white.Rating += d.White
	white.GamesPlayed++
	black.Rating += d.Black
	black.GamesPlayed++
	return []profile.Record{white, black}, nil
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, id string) (*Game, error) {
	raw, err := c.Get(ctx, gameKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	var g Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

func checkVersion(g *Game, expected int64) error {
	if expected > 0 && expected != g.Version {
		return chessdto.Errorf(chessdto.CodeConcurrencyConflict, "game %s is at version %d, client sent %d", g.ID, g.Version, expected)
	}
	return nil
}

// applyPatch enforces the game state machine: ongoing -> completed, result and
// loss type only when completing, never a completed game without a result.
// terminated is reachable only through Terminate.
func applyPatch(g *Game, p Patch, now time.Time) error {
	if err := checkVersion(g, p.ExpectedVersion); err != nil {
		return err
	}
	if g.Status.Terminal() {
		return chessdto.Errorf(chessdto.CodeStateConflict, "game %s is already %s", g.ID, g.Status)
	}
	target := g.Status
	if p.Status != nil {
		target = *p.Status
	}
	switch target {
	case chessdto.StatusOngoing, chessdto.StatusCompleted:
	case chessdto.StatusTerminated:
		return chessdto.Errorf(chessdto.CodeUnauthorized, "only an admin can terminate game %s", g.ID)
	default:
		return chessdto.Errorf(chessdto.CodeValidation, "invalid status %q", target)
	}
	if target != chessdto.StatusCompleted && (p.Result != nil || p.LossType != nil) {
		return chessdto.Errorf(chessdto.CodeValidation, "result can only be set when completing a game")
	}

	if p.FEN != nil {
		if err := ValidateFEN(*p.FEN); err != nil {
			return err
		}
		g.FEN = *p.FEN
	}
	if len(p.AppendMoves) > 0 {
		g.Moves = append(g.Moves, p.AppendMoves...)
	}
	if p.Duration != nil {
		g.Duration = *p.Duration
	}

	if target == chessdto.StatusCompleted {
		if p.Result == nil || !p.Result.Valid() {
			return chessdto.Errorf(chessdto.CodeValidation, "completing a game requires a result")
		}
		loss := chessdto.LossType("")
		if p.LossType != nil {
			loss = *p.LossType
		}
		if loss == "" && *p.Result == chessdto.Draw {
			loss = chessdto.LossDraw
		}
		if loss != "" && !loss.Valid() {
			return chessdto.Errorf(chessdto.CodeValidation, "invalid loss type %q", loss)
		}
		g.Result = *p.Result
		g.LossType = loss
	}
	if target != g.Status && p.Duration == nil {
		g.Duration = now.Sub(g.CreatedAt)
	}
	g.Status = target
	return nil
}

func winFor(c chessdto.Color) chessdto.GameResult {
	if c == chessdto.White {
		return chessdto.WhiteWin
	}
	return chessdto.BlackWin
}
