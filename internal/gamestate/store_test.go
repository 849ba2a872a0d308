package gamestate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/occ"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
)

type fixture struct {
	rdb      *redis.Client
	store    *Store
	profiles *profile.Store
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	profiles := profile.NewStore(rdb, 500)
	base := []Option{WithRetryPolicy(occ.Policy{MaxRetries: 3, BaseDelay: time.Millisecond})}
	return &fixture{rdb: rdb, profiles: profiles, store: NewStore(rdb, profiles, append(base, opts...)...)}
}

func (f *fixture) newGame(t *testing.T, req SaveRequest) *Game {
	t.Helper()
	if req.PlayerOne == "" {
		req.PlayerOne, req.PlayerTwo = "alice", "bob"
	}
	g, err := f.store.Save(context.Background(), req)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return g
}

func (f *fixture) rating(t *testing.T, id string) profile.Record {
	t.Helper()
	rec, err := f.profiles.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	return rec
}

func TestSaveCreatesOngoingGame(t *testing.T) {
	f := newFixture(t)
	g := f.newGame(t, SaveRequest{StartingColor: chessdto.Black, TimeControl: "10min"})
	if g.Status != chessdto.StatusOngoing || g.Version != 1 || len(g.Moves) != 0 {
		t.Fatalf("unexpected new game: %+v", g)
	}
	if g.WhiteID() != "bob" || g.BlackID() != "alice" {
		t.Fatalf("colors wrong: white=%s black=%s", g.WhiteID(), g.BlackID())
	}
	got, err := f.store.Get(context.Background(), g.ID)
	if err != nil || got.FEN != StartFEN {
		t.Fatalf("Get: %v %+v", err, got)
	}
	if _, err := f.store.Save(context.Background(), SaveRequest{ID: g.ID, PlayerOne: "x", PlayerTwo: "y"}); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("duplicate id should conflict, got %v", err)
	}
}

func TestSaveValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Save(ctx, SaveRequest{PlayerOne: "a", PlayerTwo: "a"}); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("self play should be rejected: %v", err)
	}
	if _, err := f.store.Save(ctx, SaveRequest{PlayerOne: "a", PlayerTwo: "b", FEN: "not a fen"}); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("bad FEN should be rejected: %v", err)
	}
	if _, err := f.store.Get(ctx, "missing"); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("expected not found: %v", err)
	}
}

func TestUpdateCompletionAppliesEloOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{StartingColor: chessdto.White})

	done, err := f.store.Update(ctx, g.ID, Completion(chessdto.WhiteWin, chessdto.LossCheckmate))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if done.Elo == nil || done.Elo.PlayerOne != 16 || done.Elo.PlayerTwo != -16 {
		t.Fatalf("unexpected elo snapshot: %+v", done.Elo)
	}
	if done.Version != 2 || done.Status != chessdto.StatusCompleted {
		t.Fatalf("unexpected state: %+v", done)
	}
	if r := f.rating(t, "alice"); r.Rating != 516 || r.GamesPlayed != 1 {
		t.Fatalf("alice: %+v", r)
	}
	if r := f.rating(t, "bob"); r.Rating != 484 || r.GamesPlayed != 1 {
		t.Fatalf("bob: %+v", r)
	}

	// A second completion must not touch ratings again.
	if _, err := f.store.Update(ctx, g.ID, Completion(chessdto.BlackWin, chessdto.LossResignation)); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("expected state conflict on second completion, got %v", err)
	}
	if r := f.rating(t, "alice"); r.Rating != 516 || r.GamesPlayed != 1 {
		t.Fatalf("alice changed after rejected update: %+v", r)
	}
}

func TestUpdateRetriesInjectedConflictAndAppliesOnce(t *testing.T) {
	var conflicts atomic.Int32
	var f *fixture
	f = newFixture(t, WithCommitHook(func(ctx context.Context, id string) {
		if conflicts.Add(1) > 2 {
			return
		}
		// Rewrite the watched game key from another connection.
		raw, _ := f.rdb.Get(ctx, gameKey(id)).Bytes()
		f.rdb.Set(ctx, gameKey(id), raw, 0)
	}))
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{})

	if _, err := f.store.Update(ctx, g.ID, Completion(chessdto.WhiteWin, chessdto.LossTimeout)); err != nil {
		t.Fatalf("Update should succeed after retries: %v", err)
	}
	if conflicts.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", conflicts.Load())
	}
	if r := f.rating(t, "alice"); r.Rating != 516 || r.GamesPlayed != 1 {
		t.Fatalf("rating applied more than once: %+v", r)
	}
}

func TestUpdateExhaustedRetriesLeavesGameUntouched(t *testing.T) {
	var f *fixture
	f = newFixture(t, WithCommitHook(func(ctx context.Context, id string) {
		raw, _ := f.rdb.Get(ctx, gameKey(id)).Bytes()
		f.rdb.Set(ctx, gameKey(id), raw, 0)
	}))
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{})

	_, err := f.store.Update(ctx, g.ID, Completion(chessdto.Draw, chessdto.LossDraw))
	if !errors.Is(err, chessdto.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	got, _ := f.store.Get(ctx, g.ID)
	if got.Status != chessdto.StatusOngoing || got.Result != "" || got.Version != 1 {
		t.Fatalf("game changed despite failure: %+v", got)
	}
	if r := f.rating(t, "bob"); r.GamesPlayed != 0 {
		t.Fatalf("profile changed despite failure: %+v", r)
	}
}

func TestConcurrentMoveAndResignNeverHalfApplied(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		ctx := context.Background()
		g := f.newGame(t, SaveRequest{StartingColor: chessdto.White})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.store.PlayMove(ctx, g.ID, "alice", "e2e4", 0)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.store.Resign(ctx, g.ID, "bob")
		}()
		wg.Wait()

		got, err := f.store.Get(ctx, g.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != chessdto.StatusCompleted || got.Result != chessdto.WhiteWin || got.LossType != chessdto.LossResignation {
			t.Fatalf("unexpected final state: %+v", got)
		}
		if got.Elo == nil {
			t.Fatalf("elo snapshot missing")
		}
		a, b := f.rating(t, "alice"), f.rating(t, "bob")
		if a.GamesPlayed != 1 || b.GamesPlayed != 1 || a.Rating+b.Rating != 1000 {
			t.Fatalf("ratings applied inconsistently: %+v %+v", a, b)
		}
		if len(got.Moves) > 1 || int64(len(got.Moves))+2 != got.Version {
			t.Fatalf("version %d does not match %d moves plus completion", got.Version, len(got.Moves))
		}
	}
}

func TestPlayMoveTurnsAndLegality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{StartingColor: chessdto.White})

	if _, err := f.store.PlayMove(ctx, g.ID, "bob", "e7e5", 0); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("black moving first should be rejected: %v", err)
	}
	if _, err := f.store.PlayMove(ctx, g.ID, "mallory", "e2e4", 0); !errors.Is(err, chessdto.ErrNotParticipant) {
		t.Fatalf("outsider move should be rejected: %v", err)
	}
	if _, err := f.store.PlayMove(ctx, g.ID, "alice", "e2e5", 0); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("illegal move should be rejected: %v", err)
	}
	g1, err := f.store.PlayMove(ctx, g.ID, "alice", "e2e4", 0)
	if err != nil {
		t.Fatalf("e2e4: %v", err)
	}
	if len(g1.Moves) != 1 || g1.Moves[0].SAN != "e4" || g1.Moves[0].Piece != "p" || g1.Moves[0].Color != chessdto.White {
		t.Fatalf("unexpected move record: %+v", g1.Moves)
	}
	if _, err := f.store.PlayMove(ctx, g.ID, "bob", "Nc6", g1.Version-1); !errors.Is(err, chessdto.ErrConcurrencyConflict) {
		t.Fatalf("stale version should be rejected: %v", err)
	}
	g2, err := f.store.PlayMove(ctx, g.ID, "bob", "Nc6", g1.Version)
	if err != nil {
		t.Fatalf("SAN move: %v", err)
	}
	if g2.Moves[1].From != "b8" || g2.Moves[1].To != "c6" {
		t.Fatalf("SAN decoded wrong: %+v", g2.Moves[1])
	}
}

func TestPlayMoveCheckmateCompletesRatedGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{StartingColor: chessdto.Black})
	// bob is white here.
	seq := []struct{ who, mv string }{
		{"bob", "e2e4"}, {"alice", "e7e5"},
		{"bob", "f1c4"}, {"alice", "b8c6"},
		{"bob", "d1h5"}, {"alice", "g8f6"},
		{"bob", "h5f7"},
	}
	var last *Game
	for _, s := range seq {
		var err error
		last, err = f.store.PlayMove(ctx, g.ID, s.who, s.mv, 0)
		if err != nil {
			t.Fatalf("%s %s: %v", s.who, s.mv, err)
		}
	}
	if last.Status != chessdto.StatusCompleted || last.Result != chessdto.WhiteWin || last.LossType != chessdto.LossCheckmate {
		t.Fatalf("expected checkmate win for white: %+v", last)
	}
	if last.WinnerID() != "bob" || last.Elo.PlayerTwo != 16 || last.Elo.PlayerOne != -16 {
		t.Fatalf("unexpected winner/elo: %s %+v", last.WinnerID(), last.Elo)
	}
	if _, err := f.store.PlayMove(ctx, g.ID, "alice", "a7a6", 0); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("moves after completion should be rejected: %v", err)
	}
}

func TestTournamentGameIsUnrated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{TournamentID: "t1", MatchID: "m1"})
	done, err := f.store.Resign(ctx, g.ID, "bob")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if done.Elo != nil {
		t.Fatalf("tournament game must not record elo: %+v", done.Elo)
	}
	if r := f.rating(t, "alice"); r.Rating != 500 || r.GamesPlayed != 0 {
		t.Fatalf("tournament game touched profile: %+v", r)
	}
}

func TestPatchValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{})

	res := chessdto.WhiteWin
	if _, err := f.store.Update(ctx, g.ID, Patch{Result: &res}); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("result without completion should be rejected: %v", err)
	}
	st := chessdto.StatusCompleted
	if _, err := f.store.Update(ctx, g.ID, Patch{Status: &st}); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("completion without result should be rejected: %v", err)
	}
	term := chessdto.StatusTerminated
	if _, err := f.store.Update(ctx, g.ID, Patch{Status: &term}); !errors.Is(err, chessdto.ErrUnauthorized) {
		t.Fatalf("patching to terminated should be rejected: %v", err)
	}
	d := 90 * time.Second
	got, err := f.store.Update(ctx, g.ID, Patch{Duration: &d})
	if err != nil || got.Duration != d || got.Status != chessdto.StatusOngoing {
		t.Fatalf("duration patch: %v %+v", err, got)
	}
}

func TestTerminateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{})

	got, err := f.store.Terminate(ctx, g.ID)
	if err != nil || got.Status != chessdto.StatusTerminated || got.Result != "" {
		t.Fatalf("Terminate: %v %+v", err, got)
	}
	again, err := f.store.Terminate(ctx, g.ID)
	if err != nil || again.Version != got.Version {
		t.Fatalf("second terminate should be a no-op: %v %+v", err, again)
	}
	if _, err := f.store.Resign(ctx, g.ID, "alice"); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("terminated game must stay terminal: %v", err)
	}
	if r := f.rating(t, "alice"); r.GamesPlayed != 0 {
		t.Fatalf("terminate must not rate: %+v", r)
	}

	if err := f.store.Delete(ctx, g.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.store.Delete(ctx, g.ID); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("second delete should be not found: %v", err)
	}
}

func TestTerminateCompletedGameConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g := f.newGame(t, SaveRequest{})
	if _, err := f.store.Resign(ctx, g.ID, "alice"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if _, err := f.store.Terminate(ctx, g.ID); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("expected conflict terminating a completed game: %v", err)
	}
}
