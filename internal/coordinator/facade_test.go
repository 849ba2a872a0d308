package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/occ"
	"github.com/park285/cheese-arena/internal/profile"
	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/internal/tournament"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/redis/go-redis/v9"
)

type recordingTransport struct {
	mu     sync.Mutex
	rooms  map[string]map[string]bool
	inbox  map[string][]string
	closed []string
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{rooms: map[string]map[string]bool{}, inbox: map[string][]string{}}
}

func (r *recordingTransport) JoinRoom(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = map[string]bool{}
	}
	r.rooms[roomID][userID] = true
}

func (r *recordingTransport) EmitToRoom(roomID, event string, _ any, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for u := range r.rooms[roomID] {
		if u != except {
			r.inbox[u] = append(r.inbox[u], event)
		}
	}
}

func (r *recordingTransport) EmitToUser(userID, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox[userID] = append(r.inbox[userID], event)
}

func (r *recordingTransport) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, roomID)
}

func (r *recordingTransport) count(userID, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.inbox[userID] {
		if e == event {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) find(typ, recipient string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, ev := range n.events {
		if ev.Type == typ && ev.RecipientID == recipient {
			out = append(out, ev.Content)
		}
	}
	return out
}

type recordingArchive struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (a *recordingArchive) SaveGame(_ context.Context, g *gamestate.Game) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = append(a.saved, g.ID)
	return a.err
}

type fixture struct {
	facade    *Facade
	games     *gamestate.Store
	transport *recordingTransport
	notifier  *recordingNotifier
	archive   *recordingArchive
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	policy := occ.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}

	games := gamestate.NewStore(rdb, profile.NewStore(rdb, 500), gamestate.WithRetryPolicy(policy))
	var tseq atomic.Int64
	engine := tournament.NewEngine(
		tournament.NewRedisStore(rdb, tournament.WithStorePolicy(policy)),
		tournament.WithIDGenerator(func() string { return fmt.Sprintf("t%d", tseq.Add(1)) }),
	)
	catalog, err := msgcat.New("")
	if err != nil {
		t.Fatalf("msgcat: %v", err)
	}
	tr := newRecordingTransport()
	f := &fixture{games: games, transport: tr, notifier: &recordingNotifier{}, archive: &recordingArchive{}}
	var gseq atomic.Int64
	f.facade = New(Deps{
		Games:       games,
		Tournaments: engine,
		Channel:     realtime.NewChannel(tr),
		Messages:    catalog,
		Notifier:    f.notifier,
		Archive:     f.archive,
		Rooms:       tr,
	}, WithQueueOptions(matchmaking.WithIDGenerator(func() string { return fmt.Sprintf("g%d", gseq.Add(1)) })))
	return f
}

// matched pairs alice (white, she waited first) with bob and returns the game id.
func (f *fixture) matched(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	if out, err := f.facade.RequestMatch(ctx, "alice", "10min"); err != nil || !out.Waiting {
		t.Fatalf("alice should wait: %+v %v", out, err)
	}
	out, err := f.facade.RequestMatch(ctx, "bob", "10min")
	if err != nil || out.Match == nil {
		t.Fatalf("bob should be matched: %+v %v", out, err)
	}
	return out.Match.GameID
}

func TestRequestMatchCreatesGameBeforeNotifying(t *testing.T) {
	f := newFixture(t)
	id := f.matched(t)

	g, err := f.facade.Game(context.Background(), id)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if g.WhiteID() != "alice" || g.BlackID() != "bob" || g.TimeControl != "10min" || g.Status != chessdto.StatusOngoing {
		t.Fatalf("unexpected game: %+v", g)
	}
	if f.transport.count("alice", realtime.EventMatched) != 1 || f.transport.count("bob", realtime.EventMatched) != 1 {
		t.Fatalf("both players should hear about the match")
	}
	if got := f.notifier.find(notify.TypeMatched, "bob"); len(got) != 1 || got[0] != "Matched with alice (10min). You play black." {
		t.Fatalf("bob notification: %q", got)
	}
	if f.facade.Queue().Len() != 0 {
		t.Fatalf("queue should be empty")
	}
}

func TestCancelMatch(t *testing.T) {
	f := newFixture(t)
	if _, err := f.facade.RequestMatch(context.Background(), "alice", "5min"); err != nil {
		t.Fatalf("RequestMatch: %v", err)
	}
	if !f.facade.CancelMatch("alice") || f.facade.CancelMatch("alice") {
		t.Fatalf("cancel should succeed once")
	}
}

func TestCheckmateRelaysMovesAndFinishesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)
	if _, err := f.facade.JoinGame(ctx, id, "carol"); err != nil {
		t.Fatalf("observer join: %v", err)
	}

	seq := []struct{ who, mv string }{
		{"alice", "e2e4"}, {"bob", "e7e5"},
		{"alice", "f1c4"}, {"bob", "b8c6"},
		{"alice", "d1h5"}, {"bob", "g8f6"},
		{"alice", "h5f7"},
	}
	var last *gamestate.Game
	for _, s := range seq {
		var err error
		last, err = f.facade.SubmitMove(ctx, id, s.who, s.mv, 0)
		if err != nil {
			t.Fatalf("%s %s: %v", s.who, s.mv, err)
		}
	}
	if last.Status != chessdto.StatusCompleted || last.WinnerID() != "alice" {
		t.Fatalf("expected alice to win: %+v", last)
	}
	if f.transport.count("bob", realtime.EventMove) != 4 || f.transport.count("alice", realtime.EventMove) != 3 {
		t.Fatalf("moves should reach only the other side")
	}
	if f.transport.count("carol", realtime.EventMove) != 7 {
		t.Fatalf("observer should see every move")
	}
	for _, u := range []string{"alice", "bob", "carol"} {
		if f.transport.count(u, realtime.EventGameOver) != 1 {
			t.Fatalf("%s should get one game_over", u)
		}
	}
	if got := f.notifier.find(notify.TypeGameOver, "alice"); len(got) != 1 || got[0] != "Game "+id+" is over: you won by checkmate." {
		t.Fatalf("alice outcome: %q", got)
	}
	if got := f.notifier.find(notify.TypeRatingChanged, "bob"); len(got) != 1 || got[0] != "Your rating changed by -16." {
		t.Fatalf("bob rating: %q", got)
	}
	if got := f.notifier.find(notify.TypeRatingChanged, "alice"); len(got) != 1 || got[0] != "Your rating changed by +16." {
		t.Fatalf("alice rating: %q", got)
	}
	if len(f.archive.saved) != 1 || f.archive.saved[0] != id {
		t.Fatalf("game should be archived once: %v", f.archive.saved)
	}
	if len(f.transport.closed) != 1 || f.transport.closed[0] != realtime.RoomFor(id) {
		t.Fatalf("room should be closed: %v", f.transport.closed)
	}

	if _, err := f.facade.Resign(ctx, id, "bob"); !errors.Is(err, chessdto.ErrStateConflict) {
		t.Fatalf("resign after mate should conflict: %v", err)
	}
	if len(f.archive.saved) != 1 {
		t.Fatalf("a rejected transition must not finish again")
	}
}

func TestResignNotifiesAndArchiveFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.archive.err = errors.New("postgres down")
	ctx := context.Background()
	id := f.matched(t)

	g, err := f.facade.Resign(ctx, id, "bob")
	if err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if g.Result != chessdto.WhiteWin || g.LossType != chessdto.LossResignation {
		t.Fatalf("unexpected result: %+v", g)
	}
	if f.transport.count("alice", realtime.EventResign) != 1 || f.transport.count("bob", realtime.EventResign) != 0 {
		t.Fatalf("resign event goes to the opponent only")
	}
	if got := f.notifier.find(notify.TypeGameOver, "bob"); len(got) != 1 || !strings.Contains(got[0], "you lost by resignation") {
		t.Fatalf("bob outcome: %q", got)
	}
	stored, err := f.facade.Game(ctx, id)
	if err != nil || stored.Status != chessdto.StatusCompleted {
		t.Fatalf("game must stay completed despite archive failure: %+v %v", stored, err)
	}
}

func TestClaimTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	if _, err := f.facade.ClaimTimeout(ctx, id, "mallory"); !errors.Is(err, chessdto.ErrNotParticipant) {
		t.Fatalf("outsider claim: %v", err)
	}
	g, err := f.facade.ClaimTimeout(ctx, id, "bob")
	if err != nil {
		t.Fatalf("ClaimTimeout: %v", err)
	}
	if g.WinnerID() != "bob" || g.LossType != chessdto.LossTimeout {
		t.Fatalf("bob should win on time: %+v", g)
	}
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	if err := f.facade.Report(ctx, id, "mallory", "spam"); !errors.Is(err, chessdto.ErrNotParticipant) {
		t.Fatalf("outsider report: %v", err)
	}
	if err := f.facade.Report(ctx, id, "alice", "engine use"); err != nil {
		t.Fatalf("Report: %v", err)
	}
	if f.transport.count("bob", realtime.EventReport) != 1 {
		t.Fatalf("bob should see the report")
	}
	want := "alice reported game " + id + ": engine use."
	if got := f.notifier.find(notify.TypeGameReported, "bob"); len(got) != 1 || got[0] != want {
		t.Fatalf("report notification: %q", got)
	}
}

func TestUpdateGameParticipantsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	done := gamestate.Completion(chessdto.Draw, "")
	if _, err := f.facade.UpdateGame(ctx, id, "mallory", done); !errors.Is(err, chessdto.ErrNotParticipant) {
		t.Fatalf("outsider patch: %v", err)
	}
	g, err := f.facade.UpdateGame(ctx, id, "alice", done)
	if err != nil {
		t.Fatalf("UpdateGame: %v", err)
	}
	if g.Result != chessdto.Draw || g.Elo == nil || g.Elo.PlayerOne != 0 {
		t.Fatalf("draw between equals moves nothing: %+v", g)
	}
	if got := f.notifier.find(notify.TypeGameOver, "bob"); len(got) != 1 || got[0] != "Game "+id+" is over: draw." {
		t.Fatalf("draw notification: %q", got)
	}
}

func TestUpdateGameCannotTerminate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	term := chessdto.StatusTerminated
	if _, err := f.facade.UpdateGame(ctx, id, "bob", gamestate.Patch{Status: &term}); !errors.Is(err, chessdto.ErrUnauthorized) {
		t.Fatalf("player terminate: %v", err)
	}
	g, err := f.facade.Game(ctx, id)
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if g.Status != chessdto.StatusOngoing || g.Version != 1 {
		t.Fatalf("game must be untouched: %+v", g)
	}
	// the game can still be rated afterwards
	r, err := f.facade.Resign(ctx, id, "bob")
	if err != nil || r.Elo == nil {
		t.Fatalf("resign after refused terminate: %v %+v", err, r)
	}
}

func TestAdminTerminateAddressesBothPlayers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	for i := 0; i < 2; i++ {
		g, err := f.facade.AdminTerminate(ctx, id)
		if err != nil {
			t.Fatalf("AdminTerminate: %v", err)
		}
		if g.Status != chessdto.StatusTerminated || g.Result != "" {
			t.Fatalf("unexpected game: %+v", g)
		}
	}
	if f.transport.count("alice", realtime.EventTerminated) != 1 || f.transport.count("bob", realtime.EventTerminated) != 1 {
		t.Fatalf("terminated should reach each player once")
	}
	if len(f.notifier.find(notify.TypeGameTerminated, "alice")) != 1 {
		t.Fatalf("alice should be notified once")
	}
	if err := f.facade.AdminDelete(ctx, id); err != nil {
		t.Fatalf("AdminDelete: %v", err)
	}
	if _, err := f.facade.Game(ctx, id); !errors.Is(err, chessdto.ErrNotFound) {
		t.Fatalf("deleted game: %v", err)
	}
}

func TestTournamentGamesSettleMatchesAndPlayoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tr, err := f.facade.CreateTournament(ctx, tournament.CreateRequest{Name: "Autumn", TimeControl: "5min", MaxGames: 1, MaxPlayers: 4, CreatorID: "p1"})
	if err != nil {
		t.Fatalf("CreateTournament: %v", err)
	}
	if _, err := f.facade.JoinTournament(ctx, tr.ID, "p2", ""); err != nil {
		t.Fatalf("JoinTournament: %v", err)
	}
	if _, err := f.facade.StartTournament(ctx, tr.ID, "p1", false); err != nil {
		t.Fatalf("StartTournament: %v", err)
	}

	p, g, err := f.facade.PairTournamentMatch(ctx, tr.ID, "p1")
	if err != nil || !p.Found || g == nil {
		t.Fatalf("PairTournamentMatch: %+v %+v %v", p, g, err)
	}
	if g.ID != p.GameID || g.TournamentID != tr.ID || g.MatchID != p.MatchID || g.WhiteID() != "p1" {
		t.Fatalf("game not bound to the match: %+v", g)
	}
	again, g2, err := f.facade.PairTournamentMatch(ctx, tr.ID, "p2")
	if err != nil || !again.Reused || g2.ID != g.ID {
		t.Fatalf("p2 should get the same open match: %+v %v", again, err)
	}
	if f.transport.count("p2", realtime.EventMatched) != 1 {
		t.Fatalf("a reused pairing must not announce twice")
	}

	if _, err := f.facade.Resign(ctx, g.ID, "p2"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	done, err := f.facade.Game(ctx, g.ID)
	if err != nil || done.Elo != nil {
		t.Fatalf("tournament games are unrated: %+v %v", done, err)
	}
	st, err := f.facade.Standings(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Standings: %v", err)
	}
	if st[0].PlayerID != "p1" || st[0].Points != 1 || st[1].Losses != 1 {
		t.Fatalf("unexpected standings: %+v", st)
	}
	// A client reporting the same result afterwards is a no-op.
	if _, err := f.facade.SubmitTournamentResult(ctx, tr.ID, p.MatchID, tournament.ResultPlayerOne, "p1"); err != nil {
		t.Fatalf("duplicate result: %v", err)
	}
	if none, _, err := f.facade.PairTournamentMatch(ctx, tr.ID, "p1"); err != nil || none.Found {
		t.Fatalf("no opponent should remain: %+v %v", none, err)
	}

	_, pg, err := f.facade.StartPlayoff(ctx, tr.ID, "p1", false, "p1", "p2")
	if err != nil || pg == nil {
		t.Fatalf("StartPlayoff: %v", err)
	}
	if _, err := f.facade.Resign(ctx, pg.ID, "p1"); err != nil {
		t.Fatalf("playoff resign: %v", err)
	}
	final, err := f.facade.Tournament(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Tournament: %v", err)
	}
	c, ok := final.State.(tournament.Completed)
	if !ok || c.Winner != "p2" {
		t.Fatalf("p2 should win the playoff: %#v", final.State)
	}
	if got := f.notifier.find(notify.TypeTournamentComplete, "p1"); len(got) != 1 || got[0] != "Tournament Autumn is over. Winner: p2." {
		t.Fatalf("completion notification: %q", got)
	}
}

func TestDrawnPlayoffStaysOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.facade.CreateTournament(ctx, tournament.CreateRequest{Name: "Cup", TimeControl: "3min", MaxGames: 1, MaxPlayers: 2, CreatorID: "p1"})
	if err != nil {
		t.Fatalf("CreateTournament: %v", err)
	}
	if _, err := f.facade.JoinTournament(ctx, tr.ID, "p2", ""); err != nil {
		t.Fatalf("JoinTournament: %v", err)
	}
	if _, err := f.facade.StartTournament(ctx, tr.ID, "p1", false); err != nil {
		t.Fatalf("StartTournament: %v", err)
	}
	_, pg, err := f.facade.StartPlayoff(ctx, tr.ID, "p1", false, "p1", "p2")
	if err != nil {
		t.Fatalf("StartPlayoff: %v", err)
	}
	if _, err := f.facade.UpdateGame(ctx, pg.ID, "p1", gamestate.Completion(chessdto.Draw, "")); err != nil {
		t.Fatalf("draw: %v", err)
	}
	cur, err := f.facade.Tournament(ctx, tr.ID)
	if err != nil || cur.Status() != tournament.StatusPlayoff {
		t.Fatalf("drawn playoff should stay open: %v %v", cur.Status(), err)
	}
	_, replay, err := f.facade.StartPlayoff(ctx, tr.ID, "p1", false, "p1", "p2")
	if err != nil || replay.ID == pg.ID {
		t.Fatalf("reissued playoff needs a new game: %v", err)
	}
}

func TestTerminatedTournamentGameFreesMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr, err := f.facade.CreateTournament(ctx, tournament.CreateRequest{Name: "Blitz", TimeControl: "3min", MaxGames: 1, MaxPlayers: 2, CreatorID: "p1"})
	if err != nil {
		t.Fatalf("CreateTournament: %v", err)
	}
	if _, err := f.facade.JoinTournament(ctx, tr.ID, "p2", ""); err != nil {
		t.Fatalf("JoinTournament: %v", err)
	}
	if _, err := f.facade.StartTournament(ctx, tr.ID, "p1", false); err != nil {
		t.Fatalf("StartTournament: %v", err)
	}
	first, g, err := f.facade.PairTournamentMatch(ctx, tr.ID, "p1")
	if err != nil || g == nil {
		t.Fatalf("PairTournamentMatch: %v", err)
	}
	if _, err := f.facade.AdminTerminate(ctx, g.ID); err != nil {
		t.Fatalf("AdminTerminate: %v", err)
	}

	next, ng, err := f.facade.PairTournamentMatch(ctx, tr.ID, "p1")
	if err != nil || !next.Found || next.Reused {
		t.Fatalf("pairing after terminate: %+v %v", next, err)
	}
	if next.MatchID == first.MatchID || ng.ID == g.ID || ng.Status != chessdto.StatusOngoing {
		t.Fatalf("expected a fresh match and game: %+v %+v", next, ng)
	}
	st, err := f.facade.Standings(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Standings: %v", err)
	}
	for _, s := range st {
		if s.GamesPlayed != 0 {
			t.Fatalf("terminated game must not count: %+v", s)
		}
	}

	if _, err := f.facade.Resign(ctx, ng.ID, "p2"); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if _, _, err := f.facade.StartPlayoff(ctx, tr.ID, "p1", false, "p1", "p2"); err != nil {
		t.Fatalf("StartPlayoff after a voided match: %v", err)
	}
}

func TestHandleFrame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.matched(t)

	frame := func(event, payload string) realtime.Frame {
		return realtime.Frame{Event: event, Payload: []byte(payload)}
	}
	if err := f.facade.HandleFrame(ctx, "carol", frame(FrameJoin, `{"gameId":"`+id+`"}`)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.facade.HandleFrame(ctx, "alice", frame(FrameMove, `{"gameId":"`+id+`","move":"e4","version":1}`)); err != nil {
		t.Fatalf("move: %v", err)
	}
	if f.transport.count("carol", realtime.EventMove) != 1 {
		t.Fatalf("observer should see the move")
	}
	if err := f.facade.HandleFrame(ctx, "bob", frame(FrameMove, `{"gameId":"`+id+`","move":"e5","version":1}`)); !errors.Is(err, chessdto.ErrConcurrencyConflict) {
		t.Fatalf("stale version should be rejected: %v", err)
	}
	if err := f.facade.HandleFrame(ctx, "bob", frame("dance", `{"gameId":"`+id+`"}`)); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("unknown event: %v", err)
	}
	if err := f.facade.HandleFrame(ctx, "bob", frame(FrameResign, `{}`)); !errors.Is(err, chessdto.ErrValidation) {
		t.Fatalf("missing game id: %v", err)
	}
}
