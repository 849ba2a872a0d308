// Package coordinator is the entry point the transport layer talks to. It
// persists through the game store first and only then relays events and
// notifications.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/msgcat"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/internal/tournament"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// Archiver stores finished games. archive.Repository implements it.
type Archiver interface {
	SaveGame(ctx context.Context, g *gamestate.Game) error
}

// RoomCloser lets the hub forget a room once its game is over.
type RoomCloser interface {
	CloseRoom(roomID string)
}

// Deps are the collaborators of the facade. Games, Tournaments and Channel are
// required; the rest may be nil.
type Deps struct {
	Games       *gamestate.Store
	Tournaments *tournament.Engine
	Channel     *realtime.Channel
	Messages    *msgcat.Catalog
	Notifier    notify.Notifier
	Archive     Archiver
	Rooms       RoomCloser
}

type Facade struct {
	games       *gamestate.Store
	tournaments *tournament.Engine
	channel     *realtime.Channel
	messages    *msgcat.Catalog
	notifier    notify.Notifier
	archive     Archiver
	rooms       RoomCloser
	queue       *matchmaking.Queue

	archiveTimeout time.Duration
	now            func() time.Time
}

type Option func(*facadeOptions)

type facadeOptions struct {
	queueOpts []matchmaking.Option
	now       func() time.Time
}

// WithQueueOptions forwards options to the matchmaking queue. The OnMatch
// hook is always the facade's own.
func WithQueueOptions(opts ...matchmaking.Option) Option {
	return func(o *facadeOptions) { o.queueOpts = append(o.queueOpts, opts...) }
}

func WithClock(now func() time.Time) Option { return func(o *facadeOptions) { o.now = now } }

func New(d Deps, opts ...Option) *Facade {
	o := facadeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	f := &Facade{
		games:          d.Games,
		tournaments:    d.Tournaments,
		channel:        d.Channel,
		messages:       d.Messages,
		notifier:       d.Notifier,
		archive:        d.Archive,
		rooms:          d.Rooms,
		archiveTimeout: 5 * time.Second,
		now:            o.now,
	}
	if f.notifier == nil {
		f.notifier = notify.Nop{}
	}
	f.queue = matchmaking.NewQueue(append(o.queueOpts, matchmaking.WithOnMatch(f.createMatchedGame))...)
	return f
}

// Queue exposes the matchmaking queue for health output.
func (f *Facade) Queue() *matchmaking.Queue { return f.queue }

// RequestMatch queues playerID. Once paired, the game already exists when the
// player's socket hears about it.
func (f *Facade) RequestMatch(ctx context.Context, playerID, timeControl string) (matchmaking.Outcome, error) {
	relay := f.channel.Matched(playerID)
	h := matchmaking.HandleFunc(func(ev matchmaking.MatchEvent) {
		relay.Matched(ev)
		f.notify(notify.TypeMatched, playerID, "game.matched", map[string]any{
			"Opponent":    ev.Opponent,
			"TimeControl": ev.TimeControl,
			"Color":       ev.Color,
		})
	})
	return f.queue.Enqueue(ctx, playerID, timeControl, h)
}

func (f *Facade) CancelMatch(playerID string) bool { return f.queue.Cancel(playerID) }

func (f *Facade) createMatchedGame(ctx context.Context, p matchmaking.Pairing) error {
	_, err := f.games.Save(ctx, gamestate.SaveRequest{
		ID:            p.GameID,
		PlayerOne:     p.White,
		PlayerTwo:     p.Black,
		StartingColor: chessdto.White,
		GameType:      "standard",
		TimeControl:   p.TimeControl,
	})
	return err
}

func (f *Facade) Game(ctx context.Context, gameID string) (*gamestate.Game, error) {
	return f.games.Get(ctx, gameID)
}

// JoinGame puts userID in the game room. Observers may join too.
func (f *Facade) JoinGame(ctx context.Context, gameID, userID string) (*gamestate.Game, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "user id is required")
	}
	g, err := f.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	f.channel.Join(g.ID, userID)
	return g, nil
}

// SubmitMove validates and stores the move, then relays it to the room.
func (f *Facade) SubmitMove(ctx context.Context, gameID, playerID, move string, expectedVersion int64) (*gamestate.Game, error) {
	g, err := f.games.PlayMove(ctx, gameID, playerID, move, expectedVersion)
	if err != nil {
		return nil, err
	}
	p := realtime.MovePayload{GameID: g.ID, PlayerID: playerID, FEN: g.FEN, Version: g.Version}
	if n := len(g.Moves); n > 0 {
		p.Move = g.Moves[n-1]
	}
	f.channel.Move(p)
	if g.Status.Terminal() {
		f.finish(ctx, g)
	}
	return g, nil
}

func (f *Facade) Resign(ctx context.Context, gameID, playerID string) (*gamestate.Game, error) {
	g, err := f.games.Resign(ctx, gameID, playerID)
	if err != nil {
		return nil, err
	}
	f.channel.Resign(g.ID, playerID)
	f.finish(ctx, g)
	return g, nil
}

// ClaimTimeout ends the game against the claimant's opponent. Clocks are kept
// by the clients; the server trusts the claim.
func (f *Facade) ClaimTimeout(ctx context.Context, gameID, claimantID string) (*gamestate.Game, error) {
	cur, err := f.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !cur.IsParticipant(claimantID) {
		return nil, chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", claimantID, cur.ID)
	}
	g, err := f.games.Timeout(ctx, gameID, cur.Opponent(claimantID))
	if err != nil {
		return nil, err
	}
	f.finish(ctx, g)
	return g, nil
}

// Report relays a report to the room and notifies the other player.
func (f *Facade) Report(ctx context.Context, gameID, reporterID, reason string) error {
	g, err := f.games.Get(ctx, gameID)
	if err != nil {
		return err
	}
	if !g.IsParticipant(reporterID) {
		return chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", reporterID, g.ID)
	}
	reason = strings.TrimSpace(reason)
	f.channel.Report(g.ID, reporterID, reason)
	f.notify(notify.TypeGameReported, g.Opponent(reporterID), "game.report", map[string]any{
		"ReporterID": reporterID,
		"GameID":     g.ID,
		"Reason":     reason,
	})
	obslog.L().Info("game_report", zap.String("game_id", g.ID), zap.String("reporter_id", reporterID))
	return nil
}

// UpdateGame applies a client patch. Only participants may patch.
func (f *Facade) UpdateGame(ctx context.Context, gameID, playerID string, p gamestate.Patch) (*gamestate.Game, error) {
	cur, err := f.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !cur.IsParticipant(playerID) {
		return nil, chessdto.Errorf(chessdto.CodeNotParticipant, "player %s is not in game %s", playerID, cur.ID)
	}
	g, err := f.games.Update(ctx, gameID, p)
	if err != nil {
		return nil, err
	}
	if p.Status != nil && g.Status.Terminal() {
		f.finish(ctx, g)
	}
	return g, nil
}

// AdminTerminate force-ends an ongoing game. Both players are addressed
// directly since the admin is not in the room. A terminated tournament game
// frees its match for a new pairing.
func (f *Facade) AdminTerminate(ctx context.Context, gameID string) (*gamestate.Game, error) {
	cur, err := f.games.Get(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if cur.Status == chessdto.StatusTerminated {
		return cur, nil
	}
	g, err := f.games.Terminate(ctx, gameID)
	if err != nil {
		return nil, err
	}
	f.channel.Terminate(g.ID, g.PlayerOne, g.PlayerTwo)
	for _, id := range []string{g.PlayerOne, g.PlayerTwo} {
		f.notify(notify.TypeGameTerminated, id, "game.terminated", map[string]any{"GameID": g.ID})
	}
	if g.TournamentID != "" {
		f.voidTournamentGame(ctx, g)
	}
	f.archiveGame(ctx, g)
	f.closeRoom(g.ID)
	obslog.L().Info("admin_terminate", zap.String("game_id", g.ID))
	return g, nil
}

func (f *Facade) AdminDelete(ctx context.Context, gameID string) error {
	if err := f.games.Delete(ctx, gameID); err != nil {
		return err
	}
	f.closeRoom(gameID)
	return nil
}
