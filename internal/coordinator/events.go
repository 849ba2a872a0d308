package coordinator

import (
	"context"
	"errors"
	"strconv"

	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

var errNoCatalog = errors.New("message catalog not configured")

// finish runs once per game, after the transition out of ongoing was stored.
func (f *Facade) finish(ctx context.Context, g *gamestate.Game) {
	f.channel.GameOver(realtime.GameOverPayload{
		GameID:   g.ID,
		Status:   g.Status,
		Result:   g.Result,
		LossType: g.LossType,
		WinnerID: g.WinnerID(),
		FEN:      g.FEN,
		Elo:      g.Elo,
	})

	if g.Status == chessdto.StatusCompleted {
		f.notifyOutcome(g, g.PlayerOne)
		f.notifyOutcome(g, g.PlayerTwo)
		if g.TournamentID != "" {
			f.settleTournamentGame(ctx, g)
		}
	}
	f.archiveGame(ctx, g)
	f.closeRoom(g.ID)
}

func (f *Facade) notifyOutcome(g *gamestate.Game, playerID string) {
	key := "outcome.draw"
	switch g.WinnerID() {
	case "":
	case playerID:
		key = "outcome.win"
	default:
		key = "outcome.loss"
	}
	outcome, err := f.render(key, map[string]any{"LossType": g.LossType})
	if err != nil {
		return
	}
	f.notify(notify.TypeGameOver, playerID, "game.over", map[string]any{"GameID": g.ID, "Outcome": outcome})

	if g.Elo == nil {
		return
	}
	delta := g.Elo.PlayerOne
	if playerID == g.PlayerTwo {
		delta = g.Elo.PlayerTwo
	}
	f.notify(notify.TypeRatingChanged, playerID, "game.rating", map[string]any{"Delta": signed(delta)})
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func (f *Facade) archiveGame(ctx context.Context, g *gamestate.Game) {
	if f.archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.archiveTimeout)
	defer cancel()
	if err := f.archive.SaveGame(actx, g); err != nil {
		// 아카이브 실패는 게임 상태를 되돌리지 않는다.
		obslog.L().Warn("archive_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}

func (f *Facade) closeRoom(gameID string) {
	if f.rooms != nil {
		f.rooms.CloseRoom(realtime.RoomFor(gameID))
	}
}

func (f *Facade) render(key string, data any) (string, error) {
	if f.messages == nil {
		return "", errNoCatalog
	}
	text, err := f.messages.Render(key, data)
	if err != nil {
		obslog.L().Warn("message_render_failed", zap.String("key", key), zap.Error(err))
		return "", err
	}
	return text, nil
}

func (f *Facade) notify(typ, recipientID, key string, data any) {
	if recipientID == "" {
		return
	}
	text, err := f.render(key, data)
	if err != nil {
		return
	}
	f.notifier.Notify(notify.Event{Type: typ, RecipientID: recipientID, Content: text, Timestamp: f.now()})
}
