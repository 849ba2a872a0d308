package coordinator

import (
	"context"
	"errors"

	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/internal/notify"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/tournament"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

func (f *Facade) CreateTournament(ctx context.Context, req tournament.CreateRequest) (*tournament.Tournament, error) {
	return f.tournaments.Create(ctx, req)
}

func (f *Facade) Tournament(ctx context.Context, id string) (*tournament.Tournament, error) {
	return f.tournaments.Get(ctx, id)
}

func (f *Facade) JoinTournament(ctx context.Context, id, playerID, password string) (*tournament.Tournament, error) {
	return f.tournaments.Join(ctx, id, playerID, password)
}

func (f *Facade) LeaveTournament(ctx context.Context, id, playerID string) (*tournament.Tournament, error) {
	t, err := f.tournaments.Leave(ctx, id, playerID)
	if err != nil {
		return nil, err
	}
	if c, ok := t.State.(tournament.Cancelled); ok {
		for _, p := range t.Players {
			f.notify(notify.TypeTournamentCancel, p.PlayerID, "tournament.cancelled", map[string]any{"Name": t.Config.Name, "Reason": c.Reason})
		}
	}
	return t, nil
}

func (f *Facade) StartTournament(ctx context.Context, id, requester string, isAdmin bool) (*tournament.Tournament, error) {
	return f.tournaments.Start(ctx, id, requester, isAdmin)
}

// PairTournamentMatch pairs playerID and makes sure the match has its game.
// The game id is fixed when the match is created, so a retried or reused
// pairing lands on the same game.
func (f *Facade) PairTournamentMatch(ctx context.Context, id, playerID string) (tournament.Pairing, *gamestate.Game, error) {
	p, err := f.tournaments.PairMatch(ctx, id, playerID)
	if err != nil || !p.Found {
		return p, nil, err
	}
	t, err := f.tournaments.Get(ctx, id)
	if err != nil {
		return p, nil, err
	}
	m, ok := findMatch(t, p.MatchID)
	if !ok {
		return p, nil, chessdto.Errorf(chessdto.CodeNotFound, "match %s not found", p.MatchID)
	}
	g, created, err := f.ensureGame(ctx, t, m)
	if err != nil {
		return p, nil, err
	}
	if created {
		f.announceMatch(t, m, "tournament.paired", notify.TypeTournamentPaired)
	}
	return p, g, nil
}

// SubmitTournamentResult records a result reported by a player directly.
func (f *Facade) SubmitTournamentResult(ctx context.Context, id, matchID string, result tournament.MatchResult, playerID string) (*tournament.Tournament, error) {
	return f.tournaments.SubmitResult(ctx, id, matchID, result, playerID)
}

// StartPlayoff opens the playoff and creates its game.
func (f *Facade) StartPlayoff(ctx context.Context, id, requester string, isAdmin bool, p1, p2 string) (*tournament.Tournament, *gamestate.Game, error) {
	t, err := f.tournaments.StartPlayoff(ctx, id, requester, isAdmin, p1, p2)
	if err != nil {
		return nil, nil, err
	}
	m, _ := t.PlayoffMatch()
	g, _, err := f.ensureGame(ctx, t, m)
	if err != nil {
		return t, nil, err
	}
	f.announceMatch(t, m, "tournament.playoff", notify.TypeTournamentPlayoff)
	return t, g, nil
}

func (f *Facade) SubmitPlayoffResult(ctx context.Context, id string, result tournament.MatchResult, playerID string) (*tournament.Tournament, error) {
	before, err := f.tournaments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := f.tournaments.SubmitPlayoffResult(ctx, id, result, playerID)
	if err != nil {
		return nil, err
	}
	if c, ok := t.State.(tournament.Completed); ok && before.Status() != tournament.StatusCompleted {
		for _, p := range t.Players {
			f.notify(notify.TypeTournamentComplete, p.PlayerID, "tournament.completed", map[string]any{"Name": t.Config.Name, "Winner": c.Winner})
		}
	}
	return t, nil
}

func (f *Facade) Standings(ctx context.Context, id string) ([]tournament.Standing, error) {
	t, err := f.tournaments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return tournament.Standings(t), nil
}

// ensureGame creates the unrated game of a tournament match. PlayerOne of the
// match plays white. An existing game is returned as is.
func (f *Facade) ensureGame(ctx context.Context, t *tournament.Tournament, m tournament.Match) (*gamestate.Game, bool, error) {
	g, err := f.games.Save(ctx, gamestate.SaveRequest{
		ID:            m.GameID,
		PlayerOne:     m.PlayerOne,
		PlayerTwo:     m.PlayerTwo,
		StartingColor: chessdto.White,
		GameType:      t.Config.GameType,
		TimeControl:   t.Config.TimeControl,
		TournamentID:  t.ID,
		MatchID:       m.ID,
	})
	if err == nil {
		return g, true, nil
	}
	if !errors.Is(err, chessdto.ErrStateConflict) {
		return nil, false, err
	}
	g, err = f.games.Get(ctx, m.GameID)
	if err != nil {
		return nil, false, err
	}
	return g, false, nil
}

func (f *Facade) announceMatch(t *tournament.Tournament, m tournament.Match, key, typ string) {
	sides := []struct {
		player, opponent string
		color            chessdto.Color
	}{
		{m.PlayerOne, m.PlayerTwo, chessdto.White},
		{m.PlayerTwo, m.PlayerOne, chessdto.Black},
	}
	for _, s := range sides {
		f.channel.Matched(s.player).Matched(matchmaking.MatchEvent{
			GameID:      m.GameID,
			TimeControl: t.Config.TimeControl,
			Opponent:    s.opponent,
			Color:       s.color,
		})
		f.notify(typ, s.player, key, map[string]any{
			"Name":        t.Config.Name,
			"Opponent":    s.opponent,
			"TimeControl": t.Config.TimeControl,
		})
	}
}

// settleTournamentGame reports a finished tournament game to the engine.
// A drawn playoff stays open so the creator can reissue it.
func (f *Facade) settleTournamentGame(ctx context.Context, g *gamestate.Game) {
	t, err := f.tournaments.Get(ctx, g.TournamentID)
	if err != nil {
		obslog.L().Warn("tournament_settle_failed", zap.String("game_id", g.ID), zap.Error(err))
		return
	}
	if m, ok := t.PlayoffMatch(); ok && m.ID == g.MatchID {
		result := matchResult(g, m)
		if !result.Decisive() {
			obslog.L().Info("tournament_playoff_drawn", zap.String("tournament_id", t.ID), zap.String("game_id", g.ID))
			return
		}
		if _, err := f.SubmitPlayoffResult(ctx, t.ID, result, m.PlayerOne); err != nil {
			obslog.L().Warn("tournament_settle_failed", zap.String("game_id", g.ID), zap.Error(err))
		}
		return
	}
	m, ok := findMatch(t, g.MatchID)
	if !ok {
		obslog.L().Warn("tournament_settle_failed", zap.String("game_id", g.ID), zap.String("match_id", g.MatchID), zap.String("reason", "match not found"))
		return
	}
	if _, err := f.tournaments.SubmitResult(ctx, t.ID, m.ID, matchResult(g, m), m.PlayerOne); err != nil {
		obslog.L().Warn("tournament_settle_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}

// voidTournamentGame releases the match of a terminated game.
// 결과 없이 끝난 게임이라 점수는 건드리지 않는다.
func (f *Facade) voidTournamentGame(ctx context.Context, g *gamestate.Game) {
	if _, err := f.tournaments.VoidGame(ctx, g.TournamentID, g.ID); err != nil {
		obslog.L().Warn("tournament_void_failed", zap.String("game_id", g.ID), zap.Error(err))
	}
}

// matchResult maps a game result onto the match's player order.
func matchResult(g *gamestate.Game, m tournament.Match) tournament.MatchResult {
	switch g.WinnerID() {
	case "":
		return tournament.ResultDraw
	case m.PlayerOne:
		return tournament.ResultPlayerOne
	default:
		return tournament.ResultPlayerTwo
	}
}

func findMatch(t *tournament.Tournament, matchID string) (tournament.Match, bool) {
	for _, m := range t.Matches {
		if m.ID == matchID {
			return m, true
		}
	}
	return tournament.Match{}, false
}
