// Package archive keeps finished games in Postgres with a PGN rendering.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/cheese-arena/internal/gamestate"
)

const schema = `CREATE TABLE IF NOT EXISTS arena_games (
    game_id        TEXT PRIMARY KEY,
    player_one     TEXT NOT NULL,
    player_two     TEXT NOT NULL,
    white_id       TEXT NOT NULL,
    black_id       TEXT NOT NULL,
    time_control   TEXT NOT NULL DEFAULT '',
    tournament_id  TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    result         TEXT NOT NULL DEFAULT '',
    loss_type      TEXT NOT NULL DEFAULT '',
    elo_difference JSONB,
    moves_san      JSONB NOT NULL,
    final_fen      TEXT NOT NULL,
    pgn            TEXT NOT NULL,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ NOT NULL,
    duration_ms    BIGINT NOT NULL
)`

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure arena_games: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveGame upserts a game that left the ongoing state.
func (r *Repository) SaveGame(ctx context.Context, g *gamestate.Game) error {
	if r == nil || r.db == nil || g == nil {
		return nil
	}
	sans := make([]string, 0, len(g.Moves))
	for _, m := range g.Moves {
		sans = append(sans, m.SAN)
	}
	movesRaw, _ := json.Marshal(sans)
	var eloRaw any
	if g.Elo != nil {
		b, _ := json.Marshal(g.Elo)
		eloRaw = string(b)
	}
	duration := g.Duration.Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO arena_games (
        game_id, player_one, player_two, white_id, black_id,
        time_control, tournament_id, status, result, loss_type,
        elo_difference, moves_san, final_fen, pgn,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
      ) ON CONFLICT (game_id) DO UPDATE SET
        status=EXCLUDED.status,
        result=EXCLUDED.result,
        loss_type=EXCLUDED.loss_type,
        elo_difference=EXCLUDED.elo_difference,
        moves_san=EXCLUDED.moves_san,
        final_fen=EXCLUDED.final_fen,
        pgn=EXCLUDED.pgn,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.ID, g.PlayerOne, g.PlayerTwo, g.WhiteID(), g.BlackID(),
		g.TimeControl, g.TournamentID, string(g.Status), string(g.Result), string(g.LossType),
		eloRaw, string(movesRaw), g.FEN, BuildPGN(g),
		g.CreatedAt, g.UpdatedAt, duration,
	)
	if err != nil {
		return fmt.Errorf("archive game %s: %w", g.ID, err)
	}
	return nil
}
