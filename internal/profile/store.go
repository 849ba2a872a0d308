// Package profile is the rating side of the user/profile collaborator.
// Ratings live in a Redis hash per player so the game store can watch and
// rewrite them in the same transaction that completes a game.
package profile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/internal/rating"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldRating      = "rating"
	fieldGamesPlayed = "games_played"
)

type Record struct {
	PlayerID    string `json:"playerId"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed"`
}

type Store struct {
	rdb           redis.UniversalClient
	defaultRating int
}

func NewStore(rdb redis.UniversalClient, defaultRating int) *Store {
	if defaultRating <= 0 {
		defaultRating = rating.DefaultRating
	}
	return &Store{rdb: rdb, defaultRating: defaultRating}
}

func Key(playerID string) string { return "arena:player:" + strings.TrimSpace(playerID) }

// FindByID returns the stored record, or a default one for players that never
// finished a rated game.
func (s *Store) FindByID(ctx context.Context, playerID string) (Record, error) {
	return s.Load(ctx, s.rdb, playerID)
}

// Load reads through c, which may be a *redis.Tx inside a WATCH block.
func (s *Store) Load(ctx context.Context, c redis.Cmdable, playerID string) (Record, error) {
	rec := Record{PlayerID: playerID, Rating: s.defaultRating}
	vals, err := c.HGetAll(ctx, Key(playerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return rec, fmt.Errorf("load profile %s: %w", playerID, err)
	}
	if v, ok := vals[fieldRating]; ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			rec.Rating = n
		}
	}
	if v, ok := vals[fieldGamesPlayed]; ok {
		if n, perr := strconv.Atoi(v); perr == nil {
			rec.GamesPlayed = n
		}
	}
	return rec, nil
}

// Stage queues the write of rec on a transaction pipeline.
func Stage(ctx context.Context, pipe redis.Pipeliner, rec Record) {
	pipe.HSet(ctx, Key(rec.PlayerID), fieldRating, rec.Rating, fieldGamesPlayed, rec.GamesPlayed)
}

// ApplyRatingDelta adjusts a rating outside of a game transaction (admin corrections).
func (s *Store) ApplyRatingDelta(ctx context.Context, playerID string, delta int) (Record, error) {
	if strings.TrimSpace(playerID) == "" {
		return Record{}, fmt.Errorf("empty player id")
	}
	var out Record
	key := Key(playerID)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.Load(ctx, tx, playerID)
		if err != nil {
			return err
		}
		rec.Rating += delta
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			Stage(ctx, pipe, rec)
			return nil
		})
		if err == nil {
			out = rec
		}
		return err
	}, key)
	if err != nil {
		return Record{}, err
	}
	obslog.L().Info("profile_rating_adjust", zap.String("player_id", playerID), zap.Int("delta", delta), zap.Int("rating", out.Rating))
	return out, nil
}
