// Package rating computes Elo deltas for completed games.
package rating

import (
	"math"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

const (
	KFactor       = 32
	DefaultRating = 500
)

// Delta returns the rating change for a player scoring score (0, 0.5 or 1)
// against an opponent.
func Delta(playerRating, opponentRating int, score float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponentRating-playerRating)/400))
	return int(math.Round(KFactor * (score - expected)))
}

// Score is the result seen from color's side.
func Score(color chessdto.Color, result chessdto.GameResult) float64 {
	switch result {
	case chessdto.Draw:
		return 0.5
	case chessdto.WhiteWin:
		if color == chessdto.White {
			return 1
		}
		return 0
	case chessdto.BlackWin:
		if color == chessdto.Black {
			return 1
		}
		return 0
	}
	return 0
}

type Deltas struct {
	White int
	Black int
}

// Compute evaluates both sides independently. Rounding may leave the two
// deltas one point apart in magnitude; that is kept as is.
func Compute(whiteRating, blackRating int, result chessdto.GameResult) Deltas {
	return Deltas{
		White: Delta(whiteRating, blackRating, Score(chessdto.White, result)),
		Black: Delta(blackRating, whiteRating, Score(chessdto.Black, result)),
	}
}
