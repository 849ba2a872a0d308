package gamestate

import (
	"strings"
	"time"

	"github.com/park285/cheese-arena/pkg/chessdto"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Game is the persisted game document.
type Game struct {
	ID        string `json:"id"`
	PlayerOne string `json:"playerOne"`
	PlayerTwo string `json:"playerTwo"`
	// PlayerAt is the color PlayerOne (the creator) plays.
	PlayerAt chessdto.Color `json:"playerAt"`

	FEN      string                  `json:"fen"`
	Moves    []chessdto.Move         `json:"moves"`
	Result   chessdto.GameResult     `json:"result,omitempty"`
	LossType chessdto.LossType       `json:"lossType,omitempty"`
	Status   chessdto.GameStatus     `json:"status"`
	Version  int64                   `json:"version"`
	Duration time.Duration           `json:"duration"`
	Elo      *chessdto.EloDifference `json:"eloDifference,omitempty"`

	GameType     string `json:"gameType,omitempty"`
	TimeControl  string `json:"timeControl,omitempty"`
	TournamentID string `json:"tournamentId,omitempty"`
	MatchID      string `json:"matchId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Rated reports whether completing the game moves Elo. Tournament games only
// score tournament points.
func (g *Game) Rated() bool { return strings.TrimSpace(g.TournamentID) == "" }

func (g *Game) IsParticipant(playerID string) bool {
	return playerID != "" && (playerID == g.PlayerOne || playerID == g.PlayerTwo)
}

// ColorOf returns the color playerID plays, or "" for outsiders.
func (g *Game) ColorOf(playerID string) chessdto.Color {
	switch playerID {
	case g.PlayerOne:
		return g.PlayerAt
	case g.PlayerTwo:
		return g.PlayerAt.Opposite()
	}
	return ""
}

func (g *Game) Opponent(playerID string) string {
	switch playerID {
	case g.PlayerOne:
		return g.PlayerTwo
	case g.PlayerTwo:
		return g.PlayerOne
	}
	return ""
}

func (g *Game) WhiteID() string {
	if g.PlayerAt == chessdto.White {
		return g.PlayerOne
	}
	return g.PlayerTwo
}

func (g *Game) BlackID() string {
	if g.PlayerAt == chessdto.White {
		return g.PlayerTwo
	}
	return g.PlayerOne
}

// WinnerID is "" for draws and unfinished games.
func (g *Game) WinnerID() string {
	switch g.Result {
	case chessdto.WhiteWin:
		return g.WhiteID()
	case chessdto.BlackWin:
		return g.BlackID()
	}
	return ""
}

type SaveRequest struct {
	ID            string
	PlayerOne     string
	PlayerTwo     string
	StartingColor chessdto.Color
	FEN           string
	GameType      string
	TimeControl   string
	TournamentID  string
	MatchID       string
}

// Patch is a partial update. Nil fields are left untouched; AppendMoves is
// appended to the stored sequence.
type Patch struct {
	// ExpectedVersion, when non-zero, rejects the patch if the stored game
	// moved on since the client last synced.
	ExpectedVersion int64

	FEN         *string
	AppendMoves []chessdto.Move
	Status      *chessdto.GameStatus
	Result      *chessdto.GameResult
	LossType    *chessdto.LossType
	Duration    *time.Duration
}

// Completion builds the patch that finishes a game.
func Completion(result chessdto.GameResult, loss chessdto.LossType) Patch {
	st := chessdto.StatusCompleted
	return Patch{Status: &st, Result: &result, LossType: &loss}
}
