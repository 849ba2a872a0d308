package gamestate

import (
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// MoveOutcome is a validated move applied to a position.
type MoveOutcome struct {
	Move     chessdto.Move
	FEN      string
	Result   chessdto.GameResult
	LossType chessdto.LossType
}

func (o MoveOutcome) Finished() bool { return o.Result != "" }

func loadPosition(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, chessdto.Errorf(chessdto.CodeValidation, "invalid FEN: %v", err)
	}
	return nchess.NewGame(opt), nil
}

// SideToMove reads the active color from a FEN.
func SideToMove(fen string) (chessdto.Color, error) {
	game, err := loadPosition(fen)
	if err != nil {
		return "", err
	}
	return colorFrom(game.Position().Turn()), nil
}

// ValidateFEN rejects positions the chess library cannot load.
func ValidateFEN(fen string) error {
	_, err := loadPosition(fen)
	return err
}

// ApplyMove plays input (UCI preferred, SAN fallback) on fen.
func ApplyMove(fen, input string, at time.Time) (MoveOutcome, error) {
	game, err := loadPosition(fen)
	if err != nil {
		return MoveOutcome{}, err
	}
	raw := strings.TrimSpace(input)
	if raw == "" {
		return MoveOutcome{}, chessdto.Errorf(chessdto.CodeValidation, "empty move")
	}
	pos := game.Position()
	if uerr := game.PushNotationMove(strings.ToLower(raw), nchess.UCINotation{}, nil); uerr != nil {
		if serr := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); serr != nil {
			return MoveOutcome{}, chessdto.Errorf(chessdto.CodeValidation, "illegal move %q", raw)
		}
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return MoveOutcome{}, chessdto.Errorf(chessdto.CodeValidation, "illegal move %q", raw)
	}
	mv := moves[len(moves)-1]

	out := MoveOutcome{
		Move: chessdto.Move{
			From:      mv.S1().String(),
			To:        mv.S2().String(),
			Piece:     pieceLetter(pos.Board().Piece(mv.S1())),
			SAN:       nchess.AlgebraicNotation{}.Encode(pos, mv),
			Color:     colorFrom(pos.Turn()),
			Timestamp: at,
		},
		FEN: game.FEN(),
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		out.Result = chessdto.WhiteWin
		out.LossType = chessdto.LossCheckmate
	case nchess.BlackWon:
		out.Result = chessdto.BlackWin
		out.LossType = chessdto.LossCheckmate
	case nchess.Draw:
		out.Result = chessdto.Draw
		out.LossType = chessdto.LossDraw
	}
	return out, nil
}

func colorFrom(c nchess.Color) chessdto.Color {
	if c == nchess.White {
		return chessdto.White
	}
	return chessdto.Black
}

func pieceLetter(p nchess.Piece) string {
	switch p.Type() {
	case nchess.King:
		return "k"
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	case nchess.Pawn:
		return "p"
	}
	return ""
}
