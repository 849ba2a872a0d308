package chessdto

import "time"

// Color identifies chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Valid() bool { return c == White || c == Black }

func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

// GameResult is the final result of a game, from white's point of view.
type GameResult string

const (
	WhiteWin GameResult = "whiteWin"
	BlackWin GameResult = "blackWin"
	Draw     GameResult = "draw"
)

func (r GameResult) Valid() bool { return r == WhiteWin || r == BlackWin || r == Draw }

type LossType string

const (
	LossCheckmate   LossType = "checkmate"
	LossResignation LossType = "resignation"
	LossTimeout     LossType = "timeout"
	LossDraw        LossType = "draw"
)

func (l LossType) Valid() bool {
	switch l {
	case LossCheckmate, LossResignation, LossTimeout, LossDraw:
		return true
	}
	return false
}

// GameStatus is one-directional: ongoing -> completed | terminated.
type GameStatus string

const (
	StatusOngoing    GameStatus = "ongoing"
	StatusCompleted  GameStatus = "completed"
	StatusTerminated GameStatus = "terminated"
)

func (s GameStatus) Terminal() bool { return s == StatusCompleted || s == StatusTerminated }

type Move struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Piece     string    `json:"piece"`
	SAN       string    `json:"san"`
	Color     Color     `json:"color"`
	Timestamp time.Time `json:"timestamp"`
}

// EloDifference is the rating snapshot recorded when a rated game completes.
type EloDifference struct {
	PlayerOne int `json:"playerOne"`
	PlayerTwo int `json:"playerTwo"`
}
