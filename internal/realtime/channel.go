// Package realtime relays game events between participants. It never
// persists anything; callers save through the game store first.
package realtime

import (
	"strings"

	"github.com/park285/cheese-arena/internal/matchmaking"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Transport is the socket layer the channel is built on.
type Transport interface {
	JoinRoom(roomID, userID string)
	EmitToRoom(roomID, event string, payload any, exceptUserID string)
	EmitToUser(userID, event string, payload any)
}

const (
	EventMatched    = "matched"
	EventJoined     = "joined"
	EventMove       = "move"
	EventResign     = "resign"
	EventReport     = "report"
	EventGameOver   = "game_over"
	EventTerminated = "terminated"
	EventError      = "error"
)

// MovePayload carries the full FEN so a receiver that missed earlier events
// can resync from it alone.
type MovePayload struct {
	GameID   string        `json:"gameId"`
	PlayerID string        `json:"playerId"`
	Move     chessdto.Move `json:"move"`
	FEN      string        `json:"fen"`
	Version  int64         `json:"version"`
}

type ResignPayload struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type ReportPayload struct {
	GameID     string `json:"gameId"`
	ReporterID string `json:"reporterId"`
	Reason     string `json:"reason,omitempty"`
}

type GameOverPayload struct {
	GameID   string                  `json:"gameId"`
	Status   chessdto.GameStatus     `json:"status"`
	Result   chessdto.GameResult     `json:"result,omitempty"`
	LossType chessdto.LossType       `json:"lossType,omitempty"`
	WinnerID string                  `json:"winnerId,omitempty"`
	FEN      string                  `json:"fen"`
	Elo      *chessdto.EloDifference `json:"eloDifference,omitempty"`
}

type TerminatedPayload struct {
	GameID string `json:"gameId"`
}

type JoinedPayload struct {
	GameID string `json:"gameId"`
	UserID string `json:"userId"`
}

func RoomFor(gameID string) string { return "game:" + strings.TrimSpace(gameID) }

type Channel struct {
	t Transport
}

func NewChannel(t Transport) *Channel { return &Channel{t: t} }

// Join adds userID to the game room. Joining twice is harmless.
func (c *Channel) Join(gameID, userID string) {
	c.t.JoinRoom(RoomFor(gameID), userID)
	c.t.EmitToUser(userID, EventJoined, JoinedPayload{GameID: gameID, UserID: userID})
}

// Move tells everyone in the room except the mover.
func (c *Channel) Move(p MovePayload) {
	c.t.EmitToRoom(RoomFor(p.GameID), EventMove, p, p.PlayerID)
}

func (c *Channel) Resign(gameID, playerID string) {
	c.t.EmitToRoom(RoomFor(gameID), EventResign, ResignPayload{GameID: gameID, PlayerID: playerID}, playerID)
}

func (c *Channel) Report(gameID, reporterID, reason string) {
	c.t.EmitToRoom(RoomFor(gameID), EventReport, ReportPayload{GameID: gameID, ReporterID: reporterID, Reason: reason}, reporterID)
}

// GameOver goes to the whole room, both players included.
func (c *Channel) GameOver(p GameOverPayload) {
	c.t.EmitToRoom(RoomFor(p.GameID), EventGameOver, p, "")
}

// Terminate addresses both participants by user id. The admin side does not
// know who sits in the game room.
func (c *Channel) Terminate(gameID, playerOne, playerTwo string) {
	p := TerminatedPayload{GameID: gameID}
	c.t.EmitToUser(playerOne, EventTerminated, p)
	c.t.EmitToUser(playerTwo, EventTerminated, p)
}

// Matched adapts a user's socket into a matchmaking handle.
func (c *Channel) Matched(userID string) matchmaking.Handle {
	return matchmaking.HandleFunc(func(ev matchmaking.MatchEvent) {
		c.t.JoinRoom(RoomFor(ev.GameID), userID)
		c.t.EmitToUser(userID, EventMatched, ev)
	})
}
