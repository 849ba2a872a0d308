package coordinator

import (
	"context"
	"encoding/json"

	"github.com/park285/cheese-arena/internal/realtime"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Inbound socket events.
const (
	FrameJoin   = "join"
	FrameMove   = "move"
	FrameResign = "resign"
	FrameReport = "report"
)

type framePayload struct {
	GameID  string `json:"gameId"`
	Move    string `json:"move,omitempty"`
	Version int64  `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// HandleFrame serves client frames from the hub. The same rules as the HTTP
// routes apply; persistence happens before anything is relayed.
func (f *Facade) HandleFrame(ctx context.Context, userID string, fr realtime.Frame) error {
	var p framePayload
	if len(fr.Payload) > 0 {
		if err := json.Unmarshal(fr.Payload, &p); err != nil {
			return chessdto.Errorf(chessdto.CodeValidation, "bad %s payload: %v", fr.Event, err)
		}
	}
	if p.GameID == "" {
		return chessdto.Errorf(chessdto.CodeValidation, "gameId is required")
	}
	var err error
	switch fr.Event {
	case FrameJoin:
		_, err = f.JoinGame(ctx, p.GameID, userID)
	case FrameMove:
		_, err = f.SubmitMove(ctx, p.GameID, userID, p.Move, p.Version)
	case FrameResign:
		_, err = f.Resign(ctx, p.GameID, userID)
	case FrameReport:
		err = f.Report(ctx, p.GameID, userID, p.Reason)
	default:
		err = chessdto.Errorf(chessdto.CodeValidation, "unknown event %q", fr.Event)
	}
	return err
}
