// Package matchmaking pairs two waiting players that asked for the same time
// control. The queue is process-local; a restart drops every waiting player.
package matchmaking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-arena/internal/obslog"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"go.uber.org/zap"
)

// MatchEvent is delivered to both handles once a pair is formed.
type MatchEvent struct {
	GameID      string         `json:"gameId"`
	TimeControl string         `json:"timeControl"`
	Opponent    string         `json:"opponent"`
	Color       chessdto.Color `json:"color"`
}

// Handle is the communication handle of a waiting player (usually its socket).
type Handle interface {
	Matched(ev MatchEvent)
}

// HandleFunc adapts a plain function to Handle.
type HandleFunc func(ev MatchEvent)

func (f HandleFunc) Matched(ev MatchEvent) { f(ev) }

// Pairing describes a formed match before the handles hear about it.
// White is the player who waited longer.
type Pairing struct {
	GameID      string
	TimeControl string
	White       string
	Black       string
}

// OnMatchFunc creates the game for a pairing. It runs outside the queue lock.
type OnMatchFunc func(ctx context.Context, p Pairing) error

// Outcome is the result of Enqueue. Exactly one of Waiting or Match is set.
type Outcome struct {
	Waiting bool
	Match   *MatchEvent
}

type entry struct {
	playerID    string
	timeControl string
	enqueuedAt  time.Time
	handle      Handle
}

// Queue is guarded by a single mutex so the scan and the removal of both
// entries are one step.
type Queue struct {
	mu      sync.Mutex
	entries []*entry

	onMatch OnMatchFunc
	newID   func() string
	now     func() time.Time
}

type Option func(*Queue)

func WithOnMatch(fn OnMatchFunc) Option { return func(q *Queue) { q.onMatch = fn } }

func WithIDGenerator(fn func() string) Option { return func(q *Queue) { q.newID = fn } }

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }

func NewQueue(opts ...Option) *Queue {
	q := &Queue{newID: uuid.NewString, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue registers playerID for timeControl. A player already waiting has
// the old entry and handle replaced. When another player waits on the same
// time control both are removed and matched.
func (q *Queue) Enqueue(ctx context.Context, playerID, timeControl string, h Handle) (Outcome, error) {
	playerID, timeControl = strings.TrimSpace(playerID), strings.TrimSpace(timeControl)
	if playerID == "" || timeControl == "" {
		return Outcome{}, chessdto.Errorf(chessdto.CodeValidation, "player id and time control are required")
	}
	if h == nil {
		h = HandleFunc(func(MatchEvent) {})
	}
	me := &entry{playerID: playerID, timeControl: timeControl, enqueuedAt: q.now(), handle: h}

	q.mu.Lock()
	q.removeLocked(playerID)
	var opp *entry
	for i, e := range q.entries {
		if e.timeControl == timeControl {
			opp = e
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	if opp == nil {
		q.entries = append(q.entries, me)
		size := len(q.entries)
		q.mu.Unlock()
		obslog.L().Info("mm_enqueue", zap.String("player_id", playerID), zap.String("time_control", timeControl), zap.Int("queue_len", size))
		return Outcome{Waiting: true}, nil
	}
	q.mu.Unlock()

	p := Pairing{GameID: q.newID(), TimeControl: timeControl, White: opp.playerID, Black: playerID}
	if q.onMatch != nil {
		if err := q.onMatch(ctx, p); err != nil {
			// 대기하던 상대는 잘못이 없으므로 원래 자리로 되돌린다.
			q.restore(opp)
			obslog.L().Warn("mm_match_error", zap.String("game_id", p.GameID), zap.String("white", p.White), zap.String("black", p.Black), zap.Error(err))
			return Outcome{}, err
		}
	}

	mine := MatchEvent{GameID: p.GameID, TimeControl: timeControl, Opponent: opp.playerID, Color: chessdto.Black}
	theirs := MatchEvent{GameID: p.GameID, TimeControl: timeControl, Opponent: playerID, Color: chessdto.White}
	opp.handle.Matched(theirs)
	h.Matched(mine)
	obslog.L().Info("mm_match",
		zap.String("game_id", p.GameID),
		zap.String("time_control", timeControl),
		zap.String("white", p.White),
		zap.String("black", p.Black),
		zap.Duration("waited", q.now().Sub(opp.enqueuedAt)),
	)
	return Outcome{Match: &mine}, nil
}

// Cancel removes playerID from the queue. It reports whether an entry existed.
func (q *Queue) Cancel(playerID string) bool {
	playerID = strings.TrimSpace(playerID)
	q.mu.Lock()
	removed := q.removeLocked(playerID)
	q.mu.Unlock()
	if removed {
		obslog.L().Info("mm_cancel", zap.String("player_id", playerID))
	}
	return removed
}

// Waiting reports whether playerID currently has an entry and its time control.
func (q *Queue) Waiting(playerID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.playerID == playerID {
			return e.timeControl, true
		}
	}
	return "", false
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) removeLocked(playerID string) bool {
	for i, e := range q.entries {
		if e.playerID == playerID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// restore puts e back at the head unless the player re-queued meanwhile.
func (q *Queue) restore(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, cur := range q.entries {
		if cur.playerID == e.playerID {
			return
		}
	}
	q.entries = append([]*entry{e}, q.entries...)
}
