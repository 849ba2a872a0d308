package tournament

import (
	"encoding/json"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPlayoff   Status = "playoff"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// MatchResult is written from PlayerOne's side.
type MatchResult string

const (
	ResultPlayerOne MatchResult = "1-0"
	ResultPlayerTwo MatchResult = "0-1"
	ResultDraw      MatchResult = "0.5-0.5"
)

func (r MatchResult) Valid() bool {
	return r == ResultPlayerOne || r == ResultPlayerTwo || r == ResultDraw
}

func (r MatchResult) Decisive() bool { return r == ResultPlayerOne || r == ResultPlayerTwo }

type Match struct {
	ID        string      `json:"id"`
	PlayerOne string      `json:"playerOne"`
	PlayerTwo string      `json:"playerTwo"`
	Result    MatchResult `json:"result,omitempty"`
	GameID    string      `json:"gameId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

func (m Match) Involves(playerID string) bool {
	return m.PlayerOne == playerID || m.PlayerTwo == playerID
}

func (m Match) Opponent(playerID string) string {
	if m.PlayerOne == playerID {
		return m.PlayerTwo
	}
	return m.PlayerOne
}

func (m Match) Open() bool { return m.Result == "" }

// Winner returns the decisive winner, or "" for draws and open matches.
func (m Match) Winner() string {
	switch m.Result {
	case ResultPlayerOne:
		return m.PlayerOne
	case ResultPlayerTwo:
		return m.PlayerTwo
	}
	return ""
}

type Standing struct {
	PlayerID    string  `json:"playerId"`
	Points      float64 `json:"points"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	GamesPlayed int     `json:"gamesPlayed"`
}

type Config struct {
	Name         string `json:"name,omitempty"`
	GameType     string `json:"gameType,omitempty"`
	TimeControl  string `json:"timeControl"`
	MaxGames     int    `json:"maxGames"`
	MaxPlayers   int    `json:"maxPlayers"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Private      bool   `json:"private,omitempty"`
	CreatorID    string `json:"creatorId"`
	AdminCreated bool   `json:"adminCreated,omitempty"`
}

// State is one of Pending, Active, Playoff, Completed or Cancelled. Each
// variant carries only the fields that exist in that phase.
type State interface {
	Status() Status
	isState()
}

type Pending struct{}

type Active struct {
	StartedAt time.Time
}

type Playoff struct {
	StartedAt time.Time
	Match     Match
}

type Completed struct {
	StartedAt   time.Time
	Playoff     Match
	Winner      string
	CompletedAt time.Time
}

type Cancelled struct {
	Reason      string
	CancelledAt time.Time
}

func (Pending) Status() Status   { return StatusPending }
func (Active) Status() Status    { return StatusActive }
func (Playoff) Status() Status   { return StatusPlayoff }
func (Completed) Status() Status { return StatusCompleted }
func (Cancelled) Status() Status { return StatusCancelled }

func (Pending) isState()   {}
func (Active) isState()    {}
func (Playoff) isState()   {}
func (Completed) isState() {}
func (Cancelled) isState() {}

type Tournament struct {
	ID        string
	Config    Config
	Players   []Standing
	Matches   []Match
	State     State
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Tournament) Status() Status {
	if t.State == nil {
		return StatusPending
	}
	return t.State.Status()
}

// PlayoffMatch returns the playoff match in the playoff and completed phases.
func (t *Tournament) PlayoffMatch() (Match, bool) {
	switch s := t.State.(type) {
	case Playoff:
		return s.Match, true
	case Completed:
		return s.Playoff, true
	}
	return Match{}, false
}

func (t *Tournament) standing(playerID string) *Standing {
	for i := range t.Players {
		if t.Players[i].PlayerID == playerID {
			return &t.Players[i]
		}
	}
	return nil
}

func (t *Tournament) HasPlayer(playerID string) bool { return t.standing(playerID) != nil }

func (t *Tournament) match(matchID string) *Match {
	for i := range t.Matches {
		if t.Matches[i].ID == matchID {
			return &t.Matches[i]
		}
	}
	return nil
}

// Redacted returns a copy safe to hand to clients.
func (t *Tournament) Redacted() *Tournament {
	cp := *t
	cp.Config.PasswordHash = ""
	return &cp
}

// document is the flat persisted shape. The tagged State is folded into
// status plus the optional fields valid for it.
type document struct {
	ID           string     `json:"id"`
	Config       Config     `json:"config"`
	Players      []Standing `json:"players"`
	Matches      []Match    `json:"matches"`
	Status       Status     `json:"status"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	PlayoffMatch *Match     `json:"playoffMatch,omitempty"`
	Winner       string     `json:"winner,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Version      int64      `json:"version"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func (t Tournament) MarshalJSON() ([]byte, error) {
	d := document{
		ID:        t.ID,
		Config:    t.Config,
		Players:   t.Players,
		Matches:   t.Matches,
		Status:    t.Status(),
		Version:   t.Version,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if d.Players == nil {
		d.Players = []Standing{}
	}
	if d.Matches == nil {
		d.Matches = []Match{}
	}
	switch s := t.State.(type) {
	case Active:
		d.StartedAt = &s.StartedAt
	case Playoff:
		d.StartedAt = &s.StartedAt
		m := s.Match
		d.PlayoffMatch = &m
	case Completed:
		d.StartedAt = &s.StartedAt
		m := s.Playoff
		d.PlayoffMatch = &m
		d.Winner = s.Winner
		d.FinishedAt = &s.CompletedAt
	case Cancelled:
		d.CancelReason = s.Reason
		d.FinishedAt = &s.CancelledAt
	}
	return json.Marshal(d)
}

func (t *Tournament) UnmarshalJSON(raw []byte) error {
	var d document
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}
	at := func(p *time.Time) time.Time {
		if p == nil {
			return time.Time{}
		}
		return *p
	}
	var st State
	switch d.Status {
	case StatusPending, "":
		st = Pending{}
	case StatusActive:
		st = Active{StartedAt: at(d.StartedAt)}
	case StatusPlayoff:
		if d.PlayoffMatch == nil {
			return fmt.Errorf("tournament %s: playoff status without playoff match", d.ID)
		}
		st = Playoff{StartedAt: at(d.StartedAt), Match: *d.PlayoffMatch}
	case StatusCompleted:
		if d.PlayoffMatch == nil || !d.PlayoffMatch.Result.Decisive() {
			return fmt.Errorf("tournament %s: completed without a decided playoff", d.ID)
		}
		st = Completed{StartedAt: at(d.StartedAt), Playoff: *d.PlayoffMatch, Winner: d.Winner, CompletedAt: at(d.FinishedAt)}
	case StatusCancelled:
		st = Cancelled{Reason: d.CancelReason, CancelledAt: at(d.FinishedAt)}
	default:
		return fmt.Errorf("tournament %s: unknown status %q", d.ID, d.Status)
	}
	*t = Tournament{
		ID:        d.ID,
		Config:    d.Config,
		Players:   d.Players,
		Matches:   d.Matches,
		State:     st,
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	return nil
}

// CreateRequest carries the configuration of a new tournament.
type CreateRequest struct {
	Name        string
	GameType    string
	TimeControl string
	MaxGames    int
	MaxPlayers  int
	Password    string
	CreatorID   string
	Admin       bool
}

// Pairing is the outcome of PairMatch. Found=false is the normal "no match"
// answer, not an error.
type Pairing struct {
	Found       bool   `json:"found"`
	MatchID     string `json:"matchId,omitempty"`
	GameID      string `json:"gameId,omitempty"`
	Opponent    string `json:"opponent,omitempty"`
	TimeControl string `json:"timeControl,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
}
