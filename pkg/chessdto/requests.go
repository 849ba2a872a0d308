package chessdto

// Request and response bodies of the HTTP API. The acting player comes from
// the X-Player-Id header, never from the body.

type MatchRequest struct {
	TimeControl string `json:"timeControl"`
}

type MatchInfo struct {
	GameID      string `json:"gameId"`
	TimeControl string `json:"timeControl"`
	Opponent    string `json:"opponent"`
	Color       Color  `json:"color"`
}

// MatchResponse.Status is "waiting" or "matched".
type MatchResponse struct {
	Status string     `json:"status"`
	Match  *MatchInfo `json:"match,omitempty"`
}

type CancelMatchResponse struct {
	Removed bool `json:"removed"`
}

type MoveRequest struct {
	Move    string `json:"move"`
	Version int64  `json:"version,omitempty"`
}

type ReportRequest struct {
	Reason string `json:"reason,omitempty"`
}

// GamePatchRequest mirrors the partial game update. Version, when set, must
// match the stored version.
type GamePatchRequest struct {
	Version    int64       `json:"version,omitempty"`
	FEN        *string     `json:"fen,omitempty"`
	Moves      []Move      `json:"moves,omitempty"`
	Status     *GameStatus `json:"status,omitempty"`
	Result     *GameResult `json:"result,omitempty"`
	LossType   *LossType   `json:"lossType,omitempty"`
	DurationMs *int64      `json:"durationMs,omitempty"`
}

type CreateTournamentRequest struct {
	Name        string `json:"name"`
	GameType    string `json:"gameType,omitempty"`
	TimeControl string `json:"timeControl"`
	MaxGames    int    `json:"maxGames"`
	MaxPlayers  int    `json:"maxPlayers"`
	Password    string `json:"password,omitempty"`
}

type JoinTournamentRequest struct {
	Password string `json:"password,omitempty"`
}

type TournamentResultRequest struct {
	MatchID string `json:"matchId"`
	Result  string `json:"result"`
}

type PlayoffRequest struct {
	PlayerOne string `json:"playerOne"`
	PlayerTwo string `json:"playerTwo"`
}

type PlayoffResultRequest struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
