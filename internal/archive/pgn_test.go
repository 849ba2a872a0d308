package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func TestBuildPGN(t *testing.T) {
	g := &gamestate.Game{
		ID:          "g1",
		PlayerOne:   "alice",
		PlayerTwo:   "bo\"b",
		PlayerAt:    chessdto.White,
		TimeControl: "10min",
		Status:      chessdto.StatusCompleted,
		Result:      chessdto.BlackWin,
		LossType:    chessdto.LossResignation,
		Moves: []chessdto.Move{
			{SAN: "e4"}, {SAN: "e5"}, {SAN: "Nf3"},
		},
		UpdatedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	pgn := BuildPGN(g)
	for _, want := range []string{
		`[Date "2026.05.04"]`,
		`[White "alice"]`,
		`[Black "bo'b"]`,
		`[Termination "resignation"]`,
		`[Result "0-1"]`,
		"1. e4 e5 2. Nf3 0-1",
	} {
		if !strings.Contains(pgn, want) {
			t.Fatalf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestBuildPGNTerminated(t *testing.T) {
	g := &gamestate.Game{PlayerOne: "a", PlayerTwo: "b", PlayerAt: chessdto.Black, Status: chessdto.StatusTerminated, TournamentID: "t1"}
	pgn := BuildPGN(g)
	if !strings.Contains(pgn, `[Result "*"]`) || !strings.Contains(pgn, `[Termination "abandoned"]`) || !strings.Contains(pgn, `[White "b"]`) {
		t.Fatalf("unexpected pgn:\n%s", pgn)
	}
	if !strings.Contains(pgn, "Arena tournament t1") {
		t.Fatalf("tournament event missing:\n%s", pgn)
	}
}
