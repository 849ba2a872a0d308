package archive

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/gamestate"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

func pgnResult(g *gamestate.Game) string {
	switch g.Result {
	case chessdto.WhiteWin:
		return "1-0"
	case chessdto.BlackWin:
		return "0-1"
	case chessdto.Draw:
		return "1/2-1/2"
	}
	return "*"
}

// BuildPGN renders the SAN move list with the usual seven-tag roster subset.
func BuildPGN(g *gamestate.Game) string {
	if g == nil {
		return ""
	}
	result := pgnResult(g)
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}
	event := "Arena rated game"
	if !g.Rated() {
		event = "Arena tournament " + g.TournamentID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Event \"%s\"]\n", sanitizePGN(event))
	b.WriteString("[Site \"cheese-arena\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(g.WhiteID()))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(g.BlackID()))
	if strings.TrimSpace(g.TimeControl) != "" {
		fmt.Fprintf(&b, "[TimeControl \"%s\"]\n", sanitizePGN(g.TimeControl))
	}
	if g.LossType != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(string(g.LossType)))
	} else if g.Status == chessdto.StatusTerminated {
		b.WriteString("[Termination \"abandoned\"]\n")
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(g.Moves); i += 2 {
		fmt.Fprintf(&b, "%d. %s", i/2+1, strings.TrimSpace(g.Moves[i].SAN))
		if i+1 < len(g.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
