package tournament

// openMatchFor returns the requester's unresulted match, if any.
func openMatchFor(t *Tournament, playerID string) *Match {
	for i := range t.Matches {
		if t.Matches[i].Open() && t.Matches[i].Involves(playerID) {
			return &t.Matches[i]
		}
	}
	return nil
}

// load counts finished plus open games, so a new pairing never lets
// gamesPlayed pass maxGames once the open ones are decided.
func load(t *Tournament, playerID string) int {
	n := 0
	if st := t.standing(playerID); st != nil {
		n = st.GamesPlayed
	}
	for _, m := range t.Matches {
		if m.Open() && m.Involves(playerID) {
			n++
		}
	}
	return n
}

// candidates lists eligible opponents in join order. An opponent already met
// (any match, decided or not) is never offered again.
func candidates(t *Tournament, playerID string) []string {
	if load(t, playerID) >= t.Config.MaxGames {
		return nil
	}
	met := make(map[string]bool)
	for _, m := range t.Matches {
		if m.Involves(playerID) {
			met[m.Opponent(playerID)] = true
		}
	}
	var out []string
	for _, p := range t.Players {
		if p.PlayerID == playerID || met[p.PlayerID] {
			continue
		}
		if load(t, p.PlayerID) >= t.Config.MaxGames {
			continue
		}
		out = append(out, p.PlayerID)
	}
	return out
}
