package store

import (
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/game"
)

// RowsFromGame converts a finished self-play game into training rows, one per
// ply. With augment set, every ply is followed by its seven symmetric
// variants.
func RowsFromGame(rec *selfplay.GameRecord, augment bool) []TrainingRow {
	n := rec.Plies()
	capacity := n
	if augment {
		capacity *= len(game.Symmetries())
	}
	rows := make([]TrainingRow, 0, capacity)
	gameID := rec.GameID.String()
	result := rec.Result.String()

	for i := 0; i < n; i++ {
		state := rec.States[i]
		rows = append(rows, NewTrainingRow(gameID, i, game.Identity, state, rec.Moves[i], rec.Policies[i], rec.Values[i], result, SourceSelfPlay))
		if !augment {
			continue
		}
		move := game.PositionFromIndex(rec.Moves[i])
		for _, sym := range game.Symmetries()[1:] {
			rows = append(rows, NewTrainingRow(gameID, i, sym, state.Transformed(sym), sym.Apply(move).Index(),
				sym.ApplyPolicy(rec.Policies[i]), rec.Values[i], result, SourceAugmented))
		}
	}
	return rows
}
