package game

import "math/rand/v2"

// PlayRandomGame plays uniformly random legal moves from an empty board until
// the game ends. It returns the final board and the winner, if any.
func PlayRandomGame(rng *rand.Rand) (Board, Player, bool) {
	var b Board
	player := X
	for {
		moves := b.ValidMoves()
		if len(moves) == 0 {
			return b, 0, false
		}
		b.SetCell(moves[rng.IntN(len(moves))], player)
		if w, ok := b.Winner(); ok {
			return b, w, true
		}
		player = player.Other()
	}
}
