package rules

import (
	"fmt"

	"github.com/brensch/sigmazero/game"
)

// Cell values used by Cells and FromCells.
const (
	CellEmpty byte = 0
	CellX     byte = 1
	CellO     byte = 2
)

// NoLastMove marks a state where nothing has been played.
const NoLastMove = -1

// Cells returns the board as one byte per action index and the last move
// index (NoLastMove on an empty board). This is the compact storage form.
func (s *State) Cells() ([]byte, int) {
	cells := make([]byte, game.NumActions)
	for i := range cells {
		p, ok := s.board.Cell(game.PositionFromIndex(i))
		switch {
		case !ok:
			cells[i] = CellEmpty
		case p == game.X:
			cells[i] = CellX
		default:
			cells[i] = CellO
		}
	}
	last, ok := s.board.LastMove()
	if !ok {
		return cells, NoLastMove
	}
	return cells, last.Index()
}

// FromCells rebuilds a state from its storage form. The meta board and status
// are recomputed, with the side to move being the opponent of the owner of
// the last move cell.
func FromCells(cells []byte, lastMove int) (*State, error) {
	if len(cells) != game.NumActions {
		return nil, fmt.Errorf("cells: got %d entries, want %d", len(cells), game.NumActions)
	}
	if lastMove < NoLastMove || lastMove >= game.NumActions {
		return nil, fmt.Errorf("last move %d out of range", lastMove)
	}

	var b game.Board
	var lastPlayer game.Player
	hasLast := false
	// Place every stone except the last move, then play the last move so the
	// board records it.
	for i, c := range cells {
		var p game.Player
		switch c {
		case CellEmpty:
			continue
		case CellX:
			p = game.X
		case CellO:
			p = game.O
		default:
			return nil, fmt.Errorf("cell %d: unknown value %d", i, c)
		}
		if i == lastMove {
			lastPlayer, hasLast = p, true
			continue
		}
		b.SetCell(game.PositionFromIndex(i), p)
	}
	if lastMove != NoLastMove && !hasLast {
		return nil, fmt.Errorf("last move %v is an empty cell", game.PositionFromIndex(lastMove))
	}

	s := &State{}
	toMove := game.X
	if hasLast {
		b.SetCell(game.PositionFromIndex(lastMove), lastPlayer)
		toMove = lastPlayer.Other()
	} else {
		b.ClearLastMove()
	}
	s.board = b
	s.status = s.computeStatus(toMove)
	return s, nil
}

