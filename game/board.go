package game

import (
	"strings"
)

// Board is the full 9x9 board: nine sub-boards, a meta board recording the
// winner of each sub-board, and the last move played.
type Board struct {
	subs     [9]BitBoard
	meta     BitBoard
	lastMove Position
	hasLast  bool
}

// SubBoard returns the sub-board at the given meta square.
func (b Board) SubBoard(s Square) BitBoard {
	return b.subs[s.Flat()]
}

// MetaBoard returns the board of sub-board winners.
func (b Board) MetaBoard() BitBoard {
	return b.meta
}

// LastMove returns the most recent move, if any.
func (b Board) LastMove() (Position, bool) {
	return b.lastMove, b.hasLast
}

// Cell returns the owner of pos, if any.
func (b Board) Cell(pos Position) (Player, bool) {
	return b.subs[pos.Meta().Flat()].Cell(pos.Local())
}

// SetCell places player at pos. The owning sub-board is re-evaluated and its
// meta square marked once it has a winner. pos becomes the last move.
// SetCell does not check legality, use IsValidMove first.
func (b *Board) SetCell(pos Position, player Player) {
	meta := pos.Meta()
	sub := &b.subs[meta.Flat()]
	sub.Set(pos.Local(), player)
	if winner, ok := sub.Winner(); ok {
		b.meta.Set(meta, winner)
	}
	b.lastMove = pos
	b.hasLast = true
}

// ClearLastMove forgets the last move, lifting the send restriction.
func (b *Board) ClearLastMove() {
	b.lastMove = Position{}
	b.hasLast = false
}

// Winner returns the player who has won the meta board.
func (b Board) Winner() (Player, bool) {
	return b.meta.Winner()
}

// target returns the sub-board the next move is sent to. ok is false when the
// player may move in any open sub-board.
func (b Board) target() (Square, bool) {
	if !b.hasLast {
		return Square{}, false
	}
	t := b.lastMove.Local()
	if b.subs[t.Flat()].IsDecided() {
		return Square{}, false
	}
	return t, true
}

// IsValidMove reports whether pos is legal for the side to move.
func (b Board) IsValidMove(pos Position) bool {
	if !pos.IsValid() {
		return false
	}
	if _, won := b.Winner(); won {
		return false
	}
	meta := pos.Meta()
	if t, ok := b.target(); ok && meta != t {
		return false
	}
	return b.subs[meta.Flat()].Available()&(1<<pos.Local().Flat()) != 0
}

// ValidMoves lists every legal move, ordered by sub-board then by cell within
// the sub-board. It is empty once the game is won or drawn.
func (b Board) ValidMoves() []Position {
	if _, won := b.Winner(); won {
		return nil
	}
	if t, ok := b.target(); ok {
		return b.appendSubMoves(nil, t)
	}
	var moves []Position
	for i := uint8(0); i < 9; i++ {
		moves = b.appendSubMoves(moves, SquareFromFlat(i))
	}
	return moves
}

func (b Board) appendSubMoves(dst []Position, meta Square) []Position {
	for _, local := range b.subs[meta.Flat()].ValidMoves() {
		dst = append(dst, FromSquares(meta, local))
	}
	return dst
}

// IsDraw reports whether no open sub-board has an empty cell left.
// A won board is not a draw.
func (b Board) IsDraw() bool {
	if _, won := b.Winner(); won {
		return false
	}
	for i := range b.subs {
		if b.subs[i].Available() != 0 {
			return false
		}
	}
	return true
}

// Validate panics if any cell of the board is owned by both players.
func (b Board) Validate() {
	for i := range b.subs {
		b.subs[i].check()
	}
	b.meta.check()
}

// Transformed returns a copy of the board with every cell, the meta board and
// the last move mapped through sym.
func (b Board) Transformed(sym Symmetry) Board {
	var out Board
	for i := 0; i < NumActions; i++ {
		pos := PositionFromIndex(i)
		if p, ok := b.Cell(pos); ok {
			np := sym.Apply(pos)
			out.subs[np.Meta().Flat()].Set(np.Local(), p)
		}
	}
	// Sub-boards move as whole blocks, so the meta square of a sub-board is
	// wherever its center cell lands.
	for i := uint8(0); i < 9; i++ {
		s := SquareFromFlat(i)
		if p, ok := b.meta.Cell(s); ok {
			center := FromSquares(s, Square{X: 1, Y: 1})
			out.meta.Set(sym.Apply(center).Meta(), p)
		}
	}
	if b.hasLast {
		out.lastMove = sym.Apply(b.lastMove)
		out.hasLast = true
	}
	return out
}

// Rotated90 is Transformed with a single quarter turn.
func (b Board) Rotated90() Board {
	return b.Transformed(Symmetry{Rotations: 1})
}

// ReflectedVertical is Transformed with the x mirror.
func (b Board) ReflectedVertical() Board {
	return b.Transformed(Symmetry{Reflect: true})
}

// String renders the board as a grid with sub-board separators. The last move
// is wrapped in dashes.
func (b Board) String() string {
	var sb strings.Builder
	for y := uint8(0); y < BoardSize; y++ {
		for x := uint8(0); x < BoardSize; x++ {
			pos := Position{X: x, Y: y}
			mark := " "
			if b.hasLast && b.lastMove == pos {
				mark = "-"
			}
			cell := " "
			if p, ok := b.Cell(pos); ok {
				cell = p.String()
			}
			sb.WriteString(mark + cell + mark)
			if x < BoardSize-1 {
				if x%SubSize == SubSize-1 {
					sb.WriteString("‖")
				} else {
					sb.WriteString("|")
				}
			}
		}
		if y < BoardSize-1 {
			if y%SubSize == SubSize-1 {
				sb.WriteString("\n" + strings.Repeat("=", 35))
			} else {
				sb.WriteString("\n" + strings.Repeat("-", 35))
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
