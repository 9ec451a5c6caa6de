// Package game implements the Ultimate Tic-Tac-Toe board engine.
//
// The board is nine 3x3 sub-boards arranged in a 3x3 grid. Each sub-board is
// stored as a pair of bitmasks, and a tenth "meta" bitboard records which
// player has won each sub-board. Everything here is a value type so boards
// can be copied freely into search tree nodes.
package game

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// BoardSize is the width and height of the full board.
	BoardSize = 9
	// SubSize is the width and height of a sub-board.
	SubSize = 3
	// NumActions is the size of the dense action space, one per cell.
	NumActions = BoardSize * BoardSize
)

// Player identifies one of the two sides. X always moves first.
type Player uint8

const (
	X Player = 0
	O Player = 1
)

// Players lists both players in bitboard order.
var Players = [2]Player{X, O}

// Other returns the opponent.
func (p Player) Other() Player {
	return p ^ 1
}

func (p Player) String() string {
	if p == X {
		return "X"
	}
	return "O"
}

// Square is a coordinate on a 3x3 grid: a cell within a sub-board, or a
// sub-board within the meta board.
type Square struct {
	X uint8
	Y uint8
}

// Flat returns the bit offset of the square, x + 3*y.
func (s Square) Flat() uint8 {
	return s.X + SubSize*s.Y
}

// SquareFromFlat is the inverse of Flat.
func SquareFromFlat(i uint8) Square {
	return Square{X: i % SubSize, Y: i / SubSize}
}

// Position is a cell on the full 9x9 board. (0,0) is the top-left cell.
type Position struct {
	X uint8
	Y uint8
}

// NewPosition builds a position without validating it.
func NewPosition(x, y uint8) Position {
	return Position{X: x, Y: y}
}

// IsValid reports whether the position lies on the board.
func (p Position) IsValid() bool {
	return p.X < BoardSize && p.Y < BoardSize
}

// Index maps the position onto the dense action space [0, NumActions).
func (p Position) Index() int {
	return int(p.X) + BoardSize*int(p.Y)
}

// PositionFromIndex is the inverse of Index.
func PositionFromIndex(i int) Position {
	return Position{X: uint8(i % BoardSize), Y: uint8(i / BoardSize)}
}

// Meta is the sub-board that contains the position.
func (p Position) Meta() Square {
	return Square{X: p.X / SubSize, Y: p.Y / SubSize}
}

// Local is the position's cell within its sub-board. After a move, Local
// names the sub-board the opponent is sent to.
func (p Position) Local() Square {
	return Square{X: p.X % SubSize, Y: p.Y % SubSize}
}

// FromSquares joins a sub-board and a cell within it into a board position.
func FromSquares(meta, local Square) Position {
	return Position{X: local.X + SubSize*meta.X, Y: local.Y + SubSize*meta.Y}
}

// Rotate90 rotates the position a quarter turn: (x, y) -> (8-y, x).
func (p Position) Rotate90() Position {
	return Position{X: BoardSize - 1 - p.Y, Y: p.X}
}

// ReflectVertical mirrors the x coordinate, leaving y unchanged.
func (p Position) ReflectVertical() Position {
	return Position{X: BoardSize - 1 - p.X, Y: p.Y}
}

func (p Position) String() string {
	return fmt.Sprintf("[%d, %d]", p.X, p.Y)
}

// ParsePosition reads a position written as "x,y".
func ParsePosition(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Position{}, fmt.Errorf("move requires 2 coordinates, got %q", s)
	}
	x, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 8)
	if err != nil {
		return Position{}, fmt.Errorf("invalid x coordinate %q: %w", parts[0], err)
	}
	y, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 8)
	if err != nil {
		return Position{}, fmt.Errorf("invalid y coordinate %q: %w", parts[1], err)
	}
	p := Position{X: uint8(x), Y: uint8(y)}
	if !p.IsValid() {
		return Position{}, fmt.Errorf("position %v is off the board", p)
	}
	return p, nil
}
