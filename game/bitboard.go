package game

import (
	"fmt"
	"math/bits"
)

// winningLines are the 8 three-in-a-row masks: columns, rows, diagonals.
// Bit i is square (i%3, i/3).
var winningLines = [8]uint16{
	0b001_001_001, 0b010_010_010, 0b100_100_100, // columns
	0b000_000_111, 0b000_111_000, 0b111_000_000, // rows
	0b100_010_001, 0b001_010_100, // diagonals
}

const fullMask uint16 = 0b111_111_111

// BitBoard is a 3x3 board held as one bitmask per player.
// A bit must never be set for both players.
type BitBoard struct {
	bits [2]uint16
}

// Set claims the square for player, clearing any bit the opponent held there.
func (b *BitBoard) Set(s Square, player Player) {
	mask := uint16(1) << s.Flat()
	b.bits[player] |= mask
	b.bits[player.Other()] &^= mask
}

// Cell returns the owner of the square. It panics if both players own it.
func (b BitBoard) Cell(s Square) (Player, bool) {
	mask := uint16(1) << s.Flat()
	isX := b.bits[X]&mask != 0
	isO := b.bits[O]&mask != 0
	switch {
	case isX && isO:
		panic(fmt.Sprintf("square %+v set for both X and O (x=%09b o=%09b)", s, b.bits[X], b.bits[O]))
	case isX:
		return X, true
	case isO:
		return O, true
	}
	return 0, false
}

// Mask returns the raw bitmask for player.
func (b BitBoard) Mask(player Player) uint16 {
	return b.bits[player]
}

// Winner reports the player owning a full line. X is checked first.
func (b BitBoard) Winner() (Player, bool) {
	for _, p := range Players {
		for _, line := range winningLines {
			if b.bits[p]&line == line {
				return p, true
			}
		}
	}
	return 0, false
}

// Count returns the number of squares held by player.
func (b BitBoard) Count(player Player) int {
	return bits.OnesCount16(b.bits[player] & fullMask)
}

// IsFull reports whether all nine squares are taken.
func (b BitBoard) IsFull() bool {
	return (b.bits[X]|b.bits[O])&fullMask == fullMask
}

// IsDecided reports whether no more moves can be made here: the board is won
// or full.
func (b BitBoard) IsDecided() bool {
	if _, ok := b.Winner(); ok {
		return true
	}
	return b.IsFull()
}

// Available returns the mask of empty squares, or 0 once the board is won.
func (b BitBoard) Available() uint16 {
	if _, ok := b.Winner(); ok {
		return 0
	}
	return ^(b.bits[X] | b.bits[O]) & fullMask
}

// ValidMoves lists the playable squares in flat order.
func (b BitBoard) ValidMoves() []Square {
	avail := b.Available()
	moves := make([]Square, 0, bits.OnesCount16(avail))
	for avail != 0 {
		i := bits.TrailingZeros16(avail)
		moves = append(moves, SquareFromFlat(uint8(i)))
		avail &= avail - 1
	}
	return moves
}

// check panics if any square is owned by both players.
func (b BitBoard) check() {
	if both := b.bits[X] & b.bits[O]; both != 0 {
		panic(fmt.Sprintf("bitboard has squares set for both players: %09b", both))
	}
}
