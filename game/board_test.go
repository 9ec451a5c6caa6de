package game

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionIndexRoundTrip(t *testing.T) {
	for i := 0; i < NumActions; i++ {
		p := PositionFromIndex(i)
		require.True(t, p.IsValid())
		require.Equal(t, i, p.Index())
		require.Equal(t, p, FromSquares(p.Meta(), p.Local()))
	}
	require.False(t, NewPosition(9, 0).IsValid())
	require.False(t, NewPosition(0, 9).IsValid())
}

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("4, 7")
	require.NoError(t, err)
	require.Equal(t, NewPosition(4, 7), p)

	for _, bad := range []string{"", "1", "1,2,3", "a,1", "9,0", "-1,2"} {
		_, err := ParsePosition(bad)
		require.Error(t, err, "input %q", bad)
	}
}

func TestBitBoardWinner(t *testing.T) {
	for _, line := range winningLines {
		var b BitBoard
		for i := uint8(0); i < 9; i++ {
			if line&(1<<i) != 0 {
				b.Set(SquareFromFlat(i), O)
			}
		}
		w, ok := b.Winner()
		require.True(t, ok, "line %09b", line)
		require.Equal(t, O, w)
		require.Empty(t, b.ValidMoves(), "won board has no moves")
		require.True(t, b.IsDecided())
	}

	var b BitBoard
	b.Set(Square{0, 0}, X)
	b.Set(Square{1, 0}, X)
	b.Set(Square{2, 1}, X)
	_, ok := b.Winner()
	require.False(t, ok)
	require.Len(t, b.ValidMoves(), 6)
}

func TestBitBoardSetClearsOpponent(t *testing.T) {
	var b BitBoard
	s := Square{1, 2}
	b.Set(s, X)
	b.Set(s, O)
	p, ok := b.Cell(s)
	require.True(t, ok)
	require.Equal(t, O, p)
	require.Equal(t, 0, b.Count(X))
}

func TestBitBoardCellPanicsOnDoubleOwnership(t *testing.T) {
	b := BitBoard{bits: [2]uint16{1, 1}}
	require.Panics(t, func() { b.Cell(Square{0, 0}) })
	require.Panics(t, b.check)
}

func TestFirstMoveAnywhere(t *testing.T) {
	var b Board
	require.Len(t, b.ValidMoves(), NumActions)
	for i := 0; i < NumActions; i++ {
		require.True(t, b.IsValidMove(PositionFromIndex(i)))
	}
	require.False(t, b.IsValidMove(NewPosition(9, 9)))
}

func TestCenterMoveSendsToCenterBoard(t *testing.T) {
	var b Board
	b.SetCell(NewPosition(4, 4), X)

	moves := b.ValidMoves()
	require.Len(t, moves, 8)
	for _, m := range moves {
		require.Equal(t, Square{1, 1}, m.Meta())
		require.NotEqual(t, NewPosition(4, 4), m)
		require.True(t, b.IsValidMove(m))
	}
	require.False(t, b.IsValidMove(NewPosition(0, 0)))
	require.False(t, b.IsValidMove(NewPosition(4, 4)))
}

func TestSentToDecidedBoardFreesMove(t *testing.T) {
	var b Board
	// X wins the top-left sub-board.
	b.SetCell(NewPosition(0, 0), X)
	b.SetCell(NewPosition(1, 0), X)
	b.SetCell(NewPosition(2, 0), X)
	w, ok := b.MetaBoard().Cell(Square{0, 0})
	require.True(t, ok)
	require.Equal(t, X, w)

	// A move at local (0,0) sends the opponent to the won top-left board.
	b.SetCell(NewPosition(3, 3), O)
	moves := b.ValidMoves()
	require.Len(t, moves, NumActions-9-1)
	for _, m := range moves {
		require.NotEqual(t, Square{0, 0}, m.Meta(), "won sub-board is closed")
		require.True(t, b.IsValidMove(m))
	}
	require.False(t, b.IsValidMove(NewPosition(0, 1)))
	require.False(t, b.IsValidMove(NewPosition(3, 3)))
}

func TestSentToFullBoardFreesMove(t *testing.T) {
	var b Board
	// Fill the top-left sub-board without a line:
	//   X O X
	//   X O O
	//   O X X
	drawn := []struct {
		x, y   uint8
		player Player
	}{
		{0, 0, X}, {1, 0, O}, {2, 0, X},
		{0, 1, X}, {1, 1, O}, {2, 1, O},
		{0, 2, O}, {1, 2, X}, {2, 2, X},
	}
	for _, c := range drawn {
		b.SetCell(NewPosition(c.x, c.y), c.player)
	}
	sub := b.SubBoard(Square{0, 0})
	require.True(t, sub.IsFull())
	_, won := sub.Winner()
	require.False(t, won)
	_, ok := b.MetaBoard().Cell(Square{0, 0})
	require.False(t, ok, "a drawn sub-board has no meta owner")

	// Local (0,0) sends the opponent to the full top-left board.
	b.SetCell(NewPosition(3, 3), O)
	moves := b.ValidMoves()
	require.Len(t, moves, NumActions-9-1)
	for _, m := range moves {
		require.NotEqual(t, Square{0, 0}, m.Meta())
	}
	require.True(t, b.IsValidMove(NewPosition(8, 8)))
	require.True(t, b.IsValidMove(NewPosition(4, 3)))
	require.False(t, b.IsDraw())
}

func TestValidMovesOrder(t *testing.T) {
	var b Board
	moves := b.ValidMoves()
	require.Equal(t, NewPosition(0, 0), moves[0])
	require.Equal(t, NewPosition(1, 0), moves[1])
	require.Equal(t, NewPosition(0, 1), moves[3])
	require.Equal(t, NewPosition(3, 0), moves[9], "second sub-board follows the first")
}

func TestRandomGamesInvariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for g := 0; g < 200; g++ {
		b, winner, won := PlayRandomGame(rng)
		b.Validate()
		require.Empty(t, b.ValidMoves())
		if won {
			w, ok := b.Winner()
			require.True(t, ok)
			require.Equal(t, winner, w)
			require.False(t, b.IsDraw())
		} else {
			require.True(t, b.IsDraw())
		}
	}
}

func TestBoardString(t *testing.T) {
	var b Board
	b.SetCell(NewPosition(0, 0), X)
	s := b.String()
	require.Contains(t, s, "-X-")
	require.Contains(t, s, "‖")
	require.Contains(t, s, "===")
}

func BenchmarkRandomGame(b *testing.B) {
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < b.N; i++ {
		PlayRandomGame(rng)
	}
}
