package rules

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/brensch/sigmazero/game"
	"github.com/stretchr/testify/require"
)

func mustTake(t *testing.T, s *State, x, y uint8) Status {
	t.Helper()
	st, err := s.TakeTurn(game.NewPosition(x, y))
	require.NoError(t, err)
	return st
}

func TestNewState(t *testing.T) {
	s := NewState()
	require.Equal(t, Status{Kind: InProgress, Player: game.X}, s.Status())
	require.Len(t, s.ValidActions(), ActionSpace)
	require.False(t, s.IsTerminal())
	require.Equal(t, game.NumActions, s.ActionSpace())
}

func TestTakeTurnAlternates(t *testing.T) {
	s := NewState()
	st := mustTake(t, s, 4, 4)
	require.Equal(t, Status{Kind: InProgress, Player: game.O}, st)
	require.Len(t, s.ValidActions(), 8)

	st = mustTake(t, s, 3, 3)
	require.Equal(t, Status{Kind: InProgress, Player: game.X}, st)
}

func TestTakeTurnInvalidMove(t *testing.T) {
	s := NewState()
	mustTake(t, s, 4, 4)

	tests := []struct {
		name string
		pos  game.Position
	}{
		{"occupied", game.NewPosition(4, 4)},
		{"wrong sub-board", game.NewPosition(0, 0)},
		{"off board", game.NewPosition(9, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := s.Clone()
			_, err := s.TakeTurn(tt.pos)
			require.ErrorIs(t, err, ErrInvalidMove)
			var ime *InvalidMoveError
			require.True(t, errors.As(err, &ime))
			require.Equal(t, tt.pos, ime.Position)
			require.Equal(t, before, s, "failed move must not mutate")
		})
	}
}

// playUntilWin plays random games until one ends with a winner.
func playUntilWin(t *testing.T) *State {
	t.Helper()
	rng := rand.New(rand.NewPCG(11, 12))
	for {
		s := NewState()
		for !s.IsTerminal() {
			actions := s.ValidActions()
			next, err := s.Play(actions[rng.IntN(len(actions))])
			require.NoError(t, err)
			s = next
		}
		if s.Status().Kind == Won {
			return s
		}
	}
}

func TestTerminalStates(t *testing.T) {
	s := playUntilWin(t)
	require.True(t, s.IsTerminal())
	require.Equal(t, float32(1), s.TerminalValue())
	require.Empty(t, s.ValidActions())

	_, err := s.TakeTurn(game.NewPosition(0, 0))
	require.ErrorIs(t, err, ErrGameOver)
	_, err = s.Play(0)
	require.ErrorIs(t, err, ErrGameOver)

	last, ok := s.Board().LastMove()
	require.True(t, ok)
	mover, _ := s.Board().Cell(last)
	require.Equal(t, s.Status().Player, mover, "only the player who just moved can win")
	require.Equal(t, mover.Other(), s.CurrentPlayer())
}

func TestStatusExclusiveOverRandomGames(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	for g := 0; g < 100; g++ {
		s := NewState()
		for {
			b := s.Board()
			_, won := b.Winner()
			switch s.Status().Kind {
			case InProgress:
				require.False(t, won)
				require.False(t, b.IsDraw())
				require.NotEmpty(t, s.ValidActions())
			case Won:
				require.True(t, won)
				require.Empty(t, s.ValidActions())
			case Draw:
				require.False(t, won)
				require.True(t, b.IsDraw())
				require.Empty(t, s.ValidActions())
				require.Equal(t, float32(0), s.TerminalValue())
			}
			if s.IsTerminal() {
				break
			}
			actions := s.ValidActions()
			next, err := s.Play(actions[rng.IntN(len(actions))])
			require.NoError(t, err)
			s = next
		}
	}
}

func TestPlayLeavesReceiverUnchanged(t *testing.T) {
	s := NewState()
	before := s.Clone()
	next, err := s.Play(game.NewPosition(4, 4).Index())
	require.NoError(t, err)
	require.Equal(t, before, s)
	require.Equal(t, game.O, next.Status().Player)

	_, err = s.Play(-1)
	require.ErrorIs(t, err, ErrInvalidMove)
	_, err = s.Play(ActionSpace)
	require.ErrorIs(t, err, ErrInvalidMove)
}

func TestFeatures(t *testing.T) {
	s := NewState()
	f := s.Features()
	require.Len(t, f, FeatureLen)
	for _, v := range f {
		require.Zero(t, v)
	}

	mustTake(t, s, 4, 4) // X
	mustTake(t, s, 3, 5) // O, now X to move
	f = s.Features()
	at := func(c, x, y int) float32 { return f[c*81+y*9+x] }
	require.Equal(t, float32(1), at(ChannelCurrent, 4, 4))
	require.Equal(t, float32(1), at(ChannelOpponent, 3, 5))
	require.Equal(t, float32(1), at(ChannelLastMove, 3, 5))
	require.Zero(t, at(ChannelOpponent, 4, 4))
	require.Zero(t, at(ChannelLastMove, 4, 4))

	var sum float32
	for _, v := range f {
		sum += v
	}
	require.Equal(t, float32(3), sum)

	dst := make([]float32, FeatureLen)
	for i := range dst {
		dst[i] = 9
	}
	s.EncodeFeatures(dst)
	require.Equal(t, f, dst, "encode overwrites stale data")
	require.Panics(t, func() { s.EncodeFeatures(make([]float32, 10)) })
}

func TestCellsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	s := NewState()
	for ply := 0; !s.IsTerminal(); ply++ {
		cells, last := s.Cells()
		back, err := FromCells(cells, last)
		require.NoError(t, err, "ply %d", ply)
		require.Equal(t, s.Status(), back.Status())
		require.Equal(t, s.Board(), back.Board())
		require.Equal(t, s.ValidActions(), back.ValidActions())

		actions := s.ValidActions()
		next, err := s.Play(actions[rng.IntN(len(actions))])
		require.NoError(t, err)
		s = next
	}

	_, err := FromCells(make([]byte, 5), NoLastMove)
	require.Error(t, err)
	_, err = FromCells(make([]byte, ActionSpace), 3)
	require.Error(t, err, "last move on an empty cell")
	bad := make([]byte, ActionSpace)
	bad[0] = 7
	_, err = FromCells(bad, NoLastMove)
	require.Error(t, err)
}

func TestTransformedKeepsStatusAndMapsMoves(t *testing.T) {
	s := NewState()
	mustTake(t, s, 1, 0)
	for _, sym := range game.Symmetries() {
		ts := s.Transformed(sym)
		require.Equal(t, s.Status(), ts.Status())
		got := make(map[int]bool)
		for _, a := range ts.ValidActions() {
			got[a] = true
		}
		perm := sym.Permutation()
		for _, a := range s.ValidActions() {
			require.True(t, got[perm[a]], "%v: action %d", sym, a)
		}
		require.Len(t, got, len(s.ValidActions()))
	}
}

func BenchmarkEncodeFeatures(b *testing.B) {
	s := NewState()
	s.TakeTurn(game.NewPosition(4, 4))
	dst := make([]float32, FeatureLen)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.EncodeFeatures(dst)
	}
}
