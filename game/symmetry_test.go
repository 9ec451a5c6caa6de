package game

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotateFourTimesIsIdentity(t *testing.T) {
	for i := 0; i < NumActions; i++ {
		p := PositionFromIndex(i)
		require.Equal(t, p, p.Rotate90().Rotate90().Rotate90().Rotate90())
		require.Equal(t, p, p.ReflectVertical().ReflectVertical())
	}

	rng := rand.New(rand.NewPCG(3, 4))
	b, _, _ := PlayRandomGame(rng)
	r := b.Rotated90()
	r = r.Rotated90()
	r = r.Rotated90()
	r = r.Rotated90()
	require.Equal(t, b, r)
}

func TestSymmetriesFormGroup(t *testing.T) {
	syms := Symmetries()
	require.Len(t, syms, 8)
	require.Equal(t, Identity, syms[0])

	perms := make(map[[NumActions]int]Symmetry)
	for _, s := range syms {
		perms[s.Permutation()] = s
	}
	require.Len(t, perms, 8, "all elements act differently")

	for _, a := range syms {
		for _, b := range syms {
			c := a.Compose(b)
			require.Contains(t, syms, c)
			for i := 0; i < NumActions; i++ {
				p := PositionFromIndex(i)
				require.Equal(t, b.Apply(a.Apply(p)), c.Apply(p), "%v then %v", a, b)
			}
		}
		require.Equal(t, Identity, a.Compose(a.Inverse()))
		require.Equal(t, Identity, a.Inverse().Compose(a))
	}
}

func TestSymmetryIDRoundTrip(t *testing.T) {
	for i, s := range Symmetries() {
		require.Equal(t, i, s.ID())
		got, err := SymmetryFromID(i)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := SymmetryFromID(8)
	require.Error(t, err)
}

func TestTransformedBoardIsConsistent(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	for g := 0; g < 20; g++ {
		b, _, _ := PlayRandomGame(rng)
		for _, sym := range Symmetries() {
			tb := b.Transformed(sym)
			tb.Validate()
			for i := 0; i < NumActions; i++ {
				p := PositionFromIndex(i)
				want, wantOK := b.Cell(p)
				got, gotOK := tb.Cell(sym.Apply(p))
				require.Equal(t, wantOK, gotOK)
				require.Equal(t, want, got)
			}
			// The meta board must agree with the transformed sub-boards.
			for i := uint8(0); i < 9; i++ {
				s := SquareFromFlat(i)
				sub := tb.SubBoard(s)
				w, won := sub.Winner()
				mw, metaWon := tb.MetaBoard().Cell(s)
				require.Equal(t, won, metaWon)
				if won {
					require.Equal(t, w, mw)
				}
			}
			last, _ := b.LastMove()
			tlast, ok := tb.LastMove()
			require.True(t, ok)
			require.Equal(t, sym.Apply(last), tlast)

			back := tb.Transformed(sym.Inverse())
			require.Equal(t, b, back)
		}
	}
}

func TestTransformedValidMovesMatchPolicyPermutation(t *testing.T) {
	var b Board
	b.SetCell(NewPosition(1, 0), X)
	b.SetCell(NewPosition(3, 1), O)

	legal := make([]float32, NumActions)
	for _, m := range b.ValidMoves() {
		legal[m.Index()] = 1
	}
	for _, sym := range Symmetries() {
		tb := b.Transformed(sym)
		want := sym.ApplyPolicy(legal)
		got := make([]float32, NumActions)
		for _, m := range tb.ValidMoves() {
			got[m.Index()] = 1
		}
		require.Equal(t, want, got, "symmetry %v", sym)
	}
}

func TestRotatedPolicyMatchesReferenceFormula(t *testing.T) {
	raw := make([]float32, NumActions)
	for i := range raw {
		raw[i] = float32(i)
	}
	rot := Symmetry{Rotations: 1}.ApplyPolicy(raw)
	for x := 0; x < BoardSize; x++ {
		for y := 0; y < BoardSize; y++ {
			require.Equal(t, raw[y+BoardSize*(BoardSize-1-x)], rot[x+BoardSize*y])
		}
	}
	require.Panics(t, func() { Identity.ApplyPolicy(raw[:10]) })
}
