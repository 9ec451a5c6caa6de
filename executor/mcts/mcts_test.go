package mcts

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/stretchr/testify/require"
)

// chainGame is a toy game: every non-terminal state has the same legal
// actions and the game ends after a fixed number of plies.
type chainGame struct {
	ply      int
	maxPly   int
	legal    []int
	space    int
	terminal float32
}

func (g chainGame) Play(action int) (chainGame, error) {
	for _, a := range g.legal {
		if a == action {
			g.ply++
			return g, nil
		}
	}
	return g, errors.New("illegal")
}

func (g chainGame) ValidActions() []int {
	if g.IsTerminal() {
		return nil
	}
	return g.legal
}

func (g chainGame) IsTerminal() bool       { return g.ply >= g.maxPly }
func (g chainGame) TerminalValue() float32 { return g.terminal }
func (g chainGame) ActionSpace() int       { return g.space }

// MockInferenceClient mocks the Predictor interface
type MockInferenceClient struct {
	prior []float32
	value float32
	err   error
	calls int
}

func (m *MockInferenceClient) Predict(state chainGame) ([]float32, float32, error) {
	m.calls++
	if m.err != nil {
		return nil, 0, m.err
	}
	if m.prior != nil {
		return m.prior, m.value, nil
	}
	prior := make([]float32, state.space)
	for i := range prior {
		prior[i] = 1
	}
	return prior, m.value, nil
}

func newChain(maxPly int) chainGame {
	return chainGame{maxPly: maxPly, legal: []int{0, 2, 3}, space: 4}
}

func uniformRules() Predictor[*rules.State] {
	return PredictorFunc[*rules.State](func(s *rules.State) ([]float32, float32, error) {
		prior := make([]float32, rules.ActionSpace)
		for i := range prior {
			prior[i] = 1
		}
		return prior, 0, nil
	})
}

func TestSearch(t *testing.T) {
	client := &MockInferenceClient{value: 0.5}
	tree := NewTree(newChain(5), client, DefaultConfig())

	simulations := 50
	require.NoError(t, tree.Search(context.Background(), simulations))

	root := tree.Root()
	require.Equal(t, simulations, root.VisitCount)
	require.Len(t, root.Children, 3)
	totalChildVisits := 0
	for _, c := range root.Children {
		totalChildVisits += tree.Node(c).VisitCount
	}
	require.Equal(t, simulations-1, totalChildVisits)
	d := tree.MaxDepth()
	require.GreaterOrEqual(t, d, 1)
	require.LessOrEqual(t, d, 5)
}

func TestExpandMasksAndNormalizesPrior(t *testing.T) {
	client := &MockInferenceClient{prior: []float32{2, 100, 1, 1}, value: -0.25}
	tree := NewTree(newChain(3), client, DefaultConfig())

	v, err := tree.Expand(RootID)
	require.NoError(t, err)
	require.Equal(t, float32(-0.25), v)
	root := tree.Root()
	require.Equal(t, ExpandedInternal, root.Expansion)

	want := map[int]float32{0: 0.5, 2: 0.25, 3: 0.25}
	var sum float32
	for _, c := range root.Children {
		n := tree.Node(c)
		require.Equal(t, want[n.Action], n.PriorProb, "action %d", n.Action)
		require.Equal(t, RootID, n.Parent)
		require.Equal(t, NotExpanded, n.Expansion)
		require.Zero(t, n.VisitCount)
		sum += n.PriorProb
	}
	require.InDelta(t, 1, sum, 1e-6)
}

func TestExpandZeroLegalMassFallsBackToUniform(t *testing.T) {
	for _, prior := range [][]float32{
		{0, 1, 0, 0},
		{float32(math.NaN()), 0, 1, 1},
	} {
		tree := NewTree(newChain(3), &MockInferenceClient{prior: prior}, DefaultConfig())
		_, err := tree.Expand(RootID)
		require.NoError(t, err)
		for _, c := range tree.Root().Children {
			require.InDelta(t, 1.0/3, tree.Node(c).PriorProb, 1e-6, "prior %v", prior)
		}
	}
}

func TestExpandErrors(t *testing.T) {
	boom := errors.New("boom")
	tree := NewTree(newChain(3), &MockInferenceClient{err: boom}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.ErrorIs(t, err, boom)
	require.Equal(t, NotExpanded, tree.Root().Expansion, "failed expansion must leave node unexpanded")

	tree = NewTree(newChain(3), &MockInferenceClient{prior: []float32{1, 1}}, DefaultConfig())
	_, err = tree.Expand(RootID)
	require.Error(t, err)
	require.Error(t, tree.Search(context.Background(), 1))
}

func TestExpandTwicePanics(t *testing.T) {
	tree := NewTree(newChain(3), &MockInferenceClient{}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.NoError(t, err)
	require.Panics(t, func() { tree.Expand(RootID) })
}

func TestExpandTerminal(t *testing.T) {
	g := newChain(0)
	g.terminal = 1
	client := &MockInferenceClient{}
	tree := NewTree(g, client, DefaultConfig())
	v, err := tree.Expand(RootID)
	require.NoError(t, err)
	require.Equal(t, float32(1), v)
	require.Equal(t, ExpandedTerminal, tree.Root().Expansion)
	require.Zero(t, client.calls)
	require.Empty(t, tree.Root().Children)

	// Terminal nodes are revisited without another predictor call.
	require.NoError(t, tree.Search(context.Background(), 3))
	require.Equal(t, 3, tree.Root().VisitCount)
	require.Equal(t, float32(3), tree.Root().ValueSum)
	require.Zero(t, client.calls)
}

func TestBackupAlternatesSign(t *testing.T) {
	tree := NewTree(newChain(3), &MockInferenceClient{}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.NoError(t, err)
	child := tree.Root().Children[1]
	_, err = tree.Expand(child)
	require.NoError(t, err)
	grandchild := tree.Node(child).Children[0]

	tree.Backup([]NodeID{RootID, child, grandchild}, 0.5)
	tree.Backup([]NodeID{RootID, child, grandchild}, 1)

	checks := []struct {
		id  NodeID
		n   int
		sum float32
	}{
		{grandchild, 2, 1.5},
		{child, 2, -1.5},
		{RootID, 2, 1.5},
	}
	for _, c := range checks {
		n := tree.Node(c.id)
		require.Equal(t, c.n, n.VisitCount, "node %d", c.id)
		require.Equal(t, c.sum, n.ValueSum, "node %d", c.id)
		require.Equal(t, c.sum/float32(c.n), n.ActionValue, "node %d", c.id)
	}
}

func TestSelectTiesGoToFirstChild(t *testing.T) {
	tree := NewTree(newChain(3), &MockInferenceClient{}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.NoError(t, err)
	path := tree.Select()
	require.Equal(t, []NodeID{RootID, tree.Root().Children[0]}, path)
}

func TestSelectUnvisitedFollowsPrior(t *testing.T) {
	// Legal actions are {0, 2, 3}; the masked prior is {1/7, 5/7, 1/7}.
	tree := NewTree(newChain(3), &MockInferenceClient{prior: []float32{1, 0, 5, 1}}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.NoError(t, err)

	path := tree.Select()
	require.Len(t, path, 2)
	require.Equal(t, 2, tree.Node(path[1]).Action)

	// Equal top priors keep child order.
	tree = NewTree(newChain(3), &MockInferenceClient{prior: []float32{1, 0, 3, 3}}, DefaultConfig())
	_, err = tree.Expand(RootID)
	require.NoError(t, err)
	path = tree.Select()
	require.Equal(t, 2, tree.Node(path[1]).Action)
}

func TestSearchFirstVisitGoesToHighestPrior(t *testing.T) {
	tree := NewTree(newChain(3), &MockInferenceClient{prior: []float32{1, 0, 1, 8}}, DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 2))
	for _, c := range tree.Root().Children {
		n := tree.Node(c)
		if n.Action == 3 {
			require.Equal(t, 1, n.VisitCount)
			continue
		}
		require.Zero(t, n.VisitCount, "action %d", n.Action)
	}
}

func TestSelectPrefersHigherScore(t *testing.T) {
	tree := NewTree(newChain(3), &MockInferenceClient{}, DefaultConfig())
	_, err := tree.Expand(RootID)
	require.NoError(t, err)
	kids := tree.Root().Children
	tree.Backup([]NodeID{RootID, kids[0]}, -1)
	tree.Backup([]NodeID{RootID, kids[2]}, 1)
	path := tree.Select()
	require.Equal(t, kids[2], path[1])
}

func TestSelectBestChild(t *testing.T) {
	tree := NewTree(newChain(4), &MockInferenceClient{}, DefaultConfig())
	_, _, err := tree.SelectBestChild()
	require.Error(t, err, "expected error before expansion")
	_, err = tree.Expand(RootID)
	require.NoError(t, err)

	id, policy, err := tree.SelectBestChild()
	require.NoError(t, err)
	require.Equal(t, tree.Root().Children[0], id, "zero visits: first child")
	require.Equal(t, policy[0], policy[2])
	require.Zero(t, policy[1])

	kids := tree.Root().Children
	tree.Node(kids[0]).VisitCount = 1
	tree.Node(kids[1]).VisitCount = 3
	tree.Node(kids[2]).VisitCount = 3
	id, policy, err = tree.SelectBestChild()
	require.NoError(t, err)
	require.Equal(t, kids[1], id, "first of tied max children")
	want := []float32{1.0 / 7, 0, 3.0 / 7, 3.0 / 7}
	require.InDeltaSlice(t, want, policy, 1e-6)
}

func TestSearchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tree := NewTree(newChain(3), &MockInferenceClient{}, DefaultConfig())
	require.ErrorIs(t, tree.Search(ctx, 10), context.Canceled)
	require.Zero(t, tree.Root().VisitCount, "no iteration should run after cancel")
}

// winInOne builds a position where X completes the top row of sub-boards by
// playing (8,0).
func winInOne(t *testing.T) *rules.State {
	t.Helper()
	cells := make([]byte, rules.ActionSpace)
	for _, x := range []uint8{0, 1, 2, 3, 4, 5, 6, 7} {
		cells[game.NewPosition(x, 0).Index()] = rules.CellX
	}
	for _, xy := range [][2]uint8{{0, 3}, {1, 4}, {5, 5}, {0, 6}, {4, 7}, {2, 3}} {
		cells[game.NewPosition(xy[0], xy[1]).Index()] = rules.CellO
	}
	s, err := rules.FromCells(cells, game.NewPosition(2, 3).Index())
	require.NoError(t, err)
	return s
}

func TestSearchFindsWinningMove(t *testing.T) {
	s := winInOne(t)
	require.Equal(t, game.X, s.Status().Player)
	tree := NewTree(s, uniformRules(), DefaultConfig())
	require.NoError(t, tree.Search(context.Background(), 200))
	id, policy, err := tree.SelectBestChild()
	require.NoError(t, err)
	win := game.NewPosition(8, 0).Index()
	require.Equal(t, win, tree.Node(id).Action, "summary %+v", tree.RootSummary())
	require.GreaterOrEqual(t, policy[win], float32(0.5))
	require.True(t, tree.Node(id).State.IsTerminal(), "winning child should be terminal")
}

func BenchmarkSearch(b *testing.B) {
	root := rules.NewState()
	client := uniformRules()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree := NewTree(root, client, DefaultConfig())
		if err := tree.Search(context.Background(), 800); err != nil {
			b.Fatalf("Search failed: %v", err)
		}
	}
}
