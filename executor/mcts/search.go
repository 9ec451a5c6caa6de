package mcts

import (
	"context"
	"fmt"
	"math"
)

// Tree is a single search tree stored as an arena of nodes. A tree is owned
// by one goroutine and discarded after its move is chosen.
type Tree[S Game[S]] struct {
	Config Config
	client Predictor[S]
	nodes  []Node[S]
}

// NewTree creates a tree holding only the unexpanded root.
func NewTree[S Game[S]](root S, client Predictor[S], cfg Config) *Tree[S] {
	t := &Tree[S]{
		Config: cfg,
		client: client,
		nodes:  make([]Node[S], 1, 64),
	}
	t.nodes[RootID] = Node[S]{
		State:     root,
		Expansion: NotExpanded,
		Action:    -1,
		Parent:    NoNode,
	}
	return t
}

// Node returns a mutable handle to the node with the given id.
func (t *Tree[S]) Node(id NodeID) *Node[S] {
	return &t.nodes[id]
}

// Root returns the root node.
func (t *Tree[S]) Root() *Node[S] {
	return &t.nodes[RootID]
}

// Len returns the number of nodes in the arena.
func (t *Tree[S]) Len() int {
	return len(t.nodes)
}

// Select descends from the root choosing the child with the highest PUCT
// score until it reaches a node that is not expanded or is terminal. It
// returns the path of ids from the root to that node.
func (t *Tree[S]) Select() []NodeID {
	id := RootID
	path := []NodeID{id}
	for t.nodes[id].Expansion == ExpandedInternal {
		node := &t.nodes[id]

		sumN := 0
		for _, c := range node.Children {
			sumN += t.nodes[c].VisitCount
		}
		sqrtSumN := float32(math.Sqrt(float64(sumN)))

		best := node.Children[0]
		bestScore := float32(math.Inf(-1))
		var bestPrior float32
		for _, c := range node.Children {
			child := &t.nodes[c]
			// U(s,a) = Q(s,a) + C_puct * P(s,a) * sqrt(sum(N)) / (1 + N)
			u := child.ActionValue + t.Config.Cpuct*child.PriorProb*sqrtSumN/(1+float32(child.VisitCount))
			// Equal scores go to the higher prior, then to the earlier child.
			// With no visits below the node every score is 0, so this is
			// what makes the first visit follow the prior.
			if u > bestScore || (u == bestScore && child.PriorProb > bestPrior) {
				bestScore = u
				bestPrior = child.PriorProb
				best = c
			}
		}
		id = best
		path = append(path, id)
	}
	return path
}

// Expand evaluates a leaf. A terminal leaf is marked ExpandedTerminal and its
// terminal value returned. Otherwise the predictor is called, the prior is
// restricted to legal moves and renormalized, one child is created per legal
// move and the predicted value is returned.
//
// Expanding a node twice is a programming error and panics.
func (t *Tree[S]) Expand(id NodeID) (float32, error) {
	leaf := &t.nodes[id]
	if leaf.Expansion != NotExpanded || len(leaf.Children) > 0 {
		panic(fmt.Sprintf("mcts: node %d already expanded (%v, %d children)", id, leaf.Expansion, len(leaf.Children)))
	}

	if leaf.State.IsTerminal() {
		leaf.Expansion = ExpandedTerminal
		return leaf.State.TerminalValue(), nil
	}

	prior, value, err := t.client.Predict(leaf.State)
	if err != nil {
		return 0, fmt.Errorf("predict node %d: %w", id, err)
	}
	if n := leaf.State.ActionSpace(); len(prior) != n {
		return 0, fmt.Errorf("predict node %d: prior has %d entries, want %d", id, len(prior), n)
	}

	actions := leaf.State.ValidActions()
	probs := maskedPrior(prior, actions)

	state := leaf.State
	children := make([]NodeID, 0, len(actions))
	for i, a := range actions {
		next, err := state.Play(a)
		if err != nil {
			panic(fmt.Sprintf("mcts: legal action %d rejected: %v", a, err))
		}
		childID := NodeID(len(t.nodes))
		// Appending may move the arena, so leaf is not used past this loop.
		t.nodes = append(t.nodes, Node[S]{
			PriorProb: probs[i],
			State:     next,
			Expansion: NotExpanded,
			Action:    a,
			Parent:    id,
		})
		children = append(children, childID)
	}

	leaf = &t.nodes[id]
	leaf.Children = children
	leaf.Expansion = ExpandedInternal
	return value, nil
}

// maskedPrior returns the prior of each legal action normalized to sum to 1.
// If the legal mass is zero or not finite the result is uniform.
func maskedPrior(prior []float32, actions []int) []float32 {
	out := make([]float32, len(actions))
	var sum float64
	for i, a := range actions {
		p := prior[a]
		if p < 0 {
			p = 0
		}
		out[i] = p
		sum += float64(p)
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		u := 1 / float32(len(actions))
		for i := range out {
			out[i] = u
		}
		return out
	}
	inv := float32(1 / sum)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Backup adds value to every node on path from the leaf back to the root,
// flipping its sign at each ply.
func (t *Tree[S]) Backup(path []NodeID, value float32) {
	for i := len(path) - 1; i >= 0; i-- {
		n := &t.nodes[path[i]]
		n.VisitCount++
		n.ValueSum += value
		n.ActionValue = n.ValueSum / float32(n.VisitCount)
		value = -value
	}
}

// Simulate runs one select, expand and backup iteration.
func (t *Tree[S]) Simulate() error {
	path := t.Select()
	leaf := path[len(path)-1]

	var value float32
	if t.nodes[leaf].Expansion == ExpandedTerminal {
		value = t.nodes[leaf].State.TerminalValue()
	} else {
		v, err := t.Expand(leaf)
		if err != nil {
			return err
		}
		value = v
	}
	t.Backup(path, value)
	return nil
}

// Search runs the MCTS simulations. The context is only checked between
// iterations.
func (t *Tree[S]) Search(ctx context.Context, simulations int) error {
	for i := 0; i < simulations; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if err := t.Simulate(); err != nil {
			return err
		}
	}
	return nil
}

// SelectBestChild returns the most visited root child and the visit count
// distribution over the full action space. Ties go to the first child in
// move order. With no visits at all the policy is uniform over the children.
func (t *Tree[S]) SelectBestChild() (NodeID, []float32, error) {
	root := &t.nodes[RootID]
	if len(root.Children) == 0 {
		return NoNode, nil, fmt.Errorf("root has no children (%v)", root.Expansion)
	}

	policy := make([]float32, root.State.ActionSpace())
	best := root.Children[0]
	bestN := -1
	total := 0
	for _, c := range root.Children {
		child := &t.nodes[c]
		total += child.VisitCount
		if child.VisitCount > bestN {
			bestN = child.VisitCount
			best = c
		}
	}
	for _, c := range root.Children {
		child := &t.nodes[c]
		if total == 0 {
			policy[child.Action] = 1 / float32(len(root.Children))
			continue
		}
		policy[child.Action] = float32(child.VisitCount) / float32(total)
	}
	return best, policy, nil
}

// ChildSummary describes one root child for logs and the live feed.
type ChildSummary struct {
	Action     int     `json:"move"`
	VisitCount int     `json:"n"`
	ValueSum   float32 `json:"value_sum"`
	Q          float32 `json:"q"`
	PriorProb  float32 `json:"p"`
}

// RootSummary lists the root children in move order.
func (t *Tree[S]) RootSummary() []ChildSummary {
	root := &t.nodes[RootID]
	out := make([]ChildSummary, 0, len(root.Children))
	for _, c := range root.Children {
		child := &t.nodes[c]
		out = append(out, ChildSummary{
			Action:     child.Action,
			VisitCount: child.VisitCount,
			ValueSum:   child.ValueSum,
			Q:          child.ActionValue,
			PriorProb:  child.PriorProb,
		})
	}
	return out
}

// MaxDepth returns the depth of the deepest node created so far.
func (t *Tree[S]) MaxDepth() int {
	depth := make([]int, len(t.nodes))
	maxDepth := 0
	// Children are always appended after their parent.
	for i := 1; i < len(t.nodes); i++ {
		depth[i] = depth[t.nodes[i].Parent] + 1
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}
	return maxDepth
}
