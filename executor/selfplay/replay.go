package selfplay

import (
	"fmt"

	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
)

// ReplayBuffer holds training examples as three parallel slices. The slices
// always have the same length.
type ReplayBuffer struct {
	States   []*rules.State
	Values   []float32
	Policies [][]float32

	// symmetry records which transform produced each entry.
	symmetry []game.Symmetry
}

// Example is one entry of the buffer.
type Example struct {
	State    *rules.State
	Value    float32
	Policy   []float32
	Symmetry game.Symmetry
}

func NewReplayBuffer() *ReplayBuffer {
	return &ReplayBuffer{}
}

// Append adds a batch of examples. Mismatched lengths are a programming
// error and panic.
func (b *ReplayBuffer) Append(states []*rules.State, values []float32, policies [][]float32) {
	if len(states) != len(values) || len(states) != len(policies) {
		panic(fmt.Sprintf("replay buffer: append of %d states, %d values, %d policies", len(states), len(values), len(policies)))
	}
	b.States = append(b.States, states...)
	b.Values = append(b.Values, values...)
	b.Policies = append(b.Policies, policies...)
	for range states {
		b.symmetry = append(b.symmetry, game.Identity)
	}
}

// AppendGame adds every ply of a finished game.
func (b *ReplayBuffer) AppendGame(rec *GameRecord) {
	b.Append(rec.States, rec.Values, rec.Policies)
}

func (b *ReplayBuffer) Len() int {
	return len(b.States)
}

// At returns entry i.
func (b *ReplayBuffer) At(i int) Example {
	return Example{
		State:    b.States[i],
		Value:    b.Values[i],
		Policy:   b.Policies[i],
		Symmetry: b.symmetry[i],
	}
}

// Augment appends the 7 non-identity symmetric copies of every entry present
// before the call, so each original position appears under all 8 board
// symmetries. Values are unchanged and policies are permuted with the board.
func (b *ReplayBuffer) Augment() {
	n := b.Len()
	syms := game.Symmetries()[1:]
	states := make([]*rules.State, 0, n*len(syms))
	values := make([]float32, 0, n*len(syms))
	policies := make([][]float32, 0, n*len(syms))
	applied := make([]game.Symmetry, 0, n*len(syms))
	for i := 0; i < n; i++ {
		base := b.symmetry[i]
		for _, sym := range syms {
			states = append(states, b.States[i].Transformed(sym))
			values = append(values, b.Values[i])
			policies = append(policies, sym.ApplyPolicy(b.Policies[i]))
			applied = append(applied, base.Compose(sym))
		}
	}
	b.States = append(b.States, states...)
	b.Values = append(b.Values, values...)
	b.Policies = append(b.Policies, policies...)
	b.symmetry = append(b.symmetry, applied...)
}
