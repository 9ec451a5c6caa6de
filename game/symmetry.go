package game

import "fmt"

// Symmetry is an element of the dihedral group of the square board. The
// reflection (if any) is applied first, followed by Rotations quarter turns.
type Symmetry struct {
	Rotations uint8
	Reflect   bool
}

// Identity leaves every position in place.
var Identity = Symmetry{}

// Symmetries returns all 8 elements: the 4 rotations of the identity followed
// by the 4 rotations of the reflection. Identity is always first.
func Symmetries() []Symmetry {
	out := make([]Symmetry, 0, 8)
	for _, reflect := range []bool{false, true} {
		for r := uint8(0); r < 4; r++ {
			out = append(out, Symmetry{Rotations: r, Reflect: reflect})
		}
	}
	return out
}

// ID is a stable index of the symmetry in [0, 8), matching the order of
// Symmetries.
func (s Symmetry) ID() int {
	id := int(s.Rotations % 4)
	if s.Reflect {
		id += 4
	}
	return id
}

// SymmetryFromID is the inverse of ID.
func SymmetryFromID(id int) (Symmetry, error) {
	if id < 0 || id >= 8 {
		return Symmetry{}, fmt.Errorf("symmetry id %d out of range", id)
	}
	return Symmetry{Rotations: uint8(id % 4), Reflect: id >= 4}, nil
}

func (s Symmetry) String() string {
	if s.Reflect {
		return fmt.Sprintf("reflect+rot%d", s.Rotations%4*90)
	}
	return fmt.Sprintf("rot%d", s.Rotations%4*90)
}

// Apply maps a single position.
func (s Symmetry) Apply(p Position) Position {
	if s.Reflect {
		p = p.ReflectVertical()
	}
	for i := uint8(0); i < s.Rotations%4; i++ {
		p = p.Rotate90()
	}
	return p
}

// Compose returns the symmetry equivalent to applying s and then next.
func (s Symmetry) Compose(next Symmetry) Symmetry {
	// A reflection reverses the direction of any rotation applied before it.
	r := int(s.Rotations % 4)
	if next.Reflect {
		r = -r
	}
	r += int(next.Rotations % 4)
	return Symmetry{
		Rotations: uint8(((r % 4) + 4) % 4),
		Reflect:   s.Reflect != next.Reflect,
	}
}

// Inverse returns the symmetry that undoes s.
func (s Symmetry) Inverse() Symmetry {
	if s.Reflect {
		return Symmetry{Rotations: s.Rotations % 4, Reflect: true}
	}
	return Symmetry{Rotations: (4 - s.Rotations%4) % 4}
}

// Permutation maps each action index to its index after the transform.
func (s Symmetry) Permutation() [NumActions]int {
	var perm [NumActions]int
	for i := range perm {
		perm[i] = s.Apply(PositionFromIndex(i)).Index()
	}
	return perm
}

// ApplyPolicy moves each entry of a dense policy to its transformed action.
// The input must have NumActions entries.
func (s Symmetry) ApplyPolicy(policy []float32) []float32 {
	if len(policy) != NumActions {
		panic(fmt.Sprintf("policy has %d entries, want %d", len(policy), NumActions))
	}
	perm := s.Permutation()
	out := make([]float32, NumActions)
	for i, v := range policy {
		out[perm[i]] = v
	}
	return out
}
