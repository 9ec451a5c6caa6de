package mcts

// Game is the capability a state must provide to be searched. Play must not
// modify the receiver.
type Game[S any] interface {
	Play(action int) (S, error)
	ValidActions() []int
	IsTerminal() bool
	// TerminalValue is the outcome for the player who moved into a
	// terminal state.
	TerminalValue() float32
	ActionSpace() int
}

// Predictor defines the interface for inference. The prior covers the whole
// action space and need not be normalized. The value is from the perspective
// of the player who moved into state.
type Predictor[S any] interface {
	Predict(state S) ([]float32, float32, error)
}

// PredictorFunc adapts a plain function to Predictor.
type PredictorFunc[S any] func(state S) ([]float32, float32, error)

func (f PredictorFunc[S]) Predict(state S) ([]float32, float32, error) {
	return f(state)
}

// NodeID addresses a node in the tree arena. The root is always 0.
type NodeID int32

const (
	RootID NodeID = 0
	NoNode NodeID = -1
)

// Expansion is the lifecycle stage of a node.
type Expansion uint8

const (
	NotExpanded Expansion = iota
	ExpandedInternal
	ExpandedTerminal
)

func (e Expansion) String() string {
	switch e {
	case NotExpanded:
		return "not_expanded"
	case ExpandedInternal:
		return "expanded"
	case ExpandedTerminal:
		return "terminal"
	}
	return "unknown"
}

// Node represents a state in the MCTS tree
type Node[S any] struct {
	VisitCount  int
	ValueSum    float32
	ActionValue float32
	PriorProb   float32
	State       S
	Expansion   Expansion
	// Action is the move that led here, -1 at the root.
	Action   int
	Parent   NodeID
	Children []NodeID
}

// Config holds MCTS configuration
type Config struct {
	Cpuct float32
}

// DefaultConfig uses an exploration constant of 1.
func DefaultConfig() Config {
	return Config{Cpuct: 1}
}
