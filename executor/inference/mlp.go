package inference

import (
	"fmt"
	"os"
	"sync"

	"github.com/brensch/sigmazero/rules"
	deep "github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
)

// MLPConfig describes the hidden layers of an MLPClient network.
type MLPConfig struct {
	HiddenLayers []int
	LearningRate float64
}

func DefaultMLPConfig() MLPConfig {
	return MLPConfig{
		HiddenLayers: []int{128, 64},
		LearningRate: 0.01,
	}
}

// TrainingExample is one labelled position for MLPClient.Train. Value is from
// the perspective of the player to move in the encoded position.
type TrainingExample struct {
	Features []float32
	Policy   []float32
	Value    float32
}

// MLPClient is a small feed-forward policy/value network that runs in pure
// Go. It reads the 243 input features and produces 82 outputs: one
// unnormalized prior per action followed by the value for the side to move.
type MLPClient struct {
	mu      sync.Mutex
	network *deep.Neural
	cfg     MLPConfig
	input   []float64
}

const mlpOutputs = PolicySize + 1

func NewMLPClient(cfg MLPConfig) *MLPClient {
	layout := append(append([]int{}, cfg.HiddenLayers...), mlpOutputs)
	network := deep.NewNeural(&deep.Config{
		Inputs:     InputSize,
		Layout:     layout,
		Activation: deep.ActivationReLU,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewNormal(0.0, 0.1),
		Bias:       true,
	})
	return &MLPClient{network: network, cfg: cfg, input: make([]float64, InputSize)}
}

// LoadMLPClient reads a network written by Save.
func LoadMLPClient(path string, cfg MLPConfig) (*MLPClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mlp model: %w", err)
	}
	network, err := deep.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode mlp model %s: %w", path, err)
	}
	if network.Config.Inputs != InputSize {
		return nil, fmt.Errorf("mlp model %s has %d inputs, want %d", path, network.Config.Inputs, InputSize)
	}
	if l := network.Config.Layout; len(l) == 0 || l[len(l)-1] != mlpOutputs {
		return nil, fmt.Errorf("mlp model %s has layout %v, want %d outputs", path, l, mlpOutputs)
	}
	return &MLPClient{network: network, cfg: cfg, input: make([]float64, InputSize)}, nil
}

// Save writes the network weights as JSON.
func (c *MLPClient) Save(path string) error {
	c.mu.Lock()
	data, err := c.network.Marshal()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode mlp model: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Predict implements the search evaluator. Negative outputs are clipped from
// the prior and the value is clamped to [-1, 1] then negated so it scores
// the player who moved into state.
func (c *MLPClient) Predict(state *rules.State) ([]float32, float32, error) {
	features := state.Features()

	c.mu.Lock()
	for i, f := range features {
		c.input[i] = float64(f)
	}
	out := c.network.Predict(c.input)
	c.mu.Unlock()

	if len(out) != mlpOutputs {
		return nil, 0, fmt.Errorf("mlp produced %d outputs, want %d", len(out), mlpOutputs)
	}
	prior := make([]float32, PolicySize)
	for i := range prior {
		if v := out[i]; v > 0 {
			prior[i] = float32(v)
		}
	}
	value := float32(out[PolicySize])
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}
	return prior, -value, nil
}

// Train fits the network to the examples with SGD.
func (c *MLPClient) Train(examples []TrainingExample, iterations int) error {
	data := make(training.Examples, 0, len(examples))
	for i, ex := range examples {
		if len(ex.Features) != InputSize || len(ex.Policy) != PolicySize {
			return fmt.Errorf("example %d: got %d features and %d policy entries", i, len(ex.Features), len(ex.Policy))
		}
		in := make([]float64, InputSize)
		for j, f := range ex.Features {
			in[j] = float64(f)
		}
		resp := make([]float64, mlpOutputs)
		for j, p := range ex.Policy {
			resp[j] = float64(p)
		}
		resp[PolicySize] = float64(ex.Value)
		data = append(data, training.Example{Input: in, Response: resp})
	}
	if len(data) == 0 {
		return nil
	}
	data.Shuffle()

	c.mu.Lock()
	defer c.mu.Unlock()
	trainer := training.NewTrainer(training.NewSGD(c.cfg.LearningRate, 0.5, 0.0, false), 1)
	trainer.Train(c.network, data, nil, iterations)
	return nil
}
