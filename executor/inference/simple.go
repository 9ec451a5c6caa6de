// Package inference provides policy/value evaluators for the search: simple
// baselines, a small pure Go network and an ONNX Runtime client for trained
// models.
package inference

import (
	"math/rand/v2"

	"github.com/brensch/sigmazero/rules"
)

// UniformClient returns a flat prior and a zero value. It is deterministic
// and safe for concurrent use.
type UniformClient struct{}

func (UniformClient) Predict(state *rules.State) ([]float32, float32, error) {
	return uniformPrior(), 0, nil
}

// RandomClient returns a flat prior and a small random value in
// [-0.1, 0.1). It owns its rng and must not be shared between goroutines.
type RandomClient struct {
	rng *rand.Rand
}

func NewRandomClient(rng *rand.Rand) *RandomClient {
	return &RandomClient{rng: rng}
}

func (c *RandomClient) Predict(state *rules.State) ([]float32, float32, error) {
	value := (c.rng.Float32() - 0.5) * 0.2
	return uniformPrior(), value, nil
}

func uniformPrior() []float32 {
	prior := make([]float32, PolicySize)
	p := 1 / float32(PolicySize)
	for i := range prior {
		prior[i] = p
	}
	return prior
}
