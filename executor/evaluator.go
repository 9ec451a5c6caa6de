package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/executor/selfplay"
)

// evaluator hands each worker a predictor. Shared models are built once;
// random clients get one generator per worker.
type evaluator struct {
	newClient func(worker int) selfplay.Predictor
	stats     func() (inference.RuntimeStats, bool)
	close     func() error
}

func newEvaluator(cfg config.Run) (*evaluator, error) {
	ev := &evaluator{
		stats: func() (inference.RuntimeStats, bool) { return inference.RuntimeStats{}, false },
		close: func() error { return nil },
	}

	switch cfg.Evaluator {
	case config.EvaluatorUniform:
		ev.newClient = func(int) selfplay.Predictor { return inference.UniformClient{} }

	case config.EvaluatorRandom:
		seed := cfg.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		ev.newClient = func(worker int) selfplay.Predictor {
			return inference.NewRandomClient(rand.New(rand.NewPCG(seed, uint64(worker))))
		}

	case config.EvaluatorMLP:
		client, err := inference.LoadMLPClient(cfg.ModelPath, inference.DefaultMLPConfig())
		if err != nil {
			return nil, err
		}
		ev.newClient = func(int) selfplay.Predictor { return client }

	case config.EvaluatorOnnx:
		onnxCfg := inference.OnnxClientConfig{
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.BatchTimeout,
			DisableCUDA:  cfg.DisableCUDA,
		}
		if cfg.Sessions <= 1 {
			client, err := inference.NewOnnxClientWithConfig(cfg.ModelPath, onnxCfg)
			if err != nil {
				return nil, fmt.Errorf("create onnx client: %w", err)
			}
			ev.newClient = func(int) selfplay.Predictor { return client }
			ev.stats = func() (inference.RuntimeStats, bool) { return client.Stats(), true }
			ev.close = client.Close
		} else {
			pool, err := inference.NewOnnxClientPoolWithConfig(cfg.ModelPath, cfg.Sessions, onnxCfg)
			if err != nil {
				return nil, fmt.Errorf("create onnx pool: %w", err)
			}
			ev.newClient = func(int) selfplay.Predictor { return pool }
			ev.stats = func() (inference.RuntimeStats, bool) { return pool.Stats(), true }
			ev.close = pool.Close
		}

	default:
		return nil, fmt.Errorf("unknown evaluator %q", cfg.Evaluator)
	}
	return ev, nil
}
