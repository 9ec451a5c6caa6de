// Command debuggame plays one self-play game, logs every move with its search
// summary and writes the game as a parquet shard for the viewer.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	evaluator := flag.String("evaluator", config.EvaluatorUniform, "Evaluator: uniform, random, mlp or onnx")
	modelPath := flag.String("model", filepath.Join("models", "uttt_net.onnx"), "Model path for mlp and onnx")
	outDir := flag.String("out-dir", "debug_games", "Output directory for the game shard")
	sims := flag.Int("sims", 100, "Number of MCTS simulations per move")
	cpuct := flag.Float64("cpuct", 1.0, "MCTS exploration constant")
	seed := flag.Uint64("seed", 1, "Seed for the random evaluator")
	trace := flag.Bool("trace", false, "Also log the encoded input planes of every position")
	frontendHost := flag.String("frontend", "http://localhost:5173", "Frontend base URL")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	client, err := newClient(*evaluator, *modelPath, *seed)
	if err != nil {
		log.Fatal().Err(err).Str("evaluator", *evaluator).Msg("failed to create evaluator")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := selfplay.Config{SearchSteps: *sims, Cpuct: float32(*cpuct), Verbose: true}
	log.Info().Int("sims", *sims).Float64("cpuct", *cpuct).Str("evaluator", *evaluator).Msg("generating debug game")

	rec, err := selfplay.PlayGame(ctx, client, cfg, func(info selfplay.StepInfo) {
		if *trace {
			selfplay.PrintBoard(info.Before)
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate debug game")
	}
	log.Info().Int("plies", rec.Plies()).Stringer("result", rec.Result).Msg("game complete\n" + rec.Final.String())

	path, err := store.WriteBatchParquetAtomic(*outDir, store.RowsFromGame(rec, false))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write debug game")
	}
	log.Info().Str("path", path).Msg("debug game written")

	fmt.Println()
	fmt.Printf("  Debug game ready! Open in browser:\n")
	fmt.Printf("  %s/games/%s\n", *frontendHost, rec.GameID)
	fmt.Println()
}

func newClient(kind, modelPath string, seed uint64) (selfplay.Predictor, error) {
	switch kind {
	case config.EvaluatorUniform:
		return inference.UniformClient{}, nil
	case config.EvaluatorRandom:
		return inference.NewRandomClient(rand.New(rand.NewPCG(seed, 0))), nil
	case config.EvaluatorMLP:
		return inference.LoadMLPClient(modelPath, inference.DefaultMLPConfig())
	case config.EvaluatorOnnx:
		return inference.NewOnnxClient(modelPath)
	}
	return nil, fmt.Errorf("unknown evaluator %q", kind)
}
