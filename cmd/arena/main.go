// Command arena plays two evaluators against each other and reports agent
// one's score.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	agent1 := flag.String("agent1", "uniform", "First agent (plays X): uniform, random, mlp:<path> or onnx:<path>")
	agent2 := flag.String("agent2", "random", "Second agent (plays O)")
	games := flag.Int("games", 10, "Number of games")
	sims := flag.Int("sims", 100, "Search iterations per move")
	seed := flag.Uint64("seed", 1, "Seed for random agents")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	a1, err := parseAgent(*agent1, *seed)
	if err != nil {
		log.Fatal().Err(err).Str("agent", *agent1).Msg("agent1")
	}
	a2, err := parseAgent(*agent2, *seed+1)
	if err != nil {
		log.Fatal().Err(err).Str("agent", *agent2).Msg("agent2")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, err := selfplay.Evaluate(ctx, a1, a2, *games, *sims)
	if err != nil {
		log.Fatal().Err(err).Msg("arena failed")
	}
	log.Info().
		Str("agent1", *agent1).
		Str("agent2", *agent2).
		Int("agent1_wins", res.Agent1Wins).
		Int("agent2_wins", res.Agent2Wins).
		Int("draws", res.Draws).
		Float64("score", res.Score()).
		Dur("took", time.Since(start)).
		Msg("arena finished")
}

// parseAgent turns "kind" or "kind:path" into a predictor.
func parseAgent(spec string, seed uint64) (selfplay.Predictor, error) {
	kind, path, _ := strings.Cut(spec, ":")
	switch kind {
	case config.EvaluatorUniform:
		return inference.UniformClient{}, nil
	case config.EvaluatorRandom:
		return inference.NewRandomClient(rand.New(rand.NewPCG(seed, 0))), nil
	case config.EvaluatorMLP:
		return inference.LoadMLPClient(path, inference.DefaultMLPConfig())
	case config.EvaluatorOnnx:
		return inference.NewOnnxClient(path)
	}
	return nil, fmt.Errorf("unknown agent %q", spec)
}
