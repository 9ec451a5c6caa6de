// Command trainmlp fits the pure-Go MLP evaluator to self-play shards.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brensch/sigmazero/executor/convert"
	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	dataDir := flag.String("data-dir", "data/generated", "Directory with training shards")
	modelPath := flag.String("model", "models/uttt_mlp.json", "Network file to write")
	resume := flag.Bool("resume", false, "Continue training the network already at -model")
	iterations := flag.Int("iterations", 20, "Training epochs")
	maxRows := flag.Int("max-rows", 200_000, "Use at most this many rows, newest shards first")
	lr := flag.Float64("lr", inference.DefaultMLPConfig().LearningRate, "SGD learning rate")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg := inference.DefaultMLPConfig()
	cfg.LearningRate = *lr

	examples, err := loadExamples(*dataDir, *maxRows)
	if err != nil {
		log.Fatal().Err(err).Msg("load examples")
	}
	if len(examples) == 0 {
		log.Fatal().Str("data_dir", *dataDir).Msg("no training rows found")
	}

	client := inference.NewMLPClient(cfg)
	if *resume {
		if client, err = inference.LoadMLPClient(*modelPath, cfg); err != nil {
			log.Fatal().Err(err).Msg("load network")
		}
	}

	start := time.Now()
	if err := client.Train(examples, *iterations); err != nil {
		log.Fatal().Err(err).Msg("train")
	}
	if err := client.Save(*modelPath); err != nil {
		log.Fatal().Err(err).Msg("save network")
	}
	log.Info().Int("examples", len(examples)).Int("iterations", *iterations).Dur("took", time.Since(start)).
		Str("model", *modelPath).Msg("training done")
}

// loadExamples reads up to maxRows rows, newest shard first. Every row's
// stored network input is used as is, so augmented shards train directly.
func loadExamples(dir string, maxRows int) ([]inference.TrainingExample, error) {
	shards, err := store.ListShards(dir)
	if err != nil {
		return nil, err
	}
	var examples []inference.TrainingExample
	for i := len(shards) - 1; i >= 0 && len(examples) < maxRows; i-- {
		rows, err := store.ReadTrainingRows(shards[i])
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if len(examples) >= maxRows {
				break
			}
			if row.StateFormat != convert.StateFormat {
				return nil, fmt.Errorf("%s: unsupported state format %q", shards[i], row.StateFormat)
			}
			features, err := convert.BytesToFloat32(row.State)
			if err != nil {
				return nil, fmt.Errorf("%s ply %d: %w", row.GameID, row.Ply, err)
			}
			examples = append(examples, inference.TrainingExample{
				Features: features,
				Policy:   row.Policy,
				Value:    row.Value,
			})
		}
		log.Debug().Str("shard", shards[i]).Int("rows", len(rows)).Msg("loaded shard")
	}
	return examples, nil
}
