package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/rules"
	"github.com/brensch/sigmazero/store"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 8\nsearch_steps: 50\nevaluator: random\n"), 0o644))

	cfg, tui, err := loadConfig([]string{"-config", path, "-search-steps", "7", "-cpuct", "2.5", "-tui"})
	require.NoError(t, err)
	require.True(t, tui)
	require.Equal(t, 8, cfg.Workers, "file value kept")
	require.Equal(t, 7, cfg.SearchSteps, "flag overrides file")
	require.Equal(t, float32(2.5), cfg.Cpuct)
	require.Equal(t, config.EvaluatorRandom, cfg.Evaluator)
	require.Equal(t, config.Default().OutDir, cfg.OutDir)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, _, err := loadConfig([]string{"-evaluator", "onnx"})
	require.ErrorContains(t, err, "model_path")

	_, _, err = loadConfig([]string{"-workers", "0"})
	require.Error(t, err)
}

func TestNewEvaluator(t *testing.T) {
	for _, kind := range []string{config.EvaluatorUniform, config.EvaluatorRandom} {
		cfg := config.Default()
		cfg.Evaluator = kind
		cfg.Seed = 3
		ev, err := newEvaluator(cfg)
		require.NoError(t, err, kind)
		prior, _, err := ev.newClient(0).Predict(rules.NewState())
		require.NoError(t, err)
		require.Len(t, prior, rules.ActionSpace)
		_, ok := ev.stats()
		require.False(t, ok)
		require.NoError(t, ev.close())
	}

	cfg := config.Default()
	cfg.Evaluator = config.EvaluatorMLP
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.json")
	_, err := newEvaluator(cfg)
	require.Error(t, err)
}

func TestParquetWriterLoop(t *testing.T) {
	dir := t.TempDir()
	in := make(chan gameWriteRequest)
	done := make(chan struct{})
	go func() {
		parquetWriterLoop(dir, 2, in)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	total := 0
	for i := 0; i < 3; i++ {
		rec, err := selfplay.PlayGame(ctx, &instrumentedClient{Predictor: uniform{}}, selfplay.Config{SearchSteps: 2, Cpuct: 1}, nil)
		require.NoError(t, err)
		rows := store.RowsFromGame(rec, false)
		total += len(rows)
		in <- gameWriteRequest{rows: rows}
	}
	close(in)
	<-done

	shards, err := store.ListShards(dir)
	require.NoError(t, err)
	require.Len(t, shards, 2, "one full flush and one final flush")

	read := 0
	for _, path := range shards {
		rows, err := store.ReadTrainingRows(path)
		require.NoError(t, err)
		read += len(rows)
	}
	require.Equal(t, total, read)
	require.Greater(t, totalInferences.Load(), int64(0))
}

type uniform struct{}

func (uniform) Predict(s *rules.State) ([]float32, float32, error) {
	prior := make([]float32, rules.ActionSpace)
	for i := range prior {
		prior[i] = 1
	}
	return prior, 0, nil
}
