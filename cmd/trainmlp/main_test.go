package main

import (
	"context"
	"testing"

	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/rules"
	"github.com/brensch/sigmazero/store"
	"github.com/stretchr/testify/require"
)

func TestLoadExamples(t *testing.T) {
	dir := t.TempDir()
	rec, err := selfplay.PlayGame(context.Background(), inference.UniformClient{}, selfplay.Config{SearchSteps: 2, Cpuct: 1}, nil)
	require.NoError(t, err)
	_, err = store.WriteBatchParquetAtomic(dir, store.RowsFromGame(rec, true))
	require.NoError(t, err)

	examples, err := loadExamples(dir, 1_000_000)
	require.NoError(t, err)
	require.Len(t, examples, rec.Plies()*8)

	want := rec.States[0].Features()
	require.Equal(t, want, examples[0].Features)
	require.Equal(t, rec.Values[0], examples[0].Value)
	require.Len(t, examples[0].Policy, rules.ActionSpace)

	limited, err := loadExamples(dir, 5)
	require.NoError(t, err)
	require.Len(t, limited, 5)

	client := inference.NewMLPClient(inference.DefaultMLPConfig())
	require.NoError(t, client.Train(limited, 2))
}
