package main

import (
	"path/filepath"
	"testing"

	"github.com/brensch/sigmazero/executor/inference"
	"github.com/stretchr/testify/require"
)

func TestParseAgent(t *testing.T) {
	a, err := parseAgent("uniform", 0)
	require.NoError(t, err)
	require.IsType(t, inference.UniformClient{}, a)

	a, err = parseAgent("random", 7)
	require.NoError(t, err)
	require.IsType(t, &inference.RandomClient{}, a)

	path := filepath.Join(t.TempDir(), "net.json")
	require.NoError(t, inference.NewMLPClient(inference.DefaultMLPConfig()).Save(path))
	a, err = parseAgent("mlp:"+path, 0)
	require.NoError(t, err)
	require.IsType(t, &inference.MLPClient{}, a)

	_, err = parseAgent("oracle", 0)
	require.Error(t, err)
	_, err = parseAgent("mlp:"+filepath.Join(t.TempDir(), "missing"), 0)
	require.Error(t, err)
}
