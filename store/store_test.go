package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brensch/sigmazero/executor/inference"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func playedGame(t *testing.T) *selfplay.GameRecord {
	t.Helper()
	rec, err := selfplay.PlayGame(context.Background(), inference.UniformClient{}, selfplay.Config{SearchSteps: 3, Cpuct: 1}, nil)
	require.NoError(t, err)
	return rec
}

func TestWriteAndReadShard(t *testing.T) {
	dir := t.TempDir()
	rec := playedGame(t)
	rows := RowsFromGame(rec, false)
	require.Len(t, rows, rec.Plies())

	path, err := WriteBatchParquetAtomic(dir, rows)
	require.NoError(t, err)
	require.Equal(t, dir, filepath.Dir(path))

	got, err := ReadTrainingRows(path)
	require.NoError(t, err)
	require.Len(t, got, len(rows))

	for i, row := range got {
		require.Equal(t, rec.GameID.String(), row.GameID)
		require.Equal(t, int32(i), row.Ply)
		require.Equal(t, SourceSelfPlay, row.Source)
		require.Equal(t, rec.Result.String(), row.Result)
		require.Equal(t, rec.Values[i], row.Value)
		require.Equal(t, rec.Policies[i], row.Policy)

		s, err := row.Decode()
		require.NoError(t, err)
		require.Equal(t, rec.States[i].Board(), s.Board(), "ply %d", i)
		require.Equal(t, s.CurrentPlayer().String(), row.Player)
	}
}

func TestListShardsSkipsTmp(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tmp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tmp", "partial.parquet"), []byte("x"), 0o644))

	rows := RowsFromGame(playedGame(t), false)
	first, err := WriteBatchParquetAtomic(dir, rows[:1])
	require.NoError(t, err)
	second, err := WriteBatchParquetAtomic(dir, rows[1:2])
	require.NoError(t, err)

	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Equal(t, []string{first, second}, shards)
}

func TestRowsFromGameAugmented(t *testing.T) {
	rec := playedGame(t)
	rows := RowsFromGame(rec, true)
	require.Len(t, rows, rec.Plies()*8)

	for i, row := range rows {
		ply := i / 8
		require.Equal(t, int32(ply), row.Ply)
		sym, err := game.SymmetryFromID(int(row.Symmetry))
		require.NoError(t, err)
		require.Equal(t, i%8 == 0, sym == game.Identity)

		s, err := row.Decode()
		require.NoError(t, err)
		require.Equal(t, rec.States[ply].Transformed(sym).Board(), s.Board())
		require.Contains(t, s.ValidActions(), int(row.Move))
		require.Equal(t, sym.ApplyPolicy(rec.Policies[ply]), row.Policy)
	}
}

func TestTransformedComposes(t *testing.T) {
	s := rules.NewState()
	_, err := s.TakeTurn(game.NewPosition(1, 0))
	require.NoError(t, err)
	move := game.NewPosition(4, 1).Index()
	policy := make([]float32, rules.ActionSpace)
	policy[move] = 1

	row := NewTrainingRow("g", 1, game.Identity, s, move, policy, 0.5, "draw", SourceSelfPlay)
	for _, a := range game.Symmetries() {
		for _, b := range game.Symmetries() {
			ra, err := row.Transformed(a)
			require.NoError(t, err)
			rab, err := ra.Transformed(b)
			require.NoError(t, err)

			want := a.Compose(b)
			require.Equal(t, int32(want.ID()), rab.Symmetry)
			require.Equal(t, s.Transformed(want).Board().String(), mustDecode(t, rab).Board().String())
			require.Equal(t, float32(1), rab.Policy[rab.Move])
			require.Equal(t, SourceAugmented, rab.Source)
			require.Equal(t, "draw", rab.Result)
		}
	}
}

func mustDecode(t *testing.T, row TrainingRow) *rules.State {
	t.Helper()
	s, err := row.Decode()
	require.NoError(t, err)
	return s
}

func TestTransformedRejectsBadRows(t *testing.T) {
	row := NewTrainingRow("g", 0, game.Identity, rules.NewState(), -1, []float32{1}, 0, "draw", SourceSelfPlay)
	_, err := row.Transformed(game.Identity)
	require.Error(t, err)

	row.Cells = row.Cells[:3]
	_, err = row.Decode()
	require.Error(t, err)
}

func TestShardWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShardWriter(dir, SourceSelfPlay)
	require.NoError(t, err)

	rows := RowsFromGame(playedGame(t), false)
	require.NoError(t, w.Write(rows))
	w.AddInput()
	require.Equal(t, len(rows), w.Rows())

	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Empty(t, shards, "unfinished shard is not listed")

	info, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, len(rows), info.Rows)
	require.Equal(t, 1, info.Inputs)
	require.True(t, strings.HasSuffix(info.Path, "_"+SourceSelfPlay+".parquet"), info.Path)

	got, err := ReadTrainingRows(info.Path)
	require.NoError(t, err)
	require.Len(t, got, len(rows))

	meta, err := ShardMetadata(info.Path)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, meta[MetaSchema])
	require.Equal(t, SourceSelfPlay, meta[MetaSource])
	require.Equal(t, "1", meta[MetaInputs])
	require.NoError(t, CheckSchema(info.Path))

	require.ErrorIs(t, w.Write(rows), errWriterClosed)
	_, err = w.Finalize()
	require.ErrorIs(t, err, errWriterClosed)
}

func TestShardWriterRejectsForeignRows(t *testing.T) {
	rec := playedGame(t)
	plain := RowsFromGame(rec, false)
	augmented := RowsFromGame(rec, true)

	w, err := NewShardWriter(t.TempDir(), SourceSelfPlay)
	require.NoError(t, err)
	require.NoError(t, w.Write(plain))
	require.Error(t, w.Write(augmented))
	require.Equal(t, len(plain), w.Rows(), "a rejected batch writes nothing")

	// Augmented shards carry the identity rows they were derived from.
	w, err = NewShardWriter(t.TempDir(), SourceAugmented)
	require.NoError(t, err)
	require.NoError(t, w.Write(augmented))
	require.Error(t, w.Write([]TrainingRow{{Source: SourceSelfPlay, Symmetry: 3}}))
}

func TestShardWriterEmptyFinalize(t *testing.T) {
	dir := t.TempDir()
	w, err := NewShardWriter(dir, SourceAugmented)
	require.NoError(t, err)
	info, err := w.Finalize()
	require.NoError(t, err)
	require.Zero(t, info)

	tmp, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	require.Empty(t, tmp)
	shards, err := ListShards(dir)
	require.NoError(t, err)
	require.Empty(t, shards)
}

func TestWriteBatchMetadata(t *testing.T) {
	path, err := WriteBatchParquetAtomic(t.TempDir(), RowsFromGame(playedGame(t), false))
	require.NoError(t, err)
	meta, err := ShardMetadata(path)
	require.NoError(t, err)
	require.Equal(t, SourceSelfPlay, meta[MetaSource])

	other := filepath.Join(t.TempDir(), "other.parquet")
	require.NoError(t, parquet.WriteFile(other, []struct {
		A int32 `parquet:"a"`
	}{{1}}))
	require.Error(t, CheckSchema(other))
}

func TestProcessedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "processed.log")
	l, err := OpenProcessedLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Add("a"))
	require.NoError(t, l.AddMany([]string{"b", "a", "c"}))
	require.Equal(t, 3, l.Count())
	require.Error(t, l.Add("bad\nkey"))
	require.NoError(t, l.Close())

	l, err = OpenProcessedLog(path)
	require.NoError(t, err)
	defer l.Close()
	require.True(t, l.Has("a"))
	require.True(t, l.Has("c"))
	require.False(t, l.Has("d"))
	require.Equal(t, 3, l.Count())
}
