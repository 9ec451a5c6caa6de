// Package store persists self-play training examples as Parquet shards.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/brensch/sigmazero/executor/convert"
	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SchemaVersion is written into every shard's key/value metadata.
const SchemaVersion = "uttt_training_row_v1"

// Sources of training rows.
const (
	SourceSelfPlay  = "selfplay"
	SourceAugmented = "augmented"
)

// TrainingRow is a single training sample.
//
// Cells and LastMove are the compact, model-agnostic board (see
// rules.FromCells). State is the network input encoded as StateFormat, so
// trainers can read it without knowing the game. Policy is the visit
// distribution over all 81 actions and Value the final outcome for Player,
// the side to move.
type TrainingRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Ply         int32     `parquet:"ply"`
	Symmetry    int32     `parquet:"symmetry"`
	Player      string    `parquet:"player,dict"`
	Cells       []byte    `parquet:"cells"`
	LastMove    int32     `parquet:"last_move"`
	Move        int32     `parquet:"move"`
	StateFormat string    `parquet:"state_format,dict"`
	State       []byte    `parquet:"state"`
	Policy      []float32 `parquet:"policy"`
	Value       float32   `parquet:"value"`
	Result      string    `parquet:"result,dict"`
	Source      string    `parquet:"source,dict"`
}

// NewTrainingRow encodes one position. move is the action played from the
// position, or -1 if unknown. result describes how the game ended.
func NewTrainingRow(gameID string, ply int, sym game.Symmetry, state *rules.State, move int, policy []float32, value float32, result string, source string) TrainingRow {
	cells, last := state.Cells()
	statePtr := convert.StateToBytes(state)
	stateBytes := append([]byte(nil), *statePtr...)
	convert.PutBuffer(statePtr)

	return TrainingRow{
		GameID:      gameID,
		Ply:         int32(ply),
		Symmetry:    int32(sym.ID()),
		Player:      state.CurrentPlayer().String(),
		Cells:       cells,
		LastMove:    int32(last),
		Move:        int32(move),
		StateFormat: convert.StateFormat,
		State:       stateBytes,
		Policy:      append([]float32(nil), policy...),
		Value:       value,
		Result:      result,
		Source:      source,
	}
}

// Decode rebuilds the game state of the row.
func (r TrainingRow) Decode() (*rules.State, error) {
	s, err := rules.FromCells(r.Cells, int(r.LastMove))
	if err != nil {
		return nil, fmt.Errorf("row %s/%d: %w", r.GameID, r.Ply, err)
	}
	return s, nil
}

// Transformed returns the row with its board, policy and move mapped through
// sym. The state bytes are re-encoded.
func (r TrainingRow) Transformed(sym game.Symmetry) (TrainingRow, error) {
	s, err := r.Decode()
	if err != nil {
		return TrainingRow{}, err
	}
	if len(r.Policy) != rules.ActionSpace {
		return TrainingRow{}, fmt.Errorf("row %s/%d: policy has %d entries", r.GameID, r.Ply, len(r.Policy))
	}
	base, err := game.SymmetryFromID(int(r.Symmetry))
	if err != nil {
		return TrainingRow{}, err
	}
	move := int(r.Move)
	if move >= 0 && move < rules.ActionSpace {
		move = sym.Apply(game.PositionFromIndex(move)).Index()
	}
	return NewTrainingRow(r.GameID, int(r.Ply), base.Compose(sym), s.Transformed(sym), move, sym.ApplyPolicy(r.Policy), r.Value, r.Result, SourceAugmented), nil
}

func writeOptions() []parquet.WriterOption {
	return []parquet.WriterOption{
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata(MetaSchema, SchemaVersion),
	}
}

// WriteBatchParquetAtomic writes a self-play shard into outDir/tmp and then
// atomically moves it into outDir.
//
// Long-running writers like self-play use this so readers never observe
// partially-written Parquet files.
func WriteBatchParquetAtomic(outDir string, rows []TrainingRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create tmp dir: %w", err)
	}

	name := shardName(SourceSelfPlay, time.Now())
	finalPath := filepath.Join(outDir, name)
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	_ = os.Remove(tmpPath)

	opts := append(writeOptions(), parquet.KeyValueMetadata(MetaSource, SourceSelfPlay))
	if err := parquet.WriteFile(tmpPath, rows, opts...); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}

	return finalPath, nil
}

// ReadTrainingRows loads every row of a shard.
func ReadTrainingRows(path string) ([]TrainingRow, error) {
	rows, err := parquet.ReadFile[TrainingRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

// ListShards returns the finished shards in dir, oldest name first. Files
// still being written live under dir/tmp and are never returned.
func ListShards(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
