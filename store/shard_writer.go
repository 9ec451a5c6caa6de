package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brensch/sigmazero/game"
	"github.com/parquet-go/parquet-go"
)

// Shard metadata keys. Every shard carries MetaSchema and MetaSource; shards
// produced from other shards also record how many inputs went into them.
const (
	MetaSchema = "schema"
	MetaSource = "source"
	MetaInputs = "inputs"
)

var errWriterClosed = errors.New("shard writer is closed")

// shardName is batch_<unix_nano>_<source>.parquet. The viewer reads the
// timestamp back out of the name.
func shardName(source string, now time.Time) string {
	return fmt.Sprintf("batch_%d_%s.parquet", now.UnixNano(), source)
}

// ShardInfo describes a finalized shard.
type ShardInfo struct {
	Path   string
	Rows   int
	Inputs int
}

// ShardWriter streams rows of one source into a shard that stays under
// outDir/tmp until Finalize moves it into outDir.
type ShardWriter struct {
	source  string
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[TrainingRow]

	rows   int
	inputs int
}

func NewShardWriter(outDir, source string) (*ShardWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}

	tmpDir := filepath.Join(outDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := shardName(source, time.Now())
	tmpPath := filepath.Join(tmpDir, name+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp shard: %w", err)
	}

	w := parquet.NewGenericWriter[TrainingRow](f, writeOptions()...)
	w.SetKeyValueMetadata(MetaSource, source)

	return &ShardWriter{
		source:  source,
		tmpPath: tmpPath,
		outPath: filepath.Join(outDir, name),
		file:    f,
		writer:  w,
	}, nil
}

// Rows is the number of rows written so far.
func (s *ShardWriter) Rows() int { return s.rows }

// accepts reports whether r belongs in a shard of the writer's source. An
// augmented shard also holds the untransformed self-play rows it was built
// from.
func (s *ShardWriter) accepts(r TrainingRow) bool {
	if r.Source == s.source {
		return true
	}
	return s.source == SourceAugmented && r.Source == SourceSelfPlay && r.Symmetry == int32(game.Identity.ID())
}

// Write appends rows, rejecting the whole batch if any row has a foreign
// source.
func (s *ShardWriter) Write(rows []TrainingRow) error {
	if s.writer == nil {
		return errWriterClosed
	}
	for i, r := range rows {
		if !s.accepts(r) {
			return fmt.Errorf("row %d (%s/%d): source %q in %s shard", i, r.GameID, r.Ply, r.Source, s.source)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := s.writer.Write(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	s.rows += len(rows)
	return nil
}

// AddInput counts one input (a game, or a shard read by a derivation pass)
// as folded into this shard.
func (s *ShardWriter) AddInput() {
	s.inputs++
}

// Finalize closes the shard and moves it into outDir. A shard with no rows is
// discarded and the zero ShardInfo returned. The writer is unusable afterwards.
func (s *ShardWriter) Finalize() (ShardInfo, error) {
	if s.writer == nil {
		return ShardInfo{}, errWriterClosed
	}
	s.writer.SetKeyValueMetadata(MetaInputs, strconv.Itoa(s.inputs))

	closeErr := s.writer.Close()
	s.writer = nil
	if closeErr == nil {
		closeErr = s.file.Sync()
	}
	if err := s.file.Close(); closeErr == nil {
		closeErr = err
	}
	if closeErr != nil || s.rows == 0 {
		_ = os.Remove(s.tmpPath)
		if closeErr != nil {
			return ShardInfo{}, fmt.Errorf("close shard: %w", closeErr)
		}
		return ShardInfo{}, nil
	}

	if err := os.Rename(s.tmpPath, s.outPath); err != nil {
		_ = os.Remove(s.tmpPath)
		return ShardInfo{}, fmt.Errorf("rename shard: %w", err)
	}
	return ShardInfo{Path: s.outPath, Rows: s.rows, Inputs: s.inputs}, nil
}

// ShardMetadata returns the key/value metadata of a shard.
func ShardMetadata(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size(), parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", path, err)
	}
	meta := make(map[string]string)
	for _, kv := range pf.Metadata().KeyValueMetadata {
		meta[kv.Key] = kv.Value
	}
	return meta, nil
}

// CheckSchema returns an error unless the shard was written with the current
// row schema.
func CheckSchema(path string) error {
	meta, err := ShardMetadata(path)
	if err != nil {
		return err
	}
	if got := meta[MetaSchema]; got != SchemaVersion {
		return fmt.Errorf("shard %s: schema %q, want %q", filepath.Base(path), got, SchemaVersion)
	}
	return nil
}
