// Command augment expands self-play shards with the symmetric variants of
// every position. Shards already handled are recorded in a log under the
// output directory and skipped on later runs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/store"
	"github.com/parquet-go/parquet-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	inDir := flag.String("in-dir", "data/generated", "Directory containing self-play parquet shards")
	outDir := flag.String("out-dir", "data/augmented", "Output directory for augmented parquet shards")
	rowsPerShard := flag.Int("rows-per-shard", 200_000, "Start a new output shard after this many rows")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	absIn, _ := filepath.Abs(*inDir)
	absOut, _ := filepath.Abs(*outDir)
	if absIn == absOut {
		log.Fatal().Msg("out-dir must be different from in-dir")
	}

	processed, err := store.OpenProcessedLog(filepath.Join(absOut, "processed.log"))
	if err != nil {
		log.Fatal().Err(err).Msg("open processed log")
	}
	defer processed.Close()

	inputs, err := listInputs(absIn)
	if err != nil {
		log.Fatal().Err(err).Str("in_dir", absIn).Msg("list inputs")
	}

	stats, err := run(inputs, absOut, *rowsPerShard, processed)
	if err != nil {
		log.Fatal().Err(err).Msg("augment failed")
	}
	log.Info().Int("shards_in", stats.shardsIn).Int("skipped", stats.skipped).
		Int("incompatible", stats.incompatible).Int("rows_in", stats.rowsIn).
		Int("rows_out", stats.rowsOut).Strs("written", stats.written).Msg("augment done")
}

type runStats struct {
	shardsIn     int
	skipped      int
	incompatible int
	rowsIn       int
	rowsOut      int
	written      []string
}

func listInputs(root string) ([]string, error) {
	inputs := make([]string, 0, 1024)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "tmp" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".parquet") {
			inputs = append(inputs, path)
		}
		return nil
	})
	return inputs, err
}

// run augments every input not yet in processed. An input is logged only
// after the shard holding its rows has been finalized. Inputs written with
// another row schema are skipped and left unlogged.
func run(inputs []string, outDir string, rowsPerShard int, processed *store.ProcessedLog) (runStats, error) {
	var stats runStats
	var w *store.ShardWriter
	var pending []string

	finalize := func() error {
		if w == nil {
			return nil
		}
		info, err := w.Finalize()
		w = nil
		if err != nil {
			return err
		}
		if info.Path != "" {
			stats.written = append(stats.written, info.Path)
			log.Info().Str("path", info.Path).Int("rows", info.Rows).Int("inputs", info.Inputs).Msg("shard written")
		}
		if err := processed.AddMany(pending); err != nil {
			return err
		}
		pending = pending[:0]
		return nil
	}

	for _, in := range inputs {
		if processed.Has(in) {
			stats.skipped++
			continue
		}
		if err := store.CheckSchema(in); err != nil {
			log.Warn().Err(err).Msg("skipping input")
			stats.incompatible++
			continue
		}
		if w == nil {
			var err error
			if w, err = store.NewShardWriter(outDir, store.SourceAugmented); err != nil {
				return stats, err
			}
		}
		rowsIn, rowsOut, err := augmentShard(in, w)
		if err != nil {
			return stats, fmt.Errorf("augment %s: %w", in, err)
		}
		stats.shardsIn++
		stats.rowsIn += rowsIn
		stats.rowsOut += rowsOut
		pending = append(pending, in)
		w.AddInput()

		if w.Rows() >= rowsPerShard {
			if err := finalize(); err != nil {
				return stats, err
			}
		}
	}
	return stats, finalize()
}

// augmentShard writes all eight symmetries of every untransformed self-play
// row in path. Rows that are already augmented are ignored.
func augmentShard(path string, w *store.ShardWriter) (rowsIn, rowsOut int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	reader := parquet.NewGenericReader[store.TrainingRow](f)
	defer reader.Close()

	buf := make([]store.TrainingRow, 256)
	out := make([]store.TrainingRow, 0, len(buf)*len(game.Symmetries()))
	for {
		n, readErr := reader.Read(buf)
		for _, row := range buf[:n] {
			if row.Source != store.SourceSelfPlay || row.Symmetry != int32(game.Identity.ID()) {
				continue
			}
			rowsIn++
			out = append(out, row)
			for _, sym := range game.Symmetries()[1:] {
				t, err := row.Transformed(sym)
				if err != nil {
					return rowsIn, rowsOut, err
				}
				out = append(out, t)
			}
		}
		if len(out) > 0 {
			if err := w.Write(out); err != nil {
				return rowsIn, rowsOut, err
			}
			rowsOut += len(out)
			out = out[:0]
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return rowsIn, rowsOut, readErr
		}
	}
	return rowsIn, rowsOut, nil
}
