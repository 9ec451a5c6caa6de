package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/live"
	"github.com/brensch/sigmazero/executor/selfplay"
	"github.com/brensch/sigmazero/rules"
	"github.com/brensch/sigmazero/store"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var totalMoves atomic.Int64
var totalInferences atomic.Int64
var totalGames atomic.Int64

type instrumentedClient struct {
	selfplay.Predictor
}

func (c *instrumentedClient) Predict(state *rules.State) ([]float32, float32, error) {
	totalInferences.Add(1)
	return c.Predictor.Predict(state)
}

type gameWriteRequest struct {
	rows []store.TrainingRow
}

// registerFlags binds every run setting to fs. The returned function copies
// the flags that were set explicitly onto cfg.
func registerFlags(fs *flag.FlagSet, def config.Run) func(cfg *config.Run) {
	v := def
	fs.IntVar(&v.Games, "games", def.Games, "Stop after this many games (0 = run until interrupted)")
	fs.IntVar(&v.Workers, "workers", def.Workers, "Number of self-play workers")
	fs.IntVar(&v.SearchSteps, "search-steps", def.SearchSteps, "Search iterations per move")
	var cpuct float64
	fs.Float64Var(&cpuct, "cpuct", float64(def.Cpuct), "PUCT exploration constant")
	fs.StringVar(&v.Evaluator, "evaluator", def.Evaluator, "Evaluator: uniform, random, mlp or onnx")
	fs.StringVar(&v.ModelPath, "model", def.ModelPath, "Model path for the mlp and onnx evaluators")
	fs.IntVar(&v.BatchSize, "onnx-batch-size", def.BatchSize, "ONNX inference batch size")
	fs.DurationVar(&v.BatchTimeout, "onnx-batch-timeout", def.BatchTimeout, "Max time to wait for filling an ONNX batch")
	fs.IntVar(&v.Sessions, "onnx-sessions", def.Sessions, "Number of ONNX Runtime sessions, each with its own batching loop")
	fs.BoolVar(&v.DisableCUDA, "disable-cuda", def.DisableCUDA, "Run ONNX on the CPU provider only")
	fs.StringVar(&v.OutDir, "out-dir", def.OutDir, "Output directory for training parquet batches (empty disables writing)")
	fs.IntVar(&v.GamesPerFlush, "games-per-flush", def.GamesPerFlush, "Number of games to buffer per parquet flush")
	fs.BoolVar(&v.Augment, "augment", def.Augment, "Also write the 7 symmetric variants of every position")
	fs.StringVar(&v.LiveAddr, "live-addr", def.LiveAddr, "Serve a live WebSocket move feed on this address (e.g. :8090)")
	fs.Uint64Var(&v.Seed, "seed", def.Seed, "Seed for the random evaluator (0 = random)")
	fs.StringVar(&v.LogLevel, "log-level", def.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&v.Verbose, "verbose", def.Verbose, "Log every move with its search summary (debug level)")

	apply := func(cfg *config.Run) {
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "games":
				cfg.Games = v.Games
			case "workers":
				cfg.Workers = v.Workers
			case "search-steps":
				cfg.SearchSteps = v.SearchSteps
			case "cpuct":
				cfg.Cpuct = float32(cpuct)
			case "evaluator":
				cfg.Evaluator = v.Evaluator
			case "model":
				cfg.ModelPath = v.ModelPath
			case "onnx-batch-size":
				cfg.BatchSize = v.BatchSize
			case "onnx-batch-timeout":
				cfg.BatchTimeout = v.BatchTimeout
			case "onnx-sessions":
				cfg.Sessions = v.Sessions
			case "disable-cuda":
				cfg.DisableCUDA = v.DisableCUDA
			case "out-dir":
				cfg.OutDir = v.OutDir
			case "games-per-flush":
				cfg.GamesPerFlush = v.GamesPerFlush
			case "augment":
				cfg.Augment = v.Augment
			case "live-addr":
				cfg.LiveAddr = v.LiveAddr
			case "seed":
				cfg.Seed = v.Seed
			case "log-level":
				cfg.LogLevel = v.LogLevel
			case "verbose":
				cfg.Verbose = v.Verbose
			}
		})
	}
	return apply
}

// loadConfig reads the optional -config file and applies explicit flags on
// top of it.
func loadConfig(args []string) (config.Run, bool, error) {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML run file; flags set on the command line override it")
	tui := fs.Bool("tui", false, "Show a terminal progress display instead of periodic log lines")
	apply := registerFlags(fs, config.Default())
	if err := fs.Parse(args); err != nil {
		return config.Run{}, false, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return cfg, false, err
		}
		cfg = loaded
	}
	apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, *tui, nil
}

func setupLogging(level string, tui bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	if tui {
		// Keep the terminal for the progress display.
		f, err := os.OpenFile("executor.log", os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			out = zerolog.ConsoleWriter{Out: f, NoColor: true, TimeFormat: time.RFC3339}
		}
	}
	log.Logger = log.Output(out)
}

func main() {
	cfg, tui, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	setupLogging(cfg.LogLevel, tui)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	ev, err := newEvaluator(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("evaluator", cfg.Evaluator).Msg("failed to create evaluator")
	}
	defer func() {
		if err := ev.close(); err != nil {
			log.Error().Err(err).Msg("closing evaluator")
		}
	}()

	var hub *live.Hub
	if cfg.LiveAddr != "" {
		hub = live.NewHub(live.DefaultConfig())
		mux := http.NewServeMux()
		mux.Handle("/live", hub)
		srv := &http.Server{Addr: cfg.LiveAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.LiveAddr).Msg("live feed server stopped")
			}
		}()
		defer func() {
			hub.Close()
			_ = srv.Close()
		}()
		log.Info().Str("addr", cfg.LiveAddr).Msg("live feed listening on /live")
	}

	spCfg := selfplay.Config{
		SearchSteps: cfg.SearchSteps,
		Cpuct:       cfg.Cpuct,
		Verbose:     cfg.Verbose,
		OnStep: func(info selfplay.StepInfo) {
			totalMoves.Add(1)
			if hub != nil {
				if err := hub.PublishStep(info); err != nil {
					log.Debug().Err(err).Msg("live publish failed")
				}
			}
		},
	}

	updates := make(chan GameUpdate, cfg.Workers)
	writeReqs := make(chan gameWriteRequest, cfg.Workers*4)
	writerDone := make(chan struct{})
	go func() {
		parquetWriterLoop(cfg.OutDir, cfg.GamesPerFlush, writeReqs)
		close(writerDone)
	}()

	onGame := func(rec *selfplay.GameRecord) error {
		total := totalGames.Add(1)
		var rows []store.TrainingRow
		if cfg.OutDir != "" {
			rows = store.RowsFromGame(rec, cfg.Augment)
			writeReqs <- gameWriteRequest{rows: rows}
		}
		if hub != nil {
			_ = hub.PublishGame(rec)
		}
		log.Debug().Int64("game", total).Str("game_id", rec.GameID.String()).Int("plies", rec.Plies()).
			Stringer("result", rec.Result).Msg("finished game")

		// Avoid blocking shutdown if the UI loop stops consuming.
		select {
		case updates <- GameUpdate{GameID: rec.GameID.String(), Result: rec.Result.String(), Plies: rec.Plies(), Examples: len(rows)}:
		default:
		}
		return nil
	}

	log.Info().Int("workers", cfg.Workers).Int("search_steps", cfg.SearchSteps).Str("evaluator", cfg.Evaluator).
		Int("games", cfg.Games).Msg("starting self-play")

	runErr := make(chan error, 1)
	go func() {
		runErr <- selfplay.RunParallel(ctx, func(worker int) selfplay.Predictor {
			return &instrumentedClient{Predictor: ev.newClient(worker)}
		}, cfg.Games, cfg.Workers, spCfg, onGame)
	}()

	statsLine := func() string {
		st, ok := ev.stats()
		if !ok {
			return ""
		}
		return fmt.Sprintf("batch avg=%.1f last=%d q=%d run avg=%.2fms", st.AvgBatchSize, st.LastBatchSize, st.QueueLen, st.AvgRunMs)
	}

	finish := func(err error) {
		close(writeReqs)
		<-writerDone
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("self-play failed")
		}
		log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete: final parquet flush done")
	}

	if tui {
		p := tea.NewProgram(initialModel(updates, statsLine), tea.WithAltScreen())
		go func() {
			err := <-runErr
			runErr <- err
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			log.Error().Err(err).Msg("progress display failed")
		}
		cancel()
		finish(<-runErr)
		return
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-runErr:
			finish(err)
			return
		case <-updates:
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			e := log.Info().
				Int64("games", totalGames.Load()).
				Float64("moves_per_sec", float64(totalMoves.Load())/secs).
				Float64("inferences_per_sec", float64(totalInferences.Load())/secs)
			if s := statsLine(); s != "" {
				e = e.Str("onnx", s)
			}
			e.Msg("stats")
		}
	}
}

func parquetWriterLoop(outDir string, gamesPerFlush int, in <-chan gameWriteRequest) {
	if gamesPerFlush <= 0 {
		gamesPerFlush = 50
	}

	pendingRows := make([]store.TrainingRow, 0, 64*gamesPerFlush)
	pendingGames := 0

	flush := func(final bool) {
		outPath, err := store.WriteBatchParquetAtomic(outDir, pendingRows)
		if err != nil {
			log.Error().Err(err).Bool("final", final).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush failed")
		} else {
			log.Info().Str("path", outPath).Bool("final", final).Int("games", pendingGames).Int("rows", len(pendingRows)).Msg("parquet flush ok")
		}
		pendingRows = pendingRows[:0]
		pendingGames = 0
	}

	for req := range in {
		if len(req.rows) == 0 {
			continue
		}
		pendingRows = append(pendingRows, req.rows...)
		pendingGames++
		if pendingGames >= gamesPerFlush {
			flush(false)
		}
	}
	if pendingGames > 0 && len(pendingRows) > 0 {
		flush(true)
	}
}
