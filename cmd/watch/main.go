// Command watch follows the executor's live feed and logs games as they are
// played.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sigmazero/executor/live"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	url := flag.String("url", "ws://localhost:8090/live", "Live feed URL")
	games := flag.Int("games", 0, "Stop after this many finished games (0 = follow forever)")
	boards := flag.Bool("boards", false, "Print the board after every move")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{maxGames: *games}
	if *boards {
		w.boards = os.Stdout
	}
	log.Info().Str("url", *url).Msg("following live feed")
	if err := live.Follow(ctx, *url, live.DefaultConfig(), w.handle); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("follow failed")
	}
	log.Info().
		Int("games", w.finished).
		Int("moves", w.moves).
		Int("x_wins", w.results["X won"]).
		Int("o_wins", w.results["O won"]).
		Int("draws", w.results["draw"]).
		Msg("watch done")
}

// watcher tallies the feed. It stops the follow after maxGames finished
// games when maxGames is positive.
type watcher struct {
	maxGames int
	boards   io.Writer

	started  int
	finished int
	moves    int
	results  map[string]int
}

func (w *watcher) handle(ev live.Event) error {
	switch ev.Type {
	case live.TypeGameStart:
		var start live.GameStart
		if err := json.Unmarshal(ev.Data, &start); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		w.started++
		log.Debug().Str("game_id", start.GameID).Msg("game started")

	case live.TypeMove:
		var frame live.MoveFrame
		if err := json.Unmarshal(ev.Data, &frame); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		w.moves++
		log.Debug().
			Str("game_id", frame.GameID).
			Int("ply", frame.Ply).
			Int("x", frame.X).
			Int("y", frame.Y).
			Int("depth", frame.MaxDepth).
			Str("status", frame.Status).
			Msg("move")
		if w.boards != nil {
			fmt.Fprintf(w.boards, "%s ply %d (%d,%d)\n%s\n", frame.GameID, frame.Ply, frame.X, frame.Y, frame.Board)
		}

	case live.TypeGameEnd:
		var end live.GameEnd
		if err := json.Unmarshal(ev.Data, &end); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		if w.results == nil {
			w.results = make(map[string]int)
		}
		w.finished++
		w.results[end.Result]++
		log.Info().Str("game_id", end.GameID).Int("plies", end.Plies).Str("result", end.Result).Msg("game finished")
		if w.maxGames > 0 && w.finished >= w.maxGames {
			return live.ErrStop
		}

	default:
		log.Warn().Str("type", ev.Type).Msg("unknown event")
	}
	return nil
}
