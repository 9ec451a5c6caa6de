package selfplay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/brensch/sigmazero/executor/mcts"
	"github.com/brensch/sigmazero/rules"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Predictor is the evaluator used by self-play searches.
type Predictor = mcts.Predictor[*rules.State]

// Config controls a self-play game.
type Config struct {
	// SearchSteps is the exact number of search iterations per move.
	SearchSteps int
	Cpuct       float32
	// Verbose logs the board and search summary of every move at debug level.
	Verbose bool
	// OnStep is called by RunParallel workers after every move. It must be
	// safe for concurrent use.
	OnStep func(StepInfo)
}

func DefaultConfig() Config {
	return Config{SearchSteps: 100, Cpuct: 1}
}

// GameRecord is a finished self-play game. States[i] is the position before
// Moves[i] was played, Policies[i] the visit distribution of its search and
// Values[i] the final outcome seen by the player to move in States[i].
type GameRecord struct {
	GameID   uuid.UUID
	States   []*rules.State
	Policies [][]float32
	Moves    []int
	Values   []float32
	Result   rules.Status
	Final    *rules.State
}

// Plies returns the number of moves played.
func (g *GameRecord) Plies() int {
	return len(g.Moves)
}

// StepInfo describes one move as it is played.
type StepInfo struct {
	GameID   uuid.UUID
	Ply      int
	Before   *rules.State
	After    *rules.State
	Move     int
	Policy   []float32
	Children []mcts.ChildSummary
	MaxDepth int
	Nodes    int
}

// PlayGame plays one game from the empty board. Every move is chosen by a
// fresh search tree run for exactly cfg.SearchSteps iterations. onStep, if
// non-nil, is called after each move.
func PlayGame(ctx context.Context, client Predictor, cfg Config, onStep func(StepInfo)) (*GameRecord, error) {
	rec := &GameRecord{GameID: uuid.New()}
	mctsConfig := mcts.Config{Cpuct: cfg.Cpuct}

	state := rules.NewState()
	for !state.IsTerminal() {
		tree := mcts.NewTree(state, client, mctsConfig)
		if err := tree.Search(ctx, cfg.SearchSteps); err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", rec.GameID, len(rec.Moves), err)
		}
		best, policy, err := tree.SelectBestChild()
		if err != nil {
			return nil, fmt.Errorf("game %s ply %d: %w", rec.GameID, len(rec.Moves), err)
		}
		child := tree.Node(best)

		rec.States = append(rec.States, state)
		rec.Policies = append(rec.Policies, policy)
		rec.Moves = append(rec.Moves, child.Action)

		if cfg.Verbose || onStep != nil {
			info := StepInfo{
				GameID:   rec.GameID,
				Ply:      len(rec.Moves) - 1,
				Before:   state,
				After:    child.State,
				Move:     child.Action,
				Policy:   policy,
				Children: tree.RootSummary(),
				MaxDepth: tree.MaxDepth(),
				Nodes:    tree.Len(),
			}
			if cfg.Verbose {
				logStep(info)
			}
			if onStep != nil {
				onStep(info)
			}
		}

		state = child.State
	}

	rec.Final = state
	rec.Result = state.Status()
	rec.Values = outcomeValues(state.TerminalValue(), len(rec.States))
	return rec, nil
}

// outcomeValues gives the last ply z and flips the sign on every ply before.
func outcomeValues(z float32, n int) []float32 {
	values := make([]float32, n)
	v := z
	for i := n - 1; i >= 0; i-- {
		values[i] = v
		v = -v
	}
	return values
}

func logStep(info StepInfo) {
	n := 0
	q := float32(math.NaN())
	for _, c := range info.Children {
		if c.Action == info.Move {
			n, q = c.VisitCount, c.Q
		}
	}
	log.Debug().
		Str("game_id", info.GameID.String()).
		Int("ply", info.Ply).
		Stringer("move", positionOf(info.Move)).
		Int("n", n).
		Float32("q", q).
		Int("max_depth", info.MaxDepth).
		Int("nodes", info.Nodes).
		Msg("move\n" + info.After.String() + FormatPolicy(info.Policy))
}

// Run plays nGames sequentially with one client and collects every game
// into a replay buffer.
func Run(ctx context.Context, client Predictor, nGames int, cfg Config) (*ReplayBuffer, error) {
	buf := NewReplayBuffer()
	for i := 0; i < nGames; i++ {
		rec, err := PlayGame(ctx, client, cfg, nil)
		if err != nil {
			return buf, err
		}
		buf.AppendGame(rec)
		log.Debug().Int("game", i+1).Int("of", nGames).Int("plies", rec.Plies()).Stringer("result", rec.Result).Msg("self-play game finished")
	}
	return buf, nil
}

// RunParallel plays nGames across workers goroutines. Each worker gets its
// own client from newClient and builds its own trees. onGame is called for
// every finished game, never concurrently. nGames <= 0 plays until ctx is
// cancelled, which is then not reported as an error.
func RunParallel(ctx context.Context, newClient func(worker int) Predictor, nGames, workers int, cfg Config, onGame func(*GameRecord) error) error {
	if workers <= 0 {
		workers = 1
	}
	var claimed atomic.Int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			client := newClient(worker)
			for {
				if nGames > 0 && claimed.Add(1) > int64(nGames) {
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rec, err := PlayGame(gctx, client, cfg, cfg.OnStep)
				if err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
				if onGame != nil {
					mu.Lock()
					err = onGame(rec)
					mu.Unlock()
					if err != nil {
						return err
					}
				}
			}
		})
	}
	err := g.Wait()
	if nGames <= 0 && ctx.Err() != nil {
		return nil
	}
	return err
}
