package selfplay

import (
	"context"
	"fmt"

	"github.com/brensch/sigmazero/executor/mcts"
	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/rs/zerolog/log"
)

// EvaluationResults counts the outcomes of an arena match.
type EvaluationResults struct {
	Agent1Wins int `json:"agent1_wins"`
	Agent2Wins int `json:"agent2_wins"`
	Draws      int `json:"draws"`
}

func (r EvaluationResults) Games() int {
	return r.Agent1Wins + r.Agent2Wins + r.Draws
}

// Score is agent 1's points per game, counting a draw as half a win.
func (r EvaluationResults) Score() float64 {
	if r.Games() == 0 {
		return 0
	}
	return (float64(r.Agent1Wins) + 0.5*float64(r.Draws)) / float64(r.Games())
}

// Evaluate plays nGames between two agents, each choosing moves by a search
// of searchSteps iterations. Agent 1 always plays X.
func Evaluate(ctx context.Context, agent1, agent2 Predictor, nGames, searchSteps int) (EvaluationResults, error) {
	var res EvaluationResults
	cfg := mcts.DefaultConfig()
	for i := 0; i < nGames; i++ {
		state := rules.NewState()
		for !state.IsTerminal() {
			agent := agent1
			if state.Status().Player == game.O {
				agent = agent2
			}
			tree := mcts.NewTree(state, agent, cfg)
			if err := tree.Search(ctx, searchSteps); err != nil {
				return res, fmt.Errorf("arena game %d: %w", i, err)
			}
			best, _, err := tree.SelectBestChild()
			if err != nil {
				return res, fmt.Errorf("arena game %d: %w", i, err)
			}
			state = tree.Node(best).State
		}

		switch st := state.Status(); {
		case st.Kind == rules.Draw:
			res.Draws++
		case st.Player == game.X:
			res.Agent1Wins++
		default:
			res.Agent2Wins++
		}
		log.Debug().Int("game", i+1).Stringer("result", state.Status()).Msg("arena game finished")
	}
	return res, nil
}
