// visualize.go - Console visualization for debugging self-play games.
//
// PrintBoard outputs the board and the network input planes for debugging
// and development.
package selfplay

import (
	"fmt"
	"strings"

	"github.com/brensch/sigmazero/executor/convert"
	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/rs/zerolog/log"
)

func PrintBoard(state *rules.State) {
	var sb strings.Builder
	cur := state.CurrentPlayer()
	sb.WriteString(fmt.Sprintf("\n=== TRACE %s (view=%s) ===\n", state.Status(), cur))
	sb.WriteString(state.Board().String())

	printEncodedLayers(&sb, state)
	log.Debug().Msg(sb.String())
}

func printEncodedLayers(sb *strings.Builder, state *rules.State) {
	dataPtr := convert.StateToFloat32(state)
	data := *dataPtr
	defer convert.PutFloatBuffer(dataPtr)

	channelName := func(c int) string {
		switch c {
		case rules.ChannelCurrent:
			return "current"
		case rules.ChannelOpponent:
			return "opponent"
		case rules.ChannelLastMove:
			return "last_move"
		default:
			return "unknown"
		}
	}

	sb.WriteString("\n--- TRACE Encoded input layers (C,H,W) ---\n")
	for c := 0; c < convert.Channels; c++ {
		sb.WriteString(fmt.Sprintf("Layer %d (%s):\n", c, channelName(c)))
		base := c * convert.Height * convert.Width
		for y := 0; y < convert.Height; y++ {
			for x := 0; x < convert.Width; x++ {
				if data[base+y*convert.Width+x] == 0 {
					sb.WriteString(". ")
					continue
				}
				sb.WriteString("1 ")
			}
			sb.WriteString("\n")
		}
	}
}

// FormatPolicy renders a policy over the board as percentages, blank where
// the probability is zero.
func FormatPolicy(policy []float32) string {
	var sb strings.Builder
	for y := 0; y < game.BoardSize; y++ {
		for x := 0; x < game.BoardSize; x++ {
			i := x + game.BoardSize*y
			if i < len(policy) && policy[i] > 0 {
				sb.WriteString(fmt.Sprintf("%3.0f", policy[i]*100))
			} else {
				sb.WriteString("   ")
			}
			if x < game.BoardSize-1 {
				if x%game.SubSize == game.SubSize-1 {
					sb.WriteString("‖")
				} else {
					sb.WriteString("|")
				}
			}
		}
		sb.WriteString("\n")
		if y < game.BoardSize-1 && y%game.SubSize == game.SubSize-1 {
			sb.WriteString(strings.Repeat("=", 35) + "\n")
		}
	}
	return sb.String()
}

func positionOf(action int) game.Position {
	return game.PositionFromIndex(action)
}
