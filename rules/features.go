package rules

import (
	"fmt"

	"github.com/brensch/sigmazero/game"
)

const (
	// FeatureChannels: current player stones, opponent stones, last move.
	FeatureChannels = 3
	// FeatureLen is the flattened length of a feature tensor.
	FeatureLen = FeatureChannels * game.NumActions
)

// FeatureShape is the [C, H, W] layout of the encoded state.
var FeatureShape = [3]int{FeatureChannels, game.BoardSize, game.BoardSize}

const (
	ChannelCurrent  = 0
	ChannelOpponent = 1
	ChannelLastMove = 2
)

// Features encodes the state from the current player's perspective.
func (s *State) Features() []float32 {
	out := make([]float32, FeatureLen)
	s.EncodeFeatures(out)
	return out
}

// EncodeFeatures writes the state into dst, which must hold FeatureLen
// values. Cell (x, y) of channel c is at c*81 + y*9 + x.
func (s *State) EncodeFeatures(dst []float32) {
	if len(dst) < FeatureLen {
		panic(fmt.Sprintf("feature buffer has %d entries, want %d", len(dst), FeatureLen))
	}
	clear(dst[:FeatureLen])
	me := s.CurrentPlayer()
	for i := 0; i < game.NumActions; i++ {
		p, ok := s.board.Cell(game.PositionFromIndex(i))
		if !ok {
			continue
		}
		if p == me {
			dst[ChannelCurrent*game.NumActions+i] = 1
		} else {
			dst[ChannelOpponent*game.NumActions+i] = 1
		}
	}
	if last, ok := s.board.LastMove(); ok {
		dst[ChannelLastMove*game.NumActions+last.Index()] = 1
	}
}
