// Package rules is the Ultimate Tic-Tac-Toe state machine: whose turn it is,
// legality of moves and the terminal status of a game.
package rules

import (
	"errors"
	"fmt"

	"github.com/brensch/sigmazero/game"
)

// ErrGameOver is returned when a move is attempted on a finished game.
var ErrGameOver = errors.New("game is over")

// ErrInvalidMove matches every *InvalidMoveError via errors.Is.
var ErrInvalidMove = errors.New("invalid move")

// InvalidMoveError reports an illegal move.
type InvalidMoveError struct {
	Position game.Position
}

func (e *InvalidMoveError) Error() string {
	return fmt.Sprintf("invalid move %v", e.Position)
}

func (e *InvalidMoveError) Is(target error) bool {
	return target == ErrInvalidMove
}

// StatusKind is the phase of a game.
type StatusKind uint8

const (
	InProgress StatusKind = iota
	Won
	Draw
)

func (k StatusKind) String() string {
	switch k {
	case InProgress:
		return "in_progress"
	case Won:
		return "won"
	case Draw:
		return "draw"
	}
	return fmt.Sprintf("StatusKind(%d)", uint8(k))
}

// Status is InProgress with the player to move, Won with the winner, or Draw.
// Player is meaningless for Draw.
type Status struct {
	Kind   StatusKind
	Player game.Player
}

func (s Status) String() string {
	switch s.Kind {
	case InProgress:
		return fmt.Sprintf("%s to move", s.Player)
	case Won:
		return fmt.Sprintf("%s won", s.Player)
	}
	return "draw"
}

// IsTerminal reports whether no further moves can be made.
func (s Status) IsTerminal() bool {
	return s.Kind != InProgress
}

// ActionSpace is the number of distinct actions, one per cell.
const ActionSpace = game.NumActions

// State is a board plus its status. States are snapshots: search clones a
// state before mutating it.
type State struct {
	board  game.Board
	status Status
}

// NewState returns an empty board with X to move.
func NewState() *State {
	return &State{status: Status{Kind: InProgress, Player: game.X}}
}

// Clone performs a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Board returns a copy of the underlying board.
func (s *State) Board() game.Board {
	return s.board
}

// Status returns the current status.
func (s *State) Status() Status {
	return s.status
}

// TakeTurn plays pos for the player to move and returns the new status.
func (s *State) TakeTurn(pos game.Position) (Status, error) {
	if s.status.IsTerminal() {
		return s.status, ErrGameOver
	}
	if !s.board.IsValidMove(pos) {
		return s.status, &InvalidMoveError{Position: pos}
	}
	s.board.SetCell(pos, s.status.Player)
	s.status = s.computeStatus(s.status.Player.Other())
	return s.status, nil
}

// computeStatus derives the status from the board, checking for a winner
// before a draw.
func (s *State) computeStatus(toMove game.Player) Status {
	if w, ok := s.board.Winner(); ok {
		return Status{Kind: Won, Player: w}
	}
	if s.board.IsDraw() {
		return Status{Kind: Draw}
	}
	return Status{Kind: InProgress, Player: toMove}
}

// CurrentPlayer is the player the position is viewed from: the side to move,
// or for a finished game the opponent of whoever moved last.
func (s *State) CurrentPlayer() game.Player {
	if s.status.Kind == InProgress {
		return s.status.Player
	}
	last, ok := s.board.LastMove()
	if !ok {
		return game.X
	}
	p, _ := s.board.Cell(last)
	return p.Other()
}

// ValidMoves lists the legal moves, empty once the game is over.
func (s *State) ValidMoves() []game.Position {
	if s.status.IsTerminal() {
		return nil
	}
	return s.board.ValidMoves()
}

// Play returns the successor state after action. The receiver is unchanged.
func (s *State) Play(action int) (*State, error) {
	if action < 0 || action >= ActionSpace {
		return nil, &InvalidMoveError{Position: game.PositionFromIndex(action)}
	}
	next := s.Clone()
	if _, err := next.TakeTurn(game.PositionFromIndex(action)); err != nil {
		return nil, err
	}
	return next, nil
}

// ValidActions lists the legal moves as action indices.
func (s *State) ValidActions() []int {
	moves := s.ValidMoves()
	actions := make([]int, len(moves))
	for i, m := range moves {
		actions[i] = m.Index()
	}
	return actions
}

// IsTerminal reports whether the game has finished.
func (s *State) IsTerminal() bool {
	return s.status.IsTerminal()
}

// TerminalValue is the outcome for the player who made the final move: 1 for
// a win, 0 for a draw. A loss cannot be reached by moving, so it has no value.
func (s *State) TerminalValue() float32 {
	if s.status.Kind == Won {
		return 1
	}
	return 0
}

// ActionSpace returns the number of actions.
func (s *State) ActionSpace() int {
	return ActionSpace
}

// Transformed returns the state with its board mapped through sym. The status
// is unaffected by symmetry.
func (s *State) Transformed(sym game.Symmetry) *State {
	return &State{board: s.board.Transformed(sym), status: s.status}
}

func (s *State) String() string {
	return s.board.String() + s.status.String() + "\n"
}
