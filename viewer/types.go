package main

import "github.com/brensch/sigmazero/executor/mcts"

type GameSummary struct {
	GameID string `json:"game_id"`
	// StartedNs is parsed from the shard name (batch_<unix_nano>_<source>.parquet).
	StartedNs  *int64 `json:"started_ns"`
	Plies      int32  `json:"plies"`
	Result     string `json:"result"`
	Augmented  bool   `json:"augmented"`
	SourceFile string `json:"file"`
}

type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

type StatsPoint struct {
	TNs        int64 `json:"t_ns"`
	Games      int64 `json:"games"`
	TotalPlies int64 `json:"total_plies"`
	XWins      int64 `json:"x_wins"`
	OWins      int64 `json:"o_wins"`
	Draws      int64 `json:"draws"`
}

type StatsResponse struct {
	FromNs   int64        `json:"from_ns"`
	ToNs     int64        `json:"to_ns"`
	BucketNs int64        `json:"bucket_ns"`
	Points   []StatsPoint `json:"points"`
}

// Turn is one stored position of a game.
type Turn struct {
	GameID   string    `json:"game_id"`
	Ply      int32     `json:"ply"`
	Player   string    `json:"player"`
	Cells    []int     `json:"cells"`
	LastMove int32     `json:"last_move"`
	Move     int32     `json:"move"`
	Policy   []float32 `json:"policy"`
	Value    float32   `json:"value"`
	Result   string    `json:"result"`
	Status   string    `json:"status"`
	Board    string    `json:"board"`
}

type TurnsResponse struct {
	GameID string `json:"game_id"`
	Turns  []Turn `json:"turns"`
}

// AnalyzeRequest names a position either directly by cells or by a stored
// game ply. Moves, written "x,y", are then played on top of it in order.
type AnalyzeRequest struct {
	GameID   string   `json:"game_id,omitempty"`
	Ply      *int32   `json:"ply,omitempty"`
	Cells    []int    `json:"cells,omitempty"`
	LastMove *int     `json:"last_move,omitempty"`
	Moves    []string `json:"moves,omitempty"`
	Sims     int      `json:"sims"`
	Cpuct    float32  `json:"cpuct"`
}

type AnalyzeResponse struct {
	Sims      int                 `json:"sims"`
	Cpuct     float32             `json:"cpuct"`
	Status    string              `json:"status"`
	Board     string              `json:"board"`
	BestMove  int                 `json:"best_move"`
	X         int                 `json:"x"`
	Y         int                 `json:"y"`
	RootValue float32             `json:"root_value"`
	Policy    []float32           `json:"policy"`
	Children  []mcts.ChildSummary `json:"children"`
	MaxDepth  int                 `json:"max_depth"`
	Nodes     int                 `json:"nodes"`
}
