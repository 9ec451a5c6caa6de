package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brensch/sigmazero/executor/mcts"
	"github.com/brensch/sigmazero/game"
	"github.com/brensch/sigmazero/rules"
	"github.com/rs/zerolog/log"
)

const (
	defaultAnalyzeSims = 800
	maxAnalyzeSims     = 20000
)

type Predictor = mcts.Predictor[*rules.State]

// Server holds shared state for HTTP handlers.
type Server struct {
	roots        []string
	dbCache      *DBCache
	getPredictor func() (Predictor, error)
}

func NewServer(roots []string, getPredictor func() (Predictor, error)) *Server {
	return &Server{
		roots:        roots,
		dbCache:      NewDBCache(roots, 30*time.Second),
		getPredictor: getPredictor,
	}
}

func (s *Server) Close() error {
	return s.dbCache.Close()
}

// RegisterRoutes sets up all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/games", s.handleGames)
	mux.HandleFunc("/api/games/", s.handleGameTurns)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := parseIntQuery(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	offset := parseIntQuery(r, "offset", 0)

	games, err := s.dbCache.GetGamesIndex(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	page := paginateGames(games, limit, offset, r.URL.Query().Get("sort"), r.URL.Query().Get("dir"))
	writeJSON(w, GamesResponse{Total: int64(len(games)), Games: page})
}

// handleGameTurns serves /api/games/{id}/turns.
func (s *Server) handleGameTurns(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/games/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "turns" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	gameID, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "bad game id", http.StatusBadRequest)
		return
	}

	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	turns, err := queryTurns(r.Context(), db, gameID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(turns) == 0 {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, TurnsResponse{GameID: gameID, Turns: turns})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	now := time.Now().UnixNano()
	toNs := parseInt64Query(r, "to_ns", now)
	fromNs := parseInt64Query(r, "from_ns", toNs-int64(24*time.Hour))
	bucketNs := parseInt64Query(r, "bucket_ns", int64(time.Hour))
	if bucketNs <= 0 || fromNs > toNs {
		http.Error(w, "bad range", http.StatusBadRequest)
		return
	}

	db, err := s.dbCache.Get()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	points, err := queryStats(r.Context(), db, fromNs, toNs, bucketNs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, StatsResponse{FromNs: fromNs, ToNs: toNs, BucketNs: bucketNs, Points: points})
}

// handleAnalyze runs a fresh search on a position and reports the root.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	withCORS(w, r)
	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Sims <= 0 {
		req.Sims = defaultAnalyzeSims
	}
	if req.Sims > maxAnalyzeSims {
		req.Sims = maxAnalyzeSims
	}
	if req.Cpuct <= 0 {
		req.Cpuct = mcts.DefaultConfig().Cpuct
	}

	state, err := s.resolvePosition(r.Context(), req)
	if errors.Is(err, sql.ErrNoRows) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if state.IsTerminal() {
		http.Error(w, "position is terminal: "+state.Status().String(), http.StatusBadRequest)
		return
	}

	predictor, err := s.getPredictor()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	start := time.Now()
	tree := mcts.NewTree(state, predictor, mcts.Config{Cpuct: req.Cpuct})
	if err := tree.Search(r.Context(), req.Sims); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	best, policy, err := tree.SelectBestChild()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bestNode := tree.Node(best)
	pos := game.PositionFromIndex(bestNode.Action)
	root := tree.Root()
	log.Debug().Int("sims", req.Sims).Dur("took", time.Since(start)).Stringer("best", pos).Msg("analyze")

	writeJSON(w, AnalyzeResponse{
		Sims:      req.Sims,
		Cpuct:     req.Cpuct,
		Status:    state.Status().String(),
		Board:     state.Board().String(),
		BestMove:  bestNode.Action,
		X:         int(pos.X),
		Y:         int(pos.Y),
		RootValue: root.ActionValue,
		Policy:    policy,
		Children:  tree.RootSummary(),
		MaxDepth:  tree.MaxDepth(),
		Nodes:     tree.Len(),
	})
}

func (s *Server) resolvePosition(ctx context.Context, req AnalyzeRequest) (*rules.State, error) {
	state, err := s.basePosition(ctx, req)
	if err != nil {
		return nil, err
	}
	for i, m := range req.Moves {
		pos, err := game.ParsePosition(m)
		if err != nil {
			return nil, fmt.Errorf("moves[%d]: %w", i, err)
		}
		if _, err := state.TakeTurn(pos); err != nil {
			return nil, fmt.Errorf("moves[%d]: %w", i, err)
		}
	}
	return state, nil
}

func (s *Server) basePosition(ctx context.Context, req AnalyzeRequest) (*rules.State, error) {
	if req.GameID != "" {
		if req.Ply == nil {
			return nil, fmt.Errorf("ply is required with game_id")
		}
		db, err := s.dbCache.Get()
		if err != nil {
			return nil, err
		}
		t, err := queryTurn(ctx, db, req.GameID, *req.Ply)
		if err != nil {
			return nil, err
		}
		return rules.FromCells(cellsToBytes(t.Cells), int(t.LastMove))
	}
	if len(req.Cells) == 0 {
		return rules.NewState(), nil
	}
	last := rules.NoLastMove
	if req.LastMove != nil {
		last = *req.LastMove
	}
	return rules.FromCells(cellsToBytes(req.Cells), last)
}
