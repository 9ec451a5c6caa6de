package main

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/sigmazero/store"
	"github.com/rs/zerolog/log"

	_ "github.com/duckdb/duckdb-go/v2"
)

// DBCache maintains a cached DuckDB connection that refreshes periodically.
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time

	// Cached games index for fast pagination
	gamesIndex []GameSummary
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, refreshing if needed.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

// Refresh forces a refresh of the cached DB connection.
func (c *DBCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked()
	return err
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()

	newDB, err := openDuckDBWithGlobs(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}

	c.db = newDB
	c.lastRefresh = time.Now()
	c.gamesIndex = nil

	log.Debug().Dur("took", time.Since(start)).Msg("DBCache refreshed")
	return c.db, nil
}

// GetGamesIndex returns the cached games index. It is rebuilt only after the
// DB itself is refreshed.
func (c *DBCache) GetGamesIndex(ctx context.Context) ([]GameSummary, error) {
	c.mu.RLock()
	if c.gamesIndex != nil && c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		idx := c.gamesIndex
		c.mu.RUnlock()
		return idx, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil || time.Since(c.lastRefresh) >= c.refreshRate {
		if _, err := c.refreshLocked(); err != nil {
			return nil, err
		}
	}
	if c.gamesIndex != nil {
		return c.gamesIndex, nil
	}

	start := time.Now()
	games, err := queryAllGames(ctx, c.db, c.roots)
	if err != nil {
		return nil, err
	}
	c.gamesIndex = games
	log.Debug().Int("games", len(games)).Dur("took", time.Since(start)).Msg("games index rebuilt")
	return c.gamesIndex, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}

// openDuckDBWithGlobs creates an in-memory DuckDB with a "positions" view over
// every finished shard under roots.
func openDuckDBWithGlobs(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	globs := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" || !hasShards(root) {
			continue
		}
		glob := filepath.Join(root, "**", "*.parquet")
		globs = append(globs, "'"+escapeSQLString(glob)+"'")
	}

	if len(globs) == 0 {
		_, err := db.Exec(`CREATE OR REPLACE VIEW positions AS
			SELECT * FROM (
				SELECT
					NULL::VARCHAR AS game_id,
					NULL::INTEGER AS ply,
					NULL::INTEGER AS symmetry,
					NULL::VARCHAR AS player,
					NULL::BLOB AS cells,
					NULL::INTEGER AS last_move,
					NULL::INTEGER AS move,
					NULL::VARCHAR AS state_format,
					NULL::BLOB AS state,
					NULL::REAL[] AS policy,
					NULL::REAL AS value,
					NULL::VARCHAR AS result,
					NULL::VARCHAR AS source,
					NULL::VARCHAR AS filename
			) WHERE 1=0`)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	sqlText := `CREATE OR REPLACE VIEW positions AS
		SELECT * FROM read_parquet([` + strings.Join(globs, ",") + `], filename=true, union_by_name=true)
		WHERE NOT contains(filename, '/tmp/')`
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// hasShards reports whether root holds at least one finished shard, so an
// empty root does not make read_parquet fail.
func hasShards(root string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "tmp" {
			return filepath.SkipDir
		}
		if !d.IsDir() && strings.HasSuffix(path, ".parquet") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func normalizeSort(sortKey string, sortDir string) (string, string) {
	sk := strings.ToLower(strings.TrimSpace(sortKey))
	sd := strings.ToLower(strings.TrimSpace(sortDir))
	if sd != "asc" && sd != "desc" {
		sd = "desc"
	}
	switch sk {
	case "time", "started", "started_ns":
		sk = "started_ns"
	case "id", "game", "game_id":
		sk = "game_id"
	case "plies", "turns":
		sk = "plies"
	case "result":
		sk = "result"
	case "file", "filename":
		sk = "file"
	default:
		sk = "started_ns"
		sd = "desc"
	}
	return sk, sd
}

func makeRelativeToRoots(filename string, roots []string) string {
	fn := strings.TrimSpace(filename)
	if fn == "" {
		return ""
	}
	best := fn
	bestLen := len(best)
	for _, r := range roots {
		root := strings.TrimSpace(r)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, fn)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		cand := filepath.ToSlash(filepath.Join(root, rel))
		if len(cand) < bestLen {
			best = cand
			bestLen = len(cand)
		}
	}
	return best
}

// queryAllGames loads all game summaries (used to build the cache).
func queryAllGames(ctx context.Context, db *sql.DB, roots []string) ([]GameSummary, error) {
	query := `SELECT
			game_id,
			try_cast(regexp_extract(MIN(filename), 'batch_([0-9]+)', 1) AS BIGINT) AS started_ns,
			COUNT(*) FILTER (WHERE symmetry = 0)::INTEGER AS plies,
			MIN(result)::VARCHAR AS result,
			bool_or(source = ?) AS augmented,
			MIN(filename)::VARCHAR AS file
		FROM positions
		GROUP BY game_id`

	rows, err := db.QueryContext(ctx, query, store.SourceAugmented)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GameSummary, 0, 1024)
	for rows.Next() {
		var g GameSummary
		var file string
		if err := rows.Scan(&g.GameID, &g.StartedNs, &g.Plies, &g.Result, &g.Augmented, &file); err != nil {
			return nil, err
		}
		g.SourceFile = makeRelativeToRoots(file, roots)
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// paginateGames sorts and paginates a games index in memory.
func paginateGames(games []GameSummary, limit, offset int, sortKey, sortDir string) []GameSummary {
	sk, sd := normalizeSort(sortKey, sortDir)

	sorted := make([]GameSummary, len(games))
	copy(sorted, games)

	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if sd == "desc" {
			a, b = b, a
		}
		switch sk {
		case "started_ns":
			switch {
			case a.StartedNs == nil && b.StartedNs == nil:
				return a.GameID < b.GameID
			case a.StartedNs == nil:
				return sd == "desc"
			case b.StartedNs == nil:
				return sd != "desc"
			case *a.StartedNs != *b.StartedNs:
				return *a.StartedNs < *b.StartedNs
			}
			return a.GameID < b.GameID
		case "plies":
			if a.Plies != b.Plies {
				return a.Plies < b.Plies
			}
		case "result":
			if a.Result != b.Result {
				return a.Result < b.Result
			}
		case "file":
			if a.SourceFile != b.SourceFile {
				return a.SourceFile < b.SourceFile
			}
		}
		return a.GameID < b.GameID
	})

	if offset >= len(sorted) {
		return []GameSummary{}
	}
	end := offset + limit
	if end > len(sorted) {
		end = len(sorted)
	}
	return sorted[offset:end]
}

func queryStats(ctx context.Context, db *sql.DB, fromNs int64, toNs int64, bucketNs int64) ([]StatsPoint, error) {
	query := `WITH games AS (
		SELECT
			game_id,
			try_cast(regexp_extract(MIN(filename), 'batch_([0-9]+)', 1) AS BIGINT) AS ts_ns,
			COUNT(*) FILTER (WHERE symmetry = 0)::BIGINT AS plies,
			MIN(result) AS result
		FROM positions
		GROUP BY game_id
	),
	filtered AS (
		SELECT *,
			(? + floor((ts_ns - ?)::DOUBLE / ?::DOUBLE) * ?)::BIGINT AS bucket_start_ns
		FROM games
		WHERE ts_ns IS NOT NULL AND ts_ns >= ? AND ts_ns <= ?
	)
	SELECT
		bucket_start_ns,
		COUNT(*)::BIGINT AS games,
		SUM(plies)::BIGINT AS total_plies,
		SUM(CASE WHEN result = 'X won' THEN 1 ELSE 0 END)::BIGINT AS x_wins,
		SUM(CASE WHEN result = 'O won' THEN 1 ELSE 0 END)::BIGINT AS o_wins,
		SUM(CASE WHEN result = 'draw' THEN 1 ELSE 0 END)::BIGINT AS draws
	FROM filtered
	GROUP BY bucket_start_ns
	ORDER BY bucket_start_ns ASC`

	rows, err := db.QueryContext(ctx, query, fromNs, fromNs, bucketNs, bucketNs, fromNs, toNs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := make([]StatsPoint, 0, 256)
	for rows.Next() {
		var p StatsPoint
		if err := rows.Scan(&p.TNs, &p.Games, &p.TotalPlies, &p.XWins, &p.OWins, &p.Draws); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

const turnColumns = `game_id, ply::INTEGER, player, cells, last_move::INTEGER, move::INTEGER, policy, value::REAL, result`

func scanTurn(scan func(dest ...any) error) (Turn, error) {
	var t Turn
	var cells []byte
	var policyAny any
	if err := scan(&t.GameID, &t.Ply, &t.Player, &cells, &t.LastMove, &t.Move, &policyAny, &t.Value, &t.Result); err != nil {
		return Turn{}, err
	}
	t.Policy = asFloat32Slice(policyAny)
	if err := fillTurnBoard(&t, cells); err != nil {
		return Turn{}, err
	}
	return t, nil
}

// queryTurns returns the untransformed positions of a game in ply order.
func queryTurns(ctx context.Context, db *sql.DB, gameID string) ([]Turn, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+turnColumns+`
		 FROM positions
		 WHERE game_id = ? AND symmetry = 0
		 ORDER BY ply ASC`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]Turn, 0, 81)
	for rows.Next() {
		t, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

func queryTurn(ctx context.Context, db *sql.DB, gameID string, ply int32) (Turn, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+turnColumns+`
		 FROM positions
		 WHERE game_id = ? AND ply = ? AND symmetry = 0
		 LIMIT 1`, gameID, ply)
	return scanTurn(row.Scan)
}
