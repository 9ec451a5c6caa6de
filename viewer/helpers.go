package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/brensch/sigmazero/rules"
)

func withCORS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func parseInt64Query(r *http.Request, key string, def int64) int64 {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func asFloat32(v any) float32 {
	switch t := v.(type) {
	case float32:
		return t
	case float64:
		return float32(t)
	case int64:
		return float32(t)
	case int32:
		return float32(t)
	default:
		return 0
	}
}

func asFloat32Slice(v any) []float32 {
	if v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []float32:
		return vv
	case []float64:
		out := make([]float32, 0, len(vv))
		for _, x := range vv {
			out = append(out, float32(x))
		}
		return out
	case []any:
		out := make([]float32, 0, len(vv))
		for _, x := range vv {
			out = append(out, asFloat32(x))
		}
		return out
	default:
		return nil
	}
}

// fillTurnBoard decodes the stored cells into the turn's display fields.
func fillTurnBoard(t *Turn, cells []byte) error {
	s, err := rules.FromCells(cells, int(t.LastMove))
	if err != nil {
		return err
	}
	t.Cells = make([]int, len(cells))
	for i, c := range cells {
		t.Cells[i] = int(c)
	}
	t.Status = s.Status().String()
	t.Board = s.Board().String()
	return nil
}

func cellsToBytes(cells []int) []byte {
	out := make([]byte, len(cells))
	for i, c := range cells {
		if c < 0 || c > 255 {
			c = 255
		}
		out[i] = byte(c)
	}
	return out
}
