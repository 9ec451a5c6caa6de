// Command viewer serves a JSON API over self-play training shards and runs
// on-demand searches for the analysis board.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brensch/sigmazero/config"
	"github.com/brensch/sigmazero/executor/inference"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:8080", "HTTP listen address")
	dataDirs := flag.String("data-dir", strings.Join(defaultDataDirs(), ","), "Comma-separated parquet roots")
	staticDir := flag.String("static-dir", "", "Optional directory with a built frontend to serve")
	evaluator := flag.String("evaluator", config.EvaluatorUniform, "Evaluator for /api/analyze: uniform, mlp or onnx")
	modelPath := flag.String("model", "", "Model path for the mlp and onnx evaluators")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	roots := parseDataRoots(*dataDirs)
	getPredictor := lazyPredictor(*evaluator, *modelPath)

	server := NewServer(roots, getPredictor)
	defer server.Close()

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	if dir := strings.TrimSpace(*staticDir); dir != "" {
		mux.Handle("/", spaHandler{staticPath: dir, indexPath: filepath.Join(dir, "index.html")})
		log.Info().Str("dir", dir).Msg("serving SPA")
	}

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", "http://"+*listen).Strs("roots", roots).Str("evaluator", *evaluator).Msg("viewer API listening")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("viewer stopped")
	}
}

// lazyPredictor builds the evaluator on first use so the viewer starts
// without a model.
func lazyPredictor(kind, modelPath string) func() (Predictor, error) {
	var once sync.Once
	var p Predictor
	var err error
	return func() (Predictor, error) {
		once.Do(func() {
			switch kind {
			case config.EvaluatorUniform:
				p = inference.UniformClient{}
			case config.EvaluatorMLP:
				p, err = inference.LoadMLPClient(modelPath, inference.DefaultMLPConfig())
			case config.EvaluatorOnnx:
				p, err = inference.NewOnnxClient(modelPath)
			default:
				err = fmt.Errorf("unsupported evaluator %q", kind)
			}
		})
		return p, err
	}
}

func defaultDataDirs() []string {
	preferred := []string{
		filepath.Join("data", "generated"),
		filepath.Join("data", "augmented"),
	}
	out := make([]string, 0, len(preferred))
	for _, p := range preferred {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		out = append(out, preferred[0])
	}
	return out
}

func parseDataRoots(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Serve exact static asset if exists; otherwise serve index.html for client-side routing.
	path := filepath.Clean(r.URL.Path)
	if path == "/" {
		http.ServeFile(w, r, h.indexPath)
		return
	}
	candidate := filepath.Join(h.staticPath, strings.TrimPrefix(path, "/"))
	if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
		http.ServeFile(w, r, candidate)
		return
	}
	http.ServeFile(w, r, h.indexPath)
}
