package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProcessedLog records which keys (shard paths or game IDs) a tool has
// already handled. It is backed by an append-only file with one key per line.
//
// The whole file is loaded on open. A torn final line after a crash is read
// back as an unknown key and simply reprocessed.
type ProcessedLog struct {
	mu   sync.RWMutex
	path string
	file *os.File
	seen map[string]struct{}
}

func OpenProcessedLog(path string) (*ProcessedLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	seen := make(map[string]struct{})
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			key := strings.TrimSpace(scanner.Text())
			if key == "" {
				continue
			}
			seen[key] = struct{}{}
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &ProcessedLog{path: path, file: file, seen: seen}, nil
}

func (l *ProcessedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *ProcessedLog) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[key]
	return ok
}

func (l *ProcessedLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

func (l *ProcessedLog) Add(key string) error {
	return l.AddMany([]string{key})
}

// AddMany appends keys not yet present and syncs once.
func (l *ProcessedLog) AddMany(keys []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	added := 0
	for _, key := range keys {
		if key == "" || strings.ContainsAny(key, "\r\n") {
			return fmt.Errorf("invalid key %q", key)
		}
		if _, ok := l.seen[key]; ok {
			continue
		}
		if _, err := l.file.WriteString(key + "\n"); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
		l.seen[key] = struct{}{}
		added++
	}
	if added == 0 {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}
