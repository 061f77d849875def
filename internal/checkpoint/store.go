package checkpoint

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cstaal88/mina-pipeline/internal/config"
)

// Store persists checkpoints. Load never fails the run: a missing, corrupt,
// or stale checkpoint comes back as a fresh one bound to queryHash.
type Store interface {
	Load(topic, queryHash string) (*Checkpoint, error)
	Save(topic string, cp *Checkpoint) error
}

// FileStore keeps one JSON checkpoint file per topic in the data directory.
type FileStore struct {
	paths  config.DataConfig
	logger *slog.Logger
}

// NewFileStore returns a file-backed checkpoint store.
func NewFileStore(paths config.DataConfig, logger *slog.Logger) *FileStore {
	return &FileStore{paths: paths, logger: logger}
}

// Load reads the topic's checkpoint. A query hash mismatch discards the
// stored state entirely: completion claims made for a different query are
// worthless.
func (s *FileStore) Load(topic, queryHash string) (*Checkpoint, error) {
	path := s.paths.CheckpointFile(topic)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(queryHash), nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint file unreadable, starting fresh",
			"topic", topic, "path", path, "error", err)
		return New(queryHash), nil
	}

	if cp.QueryHash != queryHash {
		s.logger.Info("query changed, discarding checkpoint",
			"topic", topic, "old_hash", cp.QueryHash, "new_hash", queryHash)
		return New(queryHash), nil
	}

	if cp.Completed == nil {
		cp.Completed = map[string][]string{}
	}
	if cp.ExpectedCounts == nil {
		cp.ExpectedCounts = map[string]int{}
	}
	return &cp, nil
}

// Save writes the checkpoint atomically so a crash mid-save cannot corrupt
// the previous state.
func (s *FileStore) Save(topic string, cp *Checkpoint) error {
	path := s.paths.CheckpointFile(topic)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	Checkpoints map[string]*Checkpoint
	Saves       int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{Checkpoints: map[string]*Checkpoint{}}
}

// Load returns the stored checkpoint, applying the same query-invalidation
// rule as the file store.
func (s *MemoryStore) Load(topic, queryHash string) (*Checkpoint, error) {
	cp, ok := s.Checkpoints[topic]
	if !ok || cp.QueryHash != queryHash {
		return New(queryHash), nil
	}
	return cp, nil
}

// Save stores a copy-by-reference and counts the call.
func (s *MemoryStore) Save(topic string, cp *Checkpoint) error {
	s.Checkpoints[topic] = cp
	s.Saves++
	return nil
}
