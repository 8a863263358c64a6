package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskloop/pkg/logx"
)

// fileStore is a dependency-free persistence backend: an append-only JSON
// Lines file, compacted in place by PruneRuns via a tmp-file rename.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	if ext := filepath.Ext(path); ext == "" {
		path += ".runs.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendRun(ctx context.Context, e RunEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("run history file closed")
	}
	return json.NewEncoder(s.f).Encode(e)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAllLocked()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}

func (s *fileStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	_ = ctx
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, errors.New("run history file closed")
	}

	entries, err := s.readAllLocked()
	if err != nil {
		return 0, err
	}
	removed := len(entries) - keep
	if removed <= 0 {
		return 0, nil
	}
	entries = entries[removed:]

	// Rewrite via tmp + rename so a crash never loses the whole file.
	tmp := s.path + ".tmp"
	tf, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(tf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			_ = tf.Close()
			_ = os.Remove(tmp)
			return 0, err
		}
	}
	if err := tf.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}

	_ = s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		// Reopen the original so the store keeps working.
		s.f, _ = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		return 0, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return 0, err
	}
	s.f = f
	s.log.Debug("run history pruned", logx.Int("removed", removed), logx.Int("kept", len(entries)))
	return int64(removed), nil
}

func (s *fileStore) readAllLocked() ([]RunEntry, error) {
	rf, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rf.Close()

	var entries []RunEntry
	sc := bufio.NewScanner(rf)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e RunEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Tolerate a torn trailing line from a crashed writer.
			s.log.Warn("skipping corrupt run history line", logx.Err(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
