package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver string
	Path   string
}

// RunEntry records one task callback invocation.
// Keep it compact and schema-stable.
type RunEntry struct {
	At     time.Time `json:"at"`
	Task   string    `json:"task"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
