package config

import (
	"os"
	"path/filepath"
	"testing"

	"taskloop/pkg/logx"
)

const sampleYAML = `
log:
  level: debug
  console: true
storage:
  driver: file
  path: ./data/taskloop
notify:
  rate_per_sec: 10
housekeeping:
  schedule: "@hourly"
  keep_runs: 500
tasks:
  - name: heartbeat
    interval: 30s
    condition: always
    action: increment
  - name: quiet
    interval: 5m
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskloop.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, sampleYAML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Log.Level)
	}
	if len(cfg.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(cfg.Tasks))
	}
	if cfg.Tasks[0].Name != "heartbeat" || cfg.Tasks[0].Interval != "30s" {
		t.Fatalf("unexpected first task: %+v", cfg.Tasks[0])
	}
	if cfg.Tasks[1].Condition != "" {
		t.Fatalf("quiet task should have no condition, got %q", cfg.Tasks[1].Condition)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := NewManager(writeTemp(t, "lgo:\n  level: info\n"), logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for misspelled top-level key")
	}
}

func TestValidateRejectsBadTasks(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"bad interval", "tasks:\n  - name: a\n    interval: 5x\n"},
		{"missing name", "tasks:\n  - interval: 5m\n"},
		{"duplicate name", "tasks:\n  - name: a\n    interval: 5m\n  - name: a\n    interval: 1h\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeTemp(t, tt.yaml), logx.Nop())
			if _, err := m.Load(); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestReloadPublishesToSubscribers(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, sampleYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := "tasks:\n  - name: fresh\n    interval: 1h\n"
	if err := os.WriteFile(path, []byte(next), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reloadOnce()

	select {
	case cfg := <-ch:
		if len(cfg.Tasks) != 1 || cfg.Tasks[0].Name != "fresh" {
			t.Fatalf("unexpected published config: %+v", cfg.Tasks)
		}
	default:
		t.Fatal("changed config was not published")
	}
}

func TestReloadSkipsUnchangedAndInvalid(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, sampleYAML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Same content: no publish.
	m.reloadOnce()
	if len(ch) != 0 {
		t.Fatal("unchanged config was republished")
	}

	// Invalid content: rejected, previous config stays committed.
	if err := os.WriteFile(path, []byte("tasks:\n  - name: bad\n    interval: nope\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reloadOnce()
	if len(ch) != 0 {
		t.Fatal("invalid config was published")
	}
	if got := m.Get(); len(got.Tasks) != 2 {
		t.Fatalf("committed config changed after invalid reload: %+v", got.Tasks)
	}
}
