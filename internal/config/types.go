package config

import (
	"fmt"
	"strings"

	"taskloop/internal/scheduler"
)

// Config is the daemon configuration file. Task entries are declarative
// definitions; editing the file while the daemon runs hot-loads them.
type Config struct {
	Log          LogConfig          `yaml:"log"`
	Storage      StorageConfig      `yaml:"storage"`
	Notify       NotifyConfig       `yaml:"notify"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Tasks        []TaskConfig       `yaml:"tasks"`
}

type LogConfig struct {
	Level   string  `yaml:"level"`
	Console bool    `yaml:"console"`
	File    LogFile `yaml:"file"`
}

type LogFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StorageConfig struct {
	// Driver: "file", "sqlite", or ""/"none" to disable run history.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type NotifyConfig struct {
	// RatePerSec caps how many bus events per second are forwarded to the
	// log; bursts beyond it are counted and dropped.
	RatePerSec int `yaml:"rate_per_sec"`
}

type HousekeepingConfig struct {
	// Schedule is a cron spec (or descriptor like "@hourly") for the
	// run-history prune job.
	Schedule string `yaml:"schedule"`
	// KeepRuns bounds the run history; older entries are pruned.
	KeepRuns int `yaml:"keep_runs"`
}

// TaskConfig declares one task. Condition and Action name builtin specs,
// e.g. condition "always" / "never" / "counter-below:100" and action
// "increment" / "log:some message". An empty condition means the task
// never fires its action.
type TaskConfig struct {
	Name      string `yaml:"name"`
	Interval  string `yaml:"interval"`
	Condition string `yaml:"condition"`
	Action    string `yaml:"action"`
}

// Validate rejects configs that would misbehave at runtime. It runs before
// a watched config is committed, so a broken edit never reaches the
// scheduler.
func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for i, t := range c.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d]: name required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, name)
		}
		seen[name] = struct{}{}
		if _, err := scheduler.ParseInterval(strings.TrimSpace(t.Interval)); err != nil {
			return fmt.Errorf("tasks[%d] (%s): %w", i, name, err)
		}
	}
	if c.Housekeeping.KeepRuns < 0 {
		return fmt.Errorf("housekeeping.keep_runs must be >= 0")
	}
	if c.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	return nil
}
