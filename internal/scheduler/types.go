package scheduler

import (
	"context"
	"sync"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/registry"
	"taskloop/pkg/logx"
)

// StopReason explains why a loop terminated. Carried as the Data payload of
// loop.stopped events.
type StopReason string

const (
	// StopNotFound: the bound name had no registry entry this tick.
	// Expected control flow, not a failure.
	StopNotFound StopReason = "not_found"
	// StopBadInterval: the task's interval string failed to parse.
	StopBadInterval StopReason = "bad_interval"
	// StopShutdown: the scheduler itself is stopping.
	StopShutdown StopReason = "shutdown"
)

// RunReport is the Data payload of task.fired / task.callback_failed events.
type RunReport struct {
	Task     string
	Started  time.Time
	Duration time.Duration
	Error    string
}

// Service owns the per-task loops and is the public entry point for
// scheduling: register/update/deregister task definitions and start loops
// bound to task names.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	reg *registry.Registry
	bus eventbus.Bus

	runCtx    context.Context
	runCancel context.CancelFunc
	loops     map[string]struct{}
	wg        sync.WaitGroup

	// sleep suspends the calling loop for d or until ctx is done.
	// Swappable so tests drive loops with a virtual clock.
	sleep func(ctx context.Context, d time.Duration) error
}

// Snapshot is a point-in-time view of the scheduler for introspection.
type Snapshot struct {
	Running bool
	Loops   []string
	Tasks   registry.Snapshot
}
