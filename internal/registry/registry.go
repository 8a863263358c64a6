// Package registry holds the live task definitions.
//
// The registry is the single source of truth for what each named task
// currently does: scheduler loops re-read it every cycle, so replacing an
// entry here is what makes a hot reload take effect.
package registry

import (
	"sync"

	"taskloop/internal/eventbus"
	"taskloop/pkg/logx"
)

// Registry is a concurrent name -> Task map.
//
// Writes are atomic at the granularity of one entry; Snapshot returns a
// state that existed at some instant (not necessarily the latest).
// Construct with New and pass by reference: there is deliberately no
// package-level instance, so independent schedulers can coexist in tests.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task

	log logx.Logger
	bus eventbus.Bus
}

func New(log logx.Logger, bus eventbus.Bus) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		tasks: map[string]Task{},
		log:   log,
		bus:   bus,
	}
}

// Register inserts task under task.Name, overwriting any existing entry.
// It always succeeds.
func (r *Registry) Register(task Task) {
	r.put(task, false)
}

// Update replaces the entry for task.Name. Semantically identical to
// Register; the separate entry point only changes which event is emitted.
func (r *Registry) Update(task Task) {
	r.put(task, true)
}

func (r *Registry) put(task Task, update bool) {
	r.mu.Lock()
	_, existed := r.tasks[task.Name]
	r.tasks[task.Name] = task
	r.mu.Unlock()

	kind := eventbus.TaskRegistered
	msg := "task registered"
	// "update" vs "register" is telemetry only; behavior is identical.
	if update || existed {
		kind = eventbus.TaskUpdated
		msg = "task updated"
	}
	r.log.Info(msg, logx.String("task", task.Name), logx.String("interval", task.Interval))
	r.publish(kind, task.Name)
}

// Deregister removes the entry for name if present. Removing an absent
// name is a no-op, not an error.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	_, existed := r.tasks[name]
	delete(r.tasks, name)
	r.mu.Unlock()

	if !existed {
		return
	}
	r.log.Info("task removed", logx.String("task", name))
	r.publish(eventbus.TaskRemoved, name)
}

// Get returns the current Task for name.
func (r *Registry) Get(name string) (Task, bool) {
	r.mu.RLock()
	t, ok := r.tasks[name]
	r.mu.RUnlock()
	return t, ok
}

// Has reports whether name currently has an entry.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Snapshot returns a point-in-time-consistent copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(Snapshot, len(r.tasks))
	for name, t := range r.tasks {
		snap[name] = t
	}
	return snap
}

// Names returns the current task names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}

func (r *Registry) publish(kind eventbus.Kind, task string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{Kind: kind, Task: task})
}
