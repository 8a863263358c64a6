package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"taskloop/internal/config"
	"taskloop/internal/registry"
	"taskloop/internal/state"
	"taskloop/pkg/logx"
)

// buildTask turns a declarative task entry into a registry.Task with
// builtin condition/action implementations bound to the app's shared
// counter.
func (a *App) buildTask(tc config.TaskConfig) (registry.Task, error) {
	cond, err := a.buildCondition(tc.Condition)
	if err != nil {
		return registry.Task{}, err
	}
	action, err := a.buildAction(tc.Action)
	if err != nil {
		return registry.Task{}, err
	}
	return registry.Task{
		Name:       strings.TrimSpace(tc.Name),
		Interval:   strings.TrimSpace(tc.Interval),
		Condition:  cond,
		OnComplete: action,
	}, nil
}

// Builtin condition specs:
//
//	""                  no condition: the task never fires its action
//	"always"            fire every cycle
//	"never"             evaluate to false every cycle
//	"counter-below:N"   fire while the shared counter is below N
//	"if-registered:X"   fire while a task named X is registered
func (a *App) buildCondition(spec string) (registry.Predicate, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, nil
	case spec == "always":
		return registry.PredicateFunc(func(registry.Snapshot) bool { return true }), nil
	case spec == "never":
		return registry.PredicateFunc(func(registry.Snapshot) bool { return false }), nil
	case strings.HasPrefix(spec, "counter-below:"):
		raw := strings.TrimPrefix(spec, "counter-below:")
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("condition %q: bad threshold: %w", spec, err)
		}
		counter := a.counter
		return registry.PredicateFunc(func(registry.Snapshot) bool {
			return counter.Get() < n
		}), nil
	case strings.HasPrefix(spec, "if-registered:"):
		peer := strings.TrimSpace(strings.TrimPrefix(spec, "if-registered:"))
		if peer == "" {
			return nil, fmt.Errorf("condition %q: task name required", spec)
		}
		return registry.PredicateFunc(func(snap registry.Snapshot) bool {
			_, ok := snap[peer]
			return ok
		}), nil
	default:
		return nil, fmt.Errorf("unknown condition spec %q", spec)
	}
}

// Builtin action specs:
//
//	""            no action
//	"increment"   add 1 to the shared counter
//	"log:MSG"     write MSG to the log
func (a *App) buildAction(spec string) (registry.Callback, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, nil
	case spec == "increment":
		counter := a.counter
		return registry.CallbackFunc(func(context.Context) error {
			state.Incr(counter, 1)
			return nil
		}), nil
	case strings.HasPrefix(spec, "log:"):
		msg := strings.TrimPrefix(spec, "log:")
		log := a.log
		return registry.CallbackFunc(func(context.Context) error {
			log.Info(msg)
			return nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown action spec %q", spec)
	}
}

// applyTasks reconciles the registry with a config's task list: upserts
// every declared task (starting a loop when none is live) and deregisters
// tasks this app declared previously that have disappeared from the file.
// Tasks scheduled through other means are left alone.
func (a *App) applyTasks(cfg *config.Config) {
	declared := map[string]struct{}{}
	for _, tc := range cfg.Tasks {
		task, err := a.buildTask(tc)
		if err != nil {
			a.log.Warn("skipping task with bad spec", logx.String("task", tc.Name), logx.Err(err))
			continue
		}
		declared[task.Name] = struct{}{}
		a.sched.HotLoad(task)
		if !a.sched.LoopRunning(task.Name) {
			a.sched.StartLoop(task.Name)
		}
	}

	a.mu.Lock()
	previous := a.managed
	a.managed = declared
	a.mu.Unlock()

	for name := range previous {
		if _, still := declared[name]; !still {
			a.sched.Deregister(name)
		}
	}
}
