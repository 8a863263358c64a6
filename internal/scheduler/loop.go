package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/registry"
	"taskloop/pkg/logx"
)

// runLoop is the per-task state machine: RUNNING until the bound name
// disappears from the registry, the interval stops parsing, or the
// scheduler shuts down. Stopping is final; re-registering the name later
// needs a fresh StartLoop.
func (s *Service) runLoop(ctx context.Context, name string) {
	for {
		if ctx.Err() != nil {
			s.publish(eventbus.LoopStopped, name, StopShutdown)
			return
		}

		task, ok := s.reg.Get(name)
		if !ok {
			s.log.Info("task not found, stopping loop", logx.String("task", name))
			s.publish(eventbus.LoopStopped, name, StopNotFound)
			return
		}

		s.log.Debug("running task", logx.String("task", name))
		s.publish(eventbus.TaskRunning, name, nil)

		// A task without a condition never fires its callback, even when
		// one is supplied. Deliberate: absence of a guard means "never",
		// not "always".
		if task.Condition != nil && s.evalCondition(name, task.Condition) {
			s.invoke(ctx, name, task)
		}

		every, err := ParseInterval(task.Interval)
		if err != nil {
			// Stopping beats sleeping an undefined duration.
			s.log.Error("bad task interval, stopping loop",
				logx.String("task", name), logx.String("interval", task.Interval), logx.Err(err))
			s.publish(eventbus.LoopStopped, name, StopBadInterval)
			return
		}

		if err := s.sleep(ctx, every); err != nil {
			s.publish(eventbus.LoopStopped, name, StopShutdown)
			return
		}
		// Next cycle re-reads the registry, so a hot-loaded definition
		// takes effect here.
	}
}

// evalCondition runs the predicate against a fresh registry snapshot.
// A panicking predicate counts as false: one broken task must not take its
// loop down.
func (s *Service) evalCondition(name string, cond registry.Predicate) (fire bool) {
	defer func() {
		if r := recover(); r != nil {
			fire = false
			s.log.Error("panic in task condition",
				logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			s.publish(eventbus.TaskCallbackFailed, name, RunReport{
				Task: name, Started: time.Now(), Error: fmt.Sprintf("condition panic: %v", r),
			})
		}
	}()
	return cond.Evaluate(s.reg.Snapshot())
}

// invoke runs the callback with a per-cycle error boundary: errors and
// panics are reported and the loop keeps ticking.
func (s *Service) invoke(ctx context.Context, name string, task registry.Task) {
	if task.OnComplete == nil {
		s.log.Debug("condition held but task has no callback", logx.String("task", name))
		return
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panic: %v", r)
				s.log.Error("panic in task callback",
					logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			}
		}()
		return task.OnComplete.Run(ctx)
	}()
	took := time.Since(start)

	report := RunReport{Task: name, Started: start, Duration: took}
	if err != nil {
		report.Error = err.Error()
		s.log.Warn("task callback failed",
			logx.String("task", name), logx.Duration("took", took), logx.Err(err))
		s.publish(eventbus.TaskCallbackFailed, name, report)
		return
	}
	s.log.Debug("task fired", logx.String("task", name), logx.Duration("took", took))
	s.publish(eventbus.TaskFired, name, report)
}
