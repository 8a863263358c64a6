package scheduler

import (
	"context"
	"sort"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/registry"
	"taskloop/pkg/logx"
)

func New(reg *registry.Registry, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		reg:   reg,
		bus:   bus,
		loops: map[string]struct{}{},
		sleep: sleepCtx,
	}
}

// Schedule upserts a task definition: update when the name is live,
// register otherwise. It always succeeds.
func (s *Service) Schedule(task registry.Task) {
	if s.reg.Has(task.Name) {
		s.reg.Update(task)
		return
	}
	s.reg.Register(task)
}

// HotLoad introduces or replaces a task definition while the system is
// live. A running loop for the name picks the new definition up on its
// next tick.
func (s *Service) HotLoad(task registry.Task) { s.Schedule(task) }

// Deregister removes the task definition. Idempotent. A running loop for
// the name stops on its next tick; there is no immediate cancel.
func (s *Service) Deregister(name string) { s.reg.Deregister(name) }

// Start makes the service ready to spawn loops. Loops inherit ctx: when it
// is cancelled (or Stop is called) every sleep aborts and the loops drain.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info("scheduler started")
}

// Stop cancels all loops and waits for them to drain, up to ctx's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; loops draining in background")
	}
}

// StartLoop spawns a loop bound to name. It does not check that the name is
// registered: a loop for an absent name finds nothing on its first tick and
// stops immediately. It refuses to start a second loop for a name that
// already has a live one, reporting loop.duplicate instead, so a task can
// never fire twice per tick by accident.
func (s *Service) StartLoop(name string) bool {
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		s.log.Warn("scheduler not started; loop not spawned", logx.String("task", name))
		return false
	}
	if _, live := s.loops[name]; live {
		s.mu.Unlock()
		s.log.Warn("loop already running", logx.String("task", name))
		s.publish(eventbus.LoopDuplicate, name, nil)
		return false
	}
	s.loops[name] = struct{}{}
	ctx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.releaseLoop(name)
		s.runLoop(ctx, name)
	}()

	s.log.Debug("loop started", logx.String("task", name))
	s.publish(eventbus.LoopStarted, name, nil)
	return true
}

// LoopRunning reports whether a loop is currently bound to name.
func (s *Service) LoopRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, live := s.loops[name]
	return live
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.runCtx != nil
	loops := make([]string, 0, len(s.loops))
	for name := range s.loops {
		loops = append(loops, name)
	}
	s.mu.Unlock()
	sort.Strings(loops)

	return Snapshot{
		Running: running,
		Loops:   loops,
		Tasks:   s.reg.Snapshot(),
	}
}

func (s *Service) releaseLoop(name string) {
	s.mu.Lock()
	delete(s.loops, name)
	s.mu.Unlock()
}

func (s *Service) publish(kind eventbus.Kind, task string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Kind: kind, Task: task, Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
