// Package notifier turns bus events into operator-visible output: a
// rate-limited log feed plus persistent run history.
package notifier

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"taskloop/internal/eventbus"
	"taskloop/internal/scheduler"
	"taskloop/internal/storage"
	"taskloop/pkg/logx"
)

type Config struct {
	// RatePerSec caps the log feed. Fast tasks (1s intervals) would
	// otherwise flood the log with task.running lines. 0 means default.
	RatePerSec int
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store // nil when history is disabled

	limiter *rate.Limiter
	dropped atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus, store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	return &Service{
		log:     log,
		bus:     bus,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ch, unsub := s.bus.Subscribe(256)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				s.handle(runCtx, e)
			}
		}
	}()
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Dropped reports how many events were withheld from the log feed by the
// rate limiter. Run history is never rate-limited.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

func (s *Service) handle(ctx context.Context, e eventbus.Event) {
	// Persist run outcomes first; the limiter only applies to log noise.
	if s.store != nil {
		switch e.Kind {
		case eventbus.TaskFired, eventbus.TaskCallbackFailed:
			if rep, ok := e.Data.(scheduler.RunReport); ok {
				entry := storage.RunEntry{
					At:     rep.Started,
					Task:   e.Task,
					OK:     e.Kind == eventbus.TaskFired,
					Error:  rep.Error,
					TookMS: rep.Duration.Milliseconds(),
				}
				if err := s.store.AppendRun(ctx, entry); err != nil {
					s.log.Warn("run history append failed", logx.String("task", e.Task), logx.Err(err))
				}
			}
		}
	}

	if !s.limiter.Allow() {
		s.dropped.Add(1)
		return
	}

	fields := []logx.Field{logx.String("event", string(e.Kind)), logx.String("task", e.Task)}
	switch e.Kind {
	case eventbus.TaskCallbackFailed:
		if rep, ok := e.Data.(scheduler.RunReport); ok {
			fields = append(fields, logx.String("error", rep.Error))
		}
		s.log.Warn("task event", fields...)
	case eventbus.LoopStopped:
		if reason, ok := e.Data.(scheduler.StopReason); ok {
			fields = append(fields, logx.String("reason", string(reason)))
		}
		s.log.Info("task event", fields...)
	case eventbus.TaskRunning:
		s.log.Debug("task event", fields...)
	default:
		s.log.Info("task event", fields...)
	}
}
