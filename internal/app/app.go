// Package app assembles the daemon: config, logging, scheduler, run
// history and housekeeping.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"taskloop/internal/config"
	"taskloop/internal/eventbus"
	"taskloop/internal/notifier"
	"taskloop/internal/registry"
	"taskloop/internal/scheduler"
	"taskloop/internal/state"
	"taskloop/internal/storage"
	"taskloop/pkg/logx"
)

const defaultHousekeepingSpec = "@hourly"

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	reg     *registry.Registry
	sched   *scheduler.Service
	store   storage.Store
	notif   *notifier.Service
	counter *state.Counter

	mu      sync.Mutex
	managed map[string]struct{} // task names declared by the config file

	// lifeMu serializes Start and Stop; the fields below belong to it.
	lifeMu      sync.Mutex
	started     bool
	housekeeper *cron.Cron
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")
	cfgMgr := config.NewManager(cfgPath, boot)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})

	bus := eventbus.New()
	reg := registry.New(log.With(logx.String("svc", "registry")), bus)
	sched := scheduler.New(reg, bus, log.With(logx.String("svc", "scheduler")))

	store, err := storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path},
		log.With(logx.String("svc", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	notif := notifier.New(notifier.Config{RatePerSec: cfg.Notify.RatePerSec}, bus, store,
		log.With(logx.String("svc", "notifier")))

	return &App{
		cfgMgr:  cfgMgr,
		logSvc:  logSvc,
		log:     log,
		bus:     bus,
		reg:     reg,
		sched:   sched,
		store:   store,
		notif:   notif,
		counter: state.NewCounter(),
		managed: map[string]struct{}{},
	}, nil
}

// Scheduler exposes the scheduling façade for callers that add tasks
// programmatically alongside the config-declared ones.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// Bus exposes the notification stream.
func (a *App) Bus() eventbus.Bus { return a.bus }

// Counter exposes the shared state the builtin actions mutate.
func (a *App) Counter() *state.Counter { return a.counter }

func (a *App) Start(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.started {
		return nil
	}

	cfg := a.cfgMgr.Get()

	a.notif.Start(ctx)
	a.sched.Start(ctx)
	a.applyTasks(cfg)

	if err := a.startHousekeeping(ctx, cfg); err != nil {
		a.sched.Stop(ctx)
		a.notif.Stop()
		return err
	}

	// Config watch: file edits hot-load task definitions.
	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	updates := a.cfgMgr.Subscribe(1)
	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		_ = a.cfgMgr.Watch(watchCtx)
	}()
	go func() {
		defer a.watchWG.Done()
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-watchCtx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	}()

	a.started = true
	a.log.Info("taskloop started",
		logx.Int("tasks", len(cfg.Tasks)),
		logx.Bool("history", a.store != nil))
	return nil
}

// applyConfig reacts to a hot-reloaded config file.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	a.applyTasks(cfg)
	a.log.Info("config change applied", logx.Int("tasks", len(cfg.Tasks)))
}

func (a *App) startHousekeeping(ctx context.Context, cfg *config.Config) error {
	if a.store == nil {
		return nil
	}
	spec := strings.TrimSpace(cfg.Housekeeping.Schedule)
	if spec == "" {
		spec = defaultHousekeepingSpec
	}
	keep := cfg.Housekeeping.KeepRuns
	if keep <= 0 {
		keep = 1000
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		removed, err := a.store.PruneRuns(ctx, keep)
		if err != nil {
			a.log.Warn("run history prune failed", logx.Err(err))
			return
		}
		if removed > 0 {
			a.log.Debug("run history pruned", logx.Int64("removed", removed))
		}
	})
	if err != nil {
		return fmt.Errorf("housekeeping schedule %q: %w", spec, err)
	}
	c.Start()
	a.housekeeper = c
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false

	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
		a.watchWG.Wait()
	}
	if a.housekeeper != nil {
		<-a.housekeeper.Stop().Done()
		a.housekeeper = nil
	}
	a.sched.Stop(ctx)
	a.notif.Stop()
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("taskloop stopped")
	return a.logSvc.Close()
}
