package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"taskloop/internal/eventbus"
	"taskloop/internal/registry"
	"taskloop/internal/state"
	"taskloop/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *vclock, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	reg := registry.New(logx.Nop(), bus)
	s := New(reg, bus, logx.Nop())
	clk := &vclock{}
	s.sleep = clk.sleep
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, clk, bus
}

func always() registry.Predicate {
	return registry.PredicateFunc(func(registry.Snapshot) bool { return true })
}

func incr(c *state.Counter) registry.Callback {
	return registry.CallbackFunc(func(context.Context) error {
		state.Incr(c, 1)
		return nil
	})
}

// drainKinds empties whatever is currently buffered on ch and counts
// events per kind.
func drainKinds(ch <-chan eventbus.Event) map[eventbus.Kind]int {
	got := map[eventbus.Kind]int{}
	for {
		select {
		case e := <-ch:
			got[e.Kind]++
		default:
			return got
		}
	}
}

func waitKind(t *testing.T, ch <-chan eventbus.Event, kind eventbus.Kind) eventbus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("event %s not observed in time", kind)
		}
	}
}

func TestHotSwapTakesEffectNextCycle(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t)
	old := state.NewCounter()
	repl := state.NewCounter()

	s.Schedule(registry.Task{Name: "job", Interval: "1s", Condition: always(), OnComplete: incr(old)})
	if !s.StartLoop("job") {
		t.Fatal("StartLoop refused a fresh name")
	}
	clk.waitSleepers(t, 1)
	if old.Get() != 1 {
		t.Fatalf("old counter = %d after first cycle, want 1", old.Get())
	}

	// Replace the definition while the loop sleeps; the next tick must use
	// the new interval, condition and callback.
	s.HotLoad(registry.Task{Name: "job", Interval: "2s", Condition: always(), OnComplete: incr(repl)})
	clk.advanceTo(1 * time.Second)
	clk.waitSleepers(t, 1)

	if old.Get() != 1 {
		t.Fatalf("old callback still firing after hot swap: %d", old.Get())
	}
	if repl.Get() != 1 {
		t.Fatalf("replacement counter = %d, want 1", repl.Get())
	}

	// The new 2s interval governs the next wake-up: nothing happens at +1s.
	clk.advanceTo(2 * time.Second)
	clk.waitSleepers(t, 1)
	if repl.Get() != 1 {
		t.Fatalf("replacement fired early: %d", repl.Get())
	}
	clk.advanceTo(3 * time.Second)
	clk.waitSleepers(t, 1)
	if repl.Get() != 2 {
		t.Fatalf("replacement counter = %d after new interval elapsed, want 2", repl.Get())
	}
}

func TestAbsentConditionNeverFires(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t)
	c := state.NewCounter()

	// Callback supplied but no condition: the callback must never run.
	s.Schedule(registry.Task{Name: "mute", Interval: "1s", OnComplete: incr(c)})
	s.StartLoop("mute")
	clk.waitSleepers(t, 1)

	for i := 1; i <= 5; i++ {
		clk.advanceTo(time.Duration(i) * time.Second)
		clk.waitSleepers(t, 1)
	}
	if c.Get() != 0 {
		t.Fatalf("callback fired %d times for a condition-less task", c.Get())
	}
}

func TestStopOnRemoval(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t)
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	c := state.NewCounter()

	s.Schedule(registry.Task{Name: "gone", Interval: "1s", Condition: always(), OnComplete: incr(c)})
	s.StartLoop("gone")
	clk.waitSleepers(t, 1)

	s.Deregister("gone")
	clk.advanceTo(1 * time.Second)

	waitFor(t, func() bool { return !s.LoopRunning("gone") })
	e := waitKind(t, ch, eventbus.LoopStopped)
	if e.Data != StopNotFound {
		t.Fatalf("stop reason = %v, want %v", e.Data, StopNotFound)
	}

	// The loop never resumes on its own.
	fired := c.Get()
	clk.advanceTo(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if c.Get() != fired {
		t.Fatal("loop fired after its name was deregistered")
	}
}

func TestLoopForAbsentNameStopsImmediately(t *testing.T) {
	t.Parallel()
	s, _, bus := newTestService(t)
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	if !s.StartLoop("ghost") {
		t.Fatal("StartLoop must spawn even for an unregistered name")
	}
	e := waitKind(t, ch, eventbus.LoopStopped)
	if e.Task != "ghost" || e.Data != StopNotFound {
		t.Fatalf("unexpected stop event: %+v", e)
	}
	waitFor(t, func() bool { return !s.LoopRunning("ghost") })
}

func TestDuplicateLoopGuard(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t)
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	c := state.NewCounter()

	s.Schedule(registry.Task{Name: "solo", Interval: "1s", Condition: always(), OnComplete: incr(c)})
	if !s.StartLoop("solo") {
		t.Fatal("first StartLoop refused")
	}
	clk.waitSleepers(t, 1)
	if s.StartLoop("solo") {
		t.Fatal("second StartLoop for a live name must be refused")
	}
	waitKind(t, ch, eventbus.LoopDuplicate)

	// Exactly one fire per tick: the refused duplicate must not double up.
	clk.advanceTo(1 * time.Second)
	clk.waitSleepers(t, 1)
	if c.Get() != 2 {
		t.Fatalf("counter = %d after two cycles, want 2", c.Get())
	}

	// Once the loop is gone, the name is free again.
	s.Deregister("solo")
	clk.advanceTo(2 * time.Second)
	waitFor(t, func() bool { return !s.LoopRunning("solo") })
	s.Schedule(registry.Task{Name: "solo", Interval: "1s", Condition: always(), OnComplete: incr(c)})
	if !s.StartLoop("solo") {
		t.Fatal("StartLoop refused after previous loop terminated")
	}
}

func TestBadIntervalStopsLoop(t *testing.T) {
	t.Parallel()
	s, _, bus := newTestService(t)
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	s.Schedule(registry.Task{Name: "broken", Interval: "5x"})
	s.StartLoop("broken")

	e := waitKind(t, ch, eventbus.LoopStopped)
	if e.Data != StopBadInterval {
		t.Fatalf("stop reason = %v, want %v", e.Data, StopBadInterval)
	}
	waitFor(t, func() bool { return !s.LoopRunning("broken") })
}

func TestCallbackFailuresAreIsolated(t *testing.T) {
	t.Parallel()
	s, clk, bus := newTestService(t)
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	var calls atomic.Int64
	cb := registry.CallbackFunc(func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("boom")
		case 2:
			panic("kaboom")
		default:
			return nil
		}
	})
	s.Schedule(registry.Task{Name: "flaky", Interval: "1s", Condition: always(), OnComplete: cb})
	s.StartLoop("flaky")
	clk.waitSleepers(t, 1)

	clk.advanceTo(1 * time.Second) // panic cycle
	clk.waitSleepers(t, 1)
	clk.advanceTo(2 * time.Second) // healthy cycle
	clk.waitSleepers(t, 1)

	if calls.Load() != 3 {
		t.Fatalf("callback ran %d times, want 3 (loop must survive failures)", calls.Load())
	}
	if !s.LoopRunning("flaky") {
		t.Fatal("loop died from a callback failure")
	}
	got := drainKinds(ch)
	if got[eventbus.TaskCallbackFailed] != 2 {
		t.Fatalf("task.callback_failed seen %d times, want 2", got[eventbus.TaskCallbackFailed])
	}
	if got[eventbus.TaskFired] != 1 {
		t.Fatalf("task.fired seen %d times, want 1", got[eventbus.TaskFired])
	}
}

func TestAtomicAggregationAcrossLoops(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t)
	shared := state.NewCounter()

	const loops = 8
	for i := 0; i < loops; i++ {
		name := fmt.Sprintf("agg-%d", i)
		s.Schedule(registry.Task{Name: name, Interval: "1s", Condition: always(), OnComplete: incr(shared)})
		s.StartLoop(name)
	}
	clk.waitSleepers(t, loops)

	const ticks = 10
	for i := 1; i <= ticks; i++ {
		clk.advanceTo(time.Duration(i) * time.Second)
		clk.waitSleepers(t, loops)
	}

	// Every loop fired once at start plus once per tick; no increment may
	// be lost regardless of interleaving.
	want := int64(loops * (ticks + 1))
	if got := shared.Get(); got != want {
		t.Fatalf("counter = %d, want %d", got, want)
	}
}

func TestTwoTaskScenario(t *testing.T) {
	t.Parallel()
	s, clk, _ := newTestService(t)
	shared := state.NewCounter()
	var aFires, bFires atomic.Int64

	mk := func(fires *atomic.Int64) registry.Callback {
		return registry.CallbackFunc(func(context.Context) error {
			fires.Add(1)
			state.Incr(shared, 1)
			return nil
		})
	}
	s.Schedule(registry.Task{Name: "a", Interval: "2s", Condition: always(), OnComplete: mk(&aFires)})
	s.Schedule(registry.Task{Name: "b", Interval: "3s", Condition: always(), OnComplete: mk(&bFires)})
	s.StartLoop("a")
	s.StartLoop("b")

	// Both fire immediately, then a at 2s and 4s, b at 3s; six seconds of
	// virtual time pass without processing the t=6 ticks.
	clk.waitSleepers(t, 2)
	for _, step := range []time.Duration{2, 3, 4} {
		clk.advanceTo(step * time.Second)
		clk.waitSleepers(t, 2)
	}

	if got := aFires.Load(); got != 3 {
		t.Fatalf("task a fired %d times, want 3", got)
	}
	if got := bFires.Load(); got != 2 {
		t.Fatalf("task b fired %d times, want 2", got)
	}
	if got := shared.Get(); got != 5 {
		t.Fatalf("shared counter = %d, want 5 (lost updates)", got)
	}
}

func TestScheduleUpsertsAndStartRequiresService(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	reg := registry.New(logx.Nop(), bus)
	s := New(reg, bus, logx.Nop())

	// Not started yet: loops are refused, scheduling still works.
	s.Schedule(registry.Task{Name: "early", Interval: "1s"})
	if s.StartLoop("early") {
		t.Fatal("StartLoop must refuse before Start")
	}

	ch, unsub := bus.Subscribe(16)
	defer unsub()
	s.Schedule(registry.Task{Name: "early", Interval: "2s"})
	e := waitKind(t, ch, eventbus.TaskUpdated)
	if e.Task != "early" {
		t.Fatalf("update event for %q, want early", e.Task)
	}
	got, _ := reg.Get("early")
	if got.Interval != "2s" {
		t.Fatalf("Interval = %q after upsert, want 2s", got.Interval)
	}
}

func TestStopDrainsLoops(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	reg := registry.New(logx.Nop(), bus)
	s := New(reg, bus, logx.Nop())
	clk := &vclock{}
	s.sleep = clk.sleep
	s.Start(context.Background())

	s.Schedule(registry.Task{Name: "drain", Interval: "1h", Condition: always()})
	s.StartLoop("drain")
	clk.waitSleepers(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.LoopRunning("drain") {
		t.Fatal("loop still live after Stop")
	}
	if snap := s.Snapshot(); snap.Running {
		t.Fatal("snapshot reports running after Stop")
	}
}
