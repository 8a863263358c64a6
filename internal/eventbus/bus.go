package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies a lifecycle notification. Tests and the notifier match on
// these instead of log wording.
type Kind string

const (
	TaskRegistered Kind = "task.registered"
	TaskUpdated    Kind = "task.updated"
	TaskRemoved    Kind = "task.removed"

	LoopStarted   Kind = "loop.started"
	LoopDuplicate Kind = "loop.duplicate"
	LoopStopped   Kind = "loop.stopped"

	TaskRunning        Kind = "task.running"
	TaskFired          Kind = "task.fired"
	TaskCallbackFailed Kind = "task.callback_failed"
)

// Event is a lightweight, in-memory notification.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Task carries the task name the event concerns; Data is optional extra
// payload (small, ideally JSON-serializable).
type Event struct {
	Kind Kind
	Task string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; drop when the subscriber is behind.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
