package registry

import "context"

// Task is the unit of schedulable work.
//
// A Task is immutable once constructed: "updating" a task means replacing
// the registry entry under the same name, never mutating fields in place.
type Task struct {
	// Name is the registry key; at most one live task per name.
	Name string
	// Interval is the repeat period, e.g. "30s", "5m", "2h".
	// It is re-parsed every cycle so a hot-loaded value takes effect
	// on the next tick.
	Interval string
	// Condition guards OnComplete. A task without a Condition never fires
	// its callback, even when one is supplied. (Deliberate; see Predicate.)
	Condition Predicate
	// OnComplete runs when Condition evaluates true.
	OnComplete Callback
}

// Snapshot is a point-in-time-consistent copy of the registry contents.
// Condition predicates receive it so they can inspect sibling tasks
// without racing registry writers.
type Snapshot map[string]Task

// Predicate decides whether a task's callback should run this cycle.
//
// It is an interface rather than a bare func so implementations can be
// mocked and wrapped with error boundaries.
type Predicate interface {
	Evaluate(snap Snapshot) bool
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(snap Snapshot) bool

func (f PredicateFunc) Evaluate(snap Snapshot) bool { return f(snap) }

// Callback is a task's side-effecting completion action.
type Callback interface {
	Run(ctx context.Context) error
}

// CallbackFunc adapts a plain function to Callback.
type CallbackFunc func(ctx context.Context) error

func (f CallbackFunc) Run(ctx context.Context) error { return f(ctx) }
