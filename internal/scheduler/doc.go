// Package scheduler runs one timer-driven loop per registered task name.
//
// # Overview
//
// A loop is bound to a task NAME, not to a task value: every cycle it
// re-reads the registry, so replacing a definition (hot load) takes effect
// on the very next tick without restarting the loop. Removing the registry
// entry is the only per-task cancellation mechanism; the loop notices the
// absence on its next tick, reports it, and stops for good.
//
// # Cycle
//
// Each cycle: look up the task; if absent, stop. Otherwise evaluate the
// task's condition against a registry snapshot and, when it holds, run the
// completion callback. Callback errors and panics are contained to the
// cycle: they are reported and the loop keeps ticking. Finally the task's
// interval string is parsed and the loop sleeps for that duration. An
// interval that fails to parse stops the loop rather than sleeping for an
// undefined period.
//
// # Lifecycle
//
// The Service must be started before loops can be spawned; stopping it
// cancels every loop's sleep and waits for them to drain. StartLoop guards
// against duplicate loops per name: a second loop for a live name is
// refused (reported as a loop.duplicate event).
package scheduler
