// Package storage persists task run history.
//
// Two backends: a dependency-free JSON Lines file and SQLite (behind the
// "sqlite" build tag). Storage is optional; with no driver configured the
// daemon simply keeps no history.
package storage
