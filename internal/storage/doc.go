// Package storage persists what must survive a restart: per-unit schedule
// state, the transition journal operators read back, and notifier dedup
// windows.
//
// Drivers: "sqlite" (modernc.org/sqlite, pure Go) and "file" (JSON Lines
// journal compacted into a msgpack snapshot). An empty or "none" driver
// disables persistence and Open returns a nil Store.
package storage
