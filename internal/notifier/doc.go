// Package notifier turns run-state changes into operator alerts.
//
// Profile and bot state events from the event bus become notifications.
// A profile that stops or needs a reconnect raises an alert, and one that
// returns to RUNNING afterwards raises a recovery note. Notifications go
// through a bounded queue drained by a small worker pool. Each send is
// rate limited and retried with jittered backoff.
//
// # Dedup
//
// Identical notifications within DedupWindow are suppressed. With
// PersistDedup the suppress-until instants are written to the store so a
// restart loop does not flood the chat.
package notifier
