// Package storage is the durable feed store: subscriptions, last-seen
// item state and down-time bookkeeping.
//
// The in-memory model is the source of truth. Every exposed operation
// takes the store lock, so operations appear instantaneous to the many
// goroutines of the fetch pipeline, and mutations are flushed to the
// configured driver (file snapshot or SQLite) before the lock is
// released. The store is never held across a network call.
package storage
