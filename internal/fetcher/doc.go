// Package fetcher is the refresh pipeline: a due-time queue of feeds, a
// throttle that smooths fetch start times, and the orchestrator that
// pulls feeds, diffs them against the store and fans updates out to
// subscribers.
package fetcher
