package client

import "fmt"

type failureKind int

const (
	failNetwork failureKind = iota
	failStatus
	failTooLarge
	failParse
)

// FetchError classifies why a feed could not be pulled. It carries both a
// diagnostic rendering (Error) and a short user-presentable one
// (UserFriendly) suitable for subscriber-facing notifications.
type FetchError struct {
	kind   failureKind
	url    string
	status int
	cause  error
}

// NewFetchError wraps a low-level network failure for url.
func NewFetchError(url string, cause error) *FetchError {
	return &FetchError{kind: failNetwork, url: url, cause: cause}
}

func (e *FetchError) Error() string {
	switch e.kind {
	case failStatus:
		return fmt.Sprintf("fetching %s: unexpected HTTP status %d", e.url, e.status)
	case failTooLarge:
		return fmt.Sprintf("fetching %s: feed exceeds the size limit", e.url)
	case failParse:
		return fmt.Sprintf("parsing %s: %v", e.url, e.cause)
	default:
		return fmt.Sprintf("fetching %s: %v", e.url, e.cause)
	}
}

func (e *FetchError) Unwrap() error { return e.cause }

// UserFriendly renders the failure without URLs, stack context or library
// noise, for inclusion in messages pushed to subscribers.
func (e *FetchError) UserFriendly() string {
	switch e.kind {
	case failStatus:
		return fmt.Sprintf("server returned HTTP %d", e.status)
	case failTooLarge:
		return "feed is too large"
	case failParse:
		return "unable to parse the feed"
	default:
		return "network error"
	}
}
