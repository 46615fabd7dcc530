package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the closed taxonomy of transport failures the delivery
// pipeline knows how to handle. Anything else is KindOther.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindBlocked
	KindKicked
	KindDeactivated
	KindChatNotFound
	KindNotEnoughRights
	KindMigrated
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindKicked:
		return "kicked"
	case KindDeactivated:
		return "deactivated"
	case KindChatNotFound:
		return "chat not found"
	case KindNotEnoughRights:
		return "not enough rights"
	case KindMigrated:
		return "chat migrated"
	case KindRateLimited:
		return "rate limited"
	default:
		return "other"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind        ErrorKind
	Description string
	RetryAfter  time.Duration // set when Kind == KindRateLimited
	MigratedTo  int64         // set when Kind == KindMigrated
}

func (e *Error) Error() string {
	if e.Description == "" {
		return "telegram: " + e.Kind.String()
	}
	return fmt.Sprintf("telegram: %s: %s", e.Kind, e.Description)
}

// PermanentlyUnreachable reports whether the recipient can never be
// reached again and should be unsubscribed. Unclassified errors still
// count when their description matches a known "chat is gone" phrase.
func (e *Error) PermanentlyUnreachable() bool {
	switch e.Kind {
	case KindBlocked, KindKicked, KindDeactivated, KindChatNotFound, KindNotEnoughRights:
		return true
	}
	return e.Kind == KindOther && ChatIsUnavailable(e.Description)
}

// AsError unwraps err into a classified *Error, if it is one.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// ChatIsUnavailable matches API error descriptions that mean the chat is
// gone for good but that the platform does not surface as a dedicated
// error code.
func ChatIsUnavailable(desc string) bool {
	return strings.Contains(desc, "Forbidden") ||
		strings.Contains(desc, "chat not found") ||
		strings.Contains(desc, "have no rights") ||
		strings.Contains(desc, "need administrator rights")
}
