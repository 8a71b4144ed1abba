package session

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed reports an operation on a session that was already closed.
	ErrClosed = errors.New("session: closed")

	// ErrAlreadyOpen reports a second Open on the same session.
	ErrAlreadyOpen = errors.New("session: already open")

	// ErrLoadFailed reports a failed history load during Open.
	ErrLoadFailed = errors.New("session: history load failed")

	// ErrSubscriptionLost reports that the realtime channel dropped.
	// Recovery is an explicit re-open by the caller, never automatic.
	ErrSubscriptionLost = errors.New("session: realtime subscription lost")
)

// SendError reports a failed optimistic send. Text preserves the
// caller's original input so it can be offered back for retry.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("session: send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
