package core

import (
	"reflect"
	"time"

	"github.com/pkg/errors"
)

// Control is a request yielded by a process computation at a checkpoint.
// The set of requests is closed: Continue, Suspend, SleepFor and ReceiveUntil.
type Control interface {
	control()
}

// Continue re-queues the process for the next scheduling round.
type Continue struct{}

// Suspend parks the process until it is woken by a message.
type Suspend struct{}

// SleepFor parks the process until Duration has elapsed.
type SleepFor struct {
	Duration time.Duration
}

// ReceiveUntil performs a selective receive on the process mailbox.
type ReceiveUntil struct {
	// Match is applied to each message front to back
	Match Matcher

	// Deadline bounds the wait. The zero value waits forever.
	Deadline time.Time

	// OnTimeout produces the result once Deadline has passed. Nil yields true.
	OnTimeout func() any
}

// exited is produced by the coroutine itself when the computation finishes.
type exited struct {
	reason error
}

func (Continue) control() {}
func (Suspend) control() {}
func (SleepFor) control() {}
func (ReceiveUntil) control() {}
func (exited) control() {}

func (r ReceiveUntil) expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

func (r ReceiveUntil) timeout() any {
	if r.OnTimeout == nil {
		return true
	}
	return r.OnTimeout()
}

// Matcher inspects a message during selective receive. It returns the value
// handed back to the computation, or ErrNoMatch to leave the message in place.
// Matchers run while the System is locked and must not call back into it.
type Matcher func(msg any) (any, error)

// MatchAny accepts the first message in the mailbox.
func MatchAny() Matcher {
	return func(msg any) (any, error) {
		return msg, nil
	}
}

// MatchFunc accepts messages for which pred returns true.
func MatchFunc(pred func(msg any) bool) Matcher {
	return func(msg any) (any, error) {
		if pred(msg) {
			return msg, nil
		}
		return nil, ErrNoMatch
	}
}

// MatchEqual accepts messages deeply equal to v.
func MatchEqual(v any) Matcher {
	return MatchFunc(func(msg any) bool {
		return reflect.DeepEqual(msg, v)
	})
}

// MatchType accepts messages of type T.
func MatchType[T any]() Matcher {
	return func(msg any) (any, error) {
		if v, ok := msg.(T); ok {
			return v, nil
		}
		return nil, ErrNoMatch
	}
}

// MatchExit accepts ExitMessage notifications.
func MatchExit() Matcher {
	return MatchType[ExitMessage]()
}

func isNoMatch(err error) bool {
	return errors.Is(err, ErrNoMatch)
}
