package core

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PID represents the unique identity of a process within a System.
// PIDs are allocated from a counter starting at 0 and are never reused.
type PID int64

// NoPID is used as the sender of signals that do not originate from a process.
const NoPID PID = -1

// String returns the Erlang-like representation of the PID.
func (p PID) String() string {
	if p == NoPID {
		return "<none>"
	}
	return fmt.Sprintf("<0.%d.0>", int64(p))
}

// Status represents the current state of a Process.
type Status uint8

const (
	// StatusStopped means the Process has been created but has not run yet
	StatusStopped Status = iota

	// StatusRunning means the Process is runnable or currently executing
	StatusRunning

	// StatusSuspended means the Process waits for a message
	StatusSuspended

	// StatusSleeping means the Process waits for a timer
	StatusSleeping

	// StatusExiting means the Process is being torn down
	StatusExiting
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusSleeping:
		return "sleeping"
	case StatusExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// Exit reasons. Any other non-nil error is treated as an abnormal reason.
var (
	// ReasonNormal is the reason of a process whose entry function returned nil
	ReasonNormal = errors.New("normal")

	// ReasonKill is delivered to linked processes as a message, never as a fatal signal
	ReasonKill = errors.New("kill")
)

// IsExempt reports whether reason never terminates the receiver of an exit signal.
func IsExempt(reason error) bool {
	return errors.Is(reason, ReasonNormal) || errors.Is(reason, ReasonKill)
}

// ExitMessage is delivered into the mailbox of a process that traps exits, or
// that receives an exit signal with an exempt reason.
type ExitMessage struct {
	// From is the process that sent the signal (NoPID for host code)
	From PID

	// Reason is the exit reason
	Reason error
}

// String returns a string representation of the exit message.
func (m ExitMessage) String() string {
	return fmt.Sprintf("{EXIT, %s, %v}", m.From, m.Reason)
}

// Flag names a process-scoped flag.
type Flag uint8

const (
	// FlagTrapExit converts incoming fatal exit signals into ExitMessage
	FlagTrapExit Flag = iota
)

// SchedulerOptions contains configuration for the Scheduler.
type SchedulerOptions struct {
	// ReductionBudget bounds the number of tasks executed per process per round
	ReductionBudget int

	// Throttle is the delay between scheduling rounds while work is pending
	Throttle time.Duration
}

// DefaultSchedulerOptions returns the default scheduler configuration.
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		ReductionBudget: 8,
		Throttle:        5 * time.Millisecond,
	}
}

// Options contains configuration options for creating a System.
type Options struct {
	// Scheduler configures the reduction budget and round throttle
	Scheduler SchedulerOptions

	// Logger receives runtime events. Defaults to a no-op logger.
	Logger *zap.Logger

	// Recorder receives runtime metrics. Defaults to NopRecorder.
	Recorder Recorder

	// RootProcess spawns an idle process with PID 0 when the System is created
	RootProcess bool
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Scheduler:   DefaultSchedulerOptions(),
		Logger:      zap.NewNop(),
		Recorder:    NopRecorder{},
		RootProcess: true,
	}
}

// ProcessInfo contains a runtime snapshot of a Process.
type ProcessInfo struct {
	// PID of the Process
	PID PID `json:"pid"`

	// Names registered for the Process
	Names []string `json:"names,omitempty"`

	// Current status
	Status Status `json:"-"`

	// StatusName is Status rendered as a string
	StatusName string `json:"status"`

	// Messages currently in the mailbox
	MailboxSize int `json:"mailbox_size"`

	// Linked processes
	Links []PID `json:"links,omitempty"`

	// TrapExit flag
	TrapExit bool `json:"trap_exit"`

	// Total executed steps
	Reductions uint64 `json:"reductions"`

	// Time when the Process was spawned
	SpawnedAt time.Time `json:"spawned_at"`
}
