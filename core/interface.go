package core

import (
	"context"
)

// Runtime is the host-facing surface of a process system.
type Runtime interface {
	// Start runs the scheduler in the background.
	Start() error

	// Shutdown stops scheduling and terminates every live process.
	Shutdown(ctx context.Context) error

	// Spawn starts a new process running entry.
	Spawn(entry EntryFunc, args ...any) PID

	// SpawnModule starts a new process running a named function of mod.
	SpawnModule(mod Module, name string, args ...any) (PID, error)

	// Send delivers msg to a PID, *Process or registered name.
	Send(to any, msg any) (any, error)

	// Exit sends an exit signal to pid.
	Exit(pid PID, reason error)

	// Register binds name to pid.
	Register(name string, pid PID) error

	// Registered returns the PID bound to name.
	Registered(name string) (PID, bool)

	// Unregister removes every name bound to pid.
	Unregister(pid PID)

	Inspector
}

// Inspector exposes read-only views of live processes.
type Inspector interface {
	// Count returns the number of live processes.
	Count() int

	// Info returns a snapshot of pid.
	Info(pid PID) (ProcessInfo, bool)

	// Processes returns snapshots of every live process ordered by PID.
	Processes() []ProcessInfo
}

var _ Runtime = (*System)(nil)
