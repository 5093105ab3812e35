package core

import (
	"time"

	"github.com/pkg/errors"
)

// EntryFunc is the computation run by a process. Returning nil ends the
// process with ReasonNormal, returning an error ends it with that reason.
type EntryFunc func(p *Process, args ...any) error

// Module groups entry functions by name for SpawnModule.
type Module map[string]EntryFunc

// Process is a lightweight logical process. The *Process handed to an
// EntryFunc is the only way for the computation to reach the System, and
// its methods must only be called from that computation.
type Process struct {
	pid    PID
	system *System
	entry  EntryFunc
	args   []any
	co     *coroutine

	// Fields below are guarded by system.mu
	mailbox    *Mailbox
	status     Status
	dict       map[string]any
	trapExit   bool
	reductions uint64
	receiveSeq uint64
	armed      uint64
	disarm     func()
	spawnedAt  time.Time
}

func newProcess(system *System, pid PID, entry EntryFunc, args []any) *Process {
	return &Process{
		pid:       pid,
		system:    system,
		entry:     entry,
		args:      args,
		co:        newCoroutine(),
		mailbox:   NewMailbox(),
		status:    StatusStopped,
		dict:      make(map[string]any),
		spawnedAt: time.Now(),
	}
}

// Self returns the PID of the process.
func (p *Process) Self() PID {
	return p.pid
}

// System returns the System the process belongs to.
func (p *Process) System() *System {
	return p.system
}

// Checkpoint yields ctrl to the driver and parks until resumed. It returns
// the value the computation is resumed with.
func (p *Process) Checkpoint(ctrl Control) any {
	p.checkAlive()
	return p.co.checkpoint(ctrl)
}

// Yield gives up the rest of the current reduction.
func (p *Process) Yield() {
	p.Checkpoint(Continue{})
}

// Suspend parks the process until a message is sent to it.
func (p *Process) Suspend() {
	p.Checkpoint(Suspend{})
}

// Sleep parks the process for at least d.
func (p *Process) Sleep(d time.Duration) {
	p.Checkpoint(SleepFor{Duration: d})
}

// Receive removes and returns the first mailbox message accepted by match,
// waiting for one to arrive if necessary.
func (p *Process) Receive(match Matcher) any {
	return p.Checkpoint(ReceiveUntil{Match: match})
}

// ReceiveTimeout behaves like Receive but gives up after timeout, returning
// the result of onTimeout (true if nil). A timeout <= 0 waits forever.
func (p *Process) ReceiveTimeout(match Matcher, timeout time.Duration, onTimeout func() any) any {
	req := ReceiveUntil{Match: match, OnTimeout: onTimeout}
	if timeout > 0 {
		req.Deadline = time.Now().Add(timeout)
	}
	return p.Checkpoint(req)
}

// Spawn starts a new process running entry.
func (p *Process) Spawn(entry EntryFunc, args ...any) PID {
	p.checkAlive()
	return p.system.spawn(p, false, entry, args)
}

// SpawnLink starts a new process linked to p.
func (p *Process) SpawnLink(entry EntryFunc, args ...any) PID {
	p.checkAlive()
	return p.system.spawn(p, true, entry, args)
}

// SpawnModule starts a new process running the function name of mod.
func (p *Process) SpawnModule(mod Module, name string, args ...any) (PID, error) {
	p.checkAlive()
	entry, ok := mod[name]
	if !ok {
		return NoPID, errors.Wrapf(ErrUnknownFunction, "%s", name)
	}
	return p.system.spawn(p, false, entry, args), nil
}

// SpawnModuleLink starts a new process running the function name of mod
// linked to p.
func (p *Process) SpawnModuleLink(mod Module, name string, args ...any) (PID, error) {
	p.checkAlive()
	entry, ok := mod[name]
	if !ok {
		return NoPID, errors.Wrapf(ErrUnknownFunction, "%s", name)
	}
	return p.system.spawn(p, true, entry, args), nil
}

// Link links p and pid symmetrically.
func (p *Process) Link(pid PID) error {
	p.checkAlive()
	return p.system.link(p.pid, pid)
}

// Unlink removes the link between p and pid.
func (p *Process) Unlink(pid PID) {
	p.checkAlive()
	p.system.unlink(p.pid, pid)
}

// Links returns the processes linked to p.
func (p *Process) Links() []PID {
	return p.system.linksOf(p.pid)
}

// Send delivers msg to a PID, *Process or registered name.
func (p *Process) Send(to any, msg any) (any, error) {
	p.checkAlive()
	return p.system.Send(to, msg)
}

// Register binds name to pid.
func (p *Process) Register(name string, pid PID) error {
	p.checkAlive()
	return p.system.Register(name, pid)
}

// Registered returns the process bound to name.
func (p *Process) Registered(name string) (PID, bool) {
	return p.system.Registered(name)
}

// Unregister removes every name bound to pid.
func (p *Process) Unregister(pid PID) {
	p.checkAlive()
	p.system.Unregister(pid)
}

// Exit terminates p with reason. It does not return.
func (p *Process) Exit(reason error) {
	panic(exitSignal{reason: reason})
}

// ExitProcess sends an exit signal with reason to pid.
func (p *Process) ExitProcess(pid PID, reason error) {
	p.checkAlive()
	p.system.exit(p.pid, pid, reason)
	// the signal may have cascaded back to p
	p.checkAlive()
}

// ProcessFlag sets flag to value and returns the previous value.
func (p *Process) ProcessFlag(flag Flag, value bool) bool {
	p.checkAlive()
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	switch flag {
	case FlagTrapExit:
		old := p.trapExit
		p.trapExit = value
		return old
	default:
		return false
	}
}

// TrapExit reports whether p traps exit signals.
func (p *Process) TrapExit() bool {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	return p.trapExit
}

// checkAlive unwinds the computation if the process was torn down.
func (p *Process) checkAlive() {
	if p.co.dead() {
		panic(errKilled{})
	}
}

func (p *Process) run() error {
	return p.entry(p, p.args...)
}

// resumeWith returns the task resuming the computation with v.
func (p *Process) resumeWith(v any) Task {
	return func() error {
		return p.step(v)
	}
}

// step advances the computation to its next checkpoint and acts on the
// request it yields.
func (p *Process) step(input any) error {
	if !p.system.begin(p) {
		return nil
	}

	ctrl, ok := p.co.next(input)
	if !ok {
		return nil
	}
	return p.dispatch(ctrl)
}

func (p *Process) dispatch(ctrl Control) error {
	s := p.system

	switch c := ctrl.(type) {
	case Continue:
		s.scheduler.Schedule(p.pid, p.resumeWith(nil))
	case Suspend:
		s.suspend(p, 0, p.resumeWith(nil))
	case SleepFor:
		s.sleep(p, c.Duration, p.resumeWith(nil))
	case ReceiveUntil:
		if c.Match == nil {
			c.Match = MatchAny()
		}
		return s.receive(p, c, p.nextReceive())
	case exited:
		s.terminate(p.pid, c.reason)
	default:
		return errors.Errorf("unknown control request %T", ctrl)
	}
	return nil
}

func (p *Process) nextReceive() uint64 {
	s := p.system
	s.mu.Lock()
	defer s.mu.Unlock()

	p.receiveSeq++
	return p.receiveSeq
}
