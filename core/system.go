package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReasonShutdown is the exit reason of processes still alive when the
// System shuts down.
var ReasonShutdown = errors.New("shutdown")

// rootSleep is the sleep interval of the idle root process.
const rootSleep = 10 * time.Second

// suspension is an entry of the suspend table.
type suspension struct {
	// receive identifies the selective receive waiting, 0 for plain Suspend
	receive uint64
	wake    Task
}

// System is the process, name and link directory of the runtime and the
// single coordination point for spawn, send, link, receive and exit.
type System struct {
	mu sync.Mutex

	nextPID   PID
	procs     map[PID]*Process
	names     map[string]PID
	links     map[PID]map[PID]struct{}
	suspended map[PID]*suspension

	scheduler *Scheduler
	logger    *zap.Logger
	recorder  Recorder

	// Background scheduling loop started by Start
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSystem creates a new System.
func NewSystem(opts Options) *System {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Recorder == nil {
		opts.Recorder = NopRecorder{}
	}

	s := &System{
		procs:     make(map[PID]*Process),
		names:     make(map[string]PID),
		links:     make(map[PID]map[PID]struct{}),
		suspended: make(map[PID]*suspension),
		logger:    opts.Logger,
		recorder:  opts.Recorder,
	}
	s.scheduler = NewScheduler(opts.Scheduler, opts.Logger, opts.Recorder, s.fault)

	if opts.RootProcess {
		s.Spawn(func(p *Process, _ ...any) error {
			for {
				p.Sleep(rootSleep)
			}
		})
	}

	return s
}

// Scheduler returns the scheduler driving the System.
func (s *System) Scheduler() *Scheduler {
	return s.scheduler
}

// Run drives the scheduler until ctx is cancelled.
func (s *System) Run(ctx context.Context) error {
	err := s.scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Start runs the scheduler in the background.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrSchedulerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler stopped", zap.Error(err))
		}
	}(s.done)

	return nil
}

// Shutdown stops the background scheduler and tears down every live process
// with ReasonShutdown.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, pid := range s.pids() {
		s.terminate(pid, ReasonShutdown)
	}
	return nil
}

// Spawn starts a new process running entry and returns its PID.
func (s *System) Spawn(entry EntryFunc, args ...any) PID {
	return s.spawn(nil, false, entry, args)
}

// SpawnModule starts a new process running the function name of mod.
func (s *System) SpawnModule(mod Module, name string, args ...any) (PID, error) {
	entry, ok := mod[name]
	if !ok {
		return NoPID, errors.Wrapf(ErrUnknownFunction, "%s", name)
	}
	return s.spawn(nil, false, entry, args), nil
}

// Send delivers msg to the process identified by to, which is a PID, a
// *Process or a registered name. Messages to processes that no longer exist
// are dropped. Send always returns msg.
func (s *System) Send(to any, msg any) (any, error) {
	s.mu.Lock()
	pid, err := s.resolveLocked(to)
	if err != nil {
		s.mu.Unlock()
		return msg, err
	}
	p, ok := s.procs[pid]
	if !ok {
		s.mu.Unlock()
		return msg, nil
	}
	s.deliverLocked(p, msg)
	s.mu.Unlock()

	s.recorder.MessageDelivered(pid)
	return msg, nil
}

// Exit sends an exit signal with reason to pid on behalf of host code.
func (s *System) Exit(pid PID, reason error) {
	s.exit(NoPID, pid, reason)
}

// Alive reports whether pid is a live process.
func (s *System) Alive(pid PID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.procs[pid]
	return ok
}

// Count returns the number of live processes.
func (s *System) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.procs)
}

// Info returns a snapshot of the process pid.
func (s *System) Info(pid PID) (ProcessInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[pid]
	if !ok {
		return ProcessInfo{}, false
	}
	return s.infoLocked(p), true
}

// Processes returns snapshots of all live processes ordered by PID.
func (s *System) Processes() []ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ProcessInfo, 0, len(s.procs))
	for _, pid := range s.sortedPIDsLocked() {
		infos = append(infos, s.infoLocked(s.procs[pid]))
	}
	return infos
}

func (s *System) infoLocked(p *Process) ProcessInfo {
	info := ProcessInfo{
		PID:         p.pid,
		Status:      p.status,
		StatusName:  p.status.String(),
		MailboxSize: p.mailbox.Len(),
		TrapExit:    p.trapExit,
		Reductions:  p.reductions,
		SpawnedAt:   p.spawnedAt,
		Links:       s.linksOfLocked(p.pid),
		Names:       s.namesOfLocked(p.pid),
	}
	return info
}

func (s *System) spawn(parent *Process, link bool, entry EntryFunc, args []any) PID {
	s.mu.Lock()
	pid := s.nextPID
	s.nextPID++

	p := newProcess(s, pid, entry, args)
	s.procs[pid] = p
	s.links[pid] = make(map[PID]struct{})

	if link && parent != nil {
		if _, ok := s.procs[parent.pid]; ok {
			s.linkLocked(parent.pid, pid)
		}
	}

	p.co.start(p.run)
	s.scheduler.Schedule(pid, p.resumeWith(nil))
	s.mu.Unlock()

	s.logger.Debug("process spawned", zap.Stringer("pid", pid), zap.Bool("linked", link && parent != nil))
	s.recorder.ProcessSpawned(pid)
	return pid
}

// resolveLocked maps a send target to a PID.
func (s *System) resolveLocked(to any) (PID, error) {
	switch v := to.(type) {
	case PID:
		return v, nil
	case *Process:
		if v == nil {
			return NoPID, ErrInvalidTarget
		}
		return v.pid, nil
	case string:
		pid, ok := s.names[v]
		if !ok {
			return NoPID, errors.Wrapf(ErrNameNotFound, "%q", v)
		}
		return pid, nil
	default:
		return NoPID, errors.Wrapf(ErrInvalidTarget, "%T", to)
	}
}

// deliverLocked appends msg to the mailbox of p and wakes p if suspended.
func (s *System) deliverLocked(p *Process, msg any) {
	p.mailbox.Deliver(msg)

	if w, ok := s.suspended[p.pid]; ok {
		delete(s.suspended, p.pid)
		p.status = StatusRunning
		s.scheduler.Schedule(p.pid, w.wake)
	}
}

// begin marks p as running before a step. It reports false if p is dead.
func (s *System) begin(p *Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.procs[p.pid] != p {
		return false
	}
	p.status = StatusRunning
	p.reductions++
	return true
}

func (s *System) suspend(p *Process, receive uint64, wake Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.procs[p.pid] != p {
		return
	}
	s.suspendLocked(p, receive, wake)
}

func (s *System) suspendLocked(p *Process, receive uint64, wake Task) {
	p.status = StatusSuspended
	s.suspended[p.pid] = &suspension{receive: receive, wake: wake}
}

func (s *System) sleep(p *Process, d time.Duration, next Task) {
	s.mu.Lock()
	if s.procs[p.pid] != p {
		s.mu.Unlock()
		return
	}
	p.status = StatusSleeping
	s.mu.Unlock()

	s.scheduler.ScheduleFuture(p.pid, d, next)
}

// receive attempts a selective receive for p. Without a match the process
// is suspended until the next delivery or until the deadline timer fires.
func (s *System) receive(p *Process, req ReceiveUntil, id uint64) error {
	s.mu.Lock()
	if s.procs[p.pid] != p {
		s.mu.Unlock()
		return nil
	}

	value, found, err := p.mailbox.scan(req.Match)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrapf(err, "receive in %s", p.pid)
	}
	if found {
		s.disarmLocked(p)
		s.scheduler.Schedule(p.pid, p.resumeWith(value))
		s.mu.Unlock()
		return nil
	}

	if req.expired(time.Now()) {
		s.disarmLocked(p)
		s.mu.Unlock()
		s.scheduler.Schedule(p.pid, p.resumeWith(req.timeout()))
		return nil
	}

	if !req.Deadline.IsZero() && p.armed != id {
		p.armed = id
		p.disarm = s.scheduler.ScheduleFuture(p.pid, time.Until(req.Deadline), s.expire(p, id))
	}
	s.suspendLocked(p, id, func() error {
		return s.receive(p, req, id)
	})
	s.mu.Unlock()
	return nil
}

// disarmLocked cancels the deadline timer of the receive p is resolving.
func (s *System) disarmLocked(p *Process) {
	if p.disarm != nil {
		p.disarm()
		p.disarm = nil
	}
}

// expire returns the timer task resolving the suspension of receive id.
func (s *System) expire(p *Process, id uint64) Task {
	return func() error {
		s.mu.Lock()
		w, ok := s.suspended[p.pid]
		if !ok || w.receive != id || s.procs[p.pid] != p {
			s.mu.Unlock()
			return nil
		}
		delete(s.suspended, p.pid)
		p.status = StatusRunning
		s.mu.Unlock()

		return w.wake()
	}
}

// exit delivers an exit signal from one process to another. Trapping
// targets and exempt reasons produce an ExitMessage; anything else tears
// the target down.
func (s *System) exit(from, to PID, reason error) {
	if reason == nil {
		reason = ReasonNormal
	}

	s.mu.Lock()
	p, ok := s.procs[to]
	if !ok {
		s.mu.Unlock()
		return
	}
	if p.trapExit || IsExempt(reason) {
		s.deliverLocked(p, ExitMessage{From: from, Reason: reason})
		s.mu.Unlock()
		s.recorder.MessageDelivered(to)
		return
	}
	s.mu.Unlock()

	s.terminate(to, reason)
}

// terminate removes pid from every registry map, releases its computation
// and then propagates reason to the processes it was linked to.
func (s *System) terminate(pid PID, reason error) {
	s.mu.Lock()
	p, ok := s.procs[pid]
	if !ok {
		s.mu.Unlock()
		return
	}

	p.status = StatusExiting
	delete(s.procs, pid)
	delete(s.suspended, pid)
	s.unregisterLocked(pid)
	s.scheduler.RemovePid(pid)

	peers := s.linksOfLocked(pid)
	for _, peer := range peers {
		delete(s.links[peer], pid)
	}
	delete(s.links, pid)
	s.mu.Unlock()

	p.co.kill()

	if IsExempt(reason) || errors.Is(reason, ReasonShutdown) {
		s.logger.Debug("process exited", zap.Stringer("pid", pid), zap.Error(reason))
	} else {
		s.logger.Warn("process exited abnormally", zap.Stringer("pid", pid), zap.Error(reason), zap.Int("links", len(peers)))
	}
	s.recorder.ProcessExited(pid, reason)

	for _, peer := range peers {
		s.exit(pid, peer, reason)
	}
}

// fault converts a failed scheduler task into the fatal exit of its process.
func (s *System) fault(pid PID, err error) {
	s.terminate(pid, err)
}

func (s *System) pids() []PID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedPIDsLocked()
}

func (s *System) sortedPIDsLocked() []PID {
	pids := make([]PID, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}
