package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrSchedulerRunning is returned when Run is called on a running Scheduler.
var ErrSchedulerRunning = errors.New("scheduler is already running")

// Task is a unit of work queued for a process. A returned error or a panic
// is reported to the Scheduler's FaultHandler and never stops the round.
type Task func() error

// FaultHandler is called when a task of pid fails.
type FaultHandler func(pid PID, err error)

// taskQueue is the FIFO queue of a single process.
type taskQueue struct {
	tasks []Task
}

func (q *taskQueue) empty() bool {
	return len(q.tasks) == 0
}

func (q *taskQueue) add(task Task) {
	q.tasks = append(q.tasks, task)
}

func (q *taskQueue) next() Task {
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task
}

// Scheduler executes per-process task queues in round-robin order, bounding
// the number of tasks (reductions) run for each process per round.
type Scheduler struct {
	mu     sync.Mutex
	queues map[PID]*taskQueue

	// Pending ScheduleFuture timers, stopped when the pid is removed
	timers map[PID]map[*time.Timer]struct{}

	budget   *atomic.Int64
	throttle *atomic.Duration
	total    *atomic.Uint64
	running  *atomic.Bool

	// Wakes an idle Run loop when work is queued
	notify chan struct{}

	onFault  FaultHandler
	logger   *zap.Logger
	recorder Recorder
}

// NewScheduler creates a Scheduler. Zero option values fall back to defaults.
func NewScheduler(opts SchedulerOptions, logger *zap.Logger, recorder Recorder, onFault FaultHandler) *Scheduler {
	defaults := DefaultSchedulerOptions()
	if opts.ReductionBudget <= 0 {
		opts.ReductionBudget = defaults.ReductionBudget
	}
	if opts.Throttle < 0 {
		opts.Throttle = defaults.Throttle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Scheduler{
		queues:   make(map[PID]*taskQueue),
		timers:   make(map[PID]map[*time.Timer]struct{}),
		budget:   atomic.NewInt64(int64(opts.ReductionBudget)),
		throttle: atomic.NewDuration(opts.Throttle),
		total:    atomic.NewUint64(0),
		running:  atomic.NewBool(false),
		notify:   make(chan struct{}, 1),
		onFault:  onFault,
		logger:   logger,
		recorder: recorder,
	}
}

// Schedule appends task to the queue of pid.
func (s *Scheduler) Schedule(pid PID, task Task) {
	s.mu.Lock()
	s.enqueueLocked(pid, task)
	s.mu.Unlock()

	s.wake()
}

// ScheduleFuture appends task to the queue of pid once delay has elapsed.
// The task is only queued, never executed by the timer itself. The returned
// function cancels the timer if it has not fired yet.
func (s *Scheduler) ScheduleFuture(pid PID, delay time.Duration, task Task) (cancel func()) {
	if delay <= 0 {
		s.Schedule(pid, task)
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		pending, ok := s.timers[pid]
		if _, armed := pending[timer]; !ok || !armed {
			// pid was removed while the timer was in flight
			s.mu.Unlock()
			return
		}
		delete(pending, timer)
		if len(pending) == 0 {
			delete(s.timers, pid)
		}
		s.enqueueLocked(pid, task)
		s.mu.Unlock()

		s.wake()
	})

	if s.timers[pid] == nil {
		s.timers[pid] = make(map[*time.Timer]struct{})
	}
	s.timers[pid][timer] = struct{}{}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		pending, ok := s.timers[pid]
		if _, armed := pending[timer]; !ok || !armed {
			return
		}
		timer.Stop()
		delete(pending, timer)
		if len(pending) == 0 {
			delete(s.timers, pid)
		}
	}
}

// RemovePid drops the queue of pid and cancels its pending timers.
// It is safe to call while a round is executing tasks of pid.
func (s *Scheduler) RemovePid(pid PID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, pid)
	for timer := range s.timers[pid] {
		timer.Stop()
	}
	delete(s.timers, pid)
}

// Round runs one scheduling round and returns the number of executed tasks.
func (s *Scheduler) Round() int {
	budget := int(s.budget.Load())
	executed := 0

	for _, pid := range s.pids() {
		for reductions := 0; reductions < budget; reductions++ {
			task, ok := s.next(pid)
			if !ok {
				break
			}
			s.execute(pid, task)
			executed++
		}
	}

	s.total.Add(uint64(executed))
	s.recorder.RoundCompleted(executed, s.Pending())
	return executed
}

// Run executes rounds until ctx is cancelled. While work is pending, rounds
// are separated by the throttle delay; an idle scheduler blocks until work
// is queued.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrSchedulerRunning
	}
	defer s.running.Store(false)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		s.Round()

		if s.Pending() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.notify:
			}
			continue
		}

		throttle := s.throttle.Load()
		if throttle <= 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}

		timer.Reset(throttle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Pending returns the number of queued tasks across all processes.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := 0
	for _, q := range s.queues {
		sum += len(q.tasks)
	}
	return sum
}

// QueueLen returns the number of queued tasks of pid.
func (s *Scheduler) QueueLen(pid PID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[pid]; ok {
		return len(q.tasks)
	}
	return 0
}

// TimersPending returns the number of armed timers of pid.
func (s *Scheduler) TimersPending(pid PID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers[pid])
}

// TotalReductions returns the number of tasks executed since creation.
func (s *Scheduler) TotalReductions() uint64 {
	return s.total.Load()
}

// ReductionBudget returns the current per-round budget.
func (s *Scheduler) ReductionBudget() int {
	return int(s.budget.Load())
}

// SetReductionBudget changes the per-round budget, effective next round.
func (s *Scheduler) SetReductionBudget(budget int) {
	if budget <= 0 {
		return
	}
	s.budget.Store(int64(budget))
}

// Throttle returns the current delay between rounds.
func (s *Scheduler) Throttle() time.Duration {
	return s.throttle.Load()
}

// SetThrottle changes the delay between rounds.
func (s *Scheduler) SetThrottle(throttle time.Duration) {
	if throttle < 0 {
		return
	}
	s.throttle.Store(throttle)
}

func (s *Scheduler) enqueueLocked(pid PID, task Task) {
	q, ok := s.queues[pid]
	if !ok {
		q = &taskQueue{}
		s.queues[pid] = q
	}
	q.add(task)
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pids returns the pids with queued work in ascending order.
func (s *Scheduler) pids() []PID {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := make([]PID, 0, len(s.queues))
	for pid, q := range s.queues {
		if q.empty() {
			delete(s.queues, pid)
			continue
		}
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

func (s *Scheduler) next(pid PID) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[pid]
	if !ok || q.empty() {
		return nil, false
	}
	return q.next(), true
}

// execute runs a single task, confining failures to its process.
func (s *Scheduler) execute(pid PID, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.fault(pid, newPanicError(r))
		}
	}()

	if err := task(); err != nil {
		s.fault(pid, err)
	}
}

func (s *Scheduler) fault(pid PID, err error) {
	s.logger.Error("scheduler task failed", zap.Stringer("pid", pid), zap.Error(err))
	s.recorder.TaskFailed(pid, err)
	if s.onFault != nil {
		s.onFault(pid, err)
	}
}
