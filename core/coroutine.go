package core

import (
	"sync"
)

// errKilled unwinds the computation goroutine of a process that was torn
// down while parked at a checkpoint.
type errKilled struct{}

// exitSignal unwinds the computation goroutine when the process exits itself.
type exitSignal struct {
	reason error
}

// coroutine runs a computation on its own goroutine while guaranteeing that
// it only executes between a resume and the following checkpoint. The driver
// and the computation never run at the same time.
type coroutine struct {
	resume chan any
	yield  chan Control
	killed chan struct{}
	once   sync.Once
}

func newCoroutine() *coroutine {
	return &coroutine{
		resume: make(chan any),
		yield:  make(chan Control),
		killed: make(chan struct{}),
	}
}

// start launches the computation goroutine. It stays parked until the first
// call to next.
func (c *coroutine) start(body func() error) {
	go func() {
		select {
		case <-c.resume:
		case <-c.killed:
			return
		}

		reason := c.protect(body)
		if reason == nil || c.dead() {
			// torn down while running
			return
		}

		select {
		case c.yield <- exited{reason: reason}:
		case <-c.killed:
		}
	}()
}

// protect runs body and converts its outcome into an exit reason. It returns
// nil when the coroutine was killed.
func (c *coroutine) protect(body func() error) (reason error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case errKilled:
			reason = nil
		case exitSignal:
			reason = reasonOf(v.reason)
		default:
			reason = newPanicError(r)
		}
	}()

	return reasonOf(body())
}

// next hands control to the computation and waits for its next checkpoint.
// It reports false when the coroutine was killed in the meantime.
func (c *coroutine) next(input any) (Control, bool) {
	select {
	case c.resume <- input:
	case <-c.killed:
		return nil, false
	}

	select {
	case ctrl := <-c.yield:
		return ctrl, true
	case <-c.killed:
		return nil, false
	}
}

// checkpoint is called from the computation goroutine. It parks until the
// driver resumes it and returns the resume value.
func (c *coroutine) checkpoint(ctrl Control) any {
	select {
	case c.yield <- ctrl:
	case <-c.killed:
		panic(errKilled{})
	}

	select {
	case v := <-c.resume:
		return v
	case <-c.killed:
		panic(errKilled{})
	}
}

// kill releases a parked computation. Safe to call more than once.
func (c *coroutine) kill() {
	c.once.Do(func() {
		close(c.killed)
	})
}

func (c *coroutine) dead() bool {
	select {
	case <-c.killed:
		return true
	default:
		return false
	}
}
