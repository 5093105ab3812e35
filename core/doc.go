// Package core implements a lightweight process runtime.
//
// Processes are cooperative computations identified by a PID. Each one owns
// a FIFO mailbox and a private dictionary, and may be linked to other
// processes so that abnormal exits propagate. A single Scheduler interleaves
// processes in ascending PID order, bounding every process to a fixed number
// of reductions per round.
//
// A process gives control back to the scheduler only at checkpoints:
// Yield, Suspend, Sleep, Receive and ReceiveTimeout. Receive is selective:
// the first message accepted by the Matcher is removed and returned while
// the others stay queued in arrival order.
package core
