package core

// Recorder receives runtime events for metrics collection.
// Implementations must be safe for concurrent use.
type Recorder interface {
	ProcessSpawned(pid PID)
	ProcessExited(pid PID, reason error)
	MessageDelivered(pid PID)
	RoundCompleted(reductions int, pending int)
	TaskFailed(pid PID, err error)
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) ProcessSpawned(PID) {}
func (NopRecorder) ProcessExited(PID, error) {}
func (NopRecorder) MessageDelivered(PID) {}
func (NopRecorder) RoundCompleted(int, int) {}
func (NopRecorder) TaskFailed(PID, error) {}
