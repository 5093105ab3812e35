package core

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

// Registry and receive errors
var (
	ErrNoMatch         = errors.New("no match")
	ErrNameCollision   = errors.New("name is already registered to another process")
	ErrNameNotFound    = errors.New("process name not registered")
	ErrUnknownFunction = errors.New("module does not export function")
	ErrInvalidTarget   = errors.New("invalid process identifier")
)

// PanicError is the exit reason of a process whose computation panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func newPanicError(v interface{}) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// reasonOf converts the result of a computation into an exit reason.
func reasonOf(err error) error {
	if err == nil {
		return ReasonNormal
	}
	return err
}
