package drone

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotReady       = errors.New("drone is not ready")
	ErrAlreadyStarted = errors.New("drone is already started")
	ErrStopped        = errors.New("drone is stopped")
	ErrQueueFull      = errors.New("command queue is full")
)

// StartupError tells which startup stage failed.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// HandshakeTimeoutError is returned when the acknowledge flag did not reach
// the expected value in time.
type HandshakeTimeoutError struct {
	Command string
	Step    string
	Timeout time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("handshake for %q timed out after %s waiting for %s", e.Command, e.Timeout, e.Step)
}

type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Timeout)
}

type ConfigRetrievalError struct {
	Addr string
	Err  error
}

func (e *ConfigRetrievalError) Error() string {
	return fmt.Sprintf("configuration retrieval from %s: %v", e.Addr, e.Err)
}

func (e *ConfigRetrievalError) Unwrap() error {
	return e.Err
}
