package supervisor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStopped is returned by Start and Restart after StopAll or Shutdown.
	ErrStopped = errors.New("supervisor is stopped")
	// ErrForeignProcess means the health endpoint answered for a different
	// PID than the child, usually because the port was already taken.
	ErrForeignProcess = errors.New("health endpoint served by another process")
	// ErrUnknownProcess is returned by Restart for a name never started.
	ErrUnknownProcess = errors.New("unknown process")
)

// StartupReason classifies why a process never became ready.
type StartupReason string

const (
	ReasonSpawn     StartupReason = "spawn"
	ReasonExited    StartupReason = "exited"
	ReasonTimeout   StartupReason = "timeout"
	ReasonCancelled StartupReason = "cancelled"
	ReasonStopped   StartupReason = "stopped"
)

// StartupError is fatal for the caller: the backend could not be spawned or
// did not pass a health probe before its deadline.
type StartupError struct {
	Name    string
	Reason  StartupReason
	Elapsed time.Duration
	Err     error
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("%s failed to start (%s after %s)", e.Name, e.Reason, e.Elapsed.Round(time.Millisecond))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }

// UnexpectedExitError reports a ready process that exited without a stop
// request.
type UnexpectedExitError struct {
	Name string
	PID  int
	Err  error
}

func (e *UnexpectedExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (pid %d) exited unexpectedly", e.Name, e.PID)
	}
	return fmt.Sprintf("%s (pid %d) exited unexpectedly: %v", e.Name, e.PID, e.Err)
}

func (e *UnexpectedExitError) Unwrap() error { return e.Err }
