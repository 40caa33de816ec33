package supervisor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Handle tracks one spawned process. All accessors are safe for concurrent
// use.
type Handle struct {
	name string
	spec Spec
	log  *log.Entry

	mu            sync.Mutex
	state         State
	pid           int
	proc          Process
	startedAt     time.Time
	deadline      time.Time
	err           error
	probes        int
	stopRequested bool
	hasExited     bool
	exitErr       error

	settled chan struct{} // closed on the first transition out of starting
	exited  chan struct{} // closed when the process has been reaped
	nudge   chan struct{}
}

func newHandle(spec Spec, logger *log.Logger, now time.Time) *Handle {
	return &Handle{
		name:      spec.Name,
		spec:      spec,
		log:       logger.WithField("process", spec.Name),
		state:     StateStarting,
		startedAt: now,
		deadline:  now.Add(spec.ReadyTimeout),
		settled:   make(chan struct{}),
		exited:    make(chan struct{}),
		nudge:     make(chan struct{}, 1),
	}
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) Spec() Spec           { return h.spec }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Deadline is the instant after which a starting process counts as failed.
func (h *Handle) Deadline() time.Time { return h.deadline }

func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Err is the error that moved the handle into StateFailed, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Probes counts health probes issued so far.
func (h *Handle) Probes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probes
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.exited }

func (h *Handle) transition(to State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.state
	// A process reaped between a successful probe and this call is not ready.
	if !canTransition(from, to) || (to == StateReady && h.hasExited) {
		h.log.WithFields(log.Fields{"from": from, "to": to}).Debug("ignored state transition")
		return false
	}
	h.state = to
	if err != nil {
		h.err = err
	}
	if from == StateStarting {
		close(h.settled)
	}
	h.log.WithFields(log.Fields{"from": from, "to": to, "pid": h.pid}).Info("process state changed")
	return true
}

// attach records the spawned process. It reports false when a stop arrived
// while the process was being spawned.
func (h *Handle) attach(p Process) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.proc = p
	h.pid = p.Pid()
	return !h.stopRequested
}

// requestStop marks the handle as deliberately stopped and returns the
// process to signal, or nil if none is running.
func (h *Handle) requestStop() Process {
	h.mu.Lock()
	h.stopRequested = true
	p := h.proc
	h.mu.Unlock()
	h.transition(StateTerminated, nil)
	select {
	case <-h.exited:
		return nil
	default:
		return p
	}
}

func (h *Handle) stopWasRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopRequested
}

func (h *Handle) countProbe() {
	h.mu.Lock()
	h.probes++
	h.mu.Unlock()
}

func (h *Handle) markExited(err error) {
	h.mu.Lock()
	h.exitErr = err
	h.hasExited = true
	h.mu.Unlock()
	close(h.exited)
}

func (h *Handle) exitError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) kill() {
	h.mu.Lock()
	p := h.proc
	h.mu.Unlock()
	if p == nil {
		return
	}
	select {
	case <-h.exited:
		return
	default:
	}
	if err := p.Kill(); err != nil {
		h.log.WithError(err).Debug("kill process")
	}
}

// waitSettled blocks until the handle leaves StateStarting.
func (h *Handle) waitSettled(ctx context.Context) error {
	select {
	case <-h.settled:
		if err := h.Err(); err != nil && h.State() == StateFailed {
			return err
		}
		if h.State() == StateTerminated {
			return &StartupError{Name: h.name, Reason: ReasonStopped, Elapsed: time.Since(h.startedAt)}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
