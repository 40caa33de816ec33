package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultReadyTimeout  = 30 * time.Second
	DefaultProbeInterval = time.Second
	DefaultReadyMarker   = "server listening"
)

// Spec describes a process to supervise.
type Spec struct {
	Name    string
	Command string
	Args    []string
	// Env entries are appended to the parent's environment.
	Env []string
	Dir string

	HealthURL     string
	ReadyTimeout  time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	// ReadyMarker is a substring of a child output line that triggers an
	// immediate probe. It never marks the process ready on its own.
	ReadyMarker string
}

func (s Spec) withDefaults() Spec {
	if s.Name == "" {
		s.Name = s.Command
	}
	if s.ReadyTimeout <= 0 {
		s.ReadyTimeout = DefaultReadyTimeout
	}
	if s.ProbeInterval <= 0 {
		s.ProbeInterval = DefaultProbeInterval
	}
	if s.ProbeTimeout <= 0 || s.ProbeTimeout > s.ProbeInterval {
		s.ProbeTimeout = s.ProbeInterval
	}
	if s.ReadyMarker == "" {
		s.ReadyMarker = DefaultReadyMarker
	}
	return s
}

// Event is published when a ready process exits without being stopped.
type Event struct {
	Name string
	PID  int
	Err  *UnexpectedExitError
}

// Result is delivered by StartAsync.
type Result struct {
	Handle *Handle
	Err    error
}

// Supervisor owns the processes it spawns. The zero value is not usable; use
// New.
type Supervisor struct {
	launcher Launcher
	prober   Prober
	log      *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	handles map[string]*Handle
	order   []string
	stopped bool

	events chan Event
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option { return func(s *Supervisor) { s.launcher = l } }
func WithProber(p Prober) Option     { return func(s *Supervisor) { s.prober = p } }
func WithLogger(l *log.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher: ExecLauncher{},
		prober:   HTTPProber{},
		log:      log.StandardLogger(),
		now:      time.Now,
		handles:  make(map[string]*Handle),
		events:   make(chan Event, 8),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events reports unexpected exits of ready processes.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Handle returns the current handle for name, if any.
func (s *Supervisor) Handle(name string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[name]
	return h, ok
}

// Start spawns the process and blocks until it is ready or has failed. It
// must not be called from a UI loop; see StartAsync.
//
// A second Start for a name that is still starting or ready spawns nothing
// and returns the existing handle once it settles.
func (s *Supervisor) Start(ctx context.Context, spec Spec) (*Handle, error) {
	spec = spec.withDefaults()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	if h, ok := s.handles[spec.Name]; ok && !h.State().Terminal() {
		s.mu.Unlock()
		h.log.Debug("process already running; not spawning again")
		return h, h.waitSettled(ctx)
	}
	h := newHandle(spec, s.log, s.now())
	s.handles[spec.Name] = h
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == spec.Name })
	s.order = append(s.order, spec.Name)
	s.mu.Unlock()

	h.log.WithFields(log.Fields{
		"command":        spec.Command,
		"args":           strings.Join(spec.Args, " "),
		"health_url":     spec.HealthURL,
		"ready_deadline": h.deadline.Format(time.RFC3339),
	}).Info("starting process")

	proc, err := s.launcher.Launch(ctx, spec, func(stream, line string) { s.onOutput(h, stream, line) })
	if err != nil {
		serr := &StartupError{Name: spec.Name, Reason: ReasonSpawn, Elapsed: s.now().Sub(h.startedAt), Err: err}
		h.transition(StateFailed, serr)
		close(h.exited)
		return h, serr
	}
	stillWanted := h.attach(proc)
	go s.reap(h, proc)
	if !stillWanted {
		if err := terminate(proc); err != nil {
			h.log.WithError(err).Warn("terminate process")
		}
		return h, &StartupError{Name: spec.Name, Reason: ReasonStopped, Elapsed: s.now().Sub(h.startedAt)}
	}
	h.log.WithField("pid", proc.Pid()).Info("process spawned")

	if err := s.awaitReady(ctx, h); err != nil {
		return h, err
	}
	return h, nil
}

// StartAsync runs Start on its own goroutine and delivers the outcome on the
// returned channel.
func (s *Supervisor) StartAsync(ctx context.Context, spec Spec) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		h, err := s.Start(ctx, spec)
		out <- Result{Handle: h, Err: err}
	}()
	return out
}

// Restart starts a fresh process from the last spec used for name, once the
// previous one has exited.
func (s *Supervisor) Restart(ctx context.Context, name string) (*Handle, error) {
	h, ok := s.Handle(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, name)
	}
	if !h.State().Terminal() {
		return h, nil
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Start(ctx, h.spec)
}

func (s *Supervisor) awaitReady(ctx context.Context, h *Handle) error {
	spec := h.spec
	deadline := time.NewTimer(h.deadline.Sub(s.now()))
	defer deadline.Stop()
	ticker := time.NewTicker(spec.ProbeInterval)
	defer ticker.Stop()

	fail := func(reason StartupReason, cause error) error {
		if h.State() == StateTerminated {
			reason = ReasonStopped
		}
		serr := &StartupError{Name: h.name, Reason: reason, Elapsed: s.now().Sub(h.startedAt), Err: cause}
		if h.transition(StateFailed, serr) {
			h.kill()
		}
		h.log.WithError(serr).Error("process did not become ready")
		return serr
	}

	for {
		err := s.probe(ctx, h)
		if err == nil {
			if h.transition(StateReady, nil) {
				h.log.WithFields(log.Fields{
					"pid":     h.PID(),
					"probes":  h.Probes(),
					"elapsed": s.now().Sub(h.startedAt).String(),
				}).Info("process ready")
				return nil
			}
			return fail(ReasonExited, h.exitError())
		}
		h.log.WithError(err).WithField("attempt", h.Probes()).Debug("health probe not ready")

		select {
		case <-ctx.Done():
			return fail(ReasonCancelled, ctx.Err())
		case <-deadline.C:
			return fail(ReasonTimeout, fmt.Errorf("no successful health probe within %s", spec.ReadyTimeout))
		case <-h.exited:
			cause := h.exitError()
			if cause == nil {
				cause = errors.New("process exited with status 0")
			}
			return fail(ReasonExited, cause)
		case <-ticker.C:
		case <-h.nudge:
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, h *Handle) error {
	pctx, cancel := context.WithTimeout(ctx, h.spec.ProbeTimeout)
	defer cancel()
	h.countProbe()
	return s.prober.Probe(pctx, h.spec.HealthURL, h.PID())
}

func (s *Supervisor) onOutput(h *Handle, stream, line string) {
	entry := h.log.WithField("stream", stream)
	if stream == "stderr" {
		entry.Warn(line)
	} else {
		entry.Info(line)
	}
	if h.spec.ReadyMarker != "" && strings.Contains(line, h.spec.ReadyMarker) && h.State() == StateStarting {
		select {
		case h.nudge <- struct{}{}:
		default:
		}
	}
}

// reap waits for the process and reports exits nobody asked for.
func (s *Supervisor) reap(h *Handle, proc Process) {
	err := proc.Wait()
	h.markExited(err)
	fields := log.Fields{"pid": proc.Pid()}
	if err != nil {
		fields["error"] = err.Error()
	}

	if h.State() != StateReady || h.stopWasRequested() {
		h.log.WithFields(fields).Info("process exited")
		return
	}
	uerr := &UnexpectedExitError{Name: h.name, PID: proc.Pid(), Err: err}
	if !h.transition(StateFailed, uerr) {
		return
	}
	h.log.WithFields(fields).Error("process exited unexpectedly")
	select {
	case s.events <- Event{Name: h.name, PID: proc.Pid(), Err: uerr}:
	default:
		h.log.Warn("event buffer full; dropping unexpected exit event")
	}
}

// Stop sends a termination signal to the named process and returns without
// waiting. The process is never respawned as a consequence.
func (s *Supervisor) Stop(name string) {
	h, ok := s.Handle(name)
	if !ok {
		return
	}
	s.stopHandle(h)
}

// StopAll stops every process in reverse start order and refuses further
// starts.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.stopped = true
	handles := make([]*Handle, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		handles = append(handles, s.handles[s.order[i]])
	}
	s.mu.Unlock()

	for _, h := range handles {
		s.stopHandle(h)
	}
}

// Shutdown is StopAll followed by waiting for the processes to exit. Any
// still running when ctx ends are killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.StopAll()
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			h.kill()
			errs = append(errs, fmt.Errorf("%s: killed after %w", h.name, ctx.Err()))
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) stopHandle(h *Handle) {
	proc := h.requestStop()
	if proc == nil {
		return
	}
	h.log.WithField("pid", proc.Pid()).Info("stopping process")
	if err := terminate(proc); err != nil {
		h.log.WithError(err).Warn("terminate process")
	}
}
