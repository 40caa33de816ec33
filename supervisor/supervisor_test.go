package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

type fakeProcess struct {
	pid  int
	once sync.Once
	done chan struct{}
	err  error

	mu      sync.Mutex
	signals []os.Signal
	killed  bool
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	p.exit(nil)
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) signalled() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

type fakeLauncher struct {
	mu       sync.Mutex
	procs    []*fakeProcess
	err      error
	onLaunch func(p *fakeProcess, out OutputFunc)
}

func (l *fakeLauncher) Launch(_ context.Context, _ Spec, out OutputFunc) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(1000 + len(l.procs))
	l.procs = append(l.procs, p)
	if l.onLaunch != nil {
		l.onLaunch(p, out)
	}
	return p, nil
}

func (l *fakeLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

// fakeProber succeeds from the readyAfter-th call on; zero never succeeds.
type fakeProber struct {
	readyAfter int64
	calls      atomic.Int64
}

func (p *fakeProber) Probe(context.Context, string, int) error {
	n := p.calls.Add(1)
	if p.readyAfter > 0 && n >= p.readyAfter {
		return nil
	}
	return syscall.ECONNREFUSED
}

func newTestSupervisor(l Launcher, p Prober) *Supervisor {
	logger, _ := test.NewNullLogger()
	return New(WithLauncher(l), WithProber(p), WithLogger(logger))
}

func fastSpec() Spec {
	return Spec{
		Name:          "backend",
		Command:       "taskdesk-server",
		HealthURL:     "http://127.0.0.1:5000/health",
		ReadyTimeout:  2 * time.Second,
		ProbeInterval: 5 * time.Millisecond,
	}
}

func TestStartReadyOnThirdProbe(t *testing.T) {
	launcher := &fakeLauncher{}
	prober := &fakeProber{readyAfter: 3}
	sup := newTestSupervisor(launcher, prober)

	h, err := sup.Start(context.Background(), fastSpec())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.State() != StateReady {
		t.Fatalf("expected ready, got %s", h.State())
	}
	if h.Probes() != 3 {
		t.Fatalf("expected 3 probes, got %d", h.Probes())
	}
	if h.PID() != 1000 {
		t.Fatalf("unexpected pid %d", h.PID())
	}

	time.Sleep(50 * time.Millisecond)
	if got := prober.calls.Load(); got != 3 {
		t.Fatalf("probing must stop once ready, got %d calls", got)
	}
}

func TestStartTimesOutAndKillsChild(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{})
	spec := fastSpec()
	spec.ReadyTimeout = 50 * time.Millisecond

	h, err := sup.Start(context.Background(), spec)
	var serr *StartupError
	if !errors.As(err, &serr) || serr.Reason != ReasonTimeout {
		t.Fatalf("expected timeout StartupError, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	if !launcher.last().wasKilled() {
		t.Fatalf("child must be killed after the deadline")
	}
	if h.Probes() < 2 {
		t.Fatalf("expected repeated probes, got %d", h.Probes())
	}
}

func TestReadyDeadlineCountsFromSpawnRequest(t *testing.T) {
	const launchDelay = 300 * time.Millisecond
	launcher := &fakeLauncher{onLaunch: func(*fakeProcess, OutputFunc) { time.Sleep(launchDelay) }}
	sup := newTestSupervisor(launcher, &fakeProber{})
	spec := fastSpec()
	spec.ReadyTimeout = 100 * time.Millisecond

	h, err := sup.Start(context.Background(), spec)
	var serr *StartupError
	if !errors.As(err, &serr) || serr.Reason != ReasonTimeout {
		t.Fatalf("expected timeout StartupError, got %v", err)
	}
	if limit := launchDelay + 80*time.Millisecond; serr.Elapsed > limit {
		t.Fatalf("deadline %s enforced late: failed after %s", h.Deadline().Format(time.RFC3339Nano), serr.Elapsed)
	}
}

func TestExitBeforeReady(t *testing.T) {
	launcher := &fakeLauncher{onLaunch: func(p *fakeProcess, _ OutputFunc) {
		p.exit(errors.New("exit status 3"))
	}}
	sup := newTestSupervisor(launcher, &fakeProber{})

	h, err := sup.Start(context.Background(), fastSpec())
	var serr *StartupError
	if !errors.As(err, &serr) || serr.Reason != ReasonExited {
		t.Fatalf("expected exited StartupError, got %v", err)
	}
	if serr.Err == nil || serr.Err.Error() != "exit status 3" {
		t.Fatalf("exit cause not kept: %v", serr.Err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
}

func TestSpawnFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("executable file not found in $PATH")}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 1})

	h, err := sup.Start(context.Background(), fastSpec())
	var serr *StartupError
	if !errors.As(err, &serr) || serr.Reason != ReasonSpawn {
		t.Fatalf("expected spawn StartupError, got %v", err)
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	select {
	case <-h.Done():
	default:
		t.Fatalf("Done must be closed when nothing was spawned")
	}
}

func TestCancelledStart(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := sup.Start(ctx, fastSpec())
	var serr *StartupError
	if !errors.As(err, &serr) || serr.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled StartupError, got %v", err)
	}
	if !launcher.last().wasKilled() {
		t.Fatalf("child must be killed when start is cancelled")
	}
}

func TestDuplicateStartDoesNotSpawn(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 1})

	first, err := sup.Start(context.Background(), fastSpec())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := sup.Start(context.Background(), fastSpec())
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if first != second {
		t.Fatalf("expected the existing handle to be returned")
	}
	if launcher.launches() != 1 {
		t.Fatalf("expected a single spawn, got %d", launcher.launches())
	}
}

func TestStopAllPreventsRespawn(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 1})

	h, err := sup.Start(context.Background(), fastSpec())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.StopAll()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatalf("process did not exit after stop")
	}
	if h.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", h.State())
	}
	if sigs := launcher.last().signalled(); len(sigs) != 1 || sigs[0] != syscall.SIGTERM {
		t.Fatalf("expected a single SIGTERM, got %v", sigs)
	}
	select {
	case ev := <-sup.Events():
		t.Fatalf("a requested stop must not be reported: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}

	if _, err := sup.Start(context.Background(), fastSpec()); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, err := sup.Restart(context.Background(), "backend"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped from restart, got %v", err)
	}
	if launcher.launches() != 1 {
		t.Fatalf("expected no respawn, got %d launches", launcher.launches())
	}
}

func TestUnexpectedExitIsReported(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 1})

	h, err := sup.Start(context.Background(), fastSpec())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	launcher.last().exit(errors.New("exit status 2"))

	select {
	case ev := <-sup.Events():
		if ev.Name != "backend" || ev.PID != 1000 {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Err == nil || ev.Err.Err.Error() != "exit status 2" {
			t.Fatalf("unexpected event error %v", ev.Err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an unexpected-exit event")
	}
	if h.State() != StateFailed {
		t.Fatalf("expected failed, got %s", h.State())
	}
	var uerr *UnexpectedExitError
	if !errors.As(h.Err(), &uerr) {
		t.Fatalf("expected UnexpectedExitError on handle, got %v", h.Err())
	}

	restarted, err := sup.Restart(context.Background(), "backend")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted == h || restarted.State() != StateReady {
		t.Fatalf("expected a fresh ready handle")
	}
	if launcher.launches() != 2 {
		t.Fatalf("expected exactly one respawn, got %d launches", launcher.launches())
	}
}

func TestStopDuringStartup(t *testing.T) {
	launched := make(chan struct{})
	launcher := &fakeLauncher{onLaunch: func(*fakeProcess, OutputFunc) { close(launched) }}
	sup := newTestSupervisor(launcher, &fakeProber{})

	result := sup.StartAsync(context.Background(), fastSpec())
	<-launched
	time.Sleep(10 * time.Millisecond)
	sup.Stop("backend")

	select {
	case r := <-result:
		var serr *StartupError
		if !errors.As(r.Err, &serr) || serr.Reason != ReasonStopped {
			t.Fatalf("expected stopped StartupError, got %v", r.Err)
		}
		if r.Handle.State() != StateTerminated {
			t.Fatalf("expected terminated, got %s", r.Handle.State())
		}
	case <-time.After(time.Second):
		t.Fatalf("start did not return after stop")
	}
}

func TestReadyMarkerTriggersImmediateProbe(t *testing.T) {
	launcher := &fakeLauncher{onLaunch: func(_ *fakeProcess, out OutputFunc) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			out("stdout", `{"message":"server listening","addr":"127.0.0.1:5000"}`)
		}()
	}}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 2})
	spec := fastSpec()
	spec.ProbeInterval = time.Hour

	start := time.Now()
	h, err := sup.Start(context.Background(), spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.State() != StateReady {
		t.Fatalf("expected ready, got %s", h.State())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("marker did not shortcut the probe interval (%s)", elapsed)
	}
}

func TestShutdownWaitsForExit(t *testing.T) {
	launcher := &fakeLauncher{}
	sup := newTestSupervisor(launcher, &fakeProber{readyAfter: 1})

	spec := fastSpec()
	if _, err := sup.Start(context.Background(), spec); err != nil {
		t.Fatalf("start: %v", err)
	}
	spec.Name = "second"
	if _, err := sup.Start(context.Background(), spec); err != nil {
		t.Fatalf("start second: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, name := range []string{"backend", "second"} {
		h, _ := sup.Handle(name)
		if h.State() != StateTerminated {
			t.Fatalf("%s: expected terminated, got %s", name, h.State())
		}
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStarting, StateReady, true},
		{StateStarting, StateFailed, true},
		{StateStarting, StateTerminated, true},
		{StateReady, StateTerminated, true},
		{StateReady, StateFailed, true},
		{StateReady, StateStarting, false},
		{StateFailed, StateReady, false},
		{StateTerminated, StateReady, false},
		{StateTerminated, StateFailed, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
