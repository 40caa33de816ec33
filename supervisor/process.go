package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Process is a running child as seen by the supervisor.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It is called exactly once.
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// OutputFunc receives each line the child writes, tagged with its stream.
type OutputFunc func(stream, line string)

// Launcher spawns processes. Tests substitute fakes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec, output OutputFunc) (Process, error)
}

// ExecLauncher runs Spec.Command with os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(_ context.Context, spec Spec, output OutputFunc) (Process, error) {
	// The child's lifetime is owned by the supervisor, not by the caller's
	// context, so exec.Command rather than CommandContext.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	stdout := &lineWriter{stream: "stdout", emit: output}
	stderr := &lineWriter{stream: "stderr", emit: output}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Command, err)
	}
	return &execProcess{cmd: cmd, flush: []*lineWriter{stdout, stderr}}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	flush []*lineWriter
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()
	for _, w := range p.flush {
		w.Flush()
	}
	return err
}

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

// terminate asks the process to exit and falls back to Kill where SIGTERM is
// not deliverable (Windows).
func terminate(p Process) error {
	if err := p.Signal(syscall.SIGTERM); err != nil {
		return p.Kill()
	}
	return nil
}

// lineWriter splits a byte stream into lines for OutputFunc.
type lineWriter struct {
	mu     sync.Mutex
	stream string
	emit   OutputFunc
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emitLine(line)
	}
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emitLine(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emitLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || w.emit == nil {
		return
	}
	w.emit(w.stream, line)
}
