package shell

import (
	"bytes"
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"taskdesk/domain"
	"taskdesk/supervisor"
)

type memBackend struct {
	mu     sync.Mutex
	nextID int64
	tasks  []domain.Task
	labels []domain.Label
	links  map[int64][]int64
}

func newMemBackend() *memBackend { return &memBackend{links: map[int64][]int64{}} }

func (m *memBackend) ListTasks(context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tasks), nil
}

func (m *memBackend) GetTask(_ context.Context, id int64) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	return m.tasks[i], nil
}

func (m *memBackend) CreateTask(_ context.Context, p domain.TaskPatch) (domain.Task, error) {
	t, err := domain.NewTask(p)
	if err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.tasks = append(m.tasks, t)
	return t, nil
}

func (m *memBackend) UpdateTask(_ context.Context, id int64, p domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.Task{}, domain.TaskNotFound(id)
	}
	t := m.tasks[i]
	p.Apply(&t)
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	m.tasks[i] = t
	return t, nil
}

func (m *memBackend) DeleteTask(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return domain.TaskNotFound(id)
	}
	m.tasks = slices.Delete(m.tasks, i, i+1)
	delete(m.links, id)
	return nil
}

func (m *memBackend) ListLabels(context.Context) ([]domain.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.labels), nil
}

func (m *memBackend) CreateLabel(_ context.Context, name string, color *string) (domain.Label, error) {
	l, err := domain.NewLabel(name, color)
	if err != nil {
		return domain.Label{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.labels {
		if existing.Name == l.Name {
			return existing, nil
		}
	}
	l.ID = int64(len(m.labels) + 1)
	m.labels = append(m.labels, l)
	return l, nil
}

func (m *memBackend) SetTaskLabels(_ context.Context, taskID int64, ids []int64) ([]domain.Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(taskID) < 0 {
		return nil, domain.TaskNotFound(taskID)
	}
	out := []domain.Label{}
	for _, id := range ids {
		if id < 1 || int(id) > len(m.labels) {
			return nil, domain.LabelNotFound(id)
		}
		out = append(out, m.labels[id-1])
	}
	m.links[taskID] = ids
	return out, nil
}

func (m *memBackend) index(id int64) int {
	return slices.IndexFunc(m.tasks, func(t domain.Task) bool { return t.ID == id })
}

type fakeSupervisor struct {
	startErr   error
	restartErr error
	events     chan supervisor.Event

	mu        sync.Mutex
	started   int
	restarted int
	shutdown  int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{events: make(chan supervisor.Event, 1)}
}

func (f *fakeSupervisor) StartAsync(context.Context, supervisor.Spec) <-chan supervisor.Result {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	out := make(chan supervisor.Result, 1)
	out <- supervisor.Result{Err: f.startErr}
	return out
}

func (f *fakeSupervisor) Restart(context.Context, string) (*supervisor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarted++
	return nil, f.restartErr
}

func (f *fakeSupervisor) Events() <-chan supervisor.Event { return f.events }

func (f *fakeSupervisor) Shutdown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown++
	return nil
}

func (f *fakeSupervisor) counts() (started, restarted, shutdown int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.restarted, f.shutdown
}

// syncBuffer lets a test read console output while the app writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitForOutput(t *testing.T, out *syncBuffer, substr string, count int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for strings.Count(out.String(), substr) < count {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d x %q in output:\n%s", count, substr, out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
