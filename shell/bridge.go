// Package shell is the user-facing side of taskdesk: it waits for the
// backend, then drives task operations through the HTTP client.
package shell

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskdesk/domain"
)

var (
	ErrNotReady         = errors.New("backend is not ready")
	ErrBackendDown      = errors.New("backend stopped unexpectedly")
	ErrAlreadyCompleted = errors.New("task is already marked as completed")
)

// Backend is the subset of client.Client the shell uses.
type Backend interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, p domain.TaskPatch) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, p domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ListLabels(ctx context.Context) ([]domain.Label, error)
	CreateLabel(ctx context.Context, name string, color *string) (domain.Label, error)
	SetTaskLabels(ctx context.Context, taskID int64, labelIDs []int64) ([]domain.Label, error)
}

type bridgeState int

const (
	bridgeNotReady bridgeState = iota
	bridgeReady
	bridgeDown
)

// Bridge refuses every operation until the backend has been reported ready,
// and again after it went down.
type Bridge struct {
	backend Backend
	log     *log.Entry

	mu    sync.RWMutex
	state bridgeState
}

func NewBridge(b Backend, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bridge{backend: b, log: logger.WithField("component", "bridge")}
}

func (b *Bridge) MarkReady() { b.setState(bridgeReady) }
func (b *Bridge) MarkDown()  { b.setState(bridgeDown) }

func (b *Bridge) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == bridgeReady
}

func (b *Bridge) setState(s bridgeState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Bridge) gate() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch b.state {
	case bridgeReady:
		return nil
	case bridgeDown:
		return ErrBackendDown
	}
	return ErrNotReady
}

func (b *Bridge) GetTasks(ctx context.Context) ([]domain.Task, error) {
	if err := b.gate(); err != nil {
		return nil, err
	}
	tasks, err := b.backend.ListTasks(ctx)
	if err != nil {
		b.log.WithError(err).Warn("list tasks")
		return nil, err
	}
	return tasks, nil
}

func (b *Bridge) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	if err := b.gate(); err != nil {
		return domain.Task{}, err
	}
	return b.backend.GetTask(ctx, id)
}

func (b *Bridge) AddTask(ctx context.Context, p domain.TaskPatch) (domain.Task, error) {
	if err := b.gate(); err != nil {
		return domain.Task{}, err
	}
	t, err := b.backend.CreateTask(ctx, p)
	if err != nil {
		b.log.WithError(err).Warn("add task")
		return domain.Task{}, err
	}
	b.log.WithField("task_id", t.ID).Info("task added")
	return t, nil
}

func (b *Bridge) UpdateTask(ctx context.Context, id int64, p domain.TaskPatch) (domain.Task, error) {
	if err := b.gate(); err != nil {
		return domain.Task{}, err
	}
	t, err := b.backend.UpdateTask(ctx, id, p)
	if err != nil {
		b.log.WithError(err).WithField("task_id", id).Warn("update task")
		return domain.Task{}, err
	}
	return t, nil
}

// CompleteTask fails with ErrAlreadyCompleted for a task that is done.
func (b *Bridge) CompleteTask(ctx context.Context, id int64) (domain.Task, error) {
	if err := b.gate(); err != nil {
		return domain.Task{}, err
	}
	current, err := b.backend.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if current.Completed {
		b.log.WithField("task_id", id).Warn("task already completed")
		return current, ErrAlreadyCompleted
	}
	done := true
	return b.UpdateTask(ctx, id, domain.TaskPatch{Completed: &done})
}

func (b *Bridge) DeleteTask(ctx context.Context, id int64) error {
	if err := b.gate(); err != nil {
		return err
	}
	if err := b.backend.DeleteTask(ctx, id); err != nil {
		b.log.WithError(err).WithField("task_id", id).Warn("delete task")
		return err
	}
	b.log.WithField("task_id", id).Info("task deleted")
	return nil
}

func (b *Bridge) Labels(ctx context.Context) ([]domain.Label, error) {
	if err := b.gate(); err != nil {
		return nil, err
	}
	return b.backend.ListLabels(ctx)
}

func (b *Bridge) AddLabel(ctx context.Context, name string, color *string) (domain.Label, error) {
	if err := b.gate(); err != nil {
		return domain.Label{}, err
	}
	return b.backend.CreateLabel(ctx, name, color)
}

// TagTask replaces the labels on a task.
func (b *Bridge) TagTask(ctx context.Context, taskID int64, labelIDs []int64) ([]domain.Label, error) {
	if err := b.gate(); err != nil {
		return nil, err
	}
	return b.backend.SetTaskLabels(ctx, taskID, labelIDs)
}
