package api

import (
	"context"

	"taskdesk/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	Create(ctx context.Context, p domain.TaskPatch) (domain.Task, error)
	CreateOnce(ctx context.Context, key string, p domain.TaskPatch) (domain.Task, bool, error)
	List(ctx context.Context) ([]domain.Task, error)
	Get(ctx context.Context, id int64) (domain.Task, error)
	Update(ctx context.Context, id int64, p domain.TaskPatch) (domain.Task, error)
	Delete(ctx context.Context, id int64) error

	CreateLabel(ctx context.Context, name string, color *string) (domain.Label, error)
	ListLabels(ctx context.Context) ([]domain.Label, error)
	DeleteLabel(ctx context.Context, id int64) error
	TaskLabels(ctx context.Context, taskID int64) ([]domain.Label, error)
	SetTaskLabels(ctx context.Context, taskID int64, labelIDs []int64) ([]domain.Label, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health. PID lets a supervisor confirm
// that the answering process is the child it spawned.
type HealthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type labelRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

type taskLabelsRequest struct {
	LabelIDs []int64 `json:"label_ids"`
}
