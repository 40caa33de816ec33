package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"taskdesk/domain"
)

var ErrUnknownCommand = errors.New("unknown command")

// Commands lists the names accepted by Dispatch.
var Commands = []string{
	"get_tasks", "get_task", "add_task", "update_task", "complete_task",
	"delete_task", "get_labels", "add_label", "set_task_labels",
}

type idPayload struct {
	ID *int64 `json:"id"`
}

type labelPayload struct {
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

type taskLabelsPayload struct {
	ID       *int64  `json:"id"`
	LabelIDs []int64 `json:"label_ids"`
}

// Dispatch runs one named command with a JSON payload and returns the value
// to encode as its result.
func Dispatch(ctx context.Context, b *Bridge, command string, payload []byte) (any, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = []byte("{}")
	}
	switch command {
	case "get_tasks":
		return b.GetTasks(ctx)
	case "get_task":
		id, err := decodeID(payload)
		if err != nil {
			return nil, err
		}
		return b.GetTask(ctx, id)
	case "add_task":
		var p domain.TaskPatch
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return b.AddTask(ctx, p)
	case "update_task":
		id, err := decodeID(payload)
		if err != nil {
			return nil, err
		}
		var p domain.TaskPatch
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return b.UpdateTask(ctx, id, p)
	case "complete_task":
		id, err := decodeID(payload)
		if err != nil {
			return nil, err
		}
		return b.CompleteTask(ctx, id)
	case "delete_task":
		id, err := decodeID(payload)
		if err != nil {
			return nil, err
		}
		if err := b.DeleteTask(ctx, id); err != nil {
			return nil, err
		}
		return map[string]int64{"deleted": id}, nil
	case "get_labels":
		return b.Labels(ctx)
	case "add_label":
		var p labelPayload
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return nil, domain.Invalid("payload", "must be a JSON object")
		}
		return b.AddLabel(ctx, p.Name, p.Color)
	case "set_task_labels":
		var p taskLabelsPayload
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return nil, domain.Invalid("payload", "must be a JSON object")
		}
		if p.ID == nil {
			return nil, domain.Invalid("id", "is required")
		}
		return b.TagTask(ctx, *p.ID, p.LabelIDs)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

func decodeID(payload []byte) (int64, error) {
	var p idPayload
	if err := sonic.Unmarshal(payload, &p); err != nil {
		return 0, domain.Invalid("id", "must be an integer")
	}
	if p.ID == nil {
		return 0, domain.Invalid("id", "is required")
	}
	return *p.ID, nil
}
