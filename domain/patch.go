package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Optional distinguishes an omitted field from an explicit null.
// Set with a nil Value clears the field.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] { return Optional[T]{Set: true, Value: &v} }

// Null returns a set Optional that clears the field.
func Null[T any]() Optional[T] { return Optional[T]{Set: true} }

// TaskPatch is a partial update. Fields left unset keep their stored value.
type TaskPatch struct {
	Title     *string
	Completed *bool
	Deadline  Optional[time.Time]
	Category  Optional[string]
	Priority  Optional[Priority]
	Notes     Optional[string]
}

// Empty reports whether the patch supplies no fields at all.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Completed == nil && !p.Deadline.Set &&
		!p.Category.Set && !p.Priority.Set && !p.Notes.Set
}

// Apply copies the supplied fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	if p.Deadline.Set {
		t.Deadline = p.Deadline.Value
	}
	if p.Category.Set {
		t.Category = p.Category.Value
	}
	if p.Priority.Set {
		t.Priority = p.Priority.Value
	}
	if p.Notes.Set {
		t.Notes = p.Notes.Value
	}
}

// UnmarshalJSON decodes a JSON object. Unknown keys are ignored; a key with
// the wrong type yields a ValidationError.
func (p *TaskPatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil || raw == nil {
		return &ValidationError{Message: "body must be a JSON object"}
	}
	var out TaskPatch
	if v, ok := raw["title"]; ok {
		if isNull(v) {
			return Invalid("title", "must not be null")
		}
		var s string
		if err := sonic.Unmarshal(v, &s); err != nil {
			return Invalid("title", "must be a string")
		}
		out.Title = &s
	}
	if v, ok := raw["completed"]; ok {
		if isNull(v) {
			return Invalid("completed", "must not be null")
		}
		var b bool
		if err := sonic.Unmarshal(v, &b); err != nil {
			return Invalid("completed", "must be a boolean")
		}
		out.Completed = &b
	}
	if v, ok := raw["deadline"]; ok {
		if isNull(v) {
			out.Deadline = Null[time.Time]()
		} else {
			var s string
			if err := sonic.Unmarshal(v, &s); err != nil {
				return Invalid("deadline", "must be a string")
			}
			if strings.TrimSpace(s) == "" {
				out.Deadline = Null[time.Time]()
			} else {
				d, err := ParseDeadline(s)
				if err != nil {
					return err
				}
				out.Deadline = Some(d)
			}
		}
	}
	var err error
	if out.Category, err = optionalString(raw, "category"); err != nil {
		return err
	}
	if out.Notes, err = optionalString(raw, "notes"); err != nil {
		return err
	}
	if v, ok := raw["priority"]; ok {
		if isNull(v) {
			out.Priority = Null[Priority]()
		} else {
			var pr Priority
			if err := pr.UnmarshalJSON(v); err != nil {
				return err
			}
			out.Priority = Some(pr)
		}
	}
	*p = out
	return nil
}

// MarshalJSON emits only the supplied fields, with null for cleared ones.
func (p TaskPatch) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 6)
	if p.Title != nil {
		m["title"] = *p.Title
	}
	if p.Completed != nil {
		m["completed"] = *p.Completed
	}
	if p.Deadline.Set {
		if p.Deadline.Value == nil {
			m["deadline"] = nil
		} else {
			m["deadline"] = p.Deadline.Value.UTC().Format(time.RFC3339)
		}
	}
	if p.Category.Set {
		m["category"] = p.Category.Value
	}
	if p.Priority.Set {
		m["priority"] = p.Priority.Value
	}
	if p.Notes.Set {
		m["notes"] = p.Notes.Value
	}
	return sonic.Marshal(m)
}

func optionalString(raw map[string]json.RawMessage, field string) (Optional[string], error) {
	v, ok := raw[field]
	if !ok {
		return Optional[string]{}, nil
	}
	if isNull(v) {
		return Null[string](), nil
	}
	var s string
	if err := sonic.Unmarshal(v, &s); err != nil {
		return Optional[string]{}, Invalid(field, "must be a string")
	}
	return Some(s), nil
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}
