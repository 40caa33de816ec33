package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Task is a single to-do item as stored and served by the backend.
type Task struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Completed bool       `json:"completed"`
	Deadline  *time.Time `json:"deadline"`
	Category  *string    `json:"category"`
	Priority  *Priority  `json:"priority"`
	Notes     *string    `json:"notes"`
	CreatedAt time.Time  `json:"created_at"`
}

// Priority is one of a closed set of urgency labels.
type Priority string

const (
	PriorityASAP Priority = "ASAP"
	Priority1    Priority = "1"
	Priority2    Priority = "2"
	Priority3    Priority = "3"
	Priority4    Priority = "4"
)

// Priorities lists the accepted values in display order.
var Priorities = []Priority{PriorityASAP, Priority1, Priority2, Priority3, Priority4}

// ParsePriority accepts the labels case-insensitively ("asap" is ASAP).
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for _, p := range Priorities {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", Invalid("priority", "must be one of ASAP, 1, 2, 3, 4")
}

// UnmarshalJSON accepts either a string label or an integer 1-4.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := sonic.Unmarshal(data, &s); err != nil {
		var n int
		if nerr := sonic.Unmarshal(data, &n); nerr != nil {
			return Invalid("priority", "must be a string or an integer")
		}
		s = strconv.Itoa(n)
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDeadline reads the accepted deadline layouts and normalizes the result
// to UTC with second precision.
func ParseDeadline(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range deadlineLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeTime(t), nil
		}
	}
	return time.Time{}, Invalid("deadline", "must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
}

// NormalizeTime is the canonical form for persisted timestamps.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// NewTask builds an unsaved task from a patch. Title is required.
func NewTask(p TaskPatch) (Task, error) {
	if p.Title == nil {
		return Task{}, Invalid("title", "is required")
	}
	var t Task
	p.Apply(&t)
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Validate checks the invariants every persisted task must satisfy.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return Invalid("title", "must not be empty")
	}
	if t.Priority != nil {
		if _, err := ParsePriority(string(*t.Priority)); err != nil {
			return err
		}
	}
	return nil
}
