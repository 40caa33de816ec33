package domain

import "strings"

// Label is a named tag that can be attached to any number of tasks.
type Label struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

// NewLabel validates and normalizes a label before insert.
func NewLabel(name string, color *string) (Label, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Label{}, Invalid("name", "must not be empty")
	}
	return Label{Name: name, Color: color}, nil
}
