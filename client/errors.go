package client

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"taskdesk/domain"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func newAPIError(status int, body []byte, requestID string) *APIError {
	e := &APIError{Status: status, RequestID: requestID}
	var payload struct {
		Error string `json:"error"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		e.Message = payload.Error
	} else {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// Unwrap maps 400 and 404 onto the domain sentinels so callers can use
// errors.Is without knowing about HTTP.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return domain.ErrInvalid
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}
