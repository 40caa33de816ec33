// Package client talks to the taskdesk backend over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"taskdesk/domain"
)

const (
	headerRequestID      = "X-Request-Id"
	headerIdempotencyKey = "Idempotency-Key"
	maxResponseSize      = 4 << 20
)

var tracer = otel.Tracer("taskdesk/client")

// Health is the body of GET /health.
type Health struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

type Client struct {
	baseURL string
	http    *http.Client
	policy  Policy
	log     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }
func WithPolicy(p Policy) Option            { return func(c *Client) { c.policy = p } }
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a client for the backend at baseURL, e.g. http://127.0.0.1:5000.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		policy:  DefaultPolicy(),
		log:     log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.call(ctx, "health", http.MethodGet, "/health", nil, true, &out)
	return out, err
}

func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	out := []domain.Task{}
	if err := c.call(ctx, "list_tasks", http.MethodGet, "/tasks", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var out domain.Task
	err := c.call(ctx, "get_task", http.MethodGet, taskPath(id), nil, true, &out)
	return out, err
}

// CreateTask is retried like a read: every attempt carries the same
// Idempotency-Key, so the backend creates the task at most once.
func (c *Client) CreateTask(ctx context.Context, p domain.TaskPatch) (domain.Task, error) {
	var out domain.Task
	err := c.call(ctx, "create_task", http.MethodPost, "/tasks", p, true, &out)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, p domain.TaskPatch) (domain.Task, error) {
	var out domain.Task
	err := c.call(ctx, "update_task", http.MethodPatch, taskPath(id), p, true, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.call(ctx, "delete_task", http.MethodDelete, taskPath(id), nil, true, nil)
}

func (c *Client) ListLabels(ctx context.Context) ([]domain.Label, error) {
	out := []domain.Label{}
	if err := c.call(ctx, "list_labels", http.MethodGet, "/labels", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateLabel returns the existing label when the name is taken, so it is
// safe to retry.
func (c *Client) CreateLabel(ctx context.Context, name string, color *string) (domain.Label, error) {
	var out domain.Label
	body := map[string]any{"name": name}
	if color != nil {
		body["color"] = *color
	}
	err := c.call(ctx, "create_label", http.MethodPost, "/labels", body, true, &out)
	return out, err
}

func (c *Client) TaskLabels(ctx context.Context, taskID int64) ([]domain.Label, error) {
	out := []domain.Label{}
	if err := c.call(ctx, "task_labels", http.MethodGet, taskPath(taskID)+"/labels", nil, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetTaskLabels(ctx context.Context, taskID int64, labelIDs []int64) ([]domain.Label, error) {
	if labelIDs == nil {
		labelIDs = []int64{}
	}
	out := []domain.Label{}
	body := map[string]any{"label_ids": labelIDs}
	if err := c.call(ctx, "set_task_labels", http.MethodPut, taskPath(taskID)+"/labels", body, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func taskPath(id int64) string { return "/tasks/" + strconv.FormatInt(id, 10) }

// call performs one logical request. Every attempt carries the same request
// id so the backend log can correlate retries; POSTs also send it as the
// idempotency key.
func (c *Client) call(ctx context.Context, op, method, path string, body any, idempotent bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}
	requestID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "taskdesk.client."+op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.target", path),
		attribute.String("taskdesk.request_id", requestID),
	)

	attempt := 0
	err := Do(ctx, c.policy, idempotent, func(ctx context.Context) error {
		attempt++
		err := c.send(ctx, method, path, payload, requestID, out)
		// An earlier attempt may have deleted the row before its response was lost.
		if method == http.MethodDelete && attempt > 1 && errors.Is(err, domain.ErrNotFound) {
			c.log.WithFields(log.Fields{
				"operation":  op,
				"attempt":    attempt,
				"request_id": requestID,
			}).Info("retried delete found nothing left to delete")
			return nil
		}
		if err != nil {
			c.log.WithFields(log.Fields{
				"operation":  op,
				"attempt":    attempt,
				"request_id": requestID,
			}).WithError(err).Debug("backend request failed")
		}
		return err
	})
	span.SetAttributes(attribute.Int("taskdesk.attempts", attempt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, requestID string, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerRequestID, requestID)
	if method == http.MethodPost {
		req.Header.Set(headerIdempotencyKey, requestID)
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return newAPIError(resp.StatusCode, data, requestID)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
