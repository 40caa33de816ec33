package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskdesk/domain"
)

const (
	maxBodySize       = 64 << 10
	maxIdempotencyKey = 255
	msgNoData         = "No data provided"

	// HeaderIdempotencyKey lets a client retry POST /tasks without creating
	// the task twice.
	HeaderIdempotencyKey     = "Idempotency-Key"
	HeaderIdempotentReplayed = "Idempotent-Replayed"
)

// Register wires up all API routes and the shared middleware chain on the
// provided Echo instance.
func Register(e *echo.Echo, store Storage, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = errorHandler(logger)

	metrics := newMetrics()
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(observeRequests(logger))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Namespace:  "taskdesk",
		Registerer: metrics.registry,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
		// The error handler has not run yet, so the status comes from the error.
		StatusCodeResolver: func(c echo.Context, err error) int {
			if err == nil {
				return c.Response().Status
			}
			status, _ := statusFor(err)
			return status
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/health", health(os.Getpid()))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: metrics.registry}))

	e.GET("/tasks", listTasks(store, metrics))
	e.POST("/tasks", createTask(store, metrics))
	e.GET("/tasks/:id", getTask(store))
	e.PUT("/tasks/:id", updateTask(store, metrics))
	e.PATCH("/tasks/:id", updateTask(store, metrics))
	e.DELETE("/tasks/:id", deleteTask(store, metrics))

	e.GET("/tasks/:id/labels", getTaskLabels(store))
	e.PUT("/tasks/:id/labels", setTaskLabels(store))
	e.GET("/labels", listLabels(store))
	e.POST("/labels", createLabel(store))
	e.DELETE("/labels/:id", deleteLabel(store))
}

func health(pid int) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok", PID: pid})
	}
}

func listTasks(store Storage, m *metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := store.List(c.Request().Context())
		m.observe("list", err)
		if err != nil {
			return err
		}
		m.tasks.Set(float64(len(tasks)))
		return c.JSON(http.StatusOK, tasks)
	}
}

func createTask(store Storage, m *metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := decodePatch(c)
		if err != nil {
			return err
		}
		if p.Empty() {
			return noData()
		}
		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		if len(key) > maxIdempotencyKey {
			return domain.Invalid(HeaderIdempotencyKey, "must be at most 255 characters")
		}
		task, replayed, err := store.CreateOnce(c.Request().Context(), key, p)
		m.observe("create", err)
		if err != nil {
			return err
		}
		if replayed {
			c.Response().Header().Set(HeaderIdempotentReplayed, "true")
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		task, err := store.Get(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(store Storage, m *metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		p, err := decodePatch(c)
		if err != nil {
			return err
		}
		task, err := store.Update(c.Request().Context(), id, p)
		m.observe("update", err)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Storage, m *metrics) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		err = store.Delete(c.Request().Context(), id)
		m.observe("delete", err)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getTaskLabels(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		labels, err := store.TaskLabels(c.Request().Context(), id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, labels)
	}
}

func setTaskLabels(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		var req taskLabelsRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		labels, err := store.SetTaskLabels(c.Request().Context(), id, req.LabelIDs)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, labels)
	}
}

func listLabels(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		labels, err := store.ListLabels(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, labels)
	}
}

func createLabel(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req labelRequest
		if err := decodeBody(c, &req); err != nil {
			return err
		}
		label, err := store.CreateLabel(c.Request().Context(), req.Name, req.Color)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, label)
	}
}

func deleteLabel(store Storage) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathID(c)
		if err != nil {
			return err
		}
		if err := store.DeleteLabel(c.Request().Context(), id); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, domain.Invalid("id", "must be an integer")
	}
	return id, nil
}

func noData() error { return &domain.ValidationError{Message: msgNoData} }

func readBody(c echo.Context) ([]byte, error) {
	lr := io.LimitReader(c.Request().Body, maxBodySize+1)
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, noData()
	}
	if len(body) > maxBodySize {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, noData()
	}
	return body, nil
}

// decodePatch reads a task patch. A body that is not a JSON object is
// reported as missing data; field errors keep their own message.
func decodePatch(c echo.Context) (domain.TaskPatch, error) {
	var p domain.TaskPatch
	body, err := readBody(c)
	if err != nil {
		return p, err
	}
	if err := p.UnmarshalJSON(body); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) && verr.Field == "" {
			return p, noData()
		}
		return p, err
	}
	return p, nil
}

func decodeBody(c echo.Context, dst any) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dst); err != nil {
		return noData()
	}
	return nil
}
