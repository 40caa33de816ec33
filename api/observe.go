package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "taskdesk/api"
	requestSpanName    = "taskdesk.http.request"
	requestEventName   = "http.request"
	requestEventDomain = "taskdesk.api"
	observabilityEvent = "observability.event"
)

// observeRequests wraps each request in a server span (continuing any W3C
// trace context sent by the caller) and emits one structured log entry once
// the response status is known.
func observeRequests(logger *log.Logger) echo.MiddlewareFunc {
	propagator := propagation.TraceContext{}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			severityText, severityNumber := severityForStatus(status, err)
			durationMs := durationToMillis(time.Since(start))

			attrs := []attribute.KeyValue{
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
				attribute.String("taskdesk.request_id", requestID),
				attribute.Float64("taskdesk.duration_ms", durationMs),
			}
			logAttrs := map[string]any{
				"http.method":          req.Method,
				"http.route":           route,
				"http.status_code":     status,
				"taskdesk.request_id":  requestID,
				"taskdesk.duration_ms": durationMs,
			}
			if err != nil {
				attrs = append(attrs, attribute.String("error.message", err.Error()))
				logAttrs["error.message"] = err.Error()
			}
			span.SetAttributes(attrs...)
			span.AddEvent(observabilityEvent, trace.WithAttributes(append(attrs,
				attribute.String("event.name", requestEventName),
				attribute.String("event.domain", requestEventDomain),
				attribute.String("severity_text", severityText),
				attribute.Int("severity_number", severityNumber),
			)...))
			if status >= http.StatusInternalServerError {
				desc := http.StatusText(status)
				if err != nil {
					desc = err.Error()
				}
				span.SetStatus(codes.Error, desc)
			} else {
				span.SetStatus(codes.Ok, "")
			}

			fields := log.Fields{
				"event.name":      requestEventName,
				"event.domain":    requestEventDomain,
				"severity_text":   severityText,
				"severity_number": severityNumber,
				"request_id":      requestID,
				"attributes":      logAttrs,
			}
			if sc := span.SpanContext(); sc.IsValid() {
				fields["trace_id"] = sc.TraceID().String()
				fields["span_id"] = sc.SpanID().String()
			}
			logger.WithFields(fields).Log(levelForSeverity(severityNumber), observabilityEvent)
			return nil
		}
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case status == 0 && err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func levelForSeverity(n int) log.Level {
	switch {
	case n >= 17:
		return log.ErrorLevel
	case n >= 13:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
