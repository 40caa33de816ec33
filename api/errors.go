package api

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskdesk/domain"
)

const msgInternal = "Internal Server Error"

// errorHandler renders every handler error as {"error": message}. Store
// failures other than validation and not-found are logged and hidden behind a
// generic 500.
func errorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.WithFields(log.Fields{
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"method":     c.Request().Method,
				"path":       c.Request().URL.Path,
			}).WithError(err).Error("request failed")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, ErrorResponse{Error: msg})
		}
		if werr != nil {
			logger.WithError(werr).Error("write error response")
		}
	}
}

func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	var herr *echo.HTTPError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.As(err, &herr):
		if herr.Code >= http.StatusInternalServerError {
			return herr.Code, msgInternal
		}
		if s, ok := herr.Message.(string); ok {
			return herr.Code, s
		}
		return herr.Code, http.StatusText(herr.Code)
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// sonicSerializer replaces Echo's encoding/json based serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgNoData).SetInternal(err)
	}
	return nil
}
