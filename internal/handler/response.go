package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/eduvault/internal/service"
)

// envelope wraps every successful response.
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// errorEnvelope wraps every failed response.
type errorEnvelope struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
}

func respond(c echo.Context, status int, data any, message string) error {
	if data == nil {
		data = struct{}{}
	}
	return c.JSON(status, envelope{StatusCode: status, Data: data, Message: message, Success: true})
}

func failWith(c echo.Context, status int, message string, errs ...string) error {
	if errs == nil {
		errs = []string{}
	}
	return c.JSON(status, errorEnvelope{StatusCode: status, Message: message, Success: false, Errors: errs})
}

// statusOf maps a service error to its HTTP status and public message.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, "Validation failed"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusBadRequest, "Invalid state"
	case errors.Is(err, service.ErrDependency):
		return http.StatusInternalServerError, "Upstream dependency failed"
	}
	return http.StatusInternalServerError, "Internal server error"
}

// fail renders err as an error envelope.  Client errors carry the service
// message; server errors are logged and hidden.
func fail(c echo.Context, err error) error {
	status, message := statusOf(err)
	var details []string
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		details = verr.Fields
	case status < http.StatusInternalServerError:
		details = []string{err.Error()}
	default:
		slog.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method, "route", c.Path(), "err", err)
	}
	return failWith(c, status, message, details...)
}

// HTTPErrorHandler renders errors that reach echo (unknown routes, auth
// middleware rejections, panics) in the same envelope as handler errors.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg, ok := he.Message.(string)
			if !ok {
				msg = http.StatusText(he.Code)
			}
			if he.Code >= http.StatusInternalServerError {
				log.Error("http error", "route", c.Path(), "err", err)
			}
			_ = failWith(c, he.Code, msg)
			return
		}
		_ = fail(c, err)
	}
}
