package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"hrplatform/backend/internal/logging"
	"hrplatform/backend/pkg/apperr"
)

// errorResponse is the JSON body returned for every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

// ErrorHandler maps application errors to HTTP status codes. Unclassified
// errors are logged and returned as an opaque 500.
func ErrorHandler(log *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			message = appErr.Message
			switch appErr.Kind {
			case apperr.KindNotFound:
				status = http.StatusNotFound
			case apperr.KindConflict:
				status = http.StatusConflict
			case apperr.KindBadRequest:
				status = http.StatusBadRequest
			case apperr.KindUnauthorized:
				status = http.StatusUnauthorized
			}
		} else if httpErr, ok := err.(*echo.HTTPError); ok {
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				message = msg
			}
		} else {
			log.Error("unhandled error", "method", c.Request().Method, "path", c.Path(), "err", err)
		}

		if err := c.JSON(status, errorResponse{Error: message}); err != nil {
			log.Error("failed to write error response", "err", err)
		}
	}
}
