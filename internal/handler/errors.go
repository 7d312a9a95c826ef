package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"brenda-cereals/internal/dto"
	"brenda-cereals/internal/service"

	"github.com/labstack/echo/v4"
)

var kindStatus = map[service.Kind]int{
	service.KindInvalid:      http.StatusBadRequest,
	service.KindUnauthorized: http.StatusUnauthorized,
	service.KindForbidden:    http.StatusForbidden,
	service.KindNotFound:     http.StatusNotFound,
	service.KindConflict:     http.StatusConflict,
	service.KindUpstream:     http.StatusInternalServerError,
}

// ErrorHandler renders every error as {"error": msg}. Only service and echo messages reach the
// client; anything else is logged and reported as an internal error.
func ErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := "Internal server error"

		var se *service.Error
		var he *echo.HTTPError
		switch {
		case errors.As(err, &se):
			if s, ok := kindStatus[se.Kind]; ok {
				status = s
				msg = se.Message
			}
		case errors.As(err, &he):
			status = he.Code
			msg = fmt.Sprint(he.Message)
			if status >= http.StatusInternalServerError {
				msg = http.StatusText(status)
			}
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", status,
				"error", err,
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, dto.ErrorResponse{Error: msg})
		}
		if err != nil {
			log.Error("write error response", "error", err)
		}
	}
}
