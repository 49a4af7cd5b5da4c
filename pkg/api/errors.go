package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/chatbridge/linecore/pkg/services"
)

// mapServiceError translates service sentinels into HTTP errors. Anything
// unrecognized is logged and answered as a 500 without leaking the cause.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	switch {
	case errors.As(err, &validErr):
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	case errors.Is(err, services.ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
