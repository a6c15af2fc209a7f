package http

import (
	"errors"
	"net/http"

	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Messages shown to API callers.
const (
	msgInternal         = "internal server error"
	msgNotFound         = "Destination not found"
	msgScenarioNotFound = "Scenario not found"
	msgSecretStore      = "Failed to save token securely. Please contact support."
	msgSecretMissing    = "Selected HEC destination is incomplete or token missing from secure storage. Please contact support."
	msgInvalidGenerator = "Invalid script name or path"
	msgTimedOut         = "Script execution timed out"
)

// apiError maps a component error to the HTTP error shown to the caller.
// Credential store failures only ever surface as the registry's generic
// messages.
func (s *Server) apiError(c echo.Context, err error) error {
	var (
		verr *destination.ValidationError
		terr *delivery.TransportError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Message)
	case errors.Is(err, executor.ErrInvalidGenerator):
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidGenerator)
	case errors.Is(err, destination.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, msgNotFound)
	case errors.Is(err, scenario.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, msgScenarioNotFound)
	case errors.Is(err, destination.ErrSecretMissing):
		return echo.NewHTTPError(http.StatusInternalServerError, msgSecretMissing)
	case errors.Is(err, destination.ErrSecretStore), errors.Is(err, credstore.ErrUnavailable):
		return echo.NewHTTPError(http.StatusInternalServerError, msgSecretStore)
	case errors.Is(err, executor.ErrTimedOut):
		return echo.NewHTTPError(http.StatusGatewayTimeout, msgTimedOut)
	case errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusBadGateway, terr.Error())
	}

	s.logger.Error("request failed",
		zap.String("uri", c.Request().RequestURI),
		zap.String("request.id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err),
	)
	return echo.NewHTTPError(http.StatusInternalServerError, msgInternal)
}
