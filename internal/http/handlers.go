package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HeaderRunID carries the run id of a generation stream.
const HeaderRunID = "X-Run-ID"

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListDestinations(c echo.Context) error {
	items := s.deps.Destinations.List()
	if items == nil {
		items = []destination.Destination{}
	}
	return c.JSON(http.StatusOK, DestinationsResponse{Destinations: items})
}

// handleSaveDestination creates a destination, or updates the one with the
// same name and type.
func (s *Server) handleSaveDestination(c echo.Context) error {
	var p destination.Payload
	if err := s.bind(c, &p); err != nil {
		return err
	}

	d, err := s.deps.Destinations.Upsert(c.Request().Context(), p)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// handleDeleteDestination removes a destination. Unknown ids succeed.
func (s *Server) handleDeleteDestination(c echo.Context) error {
	if err := s.deps.Destinations.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.apiError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// handleGenerate runs a generator against a destination and streams every
// output line back as text/plain while it happens. Request errors are
// reported as JSON before the stream starts; after that, failures arrive as
// the final ERROR line.
func (s *Server) handleGenerate(c echo.Context) error {
	var req delivery.GenerationRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	run, err := s.deps.Pipeline.Prepare(c.Request().Context(), req)
	if err != nil {
		return s.apiError(c, err)
	}
	return s.streamRun(c, run)
}

func (s *Server) handleListScenarios(c echo.Context) error {
	items := s.deps.Pipeline.Scenarios()
	if items == nil {
		items = []scenario.Scenario{}
	}
	return c.JSON(http.StatusOK, ScenariosResponse{Scenarios: items})
}

// handleRunScenario replays a scenario against an HEC destination, streaming
// like handleGenerate.
func (s *Server) handleRunScenario(c echo.Context) error {
	var req delivery.ScenarioRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	run, err := s.deps.Pipeline.PrepareScenario(c.Request().Context(), req)
	if err != nil {
		return s.apiError(c, err)
	}
	return s.streamRun(c, run)
}

func (s *Server) streamRun(c echo.Context, run *delivery.Run) error {
	ctx := c.Request().Context()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.Header().Set(echo.HeaderXContentTypeOptions, "nosniff")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(HeaderRunID, run.ID())
	res.WriteHeader(http.StatusOK)
	res.Flush()

	out := run.Stream(ctx, delivery.SinkFunc(func(line executor.OutputLine) error {
		if _, err := io.WriteString(res, line.Render()); err != nil {
			return err
		}
		res.Flush()
		return nil
	}))

	s.logger.Debug("generation stream closed",
		zap.String("run.id", out.RunID),
		zap.String("state", string(out.State)),
		zap.Int("delivered", out.Delivered),
	)
	return nil
}

// handleExecute runs a generator to completion and returns its captured
// output with the detected format.
func (s *Server) handleExecute(c echo.Context) error {
	var req ExecuteRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.Generator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "generator is required")
	}
	if req.Count < 0 || req.Count > delivery.MaxCount {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", delivery.MaxCount))
	}

	var args []string
	if req.Count > 0 {
		args = append(args, strconv.Itoa(req.Count))
	}
	inv, err := s.deps.Resolver.Resolve(req.Generator, args...)
	if err != nil {
		return s.apiError(c, err)
	}

	capture, err := s.deps.Executor.Execute(c.Request().Context(), inv)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, ExecuteResponse{
		Output:         capture.Output,
		DetectedFormat: capture.Format,
		ExitCode:       capture.ExitCode,
	})
}

// handleNormalize cleans captured output and optionally sends the cleaned
// lines to a syslog destination.
func (s *Server) handleNormalize(c echo.Context) error {
	var req NormalizeRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	format := logformat.Classify(req.Output)
	if req.Format != "" {
		f, err := logformat.ParseFormat(req.Format)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "format must be JSON or RAW")
		}
		format = f
	}

	cleaned := logformat.Normalize(req.Output, format)
	resp := NormalizeResponse{
		Output: cleaned,
		Format: format,
		Lines:  len(logformat.Lines(cleaned)),
	}
	if req.DestinationID == "" {
		return c.JSON(http.StatusOK, resp)
	}

	n, err := s.deps.Pipeline.DeliverText(c.Request().Context(), req.DestinationID, cleaned)
	resp.Delivered = n
	if err != nil {
		return s.apiError(c, err)
	}
	resp.Message = fmt.Sprintf("%d lines sent to %s", n, req.DestinationID)
	return c.JSON(http.StatusOK, resp)
}

// bind decodes the request body, reporting payload validation failures
// verbatim.
func (s *Server) bind(c echo.Context, v any) error {
	err := c.Bind(v)
	if err == nil {
		return nil
	}
	var verr *destination.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Message)
	}
	s.logger.Warn("invalid request body", zap.String("uri", c.Request().RequestURI), zap.Error(err))
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}
