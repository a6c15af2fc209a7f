package http

import (
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// DestinationsResponse is the response body for GET /api/v1/destinations.
type DestinationsResponse struct {
	Destinations []destination.Destination `json:"destinations"`
}

// ScenariosResponse is the response body for GET /api/v1/scenarios.
type ScenariosResponse struct {
	Scenarios []scenario.Scenario `json:"scenarios"`
}

// ExecuteRequest is the request body for POST /api/v1/execute.
type ExecuteRequest struct {
	Generator string `json:"generator"`
	Count     int    `json:"count,omitempty"`
}

// ExecuteResponse is the response body for POST /api/v1/execute.
type ExecuteResponse struct {
	Output         string           `json:"output"`
	DetectedFormat logformat.Format `json:"detected_format"`
	ExitCode       int              `json:"exit_code"`
}

// NormalizeRequest is the request body for POST /api/v1/normalize. An empty
// Format is detected from Output. With DestinationID set the cleaned lines
// are also sent to that syslog destination.
type NormalizeRequest struct {
	Output        string `json:"output"`
	Format        string `json:"format,omitempty"`
	DestinationID string `json:"destination_id,omitempty"`
}

// NormalizeResponse is the response body for POST /api/v1/normalize.
type NormalizeResponse struct {
	Output    string           `json:"output"`
	Format    logformat.Format `json:"format"`
	Lines     int              `json:"lines"`
	Delivered int              `json:"delivered"`
	Message   string           `json:"message,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}
