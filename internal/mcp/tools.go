package mcp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var errInvalidInput = errors.New("invalid input")

// Messages shown to MCP clients.
const (
	msgInternal         = "internal error"
	msgCancelled        = "request cancelled"
	msgNotFound         = "Destination not found"
	msgScenarioNotFound = "Scenario not found"
	msgSecretStore      = "Failed to save token securely. Please contact support."
	msgSecretMissing    = "Selected HEC destination is incomplete or token missing from secure storage. Please contact support."
	msgInvalidGenerator = "Invalid script name or path"
	msgTimedOut         = "Script execution timed out"
)

// ===== DESTINATIONS_LIST =====

type destinationsListInput struct {
	Type string `json:"type,omitempty" jsonschema:"Only list destinations of this type: HEC or SYSLOG"`
}

type destinationSummary struct {
	ID     string `json:"id" jsonschema:"Destination ID to pass to generate_events"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Target string `json:"target" jsonschema:"Collector URL or syslog host:port/protocol"`
}

type destinationsListOutput struct {
	Destinations []destinationSummary `json:"destinations"`
	Count        int                  `json:"count"`
}

// ===== GENERATE_EVENTS =====

type generateEventsInput struct {
	Generator       string  `json:"generator" jsonschema:"Generator script path for syslog destinations, product name for HEC destinations"`
	DestinationID   string  `json:"destination_id" jsonschema:"ID of the destination that receives the events"`
	Count           int     `json:"count,omitempty" jsonschema:"Number of events to generate, default 3"`
	EventsPerSecond float64 `json:"eps,omitempty" jsonschema:"Target delivery rate for HEC destinations"`
}

type generateEventsOutput struct {
	RunID        string   `json:"run_id"`
	State        string   `json:"state" jsonschema:"COMPLETED or FAILED"`
	Delivered    int      `json:"delivered" jsonschema:"Events accepted by the destination"`
	DurationMs   int64    `json:"duration_ms"`
	Lines        []string `json:"lines" jsonschema:"Last progress lines of the run"`
	DroppedLines int      `json:"dropped_lines,omitempty" jsonschema:"Earlier progress lines not included"`
	Error        string   `json:"error,omitempty"`
}

// ===== SCENARIOS_LIST =====

type scenariosListInput struct{}

type scenariosListOutput struct {
	Scenarios []scenario.Scenario `json:"scenarios"`
	Count     int                 `json:"count"`
}

// ===== RUN_SCENARIO =====

type runScenarioInput struct {
	ScenarioID    string `json:"scenario_id" jsonschema:"ID from scenarios_list"`
	DestinationID string `json:"destination_id" jsonschema:"ID of the HEC destination that receives the events"`
}

// ===== EXECUTE_GENERATOR =====

type executeGeneratorInput struct {
	Generator string `json:"generator" jsonschema:"Generator script path relative to the generators directory"`
	Count     int    `json:"count,omitempty" jsonschema:"Event count passed to the generator, omitted when zero"`
}

type executeGeneratorOutput struct {
	Output   string `json:"output" jsonschema:"Generator stdout followed by any stderr"`
	Format   string `json:"format" jsonschema:"Detected output format: JSON or RAW"`
	ExitCode int    `json:"exit_code"`
}

// ===== NORMALIZE_OUTPUT =====

type normalizeOutputInput struct {
	Text   string `json:"text" jsonschema:"Captured generator output"`
	Format string `json:"format,omitempty" jsonschema:"JSON or RAW, detected when empty"`
}

type normalizeOutputOutput struct {
	Format  string   `json:"format"`
	Records []string `json:"records" jsonschema:"One record per event"`
	Count   int      `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "destinations_list",
		Description: "List configured delivery destinations. Secrets are never included.",
	}, s.destinationsList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "generate_events",
		Description: "Run a generator and deliver its events to a destination. " +
			"Blocks until the run finishes and returns its final state with the last progress lines.",
	}, s.generateEvents)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "scenarios_list",
		Description: "List attack scenarios that can be replayed against an HEC destination.",
	}, s.scenariosList)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "run_scenario",
		Description: "Replay a multi-product attack scenario against an HEC destination. " +
			"Blocks until the scenario finishes and returns its final state with the last progress lines.",
	}, s.runScenario)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "execute_generator",
		Description: "Run a generator without delivering anything and return its captured output.",
	}, s.executeGenerator)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "normalize_output",
		Description: "Split captured generator output into one record per event, dropping banner lines.",
	}, s.normalizeOutput)
}

func (s *Server) destinationsList(ctx context.Context, req *mcp.CallToolRequest, args destinationsListInput) (_ *mcp.CallToolResult, _ destinationsListOutput, err error) {
	done := s.metrics.track(ctx, "destinations_list")
	defer func() { done(err) }()

	var filter destination.Type
	if args.Type != "" {
		if filter, err = destination.ParseType(args.Type); err != nil {
			return nil, destinationsListOutput{}, fmt.Errorf("%w: type must be HEC or SYSLOG", errInvalidInput)
		}
	}

	out := destinationsListOutput{Destinations: []destinationSummary{}}
	for _, d := range s.deps.Destinations.List() {
		if filter != "" && d.Type != filter {
			continue
		}
		out.Destinations = append(out.Destinations, destinationSummary{
			ID:     d.ID,
			Name:   d.Name,
			Type:   string(d.Type),
			Target: target(d),
		})
	}
	out.Count = len(out.Destinations)

	return textResult(fmt.Sprintf("%d destination(s)", out.Count)), out, nil
}

func (s *Server) generateEvents(ctx context.Context, req *mcp.CallToolRequest, args generateEventsInput) (_ *mcp.CallToolResult, _ generateEventsOutput, err error) {
	var runErr error
	done := s.metrics.track(ctx, "generate_events")
	defer func() { done(cmp.Or(err, runErr)) }()

	if args.DestinationID == "" {
		return nil, generateEventsOutput{}, s.toolError(fmt.Errorf("%w: destination_id is required", errInvalidInput))
	}

	run, err := s.deps.Pipeline.Prepare(ctx, delivery.GenerationRequest{
		Generator:       args.Generator,
		DestinationID:   args.DestinationID,
		EventsPerSecond: args.EventsPerSecond,
		Count:           args.Count,
	})
	if err != nil {
		return nil, generateEventsOutput{}, s.toolError(err)
	}
	res, out, runErr := s.streamRun(ctx, "generate_events", run)
	return res, out, nil
}

func (s *Server) scenariosList(ctx context.Context, req *mcp.CallToolRequest, args scenariosListInput) (_ *mcp.CallToolResult, _ scenariosListOutput, err error) {
	done := s.metrics.track(ctx, "scenarios_list")
	defer func() { done(err) }()

	out := scenariosListOutput{Scenarios: s.deps.Pipeline.Scenarios()}
	if out.Scenarios == nil {
		out.Scenarios = []scenario.Scenario{}
	}
	out.Count = len(out.Scenarios)
	return textResult(fmt.Sprintf("%d scenario(s)", out.Count)), out, nil
}

func (s *Server) runScenario(ctx context.Context, req *mcp.CallToolRequest, args runScenarioInput) (_ *mcp.CallToolResult, _ generateEventsOutput, err error) {
	var runErr error
	done := s.metrics.track(ctx, "run_scenario")
	defer func() { done(cmp.Or(err, runErr)) }()

	run, err := s.deps.Pipeline.PrepareScenario(ctx, delivery.ScenarioRequest{
		ScenarioID:    args.ScenarioID,
		DestinationID: args.DestinationID,
	})
	if err != nil {
		return nil, generateEventsOutput{}, s.toolError(err)
	}
	res, out, runErr := s.streamRun(ctx, "run_scenario", run)
	return res, out, nil
}

// streamRun runs to completion, keeping the last progress lines. A failed
// run is a result with IsError set; the returned error is only for metrics.
func (s *Server) streamRun(ctx context.Context, tool string, run *delivery.Run) (*mcp.CallToolResult, generateEventsOutput, error) {
	tail := newLineTail(s.maxLines)
	outcome := run.Stream(ctx, delivery.SinkFunc(func(line executor.OutputLine) error {
		tail.add(line.Render())
		return nil
	}))

	out := generateEventsOutput{
		RunID:        outcome.RunID,
		State:        string(outcome.State),
		Delivered:    outcome.Delivered,
		DurationMs:   outcome.Duration.Milliseconds(),
		Lines:        tail.lines(),
		DroppedLines: tail.dropped,
	}
	var err error
	if outcome.Err != nil {
		out.Error = s.toolError(outcome.Err).Error()
		err = outcome.Err
	}

	s.logger.Info(tool+" finished",
		zap.String("run.id", out.RunID),
		zap.String("state", out.State),
		zap.Int("delivered", out.Delivered),
	)

	summary := fmt.Sprintf("Run %s %s: %d events delivered", out.RunID, strings.ToLower(out.State), out.Delivered)
	result := textResult(summary)
	result.IsError = outcome.Err != nil
	return result, out, err
}

func (s *Server) executeGenerator(ctx context.Context, req *mcp.CallToolRequest, args executeGeneratorInput) (_ *mcp.CallToolResult, _ executeGeneratorOutput, err error) {
	done := s.metrics.track(ctx, "execute_generator")
	defer func() { done(err) }()

	if args.Count < 0 || args.Count > delivery.MaxCount {
		return nil, executeGeneratorOutput{}, s.toolError(fmt.Errorf("%w: count must be between 0 and %d", errInvalidInput, delivery.MaxCount))
	}
	var extra []string
	if args.Count > 0 {
		extra = append(extra, strconv.Itoa(args.Count))
	}
	inv, err := s.deps.Resolver.Resolve(args.Generator, extra...)
	if err != nil {
		return nil, executeGeneratorOutput{}, s.toolError(err)
	}

	capture, err := s.deps.Executor.Execute(ctx, inv)
	if err != nil {
		return nil, executeGeneratorOutput{}, s.toolError(err)
	}

	out := executeGeneratorOutput{
		Output:   capture.Output,
		Format:   string(capture.Format),
		ExitCode: capture.ExitCode,
	}
	return textResult(fmt.Sprintf("Generator exited with code %d (%s output)", out.ExitCode, out.Format)), out, nil
}

func (s *Server) normalizeOutput(ctx context.Context, req *mcp.CallToolRequest, args normalizeOutputInput) (_ *mcp.CallToolResult, _ normalizeOutputOutput, err error) {
	done := s.metrics.track(ctx, "normalize_output")
	defer func() { done(err) }()

	format := logformat.Classify(args.Text)
	if args.Format != "" {
		if format, err = logformat.ParseFormat(args.Format); err != nil {
			return nil, normalizeOutputOutput{}, fmt.Errorf("%w: format must be JSON or RAW", errInvalidInput)
		}
	}

	records := logformat.Lines(logformat.Normalize(args.Text, format))
	if records == nil {
		records = []string{}
	}
	out := normalizeOutputOutput{
		Format:  string(format),
		Records: records,
		Count:   len(records),
	}
	return textResult(fmt.Sprintf("%d %s record(s)", out.Count, out.Format)), out, nil
}

// toolError maps a component error to the message shown to the client.
// Credential store failures only ever surface as the registry's generic
// messages. The original error stays reachable through Unwrap for metrics.
func (s *Server) toolError(err error) error {
	var (
		verr *destination.ValidationError
		terr *delivery.TransportError
	)
	switch {
	case errors.Is(err, errInvalidInput):
		return err
	case errors.As(err, &verr):
		return &publicError{msg: verr.Message, cause: err}
	case errors.Is(err, executor.ErrInvalidGenerator):
		return &publicError{msg: msgInvalidGenerator, cause: err}
	case errors.Is(err, destination.ErrNotFound):
		return &publicError{msg: msgNotFound, cause: err}
	case errors.Is(err, scenario.ErrNotFound):
		return &publicError{msg: msgScenarioNotFound, cause: err}
	case errors.Is(err, destination.ErrSecretMissing):
		return &publicError{msg: msgSecretMissing, cause: err}
	case errors.Is(err, destination.ErrSecretStore), errors.Is(err, credstore.ErrUnavailable):
		return &publicError{msg: msgSecretStore, cause: err}
	case errors.Is(err, executor.ErrTimedOut):
		return &publicError{msg: msgTimedOut, cause: err}
	case errors.As(err, &terr):
		return &publicError{msg: terr.Error(), cause: err}
	case errors.Is(err, context.Canceled):
		return &publicError{msg: msgCancelled, cause: err}
	}

	s.logger.Error("tool call failed", zap.Error(err))
	return &publicError{msg: msgInternal, cause: err}
}

// publicError is what a client sees of cause.
type publicError struct {
	msg   string
	cause error
}

func (e *publicError) Error() string { return e.msg }
func (e *publicError) Unwrap() error { return e.cause }

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// target is the human-readable address of a destination.
func target(d destination.Destination) string {
	switch c := d.Connection.(type) {
	case destination.HecConnection:
		return c.URL
	case destination.SyslogConnection:
		return c.Address() + "/" + strings.ToLower(string(c.Protocol))
	}
	return ""
}

// lineTail keeps the last max lines added.
type lineTail struct {
	max     int
	buf     []string
	dropped int
}

func newLineTail(max int) *lineTail {
	return &lineTail{max: max}
}

func (t *lineTail) add(line string) {
	if len(t.buf) == t.max {
		copy(t.buf, t.buf[1:])
		t.buf = t.buf[:len(t.buf)-1]
		t.dropped++
	}
	t.buf = append(t.buf, line)
}

func (t *lineTail) lines() []string {
	return append([]string{}, t.buf...)
}
