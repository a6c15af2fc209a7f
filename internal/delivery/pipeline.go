package delivery

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/events"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/fyrsmithlabs/eventforge/internal/secrets"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/eventforge/internal/delivery"

const (
	// DefaultCount is the number of events requested when a request omits it.
	DefaultCount = 3

	// MaxCount caps a single run.
	MaxCount = 1_000_000

	defaultDrainTimeout = 5 * time.Second
)

const (
	msgStartSyslog    = "Starting log generation..."
	msgStartCollector = "Starting HEC send..."
	msgDoneSyslog     = "Log generation complete (%d lines delivered)"
	msgDoneCollector  = "Log generation complete (%d events acknowledged)"
	msgStartScenario  = "Starting scenario execution..."
	msgDoneScenario   = "Scenario execution complete (%d events acknowledged)"
	headSyslogErrors  = "Script execution produced errors:"
	headSenderErrors  = "HEC sender errors:"
	headScenarioErrs  = "Scenario errors:"
)

var productName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// GenerationRequest asks for count events from a generator to be delivered
// to a destination. For syslog destinations Generator is a script path under
// the generators directory; for HEC destinations it is a product name handed
// to the sender.
type GenerationRequest struct {
	Generator       string  `json:"generator"`
	DestinationID   string  `json:"destination_id"`
	EventsPerSecond float64 `json:"eps"`
	Count           int     `json:"count"`
}

// ScenarioRequest asks for a scenario to be replayed against an HEC
// destination.
type ScenarioRequest struct {
	ScenarioID    string `json:"scenario_id"`
	DestinationID string `json:"destination_id"`
}

// Destinations resolves descriptors and their secrets.
type Destinations interface {
	Get(id string) (destination.Destination, error)
	Secret(ctx context.Context, d destination.Destination) ([]byte, error)
}

// Config tunes the pipeline.
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	DrainTimeout time.Duration
	Collector    CollectorConfig
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithScrubber layers pattern scrubbing over literal sanitization of
// collector output.
func WithScrubber(s secrets.Scrubber) Option {
	return func(p *Pipeline) { p.scrubber = s }
}

// WithPublisher sets where run lifecycle events go.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithScenarios enables scenario runs from catalog.
func WithScenarios(c *scenario.Catalog) Option {
	return func(p *Pipeline) { p.scenarios = c }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// Pipeline prepares and runs deliveries.
type Pipeline struct {
	cfg       Config
	dests     Destinations
	exec      *executor.Executor
	resolver  *executor.Resolver
	scenarios *scenario.Catalog
	scrubber  secrets.Scrubber
	publisher events.Publisher
	tracer    trace.Tracer
	metrics   *Metrics
	logger    *zap.Logger
}

// New creates a Pipeline.
func New(cfg Config, dests Destinations, exec *executor.Executor, resolver *executor.Resolver, opts ...Option) (*Pipeline, error) {
	if dests == nil || exec == nil || resolver == nil {
		return nil, errors.New("destinations, executor and resolver are required")
	}
	if len(cfg.Collector.Command) == 0 || cfg.Collector.Command[0] == "" {
		return nil, errors.New("collector sender command is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	p := &Pipeline{
		cfg:       cfg,
		dests:     dests,
		exec:      exec,
		resolver:  resolver,
		publisher: events.Nop{},
		metrics:   NewMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer(instrumentationName)
	}
	return p, nil
}

// Prepare validates req and resolves everything a run needs before any
// socket or process is acquired. Errors are destination.ErrNotFound,
// *destination.ValidationError, executor.ErrInvalidGenerator or the
// registry's secret errors.
func (p *Pipeline) Prepare(ctx context.Context, req GenerationRequest) (*Run, error) {
	sm := newStateMachine()
	_ = sm.advance(StateValidating)

	if req.Count == 0 {
		req.Count = DefaultCount
	}
	if req.Count < 0 || req.Count > MaxCount {
		return nil, &destination.ValidationError{Message: fmt.Sprintf("count must be between 1 and %d", MaxCount)}
	}
	if req.Generator == "" {
		return nil, &destination.ValidationError{Message: "generator is required"}
	}

	d, err := p.dests.Get(req.DestinationID)
	if err != nil {
		return nil, err
	}

	run := p.newRun(sm, d, req)

	switch conn := d.Connection.(type) {
	case destination.SyslogConnection:
		inv, err := p.resolver.Resolve(req.Generator, strconv.Itoa(req.Count))
		if err != nil {
			return nil, err
		}
		run.transport = NewSyslogTransport(conn, p.cfg.DialTimeout, p.cfg.WriteTimeout)
		run.invocation = inv
		run.connects = true
		run.startLines = []string{msgStartSyslog}
		run.doneMsg = msgDoneSyslog
		run.errorsHeading = headSyslogErrors

	case destination.HecConnection:
		if !productName.MatchString(req.Generator) {
			return nil, &destination.ValidationError{Message: "Invalid product name"}
		}
		secret, err := p.dests.Secret(ctx, d)
		if err != nil {
			return nil, err
		}
		ct := NewCollectorTransport(p.cfg.Collector, conn, secret)
		lits, urls := ct.Literals()
		run.transport = ct
		run.invocation = ct.Invocation(req.Generator, req.Count, req.EventsPerSecond)
		run.startLines = []string{msgStartCollector}
		run.doneMsg = msgDoneCollector
		run.errorsHeading = headSenderErrors
		run.sanitizer = secrets.NewSanitizer(p.scrubber, lits, urls)

	default:
		return nil, &destination.ValidationError{Message: "Unsupported destination type"}
	}

	return p.bind(run), nil
}

// Scenarios lists the scenarios a run can be prepared for.
func (p *Pipeline) Scenarios() []scenario.Scenario {
	if p.scenarios == nil {
		return nil
	}
	return p.scenarios.List()
}

// PrepareScenario resolves a scenario run. Scenarios send to HEC destinations
// only: the script gets the collector URL and token in its environment and
// its output is sanitized like the sender's. Besides the Prepare errors it
// returns scenario.ErrNotFound.
func (p *Pipeline) PrepareScenario(ctx context.Context, req ScenarioRequest) (*Run, error) {
	sm := newStateMachine()
	_ = sm.advance(StateValidating)

	if req.ScenarioID == "" {
		return nil, &destination.ValidationError{Message: "scenario_id is required"}
	}
	if req.DestinationID == "" {
		return nil, &destination.ValidationError{Message: "destination_id is required"}
	}

	d, err := p.dests.Get(req.DestinationID)
	if err != nil {
		return nil, err
	}
	conn, ok := d.Connection.(destination.HecConnection)
	if !ok {
		return nil, &destination.ValidationError{Message: "Scenarios currently only support HEC destinations"}
	}
	if p.scenarios == nil {
		return nil, scenario.ErrNotFound
	}
	sc, err := p.scenarios.Get(req.ScenarioID)
	if err != nil {
		return nil, err
	}
	inv, err := p.scenarios.Invocation(sc)
	if err != nil {
		return nil, err
	}
	secret, err := p.dests.Secret(ctx, d)
	if err != nil {
		return nil, err
	}

	run := p.newRun(sm, d, GenerationRequest{Generator: sc.ID, DestinationID: d.ID, Count: sc.TotalEvents})
	ct := NewCollectorTransport(p.cfg.Collector, conn, secret)
	lits, urls := ct.Literals()
	run.transport = ct
	run.invocation = ct.ScenarioInvocation(inv)
	run.startLines = []string{msgStartScenario, "Executing " + sc.Script + "..."}
	run.doneMsg = msgDoneScenario
	run.errorsHeading = headScenarioErrs
	run.sanitizer = secrets.NewSanitizer(p.scrubber, lits, urls)
	return p.bind(run), nil
}

func (p *Pipeline) newRun(sm *stateMachine, d destination.Destination, req GenerationRequest) *Run {
	return &Run{
		id:       uuid.NewString(),
		dest:     d,
		req:      req,
		pipeline: p,
		sm:       sm,
	}
}

// bind attaches the run-scoped logger once the transport is chosen.
func (p *Pipeline) bind(run *Run) *Run {
	run.logger = p.logger.With(
		zap.String("run.id", run.id),
		zap.String("destination.id", run.dest.ID),
		zap.String("transport", run.transport.Name()),
	)
	return run
}

// DeliverText sends already-normalized text to a syslog destination, one
// line per record, and returns how many lines were written.
func (p *Pipeline) DeliverText(ctx context.Context, destID, text string) (int, error) {
	d, err := p.dests.Get(destID)
	if err != nil {
		return 0, err
	}
	conn, ok := d.Connection.(destination.SyslogConnection)
	if !ok {
		return 0, &destination.ValidationError{Message: "Text delivery requires a syslog destination"}
	}

	t := NewSyslogTransport(conn, p.cfg.DialTimeout, p.cfg.WriteTimeout)
	if err := t.Connect(ctx); err != nil {
		return 0, err
	}
	defer t.Close()

	sent := 0
	defer func() { p.metrics.addLines(t.Name(), sent) }()
	for _, line := range logformat.Lines(text) {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if _, _, err := t.Send(ctx, line); err != nil {
			return sent, err
		}
		sent++
	}
	p.logger.Info("text delivered", zap.String("destination.id", d.ID), zap.Int("lines", sent))
	return sent, nil
}
