package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/events"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/logging"
	"github.com/fyrsmithlabs/eventforge/internal/secrets"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sink receives a run's output lines in order. An error means the caller is
// gone and cancels the run.
type Sink interface {
	Emit(line executor.OutputLine) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(executor.OutputLine) error

func (f SinkFunc) Emit(line executor.OutputLine) error { return f(line) }

// Outcome summarizes a finished run. Delivered counts lines written to a
// syslog destination or events the collector acknowledged.
type Outcome struct {
	RunID     string
	State     State
	Delivered int
	Err       error
	Duration  time.Duration
}

// Run is one prepared delivery. It can be streamed once.
type Run struct {
	id            string
	dest          destination.Destination
	req           GenerationRequest
	pipeline      *Pipeline
	sm            *stateMachine
	transport     Transport
	invocation    executor.Invocation
	connects      bool
	startLines    []string
	doneMsg       string
	errorsHeading string
	sanitizer     *secrets.Sanitizer
	logger        *zap.Logger

	started     atomic.Bool
	execution   *executor.Execution
	linesClosed bool
	sinkFailed  bool
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Destination returns the resolved destination.
func (r *Run) Destination() destination.Destination { return r.dest }

// State returns the current state.
func (r *Run) State() State { return r.sm.state() }

// History returns every state the run has passed through.
func (r *Run) History() []State { return r.sm.path() }

// Stream executes the run, reporting lines to sink. It returns once the run
// reached COMPLETED or FAILED and the terminal line was emitted.
func (r *Run) Stream(ctx context.Context, sink Sink) Outcome {
	if !r.started.CompareAndSwap(false, true) {
		return Outcome{RunID: r.id, State: r.sm.state(), Err: ErrRunStarted}
	}
	start := time.Now()
	p := r.pipeline

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	ctx = logging.WithRunID(ctx, r.id)
	ctx = logging.WithDestinationID(ctx, r.dest.ID)

	ctx, span := p.tracer.Start(ctx, "delivery.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("destination.id", r.dest.ID),
		attribute.String("transport", r.transport.Name()),
		attribute.String("generator", r.req.Generator),
		attribute.Int("count", r.req.Count),
	))
	defer span.End()

	p.metrics.runStarted()
	r.publish(ctx, events.PhaseStarted, 0, nil)
	r.logger.Info("delivery run started", zap.String("generator", r.req.Generator), zap.Int("count", r.req.Count))

	emit := func(line executor.OutputLine) bool {
		if ctx.Err() != nil {
			return false
		}
		if !r.send(sink, line) {
			cancel(ErrCallerGone)
			return false
		}
		return true
	}

	delivered, err := r.stream(ctx, emit)

	_ = r.sm.advance(StateFinalizing)
	r.finalize()

	final := executor.Info(fmt.Sprintf(r.doneMsg, delivered))
	state, outcome := StateCompleted, "completed"
	if err != nil {
		state, outcome = StateFailed, runErrorKind(err).label()
		final = executor.Error(err.Error())
	}
	_ = r.sm.advance(state)
	final.Terminal = true
	if !r.sinkFailed {
		r.send(sink, final)
	}

	duration := time.Since(start)
	p.metrics.runFinished(r.transport.Name(), outcome, delivered, duration)
	span.SetAttributes(attribute.Int("delivered", delivered), attribute.String("outcome", outcome))

	fields := []zap.Field{zap.Int("delivered", delivered), zap.String("state", string(state)), zap.Duration("duration", duration)}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, r.sanitizer.Sanitize(err.Error()))
		r.logger.Warn("delivery run failed", append(fields, zap.String("error", r.sanitizer.Sanitize(err.Error())))...)
		r.publish(ctx, events.PhaseFailed, delivered, err)
	} else {
		r.logger.Info("delivery run completed", fields...)
		r.publish(ctx, events.PhaseCompleted, delivered, nil)
	}

	return Outcome{RunID: r.id, State: state, Delivered: delivered, Err: err, Duration: duration}
}

// send sanitizes line and hands it to sink.
func (r *Run) send(sink Sink, line executor.OutputLine) bool {
	line.Text = r.sanitizer.Sanitize(line.Text)
	if err := sink.Emit(line); err != nil {
		r.sinkFailed = true
		r.logger.Debug("sink rejected line", zap.Error(err))
		return false
	}
	return true
}

func (r *Run) stream(ctx context.Context, emit func(executor.OutputLine) bool) (int, error) {
	if r.connects {
		_ = r.sm.advance(StateConnecting)
		if err := r.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return 0, cancelled(ctx)
			}
			return 0, &RunError{Kind: FailureTransport, Err: err}
		}
	}
	_ = r.sm.advance(StateStreaming)

	for _, msg := range r.startLines {
		if !emit(executor.Info(msg)) {
			return 0, cancelled(ctx)
		}
	}

	x, err := r.pipeline.exec.Start(ctx, r.invocation)
	if err != nil {
		if ctx.Err() != nil {
			return 0, cancelled(ctx)
		}
		return 0, &RunError{Kind: FailureGenerator, Err: err}
	}
	r.execution = x

	delivered := 0
	var genErr error
	for line := range x.Lines() {
		switch {
		case line.Terminal:
			if line.Kind == executor.KindError {
				genErr = errors.New(line.Text)
			}
		case line.Kind == executor.KindLog:
			text, n, err := r.transport.Send(ctx, line.Text)
			if err != nil {
				return delivered, &RunError{Kind: FailureTransport, Err: err}
			}
			delivered += n
			if !emit(executor.Log(text)) {
				return delivered, cancelled(ctx)
			}
		case line.Kind == executor.KindError:
			if !emit(executor.Error(r.errorsHeading + "\n" + line.Text)) {
				return delivered, cancelled(ctx)
			}
		default:
			if !emit(line) {
				return delivered, cancelled(ctx)
			}
		}
	}
	r.linesClosed = true

	if ctx.Err() != nil {
		return delivered, cancelled(ctx)
	}
	if genErr != nil {
		return delivered, &RunError{Kind: FailureGenerator, Err: genErr}
	}
	return delivered, nil
}

// finalize stops and drains the child if it is still running, then releases
// the transport.
func (r *Run) finalize() {
	if x := r.execution; x != nil && !r.linesClosed {
		x.Terminate()
		timer := time.NewTimer(r.pipeline.cfg.DrainTimeout)
		defer timer.Stop()
	drain:
		for {
			select {
			case _, ok := <-x.Lines():
				if !ok {
					break drain
				}
			case <-timer.C:
				r.logger.Warn("generator ignored terminate, killing")
				x.Kill()
				for range x.Lines() {
				}
				break drain
			}
		}
		<-x.Done()
	}
	if err := r.transport.Close(); err != nil {
		r.logger.Debug("failed to close transport", zap.Error(err))
	}
}

func (r *Run) publish(ctx context.Context, phase events.Phase, delivered int, err error) {
	ev := events.RunEvent{
		RunID:         r.id,
		Phase:         phase,
		DestinationID: r.dest.ID,
		Transport:     r.transport.Name(),
		Generator:     r.req.Generator,
		Delivered:     delivered,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		ev.Error = r.sanitizer.Sanitize(err.Error())
	}
	if perr := r.pipeline.publisher.Publish(context.WithoutCancel(ctx), ev); perr != nil {
		r.logger.Warn("failed to publish run event", zap.String("phase", string(phase)), zap.Error(perr))
	}
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return &RunError{Kind: FailureCancelled, Err: cause}
}

func runErrorKind(err error) FailureKind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return FailureGenerator
}
