package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/events"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	httpserver "github.com/fyrsmithlabs/eventforge/internal/http"
	"github.com/fyrsmithlabs/eventforge/internal/logging"
	mcpserver "github.com/fyrsmithlabs/eventforge/internal/mcp"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/fyrsmithlabs/eventforge/internal/secrets"
	"github.com/fyrsmithlabs/eventforge/internal/telemetry"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/fyrsmithlabs/eventforge"

// app holds every long-lived component of the daemon.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     credstore.Store
	registry  *destination.Registry
	publisher events.Publisher
	server    *httpserver.Server
	mcp       *mcpserver.Server

	serveMCP bool

	// logOut, when set, receives logs instead of stdout.
	logOut io.Writer
}

// appOption configures newApp.
type appOption func(*app)

// withMCP serves MCP on stdio instead of HTTP. Logs go to logOut so stdout
// stays reserved for the protocol.
func withMCP(logOut io.Writer) appOption {
	return func(a *app) {
		a.serveMCP = true
		a.logOut = logOut
	}
}

// newApp builds the daemon leaves first:
//  1. logger and telemetry
//  2. credential store and destination registry
//  3. executor and generator resolver
//  4. lifecycle event publisher and delivery pipeline
//  5. HTTP server, or the MCP server with withMCP
//
// A credential store that cannot be opened is not fatal: HEC destinations
// fail closed until the daemon is restarted with a working backend.
func newApp(ctx context.Context, cfg *config.Config, opts ...appOption) (_ *app, err error) {
	a := &app{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	logCfg, err := logging.FromLevelAndFormat(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	logCfg.Output.OTEL = cfg.Observability.EnableTelemetry
	a.logger, err = logging.NewLoggerTo(logCfg, a.logOut, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := a.logger.Underlying()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), zl)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.store, err = credstore.Open(cfg.Secrets, zl)
	if err != nil {
		zl.Warn("continuing without secret storage", zap.Error(err))
	}

	a.registry, err = destination.NewRegistry(cfg.Destinations.Path, a.store, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to load destinations: %w", err)
	}

	exec := executor.New(executor.Config{
		LineBuffer:  cfg.Delivery.LineBuffer,
		ExecTimeout: cfg.Generators.ExecTimeout,
	}, zl)
	resolver, err := executor.NewResolver(cfg.Generators.Dir, cfg.Generators.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("failed to open generators directory: %w", err)
	}
	scenarios, err := scenario.Load(cfg.Scenarios.Dir, cfg.Generators.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	zl.Info("scenarios loaded", zap.String("dir", scenarios.Dir()), zap.Int("count", len(scenarios.List())))

	a.publisher, err = events.Open(cfg.Events, zl)
	if err != nil {
		zl.Warn("run events disabled", zap.Error(err))
		a.publisher = events.Nop{}
	}

	scrubber, err := secrets.FromConfig(cfg.Scrubbing)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s scrubber: %w", cfg.Scrubbing.Engine, err)
	}

	pipeline, err := delivery.New(delivery.Config{
		DialTimeout:  cfg.Delivery.DialTimeout,
		WriteTimeout: cfg.Delivery.WriteTimeout,
		Collector: delivery.CollectorConfig{
			Command:       cfg.Sender.Command,
			GeneratorsDir: resolver.Dir(),
			Interpreter:   resolver.Interpreter(),
		},
	}, a.registry, exec, resolver,
		delivery.WithLogger(zl),
		delivery.WithScrubber(scrubber),
		delivery.WithPublisher(a.publisher),
		delivery.WithTracer(a.telemetry.Tracer(tracerName)),
		delivery.WithScenarios(scenarios),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery pipeline: %w", err)
	}

	if a.serveMCP {
		a.mcp, err = mcpserver.NewServer(&mcpserver.Config{
			Name:    "eventforge",
			Version: version,
			Logger:  zl.Named("mcp"),
		}, mcpserver.Deps{
			Destinations: a.registry,
			Pipeline:     pipeline,
			Executor:     exec,
			Resolver:     resolver,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create mcp server: %w", err)
		}
	} else {
		a.server, err = httpserver.NewServer(httpserver.Deps{
			Destinations: a.registry,
			Pipeline:     pipeline,
			Executor:     exec,
			Resolver:     resolver,
		}, zl, &httpserver.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
		if err != nil {
			return nil, fmt.Errorf("failed to create http server: %w", err)
		}
	}

	zl.Info("eventforge initialized",
		zap.String("version", version),
		zap.String("destinations", cfg.Destinations.Path),
		zap.String("generators", resolver.Dir()),
		zap.String("secrets_backend", cfg.Secrets.Backend),
		zap.String("scrubbing", cfg.Scrubbing.Engine),
		zap.Bool("telemetry", a.telemetry.IsEnabled()),
		zap.Bool("mcp", a.mcp != nil),
	)
	return a, nil
}

// Run serves HTTP and watches the destination file until ctx is cancelled,
// then shuts the server down within the configured timeout. In MCP mode it
// returns once the client disconnects.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.mcp != nil {
		mctx, cancel := context.WithCancel(gctx)
		g.Go(func() error {
			defer cancel()
			if err := a.mcp.Run(mctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		g.Go(func() error {
			a.watch(mctx)
			return nil
		})
		return g.Wait()
	}

	g.Go(a.server.Start)

	g.Go(func() error {
		a.watch(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *app) watch(ctx context.Context) {
	if err := a.registry.Watch(ctx, nil); err != nil {
		a.logger.Underlying().Warn("destination file watch disabled", zap.Error(err))
	}
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(context.Background()))
	}
	if a.logger != nil {
		if err := errors.Join(errs...); err != nil {
			a.logger.Underlying().Warn("shutdown incomplete", zap.Error(err))
		}
		_ = a.logger.Sync()
	}
}
