package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/hec"
	"github.com/fyrsmithlabs/eventforge/internal/logformat"
	"github.com/fyrsmithlabs/eventforge/internal/logging"
	"go.uber.org/zap"
)

// Endpoint overrides honoured alongside S1_HEC_URL.
const (
	envEventURLBase = "S1_HEC_EVENT_URL_BASE"
	envRawURLBase   = "S1_HEC_RAW_URL_BASE"
)

var (
	errNoEvents   = errors.New("generator produced no events")
	errSendFailed = errors.New("one or more events were rejected")
)

type options struct {
	product        string
	count          int
	minDelay       float64
	maxDelay       float64
	printResponses bool
	sourcetype     string
	generatorsDir  string
	interpreter    string
	genTimeout     time.Duration
	logLevel       string
}

// send runs the product generator, cleans its output into records and posts
// up to opts.count of them to the collector.
func send(ctx context.Context, opts options, getenv func(string) string, stdout, stderr io.Writer) error {
	if opts.count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	if opts.minDelay < 0 || opts.maxDelay < 0 {
		return fmt.Errorf("delays cannot be negative")
	}

	logger, err := newLogger(opts.logLevel, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Underlying()

	sourcetype := opts.sourcetype
	if sourcetype == "" {
		sourcetype = opts.product
	}
	client, err := hec.New(hec.Config{
		URL:        getenv(delivery.EnvHECURL),
		Token:      getenv(delivery.EnvHECToken),
		EventURL:   getenv(envEventURLBase),
		RawURL:     getenv(envRawURLBase),
		Sourcetype: sourcetype,
		Fields:     map[string]string{"product": opts.product},
		MinDelay:   seconds(opts.minDelay),
		MaxDelay:   seconds(opts.maxDelay),
	}, zl)
	if err != nil {
		return err
	}

	records, err := generate(ctx, opts, stderr, zl)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errNoEvents
	}
	if len(records) > opts.count {
		records = records[:opts.count]
	}
	if len(records) < opts.count {
		zl.Warn("generator produced fewer events than requested",
			zap.Int("requested", opts.count), zap.Int("produced", len(records)))
	}

	debug := getenv(delivery.EnvHECDebug) == "1"
	if len(records) > 1 {
		fmt.Fprintf(stdout, "Sending %d events one-by-one (spacing %gs – %gs)…\n", len(records), opts.minDelay, opts.maxDelay)
	}

	var (
		responses []*hec.Response
		failed    int
	)
	err = client.SendAll(ctx, records, func(r hec.Result) {
		n := r.Index + 1
		if r.Err != nil {
			failed++
			fmt.Fprintf(stdout, "Event %d/%d failed: %v\n", n, len(records), r.Err)
			zl.Warn("event rejected", zap.Int("event", n), zap.Error(r.Err))
			return
		}
		responses = append(responses, r.Response)
		if debug {
			fmt.Fprintln(stdout, delivery.AckLine(n, len(records), r.Response.Endpoint, r.Response.Status))
		}
		if opts.printResponses {
			fmt.Fprintf(stdout, "Response %d/%d: %s\n", n, len(records), render(r.Response))
		}
	})
	if err != nil {
		return fmt.Errorf("sending interrupted: %w", err)
	}

	switch {
	case opts.printResponses:
	case len(records) == 1 && len(responses) == 1:
		fmt.Fprintf(stdout, "HEC response: %s\n", render(responses[0]))
	case len(responses) > 0:
		fmt.Fprintf(stdout, "Responses: %s\n", render(responses))
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errSendFailed, failed, len(records))
	}
	return nil
}

// generate runs the product generator to completion. Its stderr is passed
// through; a non-zero exit fails the send.
func generate(ctx context.Context, opts options, stderr io.Writer, logger *zap.Logger) ([]string, error) {
	resolver, err := executor.NewResolver(opts.generatorsDir, opts.interpreter)
	if err != nil {
		return nil, err
	}
	inv, err := resolver.ResolveProduct(opts.product, strconv.Itoa(opts.count))
	if err != nil {
		return nil, fmt.Errorf("generator for product %q: %w", opts.product, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.genTimeout)
	defer cancel()

	x, err := executor.New(executor.Config{}, logger).Start(runCtx, inv)
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	var failure string
	for line := range x.Lines() {
		switch {
		case line.Kind == executor.KindLog:
			out.WriteString(line.Text)
			out.WriteByte('\n')
		case line.Terminal:
			if line.Kind == executor.KindError {
				failure = line.Text
			}
		default:
			fmt.Fprintln(stderr, line.Text)
		}
	}
	if err := runCtx.Err(); err != nil {
		return nil, fmt.Errorf("generator for product %q: %w", opts.product, err)
	}
	if failure != "" {
		return nil, fmt.Errorf("generator for product %q: %s", opts.product, failure)
	}

	text := out.String()
	format := logformat.Classify(text)
	records := logformat.Lines(logformat.Normalize(text, format))
	logger.Debug("generator output classified",
		zap.String("product", opts.product),
		zap.String("format", string(format)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

func newLogger(level string, out io.Writer) (*logging.Logger, error) {
	cfg, err := logging.FromLevelAndFormat(level, "console")
	if err != nil {
		return nil, err
	}
	cfg.Caller.Enabled = false
	return logging.NewLoggerTo(cfg, out, nil)
}

func render(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
