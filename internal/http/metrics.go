package http

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/eventforge/internal/http"

// routeUnmatched labels requests that matched no route.
const routeUnmatched = "unmatched"

// requestMetrics records API traffic. Streaming generate requests can last
// minutes, so the duration buckets reach well past typical API latencies.
type requestMetrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	disconnects metric.Int64Counter
}

func newRequestMetrics(logger *zap.Logger) *requestMetrics {
	m := &requestMetrics{
		meter:  otel.Meter(httpInstrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *requestMetrics) init() {
	var err error

	m.requests, err = m.meter.Int64Counter(
		"eventforge.http.requests_total",
		metric.WithDescription("API requests by method, route, status and whether the response streamed"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create requests counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"eventforge.http.request_duration_seconds",
		metric.WithDescription("API request duration, including the full stream for generate requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300, 900),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inFlight, err = m.meter.Int64UpDownCounter(
		"eventforge.http.in_flight_requests",
		metric.WithDescription("Requests currently being served, by route"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create in-flight gauge", zap.Error(err))
	}

	m.disconnects, err = m.meter.Int64Counter(
		"eventforge.http.client_disconnects_total",
		metric.WithDescription("Requests whose client went away before the response finished"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create disconnects counter", zap.Error(err))
	}
}

// middleware records one sample per request once the handler returns.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			route := routeLabel(c.Path())
			routeAttr := metric.WithAttributes(attribute.String("route", route))

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1, routeAttr)
			}
			err := next(c)
			if m.inFlight != nil {
				m.inFlight.Add(ctx, -1, routeAttr)
			}

			res := c.Response()
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.Int("status", res.Status),
				attribute.Bool("stream", isStream(res.Header().Get(echo.HeaderContentType))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if ctx.Err() != nil && m.disconnects != nil {
				m.disconnects.Add(ctx, 1, routeAttr)
			}
			return err
		}
	}
}

// routeLabel returns the matched route pattern. Echo reports parameterized
// routes by pattern (/api/v1/destinations/:id), so ids never become labels.
func routeLabel(path string) string {
	if path == "" {
		return routeUnmatched
	}
	return path
}

func isStream(contentType string) bool {
	return strings.HasPrefix(contentType, echo.MIMETextPlain)
}
