// Package hec is a client for HTTP event collector endpoints.
//
// Lines that are JSON objects are wrapped in an event envelope and posted to
// <collector>/event; everything else is posted verbatim to
// <collector>/raw?sourcetype=<sourcetype>. Requests carry the token as a
// Bearer credential.
package hec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 64 << 10
)

// Config configures a Client.
type Config struct {
	// URL is the collector URL; a trailing /event or /raw is stripped.
	URL   string
	Token string
	// EventURL and RawURL override the endpoints derived from URL.
	EventURL   string
	RawURL     string
	Sourcetype string
	Fields     map[string]string
	Timeout    time.Duration
	// MinDelay and MaxDelay space consecutive sends in SendAll.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Client posts events to one collector.
type Client struct {
	http       *http.Client
	eventURL   string
	rawURL     string
	token      string
	sourcetype string
	fields     map[string]string
	minDelay   time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// New validates cfg and creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("hec token is required")
	}
	base := strings.TrimRight(cfg.URL, "/")
	base = strings.TrimSuffix(base, "/event")
	base = strings.TrimSuffix(base, "/raw")
	if cfg.EventURL == "" && cfg.RawURL == "" && base == "" {
		return nil, errors.New("hec url is required")
	}
	eventURL := firstNonEmpty(cfg.EventURL, base+"/event")
	rawURL := firstNonEmpty(cfg.RawURL, base+"/raw")
	for _, u := range []string{eventURL, rawURL} {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("invalid hec url %q", u)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		eventURL:   eventURL,
		rawURL:     rawURL,
		token:      cfg.Token,
		sourcetype: cfg.Sourcetype,
		fields:     cfg.Fields,
		minDelay:   cfg.MinDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     logger,
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Envelope is the /event request body.
type Envelope struct {
	Time       int64             `json:"time"`
	Event      json.RawMessage   `json:"event"`
	Sourcetype string            `json:"sourcetype,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Response is a collector acknowledgement.
type Response struct {
	Text     string `json:"text,omitempty"`
	Code     int    `json:"code"`
	Status   int    `json:"-"`
	Endpoint string `json:"-"`
}

// StatusError is a non-2xx collector response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hec responded %d: %s", e.Status, e.Body)
}

// IsJSONEvent reports whether line is sent to the /event endpoint.
func IsJSONEvent(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed))
}

// Request builds the HTTP request for one line.
func (c *Client) Request(ctx context.Context, line string) (*http.Request, error) {
	var (
		target      string
		body        []byte
		contentType string
	)
	if IsJSONEvent(line) {
		env := Envelope{
			Time:       time.Now().Unix(),
			Event:      json.RawMessage(strings.TrimSpace(line)),
			Sourcetype: c.sourcetype,
			Fields:     c.fields,
		}
		data, err := json.Marshal(env)
		if err != nil {
			return nil, fmt.Errorf("marshal envelope: %w", err)
		}
		target, body, contentType = c.eventURL, data, "application/json"
	} else {
		target = c.rawURL
		if c.sourcetype != "" {
			target = withQuery(target, "sourcetype", c.sourcetype)
		}
		body, contentType = []byte(line), "text/plain"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// Send posts one line.
func (c *Client) Send(ctx context.Context, line string) (*Response, error) {
	req, err := c.Request(ctx, line)
	if err != nil {
		return nil, err
	}
	endpoint := req.URL.Path

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	out := &Response{Status: resp.StatusCode, Endpoint: endpoint}
	if err := json.Unmarshal(data, out); err != nil {
		out.Text, out.Code = "OK", 0
	}
	c.logger.Debug("hec event sent", zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode))
	return out, nil
}

// Result is the outcome of one line in SendAll.
type Result struct {
	Index    int
	Response *Response
	Err      error
}

// SendAll posts lines one by one, spaced between MinDelay and MaxDelay, and
// reports each result to fn as it arrives. It stops early only when ctx is
// done.
func (c *Client) SendAll(ctx context.Context, lines []string, fn func(Result)) error {
	var limiter *rate.Limiter
	if c.minDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.minDelay), 1)
	}
	jitter := c.maxDelay - c.minDelay

	for i, line := range lines {
		if i > 0 {
			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if jitter > 0 {
				if err := sleep(ctx, rand.N(jitter)); err != nil {
					return err
				}
			}
		} else if limiter != nil {
			// Consume the initial burst so the second send waits a full interval.
			limiter.Allow()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := c.Send(ctx, line)
		if fn != nil {
			fn(Result{Index: i, Response: resp, Err: err})
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
