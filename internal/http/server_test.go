package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/logging"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*Server
	registry *destination.Registry
	store    credstore.Store
	logs     *logging.TestLogger
	genDir   string
}

func setupTestServer(t *testing.T) *testServer {
	return setupTestServerWithStore(t, credstore.NewMemory())
}

func setupTestServerWithStore(t *testing.T, store credstore.Store) *testServer {
	t.Helper()
	root := t.TempDir()
	genDir := filepath.Join(root, "generators")
	require.NoError(t, os.MkdirAll(genDir, 0755))

	logs := logging.NewTestLogger()
	reg, err := destination.NewRegistry(filepath.Join(root, "destinations.json"), store, logs.Underlying())
	require.NoError(t, err)
	resolver, err := executor.NewResolver(genDir, "python3")
	require.NoError(t, err)
	exec := executor.New(executor.Config{ExecTimeout: 2 * time.Second}, logs.Underlying())

	scenDir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scenDir, scenario.CatalogFile), []byte(`
[[scenario]]
id = "breach"
name = "Enterprise Breach"
script = "breach.sh"
total_events = 2
phases = ["Initial Access", "Exfiltration"]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(scenDir, "breach.sh"), []byte(`#!/bin/sh
echo "Event 1/2 -> $S1_HEC_URL/event (200)"
echo "Event 2/2 -> $S1_HEC_URL/event (200)"
`), 0755))
	catalog, err := scenario.Load(scenDir, "")
	require.NoError(t, err)

	pipeline, err := delivery.New(delivery.Config{
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
		Collector:    delivery.CollectorConfig{Command: []string{"/bin/false"}, GeneratorsDir: genDir},
	}, reg, exec, resolver, delivery.WithLogger(logs.Underlying()), delivery.WithScenarios(catalog))
	require.NoError(t, err)

	server, err := NewServer(Deps{
		Destinations: reg,
		Pipeline:     pipeline,
		Executor:     exec,
		Resolver:     resolver,
	}, logs.Underlying(), nil)
	require.NoError(t, err)

	return &testServer{Server: server, registry: reg, store: store, logs: logs, genDir: genDir}
}

func (s *testServer) script(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.genDir, name), []byte("#!/bin/sh\n"+body+"\n"), 0755))
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Message
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server := setupTestServer(t)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		server := setupTestServer(t)
		_, err := NewServer(server.deps, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when dependencies are missing", func(t *testing.T) {
		_, err := NewServer(Deps{}, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "destinations and pipeline are required")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)

	rec := server.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestDestinationsAPI(t *testing.T) {
	t.Run("hec lifecycle never exposes the token", func(t *testing.T) {
		server := setupTestServer(t)

		rec := server.do(http.MethodPost, "/api/v1/destinations", map[string]any{
			"type": "hec", "name": "prod", "url": "https://example.com/", "token": "tok-123",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.NotContains(t, rec.Body.String(), "tok-123")

		var created map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, "hec:1", created["id"])
		assert.Equal(t, "HEC", created["type"])
		assert.Equal(t, "https://example.com/services/collector", created["url"])

		rec = server.do(http.MethodGet, "/api/v1/destinations", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "tok-123")
		var list DestinationsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list.Destinations, 1)
		assert.Equal(t, "prod", list.Destinations[0].Name)

		rec = server.do(http.MethodDelete, "/api/v1/destinations/hec:1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, server.registry.List())

		server.logs.AssertNoSecrets(t, "tok-123")
	})

	t.Run("empty list renders as an array", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodGet, "/api/v1/destinations", nil)
		assert.JSONEq(t, `{"destinations":[]}`, rec.Body.String())
	})

	t.Run("syslog port accepted as string", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/destinations",
			`{"type":"SYSLOG","name":"lab","ip":"10.0.0.5","port":"514","protocol":"udp"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.JSONEq(t, `{"id":"syslog:1","name":"lab","type":"SYSLOG","ip":"10.0.0.5","port":514,"protocol":"UDP"}`, rec.Body.String())
	})

	t.Run("validation errors are reported verbatim", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/destinations", map[string]any{"type": "hec", "name": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NotEmpty(t, errorMessage(t, rec))

		rec = server.do(http.MethodPost, "/api/v1/destinations", map[string]any{"type": "kafka", "name": "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/destinations", "invalid json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid request body", errorMessage(t, rec))
	})

	t.Run("store failure is generic", func(t *testing.T) {
		server := setupTestServerWithStore(t, credstore.Unavailable(nil))
		rec := server.do(http.MethodPost, "/api/v1/destinations", map[string]any{
			"type": "hec", "name": "prod", "url": "https://example.com", "token": "tok-123",
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgSecretStore, errorMessage(t, rec))
		assert.Empty(t, server.registry.List())
	})

	t.Run("deleting unknown id succeeds", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodDelete, "/api/v1/destinations/syslog:9", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestHandleGenerate(t *testing.T) {
	t.Run("streams lines to a udp destination", func(t *testing.T) {
		server := setupTestServer(t)
		server.script(t, "gen.sh", `i=1; while [ $i -le "$1" ]; do echo "event $i"; i=$((i+1)); done`)

		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		defer pc.Close()
		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "syslog", Name: "lab", IP: "127.0.0.1",
			Port: destination.PortNumber(pc.LocalAddr().(*net.UDPAddr).Port), Protocol: "UDP",
		})
		require.NoError(t, err)

		rec := server.do(http.MethodPost, "/api/v1/generate", map[string]any{
			"generator": "gen.sh", "destination_id": d.ID, "count": 2,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, echo.MIMETextPlainCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
		assert.NotEmpty(t, rec.Header().Get(HeaderRunID))
		assert.Equal(t, "INFO: Starting log generation...\n"+
			"LOG: event 1\n"+
			"LOG: event 2\n"+
			"INFO: Log generation complete (2 lines delivered)\n", rec.Body.String())

		buf := make([]byte, 64)
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		for i := 1; i <= 2; i++ {
			n, _, err := pc.ReadFrom(buf)
			require.NoError(t, err)
			assert.Equal(t, "event "+string(rune('0'+i))+"\n", string(buf[:n]))
		}
	})

	t.Run("tcp connect failure is the only line", func(t *testing.T) {
		server := setupTestServer(t)
		server.script(t, "gen.sh", `echo never`)

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "syslog", Name: "down", IP: "127.0.0.1", Port: destination.PortNumber(port), Protocol: "TCP",
		})
		require.NoError(t, err)

		rec := server.do(http.MethodPost, "/api/v1/generate", map[string]any{"generator": "gen.sh", "destination_id": d.ID})
		require.Equal(t, http.StatusOK, rec.Code)

		lines := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n")
		require.Len(t, lines, 1)
		assert.True(t, strings.HasPrefix(lines[0], "ERROR: transport error: Could not connect to TCP syslog server"), lines[0])
	})

	t.Run("request errors are reported before streaming", func(t *testing.T) {
		server := setupTestServer(t)
		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "syslog", Name: "lab", IP: "127.0.0.1", Port: 514, Protocol: "UDP",
		})
		require.NoError(t, err)

		tests := []struct {
			name   string
			body   map[string]any
			status int
			msg    string
		}{
			{"unknown destination", map[string]any{"generator": "gen.sh", "destination_id": "syslog:42"}, http.StatusNotFound, msgNotFound},
			{"escaping generator", map[string]any{"generator": "../etc/passwd", "destination_id": d.ID}, http.StatusBadRequest, executor.ErrInvalidGenerator.Error()},
			{"missing generator", map[string]any{"generator": "nope.sh", "destination_id": d.ID}, http.StatusBadRequest, executor.ErrInvalidGenerator.Error()},
			{"negative count", map[string]any{"generator": "gen.sh", "destination_id": d.ID, "count": -1}, http.StatusBadRequest, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := server.do(http.MethodPost, "/api/v1/generate", tt.body)
				assert.Equal(t, tt.status, rec.Code)
				assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
				if tt.msg != "" {
					assert.Equal(t, tt.msg, errorMessage(t, rec))
				}
			})
		}
	})

	t.Run("hec destination without a secret fails closed", func(t *testing.T) {
		store := credstore.NewMemory()
		server := setupTestServerWithStore(t, store)
		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "hec", Name: "prod", URL: "https://example.com", Token: "tok-123",
		})
		require.NoError(t, err)
		require.NoError(t, store.Delete(context.Background(), d.ID))

		rec := server.do(http.MethodPost, "/api/v1/generate", map[string]any{"generator": "okta", "destination_id": d.ID})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, destination.ErrSecretMissing.Error(), errorMessage(t, rec))
	})
}

func TestHandleGenerate_StreamsOverRealConnection(t *testing.T) {
	server := setupTestServer(t)
	server.script(t, "gen.sh", `echo first; sleep 0.2; echo second`)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	d, err := server.registry.Upsert(context.Background(), destination.Payload{
		Type: "syslog", Name: "lab", IP: "127.0.0.1",
		Port: destination.PortNumber(pc.LocalAddr().(*net.UDPAddr).Port), Protocol: "UDP",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	defer ts.Close()

	body := `{"generator":"gen.sh","destination_id":"` + d.ID + `","count":1}`
	resp, err := http.Post(ts.URL+"/api/v1/generate", echo.MIMEApplicationJSON, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{
		"INFO: Starting log generation...",
		"LOG: first",
		"LOG: second",
		"INFO: Log generation complete (2 lines delivered)",
	}, lines)
}

func TestScenariosAPI(t *testing.T) {
	server := setupTestServer(t)
	ctx := context.Background()

	rec := server.do(http.MethodGet, "/api/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ScenariosResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Scenarios, 1)
	assert.Equal(t, "breach", list.Scenarios[0].ID)
	assert.Equal(t, "Enterprise Breach", list.Scenarios[0].Name)
	assert.Equal(t, []string{"Initial Access", "Exfiltration"}, list.Scenarios[0].Phases)
	assert.NotContains(t, rec.Body.String(), "breach.sh")

	hec, err := server.registry.Upsert(ctx, destination.Payload{Type: "hec", Name: "splunk", URL: "https://hec.example.com", Token: "tok-77aa"})
	require.NoError(t, err)
	sys, err := server.registry.Upsert(ctx, destination.Payload{Type: "syslog", Name: "lab", IP: "127.0.0.1", Port: 514, Protocol: "UDP"})
	require.NoError(t, err)

	t.Run("streams the scenario", func(t *testing.T) {
		rec := server.do(http.MethodPost, "/api/v1/scenarios/run", map[string]any{
			"scenario_id": "breach", "destination_id": hec.ID,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(HeaderRunID))
		assert.Equal(t, "INFO: Starting scenario execution...\n"+
			"INFO: Executing breach.sh...\n"+
			"LOG: Event 1/2 -> <hec_url>/event (200)\n"+
			"LOG: Event 2/2 -> <hec_url>/event (200)\n"+
			"INFO: Scenario execution complete (2 events acknowledged)\n", rec.Body.String())
	})

	tests := []struct {
		name string
		body map[string]any
		code int
		msg  string
	}{
		{"missing scenario", map[string]any{"destination_id": hec.ID}, http.StatusBadRequest, "scenario_id is required"},
		{"unknown scenario", map[string]any{"scenario_id": "nope", "destination_id": hec.ID}, http.StatusNotFound, msgScenarioNotFound},
		{"unknown destination", map[string]any{"scenario_id": "breach", "destination_id": "hec:99"}, http.StatusNotFound, msgNotFound},
		{"syslog destination", map[string]any{"scenario_id": "breach", "destination_id": sys.ID}, http.StatusBadRequest, "Scenarios currently only support HEC destinations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := server.do(http.MethodPost, "/api/v1/scenarios/run", tt.body)
			require.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.msg, errorMessage(t, rec))
		})
	}
}

func TestHandleExecute(t *testing.T) {
	t.Run("captures output and detects format", func(t *testing.T) {
		server := setupTestServer(t)
		server.script(t, "json.sh", `i=0; while [ $i -lt "$1" ]; do echo '{"n": '$i'}'; i=$((i+1)); done; echo oops >&2`)

		rec := server.do(http.MethodPost, "/api/v1/execute", map[string]any{"generator": "json.sh", "count": 3})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ExecuteResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "JSON", string(resp.DetectedFormat))
		assert.Equal(t, "{\"n\": 0}\n{\"n\": 1}\n{\"n\": 2}\n\n\nErrors:\noops\n", resp.Output)
		assert.Equal(t, 0, resp.ExitCode)
	})

	t.Run("timeout maps to gateway timeout", func(t *testing.T) {
		server := setupTestServer(t)
		server.script(t, "slow.sh", `sleep 10`)

		rec := server.do(http.MethodPost, "/api/v1/execute", map[string]any{"generator": "slow.sh"})
		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
		assert.Equal(t, executor.ErrTimedOut.Error(), errorMessage(t, rec))
	})

	t.Run("rejects bad requests", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/execute", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = server.do(http.MethodPost, "/api/v1/execute", map[string]any{"generator": "/bin/sh"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, executor.ErrInvalidGenerator.Error(), errorMessage(t, rec))
	})
}

func TestHandleNormalize(t *testing.T) {
	t.Run("raw output is cleaned", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/normalize", NormalizeRequest{
			Output: "Sample Firewall Events:\n=====\nEvent 1:\nallow tcp 10.0.0.1\n\ndeny udp 10.0.0.2\n",
			Format: "raw",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp NormalizeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "RAW", string(resp.Format))
		assert.Equal(t, "allow tcp 10.0.0.1\ndeny udp 10.0.0.2", resp.Output)
		assert.Equal(t, 2, resp.Lines)
		assert.Zero(t, resp.Delivered)
	})

	t.Run("format is detected when omitted", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/normalize", NormalizeRequest{
			Output: "{\"a\": 1}\n{\"b\": 2}\n{\"c\":\n 3}\n",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp NormalizeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "JSON", string(resp.Format))
		assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n{\"c\":3}", resp.Output)
	})

	t.Run("unknown format", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodPost, "/api/v1/normalize", NormalizeRequest{Output: "x", Format: "xml"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delivers cleaned lines to syslog", func(t *testing.T) {
		server := setupTestServer(t)
		pc, err := net.ListenPacket("udp", "127.0.0.1:0")
		require.NoError(t, err)
		defer pc.Close()
		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "syslog", Name: "lab", IP: "127.0.0.1",
			Port: destination.PortNumber(pc.LocalAddr().(*net.UDPAddr).Port), Protocol: "UDP",
		})
		require.NoError(t, err)

		rec := server.do(http.MethodPost, "/api/v1/normalize", NormalizeRequest{
			Output: "one\ntwo\n", Format: "RAW", DestinationID: d.ID,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp NormalizeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Delivered)

		buf := make([]byte, 64)
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		assert.Equal(t, "one\n", string(buf[:n]))
	})

	t.Run("hec destination is rejected", func(t *testing.T) {
		server := setupTestServer(t)
		d, err := server.registry.Upsert(context.Background(), destination.Payload{
			Type: "hec", Name: "prod", URL: "https://example.com", Token: "tok",
		})
		require.NoError(t, err)

		rec := server.do(http.MethodPost, "/api/v1/normalize", NormalizeRequest{Output: "one", Format: "RAW", DestinationID: d.ID})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		server := setupTestServer(t)
		server.config = &Config{Host: "localhost", Port: 0}

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))

		select {
		case err := <-errChan:
			assert.NoError(t, err)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
		server.logs.AssertLogged(t, zap.InfoLevel, "http request")
	})

	t.Run("request id reaches handler context", func(t *testing.T) {
		server := setupTestServer(t)
		var seen string
		server.echo.GET("/ctx", func(c echo.Context) error {
			seen = logging.RequestIDFromContext(c.Request().Context())
			return c.NoContent(http.StatusOK)
		})

		rec := server.do(http.MethodGet, "/ctx", nil)
		assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), seen)
		assert.NotEmpty(t, seen)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		req := httptest.NewRequest(http.MethodGet, "/panic", nil)
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, req)
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("serves prometheus metrics", func(t *testing.T) {
		server := setupTestServer(t)
		rec := server.do(http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "eventforge_delivery_active_runs")
	})
}
