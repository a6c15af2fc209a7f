package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            freePort(t),
			ShutdownTimeout: 2 * time.Second,
		},
		Destinations: config.DestinationsConfig{Path: filepath.Join(root, "destinations.json")},
		Secrets:      config.SecretsConfig{Backend: config.SecretsBackendMemory, Service: config.DefaultSecretsService},
		Scrubbing:    config.ScrubbingConfig{Engine: config.ScrubEngineRules},
		Generators:   config.GeneratorsConfig{Dir: root, Interpreter: "python3", ExecTimeout: 5 * time.Second},
		Scenarios:    config.ScenariosConfig{Dir: filepath.Join(root, "scenarios")},
		Sender:       config.SenderConfig{Command: []string{"eventforge-hecsend"}},
		Delivery:     config.DeliveryConfig{DialTimeout: time.Second, WriteTimeout: time.Second, LineBuffer: 16},
		Log:          config.LogConfig{Level: "error", Format: "json"},
	}
}

func TestApp_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
	}()

	url := "http://" + net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down in time")
	}
}

func TestApp_UnavailableSecretStoreIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Secrets = config.SecretsConfig{Backend: "bogus", Service: config.DefaultSecretsService}

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.store.Get(context.Background(), "hec:1")
	assert.Error(t, err)
}

func TestApp_InvalidLogLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "chatty"

	_, err := newApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to configure logger")
}

func TestApp_MCPLogsToGivenWriter(t *testing.T) {
	cfg := testConfig(t)
	cfg.Log.Level = "info"

	var logs bytes.Buffer
	a, err := newApp(context.Background(), cfg, withMCP(&logs))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.mcp)
	assert.Nil(t, a.server)
	assert.Contains(t, logs.String(), "eventforge initialized")
	assert.Contains(t, logs.String(), `"mcp":true`)
}
