package delivery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/destination"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/fyrsmithlabs/eventforge/internal/scenario"
	"github.com/fyrsmithlabs/eventforge/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withScenarios rebuilds env's pipeline over a catalog of the given scripts.
func withScenarios(t *testing.T, env *testEnv, scripts map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0755))
	}
	catalog, err := scenario.Load(dir, "")
	require.NoError(t, err)

	resolver, err := executor.NewResolver(env.genDir, "python3")
	require.NoError(t, err)
	p, err := New(Config{
		DialTimeout:  time.Second,
		WriteTimeout: time.Second,
		DrainTimeout: 2 * time.Second,
		Collector:    CollectorConfig{Command: []string{"/bin/false"}, GeneratorsDir: env.genDir},
	}, env.registry, executor.New(executor.Config{}, env.logs.Underlying()), resolver,
		WithLogger(env.logs.Underlying()),
		WithScrubber(secrets.MustNew(secrets.DefaultConfig())),
		WithPublisher(env.recorder),
		WithScenarios(catalog),
	)
	require.NoError(t, err)
	env.pipeline = p
}

func TestPrepareScenario_Streams(t *testing.T) {
	env := newTestEnv(t)
	withScenarios(t, env, map[string]string{"breach.sh": `
echo "target $S1_HEC_URL token $S1_HEC_TOKEN"
echo "Event 1/2 -> $S1_HEC_URL/event (200)"
echo "Event 2/2 -> $S1_HEC_URL/event (200)"
echo "retrying $S1_HEC_TOKEN" >&2
`})
	d, err := env.registry.Upsert(context.Background(), destination.Payload{
		Type: "HEC", Name: "splunk", URL: "https://hec.example.com:8088/", Token: "tok-5c4b3a",
	})
	require.NoError(t, err)

	require.Len(t, env.pipeline.Scenarios(), 1)
	assert.Equal(t, "breach", env.pipeline.Scenarios()[0].ID)

	run, err := env.pipeline.PrepareScenario(context.Background(), ScenarioRequest{ScenarioID: "breach", DestinationID: d.ID})
	require.NoError(t, err)

	sink := &lineRecorder{}
	outcome := run.Stream(context.Background(), sink)
	require.NoError(t, outcome.Err)
	assert.Equal(t, 2, outcome.Delivered)

	out := sink.rendered()
	assert.NotContains(t, out, "tok-5c4b3a")
	assert.NotContains(t, out, "hec.example.com")
	assert.True(t, strings.HasPrefix(out, "INFO: Starting scenario execution...\nINFO: Executing breach.sh...\n"), out)
	assert.Contains(t, out, "LOG: target <hec_url> token ***\n")
	assert.Contains(t, out, "LOG: Event 2/2 -> <hec_url>/event (200)\n")
	assert.Contains(t, out, "ERROR: Scenario errors:\nretrying ***\n")
	assert.True(t, strings.HasSuffix(out, "INFO: Scenario execution complete (2 events acknowledged)\n"), out)
	assert.Equal(t, StateCompleted, outcome.State)

	env.logs.AssertNoSecrets(t, "tok-5c4b3a")
}

func TestPrepareScenario_ScriptFailure(t *testing.T) {
	env := newTestEnv(t)
	withScenarios(t, env, map[string]string{"broken.sh": "echo starting\nexit 3"})
	d, err := env.registry.Upsert(context.Background(), destination.Payload{Type: "hec", Name: "h", URL: "https://h", Token: "t"})
	require.NoError(t, err)

	run, err := env.pipeline.PrepareScenario(context.Background(), ScenarioRequest{ScenarioID: "broken", DestinationID: d.ID})
	require.NoError(t, err)

	sink := &lineRecorder{}
	outcome := run.Stream(context.Background(), sink)
	require.Error(t, outcome.Err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, sink.rendered(), "LOG: starting\n")
}

func TestPrepareScenario_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sys := env.syslog(t, "udp", 5514)
	hec, err := env.registry.Upsert(ctx, destination.Payload{Type: "hec", Name: "h", URL: "https://h", Token: "t"})
	require.NoError(t, err)

	// No catalog configured.
	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "breach", DestinationID: hec.ID})
	assert.ErrorIs(t, err, scenario.ErrNotFound)
	assert.Nil(t, env.pipeline.Scenarios())

	withScenarios(t, env, map[string]string{"breach.sh": "echo x"})

	var verr *destination.ValidationError
	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{DestinationID: hec.ID})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "scenario_id is required", verr.Message)

	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "breach"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "destination_id is required", verr.Message)

	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "breach", DestinationID: "hec:99"})
	assert.ErrorIs(t, err, destination.ErrNotFound)

	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "breach", DestinationID: sys.ID})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Scenarios currently only support HEC destinations", verr.Message)

	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "missing", DestinationID: hec.ID})
	assert.ErrorIs(t, err, scenario.ErrNotFound)

	require.NoError(t, env.store.Delete(ctx, hec.ID))
	_, err = env.pipeline.PrepareScenario(ctx, ScenarioRequest{ScenarioID: "breach", DestinationID: hec.ID})
	assert.ErrorIs(t, err, destination.ErrSecretMissing)
}

func TestCollectorTransport_ScenarioInvocation(t *testing.T) {
	ct := NewCollectorTransport(CollectorConfig{}, destination.HecConnection{URL: "https://hec:8088//"}, []byte("s3cr3t"))
	inv := ct.ScenarioInvocation(executor.Invocation{Program: "/bin/sh", Args: []string{"a.sh"}, Env: map[string]string{"KEEP": "1"}})

	assert.Equal(t, "/bin/sh", inv.Program)
	assert.Equal(t, map[string]string{
		"KEEP":      "1",
		EnvHECURL:   "https://hec:8088",
		EnvHECToken: "s3cr3t",
		EnvHECDebug: "1",
	}, inv.Env)
}
