package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func TestNATSPublisher_Publish(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("eventforge.runs.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := NewNATSPublisher(nc, "", nil)
	require.NoError(t, p.Publish(context.Background(), RunEvent{
		RunID:         "run-1",
		Phase:         PhaseCompleted,
		DestinationID: "syslog:1",
		Transport:     "syslog_udp",
		Generator:     "gen.sh",
		Delivered:     3,
	}))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "eventforge.runs.completed", msg.Subject)

	var ev RunEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 3, ev.Delivered)
	assert.False(t, ev.Timestamp.IsZero())

	// Caller-owned connections survive Close.
	require.NoError(t, p.Close())
	assert.True(t, nc.IsConnected())
}

func TestNATSPublisher_RejectsMissingPhase(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(nc, "custom.subject.", nil)
	assert.Equal(t, "custom.subject.failed", p.Subject(PhaseFailed))
	assert.Error(t, p.Publish(context.Background(), RunEvent{RunID: "x"}))
}

func TestOpen(t *testing.T) {
	p, err := Open(config.EventsConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)

	server := startTestNATSServer(t)
	p, err = Open(config.EventsConfig{NATSURL: server.ClientURL(), Subject: "lab.runs"}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), RunEvent{RunID: "r", Phase: PhaseStarted}))
	assert.NoError(t, p.Close())

	_, err = Open(config.EventsConfig{NATSURL: "nats://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), RunEvent{RunID: "a", Phase: PhaseStarted}))
	require.NoError(t, r.Publish(context.Background(), RunEvent{RunID: "a", Phase: PhaseFailed}))

	evs := r.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, PhaseFailed, evs[1].Phase)
}
