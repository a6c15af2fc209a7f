package destination

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/credstore"
	"github.com/fyrsmithlabs/eventforge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func newTestRegistry(t *testing.T, store credstore.Store) (*Registry, *logging.TestLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "destinations.json")
	tl := logging.NewTestLogger()
	r, err := NewRegistry(path, store, tl.Underlying())
	require.NoError(t, err)
	return r, tl, path
}

func hecPayload(name, url, token string) Payload {
	return Payload{Type: "hec", Name: name, URL: url, Token: token}
}

func TestRegistry_HECLifecycle(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	r, tl, path := newTestRegistry(t, store)

	d, err := r.Upsert(ctx, hecPayload("Splunk", "https://splunk.example:8088/", "tok-123"))
	require.NoError(t, err)

	assert.Equal(t, "hec:1", d.ID)
	assert.Equal(t, TypeHEC, d.Type)
	hec := d.Connection.(HecConnection)
	assert.Equal(t, "https://splunk.example:8088/services/collector", hec.URL)
	assert.Equal(t, "hec:1", hec.SecretRef)

	secret, err := r.Secret(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", string(secret))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tok-123")
	assert.Contains(t, string(data), `"type": "hec"`)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, r.Delete(ctx, d.ID))
	assert.Empty(t, r.List())
	assert.Equal(t, 0, store.Len())
	tl.AssertNoSecrets(t, "tok-123")
}

func TestRegistry_UpsertIsIdempotentByNameAndType(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, credstore.NewMemory())

	first, err := r.Upsert(ctx, hecPayload("Splunk", "https://a.example:8088", "one"))
	require.NoError(t, err)
	second, err := r.Upsert(ctx, hecPayload("Splunk", "https://b.example:8088/services/collector/raw", "two"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	require.Len(t, r.List(), 1)
	assert.Equal(t, "https://b.example:8088/services/collector/raw", second.Connection.(HecConnection).URL)

	secret, err := r.Secret(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(secret))

	// Same name, different type is a different destination.
	sys, err := r.Upsert(ctx, Payload{Type: "syslog", Name: "Splunk", IP: "10.0.0.1", Port: 514, Protocol: "udp"})
	require.NoError(t, err)
	assert.Equal(t, "syslog:2", sys.ID)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_SyslogNormalization(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	r, _, _ := newTestRegistry(t, store)

	d, err := r.Upsert(ctx, Payload{Type: "SYSLOG", Name: " lab ", IP: "127.0.0.1", Port: 514, Protocol: "udp"})
	require.NoError(t, err)

	assert.Equal(t, "syslog:1", d.ID)
	assert.Equal(t, "lab", d.Name)
	c := d.Connection.(SyslogConnection)
	assert.Equal(t, ProtocolUDP, c.Protocol)
	assert.Equal(t, "127.0.0.1:514", c.Address())
	assert.Equal(t, 0, store.Len())

	updated, err := r.Upsert(ctx, Payload{Type: "syslog", Name: "lab", IP: "::1", Port: 6514, Protocol: "Tcp"})
	require.NoError(t, err)
	assert.Equal(t, d.ID, updated.ID)
	assert.Equal(t, "[::1]:6514", updated.Connection.(SyslogConnection).Address())
}

func TestRegistry_Validation(t *testing.T) {
	r, _, _ := newTestRegistry(t, credstore.NewMemory())

	tests := []struct {
		name    string
		payload Payload
		message string
	}{
		{"unknown type", Payload{Type: "kafka", Name: "x"}, "Unsupported destination type"},
		{"hec missing token", hecPayload("x", "https://h", ""), msgHECRequired},
		{"hec missing url", hecPayload("x", "  ", "t"), msgHECRequired},
		{"syslog missing ip", Payload{Type: "syslog", Name: "x", Port: 514, Protocol: "UDP"}, msgSyslogRequired},
		{"syslog bad protocol", Payload{Type: "syslog", Name: "x", IP: "h", Port: 514, Protocol: "SCTP"}, msgSyslogRequired},
		{"syslog port range", Payload{Type: "syslog", Name: "x", IP: "h", Port: 70000, Protocol: "UDP"}, msgPortRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Upsert(context.Background(), tt.payload)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.message, verr.Message)
		})
	}
	assert.Empty(t, r.List())
}

func TestRegistry_SecretStoreFailure(t *testing.T) {
	r, tl, path := newTestRegistry(t, credstore.Unavailable(nil))

	_, err := r.Upsert(context.Background(), hecPayload("Splunk", "https://h:8088", "tok-secret"))
	require.ErrorIs(t, err, ErrSecretStore)
	assert.Equal(t, "failed to store destination secret", err.Error())

	assert.Empty(t, r.List())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "descriptor must not be persisted")
	tl.AssertLogged(t, zapcore.ErrorLevel, "failed to store destination secret")
	tl.AssertNoSecrets(t, "tok-secret")
}

func TestRegistry_SaveFailureRollsBackSecret(t *testing.T) {
	store := credstore.NewMemory()
	r, _, path := newTestRegistry(t, store)
	require.NoError(t, os.RemoveAll(filepath.Dir(path)))

	_, err := r.Upsert(context.Background(), hecPayload("Splunk", "https://h:8088", "tok"))
	require.Error(t, err)
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, r.List())
}

func TestRegistry_DeleteUnknownIsNoop(t *testing.T) {
	r, _, _ := newTestRegistry(t, credstore.NewMemory())
	assert.NoError(t, r.Delete(context.Background(), "hec:42"))

	_, err := r.Get("hec:42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_DeleteSurvivesSecretFailure(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "destinations.json")

	seed, err := NewRegistry(path, credstore.NewMemory(), nil)
	require.NoError(t, err)
	d, err := seed.Upsert(ctx, hecPayload("Splunk", "https://h:8088", "tok"))
	require.NoError(t, err)

	tl := logging.NewTestLogger()
	r, err := NewRegistry(path, credstore.Unavailable(nil), tl.Underlying())
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, d.ID))
	assert.Empty(t, r.List())
	tl.AssertLogged(t, zapcore.WarnLevel, "failed to delete destination secret")
}

func TestRegistry_IDsSkipTaken(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestRegistry(t, credstore.NewMemory())

	a, err := r.Upsert(ctx, hecPayload("a", "https://a", "t"))
	require.NoError(t, err)
	b, err := r.Upsert(ctx, hecPayload("b", "https://b", "t"))
	require.NoError(t, err)
	require.NoError(t, r.Delete(ctx, a.ID))

	c, err := r.Upsert(ctx, hecPayload("c", "https://c", "t"))
	require.NoError(t, err)
	assert.Equal(t, "hec:2", b.ID)
	assert.Equal(t, "hec:3", c.ID)
}

func TestRegistry_SecretMissing(t *testing.T) {
	ctx := context.Background()
	store := credstore.NewMemory()
	r, _, _ := newTestRegistry(t, store)

	d, err := r.Upsert(ctx, hecPayload("Splunk", "https://h", "tok"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, d.ID))

	_, err = r.Secret(ctx, d)
	assert.ErrorIs(t, err, ErrSecretMissing)
}

func TestRegistry_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.json")
	records := []record{
		{ID: "hec:1", Type: "hec", Name: "Splunk", URL: "https://h/services/collector"},
		{ID: "syslog:2", Type: "syslog", Name: "lab", IP: "10.0.0.1", Port: 514, Protocol: "udp"},
		{ID: "x:3", Type: "kafka", Name: "ignored"},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	r, err := NewRegistry(path, credstore.NewMemory(), nil)
	require.NoError(t, err)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, ProtocolUDP, list[1].Connection.(SyslogConnection).Protocol)
}

func TestRegistry_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewRegistry(path, credstore.NewMemory(), nil)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestRegistry_WatchReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := credstore.NewMemory()
	r, _, path := newTestRegistry(t, store)

	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, nil) }()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	other, err := NewRegistry(path, store, nil)
	require.NoError(t, err)
	_, err = other.Upsert(ctx, Payload{Type: "syslog", Name: "lab", IP: "h", Port: 514, Protocol: "tcp"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.List()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRegistry_ReloadIgnoresOwnWrites(t *testing.T) {
	ctx := context.Background()
	r, _, path := newTestRegistry(t, credstore.NewMemory())

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = r.Upsert(ctx, Payload{Type: "syslog", Name: "lab", IP: "h", Port: 514, Protocol: "udp"})
	require.NoError(t, err)
	changed, err = r.Reload()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, os.WriteFile(path, []byte("[]"), 0600))
	changed, err = r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, r.List())
}

func TestRegistry_ConcurrentReloadKeepsUpserts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _, path := newTestRegistry(t, credstore.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				_, err := r.Reload()
				assert.NoError(t, err)
			}
		}()
	}

	const n = 500
	for i := 0; i < n; i++ {
		_, err := r.Upsert(ctx, Payload{
			Type: "syslog", Name: "lab-" + strconv.Itoa(i), IP: "10.0.0.1", Port: 514, Protocol: "udp",
		})
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	assert.Len(t, r.List(), n)
	reopened, err := NewRegistry(path, credstore.NewMemory(), nil)
	require.NoError(t, err)
	assert.Len(t, reopened.List(), n)
}

func TestRegistry_WatchSkipsOwnWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, _, path := newTestRegistry(t, credstore.NewMemory())

	reloads := make(chan error, 16)
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, func(err error) { reloads <- err }) }()
	time.Sleep(100 * time.Millisecond)

	_, err := r.Upsert(ctx, Payload{Type: "syslog", Name: "lab", IP: "h", Port: 514, Protocol: "udp"})
	require.NoError(t, err)

	// An external edit after the registry's own write is the first reload seen.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[]"), 0600))

	select {
	case err := <-reloads:
		require.NoError(t, err)
		assert.Empty(t, r.List())
	case <-time.After(5 * time.Second):
		t.Fatal("external edit was not reloaded")
	}

	cancel()
	<-done
}
