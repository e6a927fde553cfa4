package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, listen string) {
	t.Helper()
	content := "listen: \"" + listen + "\"\nroutes: []\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, ":8080")

	reloaded := make(chan *GatewayConfig, 1)
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	writeConfig(t, path, ":9090")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, ":9090", cfg.Listen)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestWatcherKeepsOldConfigOnInvalidChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, ":8080")

	failures := make(chan error, 1)
	w, err := NewWatcher(path,
		func(*GatewayConfig) {
			t.Error("callback must not fire for an invalid config")
		},
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case failures <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("routes: [\n"), 0o600))

	select {
	case err := <-failures:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("error callback not invoked")
	}
}

func TestWatcherStartStopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, ":8080")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}

func TestWatcherStartFailsForMissingDirectory(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "config.yaml"), nil)
	require.NoError(t, err)
	assert.Error(t, w.Start())
}
