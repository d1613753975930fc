package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, listenAddr string) {
	t.Helper()
	content := "server:\n  listenAddr: \"" + listenAddr + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestWatcherInitialLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	writeConfigFile(t, path, ":8081")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":8081", cfg.Server.ListenAddr)
}

func TestWatcherReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	writeConfigFile(t, path, ":8081")

	var reloads atomic.Int32
	ch := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
		select {
		case ch <- cfg:
		default:
		}
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	writeConfigFile(t, path, ":9091")

	select {
	case cfg := <-ch:
		assert.Equal(t, ":9091", cfg.Server.ListenAddr)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherInvalidReloadKeepsLastConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	writeConfigFile(t, path, ":8081")

	errCh := make(chan error, 1)
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("server: [broken"), 0o600))

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":8081", cfg.Server.ListenAddr)
}

func TestWatcherStartMissingFile(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}
