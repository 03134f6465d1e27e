package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingApply struct {
	mu      sync.Mutex
	configs []*Config
}

func (r *recordingApply) apply(_ context.Context, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	return nil
}

func (r *recordingApply) last() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.configs) == 0 {
		return nil
	}
	return r.configs[len(r.configs)-1]
}

func TestNewConfigWatcherValidation(t *testing.T) {
	_, err := NewConfigWatcher("", func(context.Context, *Config) error { return nil }, false)
	assert.Error(t, err)

	_, err = NewConfigWatcher("x.json", nil, false)
	assert.Error(t, err)

	_, err = NewConfigWatcher(filepath.Join(t.TempDir(), "nope", "x.json"), func(context.Context, *Config) error { return nil }, false)
	assert.Error(t, err, "parent directory must exist")
}

func TestConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livedash.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"trace_rate_hz": 1}`), 0o644))

	rec := &recordingApply{}
	w, err := NewConfigWatcher(path, rec.apply, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Unrelated files in the same directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))

	require.NoError(t, os.WriteFile(path, []byte(`{"trace_rate_hz": 4, "hist_rate_hz": 2.5}`), 0o644))
	require.Eventually(t, func() bool {
		cfg := rec.last()
		return cfg != nil && cfg.TraceRate == 4
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 2.5, rec.last().HistRate)

	require.NoError(t, os.WriteFile(path, []byte(`{"trace_rate_hz": `), 0o644))
	require.Eventually(t, func() bool {
		return w.Stats().Failures >= 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 4.0, rec.last().TraceRate, "bad edit is not applied")
	assert.GreaterOrEqual(t, w.Stats().Reloads, uint64(1))
	assert.Equal(t, path, w.Stats().Path)
}

func TestConfigWatcherApplyError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "livedash.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewConfigWatcher(path, func(context.Context, *Config) error {
		return assert.AnError
	}, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(`{"hist_rate_hz": 3}`), 0o644))
	require.Eventually(t, func() bool {
		return w.Stats().Failures >= 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Zero(t, w.Stats().Reloads)

	cancel()
	assert.NoError(t, <-done)
	w.Stop()
}
