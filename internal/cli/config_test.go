package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/timing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "http://127.0.0.1:5000", cfg.BackendURL)
	assert.Equal(t, schedule.DefaultRates, cfg.Rates())
	assert.Equal(t, timing.DefaultStages, cfg.Stages)
	assert.False(t, cfg.HistogramModeOn())
	assert.Equal(t, "127.0.0.1:8050", cfg.WebUIAddr())
	require.NoError(t, cfg.Validate())
}

func TestMergeConfigs(t *testing.T) {
	on := true
	base := DefaultConfig()
	overlay := &Config{
		PushURL:       "ws://backend:5000/ws",
		TraceRate:     4,
		Stages:        []string{"x", "y"},
		HistogramMode: &on,
		WebUIPort:     9000,
	}

	merged := MergeConfigs(base, overlay)

	assert.Equal(t, "http://127.0.0.1:5000", merged.BackendURL, "unset overlay fields keep base")
	assert.Equal(t, "ws://backend:5000/ws", merged.PushURL)
	assert.Equal(t, schedule.Rates{Trace: 4, Hist: 10}, merged.Rates())
	assert.Equal(t, []string{"x", "y"}, merged.Stages)
	assert.True(t, merged.HistogramModeOn())
	assert.Equal(t, 9000, merged.WebUIPort)

	// Inputs are not mutated
	assert.False(t, base.HistogramModeOn())
	overlay.Stages[0] = "changed"
	assert.Equal(t, "x", merged.Stages[0])
}

func TestMergeConfigsHistogramModeOff(t *testing.T) {
	on, off := true, false
	base := &Config{HistogramMode: &on}

	assert.False(t, MergeConfigs(base, &Config{HistogramMode: &off}).HistogramModeOn())
	assert.True(t, MergeConfigs(base, &Config{}).HistogramModeOn(), "nil leaves it alone")
}

func TestMergeConfigsNil(t *testing.T) {
	cfg := DefaultConfig()
	assert.Same(t, cfg, MergeConfigs(cfg, nil))
	assert.NotNil(t, MergeConfigs(nil, cfg))
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "livedash.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"comment": "lab bench",
		"backend_url": "http://daq:5000",
		"trace_rate_hz": 2,
		"histogram_mode": false,
		"stages": ["a", "b", "c"]
	}`), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://daq:5000", cfg.BackendURL)
	assert.Equal(t, 2.0, cfg.TraceRate)
	require.NotNil(t, cfg.HistogramMode)
	assert.False(t, *cfg.HistogramMode)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Stages)

	_, err = LoadConfigFromFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"trace_rate_hz": "fast"`), 0o644))
	_, err = LoadConfigFromFile(bad)
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	_, err := findProjectConfigFrom(nested)
	assert.ErrorIs(t, err, os.ErrNotExist, "search stops at the repository root")

	want := filepath.Join(root, ".livedash.json")
	require.NoError(t, os.WriteFile(want, []byte(`{}`), 0o644))

	got, err := findProjectConfigFrom(nested)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"push only", func(c *Config) { c.BackendURL = ""; c.PushURL = "ws://x/ws" }, false},
		{"no endpoints", func(c *Config) { c.BackendURL = "" }, true},
		{"bad backend", func(c *Config) { c.BackendURL = "://nope" }, true},
		{"negative rate", func(c *Config) { c.HistRate = -2 }, true},
		{"negative window", func(c *Config) { c.Window = -1 }, true},
		{"port too large", func(c *Config) { c.WebUIPort = 70000 }, true},
		{"bad timeout", func(c *Config) { c.FetchTimeout = "soon" }, true},
		{"negative interval", func(c *Config) { c.OTLPInterval = "-5s" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FetchTimeout = "750ms"
	cfg.Window = 12

	ec := cfg.EngineConfig()
	assert.Equal(t, 750*time.Millisecond, ec.FetchTimeout)
	assert.Equal(t, 12, ec.Window)
	assert.Equal(t, cfg.Rates(), ec.Rates)
	assert.Equal(t, cfg.Stages, ec.Stages)

	ec.Stages[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Stages[0])
}

func TestHotReload(t *testing.T) {
	eng, err := engine.New(engine.Config{}, nil, render.NewMemorySink(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	on := true
	apply := hotReload(eng)
	require.NoError(t, apply(ctx, &Config{HistRate: 5, HistogramMode: &on}))

	st, err := eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, schedule.Rates{Trace: 1, Hist: 5}, st.Rates, "unset trace rate is kept")
	assert.True(t, st.HistogramMode)

	err = apply(ctx, &Config{TraceRate: -1})
	assert.ErrorIs(t, err, schedule.ErrInvalidRate)

	st, err = eng.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5.0, st.Rates.Hist, "rejected reload leaves rates alone")
}
