package cli

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/schedule"
	"github.com/tobert/livedash/internal/timing"
	"github.com/tobert/livedash/internal/transport"
)

// Config holds the runtime configuration for the dashboard.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty"`

	// Backend endpoints
	BackendURL   string `json:"backend_url,omitempty"`   // base URL serving GET /data
	PushURL      string `json:"push_url,omitempty"`      // ws:// endpoint emitting update_data; empty disables push
	FetchTimeout string `json:"fetch_timeout,omitempty"` // per-fetch timeout (e.g., "2s")

	// Refresh rates in Hz
	TraceRate float64 `json:"trace_rate_hz,omitempty"`
	HistRate  float64 `json:"hist_rate_hz,omitempty"`

	// Derived entities
	Stages        []string `json:"stages,omitempty"`         // timing stage fields in pipeline order
	Window        int      `json:"window,omitempty"`         // time series points kept per plot
	SampleLimit   int      `json:"sample_limit,omitempty"`   // samples kept per histogram
	HistogramMode *bool    `json:"histogram_mode,omitempty"` // sum DATA waveforms instead of reading HIST

	// Backend publisher config (its data-channels section lists expected channels)
	PublisherConfig string `json:"publisher_config,omitempty"`

	// Web UI configuration
	WebUIHost string `json:"webui_host,omitempty"`
	WebUIPort int    `json:"webui_port,omitempty"`

	// OTLP metric export; empty disables it
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	OTLPInterval string `json:"otlp_interval,omitempty"`

	// Serve MCP tools on stdio
	MCP bool `json:"mcp,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty"`
}

// DefaultConfig returns a Config with sensible default values:
// - backend on the local publisher's default port, polled only
// - trace plots at 1 Hz, histograms at 10 Hz
// - 30 point time series windows
// - web UI on 127.0.0.1:8050
func DefaultConfig() *Config {
	histMode := false
	return &Config{
		BackendURL:    "http://127.0.0.1:5000",
		FetchTimeout:  "2s",
		TraceRate:     schedule.DefaultRates.Trace,
		HistRate:      schedule.DefaultRates.Hist,
		Stages:        append([]string(nil), timing.DefaultStages...),
		Window:        30,
		SampleLimit:   50_000,
		HistogramMode: &histMode,
		WebUIHost:     "127.0.0.1",
		WebUIPort:     8050,
		OTLPInterval:  "5s",
		Verbose:       false,
	}
}

// LoadConfigFromFile loads configuration from a JSON file at the given path.
// It returns an error if the file cannot be read or parsed.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// FindProjectConfig searches for a .livedash.json config file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return findProjectConfigFrom(dir)
}

func findProjectConfigFrom(dir string) (string, error) {
	for {
		configPath := filepath.Join(dir, ".livedash.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at the repository root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file.
// This is ~/.config/livedash/config.json
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "livedash", "config.json")
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.BackendURL != "" {
		merged.BackendURL = overlay.BackendURL
	}
	if overlay.PushURL != "" {
		merged.PushURL = overlay.PushURL
	}
	if overlay.FetchTimeout != "" {
		merged.FetchTimeout = overlay.FetchTimeout
	}

	// Merge rates
	if overlay.TraceRate != 0 {
		merged.TraceRate = overlay.TraceRate
	}
	if overlay.HistRate != 0 {
		merged.HistRate = overlay.HistRate
	}

	// Merge derived entity settings
	if len(overlay.Stages) > 0 {
		merged.Stages = append([]string(nil), overlay.Stages...)
	}
	if overlay.Window > 0 {
		merged.Window = overlay.Window
	}
	if overlay.SampleLimit > 0 {
		merged.SampleLimit = overlay.SampleLimit
	}
	if overlay.HistogramMode != nil {
		on := *overlay.HistogramMode
		merged.HistogramMode = &on
	}
	if overlay.PublisherConfig != "" {
		merged.PublisherConfig = overlay.PublisherConfig
	}

	// Merge Web UI settings
	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}
	if overlay.WebUIPort > 0 {
		merged.WebUIPort = overlay.WebUIPort
	}

	// Merge export settings
	if overlay.OTLPEndpoint != "" {
		merged.OTLPEndpoint = overlay.OTLPEndpoint
	}
	if overlay.OTLPInterval != "" {
		merged.OTLPInterval = overlay.OTLPInterval
	}

	if overlay.MCP {
		merged.MCP = overlay.MCP
	}
	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}

// Rates returns the configured refresh rates.
func (c *Config) Rates() schedule.Rates {
	return schedule.Rates{Trace: c.TraceRate, Hist: c.HistRate}
}

// HistogramModeOn reports the configured histogram-generation mode.
func (c *Config) HistogramModeOn() bool {
	return c.HistogramMode != nil && *c.HistogramMode
}

// WebUIAddr returns host:port for the web UI listener.
func (c *Config) WebUIAddr() string {
	return net.JoinHostPort(c.WebUIHost, strconv.Itoa(c.WebUIPort))
}

// Validate checks the merged configuration before anything is started.
func (c *Config) Validate() error {
	if c.BackendURL == "" && c.PushURL == "" {
		return fmt.Errorf("either backend_url or push_url is required")
	}
	if c.BackendURL != "" {
		if _, err := transport.DataURL(c.BackendURL); err != nil {
			return fmt.Errorf("backend_url: %w", err)
		}
	}
	if err := c.Rates().Validate(); err != nil {
		return err
	}
	if c.Window < 0 || c.SampleLimit < 0 {
		return fmt.Errorf("window and sample_limit must not be negative")
	}
	if c.WebUIPort < 0 || c.WebUIPort > 65535 {
		return fmt.Errorf("invalid webui_port %d: must be between 0 and 65535", c.WebUIPort)
	}
	for name, d := range map[string]string{"fetch_timeout": c.FetchTimeout, "otlp_interval": c.OTLPInterval} {
		if _, err := parseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// EngineConfig converts the configuration for engine.New.
func (c *Config) EngineConfig() engine.Config {
	timeout, _ := parseDuration(c.FetchTimeout)
	return engine.Config{
		Stages:        append([]string(nil), c.Stages...),
		Rates:         c.Rates(),
		Window:        c.Window,
		SampleLimit:   c.SampleLimit,
		HistogramMode: c.HistogramModeOn(),
		FetchTimeout:  timeout,
		Verbose:       c.Verbose,
	}
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %s must not be negative", s)
	}
	return d, nil
}
