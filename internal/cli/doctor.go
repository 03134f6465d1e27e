package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/urfave/cli/v3"

	"github.com/tobert/livedash/internal/snapshot"
	"github.com/tobert/livedash/internal/timing"
	"github.com/tobert/livedash/internal/transport"
)

// DoctorCommand returns the CLI command definition for the 'doctor' subcommand.
// This command runs diagnostic checks against the configuration and backend.
func DoctorCommand(version string) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Diagnose configuration and backend issues",
		Description: `Run checks to verify livedash can reach its backend and make sense of it.

This command checks:
  - Effective configuration (defaults, global, project, --config)
  - Backend reachability (GET /data)
  - Push endpoint (websocket handshake), when configured
  - Channel presence (PERF, DATA, HIST and the publisher config's channels)
  - Stage fields in the latest PERF record

Exit codes:
  0 - All critical checks passed
  1 - One or more issues found`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file (JSON)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout for each network check",
				Value: 5 * time.Second,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runDoctor(ctx, os.Stdout, version, cmd.String("config"), newRealProbe(cmd.Duration("timeout")))
		},
	}
}

type checkResult struct {
	Name       string
	Status     string // "pass", "warn", "fail"
	Message    string
	Suggestion string
	IsCritical bool
}

// probe is everything doctor touches outside the process.
type probe interface {
	LoadConfig(path string) (*Config, error)
	Fetch(ctx context.Context, backendURL string) (*snapshot.Snapshot, error)
	DialPush(ctx context.Context, pushURL string) error
	PublisherChannels(path string) ([]PublisherChannel, error)
}

type realProbe struct {
	timeout time.Duration
}

func newRealProbe(timeout time.Duration) *realProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &realProbe{timeout: timeout}
}

func (p *realProbe) LoadConfig(path string) (*Config, error) { return LoadEffectiveConfig(path) }

func (p *realProbe) PublisherChannels(path string) ([]PublisherChannel, error) {
	return ParsePublisherConfig(path)
}

func (p *realProbe) Fetch(ctx context.Context, backendURL string) (*snapshot.Snapshot, error) {
	f, err := transport.NewFetcher(backendURL, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return f.Fetch(ctx)
}

func (p *realProbe) DialPush(ctx context.Context, pushURL string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, pushURL, nil)
	if err != nil {
		return err
	}
	return conn.Close(websocket.StatusNormalClosure, "doctor")
}

// doctorState carries results between checks: later checks need the config
// and the fetched snapshot.
type doctorState struct {
	configPath string
	cfg        *Config
	snap       *snapshot.Snapshot
}

func runDoctor(ctx context.Context, w io.Writer, version, configPath string, p probe) error {
	fmt.Fprintf(w, "🔍 livedash doctor v%s\n\n", version)

	st := &doctorState{configPath: configPath}
	checks := []func(context.Context, probe, *doctorState) []checkResult{
		checkConfig,
		checkBackend,
		checkPush,
		checkChannels,
		checkStages,
	}

	var results []checkResult
	for _, check := range checks {
		for _, result := range check(ctx, p, st) {
			results = append(results, result)
			printCheckResult(w, result)
		}
	}

	fmt.Fprintln(w)
	summary := summarizeResults(results)
	printSummary(w, summary)

	if summary.FailCount > 0 {
		return fmt.Errorf("found %d issues that need attention", summary.FailCount)
	}

	return nil
}

func printCheckResult(w io.Writer, result checkResult) {
	var icon string
	switch result.Status {
	case "pass":
		icon = "✓"
	case "warn":
		icon = "⚠"
	case "fail":
		icon = "✗"
	}

	fmt.Fprintf(w, "%s %s\n", icon, result.Message)

	if result.Suggestion != "" {
		fmt.Fprintf(w, "  %s\n", result.Suggestion)
	}
}

type resultSummary struct {
	PassCount int
	WarnCount int
	FailCount int
}

func summarizeResults(results []checkResult) resultSummary {
	var summary resultSummary
	for _, r := range results {
		switch r.Status {
		case "pass":
			summary.PassCount++
		case "warn":
			summary.WarnCount++
		case "fail":
			summary.FailCount++
		}
	}
	return summary
}

func printSummary(w io.Writer, summary resultSummary) {
	if summary.FailCount > 0 {
		fmt.Fprintf(w, "❌ Found %d issue(s) that need attention\n", summary.FailCount)
		if summary.WarnCount > 0 {
			fmt.Fprintf(w, "⚠️  %d warning(s)\n", summary.WarnCount)
		}
	} else if summary.WarnCount > 0 {
		fmt.Fprintf(w, "✅ All critical checks passed!\n")
		fmt.Fprintf(w, "⚠️  %d optional warning(s)\n", summary.WarnCount)
		fmt.Fprintf(w, "💡 Run 'livedash serve --verbose' to start the dashboard\n")
	} else {
		fmt.Fprintf(w, "✅ All checks passed!\n")
		fmt.Fprintf(w, "💡 Run 'livedash serve --verbose' to start the dashboard\n")
	}
}

// Check 1: configuration
func checkConfig(_ context.Context, p probe, st *doctorState) []checkResult {
	cfg, err := p.LoadConfig(st.configPath)
	if err != nil {
		return []checkResult{{
			Name:       "config",
			Status:     "fail",
			Message:    "Could not load configuration",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}}
	}
	if err := cfg.Validate(); err != nil {
		return []checkResult{{
			Name:       "config",
			Status:     "fail",
			Message:    "Configuration is invalid",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}}
	}

	st.cfg = cfg
	source := "built-in defaults and discovered config files"
	if st.configPath != "" {
		source = st.configPath
	}
	return []checkResult{{
		Name:    "config",
		Status:  "pass",
		Message: fmt.Sprintf("Configuration valid (%s)", source),
	}}
}

// Check 2: backend reachability
func checkBackend(ctx context.Context, p probe, st *doctorState) []checkResult {
	if st.cfg == nil {
		return nil
	}
	if st.cfg.BackendURL == "" {
		return []checkResult{{
			Name:    "backend",
			Status:  "warn",
			Message: "No backend_url configured: polling disabled",
			Suggestion: `The dashboard will only update from pushes.
  Set backend_url (or --backend-url) to poll GET /data as a fallback.`,
		}}
	}

	snap, err := p.Fetch(ctx, st.cfg.BackendURL)
	if err != nil {
		return []checkResult{{
			Name:       "backend",
			Status:     "fail",
			Message:    fmt.Sprintf("Backend not reachable at %s", st.cfg.BackendURL),
			Suggestion: fmt.Sprintf("Error: %v\n  Is the publisher's web server running?", err),
			IsCritical: true,
		}}
	}

	st.snap = snap
	return []checkResult{{
		Name:    "backend",
		Status:  "pass",
		Message: fmt.Sprintf("Backend reachable: %d channel(s) at %s", snap.Len(), st.cfg.BackendURL),
	}}
}

// Check 3: push endpoint
func checkPush(ctx context.Context, p probe, st *doctorState) []checkResult {
	if st.cfg == nil || st.cfg.PushURL == "" {
		return nil
	}
	if err := p.DialPush(ctx, st.cfg.PushURL); err != nil {
		return []checkResult{{
			Name:       "push",
			Status:     "warn",
			Message:    fmt.Sprintf("Push endpoint not reachable at %s", st.cfg.PushURL),
			Suggestion: fmt.Sprintf("Error: %v\n  The dashboard keeps retrying and polls meanwhile.", err),
		}}
	}
	return []checkResult{{
		Name:    "push",
		Status:  "pass",
		Message: fmt.Sprintf("Push endpoint accepts connections at %s", st.cfg.PushURL),
	}}
}

// Check 4: channel presence
func checkChannels(_ context.Context, p probe, st *doctorState) []checkResult {
	if st.snap == nil {
		return nil
	}

	var results []checkResult
	if st.snap.HasChannel(snapshot.ChannelTiming) {
		results = append(results, checkResult{
			Name:    "channels",
			Status:  "pass",
			Message: fmt.Sprintf("%s channel present", snapshot.ChannelTiming),
		})
	} else {
		results = append(results, checkResult{
			Name:       "channels",
			Status:     "fail",
			Message:    fmt.Sprintf("%s channel missing: no timing table or difference plots", snapshot.ChannelTiming),
			Suggestion: "Check the publisher's data-channels section for a channel named PERF.",
			IsCritical: true,
		})
	}

	for _, name := range []string{snapshot.ChannelWaveform, snapshot.ChannelHistogram} {
		if !st.snap.HasChannel(name) {
			results = append(results, checkResult{
				Name:    "channels",
				Status:  "warn",
				Message: fmt.Sprintf("Optional: %s channel missing", name),
			})
		}
	}

	if st.cfg.PublisherConfig != "" {
		results = append(results, checkPublisherChannels(p, st)...)
	}
	return results
}

func checkPublisherChannels(p probe, st *doctorState) []checkResult {
	channels, err := p.PublisherChannels(st.cfg.PublisherConfig)
	if err != nil {
		return []checkResult{{
			Name:       "publisher_config",
			Status:     "warn",
			Message:    "Could not read publisher config",
			Suggestion: fmt.Sprintf("Error: %v", err),
		}}
	}

	published := make(map[string]bool)
	for _, ch := range st.snap.Channels() {
		published[ch.Name+"@"+ch.Address] = true
	}

	var missing []string
	for _, ch := range channels {
		if id := ch.Name + "@" + ch.Address; !published[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return []checkResult{{
			Name:       "publisher_config",
			Status:     "warn",
			Message:    fmt.Sprintf("%d of %d configured channel(s) not published yet", len(missing), len(channels)),
			Suggestion: "Missing: " + strings.Join(missing, ", "),
		}}
	}
	return []checkResult{{
		Name:    "publisher_config",
		Status:  "pass",
		Message: fmt.Sprintf("All %d configured channel(s) published", len(channels)),
	}}
}

// Check 5: stage fields
func checkStages(_ context.Context, _ probe, st *doctorState) []checkResult {
	if st.snap == nil || !st.snap.HasChannel(snapshot.ChannelTiming) {
		return nil
	}

	rec, err := st.snap.RecordFor(snapshot.ChannelTiming)
	if err != nil {
		return []checkResult{{
			Name:       "stages",
			Status:     "fail",
			Message:    "Latest PERF record is unreadable",
			Suggestion: fmt.Sprintf("Error: %v", err),
			IsCritical: true,
		}}
	}

	var missing []string
	for _, stage := range st.cfg.Stages {
		if _, ok := rec.Number(stage); !ok {
			missing = append(missing, stage)
		}
	}
	if len(missing) > 0 {
		return []checkResult{{
			Name:    "stages",
			Status:  "warn",
			Message: fmt.Sprintf("%d of %d stage field(s) absent from the latest PERF record", len(missing), len(st.cfg.Stages)),
			Suggestion: fmt.Sprintf("Missing: %s\n  Differences spanning them are skipped; adjust stages if the pipeline changed.",
				strings.Join(missing, ", ")),
		}}
	}

	valid := len(timing.Valid(timing.Differences(rec, st.cfg.Stages)))
	return []checkResult{{
		Name:    "stages",
		Status:  "pass",
		Message: fmt.Sprintf("All %d stage fields present (%d difference(s) available)", len(st.cfg.Stages), valid),
	}}
}
