package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tobert/livedash/internal/engine"
	"github.com/tobert/livedash/internal/mcpserver"
	"github.com/tobert/livedash/internal/metrics"
	"github.com/tobert/livedash/internal/otlpexport"
	"github.com/tobert/livedash/internal/render"
	"github.com/tobert/livedash/internal/render/chartsink"
	"github.com/tobert/livedash/internal/transport"
	"github.com/tobert/livedash/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
// This command runs the dashboard engine with its web UI and optional push,
// export and MCP surfaces.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the live dashboard",
		Description: `Polls the backend's /data endpoint (and optionally subscribes to its
update_data websocket), keeps time series, waveforms and histograms current,
and serves them on the web UI. Settings come from ~/.config/livedash/config.json,
the nearest .livedash.json, --config and flags, in increasing precedence.
An explicit --config file is watched: rate and histogram-mode edits apply live.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file (JSON); watched for rate and histogram-mode changes",
			},
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "Backend base URL serving GET /data",
			},
			&cli.StringFlag{
				Name:  "push-url",
				Usage: "Backend websocket URL emitting update_data events",
			},
			&cli.FloatFlag{
				Name:  "trace-rate",
				Usage: "Trace plot refresh rate (Hz)",
			},
			&cli.FloatFlag{
				Name:  "hist-rate",
				Usage: "Histogram refresh rate (Hz)",
			},
			&cli.StringSliceFlag{
				Name:  "stages",
				Usage: "Timing stage fields in pipeline order",
			},
			&cli.IntFlag{
				Name:  "window",
				Usage: "Points kept per time series",
			},
			&cli.IntFlag{
				Name:  "sample-limit",
				Usage: "Samples kept per histogram",
			},
			&cli.BoolFlag{
				Name:  "histogram-mode",
				Usage: "Sum DATA waveforms into histograms instead of reading HIST",
			},
			&cli.StringFlag{
				Name:  "publisher-config",
				Usage: "Backend publisher config.json; its data-channels are checked against snapshots",
			},
			&cli.StringFlag{
				Name:  "webui-host",
				Usage: "Web UI bind address",
			},
			&cli.IntFlag{
				Name:  "webui-port",
				Usage: "Web UI port",
			},
			&cli.StringFlag{
				Name:  "otlp-endpoint",
				Usage: "Export difference gauges and bar histograms to this OTLP gRPC collector",
			},
			&cli.BoolFlag{
				Name:  "mcp",
				Usage: "Serve MCP tools on stdio; the dashboard stops when stdin closes",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(cfg *Config, cmd *cli.Command) *Config {
	overlay := &Config{}
	if cmd.IsSet("backend-url") {
		overlay.BackendURL = cmd.String("backend-url")
	}
	if cmd.IsSet("push-url") {
		overlay.PushURL = cmd.String("push-url")
	}
	if cmd.IsSet("trace-rate") {
		overlay.TraceRate = cmd.Float("trace-rate")
	}
	if cmd.IsSet("hist-rate") {
		overlay.HistRate = cmd.Float("hist-rate")
	}
	if cmd.IsSet("stages") {
		overlay.Stages = cmd.StringSlice("stages")
	}
	if cmd.IsSet("window") {
		overlay.Window = cmd.Int("window")
	}
	if cmd.IsSet("sample-limit") {
		overlay.SampleLimit = cmd.Int("sample-limit")
	}
	if cmd.IsSet("histogram-mode") {
		on := cmd.Bool("histogram-mode")
		overlay.HistogramMode = &on
	}
	if cmd.IsSet("publisher-config") {
		overlay.PublisherConfig = cmd.String("publisher-config")
	}
	if cmd.IsSet("webui-host") {
		overlay.WebUIHost = cmd.String("webui-host")
	}
	if cmd.IsSet("webui-port") {
		overlay.WebUIPort = cmd.Int("webui-port")
	}
	if cmd.IsSet("otlp-endpoint") {
		overlay.OTLPEndpoint = cmd.String("otlp-endpoint")
	}
	overlay.MCP = cmd.Bool("mcp")
	overlay.Verbose = cmd.Bool("verbose")
	return MergeConfigs(cfg, overlay)
}

// runServe is the action handler for the serve command.
// It wires together all components: sinks, engine, transports, web UI,
// exporter, MCP server and the config watcher.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	cfg, err := LoadEffectiveConfig(configPath)
	if err != nil {
		return err
	}
	cfg = applyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Verbose {
		logConfig(cfg)
	}

	if cfg.PublisherConfig != "" {
		channels, err := ParsePublisherConfig(cfg.PublisherConfig)
		if err != nil {
			log.Printf("⚠️  %v\n", err)
		} else {
			names := make([]string, len(channels))
			for i, ch := range channels {
				names[i] = ch.Name + "@" + ch.Address
			}
			log.Printf("📁 Publisher config lists %d channels: %s\n", len(channels), strings.Join(names, ", "))
		}
	}

	ctx, stop := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := buildDashboard(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	d.start(gctx, g)

	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, hotReload(d.engine), cfg.Verbose)
		if err != nil {
			log.Printf("⚠️  Config hot reload disabled: %v\n", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	if cfg.MCP {
		mcpServer, err := mcpserver.NewServer(d.engine, mcpserver.ServerOptions{Verbose: cfg.Verbose})
		if err != nil {
			stop()
			g.Wait()
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		log.Println("🎯 MCP server ready on stdio")
		g.Go(func() error {
			defer stop()
			if err := mcpServer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Println("📡 Dashboard stopped")
	return err
}

func logConfig(cfg *Config) {
	log.Println("🔧 Configuration:")
	log.Printf("  Backend: %s\n", orNone(cfg.BackendURL))
	log.Printf("  Push: %s\n", orNone(cfg.PushURL))
	log.Printf("  Rates: trace %g Hz, hist %g Hz\n", cfg.TraceRate, cfg.HistRate)
	log.Printf("  Stages: %s\n", strings.Join(cfg.Stages, ", "))
	log.Printf("  Window: %d points, histogram limit: %d samples\n", cfg.Window, cfg.SampleLimit)
	log.Printf("  Histogram mode: %t\n", cfg.HistogramModeOn())
	log.Printf("  OTLP export: %s\n", orNone(cfg.OTLPEndpoint))
	log.Println()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// dashboard is every long-running component of one serve invocation.
type dashboard struct {
	cfg      *Config
	engine   *engine.Engine
	ui       *webui.Server
	push     *transport.PushClient
	exporter *otlpexport.Exporter
}

func buildDashboard(cfg *Config) (*dashboard, error) {
	d := &dashboard{cfg: cfg}

	charts := chartsink.New(chartsink.Options{})
	sinks := render.MultiSink{charts}

	if cfg.OTLPEndpoint != "" {
		interval, _ := parseDuration(cfg.OTLPInterval)
		exp, err := otlpexport.New(otlpexport.Config{
			Endpoint: cfg.OTLPEndpoint,
			Interval: interval,
			Verbose:  cfg.Verbose,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		d.exporter = exp
		sinks = append(sinks, exp)
	}

	var fetcher engine.Fetcher
	if cfg.BackendURL != "" {
		f, err := transport.NewFetcher(cfg.BackendURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetcher: %w", err)
		}
		fetcher = f
	}

	col := metrics.NewCollector()
	eng, err := engine.New(cfg.EngineConfig(), fetcher, sinks, col)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	d.engine = eng

	if cfg.PushURL != "" {
		push, err := transport.NewPushClient(cfg.PushURL, cfg.Verbose)
		if err != nil {
			return nil, fmt.Errorf("failed to create push client: %w", err)
		}
		col.WatchPush(push.Stats)
		d.push = push
	}

	ui, err := webui.New(eng, charts, col.Registry())
	if err != nil {
		return nil, fmt.Errorf("failed to create web UI: %w", err)
	}
	d.ui = ui

	return d, nil
}

// start launches every component on g. All of them return when ctx is done.
func (d *dashboard) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error { return d.engine.Run(ctx) })

	addr := d.cfg.WebUIAddr()
	g.Go(func() error {
		log.Printf("🌐 Dashboard on http://%s/ui/\n", addr)
		if err := d.ui.ListenAndServe(ctx, addr); err != nil {
			return fmt.Errorf("web UI: %w", err)
		}
		return nil
	})

	if d.cfg.BackendURL != "" {
		log.Printf("📡 Polling %s\n", d.cfg.BackendURL)
	}
	if d.push != nil {
		g.Go(func() error {
			log.Printf("📡 Subscribing to %s\n", d.cfg.PushURL)
			return d.push.Run(ctx, d.engine.Submit)
		})
	}
	if d.exporter != nil {
		g.Go(func() error {
			log.Printf("📡 Exporting metrics to %s\n", d.cfg.OTLPEndpoint)
			return d.exporter.Run(ctx)
		})
	}
}

// hotReload applies the live-tunable settings of a reloaded config file.
// Rates left out of the file keep their current value.
func hotReload(eng *engine.Engine) ApplyFunc {
	return func(ctx context.Context, cfg *Config) error {
		st, err := eng.Status(ctx)
		if err != nil {
			return err
		}

		rates := st.Rates
		if cfg.TraceRate != 0 {
			rates.Trace = cfg.TraceRate
		}
		if cfg.HistRate != 0 {
			rates.Hist = cfg.HistRate
		}
		if rates != st.Rates {
			if err := eng.SetRates(ctx, rates); err != nil {
				return err
			}
		}

		if cfg.HistogramMode != nil && *cfg.HistogramMode != st.HistogramMode {
			if err := eng.SetHistogramMode(ctx, *cfg.HistogramMode); err != nil {
				return err
			}
		}
		return nil
	}
}
