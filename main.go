package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/decodebin/cmd"
	"github.com/smazurov/decodebin/internal/api"
	"github.com/smazurov/decodebin/internal/config"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/metrics/exporters"
	"github.com/smazurov/decodebin/internal/nats"
	"github.com/smazurov/decodebin/internal/pipeline"
	"github.com/smazurov/decodebin/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Pipeline settings
	Pipeline       string `help:"Pipeline definition file" default:"pipeline.toml" toml:"pipeline.file" env:"PIPELINE_FILE"`
	PipelineWatch  bool   `help:"Reload raw caps and decoders when the pipeline file changes" default:"true" toml:"pipeline.watch" env:"PIPELINE_WATCH"`
	PipelineSelect string `help:"Comma separated stream ids to select at startup" default:"" toml:"pipeline.select" env:"PIPELINE_SELECT"`

	// NATS settings
	NATSEnabled bool   `help:"Run the embedded NATS server and bridge" default:"true" toml:"nats.enabled" env:"NATS_ENABLED"`
	NATSHost    string `help:"NATS listen host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NATSPort    int    `help:"NATS listen port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Metrics settings
	MetricsPrometheus bool `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSE        bool `help:"Publish engine metrics on /api/metrics" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDecodebin string `help:"Engine logging level" default:"info" toml:"logging.decodebin" env:"LOGGING_DECODEBIN"`
	LoggingRTP       string `help:"RTP parsing and ingest logging level" default:"info" toml:"logging.rtp" env:"LOGGING_RTP"`
	LoggingPipeline  string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingAPI       string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNATS      string `help:"NATS logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"decodebin": opts.LoggingDecodebin,
				"decoders":  opts.LoggingDecodebin,
				"rtpparse":  opts.LoggingRTP,
				"ingest":    opts.LoggingRTP,
				"pipeline":  opts.LoggingPipeline,
				"api":       opts.LoggingAPI,
				"http":      opts.LoggingAPI,
				"nats":      opts.LoggingNATS,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        entry.Seq,
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		pipelineCfg, err := config.LoadPipeline(opts.Pipeline)
		if err != nil {
			logger.Error("Failed to load pipeline", "file", opts.Pipeline, "error", err)
			os.Exit(1)
		}
		p, err := pipeline.New(pipelineCfg, eventBus)
		if err != nil {
			logger.Error("Failed to build pipeline", "error", err)
			os.Exit(1)
		}

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Engine:       p.Engine(),
			Outputs:      p,
			Registry:     p.Registry(),
			EventBus:     eventBus,
		}
		if opts.MetricsPrometheus {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSE {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		var natsServer *nats.Server
		var bridge *nats.Bridge
		if opts.NATSEnabled {
			natsServer = nats.NewServer(nats.ServerOptions{
				Host:   opts.NATSHost,
				Port:   opts.NATSPort,
				Logger: logging.GetLogger("nats"),
			})
		}

		notifier := systemd.NewNotifier(logger)
		ctx, cancel := context.WithCancel(context.Background())
		var watcher *config.Watcher[*config.PipelineConfig]

		hooks.OnStart(func() {
			if natsServer != nil {
				if startErr := natsServer.Start(); startErr != nil {
					logger.Error("Failed to start NATS server", "error", startErr)
					os.Exit(1)
				}
				// The URL is only known once a random port has been bound.
				bridge = nats.NewBridge(natsServer.ClientURL(), eventBus, p.Engine(), logging.GetLogger("nats"))
				if startErr := bridge.Start(); startErr != nil {
					logger.Warn("Failed to start NATS bridge", "error", startErr)
					bridge = nil
				}
			}

			if startErr := p.Start(ctx); startErr != nil {
				logger.Error("Failed to start pipeline", "error", startErr)
				os.Exit(1)
			}
			if ids := splitList(opts.PipelineSelect); len(ids) > 0 {
				if _, selErr := p.Engine().SelectStreams(ids); selErr != nil {
					logger.Warn("Initial selection rejected", "streams", ids, "error", selErr)
				}
			}
			if opts.PipelineWatch {
				w, watchErr := p.Watch(opts.Pipeline)
				if watchErr != nil {
					logger.Warn("Pipeline hot reload disabled", "error", watchErr)
				} else {
					watcher = w
				}
			}
			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			notifier.Ready()
			notifier.Status("serving " + opts.Port)
			go notifier.RunWatchdog(ctx)

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping pipeline watcher", "error", stopErr)
				}
			}
			if stopErr := p.Stop(); stopErr != nil {
				logger.Error("Error stopping pipeline", "error", stopErr)
			}
			cancel()
			if sseExporter != nil {
				sseExporter.Stop()
			}
			if bridge != nil {
				bridge.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateRunCmd())
	cli.Root().AddCommand(cmd.CreateSelectCmd())

	cli.Run()
}
