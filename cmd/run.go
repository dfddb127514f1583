package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/smazurov/decodebin/internal/config"
	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/pipeline"
	"github.com/spf13/cobra"
)

// CreateRunCmd creates the run command.
func CreateRunCmd() *cobra.Command {
	var selectIDs []string
	var configFile string
	var logJSON bool
	var statsInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run [pipeline.toml]",
		Short: "Run a pipeline without the HTTP and NATS surfaces",
		Long: `Loads a pipeline definition, opens its RTP inputs and decodes the selected streams ` +
			`until interrupted or until every input reached end of stream.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			loggingConfig := config.LoadLoggingConfig(configFile)
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("run")

			cfg, err := config.LoadPipeline(args[0])
			if err != nil {
				return err
			}

			bus := events.New()
			drained := make(chan struct{}, 1)
			unsubscribe := bus.SubscribeAll(func(ev events.Event) {
				if data, err := json.Marshal(ev); err == nil {
					logger.Info("Engine event", "kind", events.Name(ev), "payload", string(data))
				}
				if _, ok := ev.(events.DrainedEvent); ok {
					select {
					case drained <- struct{}{}:
					default:
					}
				}
			})
			defer unsubscribe()

			p, err := pipeline.New(cfg, bus)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := p.Start(ctx); err != nil {
				return err
			}
			for _, in := range cfg.Inputs {
				if addr := p.InputAddr(in.Name); addr != nil {
					fmt.Printf("%s listening on %s\n", in.Name, addr)
				}
			}
			if len(selectIDs) > 0 {
				seqnum, err := p.Engine().SelectStreams(selectIDs)
				if err != nil {
					_ = p.Stop()
					return err
				}
				logger.Info("Initial selection requested", "streams", selectIDs, "seqnum", seqnum)
			}

			var ticks <-chan time.Time
			if statsInterval > 0 {
				ticker := time.NewTicker(statsInterval)
				defer ticker.Stop()
				ticks = ticker.C
			}

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case <-drained:
					logger.Info("All inputs drained")
					break loop
				case <-ticks:
					printOutputs(p.Outputs())
				}
			}

			printOutputs(p.Outputs())
			return p.Stop()
		},
	}

	cmd.Flags().StringSliceVarP(&selectIDs, "select", "s", nil, "Stream ids to select once the pipeline runs")
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.toml", "Configuration file holding the [logging] section")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Log as JSON")
	cmd.Flags().DurationVar(&statsInterval, "stats", 0, "Print output statistics at this interval")
	return cmd
}

func printOutputs(outs []pipeline.OutputStats) {
	if len(outs) == 0 {
		fmt.Println("no outputs")
		return
	}
	for _, o := range outs {
		state := "live"
		if o.EOS {
			state = "eos"
		}
		fmt.Printf("%-10s %-24s buffers=%-8d bytes=%-10d pts=%-12s %s\n",
			o.Pad, o.StreamID, o.Buffers, o.Bytes, o.LastPTS, state)
	}
	fmt.Println(strings.Repeat("-", 40))
}
