package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/smazurov/decodebin/internal/events"
	"github.com/smazurov/decodebin/internal/logging"
	"github.com/smazurov/decodebin/internal/nats"
	"github.com/spf13/cobra"
)

// CreateSelectCmd creates the select command.
func CreateSelectCmd() *cobra.Command {
	var url string
	var timeout time.Duration
	var wait bool

	cmd := &cobra.Command{
		Use:   "select [stream-id...]",
		Short: "Select streams on a running service",
		Long: `Sends a selection request over NATS. With no stream ids every output is torn down. ` +
			`With --wait the command blocks until the service reports the selection as served.`,
		RunE: func(_ *cobra.Command, args []string) error {
			logging.Initialize(logging.Config{Level: "warn", Format: "text"})
			logger := logging.GetLogger("select")

			client, err := nats.NewControlClient(url, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", url, err)
			}
			defer client.Close()

			selected := make(chan []byte, 8)
			if wait {
				if err := client.SubscribeEvents(func(kind string, data []byte) {
					if kind == "streams-selected" {
						selected <- data
					}
				}); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
			defer stop()

			seqnum, err := client.Select(ctx, args)
			if err != nil {
				return err
			}
			fmt.Printf("selection accepted, seqnum %d\n", seqnum)
			if !wait {
				return nil
			}

			for {
				select {
				case <-ctx.Done():
					return fmt.Errorf("no streams-selected for seqnum %d: %w", seqnum, ctx.Err())
				case data := <-selected:
					ev, err := decodeSelected(data)
					if err != nil {
						logger.Warn("Ignoring malformed event", "error", err)
						continue
					}
					if ev.Seqnum == seqnum {
						for _, s := range ev.Streams {
							fmt.Printf("%-24s %-6s %s\n", s.ID, s.Type, s.Caps)
						}
						return nil
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&url, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Give up after this long")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the selection is served")
	return cmd
}

func decodeSelected(data []byte) (events.StreamsSelectedEvent, error) {
	var ev events.StreamsSelectedEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
