package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/homepass/service/nats"
	"github.com/brojonat/homepass/service/shares"
)

// subscribeCommand streams snapshot and action events.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to share events",
		ArgsUsage: "[property_id]",
		Description: `Subscribe to events published to NATS JetStream.

Snapshot events are published to homepass.snapshots.{property_id} and
action outcomes to homepass.actions.{property_id}. Without a property id
every property is streamed.

Example:
  homepass nats subscribe villa-alpha --actions-only --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "actions-only",
				Usage: "Only stream action outcomes",
			},
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "homepass-cli",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 streams until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			property := ""
			if c.NArg() > 0 {
				property = c.Args().First()
			}
			subjects := eventSubjects(property, c.Bool("actions-only"))

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubjects: subjects,
				AckPolicy:      jetstream.AckExplicitPolicy,
				DeliverPolicy:  jetstream.DeliverNewPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			jsonOutput := c.Bool("json")
			w := c.App.Writer
			if !jsonOutput {
				fmt.Fprintf(w, "📡 Subscribing to: %s\n", strings.Join(subjects, ", "))
				fmt.Fprintf(w, "\nWaiting for events... (Ctrl-C to exit)\n\n")
			}

			var count atomic.Int64
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				count.Add(1)
				if err := printEvent(w, msg.Subject(), msg.Data(), jsonOutput); err != nil {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer cc.Stop()

			<-ctx.Done()
			if !jsonOutput {
				fmt.Fprintf(w, "\n✅ Received %d events\n", count.Load())
			}
			return nil
		},
	}
}

func eventSubjects(propertyID string, actionsOnly bool) []string {
	if propertyID == "" {
		if actionsOnly {
			return []string{natspkg.ActionSubjectPrefix + "*"}
		}
		return []string{natspkg.SnapshotSubjectPrefix + "*", natspkg.ActionSubjectPrefix + "*"}
	}
	if actionsOnly {
		return []string{natspkg.ActionSubject(propertyID)}
	}
	return []string{natspkg.SnapshotSubject(propertyID), natspkg.ActionSubject(propertyID)}
}

// printEvent renders one message by subject family.
func printEvent(w io.Writer, subject string, data []byte, jsonOutput bool) error {
	if jsonOutput {
		var raw json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		fmt.Fprintln(w, string(raw))
		return nil
	}

	if strings.HasPrefix(subject, natspkg.ActionSubjectPrefix) {
		var event natspkg.ActionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Action:       %s (%s)\n", event.Action, event.Status)
		fmt.Fprintf(w, "Property:     %s\n", event.PropertyID)
		fmt.Fprintf(w, "Signer:       %s\n", event.Signer)
		fmt.Fprintf(w, "Amount:       %d\n", event.Amount)
		if event.Signature != "" {
			fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
		}
		if event.Error != "" {
			fmt.Fprintf(w, "Error:        %s\n", event.Error)
		}
		fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
		return nil
	}

	var event natspkg.PropertyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return err
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Snapshot:     generation %d\n", event.Generation)
	fmt.Fprintf(w, "Property:     %s (initialized: %t)\n", event.PropertyID, event.Initialized)
	fmt.Fprintf(w, "Available:    %d of %d\n", event.AvailableShares, event.TotalShares)
	fmt.Fprintf(w, "Pool USDC:    %s\n", shares.PriceUI(event.PoolUSDCBalance).StringFixed(2))
	if event.Owner != "" {
		fmt.Fprintf(w, "Owner:        %s (%d shares, %s pending)\n",
			event.Owner, event.UserShares, shares.PriceUI(event.PendingRewards).StringFixed(2))
	}
	fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
	return nil
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the HOMEPASS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			return render(c, info, func(w io.Writer) {
				fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
				fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
				fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
				fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
				fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
				fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
				fmt.Fprintf(w, "First Seq:    %d\n", info.State.FirstSeq)
				fmt.Fprintf(w, "Last Seq:     %d\n", info.State.LastSeq)
				fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
				fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
				fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			})
		},
	}
}
