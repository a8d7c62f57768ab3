package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ifsyncd/pkg/bus"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ifsyncctl",
		Short:         "Utility for operating the ifsyncd webhook daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newReplayCommand())
	cmd.AddCommand(newDeadLettersCommand())
	return cmd
}

func newReplayCommand() *cobra.Command {
	var apiBaseURL string

	cmd := &cobra.Command{
		Use:   "replay <payload-file>",
		Short: "Re-deliver a saved webhook payload to the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			endpoint, err := endpointFor(payload)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				apiBaseURL+endpoint, bytes.NewReader(payload))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			client := &http.Client{Timeout: 2 * time.Minute}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", resp.Status, bytes.TrimSpace(body))
			if resp.StatusCode >= 400 {
				return fmt.Errorf("delivery failed with status %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&apiBaseURL, "api", "http://localhost:19703", "Base URL of the ifsyncd listener")
	return cmd
}

// endpointFor picks the webhook endpoint matching the payload's object type.
// Dead-letter envelopes carry the original payload under "payload".
func endpointFor(raw []byte) (string, error) {
	var probe struct {
		ObjectType string          `json:"object_type"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	if probe.ObjectType == "" && len(probe.Payload) > 0 {
		return endpointFor(probe.Payload)
	}
	switch probe.ObjectType {
	case "interface":
		return "/api/update-interface", nil
	case "ip_address":
		return "/api/update-address", nil
	default:
		return "", fmt.Errorf("unrecognised object_type %q", probe.ObjectType)
	}
}

func newDeadLettersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "Dead-letter queue operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newDeadLettersWatchCommand())
	return cmd
}

func newDeadLettersWatchCommand() *cobra.Command {
	var (
		natsURL string
		subject string
		durable string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream dead-lettered deliveries to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := bus.Connect(natsURL)
			if err != nil {
				return fmt.Errorf("connect nats: %w", err)
			}
			defer b.Close()

			watcher, err := b.Watch(ctx, subject, durable, func(data []byte) error {
				var pretty bytes.Buffer
				if err := json.Indent(&pretty, data, "", "  "); err != nil {
					pretty.Write(data)
				}
				fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
				return nil
			})
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer watcher.Close()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats", "nats://localhost:4222", "NATS server URL")
	cmd.Flags().StringVar(&subject, "subject", "ifsync.events.deadletter", "Dead-letter subject to consume")
	cmd.Flags().StringVar(&durable, "durable", "ifsyncctl-watch", "Durable consumer name")
	return cmd
}
