package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusTimeout time.Duration

func init() {
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 10*time.Second, "Time allowed for the connection to open")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status [url]",
	Short: "Show configuration and probe the stream endpoint",
	Long:  "Display the current configuration, then open and immediately close a connection to the stream.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Configuration:")
		fmt.Fprintf(out, "  URL:         %s\n", valueOrDefault(cfg.Default.URL, "(not set)"))
		fmt.Fprintf(out, "  Format:      %s\n", valueOrDefault(cfg.Default.Format, "plain"))
		fmt.Fprintf(out, "  Credentials: %t\n", cfg.Default.WithCredentials)
		fmt.Fprintf(out, "  Polyfill:    %t\n", cfg.Polyfill.Force)
		fmt.Fprintf(out, "  Reconnect:   %s\n", describeReconnect(cfg.Reconnect))
		if len(cfg.Headers) > 0 {
			fmt.Fprintf(out, "  Headers:     %d configured\n", len(cfg.Headers))
		}

		urls, err := streamURLs(cfg, args)
		if err != nil {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Stream: (no URL to probe)")
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
		defer cancel()

		manager, err := newManager(cfg)
		if err != nil {
			return err
		}
		client := manager.CreateURL(urls[0])
		start := time.Now()
		err = client.Connect(ctx)
		elapsed := time.Since(start).Round(time.Millisecond)

		fmt.Fprintln(out)
		fmt.Fprintf(out, "Stream %s:\n", urls[0])
		if err != nil {
			fmt.Fprintf(out, "  Status: unreachable (%v)\n", err)
			return err
		}
		fmt.Fprintf(out, "  Status: open (%s, client %s)\n", elapsed, client.ID())
		client.Disconnect()
		return nil
	},
}
