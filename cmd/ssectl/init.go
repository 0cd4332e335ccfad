package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var initFormat string

func init() {
	initCmd.Flags().StringVar(&initFormat, "format", "plain", "Default payload format: plain or json")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <url>",
	Short: "Store a default stream URL",
	Long:  "Store the stream URL used when listen and status get no arguments. Other settings in the file are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil || u.Host == "" {
			return fmt.Errorf("not an absolute stream URL: %q", args[0])
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("unsupported scheme %q (use http, https, ws or wss)", u.Scheme)
		}

		err = updateConfig(func(cfg *Config) error {
			if err := setConfigValue(cfg, "default.url", u.String()); err != nil {
				return err
			}
			return setConfigValue(cfg, "default.format", initFormat)
		})
		if err != nil {
			return err
		}

		path, _ := configPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Stream URL saved to %s\n", path)
		return nil
	},
}
