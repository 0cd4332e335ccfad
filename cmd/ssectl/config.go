package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ssectl configuration",
	Long:  "View or modify the stream defaults stored in ~/.ssectl/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration file and check it",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration file found. Run 'ssectl init <url>' to create one.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("cannot read config file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, data)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.validate(); err != nil {
			return fmt.Errorf("config needs fixing: %w", err)
		}
		return nil
	},
}

// updateConfig loads the config, applies fn and saves the result.
func updateConfig(fn func(*Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value using section.field notation.

Examples:
  ssectl config set default.format json
  ssectl config set reconnect.max_attempts 5
  ssectl config set headers.Authorization "Bearer abc"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		err := updateConfig(func(cfg *Config) error {
			return setConfigValue(cfg, key, value)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateConfig(func(cfg *Config) error {
			return unsetConfigValue(cfg, args[0])
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", args[0])
		return nil
	},
}
