package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.ssectl/config.toml.
type Config struct {
	Default   ConfigDefault     `toml:"default"`
	Polyfill  ConfigPolyfill    `toml:"polyfill"`
	Reconnect ConfigReconnect   `toml:"reconnect"`
	Headers   map[string]string `toml:"headers"`
}

// ConfigDefault holds the defaults applied to every stream client.
type ConfigDefault struct {
	URL             string `toml:"url"`
	WithCredentials bool   `toml:"with_credentials"`
	Format          string `toml:"format"`
}

// ConfigPolyfill selects and tunes the alternate transport.
type ConfigPolyfill struct {
	Force          bool `toml:"force"`
	MaxBufferSize  int  `toml:"max_buffer_size"`
	EncodingBase64 bool `toml:"encoding_base64"`
}

// ConfigReconnect tunes reconnection after a stream drops. Delays use Go
// duration syntax ("500ms", "30s").
type ConfigReconnect struct {
	BaseDelay   string `toml:"base_delay,omitempty"`
	MaxDelay    string `toml:"max_delay,omitempty"`
	MaxAttempts int    `toml:"max_attempts"`
}

// ============================================================================
// Config helpers
// ============================================================================

// configDir returns the path to ~/.ssectl, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ssectl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk as TOML.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "url":
			cfg.Default.URL = value
		case "with_credentials":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("with_credentials must be true or false: %w", err)
			}
			cfg.Default.WithCredentials = b
		case "format":
			if value != "plain" && value != "json" {
				return fmt.Errorf("format must be plain or json, got %q", value)
			}
			cfg.Default.Format = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "polyfill":
		switch field {
		case "force":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("force must be true or false: %w", err)
			}
			cfg.Polyfill.Force = b
		case "max_buffer_size":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("max_buffer_size must be a non-negative integer")
			}
			cfg.Polyfill.MaxBufferSize = n
		case "encoding_base64":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("encoding_base64 must be true or false: %w", err)
			}
			cfg.Polyfill.EncodingBase64 = b
		default:
			return fmt.Errorf("unknown field %q in section [polyfill]", field)
		}
	case "reconnect":
		switch field {
		case "base_delay", "max_delay":
			if value != "" {
				if _, err := time.ParseDuration(value); err != nil {
					return fmt.Errorf("%s must be a duration such as 500ms or 30s: %w", field, err)
				}
			}
			if field == "base_delay" {
				cfg.Reconnect.BaseDelay = value
			} else {
				cfg.Reconnect.MaxDelay = value
			}
		case "max_attempts":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("max_attempts must be an integer (0 = forever, -1 = never): %w", err)
			}
			cfg.Reconnect.MaxAttempts = n
		default:
			return fmt.Errorf("unknown field %q in section [reconnect]", field)
		}
	case "headers":
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		if value == "" {
			delete(cfg.Headers, field)
		} else {
			cfg.Headers[field] = value
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, polyfill, reconnect, headers)", section)
	}
	return nil
}

// unsetConfigValue resets a field to its zero value. Unsetting a header
// removes it.
func unsetConfigValue(cfg *Config, key string) error {
	section, field, _ := strings.Cut(key, ".")
	switch section {
	case "default":
		switch field {
		case "url":
			return setConfigValue(cfg, key, "")
		case "format":
			return setConfigValue(cfg, key, "plain")
		case "with_credentials":
			return setConfigValue(cfg, key, "false")
		}
	case "polyfill":
		switch field {
		case "force", "encoding_base64":
			return setConfigValue(cfg, key, "false")
		case "max_buffer_size":
			return setConfigValue(cfg, key, "0")
		}
	case "reconnect":
		switch field {
		case "base_delay", "max_delay":
			return setConfigValue(cfg, key, "")
		case "max_attempts":
			return setConfigValue(cfg, key, "0")
		}
	case "headers":
		if field != "" {
			return setConfigValue(cfg, key, "")
		}
	}
	return fmt.Errorf("unknown config key %q", key)
}

// validate checks values that may have been edited by hand.
func (c *Config) validate() error {
	if f := c.Default.Format; f != "" && f != "plain" && f != "json" {
		return fmt.Errorf("default.format must be plain or json, got %q", f)
	}
	if c.Polyfill.MaxBufferSize < 0 {
		return fmt.Errorf("polyfill.max_buffer_size must not be negative")
	}
	if _, err := c.Reconnect.policy(); err != nil {
		return err
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var (
	configFile string
	debug      bool
	logger     = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel)
)

var rootCmd = &cobra.Command{
	Use:   "ssectl",
	Short: "Server-Sent-Events client CLI",
	Long:  "Command-line interface for sseclient.\nManage stream defaults, listen to event streams, and probe endpoints.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			logger = logger.Level(zerolog.DebugLevel)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.ssectl/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
