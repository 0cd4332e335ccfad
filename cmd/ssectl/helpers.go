package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/tserkov/sseclient"
)

// policy converts the [reconnect] section into a client policy.
func (r ConfigReconnect) policy() (sseclient.ReconnectPolicy, error) {
	p := sseclient.ReconnectPolicy{MaxAttempts: r.MaxAttempts}
	var err error
	if r.BaseDelay != "" {
		if p.BaseDelay, err = time.ParseDuration(r.BaseDelay); err != nil {
			return p, fmt.Errorf("reconnect.base_delay: %w", err)
		}
	}
	if r.MaxDelay != "" {
		if p.MaxDelay, err = time.ParseDuration(r.MaxDelay); err != nil {
			return p, fmt.Errorf("reconnect.max_delay: %w", err)
		}
	}
	return p, nil
}

// managerOptions turns the stored configuration into manager defaults.
func managerOptions(cfg *Config) ([]sseclient.Option, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	policy, err := cfg.Reconnect.policy()
	if err != nil {
		return nil, err
	}

	opts := []sseclient.Option{
		sseclient.WithReconnect(policy),
		sseclient.WithLogger(logger),
		sseclient.WithCredentials(cfg.Default.WithCredentials),
		sseclient.WithFormat(sseclient.ParseFormat(cfg.Default.Format)),
		sseclient.WithPolyfill(cfg.Polyfill.Force),
		sseclient.WithPolyfillOptions(sseclient.PolyfillOptions{
			MaxBufferSize:  cfg.Polyfill.MaxBufferSize,
			EncodingBase64: cfg.Polyfill.EncodingBase64,
		}),
	}
	if cfg.Default.URL != "" {
		opts = append(opts, sseclient.WithURL(cfg.Default.URL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, sseclient.WithHeader(k, v))
	}
	return opts, nil
}

// parseHeaders parses repeated "Key: Value" flags.
func parseHeaders(raw []string) ([]sseclient.Option, error) {
	var opts []sseclient.Option
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q (expected \"Key: Value\")", h)
		}
		opts = append(opts, sseclient.WithHeader(strings.TrimSpace(k), strings.TrimSpace(v)))
	}
	return opts, nil
}

// streamURLs returns the positional URLs, or the configured default.
func streamURLs(cfg *Config, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if cfg.Default.URL == "" {
		return nil, fmt.Errorf("no stream URL given. Pass one or run 'ssectl init <url>'")
	}
	return []string{cfg.Default.URL}, nil
}

func describeReconnect(r ConfigReconnect) string {
	switch {
	case r.MaxAttempts < 0:
		return "disabled"
	case r.MaxAttempts == 0:
		return fmt.Sprintf("forever (base %s, max %s)", valueOrDefault(r.BaseDelay, "500ms"), valueOrDefault(r.MaxDelay, "30s"))
	default:
		return fmt.Sprintf("%d attempts (base %s, max %s)", r.MaxAttempts, valueOrDefault(r.BaseDelay, "500ms"), valueOrDefault(r.MaxDelay, "30s"))
	}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// newManager builds the manager every command creates its clients from.
func newManager(cfg *Config) (*sseclient.Manager, error) {
	opts, err := managerOptions(cfg)
	if err != nil {
		return nil, err
	}
	return sseclient.NewManager(opts...), nil
}
