package sseclient

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"
)

// ============================================================================
// Configuration
// ============================================================================

// Config is the resolved configuration a Client is constructed from.
type Config struct {
	URL             string
	WithCredentials bool
	Format          Format
	Handlers        map[string]HandlerFunc

	// ForcePolyfill selects PolyfillTransport instead of NativeTransport.
	ForcePolyfill   bool
	PolyfillOptions PolyfillOptions

	// Reconnect controls how a dropped stream is re-established.
	Reconnect ReconnectPolicy

	Headers    map[string]string
	HTTPClient *http.Client
	// Transport overrides transport selection entirely.
	Transport Transport
	Logger    zerolog.Logger
}

// PolyfillOptions are passed through to PolyfillTransport.
type PolyfillOptions struct {
	// Headers are sent in addition to Config.Headers.
	Headers map[string]string
	// MaxBufferSize bounds a single event; 0 keeps the library default.
	MaxBufferSize int
	// EncodingBase64 decodes base64 event payloads.
	EncodingBase64 bool
}

// ReconnectPolicy controls transport reconnection after a stream drops.
// Each drop is reported to the error hook and the source stays alive until
// the attempts run out.
type ReconnectPolicy struct {
	// BaseDelay is the first wait, grown exponentially with jitter.
	BaseDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// MaxAttempts bounds consecutive failed attempts. 0 retries forever and a
	// negative value disables reconnection.
	MaxAttempts int
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Option mutates a Config. Later options win.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Format:          PlainText,
		WithCredentials: false,
		Logger:          zerolog.Nop(),
	}
}

func resolveConfig(opts []Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

func WithCredentials(enabled bool) Option {
	return func(c *Config) { c.WithCredentials = enabled }
}

func WithFormat(f Format) Option {
	return func(c *Config) { c.Format = f }
}

// WithHandlers replaces the initial handler map.
func WithHandlers(handlers map[string]HandlerFunc) Option {
	return func(c *Config) { c.Handlers = handlers }
}

// WithHandler adds one initial handler without touching maps shared with
// other configs.
func WithHandler(event string, fn HandlerFunc) Option {
	return func(c *Config) {
		handlers := make(map[string]HandlerFunc, len(c.Handlers)+1)
		for k, v := range c.Handlers {
			handlers[k] = v
		}
		handlers[event] = fn
		c.Handlers = handlers
	}
}

func WithPolyfill(force bool) Option {
	return func(c *Config) { c.ForcePolyfill = force }
}

func WithPolyfillOptions(opts PolyfillOptions) Option {
	return func(c *Config) { c.PolyfillOptions = opts }
}

// WithHeader adds a request header sent by every transport.
func WithHeader(key, value string) Option {
	return func(c *Config) {
		headers := make(map[string]string, len(c.Headers)+1)
		for k, v := range c.Headers {
			headers[k] = v
		}
		headers[key] = value
		c.Headers = headers
	}
}

// WithReconnect sets the reconnection policy. The zero policy retries forever
// starting at 500ms and capped at 30s.
func WithReconnect(policy ReconnectPolicy) Option {
	return func(c *Config) { c.Reconnect = policy }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

func WithTransport(t Transport) Option {
	return func(c *Config) { c.Transport = t }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// httpClient derives the client used by the transport. With credentials the
// client carries a cookie jar, without them any jar is stripped.
func (c Config) httpClient() *http.Client {
	hc := &http.Client{}
	if c.HTTPClient != nil {
		copied := *c.HTTPClient
		hc = &copied
	}
	if !c.WithCredentials {
		hc.Jar = nil
		return hc
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			c.Logger.Warn().Err(err).Msg("cookie jar unavailable, credentials will not persist")
			return hc
		}
		hc.Jar = jar
	}
	return hc
}
