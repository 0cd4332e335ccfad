// Package sseclient is a client-side adapter over Server-Sent-Events
// transports.
//
// A Client keeps a per-event registry of handlers, formats incoming messages
// and fans them out. The transport only ever sees one dispatcher per event
// name. A Manager applies shared defaults to new Clients and can track them
// for bulk teardown.
//
// Example:
//
//	manager := sseclient.NewManager(sseclient.WithFormat(sseclient.JSON))
//	client := manager.CreateURL("https://example.com/stream")
//
//	client.On("ping", func(data any, id string) {
//		fmt.Println(id, data)
//	})
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Disconnect()
package sseclient

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscription is one handler registration. It is the identity Off removes by.
type Subscription struct {
	event string
	fn    HandlerFunc
}

// Event returns the normalized event name the subscription is registered for.
func (s *Subscription) Event() string { return s.event }

// Client manages one logical subscription endpoint.
type Client struct {
	id              string
	url             string
	withCredentials bool
	format          Formatter
	headers         map[string]string
	polyfill        PolyfillOptions
	reconnect       ReconnectPolicy
	httpClient      *http.Client
	transport       Transport
	log             zerolog.Logger

	mu           sync.RWMutex
	source       Source
	opened       bool
	gen          uint64
	abort        chan struct{}
	errorHandler func(error)
	handlers     map[string][]*Subscription
	dispatchers  map[string]*dispatcher
}

// NewClient builds a Client from options applied over the built-in defaults.
// It opens no connection.
func NewClient(opts ...Option) *Client {
	return newClient(resolveConfig(opts))
}

func newClient(cfg Config) *Client {
	id := uuid.NewString()
	c := &Client{
		id:              id,
		url:             cfg.URL,
		withCredentials: cfg.WithCredentials,
		format:          cfg.Format.formatter(),
		headers:         cfg.Headers,
		polyfill:        cfg.PolyfillOptions,
		reconnect:       cfg.Reconnect.withDefaults(),
		httpClient:      cfg.httpClient(),
		transport:       selectTransport(cfg),
		log:             cfg.Logger.With().Str("client", id).Str("url", cfg.URL).Logger(),
		handlers:        make(map[string][]*Subscription),
		dispatchers:     make(map[string]*dispatcher),
	}
	for event, fn := range cfg.Handlers {
		c.On(event, fn)
	}
	return c
}

func (c *Client) ID() string            { return c.id }
func (c *Client) URL() string           { return c.url }
func (c *Client) WithCredentials() bool { return c.withCredentials }

// Source returns the current transport handle, or nil when disconnected.
func (c *Client) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Connect opens a new source and blocks until it signals open, it signals an
// error, or ctx is done. A previous source is closed first and a Connect still
// waiting on it returns ErrConnectAborted.
//
// An error signalled before open is returned unmodified and the source is
// released.
func (c *Client) Connect(ctx context.Context) error {
	if c.url == "" {
		return ErrNoURL
	}

	opened := make(chan struct{}, 1)
	failed := make(chan error, 1)

	c.mu.Lock()
	c.releaseLocked()
	c.gen++
	gen := c.gen
	abort := make(chan struct{})
	c.abort = abort
	c.source = c.transport.Open(c.url, OpenOptions{
		WithCredentials: c.withCredentials,
		Headers:         c.headers,
		HTTPClient:      c.httpClient,
		Polyfill:        c.polyfill,
		Reconnect:       c.reconnect,
		Logger:          c.log,
		OnOpen: func() {
			if c.activate(gen) {
				opened <- struct{}{}
			}
		},
		OnError: func(err error) {
			select {
			case failed <- err:
			default:
			}
		},
	})
	c.mu.Unlock()

	c.log.Debug().Msg("connecting")

	select {
	case <-opened:
		c.log.Debug().Msg("connected")
		return nil
	case err := <-failed:
		c.abandon(gen)
		c.log.Debug().Err(err).Msg("connect failed")
		return err
	case <-abort:
		return ErrConnectAborted
	case <-ctx.Done():
		c.abandon(gen)
		return ctx.Err()
	}
}

// activate runs on the transport goroutine when source generation gen opens.
// Listeners are attached before the transport reads any event. A source that
// reopens after a reconnect keeps its listeners and is not activated again.
func (c *Client) activate(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.source == nil || c.opened {
		return false
	}
	c.opened = true
	c.abort = nil
	for event, d := range c.dispatchers {
		c.source.AddEventListener(event, d)
	}
	c.source.OnError(c.reportError)
	return true
}

func (c *Client) abandon(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	if c.source != nil {
		c.source.Close()
		c.source = nil
	}
	c.opened = false
	c.abort = nil
}

// Disconnect closes the current source. Calling it when disconnected is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return
	}
	c.releaseLocked()
	c.log.Debug().Msg("disconnected")
}

func (c *Client) releaseLocked() {
	if c.abort != nil {
		close(c.abort)
		c.abort = nil
	}
	if c.source != nil {
		c.source.Close()
		c.source = nil
	}
	c.opened = false
}

// OnError sets the hook that receives transport errors and formatter
// failures once the client is connected. nil removes it.
func (c *Client) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorHandler = fn
}

func (c *Client) reportError(err error) {
	c.mu.RLock()
	fn := c.errorHandler
	c.mu.RUnlock()
	if fn == nil {
		c.log.Debug().Err(err).Msg("error dropped, no error hook installed")
		return
	}
	fn(err)
}

// ============================================================================
// Registry
// ============================================================================

// On registers fn for event. An empty event name means unnamed messages.
// The same function may be registered more than once; each registration is
// its own Subscription. A nil fn registers nothing and returns nil.
func (c *Client) On(event string, fn HandlerFunc) *Subscription {
	if fn == nil {
		return nil
	}
	sub := &Subscription{event: normalizeEvent(event), fn: fn}
	c.add(sub)
	return sub
}

// Once registers fn to run for the first matching event only.
func (c *Client) Once(event string, fn HandlerFunc) *Subscription {
	if fn == nil {
		return nil
	}
	var fired atomic.Bool
	sub := &Subscription{event: normalizeEvent(event)}
	sub.fn = func(data any, lastEventID string) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		c.Off(sub)
		fn(data, lastEventID)
	}
	c.add(sub)
	return sub
}

func (c *Client) add(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.dispatchers[sub.event]; !ok {
		d := &dispatcher{client: c, event: sub.event}
		c.dispatchers[sub.event] = d
		if c.opened && c.source != nil {
			c.source.AddEventListener(sub.event, d)
		}
	}
	c.handlers[sub.event] = append(c.handlers[sub.event], sub)
}

// Off removes sub. Unknown or nil subscriptions are ignored. Removing the last
// subscription for an event detaches its dispatcher from the source.
func (c *Client) Off(sub *Subscription) {
	if sub == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.handlers[sub.event]
	idx := slices.Index(subs, sub)
	if idx == -1 {
		return
	}
	subs = slices.Delete(slices.Clone(subs), idx, idx+1)
	if len(subs) > 0 {
		c.handlers[sub.event] = subs
		return
	}

	if d, ok := c.dispatchers[sub.event]; ok && c.source != nil {
		c.source.RemoveEventListener(sub.event, d)
	}
	delete(c.handlers, sub.event)
	delete(c.dispatchers, sub.event)
}

func (c *Client) subscribers(event string) []*Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.handlers[event])
}

// dispatcher is the single listener attached to the source for one event.
type dispatcher struct {
	client *Client
	event  string
}

func (d *dispatcher) HandleEvent(ev *MessageEvent) {
	c := d.client
	data, err := c.format(ev)
	if err != nil {
		c.log.Debug().Err(err).Str("event", d.event).Msg("message not dispatched")
		if src := c.Source(); src != nil {
			if hook := src.ErrorHook(); hook != nil {
				hook(err)
			}
		}
		return
	}
	for _, sub := range c.subscribers(d.event) {
		sub.fn(data, ev.LastEventID)
	}
}
