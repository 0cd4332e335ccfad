package sseclient

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"
)

// ============================================================================
// Transport contract
// ============================================================================

// Transport opens streaming sources. A source that drops after opening
// reports the drop to its error hook, moves back to Connecting and reconnects
// according to OpenOptions.Reconnect. It closes once the attempts run out.
type Transport interface {
	// Open starts connecting in the background and returns immediately.
	// The hooks in opts are installed before any signal can fire, and must
	// not be invoked from within Open itself.
	Open(url string, opts OpenOptions) Source
}

// OpenOptions configures one Open call.
type OpenOptions struct {
	WithCredentials bool
	Headers         map[string]string
	HTTPClient      *http.Client
	Polyfill        PolyfillOptions
	Reconnect       ReconnectPolicy
	Logger          zerolog.Logger

	OnOpen  func()
	OnError func(error)
}

// Source is an open (or opening) streaming connection.
type Source interface {
	URL() string
	WithCredentials() bool
	ReadyState() ReadyState

	// OnOpen replaces the open hook.
	OnOpen(fn func())
	// OnError replaces the error hook. nil removes it.
	OnError(fn func(error))
	// ErrorHook returns the currently installed error hook, possibly nil.
	ErrorHook() func(error)

	AddEventListener(event string, l EventListener)
	RemoveEventListener(event string, l EventListener)

	// Close stops the source. It does not wait for the background goroutine
	// and is safe to call from a listener.
	Close() error
}

func selectTransport(cfg Config) Transport {
	if cfg.Transport != nil {
		return cfg.Transport
	}
	if u, err := url.Parse(cfg.URL); err == nil && (u.Scheme == "ws" || u.Scheme == "wss") {
		return WebSocketTransport{}
	}
	if cfg.ForcePolyfill {
		return PolyfillTransport{}
	}
	return NativeTransport{}
}

// ============================================================================
// eventTarget
// ============================================================================

// eventTarget implements the bookkeeping half of Source. Transports embed it
// and drive it from their background goroutine via setOpen, fail and
// dispatch.
type eventTarget struct {
	url             string
	withCredentials bool
	log             zerolog.Logger

	mu        sync.RWMutex
	state     ReadyState
	onOpen    func()
	onError   func(error)
	listeners map[string][]EventListener
	cancel    context.CancelFunc
}

// newEventTarget returns a target in the Connecting state and the context
// its background goroutine should run under.
func newEventTarget(rawURL string, opts OpenOptions) (*eventTarget, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventTarget{
		url:             rawURL,
		withCredentials: opts.WithCredentials,
		log:             opts.Logger,
		state:           Connecting,
		onOpen:          opts.OnOpen,
		onError:         opts.OnError,
		listeners:       make(map[string][]EventListener),
		cancel:          cancel,
	}, ctx
}

func (t *eventTarget) URL() string           { return t.url }
func (t *eventTarget) WithCredentials() bool { return t.withCredentials }

func (t *eventTarget) ReadyState() ReadyState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *eventTarget) OnOpen(fn func()) {
	t.mu.Lock()
	t.onOpen = fn
	t.mu.Unlock()
}

func (t *eventTarget) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

func (t *eventTarget) ErrorHook() func(error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.onError
}

func (t *eventTarget) AddEventListener(event string, l EventListener) {
	if l == nil {
		return
	}
	event = normalizeEvent(event)
	t.mu.Lock()
	t.listeners[event] = append(t.listeners[event], l)
	t.mu.Unlock()
}

func (t *eventTarget) RemoveEventListener(event string, l EventListener) {
	event = normalizeEvent(event)
	t.mu.Lock()
	defer t.mu.Unlock()
	ls := t.listeners[event]
	for i, x := range ls {
		if x == l {
			ls = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(t.listeners, event)
		return
	}
	t.listeners[event] = ls
}

func (t *eventTarget) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Closed {
		return nil
	}
	t.state = Closed
	t.cancel()
	t.log.Debug().Str("url", t.url).Msg("source closed")
	return nil
}

// setOpen moves Connecting to Open and runs the open hook. It runs again
// after every successful reconnect.
func (t *eventTarget) setOpen() {
	t.mu.Lock()
	if t.state != Connecting {
		t.mu.Unlock()
		return
	}
	t.state = Open
	fn := t.onOpen
	t.mu.Unlock()

	t.log.Debug().Str("url", t.url).Msg("source open")
	if fn != nil {
		fn()
	}
}

// fail reports err to the error hook and marks the source closed.
// Errors after a caller-initiated Close are dropped.
func (t *eventTarget) fail(err error) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.state = Closed
	t.cancel()
	fn := t.onError
	t.mu.Unlock()

	t.log.Debug().Err(err).Str("url", t.url).Msg("source failed")
	if fn != nil {
		fn(err)
	}
}

// reconnecting reports a dropped stream to the error hook and moves the
// source back to Connecting. Drops after Close are ignored.
func (t *eventTarget) reconnecting(err error) {
	t.mu.Lock()
	if t.state == Closed {
		t.mu.Unlock()
		return
	}
	t.state = Connecting
	fn := t.onError
	t.mu.Unlock()

	t.log.Debug().Err(err).Str("url", t.url).Msg("source reconnecting")
	if fn != nil {
		fn(err)
	}
}

func (t *eventTarget) dispatch(ev *MessageEvent) {
	ev.Type = normalizeEvent(ev.Type)
	if ev.Origin == "" {
		ev.Origin = t.url
	}

	t.mu.RLock()
	if t.state != Open {
		t.mu.RUnlock()
		return
	}
	ls := append([]EventListener(nil), t.listeners[ev.Type]...)
	t.mu.RUnlock()

	for _, l := range ls {
		l.HandleEvent(ev)
	}
}

func mergeHeaders(sets ...map[string]string) http.Header {
	h := make(http.Header)
	for _, set := range sets {
		for k, v := range set {
			h.Set(k, v)
		}
	}
	return h
}

// backOff builds the reconnect schedule for p. It stops when ctx is done.
func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	p = p.withDefaults()
	if p.MaxAttempts < 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()

	var b backoff.BackOff = exp
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxTries(exp, uint64(p.MaxAttempts))
	}
	return backoff.WithContext(b, ctx)
}
