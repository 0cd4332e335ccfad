package sseclient

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// fakeTransport hands every opened source to the test, which then drives it
// with setOpen, fail and dispatch.
type fakeTransport struct {
	opened chan *fakeSource
}

type fakeSource struct {
	*eventTarget
	opts OpenOptions
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{opened: make(chan *fakeSource, 8)}
}

func (f *fakeTransport) Open(url string, opts OpenOptions) Source {
	target, _ := newEventTarget(url, opts)
	s := &fakeSource{eventTarget: target, opts: opts}
	f.opened <- s
	return s
}

func (f *fakeTransport) next(t *testing.T) *fakeSource {
	t.Helper()
	select {
	case s := <-f.opened:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("transport was never opened")
		return nil
	}
}

func (s *fakeSource) listenerCount(event string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[event])
}

func startConnect(c *Client) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background()) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return")
		return nil
	}
}

func connectFake(t *testing.T, c *Client, ft *fakeTransport) *fakeSource {
	t.Helper()
	errc := startConnect(c)
	src := ft.next(t)
	src.setOpen()
	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return src
}

func newFakeClient(ft *fakeTransport, opts ...Option) *Client {
	base := []Option{WithURL("http://stream.local/events"), WithTransport(ft)}
	return NewClient(append(base, opts...)...)
}

type recorder struct {
	mu    sync.Mutex
	data  []any
	ids   []string
	label []string
}

func (r *recorder) handler(label string) HandlerFunc {
	return func(data any, lastEventID string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.data = append(r.data, data)
		r.ids = append(r.ids, lastEventID)
		r.label = append(r.label, label)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ============================================================================
// Construction
// ============================================================================

func TestNewClient(t *testing.T) {
	t.Run("stores url and credentials", func(t *testing.T) {
		c := NewClient(WithURL("foo.local"), WithCredentials(true))
		if c.URL() != "foo.local" {
			t.Fatalf("expected url foo.local, got %s", c.URL())
		}
		if !c.WithCredentials() {
			t.Fatal("expected withCredentials true")
		}
		if c.Source() != nil {
			t.Fatal("expected no source before Connect")
		}
		if c.ID() == "" {
			t.Fatal("expected a client id")
		}
	})

	t.Run("initial handlers go through On", func(t *testing.T) {
		rec := &recorder{}
		c := NewClient(WithHandlers(map[string]HandlerFunc{
			"":     rec.handler("unnamed"),
			"ping": rec.handler("ping"),
		}))
		if len(c.dispatchers) != 2 {
			t.Fatalf("expected 2 dispatchers, got %d", len(c.dispatchers))
		}
		if len(c.handlers[DefaultEvent]) != 1 {
			t.Fatal("expected unnamed handler under the default event")
		}
	})

	t.Run("transport selection", func(t *testing.T) {
		cases := []struct {
			opts []Option
			want Transport
		}{
			{[]Option{WithURL("http://a/b")}, NativeTransport{}},
			{[]Option{WithURL("http://a/b"), WithPolyfill(true)}, PolyfillTransport{}},
			{[]Option{WithURL("ws://a/b")}, WebSocketTransport{}},
			{[]Option{WithURL("wss://a/b"), WithPolyfill(true)}, WebSocketTransport{}},
		}
		for _, tc := range cases {
			got := NewClient(tc.opts...).transport
			if reflect.TypeOf(got) != reflect.TypeOf(tc.want) {
				t.Errorf("expected %T, got %T", tc.want, got)
			}
		}
	})
}

// ============================================================================
// Connect / Disconnect
// ============================================================================

func TestClientConnect(t *testing.T) {
	t.Run("opens with stored url and credentials", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft, WithCredentials(true))
		src := connectFake(t, c, ft)

		if src.URL() != "http://stream.local/events" {
			t.Fatalf("unexpected source url %s", src.URL())
		}
		if !src.WithCredentials() || src.opts.HTTPClient.Jar == nil {
			t.Fatal("expected credentials and a cookie jar")
		}
		if c.Source() != Source(src) {
			t.Fatal("expected client to expose the opened source")
		}
	})

	t.Run("error before open is returned unmodified", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		errc := startConnect(c)
		src := ft.next(t)

		want := errors.New("boom")
		src.fail(want)
		if err := waitErr(t, errc); err != want {
			t.Fatalf("expected %v, got %v", want, err)
		}
		if c.Source() != nil {
			t.Fatal("expected source released after failed connect")
		}
	})

	t.Run("context cancel", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- c.Connect(ctx) }()
		src := ft.next(t)
		cancel()

		if err := waitErr(t, errc); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if src.ReadyState() != Closed {
			t.Fatalf("expected source closed, got %s", src.ReadyState())
		}
	})

	t.Run("disconnect while pending aborts", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		errc := startConnect(c)
		src := ft.next(t)

		c.Disconnect()
		if err := waitErr(t, errc); !errors.Is(err, ErrConnectAborted) {
			t.Fatalf("expected ErrConnectAborted, got %v", err)
		}
		src.setOpen()
		if src.ReadyState() != Closed {
			t.Fatal("expected abandoned source to stay closed")
		}
	})

	t.Run("second connect replaces the first", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		first := startConnect(c)
		firstSrc := ft.next(t)

		second := startConnect(c)
		secondSrc := ft.next(t)
		if err := waitErr(t, first); !errors.Is(err, ErrConnectAborted) {
			t.Fatalf("expected first connect aborted, got %v", err)
		}
		if firstSrc.ReadyState() != Closed {
			t.Fatal("expected first source closed")
		}

		secondSrc.setOpen()
		if err := waitErr(t, second); err != nil {
			t.Fatalf("second connect: %v", err)
		}
		if c.Source() != Source(secondSrc) {
			t.Fatal("expected second source to be current")
		}
	})

	t.Run("no url", func(t *testing.T) {
		c := NewClient(WithTransport(newFakeTransport()))
		if err := c.Connect(context.Background()); !errors.Is(err, ErrNoURL) {
			t.Fatalf("expected ErrNoURL, got %v", err)
		}
	})
}

func TestClientDisconnect(t *testing.T) {
	ft := newFakeTransport()
	c := newFakeClient(ft)
	src := connectFake(t, c, ft)

	c.Disconnect()
	if c.Source() != nil {
		t.Fatal("expected nil source after Disconnect")
	}
	if src.ReadyState() != Closed {
		t.Fatalf("expected closed source, got %s", src.ReadyState())
	}

	// second call is a no-op
	c.Disconnect()

	// reconnect gets a fresh handle
	again := connectFake(t, c, ft)
	if again == src {
		t.Fatal("expected a new source on reconnect")
	}
}

// ============================================================================
// Dispatch
// ============================================================================

func TestClientDispatch(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft, WithFormat(ParseFormat("plain")), WithHandler("message", rec.handler("msg")))
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Type: "message", Data: "a short message", LastEventID: "7"})
		if rec.count() != 1 || rec.data[0] != "a short message" || rec.ids[0] != "7" {
			t.Fatalf("unexpected dispatch: %+v %+v", rec.data, rec.ids)
		}
	})

	t.Run("json", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft, WithFormat(JSON))
		c.On("", rec.handler("msg"))
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Data: `{"pi":3.14}`})
		if rec.count() != 1 {
			t.Fatalf("expected 1 dispatch, got %d", rec.count())
		}
		if !reflect.DeepEqual(rec.data[0], map[string]any{"pi": 3.14}) {
			t.Fatalf("unexpected payload %#v", rec.data[0])
		}
	})

	t.Run("malformed json goes to the error hook", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		var hookErrs []error
		c := newFakeClient(ft, WithFormat(JSON))
		c.On("", rec.handler("msg"))
		c.OnError(func(err error) { hookErrs = append(hookErrs, err) })
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Data: `{"pi":`})
		if rec.count() != 0 {
			t.Fatal("expected no dispatch for malformed payload")
		}
		if len(hookErrs) != 1 {
			t.Fatalf("expected 1 hook error, got %d", len(hookErrs))
		}
		var fe *FormatError
		if !errors.As(hookErrs[0], &fe) || fe.Event != DefaultEvent {
			t.Fatalf("expected FormatError for %q, got %v", DefaultEvent, hookErrs[0])
		}
		if fe.Origin != c.URL() {
			t.Fatalf("expected origin %s, got %q", c.URL(), fe.Origin)
		}
	})

	t.Run("malformed json without a hook is dropped", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft, WithFormat(JSON))
		c.On("", rec.handler("msg"))
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Data: "nope"})
		if rec.count() != 0 {
			t.Fatal("expected no dispatch")
		}
	})

	t.Run("custom event and custom formatter", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		upper := Custom(func(ev *MessageEvent) (any, error) { return ev.Type + ":" + ev.Data, nil })
		c := newFakeClient(ft, WithFormat(upper), WithHandler("ping", rec.handler("ping")))
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Type: "pong", Data: "ignored"})
		src.dispatch(&MessageEvent{Type: "ping", Data: "ok!"})
		if rec.count() != 1 || rec.data[0] != "ping:ok!" {
			t.Fatalf("unexpected dispatch: %+v", rec.data)
		}
	})

	t.Run("registration order", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft)
		c.On("tick", rec.handler("a"))
		c.On("tick", rec.handler("b"))
		c.On("tick", rec.handler("c"))
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Type: "tick", Data: "1"})
		if !reflect.DeepEqual(rec.label, []string{"a", "b", "c"}) {
			t.Fatalf("unexpected order %v", rec.label)
		}
	})

	t.Run("post-open transport errors reach the hook", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		var got error
		c.OnError(func(err error) { got = err })
		src := connectFake(t, c, ft)

		want := errors.New("stream dropped")
		src.fail(want)
		if got != want {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("reconnect keeps listeners attached once", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft)
		c.On("tick", rec.handler("a"))
		var drops []error
		c.OnError(func(err error) { drops = append(drops, err) })
		src := connectFake(t, c, ft)

		src.reconnecting(errors.New("connection reset"))
		if len(drops) != 1 {
			t.Fatalf("expected the drop to reach the hook, got %v", drops)
		}
		if src.ReadyState() != Connecting {
			t.Fatalf("expected connecting while reconnecting, got %s", src.ReadyState())
		}
		src.dispatch(&MessageEvent{Type: "tick", Data: "lost"})

		src.setOpen()
		if n := src.listenerCount("tick"); n != 1 {
			t.Fatalf("expected 1 listener after reopen, got %d", n)
		}
		src.dispatch(&MessageEvent{Type: "tick", Data: "2"})
		if rec.count() != 1 || rec.data[0] != "2" {
			t.Fatalf("expected one delivery after reopen, got %v", rec.data)
		}
		if c.Source() != src {
			t.Fatal("expected the client to keep its source across a reconnect")
		}
	})
}

// ============================================================================
// Registry
// ============================================================================

func TestClientOnOff(t *testing.T) {
	t.Run("dispatcher removed only with the last handler", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft)
		src := connectFake(t, c, ft)

		a := c.On("update", rec.handler("a"))
		b := c.On("update", rec.handler("b"))
		if src.listenerCount("update") != 1 {
			t.Fatalf("expected one dispatcher attached, got %d", src.listenerCount("update"))
		}

		c.Off(a)
		if _, ok := c.dispatchers["update"]; !ok {
			t.Fatal("dispatcher removed while a handler remains")
		}
		if src.listenerCount("update") != 1 {
			t.Fatal("dispatcher detached while a handler remains")
		}

		c.Off(b)
		if _, ok := c.dispatchers["update"]; ok {
			t.Fatal("expected dispatcher removed")
		}
		if _, ok := c.handlers["update"]; ok {
			t.Fatal("expected handler list removed")
		}
		if src.listenerCount("update") != 0 {
			t.Fatal("expected dispatcher detached from source")
		}
	})

	t.Run("unknown and repeated off are no-ops", func(t *testing.T) {
		c := newFakeClient(newFakeTransport())
		rec := &recorder{}
		sub := c.On("a", rec.handler("a"))

		c.Off(nil)
		c.Off(&Subscription{event: "a"})
		c.Off(&Subscription{event: "missing"})
		if len(c.handlers["a"]) != 1 {
			t.Fatal("expected registration untouched")
		}

		c.Off(sub)
		c.Off(sub)
		if len(c.handlers) != 0 || len(c.dispatchers) != 0 {
			t.Fatal("expected empty registry")
		}
	})

	t.Run("off before connect", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		sub := c.On("a", (&recorder{}).handler("a"))
		c.Off(sub)

		src := connectFake(t, c, ft)
		if src.listenerCount("a") != 0 {
			t.Fatal("expected nothing attached")
		}
	})

	t.Run("unnamed events share one dispatcher", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		c := newFakeClient(ft)
		c.On("", rec.handler("a"))
		c.On(DefaultEvent, rec.handler("b"))
		if len(c.dispatchers) != 1 || len(c.handlers[DefaultEvent]) != 2 {
			t.Fatalf("expected one dispatcher with two handlers, got %d/%d",
				len(c.dispatchers), len(c.handlers[DefaultEvent]))
		}

		src := connectFake(t, c, ft)
		src.dispatch(&MessageEvent{Data: "hi"})
		if rec.count() != 2 {
			t.Fatalf("expected 2 calls, got %d", rec.count())
		}
	})

	t.Run("same function twice", func(t *testing.T) {
		ft := newFakeTransport()
		rec := &recorder{}
		fn := rec.handler("dup")
		c := newFakeClient(ft)
		first := c.On("x", fn)
		c.On("x", fn)
		src := connectFake(t, c, ft)

		src.dispatch(&MessageEvent{Type: "x", Data: "1"})
		c.Off(first)
		src.dispatch(&MessageEvent{Type: "x", Data: "2"})
		if rec.count() != 3 {
			t.Fatalf("expected 3 calls, got %d", rec.count())
		}
	})

	t.Run("deferred and immediate attach", func(t *testing.T) {
		ft := newFakeTransport()
		c := newFakeClient(ft)
		c.On("early", (&recorder{}).handler("early"))

		errc := startConnect(c)
		src := ft.next(t)
		if src.listenerCount("early") != 0 {
			t.Fatal("expected no listener before open")
		}
		src.setOpen()
		if err := waitErr(t, errc); err != nil {
			t.Fatal(err)
		}
		if src.listenerCount("early") != 1 {
			t.Fatal("expected listener attached on open")
		}

		c.On("late", (&recorder{}).handler("late"))
		if src.listenerCount("late") != 1 {
			t.Fatal("expected immediate attach while open")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		c := newFakeClient(newFakeTransport())
		if c.On("a", nil) != nil || c.Once("a", nil) != nil {
			t.Fatal("expected nil subscription")
		}
		if len(c.dispatchers) != 0 {
			t.Fatal("expected nothing registered")
		}
	})
}

func TestClientOnce(t *testing.T) {
	ft := newFakeTransport()
	once := &recorder{}
	always := &recorder{}
	c := newFakeClient(ft)
	sub := c.Once("tick", once.handler("once"))
	c.On("tick", always.handler("always"))
	src := connectFake(t, c, ft)

	src.dispatch(&MessageEvent{Type: "tick", Data: "1"})
	src.dispatch(&MessageEvent{Type: "tick", Data: "2"})

	if once.count() != 1 || once.data[0] != "1" {
		t.Fatalf("expected exactly one call with the first payload, got %+v", once.data)
	}
	if always.count() != 2 {
		t.Fatalf("expected 2 calls on the regular handler, got %d", always.count())
	}
	if sub.Event() != "tick" || len(c.handlers["tick"]) != 1 {
		t.Fatal("expected once subscription removed")
	}
}

func TestClientDisconnectFromHandler(t *testing.T) {
	ft := newFakeTransport()
	c := newFakeClient(ft)
	rec := &recorder{}
	c.On("", func(data any, id string) {
		rec.handler("msg")(data, id)
		c.Disconnect()
	})
	src := connectFake(t, c, ft)

	src.dispatch(&MessageEvent{Data: "one"})
	src.dispatch(&MessageEvent{Data: "two"})
	if rec.count() != 1 {
		t.Fatalf("expected delivery to stop after Disconnect, got %d", rec.count())
	}
}
