package sseclient

import (
	"testing"
)

func TestManagerCreate(t *testing.T) {
	t.Run("inherits manager config", func(t *testing.T) {
		m := NewManager(WithURL("foo.local"), WithCredentials(true))
		client := m.Create()

		if client.URL() != "foo.local" {
			t.Fatalf("expected url foo.local, got %s", client.URL())
		}
		if !client.WithCredentials() {
			t.Fatal("expected withCredentials true")
		}
	})

	t.Run("overrides manager config", func(t *testing.T) {
		m := NewManager(WithURL("foo.local"), WithCredentials(true))
		client := m.Create(WithURL("bar.local"), WithCredentials(false))

		if client.URL() != "bar.local" {
			t.Fatalf("expected url bar.local, got %s", client.URL())
		}
		if client.WithCredentials() {
			t.Fatal("expected withCredentials false")
		}
	})

	t.Run("from url string", func(t *testing.T) {
		m := NewManager()
		client := m.CreateURL("foo.local")

		if client.URL() != "foo.local" {
			t.Fatalf("expected url foo.local, got %s", client.URL())
		}
	})

	t.Run("built-in defaults", func(t *testing.T) {
		cfg := NewManager().Defaults()
		if cfg.Format.String() != "plain" {
			t.Fatalf("expected plain format, got %s", cfg.Format)
		}
		if cfg.WithCredentials {
			t.Fatal("expected no credentials by default")
		}
	})

	t.Run("per-create handlers do not leak into defaults", func(t *testing.T) {
		rec := &recorder{}
		m := NewManager(WithHandler("a", rec.handler("a")))
		withB := m.Create(WithHandler("b", rec.handler("b")))
		plain := m.Create()

		if len(withB.dispatchers) != 2 {
			t.Fatalf("expected 2 dispatchers, got %d", len(withB.dispatchers))
		}
		if len(plain.dispatchers) != 1 {
			t.Fatalf("expected defaults untouched, got %d dispatchers", len(plain.dispatchers))
		}
		if len(m.Defaults().Handlers) != 1 {
			t.Fatal("expected one default handler")
		}
	})
}

func TestManagerTracking(t *testing.T) {
	t.Run("not tracking", func(t *testing.T) {
		m := NewManager()
		m.Create()
		m.CreateURL("foo.local")

		if m.Tracking() {
			t.Fatal("expected plain manager not to track")
		}
		if m.Clients() != nil {
			t.Fatal("expected nil client collection")
		}
		m.DisconnectAll()
		if m.Clients() != nil {
			t.Fatal("expected DisconnectAll to leave collection nil")
		}
	})

	t.Run("bulk disconnect", func(t *testing.T) {
		ft := newFakeTransport()
		m := NewTrackingManager(WithTransport(ft))
		a := m.CreateURL("http://a.local/stream")
		b := m.CreateURL("http://b.local/stream")
		if got := len(m.Clients()); got != 2 {
			t.Fatalf("expected 2 tracked clients, got %d", got)
		}

		srcA := connectFake(t, a, ft)
		srcB := connectFake(t, b, ft)

		m.DisconnectAll()
		clients := m.Clients()
		if clients == nil || len(clients) != 0 {
			t.Fatalf("expected empty non-nil collection, got %#v", clients)
		}
		if a.Source() != nil || b.Source() != nil {
			t.Fatal("expected both clients disconnected")
		}
		if srcA.ReadyState() != Closed || srcB.ReadyState() != Closed {
			t.Fatal("expected both sources closed")
		}

		m.Create()
		if len(m.Clients()) != 1 {
			t.Fatal("expected manager to keep tracking after DisconnectAll")
		}
	})
}

func TestScope(t *testing.T) {
	ft := newFakeTransport()
	root := NewManager(WithURL("http://root.local/stream"), WithTransport(ft), WithFormat(JSON))
	scope := root.NewScope(WithCredentials(true))

	client := scope.Create()
	if client.URL() != "http://root.local/stream" {
		t.Fatalf("expected root url, got %s", client.URL())
	}
	if !client.WithCredentials() {
		t.Fatal("expected scope option applied")
	}
	if root.Tracking() {
		t.Fatal("scope must not turn the parent into a tracking manager")
	}

	other := scope.CreateURL("http://other.local/stream")
	connectFake(t, client, ft)
	connectFake(t, other, ft)

	scope.Teardown()
	if client.Source() != nil || other.Source() != nil {
		t.Fatal("expected scoped clients disconnected")
	}
	if got := scope.Clients(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty scope, got %#v", got)
	}
}
