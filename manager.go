package sseclient

import (
	"slices"
	"sync"
)

// Manager applies shared defaults to the Clients it creates. A tracking
// Manager also remembers them for DisconnectAll.
type Manager struct {
	defaults []Option

	mu      sync.Mutex
	clients []*Client // nil unless tracking
}

// NewManager returns a Manager whose defaults are the built-in ones (plain
// text, no credentials) overridden by opts.
func NewManager(opts ...Option) *Manager {
	return &Manager{defaults: slices.Clone(opts)}
}

// NewTrackingManager is NewManager in tracking mode.
func NewTrackingManager(opts ...Option) *Manager {
	m := NewManager(opts...)
	m.clients = []*Client{}
	return m
}

// Defaults returns the configuration a Create with no options would use.
func (m *Manager) Defaults() Config {
	return resolveConfig(m.defaults)
}

// Create builds a Client from the manager defaults with opts applied on top.
func (m *Manager) Create(opts ...Option) *Client {
	all := make([]Option, 0, len(m.defaults)+len(opts))
	all = append(all, m.defaults...)
	all = append(all, opts...)
	client := newClient(resolveConfig(all))

	m.mu.Lock()
	if m.clients != nil {
		m.clients = append(m.clients, client)
	}
	m.mu.Unlock()

	return client
}

// CreateURL is Create with only the URL overridden, followed by opts.
func (m *Manager) CreateURL(url string, opts ...Option) *Client {
	return m.Create(append([]Option{WithURL(url)}, opts...)...)
}

// Tracking reports whether the manager remembers the clients it creates.
func (m *Manager) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients != nil
}

// Clients returns the tracked clients, or nil when not tracking.
func (m *Manager) Clients() []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients == nil {
		return nil
	}
	return slices.Clone(m.clients)
}

// DisconnectAll disconnects every tracked client and empties the collection.
// The manager keeps tracking afterwards.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	if m.clients == nil {
		m.mu.Unlock()
		return
	}
	clients := m.clients
	m.clients = []*Client{}
	m.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
}

// ============================================================================
// Scope
// ============================================================================

// Scope is a group of clients torn down together, for components with their
// own lifecycle. It inherits the parent manager's defaults.
type Scope struct {
	manager *Manager
}

// NewScope returns a scope whose clients use m's defaults followed by opts.
func (m *Manager) NewScope(opts ...Option) *Scope {
	defaults := make([]Option, 0, len(m.defaults)+len(opts))
	defaults = append(defaults, m.defaults...)
	defaults = append(defaults, opts...)
	return &Scope{manager: NewTrackingManager(defaults...)}
}

func (s *Scope) Create(opts ...Option) *Client {
	return s.manager.Create(opts...)
}

func (s *Scope) CreateURL(url string, opts ...Option) *Client {
	return s.manager.CreateURL(url, opts...)
}

func (s *Scope) Clients() []*Client {
	return s.manager.Clients()
}

// Teardown disconnects every client created in the scope. The scope stays
// usable.
func (s *Scope) Teardown() {
	s.manager.DisconnectAll()
}
