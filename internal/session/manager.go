package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Manager accepts page connections and tracks the live sessions.
// All exported methods are safe for concurrent use.
type Manager struct {
	deps    Deps
	origins []string

	mu       sync.RWMutex
	defaults Defaults
	sessions map[string]*Session
}

// ManagerOption is a functional option for [NewManager].
type ManagerOption func(*Manager)

// WithOriginPatterns allows cross-origin pages matching patterns to connect.
// Without it only same-origin pages are accepted.
func WithOriginPatterns(patterns ...string) ManagerOption {
	return func(m *Manager) { m.origins = append(m.origins, patterns...) }
}

// NewManager returns a Manager creating sessions over deps with defaults d.
func NewManager(deps Deps, d Defaults, opts ...ManagerOption) *Manager {
	m := &Manager{
		deps:     deps,
		defaults: d,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ServeHTTP upgrades the request to a WebSocket and serves a session on it
// until the page disconnects.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: m.origins})
	if err != nil {
		slog.Warn("session: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	s := New(r.Context(), conn, m.deps, m.Defaults())
	m.add(s)
	defer m.remove(s)

	s.log.Info("session: connected", "remote", r.RemoteAddr)
	if err := s.Run(); err != nil {
		s.log.Warn("session: ended with error", "err", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
	s.log.Info("session: disconnected")
}

// Get returns the live session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Defaults returns the settings new sessions start with.
func (m *Manager) Defaults() Defaults {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// SetDefaults replaces the defaults for new sessions. Live sessions adopt the
// new debounce period; their languages, voice and rate are left as the user
// set them.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	m.defaults = d
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()
	for _, s := range live {
		s.SetDebounce(d.Debounce)
	}
}

// CloseAll ends every live session. Each session releases its resources
// before its ServeHTTP returns.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.cancel()
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(context.Background(), 1)
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(context.Background(), -1)
	}
}
