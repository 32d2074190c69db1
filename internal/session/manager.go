package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/export"
	"github.com/joeblew999/casemap/internal/mapctl"
	"github.com/joeblew999/casemap/internal/metrics"
)

// DefaultTTL is how long an idle session without a stream is kept.
const DefaultTTL = 30 * time.Minute

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = eris.New("session: not found")

// Deps are shared by every session's controller.
type Deps struct {
	Catalog     *catalog.Catalog
	Geometry    mapctl.Geometry
	Stats       areadetail.Source
	Postcode    mapctl.PostcodeLocator
	Exporter    *export.Exporter
	InitialDate string
}

// Manager creates, finds and expires sessions.
type Manager struct {
	deps Deps
	ttl  time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager. A zero ttl uses DefaultTTL.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{deps: deps, ttl: ttl, sessions: make(map[string]*Session)}
}

// Create starts a new session.
func (m *Manager) Create() (*Session, error) {
	s, err := newSession(uuid.NewString(), m.deps)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Set(float64(n))
	zap.L().Debug("session created", zap.String("session", s.ID))
	return s, nil
}

// Get returns the session id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "session: %s", id)
	}
	s.touch()
	return s, nil
}

// InitialDate is the day new sessions start on.
func (m *Manager) InitialDate() string { return m.deps.InitialDate }

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops session id. It reports whether it existed.
func (m *Manager) Close(id string) bool {
	s := m.take(id)
	if s == nil {
		return false
	}
	s.Close()
	return true
}

func (m *Manager) take(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	return s
}

// Reap closes sessions with no stream attached that have been idle longer
// than the ttl. It returns how many were closed.
func (m *Manager) Reap(now time.Time) int {
	var idle []string
	m.mu.RLock()
	for id, s := range m.sessions {
		if !s.Streaming() && now.Sub(s.LastActive()) > m.ttl {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if m.Close(id) {
			n++
		}
	}
	if n > 0 {
		metrics.SessionsExpiredTotal.Add(float64(n))
		zap.L().Info("expired idle sessions", zap.Int("count", n))
	}
	return n
}

// Run reaps idle sessions until ctx is done, then closes them all.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case now := <-t.C:
			m.Reap(now)
		}
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	metrics.SessionsActive.Set(0)

	for _, s := range all {
		s.Close()
	}
}
