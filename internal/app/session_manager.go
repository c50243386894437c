package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moshi-chat/moshi/internal/observe"
	"github.com/moshi-chat/moshi/internal/server"
)

// liveSession is the slice of a call the manager needs. *server.Session
// satisfies it; tests substitute fakes.
type liveSession interface {
	ID() string
	Close()
}

// SessionManager tracks live call sessions and enforces the configured
// concurrency cap. It implements [server.Registry]: the call handler adds a
// session after the SDP answer is built and the session removes itself when
// it closes. All methods are safe for concurrent use.
type SessionManager struct {
	mu   sync.Mutex
	live map[string]liveSession

	// limit caps concurrent sessions; 0 means unlimited.
	limit int

	metrics *observe.Metrics
}

// NewSessionManager returns a manager allowing up to limit concurrent
// sessions. metrics may be nil, in which case the process-wide default is
// used.
func NewSessionManager(limit int, metrics *observe.Metrics) *SessionManager {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &SessionManager{
		live:    make(map[string]liveSession),
		limit:   limit,
		metrics: metrics,
	}
}

// Add implements server.Registry.
func (m *SessionManager) Add(s *server.Session) error {
	return m.track(s)
}

// track is the interface-typed core of Add, separated so the bookkeeping can
// be exercised without a live peer connection.
func (m *SessionManager) track(s liveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && len(m.live) >= m.limit {
		return fmt.Errorf("app: session limit reached (%d live)", m.limit)
	}
	if _, ok := m.live[s.ID()]; ok {
		return fmt.Errorf("app: session %s already tracked", s.ID())
	}
	m.live[s.ID()] = s

	m.metrics.SessionStarted(context.Background())
	slog.Info("app: session added", "session_id", s.ID(), "live", len(m.live))
	return nil
}

// Remove implements server.Registry. Removing an unknown id is a no-op, so a
// session rejected by Add can still close itself safely.
func (m *SessionManager) Remove(id string, lifetime time.Duration) {
	m.mu.Lock()
	_, ok := m.live[id]
	delete(m.live, id)
	remaining := len(m.live)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.metrics.SessionEnded(context.Background(), lifetime)
	slog.Info("app: session removed",
		"session_id", id,
		"lifetime", lifetime.Round(time.Millisecond),
		"live", remaining,
	)
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CloseAll force-closes every live session. Closing triggers each session's
// own removal, so the iteration works on a snapshot taken under the lock.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	snapshot := make([]liveSession, 0, len(m.live))
	for _, s := range m.live {
		snapshot = append(snapshot, s)
	}
	m.mu.Unlock()

	for _, s := range snapshot {
		s.Close()
	}
}
