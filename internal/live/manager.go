// Package live hosts suggestion sessions for remote editors. Each connected
// editor owns one [Session]: the server keeps its text snapshot and
// suggestion store, runs corrections on request or after the user pauses
// typing, and reports every resulting state back over a websocket.
package live

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/suggest"
	"github.com/correctnow/correctnow/pkg/suggest/interact"
)

// historyTimeout bounds the history write performed when a session stops.
const historyTimeout = 5 * time.Second

var (
	// ErrTooManySessions is returned by [Manager.Start] when the session cap
	// is reached.
	ErrTooManySessions = errors.New("live: too many sessions")

	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("live: session not found")
)

// Corrector produces correction suggestions for a text.
type Corrector interface {
	Correct(ctx context.Context, text, language string) (suggest.Response, error)
}

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`

	// UserID identifies the editor's user. Sessions without one are not
	// recorded in history.
	UserID string `json:"user_id,omitempty"`

	// Language is the language hint passed to the corrector.
	Language string `json:"language,omitempty"`

	// StartedAt is when the session was started.
	StartedAt time.Time `json:"started_at"`
}

// StartOptions configures a new session.
type StartOptions struct {
	UserID   string
	Language string

	// Text is the initial text snapshot.
	Text string

	// Mirror attaches a mirror renderer whose HTML is included in every
	// state.
	Mirror bool
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Corrector Corrector

	// History receives one entry per reviewed session. Optional.
	History history.Store

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MaxSessions caps concurrent sessions. Zero means unlimited.
	MaxSessions int

	// CheckDelay is the typing pause after which a text update triggers a
	// correction. Zero disables automatic checks.
	CheckDelay time.Duration

	// Scheduler runs debounced checks. Nil uses real timers.
	Scheduler interact.Scheduler
}

// Manager manages the lifecycle of live sessions. All exported methods are
// safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	checkDelay time.Duration

	corrector Corrector
	history   history.Store
	metrics   *observe.Metrics
	max       int
	sched     interact.Scheduler
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		sessions:   make(map[string]*Session),
		checkDelay: cfg.CheckDelay,
		corrector:  cfg.Corrector,
		history:    cfg.History,
		metrics:    cfg.Metrics,
		max:        cfg.MaxSessions,
		sched:      cfg.Scheduler,
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetCheckDelay changes the automatic check delay for sessions started
// afterwards and for the pending timers of running ones.
func (m *Manager) SetCheckDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkDelay = d
	for _, s := range m.sessions {
		s.setCheckDelay(d)
	}
}

// Start begins a new session. The session lives until [Manager.Stop] or
// [Manager.StopAll]; ctx only scopes the start itself.
func (m *Manager) Start(ctx context.Context, opts StartOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.max > 0 && len(m.sessions) >= m.max {
		return nil, fmt.Errorf("%w (limit %d)", ErrTooManySessions, m.max)
	}

	info := SessionInfo{
		ID:        uuid.NewString(),
		UserID:    opts.UserID,
		Language:  opts.Language,
		StartedAt: time.Now().UTC(),
	}
	s := newSession(info, opts, m.corrector, m.metrics, m.sched, m.checkDelay)
	m.sessions[info.ID] = s
	m.metrics.ActiveSessions.Add(ctx, 1)

	slog.Info("live: session started",
		"session_id", info.ID,
		"user_id", info.UserID,
		"language", info.Language,
	)
	return s, nil
}

// Stop ends the session with the given ID. Pending checks are cancelled,
// the engine session is closed and, when the user reviewed any
// suggestions, a history entry is recorded.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	entry, record := s.close()
	m.metrics.ActiveSessions.Add(ctx, -1)

	if record && m.history != nil {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
		defer cancel()
		if _, err := m.history.Record(hctx, entry); err != nil {
			slog.Warn("live: record history failed", "session_id", id, "err", err)
		}
	}

	slog.Info("live: session stopped", "session_id", id)
	return nil
}

// StopAll ends every session. It is used during shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, id := range m.IDs() {
		_ = m.Stop(ctx, id)
	}
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IDs returns the IDs of all running sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

// List returns metadata for all running sessions, oldest first.
func (m *Manager) List() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info)
	}
	slices.SortFunc(out, func(a, b SessionInfo) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Count returns the number of running sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
