package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/metrics"
	"github.com/Tecnvirons-Private-Limited/inspection-voice-bot/internal/users"
)

// Stats represents registry statistics for monitoring
type Stats struct {
	Active    int    `json:"active"`
	Accepted  uint64 `json:"accepted"`
	Ended     uint64 `json:"ended"`
	Expired   uint64 `json:"expired"`
	Rejected  uint64 `json:"rejected"`
	OnTheFly  uint64 `json:"accepted_on_stream"`
	LookupErr uint64 `json:"lookup_failures"`
}

// Option customises a manager
type Option func(*Manager)

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// Manager is the registry of live call sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics
	config   Config
	deps     Dependencies
	stats    Stats
	stopped  bool

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a call registry and starts its cleanup routine
func NewManager(logger *slog.Logger, config Config, deps Dependencies, opts ...Option) *Manager {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		config:   config,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mgr)
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Config returns the effective per-call policy
func (m *Manager) Config() Config {
	return m.config
}

// Accept registers a new call in the ringing state after looking up the
// caller. A lookup failure treats the caller as new.
func (m *Manager) Accept(ctx context.Context, info CallInfo) (*Session, error) {
	if info.CallID == "" {
		return nil, fmt.Errorf("call id is required")
	}

	m.mu.RLock()
	_, exists := m.sessions[info.CallID]
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return nil, ErrManagerStopped
	}
	if exists {
		m.reject()
		return nil, fmt.Errorf("%w: %s", ErrCallExists, info.CallID)
	}

	participant := m.lookup(ctx, info.From)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrManagerStopped
	}
	if _, exists := m.sessions[info.CallID]; exists {
		m.stats.Rejected++
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCallExists, info.CallID)
	}
	session := newSession(info, participant, m.config, m.deps, m.logger, m.metrics, m.remove)
	m.sessions[info.CallID] = session
	m.stats.Accepted++
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.RecordCallStarted()
	m.metrics.SetActiveCalls(active)

	m.logger.Info("Accepted call",
		slog.String("call_id", info.CallID),
		slog.String("from", info.From),
		slog.String("to", info.To),
		slog.String("participant_status", string(participant.Status)),
		slog.String("role", string(participant.Role)),
	)

	return session, nil
}

func (m *Manager) lookup(ctx context.Context, phone string) users.Participant {
	participant := users.Participant{Phone: phone, Status: users.StatusNotFound}
	if phone == "" || m.deps.Directory == nil {
		return participant
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.config.LookupTimeout)
	defer cancel()

	found, err := m.deps.Directory.Lookup(lookupCtx, phone)
	if err != nil {
		m.mu.Lock()
		m.stats.LookupErr++
		m.mu.Unlock()
		m.logger.Warn("Caller lookup failed, treating as new caller",
			slog.String("from", phone),
			slog.String("error", err.Error()))
		return participant
	}
	if found.Phone == "" {
		found.Phone = phone
	}
	return found
}

func (m *Manager) reject() {
	m.mu.Lock()
	m.stats.Rejected++
	m.mu.Unlock()
}

// Attach serves a media stream for callID until the call ends. A call id
// that never went through Accept is registered on the spot as an unknown
// caller.
func (m *Manager) Attach(ctx context.Context, callID string, telephony Telephony) error {
	session, ok := m.Get(callID)
	if !ok {
		var err error
		session, err = m.Accept(ctx, CallInfo{CallID: callID})
		switch {
		case errors.Is(err, ErrCallExists):
			if session, ok = m.Get(callID); !ok {
				return fmt.Errorf("%w: %s", ErrSessionClosed, callID)
			}
		case err != nil:
			return err
		default:
			m.mu.Lock()
			m.stats.OnTheFly++
			m.mu.Unlock()
			m.logger.Info("Media stream for unknown call, accepted on the fly",
				slog.String("call_id", callID))
		}
	}

	return session.Serve(ctx, telephony)
}

// Get retrieves a live session
func (m *Manager) Get(callID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[callID]
	return session, exists
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns information about all live sessions, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// GetStats returns registry statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := m.stats
	stats.Active = len(m.sessions)
	return stats
}

// remove retires a session; only the registered instance is deleted
func (m *Manager) remove(session *Session) {
	m.mu.Lock()
	current, exists := m.sessions[session.ID()]
	if !exists || current != session {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, session.ID())
	m.stats.Ended++
	active := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetActiveCalls(active)
}

// Stop ends every live session and waits for them until ctx expires
func (m *Manager) Stop(ctx context.Context) error {
	m.logger.Info("Stopping call manager...")

	m.mu.Lock()
	m.stopped = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	for _, session := range sessions {
		session.Shutdown()
	}

	for _, session := range sessions {
		select {
		case <-session.Done():
		case <-ctx.Done():
			return fmt.Errorf("call manager stop interrupted with %d calls live: %w", m.Count(), ctx.Err())
		}
	}

	stats := m.GetStats()
	m.logger.Info("Call manager stopped",
		slog.Uint64("accepted", stats.Accepted),
		slog.Uint64("ended", stats.Ended),
		slog.Uint64("expired", stats.Expired),
	)
	return nil
}

// startCleanupRoutine runs in a separate goroutine to reap calls whose
// media stream never attached
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Call cleanup routine started",
		slog.Duration("ring_timeout", m.config.RingTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Call cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions ends ringing sessions older than the ring timeout
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	expired := make([]*Session, 0)

	m.mu.RLock()
	for _, session := range m.sessions {
		if session.State() == StateRinging && now.Sub(session.createdAt) > m.config.RingTimeout {
			expired = append(expired, session)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, session := range expired {
		if session.expire(ReasonRingTimeout) {
			count++
		}
	}

	if count > 0 {
		m.mu.Lock()
		m.stats.Expired += uint64(count)
		m.mu.Unlock()
		m.logger.Info("Cleaned up calls that never attached a media stream",
			slog.Int("expired_count", count))
	}
	return count
}
