// Package session manages per-conversation tool environments. Each session
// owns a virtual filesystem confined to its own base directory under the
// workspace, a tool registry bound to that filesystem, and a command rate
// limiter. Sessions are created on first use and reaped after idling.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/fenceio/fence/internal/config"
	"github.com/fenceio/fence/internal/errs"
	"github.com/fenceio/fence/internal/observability"
	"github.com/fenceio/fence/internal/ratelimit"
	"github.com/fenceio/fence/internal/tools"
	"github.com/fenceio/fence/internal/tools/bash"
	"github.com/fenceio/fence/internal/tools/file"
	"github.com/fenceio/fence/internal/vfs"
	"github.com/fenceio/fence/internal/workspace"
)

// Session is one conversation's isolated tool environment.
type Session struct {
	ID       string
	Registry *tools.Registry

	fs        *vfs.VFS
	createdAt time.Time

	mu       sync.Mutex
	lastUsed time.Time
}

// Cwd returns the session's current virtual working directory.
func (s *Session) Cwd() string { return s.fs.Cwd() }

// touch records activity for idle expiry accounting.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Manager creates, looks up, and expires sessions.
type Manager struct {
	ws      *workspace.Workspace
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.MetricsCollector

	mu       sync.Mutex
	sessions map[string]*Session

	cron *cron.Cron
	now  func() time.Time
}

// NewManager creates a session manager. metrics may be nil.
func NewManager(ws *workspace.Workspace, cfg *config.Config, logger *slog.Logger, metrics *observability.MetricsCollector) *Manager {
	return &Manager{
		ws:       ws,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Get returns the session with the given id, creating it on first use.
// An empty id allocates a fresh session with a generated UUID.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}

	s, err := m.create(id)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s

	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(len(m.sessions)))
	}
	m.logger.Info("session created",
		slog.String("session_id", id),
		slog.Int("active", len(m.sessions)),
	)
	return s, nil
}

// create builds a session's filesystem, limiter, and tool registry.
// Caller holds m.mu.
func (m *Manager) create(id string) (*Session, error) {
	root, err := m.ws.SessionRoot(id)
	if err != nil {
		return nil, err
	}
	fs, err := vfs.New(root)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxCalls: m.cfg.RateLimit.MaxCalls,
		Window:   m.cfg.RateLimit.Window(),
	})
	fileCfg := file.Config{MaxFileSizeBytes: m.cfg.Tools.MaxFileSizeBytes}

	registry := tools.NewRegistry()
	registry.Register(bash.NewTool(fs, limiter, m.logger))
	registry.Register(file.NewReadTool(fileCfg, fs, m.logger))
	registry.Register(file.NewWriteTool(fileCfg, fs, m.logger))
	registry.Register(file.NewLSTool(fs, m.logger))

	now := m.now()
	return &Session{
		ID:        id,
		Registry:  registry,
		fs:        fs,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

// Invoke validates and executes one tool call within a session, recording
// metrics for the outcome. A missing tool name is a disallowed argument, not
// an execution failure.
func (m *Manager) Invoke(ctx context.Context, sessionID, toolName string, params map[string]any) (*tools.Result, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.touch(m.now())

	tool := s.Registry.Get(toolName)
	if tool == nil {
		return nil, errs.New(errs.DisallowedArgument, "unknown tool %q", toolName)
	}

	start := m.now()
	res, err := tool.Execute(ctx, params)
	elapsed := time.Since(start).Seconds()

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			if kind := errs.KindOf(err); errs.Security(kind) {
				status = "rejected"
				m.metrics.RecordSecurityRejection(string(kind))
			} else if kind == errs.RateLimitExceeded {
				status = "rate_limited"
				m.metrics.RecordRateLimitRejection()
			}
		}
		m.metrics.RecordToolExecution(toolName, status, elapsed)
	}

	if err != nil {
		m.logger.WarnContext(ctx, "tool call failed",
			slog.String("session_id", s.ID),
			slog.String("tool", toolName),
			slog.String("kind", string(errs.KindOf(err))),
		)
		return nil, err
	}
	return res, nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper schedules the idle-session sweep. No-op when sessions never
// expire.
func (m *Manager) StartSweeper() error {
	if m.cfg.Session.IdleTTL() == 0 {
		return nil
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.Session.SweepSchedule, m.sweep); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("session sweeper started",
		slog.String("schedule", m.cfg.Session.SweepSchedule),
		slog.Duration("idle_ttl", m.cfg.Session.IdleTTL()),
	)
	return nil
}

// Stop halts the sweeper. Running sweeps finish first.
func (m *Manager) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// sweep removes sessions idle longer than the configured TTL.
func (m *Manager) sweep() {
	ttl := m.cfg.Session.IdleTTL()
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		if m.cfg.Session.RemoveOnExpiry {
			if err := m.ws.RemoveSession(s.ID); err != nil {
				m.logger.Warn("removing expired session dir", slog.String("session_id", s.ID), slog.String("error", err.Error()))
			}
		}
		if m.metrics != nil {
			m.metrics.SessionsExpiredTotal.Inc()
		}
		m.logger.Info("session expired", slog.String("session_id", s.ID))
	}
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(remaining))
	}
}
