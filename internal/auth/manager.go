// Package auth issues and validates the credentials that gate admission to
// the synchronization channel: short-lived signed access tokens backed by
// server-side session records, plus longer-lived refresh tokens.
package auth

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/boardsync/pkg/models"
)

// Config configures session issuance.
type Config struct {
	JWTSecret  string
	AccessTTL  time.Duration
	SessionTTL time.Duration
}

// DefaultConfig returns the default session lifetimes: 15 minute access
// tokens inside 7 day sessions.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		SessionTTL: 7 * 24 * time.Hour,
	}
}

// Manager owns session state: a primary table keyed by session id with
// secondary indices by user (for bulk revocation) and by refresh token.
// Constructed per process, never a package-level singleton, so tests get
// isolated instances.
type Manager struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	byUser    map[string]map[string]struct{}
	byRefresh map[string]string

	jwt        *JWTService
	sessionTTL time.Duration
	nowFunc    func() time.Time
	logger     *slog.Logger
}

// NewManager creates a session manager. The logger may be nil.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultConfig().AccessTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:   map[string]*models.Session{},
		byUser:     map[string]map[string]struct{}{},
		byRefresh:  map[string]string{},
		jwt:        NewJWTService(cfg.JWTSecret, cfg.AccessTTL),
		sessionTTL: cfg.SessionTTL,
		nowFunc:    time.Now,
		logger:     logger.With("component", "auth"),
	}
}

// SetNowFunc sets a custom time source for testing.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = fn
}

// CreateSession issues a new session with a signed access token and an
// opaque refresh token. A user may hold several concurrent sessions.
func (m *Manager) CreateSession(userID, email, displayName string, metadata map[string]string) (*models.Session, string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, "", ErrInvalidToken
	}

	m.mu.Lock()
	now := m.nowFunc()
	session := &models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Email:        email,
		DisplayName:  displayName,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.sessionTTL),
		LastActivity: now,
		RefreshToken: uuid.NewString(),
		Metadata:     metadata,
	}
	m.sessions[session.ID] = session
	if m.byUser[userID] == nil {
		m.byUser[userID] = map[string]struct{}{}
	}
	m.byUser[userID][session.ID] = struct{}{}
	m.byRefresh[session.RefreshToken] = session.ID
	m.mu.Unlock()

	access, err := m.jwt.Generate(session)
	if err != nil {
		m.DestroySession(session.ID)
		return nil, "", err
	}
	return cloneSession(session), access, nil
}

// ValidateSession verifies an access token and returns the backing session.
// An expired session is destroyed and reported as ErrNoSession rather than a
// soft-invalid state; success updates LastActivity.
func (m *Manager) ValidateSession(accessToken string) (*models.Session, error) {
	claims, err := m.jwt.Validate(accessToken)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	session, ok := m.sessions[claims.SessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	now := m.nowFunc()
	if session.Expired(now) {
		m.destroyLocked(session.ID)
		m.mu.Unlock()
		return nil, ErrNoSession
	}
	session.LastActivity = now
	out := cloneSession(session)
	m.mu.Unlock()
	return out, nil
}

// RefreshSession extends the session owning the refresh token and reissues an
// access token. Refresh tokens are not rotated on use.
func (m *Manager) RefreshSession(refreshToken string) (*models.Session, string, error) {
	m.mu.Lock()
	id, ok := m.byRefresh[refreshToken]
	if !ok {
		m.mu.Unlock()
		return nil, "", ErrNoSession
	}
	session, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, "", ErrNoSession
	}
	now := m.nowFunc()
	if session.Expired(now) {
		m.destroyLocked(id)
		m.mu.Unlock()
		return nil, "", ErrNoSession
	}
	session.ExpiresAt = now.Add(m.sessionTTL)
	session.LastActivity = now
	out := cloneSession(session)
	m.mu.Unlock()

	access, err := m.jwt.Generate(out)
	if err != nil {
		return nil, "", err
	}
	return out, access, nil
}

// GetSession returns a session by id.
func (m *Manager) GetSession(id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	return cloneSession(session), nil
}

// DestroySession revokes one session.
func (m *Manager) DestroySession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(id)
}

// DestroyUserSessions revokes every session held by a user and returns how
// many were removed.
func (m *Manager) DestroyUserSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byUser[userID]
	count := 0
	for id := range ids {
		m.destroyLocked(id)
		count++
	}
	return count
}

// SweepExpired removes every session past its expiry, independent of whether
// it is ever looked up again. Returns the number removed.
func (m *Manager) SweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, session := range m.sessions {
		if session.Expired(now) {
			m.destroyLocked(id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept expired sessions", "removed", removed)
	}
	return removed
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// destroyLocked removes the session record and all its index entries.
// Must be called with m.mu held.
func (m *Manager) destroyLocked(id string) {
	session, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	delete(m.byRefresh, session.RefreshToken)
	if ids := m.byUser[session.UserID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byUser, session.UserID)
		}
	}
}

func cloneSession(s *models.Session) *models.Session {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
