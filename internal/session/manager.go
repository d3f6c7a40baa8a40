// Package session owns the live conversation state of each (user, session)
// pair: its context store, usage tracker and transcript. State is cached
// in memory and written through to the repository after every change.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/domain"
	"github.com/ashureev/shsh-guard/internal/metrics"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/usage"
)

// ErrMissingKey is returned when a user or session id is empty.
var ErrMissingKey = errors.New("session: user and session id are required")

const (
	defaultCacheSize    = 1024
	defaultHistoryLimit = 50
)

// Key identifies one conversation.
type Key struct {
	UserID    string
	SessionID string
}

func (k Key) String() string {
	return k.UserID + "/" + k.SessionID
}

// Session is one live conversation. Callers must hold Lock while reading or
// mutating any field and while saving.
type Session struct {
	mu         sync.Mutex
	key        Key
	Store      *convo.Store
	Tracker    *usage.Tracker
	Transcript domain.Transcript
	createdAt  time.Time
	retired    bool // replaced by Reset; never saved again
}

// Key returns the session's identity.
func (s *Session) Key() Key { return s.key }

// Lock serializes writers on this session.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session.
func (s *Session) Unlock() { s.mu.Unlock() }

// Retired reports whether Reset replaced this session. The caller must hold
// the lock.
func (s *Session) Retired() bool { return s.retired }

// Config tunes a Manager.
type Config struct {
	CacheSize     int
	TTL           time.Duration
	HistoryLimit  int
	UsageCapacity int
	Clock         func() time.Time
}

// Manager loads, caches and persists sessions.
type Manager struct {
	repo    store.Repository
	cache   *lru.Cache[Key, *Session]
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	loadMu  sync.Mutex
}

// NewManager creates a session manager backed by repo.
func NewManager(repo store.Repository, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Manager, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}

	mgr := &Manager{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	cache, err := lru.NewWithEvict[Key, *Session](cfg.CacheSize, func(key Key, _ *Session) {
		mgr.logger.Debug("Session evicted from cache", "user_id", key.UserID, "session_id", key.SessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	mgr.cache = cache
	return mgr, nil
}

func (m *Manager) storeOptions() []convo.Option {
	if m.cfg.Clock == nil {
		return nil
	}
	return []convo.Option{convo.WithClock(m.cfg.Clock)}
}

func (m *Manager) now() time.Time {
	if m.cfg.Clock != nil {
		return m.cfg.Clock()
	}
	return time.Now()
}

// Get returns the live session for key, loading it from the repository or
// creating a fresh one. A stored snapshot that cannot be read is replaced by
// a default context.
func (m *Manager) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	if userID == "" || sessionID == "" {
		return nil, ErrMissingKey
	}
	key := Key{UserID: userID, SessionID: sessionID}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if s, ok := m.cache.Get(key); ok {
		return s, nil
	}

	conv, err := m.repo.GetConversation(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", key, err)
	}

	s := m.newSession(key)
	if conv != nil {
		s.Store = convo.RestoreOrDefault([]byte(conv.ContextJSON), m.logger.With("user_id", userID, "session_id", sessionID), m.storeOptions()...)
		s.createdAt = conv.CreatedAt
		msgs, err := conv.DecodeMessages()
		if err != nil {
			m.logger.Warn("Discarding unreadable transcript", "user_id", userID, "session_id", sessionID, "error", err)
		} else {
			s.Transcript.Messages = msgs
		}
	} else {
		s.Store = convo.NewStore(m.storeOptions()...)
	}
	s.Tracker = usage.FromContext(s.Store, s.Store.Snapshot(), m.cfg.UsageCapacity)

	m.cache.Add(key, s)
	m.metrics.SetLiveSessions(m.cache.Len())
	return s, nil
}

func (m *Manager) newSession(key Key) *Session {
	return &Session{
		key:        key,
		Transcript: domain.Transcript{Limit: m.cfg.HistoryLimit},
		createdAt:  m.now(),
	}
}

// Save persists s. The caller must hold s's lock. Saving a retired session
// is a no-op, so a turn that raced a reset cannot bring the old
// conversation back.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s.retired {
		m.logger.Debug("Skipping save of retired session", "user_id", s.key.UserID, "session_id", s.key.SessionID)
		return nil
	}
	data, err := s.Store.MarshalSnapshot()
	if err != nil {
		return err
	}
	conv := &domain.Conversation{
		UserID:      s.key.UserID,
		SessionID:   s.key.SessionID,
		ContextJSON: string(data),
		CreatedAt:   s.createdAt,
		UpdatedAt:   m.now(),
	}
	if err := conv.EncodeMessages(s.Transcript.Messages); err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	if err := m.repo.UpsertConversation(ctx, conv); err != nil {
		return fmt.Errorf("save conversation %s: %w", s.key, err)
	}
	return nil
}

// Reset discards the conversation behind key and starts a new one under a
// fresh session id. With carryOver the detected tech level and the known
// compromised identifiers survive into the new context.
func (m *Manager) Reset(ctx context.Context, userID, sessionID string, carryOver bool) (*Session, error) {
	old, err := m.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	old.Lock()
	prev := old.Store.Snapshot()
	old.retired = true
	old.Unlock()

	next := m.newSession(Key{UserID: userID, SessionID: uuid.NewString()})
	next.Store = convo.NewStoreFrom(prev, m.storeOptions()...)
	next.Store.Reset(carryOver)
	next.Tracker = usage.NewTracker(next.Store, m.cfg.UsageCapacity)

	next.Lock()
	err = m.Save(ctx, next)
	next.Unlock()
	if err != nil {
		return nil, err
	}

	if err := m.repo.SetActiveSession(ctx, userID, next.key.SessionID); err != nil && !errors.Is(err, store.ErrUserNotFound) {
		m.logger.Warn("Failed to record active session", "user_id", userID, "error", err)
	}
	if err := m.repo.DeleteConversation(ctx, userID, sessionID); err != nil {
		m.logger.Warn("Failed to delete previous conversation", "user_id", userID, "session_id", sessionID, "error", err)
	}

	m.loadMu.Lock()
	m.cache.Remove(old.key)
	m.cache.Add(next.key, next)
	m.loadMu.Unlock()
	m.metrics.SetLiveSessions(m.cache.Len())

	m.logger.Info("Session reset",
		"user_id", userID,
		"previous_session_id", sessionID,
		"session_id", next.key.SessionID,
		"carry_over", carryOver)
	return next, nil
}

// Evict drops key from the in-memory cache.
func (m *Manager) Evict(key Key) {
	m.loadMu.Lock()
	m.cache.Remove(key)
	m.loadMu.Unlock()
	m.metrics.SetLiveSessions(m.cache.Len())
}

// Len returns the number of cached sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}
