// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/shsh-guard/internal/domain"
)

// Repository defines the interface for persisting users and their
// conversation snapshots.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil if absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// SetActiveSession records which conversation the user is currently in.
	SetActiveSession(ctx context.Context, userID, sessionID string) error

	// GetConversation retrieves a stored conversation. It returns nil, nil if absent.
	GetConversation(ctx context.Context, userID, sessionID string) (*domain.Conversation, error)

	// UpsertConversation creates or updates a conversation snapshot.
	UpsertConversation(ctx context.Context, conv *domain.Conversation) error

	// DeleteConversation removes a conversation snapshot.
	DeleteConversation(ctx context.Context, userID, sessionID string) error

	// ExpiredConversations lists conversations not updated within ttl.
	ExpiredConversations(ctx context.Context, ttl time.Duration) ([]*domain.Conversation, error)

	// CleanupExpiredConversations removes conversations not updated within ttl.
	CleanupExpiredConversations(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
