// Package domain contains the persisted records of the assistant service.
package domain

import (
	"time"
)

// User is an anonymous per-device visitor.
type User struct {
	UserID          string    `json:"user_id"`
	ActiveSessionID string    `json:"active_session_id,omitempty"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasActiveSession returns true if the user has a current conversation.
func (u *User) HasActiveSession() bool {
	return u.ActiveSessionID != ""
}

// SessionTTL returns the time until the active conversation expires.
// Returns 0 if it has already expired or there is none.
func (u *User) SessionTTL(sessionDuration time.Duration) time.Duration {
	if !u.HasActiveSession() {
		return 0
	}
	expiresAt := u.LastSeenAt.Add(sessionDuration)
	ttl := time.Until(expiresAt)
	if ttl < 0 {
		return 0
	}
	return ttl
}
