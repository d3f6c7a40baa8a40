// Package identity resolves who is talking to the assistant: an anonymous
// per-device user from a cookie and the conversation they are in from a
// request header.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/shsh-guard/internal/domain"
	"github.com/ashureev/shsh-guard/internal/store"
)

const (
	AnonCookieName        = "shsh_anon_id"
	SessionHeaderName     = "X-SHSH-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

// ErrInvalidSessionID is returned for a conversation id that could not have
// been issued by a client tab or by a conversation reset.
var ErrInvalidSessionID = errors.New("identity: invalid conversation session id")

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	// Tab ids from the client and uuids from resets both fit.
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is the caller of one request.
type Identity struct {
	UserID    string
	SessionID string
}

type contextKey struct{}

// NewContext returns ctx carrying the given identity. An invalid session id
// falls back to the default conversation.
func NewContext(ctx context.Context, userID, sessionID string) context.Context {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		sid = DefaultSessionIDValue
	}
	return context.WithValue(ctx, contextKey{}, Identity{UserID: userID, SessionID: sid})
}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionIDFromContext extracts the conversation session ID from the request
// context, or the default conversation when there is none.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.SessionID != "" {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

// ParseSessionID validates a client-supplied conversation id. Blank input
// selects the default conversation.
func ParseSessionID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return DefaultSessionIDValue, nil
	}
	if !sessionIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionID, truncate(id, 32))
	}
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// ensureUser creates the user on first sight, with the conversation of that
// first request as its active one.
func ensureUser(ctx context.Context, repo store.Repository, userID, sessionID string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user != nil {
		return nil
	}

	now := time.Now()
	return repo.UpsertUser(ctx, &domain.User{
		UserID:          userID,
		ActiveSessionID: sessionID,
		LastSeenAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// anonID returns the caller's anonymous id, minting one when the cookie is
// missing or malformed. The cookie is refreshed on every request.
func anonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else if id, err = generateAnonID(); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

func sessionIDFromRequest(r *http.Request) (string, error) {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	return ParseSessionID(sid)
}

// Middleware attaches the anonymous user and the conversation session id to
// each request, creating the user row on first sight. A malformed session
// id is rejected rather than silently mapped onto another conversation.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := sessionIDFromRequest(r)
			if err != nil {
				http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
				return
			}

			userID, err := anonID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureUser(r.Context(), repo, userID, sessionID); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), userID, sessionID)))
		})
	}
}
