//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-guard/internal/domain"
	"github.com/ashureev/shsh-guard/internal/identity"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "nope")

	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "nope" {
		t.Errorf("error = %q, want nope", got["error"])
	}
}

func newTestRouter(t *testing.T) (http.Handler, store.Repository) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	r := chi.NewRouter()
	NewHandler(repo, toolregistry.MustDefault(), true, time.Hour).RegisterRoutes(r)
	NewHealthHandler(repo, 0).RegisterHealth(r)
	return r, repo
}

func TestGetMe(t *testing.T) {
	router, repo := newTestRouter(t)
	now := time.Now()
	if err := repo.UpsertUser(context.Background(), &domain.User{
		UserID: "anon_1", ActiveSessionID: "s1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{"known user", "anon_1", http.StatusOK},
		{"unknown user", "anon_2", http.StatusUnauthorized},
		{"no identity", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.userID != "" {
				req = req.WithContext(identity.NewContext(req.Context(), tt.userID, "s1"))
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var got map[string]any
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if got["active_session_id"] != "s1" || got["session_id"] != "s1" {
				t.Errorf("GetMe = %v", got)
			}
			if ttl, _ := got["session_ttl"].(float64); ttl <= 0 {
				t.Errorf("session_ttl = %v, want > 0", got["session_ttl"])
			}
		})
	}
}

func TestToolsEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list struct {
		Tools []toolregistry.ToolDescriptor `json:"tools"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(list.Tools) != toolregistry.MustDefault().Len() {
		t.Errorf("got %d tools, want full catalogue", len(list.Tools))
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tools/password_checker", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET password_checker status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tools/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET unknown tool status = %d, want 404", w.Code)
	}
}

func TestGetConfig(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got["ai_enabled"] != true {
		t.Errorf("ai_enabled = %v, want true", got["ai_enabled"])
	}
}

func TestHealth(t *testing.T) {
	router, repo := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", w.Code)
	}

	_ = repo.Close()
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("closed db status = %d, want 503", w.Code)
	}
}
