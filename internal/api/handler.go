// Package api provides the general HTTP handlers of the assistant service.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-guard/internal/identity"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

// Handler serves user, config and tool catalogue endpoints.
type Handler struct {
	repo         store.Repository
	reg          *toolregistry.Registry
	modelEnabled bool
	sessionTTL   time.Duration
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, reg *toolregistry.Registry, modelEnabled bool, sessionTTL time.Duration) *Handler {
	return &Handler{
		repo:         repo,
		reg:          reg,
		modelEnabled: modelEnabled,
		sessionTTL:   sessionTTL,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes registers the general API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/tools", h.ListTools)
		r.Get("/tools/{key}", h.GetTool)
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":           user.UserID,
		"session_id":        identity.SessionIDFromContext(r.Context()),
		"active_session_id": user.ActiveSessionID,
		"session_ttl":       int64(user.SessionTTL(h.sessionTTL).Seconds()),
	})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled":  h.modelEnabled,
		"tool_count":  h.reg.Len(),
		"session_ttl": int64(h.sessionTTL.Seconds()),
	})
}

// ListTools returns the catalogue in registry order. ?category= filters it.
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	tools := make([]toolregistry.ToolDescriptor, 0, h.reg.Len())
	for _, t := range h.reg.All() {
		if category != "" && !strings.EqualFold(t.Category, category) {
			continue
		}
		tools = append(tools, t)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

// GetTool returns one catalogue entry.
func (h *Handler) GetTool(w http.ResponseWriter, r *http.Request) {
	tool, ok := h.reg.ByKey(chi.URLParam(r, "key"))
	if !ok {
		Error(w, http.StatusNotFound, "tool not found")
		return
	}
	JSON(w, http.StatusOK, tool)
}
