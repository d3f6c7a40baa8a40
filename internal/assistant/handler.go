package assistant

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/shsh-guard/internal/api"
	"github.com/ashureev/shsh-guard/internal/identity"
	"github.com/ashureev/shsh-guard/internal/recommend"
	"github.com/ashureev/shsh-guard/internal/session"
	"github.com/ashureev/shsh-guard/internal/store"
	"github.com/ashureev/shsh-guard/internal/usage"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes the HTTP layer.
type HandlerConfig struct {
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	MaxRequestBodySize int64
	AllowedOrigins     []string
	IsDev              bool
}

// Handler serves the assistant HTTP, SSE and WebSocket endpoints.
type Handler struct {
	svc         *Service
	repo        store.Repository
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         HandlerConfig
	logger      *slog.Logger
}

// NewHandler creates a handler. repo is used for last-seen bookkeeping and
// conversationLogger may be nil.
func NewHandler(svc *Service, repo store.Repository, conversationLogger ConversationLogger, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:         svc,
		repo:        repo,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		log:         conversationLogger,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes registers assistant routes. Identity middleware must run first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/assistant", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/recommend", h.HandleRecommend)
		r.Post("/usage", h.HandleUsage)
		r.Get("/insights", h.HandleInsights)
		r.Get("/context", h.HandleContext)
		r.Post("/reset", h.HandleReset)
	})
	r.Get("/ws/assistant", h.HandleWebSocket)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		h.logger.Warn("failed to close conversation logger", "error", err)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			return true
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrUnknownTool),
		errors.Is(err, usage.ErrEmptyTool),
		errors.Is(err, recommend.ErrNegativeLimit),
		errors.Is(err, session.ErrMissingKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Assistant request failed", "error", err)
		api.Error(w, status, "internal error")
		return
	}
	api.Error(w, status, err.Error())
}

// HandleChat handles POST /api/assistant/chat and streams the turn as SSE.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.rateLimiter.Allow(userID) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}
	req.UserID = userID
	req.SessionID = sessionID
	reqID := chiMiddleware.GetReqID(r.Context())

	h.logger.Info("Assistant chat request",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
		Meta:       map[string]any{"request_id": reqID},
	})

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for ev, err := range h.svc.Chat(r.Context(), req) {
		if err != nil {
			h.logger.Error("Assistant turn failed", "user_id", userID, "session_id", sessionID, "error", err)
			msg := "internal error"
			if statusFor(err) != http.StatusInternalServerError {
				msg = err.Error()
			}
			h.writeEvent(w, flusher, "error", map[string]string{"error": msg})
			return
		}
		if m, ok := ev.Data.(MessageEvent); ok {
			h.logAssistantMessage(userID, sessionID, m, reqID)
		}
		if !h.writeEvent(w, flusher, ev.Type, ev.Data) {
			return
		}
	}
	h.writeEvent(w, flusher, "done", map[string]string{"session_id": sessionID})
}

func (h *Handler) writeEvent(w io.Writer, flusher http.Flusher, event string, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("failed to marshal SSE payload", "event", event, "error", err)
		data = []byte(`{"error":"failed to serialize response"}`)
		event = "error"
	}
	if err := writeSSE(w, event, string(data)); err != nil {
		h.logger.Warn("failed to write SSE event", "event", event, "error", err)
		return false
	}
	flusher.Flush()
	return true
}

func (h *Handler) logAssistantMessage(userID, sessionID string, m MessageEvent, requestID string) {
	h.log.Log(ConversationLogEvent{
		UserID:     userID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: m.Reply,
		Meta: map[string]any{
			"degraded":        m.Degraded,
			"suggested_tools": m.SuggestedTools,
			"model_error":     m.Error,
			"request_id":      requestID,
		},
	})
}

type recommendRequest struct {
	Text  string `json:"text"`
	Limit *int   `json:"limit,omitempty"`
	Fused *bool  `json:"fused,omitempty"`
}

// HandleRecommend handles POST /api/assistant/recommend.
func (h *Handler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !h.decode(w, r, &req) {
		return
	}
	limit := h.svc.cfg.RecommendLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	fused := req.Fused == nil || *req.Fused

	recs, err := h.svc.Recommend(r.Context(), identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()), req.Text, limit, fused)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if recs == nil {
		recs = []recommend.Recommendation{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

type usageRequest struct {
	Tool       string `json:"tool"`
	Successful bool   `json:"successful"`
}

// HandleUsage handles POST /api/assistant/usage.
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	entry, err := h.svc.RecordUsage(r.Context(), userID, sessionID, strings.TrimSpace(req.Tool), req.Successful)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.log.Log(ConversationLogEvent{
		UserID:    userID,
		SessionID: sessionID,
		Channel:   "usage_http",
		Direction: "inbound",
		EventType: "tool_use",
		Meta:      map[string]any{"tool": entry.Tool, "successful": entry.Successful},
	})
	api.JSON(w, http.StatusCreated, entry)
}

// HandleInsights handles GET /api/assistant/insights.
func (h *Handler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.svc.Insights(r.Context(), identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if insights == nil {
		insights = []usage.Insight{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"insights": insights})
}

// HandleContext handles GET /api/assistant/context. With ?summary=true only
// the summary is returned.
func (h *Handler) HandleContext(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Context(r.Context(), identity.UserIDFromContext(r.Context()), identity.SessionIDFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if only, _ := strconv.ParseBool(r.URL.Query().Get("summary")); only {
		api.JSON(w, http.StatusOK, view.Summary)
		return
	}
	api.JSON(w, http.StatusOK, view)
}

type resetRequest struct {
	CarryOver bool `json:"carry_over"`
}

// HandleReset handles POST /api/assistant/reset. The response carries the
// new session id the client must send from now on.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !h.decode(w, r, &req) {
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	next, err := h.svc.Reset(r.Context(), userID, sessionID, req.CarryOver)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.Header().Set(identity.SessionHeaderName, next)
	api.JSON(w, http.StatusOK, map[string]any{
		"session_id":          next,
		"previous_session_id": sessionID,
		"carry_over":          req.CarryOver,
	})
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
