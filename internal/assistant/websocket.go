package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/shsh-guard/internal/identity"
)

// wsRequest is an inbound WebSocket frame.
type wsRequest struct {
	Type       string `json:"type"`
	Content    string `json:"content,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Successful bool   `json:"successful,omitempty"`
	CarryOver  bool   `json:"carry_over,omitempty"`
}

// wsResponse is an outbound WebSocket frame.
type wsResponse struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// HandleWebSocket serves GET /ws/assistant. Each "chat" frame produces the
// same event sequence as the SSE endpoint, followed by "done".
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.cfg.MaxRequestBodySize)

	h.logger.Info("Assistant WebSocket connected", "user_id", userID, "session_id", sessionID)
	ctx := r.Context()

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsRequest
		if err := json.Unmarshal(message, &msg); err != nil {
			h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "chat":
			if !h.rateLimiter.Allow(userID) {
				h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: "rate limit exceeded"})
				continue
			}
			if !h.wsChat(ctx, ws, ChatRequest{Message: msg.Content, Limit: msg.Limit, UserID: userID, SessionID: sessionID}) {
				return
			}
		case "usage":
			entry, err := h.svc.RecordUsage(ctx, userID, sessionID, strings.TrimSpace(msg.Tool), msg.Successful)
			if err != nil {
				h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: h.publicError(err)})
				continue
			}
			h.writeFrame(ctx, ws, wsResponse{Type: "usage", Data: entry})
		case "reset":
			next, err := h.svc.Reset(ctx, userID, sessionID, msg.CarryOver)
			if err != nil {
				h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: h.publicError(err)})
				continue
			}
			sessionID = next
			h.writeFrame(ctx, ws, wsResponse{Type: "reset", Data: map[string]string{"session_id": next}})
		case "ping":
			h.writeFrame(ctx, ws, wsResponse{Type: "pong"})
		default:
			h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: "unknown message type"})
		}

		h.touch(userID)
	}
}

func (h *Handler) wsChat(ctx context.Context, ws *websocket.Conn, req ChatRequest) bool {
	h.log.Log(ConversationLogEvent{
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    "chat_ws",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: req.Message,
	})
	for ev, err := range h.svc.Chat(ctx, req) {
		if err != nil {
			return h.writeFrame(ctx, ws, wsResponse{Type: "error", Error: h.publicError(err)})
		}
		if m, ok := ev.Data.(MessageEvent); ok {
			h.logAssistantMessage(req.UserID, req.SessionID, m, "")
		}
		if !h.writeFrame(ctx, ws, wsResponse{Type: ev.Type, Data: ev.Data}) {
			return false
		}
	}
	return h.writeFrame(ctx, ws, wsResponse{Type: "done", Data: map[string]string{"session_id": req.SessionID}})
}

func (h *Handler) publicError(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		h.logger.Error("Assistant request failed", "error", err)
		return "internal error"
	}
	return err.Error()
}

func (h *Handler) writeFrame(ctx context.Context, ws *websocket.Conn, v wsResponse) bool {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket frame", "type", v.Type, "error", err)
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write error", "error", err)
		return false
	}
	return true
}

// touch updates the user's last-seen time without blocking the connection.
func (h *Handler) touch(userID string) {
	if h.repo == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigins)
	return false
}
