// Package assistant runs chat turns: it analyzes user messages, optionally
// asks the language model for a reply, fuses recommendations and persists
// the session.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/shsh-guard/internal/analyzer"
	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/metrics"
	"github.com/ashureev/shsh-guard/internal/recommend"
	"github.com/ashureev/shsh-guard/internal/session"
	"github.com/ashureev/shsh-guard/internal/usage"
)

// ErrUnknownTool is returned when a usage report names a tool outside the catalogue.
var ErrUnknownTool = errors.New("assistant: unknown tool")

// ErrEmptyMessage is returned for blank chat input.
var ErrEmptyMessage = errors.New("assistant: message is required")

// Event types emitted by Chat, in order.
const (
	EventContext         = "context"
	EventMessage         = "message"
	EventRecommendations = "recommendations"
)

// Config tunes the service.
type Config struct {
	HistoryWindow       int
	RecommendLimit      int
	ModelTimeout        time.Duration
	AssistantConfidence float64
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:       10,
		RecommendLimit:      5,
		ModelTimeout:        20 * time.Second,
		AssistantConfidence: 0.5,
	}
}

// ChatRequest is one user message.
type ChatRequest struct {
	Message   string `json:"message"`
	Limit     int    `json:"limit,omitempty"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
}

// Event is one step of a chat turn.
type Event struct {
	Type string
	Data any
}

// ContextEvent reports how the user message changed the context.
type ContextEvent struct {
	Analysis analyzer.Result `json:"analysis"`
	Summary  convo.Summary   `json:"summary"`
}

// MessageEvent carries the assistant reply. Degraded is set when the model
// failed or is disabled and the reply was built locally.
type MessageEvent struct {
	Reply          string   `json:"reply"`
	SuggestedTools []string `json:"suggested_tools,omitempty"`
	Degraded       bool     `json:"degraded,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// Turn is the collected result of a chat turn.
type Turn struct {
	SessionID       string                     `json:"session_id"`
	Reply           string                     `json:"reply"`
	Degraded        bool                       `json:"degraded,omitempty"`
	Analysis        analyzer.Result            `json:"analysis"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
	Summary         convo.Summary              `json:"summary"`
}

// Service wires the analyzer, recommendation engine, model and sessions.
type Service struct {
	sessions *session.Manager
	analyzer *analyzer.Analyzer
	engine   *recommend.Engine
	model    ModelClient
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
}

// NewService creates a service. model may be nil, in which case replies are
// built from the recommendations alone.
func NewService(sessions *session.Manager, a *analyzer.Analyzer, engine *recommend.Engine, model ModelClient, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.RecommendLimit <= 0 {
		cfg.RecommendLimit = def.RecommendLimit
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = def.ModelTimeout
	}
	if cfg.AssistantConfidence <= 0 {
		cfg.AssistantConfidence = def.AssistantConfidence
	}
	return &Service{
		sessions: sessions,
		analyzer: a,
		engine:   engine,
		model:    model,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}
}

// ModelEnabled reports whether a language model is configured.
func (s *Service) ModelEnabled() bool {
	return s.model != nil
}

// Engine returns the recommendation engine.
func (s *Service) Engine() *recommend.Engine {
	return s.engine
}

// Chat processes one user message and yields the context, message and
// recommendations events in that order. The session is saved when the
// sequence ends, even if the consumer stops early.
//
//nolint:gocognit // Turn steps are kept inline to preserve ordering.
func (s *Service) Chat(ctx context.Context, req ChatRequest) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		text := strings.TrimSpace(req.Message)
		if text == "" {
			yield(nil, ErrEmptyMessage)
			return
		}
		limit := req.Limit
		if limit <= 0 {
			limit = s.cfg.RecommendLimit
		}

		sess, err := s.sessions.Get(ctx, req.UserID, req.SessionID)
		if err != nil {
			yield(nil, err)
			return
		}
		sess.Lock()
		defer sess.Unlock()

		saved := false
		defer func() {
			if saved {
				return
			}
			if err := s.sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
				s.logger.Error("Failed to save session", "user_id", req.UserID, "session_id", req.SessionID, "error", err)
			}
		}()

		result := s.analyzer.Analyze(sess.Store, text, analyzer.RoleUser)
		s.metrics.MessageAnalyzed(string(analyzer.RoleUser))
		sess.Transcript.Append(string(analyzer.RoleUser), text, time.Now())

		if !yield(&Event{Type: EventContext, Data: ContextEvent{Analysis: result, Summary: sess.Store.Summarize()}}, nil) {
			return
		}

		msg, extra := s.reply(ctx, sess)
		if msg.Reply != "" && !msg.Degraded {
			s.analyzer.Analyze(sess.Store, msg.Reply, analyzer.RoleAssistant)
			s.metrics.MessageAnalyzed(string(analyzer.RoleAssistant))
		}

		recs, err := s.engine.RecommendFused(sess.Store.Snapshot(), text, limit, extra)
		if err != nil {
			yield(nil, err)
			return
		}
		if msg.Degraded && msg.Reply == "" {
			msg.Reply = fallbackReply(recs)
		}
		sess.Transcript.Append(string(analyzer.RoleAssistant), msg.Reply, time.Now())

		if !yield(&Event{Type: EventMessage, Data: msg}, nil) {
			return
		}

		for _, r := range recs {
			s.metrics.RecommendationServed(sourceNames(r.Sources))
		}

		saved = true
		if err := s.sessions.Save(ctx, sess); err != nil {
			yield(nil, err)
			return
		}
		yield(&Event{Type: EventRecommendations, Data: recs}, nil)
	}
}

// reply asks the model for an answer. Model errors and malformed output are
// logged and turned into a degraded message; they never touch the context.
func (s *Service) reply(ctx context.Context, sess *session.Session) (MessageEvent, []recommend.Candidate) {
	if s.model == nil {
		return MessageEvent{Degraded: true}, nil
	}

	req := BuildPrompt(sess.Store.Summarize(), s.engine.Registry(), sess.Transcript.Messages, s.cfg.HistoryWindow)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()

	start := time.Now()
	raw, err := s.model.Complete(callCtx, req)
	if err != nil {
		s.metrics.ObserveModelCall("error", time.Since(start))
		reason := "request"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.metrics.ModelFailure(reason)
		s.logger.Warn("Model request failed", "user_id", sess.Key().UserID, "session_id", sess.Key().SessionID, "error", err)
		return MessageEvent{Degraded: true, Error: "assistant unavailable"}, nil
	}
	s.metrics.ObserveModelCall("ok", time.Since(start))

	parsed, err := ParseReply(raw.Text)
	if err != nil {
		s.metrics.ModelFailure("malformed")
		s.logger.Warn("Discarding malformed model reply", "user_id", sess.Key().UserID, "session_id", sess.Key().SessionID, "error", err)
		return MessageEvent{Degraded: true, Error: "assistant reply unreadable"}, nil
	}

	confidence := parsed.Confidence
	if confidence <= 0 {
		confidence = s.cfg.AssistantConfidence
	}
	extra := recommend.SuggestedCandidates(recommend.SourceAssistant, parsed.SuggestedTools, confidence, "Suggested by the assistant")
	return MessageEvent{Reply: parsed.Text, SuggestedTools: parsed.SuggestedTools}, extra
}

func fallbackReply(recs []recommend.Recommendation) string {
	if len(recs) == 0 {
		return "Tell me a bit more about what's worrying you and I'll point you to the right tool."
	}
	names := make([]string, 0, len(recs))
	for _, r := range recs {
		names = append(names, r.DisplayName)
	}
	return fmt.Sprintf("Based on what you've shared, start with: %s.", strings.Join(names, ", "))
}

func sourceNames(sources []recommend.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// ChatTurn runs Chat to completion and collects the events into a Turn.
func (s *Service) ChatTurn(ctx context.Context, req ChatRequest) (*Turn, error) {
	turn := &Turn{SessionID: req.SessionID}
	for ev, err := range s.Chat(ctx, req) {
		if err != nil {
			return nil, err
		}
		switch data := ev.Data.(type) {
		case ContextEvent:
			turn.Analysis = data.Analysis
		case MessageEvent:
			turn.Reply = data.Reply
			turn.Degraded = data.Degraded
		case []recommend.Recommendation:
			turn.Recommendations = data
		}
	}
	ctxData, err := s.Context(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	turn.Summary = ctxData.Summary
	return turn, nil
}

// Recommend ranks tools for the current session without changing it. With
// fused unset only the contextual family is used.
func (s *Service) Recommend(ctx context.Context, userID, sessionID, text string, limit int, fused bool) ([]recommend.Recommendation, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	snap := sess.Store.Snapshot()
	sess.Unlock()

	var recs []recommend.Recommendation
	if fused {
		recs, err = s.engine.RecommendFused(snap, text, limit)
	} else {
		recs, err = s.engine.Recommend(snap, text, limit)
	}
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		s.metrics.RecommendationServed(sourceNames(r.Sources))
	}
	return recs, nil
}

// RecordUsage records a tool invocation and persists the session.
func (s *Service) RecordUsage(ctx context.Context, userID, sessionID, tool string, successful bool) (usage.Entry, error) {
	if s.engine.Registry().Index(tool) < 0 {
		return usage.Entry{}, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
	}
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return usage.Entry{}, err
	}
	sess.Lock()
	defer sess.Unlock()

	entry, err := sess.Tracker.Record(tool, successful)
	if err != nil {
		return usage.Entry{}, err
	}
	s.metrics.ToolUsed(tool, successful)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return usage.Entry{}, err
	}
	s.logger.Info("Tool use recorded", "user_id", userID, "session_id", sessionID, "tool", tool, "successful", successful)
	return entry, nil
}

// Insights returns per-tool success rates for the session.
func (s *Service) Insights(ctx context.Context, userID, sessionID string) ([]usage.Insight, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Tracker.LearningInsights(), nil
}

// ContextView is the read-only view of a session.
type ContextView struct {
	SessionID string                    `json:"session_id"`
	Context   convo.ConversationContext `json:"context"`
	Summary   convo.Summary             `json:"summary"`
}

// Context returns the session's full context and summary.
func (s *Service) Context(ctx context.Context, userID, sessionID string) (*ContextView, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	snap := sess.Store.Snapshot()
	return &ContextView{SessionID: sessionID, Context: snap, Summary: snap.Summarize()}, nil
}

// Reset starts a new session for the user and returns its id.
func (s *Service) Reset(ctx context.Context, userID, sessionID string, carryOver bool) (string, error) {
	next, err := s.sessions.Reset(ctx, userID, sessionID, carryOver)
	if err != nil {
		return "", err
	}
	return next.Key().SessionID, nil
}
