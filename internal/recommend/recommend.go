// Package recommend ranks security tools for a conversation.
//
// Candidates come from independent families (keyword, contextual, journey,
// and any caller-supplied list such as validated model output). Families
// are merged per tool by taking the maximum confidence, never the sum, then
// ranked with catalogue order as the tie-break.
package recommend

import (
	"errors"

	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

// ErrNegativeLimit is returned when a caller asks for fewer than zero results.
var ErrNegativeLimit = errors.New("recommend: negative limit")

// Source names the family that proposed a candidate.
type Source string

const (
	SourceKeyword    Source = "keyword"
	SourceContextual Source = "contextual"
	SourceJourney    Source = "journey"
	SourceAssistant  Source = "assistant"
)

var sourceOrder = map[Source]int{
	SourceKeyword:    0,
	SourceContextual: 1,
	SourceJourney:    2,
	SourceAssistant:  3,
}

// Urgency classifies how soon the user should act.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyImmediate Urgency = "immediate"
)

// Confidence is the coarse bucket of a recommendation score.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Factors holds the raw, unweighted per-factor scores of the contextual family.
type Factors struct {
	Relevance    float64 `json:"relevance"`
	Urgency      float64 `json:"urgency"`
	Experience   float64 `json:"experience"`
	PriorSuccess float64 `json:"prior_success"`
	StageFit     float64 `json:"stage_fit"`
}

// Recommendation is one ranked suggestion.
type Recommendation struct {
	ToolKey     string     `json:"tool_key"`
	DisplayName string     `json:"display_name"`
	Score       float64    `json:"score"`
	Sources     []Source   `json:"sources"`
	Reasons     []string   `json:"reasons"`
	Urgency     Urgency    `json:"urgency"`
	Confidence  Confidence `json:"confidence"`
	Factors     *Factors   `json:"factors,omitempty"`
}

// Candidate is one family's proposal for a tool. Confidence is in [0,1].
type Candidate struct {
	ToolKey    string
	Confidence float64
	Source     Source
	Reasons    []string
	Factors    *Factors
}

// Engine scores tools from a registry. It holds no per-session state and is
// safe for concurrent use.
type Engine struct {
	reg     *toolregistry.Registry
	weights Weights
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWeights overrides the factor weights.
func WithWeights(w Weights) EngineOption {
	return func(e *Engine) { e.weights = w }
}

// NewEngine returns an engine over reg.
func NewEngine(reg *toolregistry.Registry, opts ...EngineOption) *Engine {
	e := &Engine{reg: reg, weights: DefaultWeights}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the catalogue the engine scores against.
func (e *Engine) Registry() *toolregistry.Registry {
	return e.reg
}

// Recommend ranks tools using the five contextual factors only.
func (e *Engine) Recommend(c convo.ConversationContext, text string, limit int) ([]Recommendation, error) {
	if limit < 0 {
		return nil, ErrNegativeLimit
	}
	return e.rank(c, limit, e.Contextual(c, text)), nil
}

// RecommendFused merges the keyword, contextual and journey families plus
// any extra candidate lists supplied by the caller.
func (e *Engine) RecommendFused(c convo.ConversationContext, text string, limit int, extra ...[]Candidate) ([]Recommendation, error) {
	if limit < 0 {
		return nil, ErrNegativeLimit
	}
	lists := [][]Candidate{
		e.Keyword(text),
		e.Contextual(c, text),
		e.Journey(c),
	}
	lists = append(lists, extra...)
	return e.rank(c, limit, lists...), nil
}
