package recommend

import (
	"cmp"
	"slices"

	"github.com/ashureev/shsh-guard/internal/convo"
)

// Confidence bucket thresholds.
const (
	highConfidence   = 0.6
	mediumConfidence = 0.3
)

type merged struct {
	key        string
	index      int
	confidence float64
	sources    []Source
	reasons    []string
	factors    *Factors
}

// fuse merges candidate lists by tool key. The merged confidence is the
// maximum seen across lists; sources are unioned and reasons concatenated
// without duplicates. Keys unknown to the registry and non-positive
// confidences are dropped. The result is in catalogue order.
func (e *Engine) fuse(lists ...[]Candidate) []*merged {
	byKey := make(map[string]*merged)
	for _, list := range lists {
		for _, cand := range list {
			idx := e.reg.Index(cand.ToolKey)
			if idx < 0 || cand.Confidence <= 0 {
				continue
			}
			m, ok := byKey[cand.ToolKey]
			if !ok {
				m = &merged{key: cand.ToolKey, index: idx}
				byKey[cand.ToolKey] = m
			}
			m.confidence = max(m.confidence, min(cand.Confidence, 1))
			if cand.Source != "" && !slices.Contains(m.sources, cand.Source) {
				m.sources = append(m.sources, cand.Source)
			}
			for _, r := range cand.Reasons {
				if !slices.Contains(m.reasons, r) {
					m.reasons = append(m.reasons, r)
				}
			}
			if cand.Factors != nil && m.factors == nil {
				m.factors = cand.Factors
			}
		}
	}

	out := make([]*merged, 0, len(byKey))
	for _, m := range byKey {
		slices.SortStableFunc(m.sources, func(a, b Source) int {
			return cmp.Compare(sourceOrder[a], sourceOrder[b])
		})
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *merged) int { return cmp.Compare(a.index, b.index) })
	return out
}

// rank fuses, sorts by confidence with catalogue order as tie-break, and
// truncates to limit.
func (e *Engine) rank(c convo.ConversationContext, limit int, lists ...[]Candidate) []Recommendation {
	if limit == 0 {
		return []Recommendation{}
	}
	fused := e.fuse(lists...)
	slices.SortStableFunc(fused, func(a, b *merged) int {
		return cmp.Compare(b.confidence, a.confidence)
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}

	urgency := ClassifyUrgency(c)
	out := make([]Recommendation, 0, len(fused))
	for _, m := range fused {
		tool, _ := e.reg.ByKey(m.key)
		out = append(out, Recommendation{
			ToolKey:     m.key,
			DisplayName: tool.DisplayName,
			Score:       m.confidence,
			Sources:     m.sources,
			Reasons:     m.reasons,
			Urgency:     urgency,
			Confidence:  ConfidenceFor(m.confidence),
			Factors:     m.factors,
		})
	}
	return out
}

// ClassifyUrgency derives the urgency of acting from risk and mood. Critical
// risk with no compromised identifier on record is reported as high.
func ClassifyUrgency(c convo.ConversationContext) Urgency {
	risk := c.SecurityState.RiskLevel
	mood := c.ConversationFlow.Mood
	switch {
	case (risk == convo.RiskCritical || mood == convo.MoodStressed) && c.SecurityState.CompromisedCount() >= 1:
		return UrgencyImmediate
	case risk == convo.RiskCritical || risk == convo.RiskHigh || mood == convo.MoodConcerned:
		return UrgencyHigh
	case risk == convo.RiskMedium:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// ConfidenceFor buckets a score in [0,1].
func ConfidenceFor(score float64) Confidence {
	switch {
	case score >= highConfidence:
		return ConfidenceHigh
	case score >= mediumConfidence:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
