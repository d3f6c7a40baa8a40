package recommend

import (
	"fmt"
	"math"

	"github.com/ashureev/shsh-guard/internal/convo"
)

// Journey candidates are scored on the contextual scale as the weighted
// total of a tool that only fits the stage at neutral experience. A
// follow-up also earns the prior-success credit of its completed parent.
// Both stay below any tool that addresses an active threat, so progression
// never outranks what the message is about.
func (w Weights) entryConfidence() float64 {
	return (stageAllowed*w.StageFit + neutralExperience*w.Experience) / w.maxTotal()
}

func (w Weights) followUpConfidence() float64 {
	return w.entryConfidence() + priorSuccessUse*w.PriorSuccess/w.maxTotal()
}

// Keyword proposes tools whose trigger keywords appear in text, scored on
// relevance alone.
func (e *Engine) Keyword(text string) []Candidate {
	matches := e.reg.MatchingKeywords(text)
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		relevance := math.Min(float64(m.Count*perKeywordMatch), maxRelevance)
		out = append(out, Candidate{
			ToolKey:    m.Tool.Key,
			Confidence: relevance / maxRelevance,
			Source:     SourceKeyword,
			Reasons:    []string{fmt.Sprintf("Matches %d keyword(s) in your message", m.Count)},
		})
	}
	return out
}

// Journey proposes the next steps of the user's progression. Before anything
// is completed it offers the entry tools, but only once a concern has been
// raised. After that it offers follow-ups of completed tools whose
// prerequisites are all complete.
func (e *Engine) Journey(c convo.ConversationContext) []Candidate {
	completed := c.Session.CompletedTools()
	if len(completed) == 0 {
		if len(c.SecurityState.CurrentThreats) == 0 {
			return nil
		}
		var out []Candidate
		for _, key := range e.reg.EntryTools() {
			out = append(out, Candidate{
				ToolKey:    key,
				Confidence: e.weights.entryConfidence(),
				Source:     SourceJourney,
				Reasons:    []string{"A good first step for securing your accounts"},
			})
		}
		return out
	}

	done := make(map[string]bool, len(completed))
	for _, k := range completed {
		done[k] = true
	}

	seen := make(map[string]bool)
	var out []Candidate
	for _, key := range completed {
		tool, ok := e.reg.ByKey(key)
		if !ok {
			continue
		}
		for _, next := range tool.FollowUpTools {
			if done[next] || seen[next] {
				continue
			}
			follow, ok := e.reg.ByKey(next)
			if !ok || !prerequisitesMet(follow.PrerequisiteTools, done) {
				continue
			}
			seen[next] = true
			out = append(out, Candidate{
				ToolKey:    next,
				Confidence: e.weights.followUpConfidence(),
				Source:     SourceJourney,
				Reasons:    []string{"Natural next step after " + tool.DisplayName},
			})
		}
	}
	return out
}

func prerequisitesMet(prereqs []string, done map[string]bool) bool {
	for _, p := range prereqs {
		if !done[p] {
			return false
		}
	}
	return true
}

// SuggestedCandidates turns externally suggested tool keys, such as those
// from a validated model reply, into a candidate list. Unknown keys are
// dropped during fusion.
func SuggestedCandidates(source Source, keys []string, confidence float64, reason string) []Candidate {
	out := make([]Candidate, 0, len(keys))
	for _, k := range keys {
		c := Candidate{ToolKey: k, Confidence: confidence, Source: source}
		if reason != "" {
			c.Reasons = []string{reason}
		}
		out = append(out, c)
	}
	return out
}
