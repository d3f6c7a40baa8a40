package recommend

import (
	"fmt"
	"math"
	"strings"

	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

// Weights multiplies each raw factor score before summing.
type Weights struct {
	Urgency      float64
	Relevance    float64
	Experience   float64
	PriorSuccess float64
	StageFit     float64
}

// DefaultWeights are the production factor weights.
var DefaultWeights = Weights{
	Urgency:      3.0,
	Relevance:    2.5,
	Experience:   2.0,
	PriorSuccess: 1.5,
	StageFit:     1.0,
}

// Raw factor ceilings.
const (
	maxRelevance    = 10
	maxUrgency      = 15
	maxExperience   = 5
	maxPriorSuccess = 5
	maxStageFit     = 5

	perKeywordMatch  = 2
	perThreatMapping = 5
	stressedBonus    = 3
	concernedBonus   = 1

	preferredOverlap = 3
	priorSuccessUse  = 2

	stageAllowed      = 3
	focusOverlap      = 2
	newUserPenalty    = 2
	newUserMessageCap = 3

	neutralExperience = 3
)

// maxTotal is the largest weighted sum the factors can produce. Contextual
// confidence is the weighted sum divided by it.
func (w Weights) maxTotal() float64 {
	return maxUrgency*w.Urgency +
		maxRelevance*w.Relevance +
		maxExperience*w.Experience +
		maxPriorSuccess*w.PriorSuccess +
		maxStageFit*w.StageFit
}

func (w Weights) total(f Factors) float64 {
	return f.Urgency*w.Urgency +
		f.Relevance*w.Relevance +
		f.Experience*w.Experience +
		f.PriorSuccess*w.PriorSuccess +
		f.StageFit*w.StageFit
}

var riskMultiplier = map[convo.RiskLevel]float64{
	convo.RiskCritical: 3,
	convo.RiskHigh:     2,
	convo.RiskMedium:   1,
	convo.RiskLow:      0.5,
	convo.RiskUnknown:  0.5,
}

// experienceMatrix scores user tech level against tool complexity.
var experienceMatrix = map[convo.TechLevel]map[toolregistry.Tier]float64{
	convo.TechBeginner: {
		toolregistry.TierBeginner:     5,
		toolregistry.TierIntermediate: 3,
		toolregistry.TierAdvanced:     1,
	},
	convo.TechIntermediate: {
		toolregistry.TierBeginner:     4,
		toolregistry.TierIntermediate: 5,
		toolregistry.TierAdvanced:     3,
	},
	convo.TechAdvanced: {
		toolregistry.TierBeginner:     2,
		toolregistry.TierIntermediate: 4,
		toolregistry.TierAdvanced:     5,
	},
}

// Contextual scores every tool on the five factors. Experience and stage fit
// only adjust a tool that relevance, urgency or prior success already put
// forward; on their own they never make a candidate.
func (e *Engine) Contextual(c convo.ConversationContext, text string) []Candidate {
	maxTotal := e.weights.maxTotal()
	var out []Candidate
	for _, tool := range e.reg.All() {
		f, reasons := e.score(tool, c, text)
		if f.Relevance <= 0 && f.Urgency <= 0 && f.PriorSuccess <= 0 {
			continue
		}
		total := e.weights.total(f)
		if total <= 0 {
			continue
		}
		conf := total / maxTotal
		if conf > 1 {
			conf = 1
		}
		factors := f
		out = append(out, Candidate{
			ToolKey:    tool.Key,
			Confidence: conf,
			Source:     SourceContextual,
			Reasons:    reasons,
			Factors:    &factors,
		})
	}
	return out
}

func (e *Engine) score(tool toolregistry.ToolDescriptor, c convo.ConversationContext, text string) (Factors, []string) {
	var f Factors
	var reasons []string

	if n := e.reg.KeywordCount(tool.Key, text); n > 0 {
		f.Relevance = math.Min(float64(n*perKeywordMatch), maxRelevance)
		reasons = append(reasons, fmt.Sprintf("Matches %d keyword(s) in your message", n))
	}

	var threats []string
	for _, tag := range c.SecurityState.CurrentThreats {
		for _, key := range e.reg.ToolsForThreat(tag) {
			if key == tool.Key {
				f.Urgency += perThreatMapping
				threats = append(threats, humanize(tag))
			}
		}
	}
	if f.Urgency > 0 {
		f.Urgency *= riskMultiplier[c.SecurityState.RiskLevel]
		switch c.ConversationFlow.Mood {
		case convo.MoodStressed:
			f.Urgency += stressedBonus
		case convo.MoodConcerned:
			f.Urgency += concernedBonus
		}
		f.Urgency = math.Min(f.Urgency, maxUrgency)
		reasons = append(reasons, "Addresses your concern about "+strings.Join(threats, ", "))
	}

	f.Experience = experienceScore(c.UserProfile.TechLevel, tool.Complexity)
	if f.Experience >= 4 && c.UserProfile.TechLevel != convo.TechUnknown {
		reasons = append(reasons, fmt.Sprintf("Suited to your %s experience level", c.UserProfile.TechLevel))
	}

	if phrase, ok := preferredMatch(tool, c.UserProfile.PreferredTools); ok {
		f.PriorSuccess += preferredOverlap
		reasons = append(reasons, fmt.Sprintf("Related to %s, which you mentioned", phrase))
	}
	if c.Session.SuccessfulUse(tool.Key) {
		f.PriorSuccess += priorSuccessUse
		reasons = append(reasons, "Worked for you earlier in this session")
	}

	if e.reg.InStage(c.ConversationFlow.Stage, tool.Key) {
		f.StageFit += stageAllowed
		reasons = append(reasons, fmt.Sprintf("Fits the %s stage of this conversation", c.ConversationFlow.Stage))
	}
	if focus := c.ConversationFlow.CurrentFocus; focus != "" && e.reg.KeywordCount(tool.Key, humanize(focus)) > 0 {
		f.StageFit += focusOverlap
		reasons = append(reasons, "Relevant to your current focus on "+humanize(focus))
	}
	if c.UserProfile.TechLevel == convo.TechBeginner &&
		c.Session.MessageCount < newUserMessageCap &&
		!e.reg.IsBeginnerFriendly(tool.Key) {
		f.StageFit -= newUserPenalty
	}

	return f, reasons
}

func experienceScore(level convo.TechLevel, tier toolregistry.Tier) float64 {
	row, ok := experienceMatrix[level]
	if !ok {
		return neutralExperience
	}
	if tier == "" {
		tier = toolregistry.TierIntermediate
	}
	if s, ok := row[tier]; ok {
		return s
	}
	return row[toolregistry.TierIntermediate]
}

// preferredMatch reports the first preferred tool phrase that names tool:
// it equals a trigger keyword or appears in the tool's name or key.
func preferredMatch(tool toolregistry.ToolDescriptor, preferred []string) (string, bool) {
	name := strings.ToLower(tool.DisplayName)
	key := strings.ReplaceAll(tool.Key, "_", " ")
	for _, p := range preferred {
		phrase := strings.ToLower(strings.TrimSpace(p))
		if phrase == "" {
			continue
		}
		if strings.Contains(name, phrase) || strings.Contains(key, phrase) {
			return p, true
		}
		for _, kw := range tool.TriggerKeywords {
			if kw == phrase {
				return p, true
			}
		}
	}
	return "", false
}

func humanize(tag string) string {
	return strings.ReplaceAll(tag, "_", " ")
}
