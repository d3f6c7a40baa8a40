// Package analyzer extracts best-effort signals from chat messages and
// applies them to a conversation context.
//
// Detection is a fixed, ordered list of classifiers. Each classifier is a
// pure function of the message text and a read-only view of the context
// and returns a partial Update. A single driver merges the updates and
// applies them to the store; the store recomputes risk on its own.
package analyzer

import (
	"strings"

	"github.com/ashureev/shsh-guard/internal/convo"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// NormalizeRole maps transport role names onto Role. Unknown roles are
// treated as assistant output so they never mutate the user's profile.
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human":
		return RoleUser
	case "system":
		return RoleSystem
	default:
		return RoleAssistant
	}
}

// Update is the partial change proposed by one classifier. Zero fields
// propose nothing.
type Update struct {
	TechLevel convo.TechLevel
	Mood      convo.Mood
	// Stage is applied unconditionally when ForceStage is set; otherwise only
	// while the conversation is still in its initial stage.
	Stage          convo.Stage
	ForceStage     bool
	Threats        []string
	PreferredTools []string
}

// Classifier inspects lower-cased message text.
type Classifier func(text string, c convo.ConversationContext) Update

// Result describes what one Analyze call changed.
type Result struct {
	Role         Role            `json:"role"`
	Applied      Update          `json:"-"`
	NewThreats   []string        `json:"new_threats,omitempty"`
	RiskLevel    convo.RiskLevel `json:"risk_level"`
	Mood         convo.Mood      `json:"mood"`
	Stage        convo.Stage     `json:"stage"`
	MessageCount int             `json:"message_count"`
}

// Analyzer runs a fixed classifier pipeline.
type Analyzer struct {
	classifiers []Classifier
}

// New returns an analyzer over the given classifiers, run in order.
// With no arguments the built-in pipeline is used.
func New(classifiers ...Classifier) *Analyzer {
	if len(classifiers) == 0 {
		classifiers = DefaultClassifiers()
	}
	return &Analyzer{classifiers: classifiers}
}

// DefaultClassifiers returns the built-in pipeline.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		DetectTechLevel,
		DetectMood,
		DetectConcerns,
		DetectToolMentions,
	}
}

// Analyze applies one message to s. Only user messages can change the
// profile, mood or concerns; every message is counted. It never fails.
func (a *Analyzer) Analyze(s *convo.Store, text string, role Role) Result {
	s.RecordMessage()

	var merged Update
	var newThreats []string
	if role == RoleUser {
		lower := strings.ToLower(text)
		view := s.Snapshot()
		for _, classify := range a.classifiers {
			merged = merge(merged, classify(lower, view))
		}
		newThreats = apply(s, merged, view.ConversationFlow.Stage)
	}

	c := s.Snapshot()
	return Result{
		Role:         role,
		Applied:      merged,
		NewThreats:   newThreats,
		RiskLevel:    c.SecurityState.RiskLevel,
		Mood:         c.ConversationFlow.Mood,
		Stage:        c.ConversationFlow.Stage,
		MessageCount: c.Session.MessageCount,
	}
}

func merge(into, u Update) Update {
	if u.TechLevel != "" {
		into.TechLevel = u.TechLevel
	}
	if u.Mood != "" {
		into.Mood = u.Mood
	}
	if u.Stage != "" && (u.ForceStage || !into.ForceStage) {
		into.Stage = u.Stage
		into.ForceStage = u.ForceStage
	}
	into.Threats = append(into.Threats, u.Threats...)
	into.PreferredTools = append(into.PreferredTools, u.PreferredTools...)
	return into
}

func apply(s *convo.Store, u Update, stage convo.Stage) []string {
	s.SetTechLevel(u.TechLevel)
	s.SetMood(u.Mood)

	var added []string
	for _, tag := range u.Threats {
		if s.AddThreatConcern(tag) {
			added = append(added, tag)
		}
		s.AddTopic(tag, convo.ImportanceHigh)
	}
	for _, name := range u.PreferredTools {
		s.AddPreferredTool(name)
	}

	if u.ForceStage || stage == convo.StageInitial {
		s.SetStage(u.Stage)
	}
	return added
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// DetectTechLevel picks the bucket with the strictly highest hit count.
// Ties, including all-zero, propose nothing.
func DetectTechLevel(text string, _ convo.ConversationContext) Update {
	best, bestCount, tied := convo.TechLevel(""), 0, false
	for _, b := range techBuckets {
		n := countHits(text, b.keywords)
		switch {
		case n > bestCount:
			best, bestCount, tied = b.level, n, false
		case n == bestCount && n > 0:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return Update{}
	}
	return Update{TechLevel: best}
}

// DetectMood sets the last matching mood bucket. Stressed forces the
// urgent stage and satisfied forces resolved.
func DetectMood(text string, _ convo.ConversationContext) Update {
	var u Update
	for _, b := range moodBuckets {
		if countHits(text, b.keywords) > 0 {
			u.Mood = b.mood
		}
	}
	switch u.Mood {
	case convo.MoodStressed:
		u.Stage, u.ForceStage = convo.StageUrgent, true
	case convo.MoodSatisfied:
		u.Stage, u.ForceStage = convo.StageResolved, true
	}
	return u
}

// DetectConcerns reports every concern category mentioned in text. Raising
// a concern moves a conversation out of its initial stage.
func DetectConcerns(text string, c convo.ConversationContext) Update {
	var u Update
	for _, cat := range concernCategories {
		if countHits(text, cat.keywords) > 0 {
			u.Threats = append(u.Threats, cat.tag)
		}
	}
	if len(u.Threats) > 0 && c.ConversationFlow.Stage == convo.StageInitial {
		u.Stage = convo.StageInvestigating
	}
	return u
}

// DetectToolMentions collects known tool names.
func DetectToolMentions(text string, _ convo.ConversationContext) Update {
	var u Update
	for _, name := range toolMentions {
		if strings.Contains(text, name) {
			u.PreferredTools = append(u.PreferredTools, name)
		}
	}
	return u
}
