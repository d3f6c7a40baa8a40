// Package convo holds the per-session conversation context: what is known
// about the user, their security situation, and where the conversation is.
//
// A Store is owned by exactly one session. It performs no I/O; persistence is a
// plain serialize/restore of the snapshot (see snapshot.go).
package convo

import "time"

// TechLevel is the user's detected technical proficiency.
type TechLevel string

const (
	TechUnknown      TechLevel = "unknown"
	TechBeginner     TechLevel = "beginner"
	TechIntermediate TechLevel = "intermediate"
	TechAdvanced     TechLevel = "advanced"
)

// RiskTolerance is the user's stated appetite for risk.
type RiskTolerance string

const (
	ToleranceUnknown RiskTolerance = "unknown"
	ToleranceLow     RiskTolerance = "low"
	ToleranceMedium  RiskTolerance = "medium"
	ToleranceHigh    RiskTolerance = "high"
)

// CommunicationStyle is how the user prefers to be addressed.
type CommunicationStyle string

const (
	StyleUnknown   CommunicationStyle = "unknown"
	StyleFormal    CommunicationStyle = "formal"
	StyleCasual    CommunicationStyle = "casual"
	StyleTechnical CommunicationStyle = "technical"
)

// RiskLevel is derived from threats, compromised identifiers and mood.
// It is never set directly; see Store.RecomputeRisk.
type RiskLevel string

const (
	RiskUnknown  RiskLevel = "unknown"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IdentifierStatus marks whether an identifier was found in a breach record.
type IdentifierStatus string

const (
	StatusCompromised IdentifierStatus = "compromised"
	StatusClean       IdentifierStatus = "clean"
)

// Importance ranks a conversation topic.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Mood is the user's detected emotional state.
type Mood string

const (
	MoodNeutral   Mood = "neutral"
	MoodStressed  Mood = "stressed"
	MoodConcerned Mood = "concerned"
	MoodCurious   Mood = "curious"
	MoodSatisfied Mood = "satisfied"
)

// Stage is the coarse conversation phase.
type Stage string

const (
	StageInitial       Stage = "initial"
	StageInvestigating Stage = "investigating"
	StageActing        Stage = "acting"
	StageUrgent        Stage = "urgent"
	StageResolved      Stage = "resolved"
)

// ConversationContext is the full state tracked for one session.
type ConversationContext struct {
	UserProfile      UserProfile      `json:"user_profile"`
	SecurityState    SecurityState    `json:"security_state"`
	ConversationFlow ConversationFlow `json:"conversation_flow"`
	Session          SessionInfo      `json:"session"`
}

// UserProfile describes the user as inferred from the conversation.
type UserProfile struct {
	TechLevel          TechLevel          `json:"tech_level"`
	RiskTolerance      RiskTolerance      `json:"risk_tolerance"`
	PreferredTools     []string           `json:"preferred_tools"`
	CommunicationStyle CommunicationStyle `json:"communication_style"`
}

// SecurityState is what is known about the user's exposure.
type SecurityState struct {
	KnownCompromised []CompromisedIdentifier `json:"known_compromised"`
	CurrentThreats   []string                `json:"current_threats"`
	RiskLevel        RiskLevel               `json:"risk_level"`
	UrgentActions    []string                `json:"urgent_actions"`
}

// CompromisedIdentifier is an email or similar credential seen in a breach.
type CompromisedIdentifier struct {
	Identifier      string           `json:"identifier"`
	OccurrenceCount int              `json:"occurrence_count"`
	DiscoveredAt    time.Time        `json:"discovered_at"`
	Status          IdentifierStatus `json:"status"`
}

// ConversationFlow tracks topics and the phase of the conversation.
type ConversationFlow struct {
	Topics       []Topic `json:"topics"`
	CurrentFocus string  `json:"current_focus,omitempty"`
	Mood         Mood    `json:"mood"`
	Stage        Stage   `json:"stage"`
}

// Topic is one subject raised in the conversation.
type Topic struct {
	Topic      string     `json:"topic"`
	Importance Importance `json:"importance"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
}

// SessionInfo is bookkeeping for the current session.
type SessionInfo struct {
	MessageCount int       `json:"message_count"`
	StartTime    time.Time `json:"start_time"`
	LastActivity time.Time `json:"last_activity"`
	ToolsUsed    []ToolUse `json:"tools_used"`
}

// ToolUse records one invocation of a tool.
type ToolUse struct {
	Tool       string    `json:"tool"`
	Timestamp  time.Time `json:"timestamp"`
	Successful bool      `json:"successful"`
}

// HasThreat reports whether tag is among the current threats.
func (s SecurityState) HasThreat(tag string) bool {
	return containsString(s.CurrentThreats, tag)
}

// CompromisedCount returns the number of identifiers still marked compromised.
func (s SecurityState) CompromisedCount() int {
	n := 0
	for _, id := range s.KnownCompromised {
		if id.Status == StatusCompromised {
			n++
		}
	}
	return n
}

// SuccessfulUse reports whether tool has at least one successful recorded use.
func (s SessionInfo) SuccessfulUse(tool string) bool {
	for _, u := range s.ToolsUsed {
		if u.Tool == tool && u.Successful {
			return true
		}
	}
	return false
}

// CompletedTools returns the distinct tools with a successful use, in first-use order.
func (s SessionInfo) CompletedTools() []string {
	var out []string
	for _, u := range s.ToolsUsed {
		if u.Successful && !containsString(out, u.Tool) {
			out = append(out, u.Tool)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
