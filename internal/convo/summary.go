package convo

import (
	"fmt"
	"strings"
)

// recentTopicLimit bounds how many topics a Summary carries.
const recentTopicLimit = 3

// Summary is the condensed view of a context used for prompt building and
// debug display.
type Summary struct {
	TechLevel        TechLevel `json:"tech_level"`
	RiskLevel        RiskLevel `json:"risk_level"`
	Mood             Mood      `json:"mood"`
	Stage            Stage     `json:"stage"`
	CurrentFocus     string    `json:"current_focus,omitempty"`
	ActiveThreats    []string  `json:"active_threats"`
	CompromisedCount int       `json:"compromised_count"`
	RecentTopics     []string  `json:"recent_topics"`
	PreferredTools   []string  `json:"preferred_tools"`
	ToolsCompleted   []string  `json:"tools_completed"`
	UrgentActions    []string  `json:"urgent_actions"`
	MessageCount     int       `json:"message_count"`
}

// Summarize returns the condensed view of the current context.
func (s *Store) Summarize() Summary {
	return s.ctx.Summarize()
}

// Summarize returns the condensed view of c.
func (c ConversationContext) Summarize() Summary {
	topics := c.ConversationFlow.Topics
	if len(topics) > recentTopicLimit {
		topics = topics[len(topics)-recentTopicLimit:]
	}
	recent := make([]string, 0, len(topics))
	for _, t := range topics {
		recent = append(recent, t.Topic)
	}
	return Summary{
		TechLevel:        c.UserProfile.TechLevel,
		RiskLevel:        c.SecurityState.RiskLevel,
		Mood:             c.ConversationFlow.Mood,
		Stage:            c.ConversationFlow.Stage,
		CurrentFocus:     c.ConversationFlow.CurrentFocus,
		ActiveThreats:    cloneSlice(c.SecurityState.CurrentThreats),
		CompromisedCount: c.SecurityState.CompromisedCount(),
		RecentTopics:     recent,
		PreferredTools:   cloneSlice(c.UserProfile.PreferredTools),
		ToolsCompleted:   c.Session.CompletedTools(),
		UrgentActions:    cloneSlice(c.SecurityState.UrgentActions),
		MessageCount:     c.Session.MessageCount,
	}
}

// String renders the summary as compact "key: value" lines for an outbound
// prompt. Empty fields are omitted.
func (s Summary) String() string {
	var b strings.Builder
	line := func(key, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "%s: %s\n", key, value)
	}
	line("User technical level", string(s.TechLevel))
	line("Risk level", string(s.RiskLevel))
	line("Mood", string(s.Mood))
	line("Conversation stage", string(s.Stage))
	line("Current focus", humanize(s.CurrentFocus))
	line("Active concerns", joinHumanized(s.ActiveThreats))
	if s.CompromisedCount > 0 {
		line("Compromised identifiers", fmt.Sprintf("%d", s.CompromisedCount))
	}
	line("Recent topics", joinHumanized(s.RecentTopics))
	line("Mentioned tools", strings.Join(s.PreferredTools, ", "))
	line("Tools completed", strings.Join(s.ToolsCompleted, ", "))
	line("Pending urgent actions", strings.Join(s.UrgentActions, "; "))
	line("Messages so far", fmt.Sprintf("%d", s.MessageCount))
	return strings.TrimRight(b.String(), "\n")
}

func humanize(tag string) string {
	return strings.ReplaceAll(tag, "_", " ")
}

func joinHumanized(tags []string) string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = humanize(t)
	}
	return strings.Join(out, ", ")
}
