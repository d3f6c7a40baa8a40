package convo

import (
	"math"
	"strings"
	"time"
)

// Risk thresholds on the score computed by riskScore.
const (
	criticalRiskScore = 8
	highRiskScore     = 5
	mediumRiskScore   = 2

	perOccurrenceWeight = 0.5
	maxIdentifierWeight = 5
	perThreatWeight     = 2
	stressedWeight      = 3
)

// Store owns a ConversationContext and exposes the only sanctioned ways to
// mutate it. Every mutation that can change an input of the risk score
// recomputes RiskLevel before returning.
//
// A Store is not safe for concurrent use; the owning session serializes access.
type Store struct {
	ctx ConversationContext
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a Store holding a default-initialized context.
func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx = s.defaultContext()
	s.RecomputeRisk()
	return s
}

// NewStoreFrom creates a Store around an existing context, e.g. one restored
// from a snapshot. The risk level is recomputed rather than trusted.
func NewStoreFrom(c ConversationContext, opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx = c.clone()
	s.RecomputeRisk()
	return s
}

func (s *Store) defaultContext() ConversationContext {
	now := s.timestamp()
	return ConversationContext{
		UserProfile: UserProfile{
			TechLevel:          TechUnknown,
			RiskTolerance:      ToleranceUnknown,
			CommunicationStyle: StyleUnknown,
		},
		SecurityState: SecurityState{
			RiskLevel: RiskUnknown,
		},
		ConversationFlow: ConversationFlow{
			Mood:  MoodNeutral,
			Stage: StageInitial,
		},
		Session: SessionInfo{
			StartTime:    now,
			LastActivity: now,
		},
	}
}

// timestamp returns the current time without a monotonic reading so stored
// values survive a JSON round trip unchanged.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Round(0)
}

// ProfileUpdate carries a partial profile change. Zero values are ignored.
type ProfileUpdate struct {
	TechLevel          TechLevel
	RiskTolerance      RiskTolerance
	CommunicationStyle CommunicationStyle
	PreferredTools     []string
}

// UpdateProfile applies the non-zero fields of u.
func (s *Store) UpdateProfile(u ProfileUpdate) {
	if u.TechLevel != "" {
		s.ctx.UserProfile.TechLevel = u.TechLevel
	}
	if u.RiskTolerance != "" {
		s.ctx.UserProfile.RiskTolerance = u.RiskTolerance
	}
	if u.CommunicationStyle != "" {
		s.ctx.UserProfile.CommunicationStyle = u.CommunicationStyle
	}
	for _, t := range u.PreferredTools {
		s.AddPreferredTool(t)
	}
}

// SetTechLevel overwrites the detected technical level.
func (s *Store) SetTechLevel(level TechLevel) {
	if level == "" {
		return
	}
	s.ctx.UserProfile.TechLevel = level
}

// AddPreferredTool adds name to the preferred tools set. It returns false if
// the name was empty or already present.
func (s *Store) AddPreferredTool(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || containsString(s.ctx.UserProfile.PreferredTools, name) {
		return false
	}
	s.ctx.UserProfile.PreferredTools = append(s.ctx.UserProfile.PreferredTools, name)
	return true
}

// AddThreatConcern adds tag to the current threats. It returns false if the
// tag was already present.
func (s *Store) AddThreatConcern(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || s.ctx.SecurityState.HasThreat(tag) {
		return false
	}
	s.ctx.SecurityState.CurrentThreats = append(s.ctx.SecurityState.CurrentThreats, tag)
	s.RecomputeRisk()
	return true
}

// AddCompromisedIdentifier records id as compromised with the given breach
// occurrence count. The first write wins: if id is already known the call
// changes nothing and returns false.
func (s *Store) AddCompromisedIdentifier(id string, count int) bool {
	id = normalizeIdentifier(id)
	if id == "" {
		return false
	}
	if s.identifierIndex(id) >= 0 {
		return false
	}
	if count < 0 {
		count = 0
	}
	s.ctx.SecurityState.KnownCompromised = append(s.ctx.SecurityState.KnownCompromised, CompromisedIdentifier{
		Identifier:      id,
		OccurrenceCount: count,
		DiscoveredAt:    s.timestamp(),
		Status:          StatusCompromised,
	})
	s.RecomputeRisk()
	return true
}

// MarkIdentifierClean flips a known identifier to clean, removing it from the
// risk score. It returns false if id is unknown.
func (s *Store) MarkIdentifierClean(id string) bool {
	i := s.identifierIndex(normalizeIdentifier(id))
	if i < 0 {
		return false
	}
	s.ctx.SecurityState.KnownCompromised[i].Status = StatusClean
	s.RecomputeRisk()
	return true
}

func (s *Store) identifierIndex(id string) int {
	for i, known := range s.ctx.SecurityState.KnownCompromised {
		if known.Identifier == id {
			return i
		}
	}
	return -1
}

func normalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// AddUrgentAction appends a pending urgent action, skipping duplicates.
func (s *Store) AddUrgentAction(action string) {
	action = strings.TrimSpace(action)
	if action == "" || containsString(s.ctx.SecurityState.UrgentActions, action) {
		return
	}
	s.ctx.SecurityState.UrgentActions = append(s.ctx.SecurityState.UrgentActions, action)
}

// AddTopic appends a topic. A high-importance topic becomes the current focus.
// The focus is never cleared here or anywhere else.
func (s *Store) AddTopic(topic string, importance Importance) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	if importance == "" {
		importance = ImportanceMedium
	}
	s.ctx.ConversationFlow.Topics = append(s.ctx.ConversationFlow.Topics, Topic{
		Topic:      topic,
		Importance: importance,
		Timestamp:  s.timestamp(),
	})
	if importance == ImportanceHigh {
		s.ctx.ConversationFlow.CurrentFocus = topic
	}
}

// ResolveTopic marks every open topic with the given name as resolved and
// reports how many changed. CurrentFocus is left untouched.
func (s *Store) ResolveTopic(topic string) int {
	n := 0
	for i := range s.ctx.ConversationFlow.Topics {
		t := &s.ctx.ConversationFlow.Topics[i]
		if t.Topic == topic && !t.Resolved {
			t.Resolved = true
			n++
		}
	}
	return n
}

// SetMood sets the detected mood.
func (s *Store) SetMood(mood Mood) {
	if mood == "" {
		return
	}
	s.ctx.ConversationFlow.Mood = mood
	s.RecomputeRisk()
}

// SetStage sets the conversation stage.
func (s *Store) SetStage(stage Stage) {
	if stage == "" {
		return
	}
	s.ctx.ConversationFlow.Stage = stage
}

// RecordMessage counts one analyzed message and bumps LastActivity.
func (s *Store) RecordMessage() {
	s.ctx.Session.MessageCount++
	s.ctx.Session.LastActivity = s.timestamp()
}

// RecordToolUse appends a tool invocation outcome to the session.
func (s *Store) RecordToolUse(tool string, successful bool) ToolUse {
	use := ToolUse{
		Tool:       tool,
		Timestamp:  s.timestamp(),
		Successful: successful,
	}
	s.ctx.Session.ToolsUsed = append(s.ctx.Session.ToolsUsed, use)
	s.ctx.Session.LastActivity = use.Timestamp
	return use
}

// RecomputeRisk derives RiskLevel from the current state. It is idempotent.
func (s *Store) RecomputeRisk() RiskLevel {
	s.ctx.SecurityState.RiskLevel = ComputeRisk(s.ctx.SecurityState, s.ctx.ConversationFlow.Mood)
	return s.ctx.SecurityState.RiskLevel
}

// ComputeRisk is the pure risk function:
//
//	score = Σ min(occurrences*0.5, 5) over compromised identifiers
//	      + 2 * len(threats)
//	      + 3 if stressed
//
// mapped to critical (>=8), high (>=5), medium (>=2) or low.
func ComputeRisk(state SecurityState, mood Mood) RiskLevel {
	score := riskScore(state, mood)
	switch {
	case score >= criticalRiskScore:
		return RiskCritical
	case score >= highRiskScore:
		return RiskHigh
	case score >= mediumRiskScore:
		return RiskMedium
	default:
		return RiskLow
	}
}

func riskScore(state SecurityState, mood Mood) float64 {
	score := 0.0
	for _, id := range state.KnownCompromised {
		if id.Status != StatusCompromised {
			continue
		}
		score += math.Min(float64(id.OccurrenceCount)*perOccurrenceWeight, maxIdentifierWeight)
	}
	score += float64(len(state.CurrentThreats)) * perThreatWeight
	if mood == MoodStressed {
		score += stressedWeight
	}
	return score
}

// Reset discards the context and starts over. With carryOver the detected
// tech level and the known compromised identifiers survive.
func (s *Store) Reset(carryOver bool) {
	prev := s.ctx
	s.ctx = s.defaultContext()
	if carryOver {
		s.ctx.UserProfile.TechLevel = prev.UserProfile.TechLevel
		if len(prev.SecurityState.KnownCompromised) > 0 {
			s.ctx.SecurityState.KnownCompromised = append([]CompromisedIdentifier(nil), prev.SecurityState.KnownCompromised...)
		}
	}
	s.RecomputeRisk()
}

// Snapshot returns a deep copy of the full context.
func (s *Store) Snapshot() ConversationContext {
	return s.ctx.clone()
}

func (c ConversationContext) clone() ConversationContext {
	out := c
	out.UserProfile.PreferredTools = cloneSlice(c.UserProfile.PreferredTools)
	out.SecurityState.KnownCompromised = cloneSlice(c.SecurityState.KnownCompromised)
	out.SecurityState.CurrentThreats = cloneSlice(c.SecurityState.CurrentThreats)
	out.SecurityState.UrgentActions = cloneSlice(c.SecurityState.UrgentActions)
	out.ConversationFlow.Topics = cloneSlice(c.ConversationFlow.Topics)
	out.Session.ToolsUsed = cloneSlice(c.Session.ToolsUsed)
	return out
}

// cloneSlice copies s, preserving the nil/empty distinction.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
