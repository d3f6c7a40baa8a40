package recommend

import (
	"errors"
	"slices"
	"testing"

	"github.com/ashureev/shsh-guard/internal/analyzer"
	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/toolregistry"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	reg, err := toolregistry.Default()
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return NewEngine(reg)
}

// passwordConcernContext has one password threat, a compromised identifier
// seen six times, and a concerned user: 2 + 3 = 5, high risk.
func passwordConcernContext() convo.ConversationContext {
	s := convo.NewStore()
	s.AddThreatConcern("password_security")
	s.AddCompromisedIdentifier("a@x.com", 6)
	s.SetMood(convo.MoodConcerned)
	return s.Snapshot()
}

func TestRecommendPasswordConcern(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := passwordConcernContext()
	if c.SecurityState.RiskLevel != convo.RiskHigh {
		t.Fatalf("setup: RiskLevel = %q, want high", c.SecurityState.RiskLevel)
	}

	for name, recommend := range map[string]func() ([]Recommendation, error){
		"contextual": func() ([]Recommendation, error) { return e.Recommend(c, "is my password safe", 3) },
		"fused":      func() ([]Recommendation, error) { return e.RecommendFused(c, "is my password safe", 3) },
	} {
		t.Run(name, func(t *testing.T) {
			recs, err := recommend()
			if err != nil {
				t.Fatalf("recommend failed: %v", err)
			}
			if len(recs) == 0 {
				t.Fatal("expected recommendations")
			}
			top := recs[0]
			if top.ToolKey != "password_checker" {
				t.Errorf("top tool = %q, want password_checker (all: %+v)", top.ToolKey, recs)
			}
			if top.Urgency != UrgencyHigh {
				t.Errorf("urgency = %q, want high", top.Urgency)
			}
		})
	}
}

func TestRecommendGreetingIsEmpty(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := convo.NewStore().Snapshot()

	recs, err := e.Recommend(c, "hello", 5)
	if err != nil {
		t.Fatalf("Recommend failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Recommend(hello) = %+v, want empty", recs)
	}

	recs, err = e.RecommendFused(c, "hello", 5)
	if err != nil {
		t.Fatalf("RecommendFused failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("RecommendFused(hello) = %+v, want empty", recs)
	}
}

func TestRecommendLimit(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := passwordConcernContext()
	text := "my password leaked in a breach, I clicked a phishing link and got malware"

	for _, k := range []int{0, 1, 2, 5, 100} {
		recs, err := e.RecommendFused(c, text, k)
		if err != nil {
			t.Fatalf("limit %d: %v", k, err)
		}
		if len(recs) > k {
			t.Errorf("limit %d: got %d results", k, len(recs))
		}
		for i := 1; i < len(recs); i++ {
			if recs[i].Score > recs[i-1].Score {
				t.Errorf("limit %d: scores not non-increasing at %d: %v > %v", k, i, recs[i].Score, recs[i-1].Score)
			}
		}
	}
}

func TestRecommendNegativeLimit(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := convo.NewStore().Snapshot()
	if _, err := e.Recommend(c, "password", -1); !errors.Is(err, ErrNegativeLimit) {
		t.Errorf("Recommend(-1) error = %v, want ErrNegativeLimit", err)
	}
	if _, err := e.RecommendFused(c, "password", -1); !errors.Is(err, ErrNegativeLimit) {
		t.Errorf("RecommendFused(-1) error = %v, want ErrNegativeLimit", err)
	}
}

func TestFuseTakesMaximumConfidence(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	lists := [][]Candidate{
		SuggestedCandidates(SourceKeyword, []string{"vpn_setup"}, 0.3, "a"),
		SuggestedCandidates(SourceJourney, []string{"vpn_setup"}, 0.4, "b"),
		SuggestedCandidates(SourceAssistant, []string{"vpn_setup", "malware_scan"}, 0.35, "a"),
	}

	fused := e.fuse(lists...)
	if len(fused) != 2 {
		t.Fatalf("expected 2 merged tools, got %d", len(fused))
	}
	vpn := fused[1]
	if vpn.key != "vpn_setup" {
		t.Fatalf("catalogue order broken: %q", vpn.key)
	}
	if vpn.confidence != 0.4 {
		t.Errorf("merged confidence = %v, want max 0.4", vpn.confidence)
	}
	want := []Source{SourceKeyword, SourceJourney, SourceAssistant}
	if !slices.Equal(vpn.sources, want) {
		t.Errorf("sources = %v, want %v", vpn.sources, want)
	}
	if !slices.Equal(vpn.reasons, []string{"a", "b"}) {
		t.Errorf("reasons = %v, want [a b]", vpn.reasons)
	}
}

func TestFusedScoreNeverExceedsSourceMaximum(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := passwordConcernContext()
	text := "is my password safe after the breach"

	perSource := map[string]float64{}
	for _, list := range [][]Candidate{e.Keyword(text), e.Contextual(c, text), e.Journey(c)} {
		for _, cand := range list {
			perSource[cand.ToolKey] = max(perSource[cand.ToolKey], cand.Confidence)
		}
	}

	recs, err := e.RecommendFused(c, text, 20)
	if err != nil {
		t.Fatalf("RecommendFused failed: %v", err)
	}
	for _, r := range recs {
		if r.Score > perSource[r.ToolKey] {
			t.Errorf("%s: fused %v exceeds best source %v", r.ToolKey, r.Score, perSource[r.ToolKey])
		}
	}
}

func TestRankTiesKeepCatalogueOrder(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := convo.NewStore().Snapshot()
	extra := SuggestedCandidates(SourceAssistant, []string{"vpn_setup", "breach_scanner", "malware_scan"}, 0.5, "")

	recs, err := e.RecommendFused(c, "hello", 10, extra)
	if err != nil {
		t.Fatalf("RecommendFused failed: %v", err)
	}
	got := make([]string, len(recs))
	for i, r := range recs {
		got[i] = r.ToolKey
	}
	want := []string{"breach_scanner", "malware_scan", "vpn_setup"}
	if !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestUnknownKeysDropped(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	c := convo.NewStore().Snapshot()
	extra := SuggestedCandidates(SourceAssistant, []string{"teleporter", "vpn_setup"}, 0.5, "")

	recs, err := e.RecommendFused(c, "hello", 10, extra)
	if err != nil {
		t.Fatalf("RecommendFused failed: %v", err)
	}
	if len(recs) != 1 || recs[0].ToolKey != "vpn_setup" {
		t.Errorf("recs = %+v, want only vpn_setup", recs)
	}
	if recs[0].DisplayName == "" {
		t.Error("DisplayName not filled from registry")
	}
}

func TestJourney(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	tests := []struct {
		name string
		prep func(s *convo.Store)
		want []string
	}{
		{name: "nothing raised", prep: func(*convo.Store) {}, want: nil},
		{
			name: "entry tools once a concern exists",
			prep: func(s *convo.Store) { s.AddThreatConcern("malware") },
			want: []string{"password_checker", "breach_scanner"},
		},
		{
			name: "follow-ups of completed tool",
			prep: func(s *convo.Store) { s.RecordToolUse("password_checker", true) },
			want: []string{"password_generator", "two_factor_setup"},
		},
		{
			name: "failed use is not completion",
			prep: func(s *convo.Store) {
				s.AddThreatConcern("malware")
				s.RecordToolUse("password_checker", false)
			},
			want: []string{"password_checker", "breach_scanner"},
		},
		{
			name: "completed follow-ups skipped",
			prep: func(s *convo.Store) {
				s.RecordToolUse("breach_scanner", true)
				s.RecordToolUse("password_checker", true)
			},
			want: []string{"dark_web_monitor", "password_generator", "two_factor_setup"},
		},
		{
			name: "unmet prerequisites skipped",
			prep: func(s *convo.Store) { s.RecordToolUse("social_media_audit", true) },
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := convo.NewStore()
			tt.prep(s)
			var got []string
			for _, cand := range e.Journey(s.Snapshot()) {
				got = append(got, cand.ToolKey)
				if cand.Source != SourceJourney {
					t.Errorf("source = %q, want journey", cand.Source)
				}
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Journey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFusedTopPicksFollowTheMessage(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	tests := []struct {
		message string
		want    string
	}{
		{"I think my computer has a virus and malware, it is infected", "malware_scan"},
		{"robocall scam call on my phone", "phone_scam_lookup"},
		{"unauthorized charge on my credit card", "financial_fraud_check"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s := convo.NewStore()
			analyzer.New().Analyze(s, tt.message, analyzer.RoleUser)

			recs, err := e.RecommendFused(s.Snapshot(), tt.message, 5)
			if err != nil {
				t.Fatalf("RecommendFused failed: %v", err)
			}
			if len(recs) == 0 || recs[0].ToolKey != tt.want {
				t.Fatalf("top recommendation = %+v, want %s", recs, tt.want)
			}
			for _, r := range recs[1:] {
				if slices.Equal(r.Sources, []Source{SourceJourney}) && r.Score >= recs[0].Score {
					t.Errorf("journey-only %s scored %v, not below %v", r.ToolKey, r.Score, recs[0].Score)
				}
			}
		})
	}
}

func TestJourneyBelowThreatMappedTools(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	s := convo.NewStore()
	s.AddThreatConcern("malware")
	s.UpdateProfile(convo.ProfileUpdate{TechLevel: convo.TechBeginner})
	c := s.Snapshot()

	weakest := 1.0
	for _, cand := range e.Contextual(c, "") {
		weakest = min(weakest, cand.Confidence)
	}
	if weakest == 1.0 {
		t.Fatal("setup: no contextual candidates")
	}
	for _, cand := range e.Journey(c) {
		if cand.Confidence >= weakest {
			t.Errorf("entry %s confidence %v >= threat-mapped %v", cand.ToolKey, cand.Confidence, weakest)
		}
	}
	if w := e.weights; w.followUpConfidence() <= w.entryConfidence() || w.followUpConfidence() >= weakest {
		t.Errorf("follow-up %v, entry %v, weakest threat-mapped %v", w.followUpConfidence(), w.entryConfidence(), weakest)
	}
}

func TestClassifyUrgency(t *testing.T) {
	t.Parallel()

	compromised := []convo.CompromisedIdentifier{{Identifier: "a@x.com", OccurrenceCount: 1, Status: convo.StatusCompromised}}

	tests := []struct {
		name string
		risk convo.RiskLevel
		mood convo.Mood
		ids  []convo.CompromisedIdentifier
		want Urgency
	}{
		{name: "critical with identifier", risk: convo.RiskCritical, mood: convo.MoodNeutral, ids: compromised, want: UrgencyImmediate},
		{name: "stressed with identifier", risk: convo.RiskLow, mood: convo.MoodStressed, ids: compromised, want: UrgencyImmediate},
		{name: "critical without identifier", risk: convo.RiskCritical, mood: convo.MoodNeutral, want: UrgencyHigh},
		{name: "high", risk: convo.RiskHigh, mood: convo.MoodNeutral, want: UrgencyHigh},
		{name: "concerned", risk: convo.RiskLow, mood: convo.MoodConcerned, want: UrgencyHigh},
		{name: "medium", risk: convo.RiskMedium, mood: convo.MoodCurious, want: UrgencyMedium},
		{name: "low", risk: convo.RiskLow, mood: convo.MoodNeutral, want: UrgencyLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c convo.ConversationContext
			c.SecurityState.RiskLevel = tt.risk
			c.SecurityState.KnownCompromised = tt.ids
			c.ConversationFlow.Mood = tt.mood
			if got := ClassifyUrgency(c); got != tt.want {
				t.Errorf("ClassifyUrgency() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfidenceFor(t *testing.T) {
	t.Parallel()

	tests := map[float64]Confidence{
		1:    ConfidenceHigh,
		0.6:  ConfidenceHigh,
		0.59: ConfidenceMedium,
		0.3:  ConfidenceMedium,
		0.29: ConfidenceLow,
		0:    ConfidenceLow,
	}
	for score, want := range tests {
		if got := ConfidenceFor(score); got != want {
			t.Errorf("ConfidenceFor(%v) = %q, want %q", score, got, want)
		}
	}
}

func TestExperienceScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level convo.TechLevel
		tier  toolregistry.Tier
		want  float64
	}{
		{convo.TechUnknown, toolregistry.TierAdvanced, 3},
		{convo.TechBeginner, toolregistry.TierBeginner, 5},
		{convo.TechBeginner, toolregistry.TierAdvanced, 1},
		{convo.TechIntermediate, toolregistry.TierAdvanced, 3},
		{convo.TechAdvanced, toolregistry.TierBeginner, 2},
		{convo.TechAdvanced, "", 4},
	}
	for _, tt := range tests {
		if got := experienceScore(tt.level, tt.tier); got != tt.want {
			t.Errorf("experienceScore(%q, %q) = %v, want %v", tt.level, tt.tier, got, tt.want)
		}
	}
}

func TestContextualFactors(t *testing.T) {
	t.Parallel()

	e := newEngine(t)

	t.Run("beginner penalty", func(t *testing.T) {
		s := convo.NewStore()
		s.SetTechLevel(convo.TechBeginner)
		var dark *Candidate
		for _, cand := range e.Contextual(s.Snapshot(), "is my email on the dark web") {
			if cand.ToolKey == "dark_web_monitor" {
				dark = &cand
			}
		}
		if dark == nil {
			t.Fatal("dark_web_monitor not proposed")
		}
		if dark.Factors.StageFit != -2 {
			t.Errorf("StageFit = %v, want -2", dark.Factors.StageFit)
		}
		if dark.Factors.Experience != 1 {
			t.Errorf("Experience = %v, want 1", dark.Factors.Experience)
		}
	})

	t.Run("preferred tool and prior success", func(t *testing.T) {
		s := convo.NewStore()
		s.AddPreferredTool("vpn")
		s.RecordToolUse("vpn_setup", true)
		cands := e.Contextual(s.Snapshot(), "hello")
		if len(cands) != 1 || cands[0].ToolKey != "vpn_setup" {
			t.Fatalf("candidates = %+v, want only vpn_setup", cands)
		}
		if cands[0].Factors.PriorSuccess != 5 {
			t.Errorf("PriorSuccess = %v, want 5", cands[0].Factors.PriorSuccess)
		}
	})

	t.Run("urgency capped", func(t *testing.T) {
		s := convo.NewStore()
		s.AddThreatConcern("identity_theft")
		s.AddThreatConcern("financial_fraud")
		s.AddCompromisedIdentifier("a@x.com", 20)
		s.SetMood(convo.MoodStressed)
		for _, cand := range e.Contextual(s.Snapshot(), "") {
			if cand.ToolKey == "credit_freeze_guide" && cand.Factors.Urgency != 15 {
				t.Errorf("Urgency = %v, want cap 15", cand.Factors.Urgency)
			}
		}
	})

	t.Run("focus overlap", func(t *testing.T) {
		s := convo.NewStore()
		s.AddTopic("password_security", convo.ImportanceHigh)
		cands := e.Contextual(s.Snapshot(), "password")
		if len(cands) == 0 || cands[0].ToolKey != "password_checker" {
			t.Fatalf("candidates = %+v", cands)
		}
		// initial stage allow-list 3 + focus 2
		if cands[0].Factors.StageFit != 5 {
			t.Errorf("StageFit = %v, want 5", cands[0].Factors.StageFit)
		}
	})
}
