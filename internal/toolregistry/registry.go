// Package toolregistry holds the static catalogue of security tools the
// assistant can recommend, together with the fixed lookup tables the
// recommendation engine scores against.
//
// A Registry is immutable after Load and safe for concurrent use.
package toolregistry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/shsh-guard/internal/convo"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrInvalidCatalog wraps every catalogue validation failure.
var ErrInvalidCatalog = errors.New("invalid tool catalog")

// Tier is a tool's complexity tier.
type Tier string

const (
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
)

// Impact is how much a tool improves the user's security posture.
type Impact string

const (
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactVeryHigh Impact = "very_high"
)

// Friendliness is how approachable a tool is for non-experts.
type Friendliness string

const (
	FriendlinessLow    Friendliness = "low"
	FriendlinessMedium Friendliness = "medium"
	FriendlinessHigh   Friendliness = "high"
)

// ToolDescriptor describes one catalogue entry.
type ToolDescriptor struct {
	Key               string       `yaml:"key" json:"key"`
	DisplayName       string       `yaml:"name" json:"display_name"`
	Category          string       `yaml:"category" json:"category"`
	Complexity        Tier         `yaml:"complexity" json:"complexity"`
	TriggerKeywords   []string     `yaml:"keywords" json:"trigger_keywords"`
	PrerequisiteTools []string     `yaml:"prerequisites" json:"prerequisite_tools,omitempty"`
	FollowUpTools     []string     `yaml:"follow_ups" json:"follow_up_tools,omitempty"`
	SecurityImpact    Impact       `yaml:"security_impact" json:"security_impact"`
	UserFriendliness  Friendliness `yaml:"user_friendliness" json:"user_friendliness"`
}

func (d ToolDescriptor) clone() ToolDescriptor {
	d.TriggerKeywords = append([]string(nil), d.TriggerKeywords...)
	d.PrerequisiteTools = append([]string(nil), d.PrerequisiteTools...)
	d.FollowUpTools = append([]string(nil), d.FollowUpTools...)
	return d
}

// KeywordMatch is one tool whose trigger keywords occur in a text.
type KeywordMatch struct {
	Tool  ToolDescriptor
	Count int
}

type catalogFile struct {
	Tools            []ToolDescriptor    `yaml:"tools"`
	Threats          map[string][]string `yaml:"threats"`
	Stages           map[string][]string `yaml:"stages"`
	BeginnerFriendly []string            `yaml:"beginner_friendly"`
	EntryTools       []string            `yaml:"entry_tools"`
}

// Registry is the loaded, validated catalogue.
type Registry struct {
	tools    []ToolDescriptor
	index    map[string]int
	patterns [][]*regexp.Regexp
	threats  map[string][]string
	stages   map[convo.Stage]map[string]struct{}
	beginner map[string]struct{}
	entry    []string
}

// Default loads the catalogue embedded in the binary.
func Default() (*Registry, error) {
	return Load(defaultCatalog)
}

// MustDefault is Default for callers that cannot recover from a broken build.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic("toolregistry: embedded catalog: " + err.Error())
	}
	return r
}

// LoadFile reads and validates a catalogue from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML catalogue.
func Load(data []byte) (*Registry, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tool catalog: %w", err)
	}
	return build(file)
}

func build(file catalogFile) (*Registry, error) {
	if len(file.Tools) == 0 {
		return nil, fmt.Errorf("%w: no tools defined", ErrInvalidCatalog)
	}

	r := &Registry{
		tools:    make([]ToolDescriptor, 0, len(file.Tools)),
		index:    make(map[string]int, len(file.Tools)),
		patterns: make([][]*regexp.Regexp, 0, len(file.Tools)),
		threats:  make(map[string][]string, len(file.Threats)),
		stages:   make(map[convo.Stage]map[string]struct{}, len(file.Stages)),
		beginner: make(map[string]struct{}, len(file.BeginnerFriendly)),
	}

	for i, tool := range file.Tools {
		tool.Key = strings.TrimSpace(tool.Key)
		if tool.Key == "" {
			return nil, fmt.Errorf("%w: tools[%d]: key must not be empty", ErrInvalidCatalog, i)
		}
		if _, dup := r.index[tool.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate tool key %q", ErrInvalidCatalog, tool.Key)
		}
		if strings.TrimSpace(tool.DisplayName) == "" {
			return nil, fmt.Errorf("%w: tool %q: name must not be empty", ErrInvalidCatalog, tool.Key)
		}
		if err := normalizeEnums(&tool); err != nil {
			return nil, fmt.Errorf("%w: tool %q: %v", ErrInvalidCatalog, tool.Key, err)
		}

		patterns := make([]*regexp.Regexp, 0, len(tool.TriggerKeywords))
		for j, kw := range tool.TriggerKeywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				return nil, fmt.Errorf("%w: tool %q: keywords[%d] is empty", ErrInvalidCatalog, tool.Key, j)
			}
			tool.TriggerKeywords[j] = kw
			patterns = append(patterns, keywordPattern(kw))
		}

		r.index[tool.Key] = len(r.tools)
		r.tools = append(r.tools, tool)
		r.patterns = append(r.patterns, patterns)
	}

	for _, tool := range r.tools {
		if err := r.checkRefs("tool "+tool.Key+" prerequisites", tool.PrerequisiteTools); err != nil {
			return nil, err
		}
		if err := r.checkRefs("tool "+tool.Key+" follow_ups", tool.FollowUpTools); err != nil {
			return nil, err
		}
	}

	for tag, keys := range file.Threats {
		if err := r.checkRefs("threat "+tag, keys); err != nil {
			return nil, err
		}
		r.threats[tag] = append([]string(nil), keys...)
	}

	for name, keys := range file.Stages {
		stage := convo.Stage(name)
		if !validStage(stage) {
			return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidCatalog, name)
		}
		if err := r.checkRefs("stage "+name, keys); err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			set[k] = struct{}{}
		}
		r.stages[stage] = set
	}

	if err := r.checkRefs("beginner_friendly", file.BeginnerFriendly); err != nil {
		return nil, err
	}
	for _, k := range file.BeginnerFriendly {
		r.beginner[k] = struct{}{}
	}

	if err := r.checkRefs("entry_tools", file.EntryTools); err != nil {
		return nil, err
	}
	r.entry = append([]string(nil), file.EntryTools...)

	return r, nil
}

func normalizeEnums(tool *ToolDescriptor) error {
	switch tool.Complexity {
	case "":
		tool.Complexity = TierIntermediate
	case TierBeginner, TierIntermediate, TierAdvanced:
	default:
		return fmt.Errorf("unknown complexity %q", tool.Complexity)
	}
	switch tool.SecurityImpact {
	case "":
		tool.SecurityImpact = ImpactMedium
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactVeryHigh:
	default:
		return fmt.Errorf("unknown security_impact %q", tool.SecurityImpact)
	}
	switch tool.UserFriendliness {
	case "":
		tool.UserFriendliness = FriendlinessMedium
	case FriendlinessLow, FriendlinessMedium, FriendlinessHigh:
	default:
		return fmt.Errorf("unknown user_friendliness %q", tool.UserFriendliness)
	}
	return nil
}

func (r *Registry) checkRefs(where string, keys []string) error {
	for _, k := range keys {
		if _, ok := r.index[k]; !ok {
			return fmt.Errorf("%w: %s references unknown tool %q", ErrInvalidCatalog, where, k)
		}
	}
	return nil
}

func validStage(s convo.Stage) bool {
	switch s {
	case convo.StageInitial, convo.StageInvestigating, convo.StageActing, convo.StageUrgent, convo.StageResolved:
		return true
	}
	return false
}

// keywordPattern compiles a case-insensitive whole-word matcher for kw.
func keywordPattern(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
}

// Len returns the number of tools.
func (r *Registry) Len() int {
	return len(r.tools)
}

// ByKey returns the tool with the given key.
func (r *Registry) ByKey(key string) (ToolDescriptor, bool) {
	i, ok := r.index[key]
	if !ok {
		return ToolDescriptor{}, false
	}
	return r.tools[i].clone(), true
}

// Index returns the catalogue position of key, or -1.
func (r *Registry) Index(key string) int {
	if i, ok := r.index[key]; ok {
		return i
	}
	return -1
}

// All returns every tool in catalogue order.
func (r *Registry) All() []ToolDescriptor {
	out := make([]ToolDescriptor, len(r.tools))
	for i, t := range r.tools {
		out[i] = t.clone()
	}
	return out
}

// MatchingKeywords counts whole-word trigger keyword occurrences per tool.
// Tools with no match are omitted; the result is in catalogue order.
func (r *Registry) MatchingKeywords(text string) []KeywordMatch {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []KeywordMatch
	for i, tool := range r.tools {
		if n := r.countMatches(i, text); n > 0 {
			out = append(out, KeywordMatch{Tool: tool.clone(), Count: n})
		}
	}
	return out
}

// KeywordCount returns the number of trigger keyword occurrences of key in text.
func (r *Registry) KeywordCount(key, text string) int {
	i, ok := r.index[key]
	if !ok {
		return 0
	}
	return r.countMatches(i, text)
}

func (r *Registry) countMatches(i int, text string) int {
	n := 0
	for _, p := range r.patterns[i] {
		n += len(p.FindAllStringIndex(text, -1))
	}
	return n
}

// ToolsForThreat returns the tool keys mapped to a threat tag.
func (r *Registry) ToolsForThreat(tag string) []string {
	return append([]string(nil), r.threats[tag]...)
}

// StageTools returns the allow-list for stage in catalogue order.
func (r *Registry) StageTools(stage convo.Stage) []string {
	set := r.stages[stage]
	var out []string
	for _, t := range r.tools {
		if _, ok := set[t.Key]; ok {
			out = append(out, t.Key)
		}
	}
	return out
}

// InStage reports whether key is on the allow-list for stage.
func (r *Registry) InStage(stage convo.Stage, key string) bool {
	_, ok := r.stages[stage][key]
	return ok
}

// IsBeginnerFriendly reports whether key is safe to show new beginners.
func (r *Registry) IsBeginnerFriendly(key string) bool {
	_, ok := r.beginner[key]
	return ok
}

// EntryTools returns the tools suggested before anything has been completed.
func (r *Registry) EntryTools() []string {
	return append([]string(nil), r.entry...)
}
