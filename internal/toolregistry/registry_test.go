package toolregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/shsh-guard/internal/convo"
)

func TestDefaultCatalogLoads(t *testing.T) {
	t.Parallel()

	r, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if r.Len() == 0 {
		t.Fatal("expected tools in default catalog")
	}

	all := r.All()
	for i, tool := range all {
		if got := r.Index(tool.Key); got != i {
			t.Errorf("Index(%q) = %d, want %d", tool.Key, got, i)
		}
	}
	if all[0].Key != "password_checker" {
		t.Errorf("first tool = %q, want password_checker", all[0].Key)
	}
	if r.Index("nope") != -1 {
		t.Error("Index of unknown key should be -1")
	}
}

func TestByKeyReturnsCopy(t *testing.T) {
	t.Parallel()

	r := MustDefault()
	tool, ok := r.ByKey("password_checker")
	if !ok {
		t.Fatal("password_checker not found")
	}
	tool.TriggerKeywords[0] = "tampered"

	again, _ := r.ByKey("password_checker")
	if again.TriggerKeywords[0] == "tampered" {
		t.Error("registry mutated through returned descriptor")
	}

	if _, ok := r.ByKey("missing"); ok {
		t.Error("ByKey(missing) should report false")
	}
}

func TestMatchingKeywords(t *testing.T) {
	t.Parallel()

	r := MustDefault()

	tests := []struct {
		name string
		text string
		want map[string]int
	}{
		{name: "greeting", text: "hello", want: map[string]int{}},
		{name: "empty", text: "   ", want: map[string]int{}},
		{
			name: "password question",
			text: "Is my PASSWORD safe?",
			want: map[string]int{"password_checker": 2},
		},
		{
			name: "word boundary",
			text: "my passwordless login",
			want: map[string]int{},
		},
		{
			name: "multiple tools",
			text: "I clicked a phishing link and now my laptop has malware",
			want: map[string]int{"phishing_detector": 3, "malware_scan": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[string]int{}
			for _, m := range r.MatchingKeywords(tt.text) {
				got[m.Tool.Key] = m.Count
			}
			if len(got) != len(tt.want) {
				t.Fatalf("MatchingKeywords(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for k, n := range tt.want {
				if got[k] != n {
					t.Errorf("%s count = %d, want %d", k, got[k], n)
				}
			}
		})
	}
}

func TestLookupTables(t *testing.T) {
	t.Parallel()

	r := MustDefault()

	if got := r.ToolsForThreat("password_security"); len(got) == 0 || got[0] != "password_checker" {
		t.Errorf("ToolsForThreat(password_security) = %v", got)
	}
	if got := r.ToolsForThreat("unknown"); len(got) != 0 {
		t.Errorf("ToolsForThreat(unknown) = %v, want empty", got)
	}
	if !r.InStage(convo.StageInitial, "password_checker") {
		t.Error("password_checker should be allowed in initial stage")
	}
	if r.InStage(convo.StageInitial, "dark_web_monitor") {
		t.Error("dark_web_monitor should not be allowed in initial stage")
	}
	initial := r.StageTools(convo.StageInitial)
	if len(initial) != 3 || initial[0] != "password_checker" {
		t.Errorf("StageTools(initial) = %v", initial)
	}
	if !r.IsBeginnerFriendly("breach_scanner") || r.IsBeginnerFriendly("dark_web_monitor") {
		t.Error("beginner-friendly list mismatch")
	}
	if got := r.EntryTools(); len(got) != 2 {
		t.Errorf("EntryTools() = %v", got)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{name: "no tools", yaml: "tools: []\n"},
		{
			name: "duplicate key",
			yaml: "tools:\n  - {key: a, name: A}\n  - {key: a, name: B}\n",
		},
		{
			name: "missing name",
			yaml: "tools:\n  - {key: a}\n",
		},
		{
			name: "bad complexity",
			yaml: "tools:\n  - {key: a, name: A, complexity: wizard}\n",
		},
		{
			name: "bad impact",
			yaml: "tools:\n  - {key: a, name: A, security_impact: extreme}\n",
		},
		{
			name: "unknown follow-up",
			yaml: "tools:\n  - {key: a, name: A, follow_ups: [b]}\n",
		},
		{
			name: "unknown threat tool",
			yaml: "tools:\n  - {key: a, name: A}\nthreats:\n  malware: [b]\n",
		},
		{
			name: "unknown stage",
			yaml: "tools:\n  - {key: a, name: A}\nstages:\n  panicking: [a]\n",
		},
		{
			name: "unknown entry tool",
			yaml: "tools:\n  - {key: a, name: A}\nentry_tools: [z]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			if !errors.Is(err, ErrInvalidCatalog) {
				t.Errorf("Load() error = %v, want ErrInvalidCatalog", err)
			}
		})
	}
}

func TestLoadDefaultsEnums(t *testing.T) {
	t.Parallel()

	r, err := Load([]byte("tools:\n  - {key: a, name: A, keywords: [Foo]}\n"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	tool, _ := r.ByKey("a")
	if tool.Complexity != TierIntermediate {
		t.Errorf("Complexity = %q, want intermediate", tool.Complexity)
	}
	if tool.SecurityImpact != ImpactMedium || tool.UserFriendliness != FriendlinessMedium {
		t.Errorf("unexpected defaults: %+v", tool)
	}
	if r.KeywordCount("a", "foo FOO") != 2 {
		t.Error("keywords should be matched case-insensitively")
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("tools:\n  - {key: only, name: Only}\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	r, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
