package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/shsh-guard/internal/convo"
	"github.com/ashureev/shsh-guard/internal/domain"
	"github.com/ashureev/shsh-guard/internal/store"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAnalyzeCmd(t *testing.T) {
	out, err := run(t, "", "analyze", "I think my password was exposed in a data breach")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	var got analyzeOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if len(got.Results) != 1 || got.Summary.MessageCount != 1 {
		t.Errorf("results = %d, message count = %d", len(got.Results), got.Summary.MessageCount)
	}
	found := false
	for _, r := range got.Recommendations {
		if r.ToolKey == "breach_scanner" {
			found = true
		}
	}
	if !found {
		t.Errorf("recommendations %+v missing breach_scanner", got.Recommendations)
	}
	if got.Context != nil {
		t.Error("context included without --context")
	}
}

func TestAnalyzeCmdReadsStdin(t *testing.T) {
	out, err := run(t, "hello\n\nsomeone opened a credit card in my name\n", "analyze", "--context", "-n", "2")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	var got analyzeOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got.Results) != 2 {
		t.Errorf("results = %d, want 2 (blank lines skipped)", len(got.Results))
	}
	if got.Context == nil || got.Context.Session.MessageCount != 2 {
		t.Errorf("context = %+v", got.Context)
	}
	if len(got.Recommendations) > 2 {
		t.Errorf("got %d recommendations, limit 2", len(got.Recommendations))
	}
}

func TestAnalyzeCmdErrors(t *testing.T) {
	if _, err := run(t, "", "analyze"); err == nil {
		t.Error("expected error with no messages")
	}
	if _, err := run(t, "", "analyze", "--limit=-1", "password"); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestCatalogCmd(t *testing.T) {
	out, err := run(t, "", "catalog")
	if err != nil {
		t.Fatalf("catalog failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(lines[0], "KEY") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(out, "password_checker") {
		t.Error("table missing password_checker")
	}

	out, err = run(t, "", "catalog", "--json", "--category", "NO_SUCH_CATEGORY")
	if err != nil {
		t.Fatalf("catalog --json failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("filtered output = %q, want []", out)
	}
}

func TestInsightsCmd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "guard.db")
	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}

	s := convo.NewStore()
	for _, ok := range []bool{true, false, true, true} {
		s.RecordToolUse("vpn_setup", ok)
	}
	s.RecordToolUse("password_checker", true)
	snap, err := s.MarshalSnapshot()
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	conv := &domain.Conversation{UserID: "anon_cli", SessionID: "default", ContextJSON: string(snap)}
	if err := repo.UpsertConversation(context.Background(), conv); err != nil {
		t.Fatalf("UpsertConversation failed: %v", err)
	}
	_ = repo.Close()

	out, err := run(t, "", "insights", "--db", dbPath, "--user", "anon_cli")
	if err != nil {
		t.Fatalf("insights failed: %v", err)
	}
	var got struct {
		Insights []struct {
			Tool        string  `json:"tool"`
			Uses        int     `json:"uses"`
			SuccessRate float64 `json:"success_rate"`
		} `json:"insights"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got.Insights) != 1 || got.Insights[0].Tool != "vpn_setup" || got.Insights[0].Uses != 4 || got.Insights[0].SuccessRate != 0.75 {
		t.Errorf("insights = %+v", got.Insights)
	}

	if _, err := run(t, "", "insights", "--db", dbPath, "--user", "anon_cli", "--session", "other"); !errors.Is(err, errConversationNotFound) {
		t.Errorf("missing session error = %v, want errConversationNotFound", err)
	}
}
