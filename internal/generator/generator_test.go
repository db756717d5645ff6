package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
)

func evidence() []knowledge.ScoredDocument {
	return []knowledge.ScoredDocument{
		{Document: knowledge.Document{ID: "reg-001", Partition: knowledge.PartitionRegulations,
			Content: "허위 기만 광고 금지"}, Score: 0.9},
		{Document: knowledge.Document{ID: "case-007", Partition: knowledge.PartitionCases,
			Content: "완치 보장 표현 경고 사례"}, Score: 0.5},
	}
}

func TestGenerateWorstOfRiskTypes(t *testing.T) {
	g := NewRuleGenerator(DefaultConfig())
	q := planner.Query{RiskTypes: []string{"긴급구매유도", "허위기만"}}

	draft, err := g.Generate(context.Background(), q, nil, evidence())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Judgment != model.JudgmentViolation {
		t.Fatalf("expected VIOLATION from worst risk type, got %s", draft.Judgment)
	}
	if draft.SuggestedFix == "" {
		t.Fatal("expected a suggested fix for a violation")
	}
	if draft.RiskType != "긴급구매유도,허위기만" {
		t.Fatalf("unexpected risk type %q", draft.RiskType)
	}
}

func TestGenerateCautionFromPrecedentOnly(t *testing.T) {
	g := NewRuleGenerator(DefaultConfig())
	// No typed risk maps to a judgment, but a precedent case is present.
	q := planner.Query{RiskTypes: []string{"방송심의일반"}}

	draft, err := g.Generate(context.Background(), q, nil, evidence())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Judgment != model.JudgmentCaution {
		t.Fatalf("expected CAUTION when a precedent matches, got %s", draft.Judgment)
	}
}

func TestGenerateNoEvidenceNeedsReview(t *testing.T) {
	g := NewRuleGenerator(DefaultConfig())
	q := planner.Query{RiskTypes: []string{"과장효능"}}

	draft, err := g.Generate(context.Background(), q, nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Judgment != model.JudgmentNeedsReview {
		t.Fatalf("expected NEEDS_REVIEW without evidence, got %s", draft.Judgment)
	}
	if len(draft.Citations) != 0 {
		t.Fatal("expected no citations without evidence")
	}
}

func TestGenerateCitesPrecedentFirst(t *testing.T) {
	g := NewRuleGenerator(DefaultConfig())
	q := planner.Query{RiskTypes: []string{"허위기만"}}

	draft, err := g.Generate(context.Background(), q, nil, evidence())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(draft.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(draft.Citations))
	}
	// Case evidence outranks the higher-scored regulation.
	if draft.Citations[0].DocID != "case-007" {
		t.Fatalf("expected precedent cited first, got %s", draft.Citations[0].DocID)
	}
	if !strings.Contains(draft.Rationale, "case-007") {
		t.Fatalf("expected rationale to name the precedent, got %q", draft.Rationale)
	}
}

func TestGenerateCapsCitations(t *testing.T) {
	g := NewRuleGenerator(Config{MaxCitations: 1, SnippetRunes: 10})
	q := planner.Query{RiskTypes: []string{"허위기만"}}

	draft, err := g.Generate(context.Background(), q, nil, evidence())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(draft.Citations) != 1 {
		t.Fatalf("expected citation cap of 1, got %d", len(draft.Citations))
	}
	if got := len([]rune(draft.Citations[0].Snippet)); got > 10 {
		t.Fatalf("expected snippet capped at 10 runes, got %d", got)
	}
}

func TestGenerateCitationsSubsetOfInput(t *testing.T) {
	g := NewRuleGenerator(DefaultConfig())
	docs := evidence()
	known := make(map[string]bool)
	for _, d := range docs {
		known[d.ID] = true
	}

	draft, err := g.Generate(context.Background(), planner.Query{RiskTypes: []string{"과장효능"}}, nil, docs)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, c := range draft.Citations {
		if !known[c.DocID] {
			t.Fatalf("citation %s not in supplied evidence", c.DocID)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("가나다라마", 3); got != "가나다" {
		t.Fatalf("expected 가나다, got %q", got)
	}
	if got := truncateRunes("short", 100); got != "short" {
		t.Fatalf("expected unchanged, got %q", got)
	}
}
