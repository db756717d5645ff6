package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
)

// #region interface

// Generator produces a draft judgment from the current query and the
// graded-relevant document subset. Citations are restricted to the documents
// it is given.
type Generator interface {
	Generate(ctx context.Context, q planner.Query, items []model.ReviewItem, docs []knowledge.ScoredDocument) (model.Draft, error)
}

// #endregion interface

// #region config

// Config bounds the rule generator's output.
type Config struct {
	MaxCitations int
	SnippetRunes int
}

// DefaultConfig returns the standard generation limits.
func DefaultConfig() Config {
	return Config{
		MaxCitations: 5,
		SnippetRunes: 120,
	}
}

// #endregion config

// #region judgment-rules

// severity ranks judgments for worst-of composition.
var severity = map[model.Judgment]int{
	model.JudgmentOK:        0,
	model.JudgmentCaution:   1,
	model.JudgmentViolation: 2,
}

// riskJudgments maps each risk type to its base judgment.
var riskJudgments = map[string]model.Judgment{
	"허위기만":   model.JudgmentViolation,
	"과장효능":   model.JudgmentViolation,
	"긴급구매유도": model.JudgmentCaution,
	"최상급표현":  model.JudgmentCaution,
	"가격조건오인": model.JudgmentCaution,
	"비방비교":   model.JudgmentCaution,
	"과격표현":   model.JudgmentCaution,
}

// #endregion judgment-rules

// #region rule-generator

// RuleGenerator drafts judgments deterministically from risk types and
// retrieved evidence. It stands in where a model-backed Generator is not
// wired; the orchestration depends only on the Generator contract.
type RuleGenerator struct {
	config Config
}

// NewRuleGenerator creates a RuleGenerator.
func NewRuleGenerator(config Config) *RuleGenerator {
	return &RuleGenerator{config: config}
}

// Generate composes the worst base judgment across detected risk types,
// cites the strongest evidence, and writes a templated rationale quoting
// the top document.
func (g *RuleGenerator) Generate(_ context.Context, q planner.Query, items []model.ReviewItem, docs []knowledge.ScoredDocument) (model.Draft, error) {
	if len(docs) == 0 {
		return model.Draft{
			Judgment:  model.JudgmentNeedsReview,
			RiskType:  strings.Join(q.RiskTypes, ","),
			Rationale: "insufficient evidence: no relevant documents to ground a judgment",
		}, nil
	}

	ordered := orderEvidence(docs)

	judgment := model.JudgmentOK
	for _, rt := range q.RiskTypes {
		if base, ok := riskJudgments[rt]; ok && severity[base] > severity[judgment] {
			judgment = base
		}
	}
	if judgment == model.JudgmentOK && hasPartition(ordered, knowledge.PartitionCases) {
		// A matching precedent without a typed risk still warrants caution.
		judgment = model.JudgmentCaution
	}

	maxC := g.config.MaxCitations
	if maxC <= 0 {
		maxC = 5
	}
	if len(ordered) > maxC {
		ordered = ordered[:maxC]
	}

	citations := make([]model.Citation, len(ordered))
	for i, d := range ordered {
		citations[i] = model.Citation{
			DocID:     d.ID,
			Partition: string(d.Partition),
			Source:    d.Source,
			Snippet:   truncateRunes(d.Content, g.config.SnippetRunes),
			Score:     d.Score,
		}
	}

	return model.Draft{
		Judgment:     judgment,
		Rationale:    g.rationale(judgment, q, items, ordered),
		RiskType:     strings.Join(q.RiskTypes, ","),
		SuggestedFix: suggestedFix(judgment),
		Citations:    citations,
	}, nil
}

// rationale writes the judgment explanation, precedent cases first, quoting
// the top document so the grader can verify evidence support.
func (g *RuleGenerator) rationale(judgment model.Judgment, q planner.Query, items []model.ReviewItem, docs []knowledge.ScoredDocument) string {
	var b strings.Builder

	top := docs[0]
	if top.Partition == knowledge.PartitionCases {
		fmt.Fprintf(&b, "A similar precedent case (%s) applies to the submitted copy. ", top.ID)
	} else {
		fmt.Fprintf(&b, "The applicable rule (%s) covers the submitted copy. ", top.ID)
	}

	fmt.Fprintf(&b, "Detected risk types: %s. ", strings.Join(q.RiskTypes, ", "))
	fmt.Fprintf(&b, "Judgment %s is supported by %d retrieved reference(s). ", judgment, len(docs))
	fmt.Fprintf(&b, "Key evidence: %q", truncateRunes(top.Content, g.config.SnippetRunes))
	return b.String()
}

// #endregion rule-generator

// #region helpers

// orderEvidence sorts precedent cases ahead of rules, then by descending
// score, then ID. Mirrors the reference priority of the review domain.
func orderEvidence(docs []knowledge.ScoredDocument) []knowledge.ScoredDocument {
	out := make([]knowledge.ScoredDocument, len(docs))
	copy(out, docs)
	sort.Slice(out, func(i, j int) bool {
		ci := out[i].Partition == knowledge.PartitionCases
		cj := out[j].Partition == knowledge.PartitionCases
		if ci != cj {
			return ci
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func hasPartition(docs []knowledge.ScoredDocument, p knowledge.Partition) bool {
	for _, d := range docs {
		if d.Partition == p {
			return true
		}
	}
	return false
}

func suggestedFix(j model.Judgment) string {
	switch j {
	case model.JudgmentViolation:
		return "Remove or substantiate the flagged claim with objective evidence before broadcast."
	case model.JudgmentCaution:
		return "Soften the flagged expression or add the qualifying conditions on screen."
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		n = 120
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// #endregion helpers
