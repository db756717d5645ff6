package grader

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
)

// #region results

// DocumentGrade labels one retrieved document against the current query.
type DocumentGrade struct {
	Relevant bool
	Score    float32
}

// AnswerGrade labels a draft judgment's quality.
type AnswerGrade struct {
	Pass   bool
	Score  float32
	Reason string
}

// #endregion results

// #region interface

// Grader holds the two pure scoring operations. Implementations must be
// side-effect-free and reproducible for identical inputs at a fixed config.
type Grader interface {
	GradeDocument(ctx context.Context, q planner.Query, doc knowledge.ScoredDocument) (DocumentGrade, error)
	GradeAnswer(ctx context.Context, q planner.Query, docs []knowledge.ScoredDocument, draft model.Draft) (AnswerGrade, error)
}

// #endregion interface

// #region config

// Config holds grading thresholds. Scores must strictly exceed a threshold
// to pass; a tie takes the conservative branch.
type Config struct {
	RelevanceThreshold float32 // document grade must exceed this to be relevant
	PassThreshold      float32 // answer grade must exceed this to pass
}

// DefaultConfig returns the standard grading thresholds.
func DefaultConfig() Config {
	return Config{
		RelevanceThreshold: 0.25,
		PassThreshold:      0.6,
	}
}

// #endregion config

// #region lexical-grader

// LexicalGrader grades via token overlap between query, evidence, and draft.
// Deterministic; the in-process counterpart to a model-backed grader.
type LexicalGrader struct {
	config Config
}

// NewLexicalGrader creates a LexicalGrader with the given thresholds.
func NewLexicalGrader(config Config) *LexicalGrader {
	return &LexicalGrader{config: config}
}

// GradeDocument blends retrieval similarity with query-token overlap.
func (g *LexicalGrader) GradeDocument(_ context.Context, q planner.Query, doc knowledge.ScoredDocument) (DocumentGrade, error) {
	overlap := tokenOverlap(q.Keywords, knowledge.Tokenize(doc.Content))
	score := 0.5*doc.Score + 0.5*overlap
	return DocumentGrade{
		Relevant: score > g.config.RelevanceThreshold,
		Score:    score,
	}, nil
}

// GradeAnswer checks groundedness, completeness, and rationale support.
// An ungrounded citation is an immediate fail regardless of score.
func (g *LexicalGrader) GradeAnswer(_ context.Context, q planner.Query, docs []knowledge.ScoredDocument, draft model.Draft) (AnswerGrade, error) {
	known := make(map[string]knowledge.ScoredDocument, len(docs))
	for _, d := range docs {
		known[d.ID] = d
	}
	for _, c := range draft.Citations {
		if _, ok := known[c.DocID]; !ok {
			return AnswerGrade{
				Pass:   false,
				Score:  0,
				Reason: fmt.Sprintf("ungrounded citation %s", c.DocID),
			}, nil
		}
	}

	var score float32

	// Groundedness: every citation resolved against the relevant subset.
	score += 0.4

	// Completeness: a valid judgment and a non-empty rationale.
	complete := draft.Rationale != "" && validJudgment(draft.Judgment)
	if complete {
		score += 0.2
	}

	// Evidence presence: at least one citation backs the judgment.
	if len(draft.Citations) > 0 {
		score += 0.2
	}

	// Support: rationale overlaps the cited evidence text.
	var citedTokens []string
	for _, c := range draft.Citations {
		citedTokens = append(citedTokens, knowledge.Tokenize(known[c.DocID].Content)...)
	}
	support := tokenOverlap(knowledge.Tokenize(draft.Rationale), citedTokens)
	score += 0.2 * support

	pass := score > g.config.PassThreshold
	reason := "grounded and complete"
	if !pass {
		reason = describeFailure(complete, len(draft.Citations), support)
	}
	return AnswerGrade{Pass: pass, Score: score, Reason: reason}, nil
}

// #endregion lexical-grader

// #region helpers

func tokenOverlap(a, b []string) float32 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	var hits int
	for _, t := range a {
		if set[t] {
			hits++
		}
	}
	return float32(hits) / float32(len(a))
}

func validJudgment(j model.Judgment) bool {
	switch j {
	case model.JudgmentOK, model.JudgmentCaution, model.JudgmentViolation, model.JudgmentNeedsReview:
		return true
	}
	return false
}

func describeFailure(complete bool, citations int, support float32) string {
	switch {
	case !complete:
		return "incomplete draft: missing rationale or judgment"
	case citations == 0:
		return "no citations support the judgment"
	default:
		return fmt.Sprintf("weak rationale support %.2f", support)
	}
}

// #endregion helpers
