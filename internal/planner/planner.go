package planner

import (
	"context"
	"strings"

	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
)

// #region query

// Query is the current search plan for one agent run.
type Query struct {
	Text      string
	Keywords  []string
	RiskTypes []string
}

// #endregion query

// #region interface

// Planner produces the initial query plan and rewrites it after a failed
// retrieval or a failing answer grade.
type Planner interface {
	Plan(ctx context.Context, req model.ReviewRequest, items []model.ReviewItem) (Query, error)
	// Rewrite produces a revised query. iteration is 1-based and selects the
	// rewrite strategy; reason describes why the prior query failed.
	Rewrite(ctx context.Context, prior Query, iteration int, reason string) (Query, error)
}

// #endregion interface

// #region risk-keywords

// riskKeywords maps broadcast-compliance risk types to trigger words found
// in review text. Checked in order; all matching types are kept.
var riskTypeOrder = []string{
	"허위기만",
	"과장효능",
	"최상급표현",
	"긴급구매유도",
	"가격조건오인",
	"비방비교",
	"과격표현",
}

var riskKeywords = map[string][]string{
	"허위기만":   {"무조건", "완치", "보장", "100", "부작용없", "전혀없"},
	"과장효능":   {"효능", "효과", "치료", "개선", "즉시", "탁월", "강력"},
	"최상급표현":  {"최고", "최초", "최대", "최저", "유일", "1위", "제일", "best"},
	"긴급구매유도": {"마감", "매진", "임박", "한정", "서두르", "지금만", "오늘만", "마지막"},
	"가격조건오인": {"공짜", "무료", "반값", "파격", "최저가", "덤", "사은품"},
	"비방비교":   {"타사", "경쟁사", "보다낫", "비교불가"},
	"과격표현":   {"과격", "자극적", "폭력", "선정", "충격", "공포"},
}

// riskSearchTerms expands a risk type into retrieval vocabulary used by the
// risk-focused rewrite strategy.
var riskSearchTerms = map[string][]string{
	"허위기만":   {"허위", "기만", "소비자", "오인"},
	"과장효능":   {"과장", "효능", "표시광고", "실증"},
	"최상급표현":  {"최상급", "절대적", "표현", "객관적", "근거"},
	"긴급구매유도": {"긴급성", "구매", "유도", "한정판매"},
	"가격조건오인": {"가격", "조건", "오인", "표시"},
	"비방비교":   {"비방", "비교", "광고"},
	"과격표현":   {"품위", "표현", "시청자", "정서"},
}

// riskTypeGeneral is the fallback when no keyword matches.
const riskTypeGeneral = "방송심의일반"

// #endregion risk-keywords

// #region keyword-planner

// KeywordPlanner is the deterministic planner: risk typing and query
// construction via keyword heuristics. No external calls.
type KeywordPlanner struct{}

// NewKeywordPlanner returns a KeywordPlanner.
func NewKeywordPlanner() *KeywordPlanner {
	return &KeywordPlanner{}
}

// Plan builds the initial query from every reviewable item text plus the
// request's category, and classifies risk types.
func (p *KeywordPlanner) Plan(_ context.Context, req model.ReviewRequest, items []model.ReviewItem) (Query, error) {
	var parts []string
	for _, it := range items {
		parts = append(parts, it.Text)
	}
	if req.Category != "" {
		parts = append(parts, req.Category)
	}
	text := strings.Join(parts, " ")

	return Query{
		Text:      text,
		Keywords:  knowledge.Tokenize(text),
		RiskTypes: classifyRiskTypes(text),
	}, nil
}

// Rewrite revises the query deterministically, rotating through three
// strategies: risk-type vocabulary, keyword broadening, generic fallback.
func (p *KeywordPlanner) Rewrite(_ context.Context, prior Query, iteration int, _ string) (Query, error) {
	next := Query{RiskTypes: prior.RiskTypes}

	switch {
	case iteration <= 1:
		// Strategy 1: pivot to risk-type search vocabulary.
		var terms []string
		for _, rt := range prior.RiskTypes {
			terms = append(terms, riskSearchTerms[rt]...)
		}
		if len(terms) == 0 {
			terms = []string{"방송", "심의", "기준"}
		}
		terms = append(terms, topKeywords(prior.Keywords, 3)...)
		next.Keywords = dedup(terms)
	case iteration == 2:
		// Strategy 2: broaden by dropping the longest (most specific) keyword.
		next.Keywords = dropLongest(prior.Keywords)
		if len(next.Keywords) == 0 {
			next.Keywords = []string{"방송", "심의", "기준"}
		}
	default:
		// Strategy 3: generic domain fallback.
		next.Keywords = append([]string{"방송", "광고", "심의", "기준"}, prior.RiskTypes...)
	}

	next.Text = strings.Join(next.Keywords, " ")
	return next, nil
}

// #endregion keyword-planner

// #region helpers

func classifyRiskTypes(text string) []string {
	lower := strings.ToLower(text)
	var types []string
	for _, rt := range riskTypeOrder {
		for _, kw := range riskKeywords[rt] {
			if strings.Contains(lower, kw) {
				types = append(types, rt)
				break
			}
		}
	}
	if len(types) == 0 {
		types = []string{riskTypeGeneral}
	}
	return types
}

func topKeywords(keywords []string, n int) []string {
	if len(keywords) <= n {
		return keywords
	}
	return keywords[:n]
}

func dropLongest(keywords []string) []string {
	if len(keywords) <= 1 {
		return nil
	}
	longest := 0
	for i, kw := range keywords {
		if len(kw) > len(keywords[longest]) {
			longest = i
		}
	}
	out := make([]string, 0, len(keywords)-1)
	for i, kw := range keywords {
		if i != longest {
			out = append(out, kw)
		}
	}
	return out
}

func dedup(terms []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// #endregion helpers
