package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/compliance-review/internal/generator"
	"github.com/danielpatrickdp/compliance-review/internal/grader"
	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
)

// #region errors

// ErrRunFailed marks a run aborted before producing any recommendation:
// provider retries exhausted, every partition unavailable, or the run budget
// spent. The request must revert to REQUESTED.
var ErrRunFailed = errors.New("run failed")

// #endregion errors

// #region config

// Config bounds one recommendation run.
type Config struct {
	TopK         int           // documents per partition per retrieval
	MaxRewrites  int           // iteration cap, counted at rewrite_query
	NodeRetries  int           // extra attempts per provider call
	RetryBackoff time.Duration // initial backoff between node retries, doubled each time
	NodeTimeout  time.Duration // per provider call
	RunBudget    time.Duration // wall clock for the whole run
}

// DefaultConfig returns the standard run bounds.
func DefaultConfig() Config {
	return Config{
		TopK:         5,
		MaxRewrites:  3,
		NodeRetries:  2,
		RetryBackoff: 200 * time.Millisecond,
		NodeTimeout:  30 * time.Second,
		RunBudget:    2 * time.Minute,
	}
}

// #endregion config

// #region agent

// Agent executes the plan → retrieve → grade → generate → grade cycle for a
// single request. One run is a single sequential cursor over the graph;
// distinct requests run fully independently.
type Agent struct {
	retriever knowledge.Retriever
	planner   planner.Planner
	grader    grader.Grader
	generator generator.Generator
	config    Config
}

// New wires an agent from its four providers.
func New(r knowledge.Retriever, p planner.Planner, g grader.Grader, gen generator.Generator, config Config) *Agent {
	return &Agent{retriever: r, planner: p, grader: g, generator: gen, config: config}
}

// #endregion agent

// #region run

// Run executes the graph to completion for one request and returns the
// resulting recommendation. Insufficient evidence never fails the run: the
// loop degrades into a NEEDS_REVIEW recommendation at the iteration cap.
// Only provider exhaustion or a spent budget returns ErrRunFailed.
func (a *Agent) Run(ctx context.Context, req model.ReviewRequest, items []model.ReviewItem) (model.Recommendation, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, a.config.RunBudget)
	defer cancel()

	st := State{Node: NodePlan}

	for st.Node != NodeDone {
		oc, err := a.step(ctx, req, items, &st)
		if err != nil {
			return model.Recommendation{}, fmt.Errorf("node %s: %v: %w", st.Node, err, ErrRunFailed)
		}
		st.Node = nextNode(st.Node, oc)
	}

	rec := a.finalize(req, &st)
	rec.LatencyMS = int(time.Since(start).Milliseconds())
	log.Printf("[AGENT] %s: outcome=%s judgment=%s iterations=%d citations=%d",
		req.ID, rec.Outcome, rec.Judgment, rec.Iterations, len(rec.Citations))
	return rec, nil
}

// step executes the current node and returns the outgoing edge label.
func (a *Agent) step(ctx context.Context, req model.ReviewRequest, items []model.ReviewItem, st *State) (outcome, error) {
	switch st.Node {
	case NodePlan:
		q, err := a.planner.Plan(ctx, req, items)
		if err != nil {
			return "", err
		}
		st.Query = q
		log.Printf("[AGENT] %s: plan risk_types=%v keywords=%d", req.ID, q.RiskTypes, len(q.Keywords))
		return outcomeAdvance, nil

	case NodeRetrieve:
		docs, err := a.retrieveAll(ctx, st.Query)
		if err != nil {
			return "", err
		}
		st.Retrieved = docs
		st.Relevant = nil
		return outcomeAdvance, nil

	case NodeGradeDocuments:
		relevant, err := a.gradeDocuments(ctx, st.Query, st.Retrieved)
		if err != nil {
			return "", err
		}
		st.Relevant = relevant
		log.Printf("[AGENT] %s: graded %d/%d relevant (iteration=%d)",
			req.ID, len(relevant), len(st.Retrieved), st.Iteration)
		if len(relevant) == 0 {
			return outcomeNoEvidence, nil
		}
		return outcomeRelevant, nil

	case NodeRewriteQuery:
		// The iteration cap lives here: every cycle passes through rewrite,
		// so bounding it bounds the whole loop.
		if st.Iteration >= a.config.MaxRewrites {
			a.exhaust(st)
			return outcomeExhausted, nil
		}
		st.Iteration++
		q, err := a.planner.Rewrite(ctx, st.Query, st.Iteration, rewriteReason(st))
		if err != nil {
			return "", err
		}
		st.Query = q
		log.Printf("[AGENT] %s: rewrite %d → %q", req.ID, st.Iteration, q.Text)
		return outcomeAdvance, nil

	case NodeGenerate:
		var draft model.Draft
		err := a.withRetry(ctx, "generate", func(ctx context.Context) error {
			var err error
			draft, err = a.generator.Generate(ctx, st.Query, items, st.Relevant)
			return err
		})
		if err != nil {
			return "", err
		}
		st.Draft = &draft
		return outcomeAdvance, nil

	case NodeGradeAnswer:
		var ag grader.AnswerGrade
		err := a.withRetry(ctx, "grade_answer", func(ctx context.Context) error {
			var err error
			ag, err = a.grader.GradeAnswer(ctx, st.Query, st.Relevant, *st.Draft)
			return err
		})
		if err != nil {
			return "", err
		}
		st.AnswerGrade = &ag
		if ag.Pass {
			st.Outcome = model.OutcomePassed
			return outcomePass, nil
		}
		log.Printf("[AGENT] %s: answer grade failed (%.2f): %s", req.ID, ag.Score, ag.Reason)
		return outcomeFail, nil
	}
	return "", fmt.Errorf("unknown node %s", st.Node)
}

// #endregion run

// #region rewrite-termination

// exhaust marks the forced termination at the iteration cap: the last draft
// degrades into the recommendation, or the run reports insufficient evidence.
func (a *Agent) exhaust(st *State) {
	if st.Draft != nil {
		st.Outcome = model.OutcomeDegraded
		return
	}
	st.Outcome = model.OutcomeExhausted
}

func rewriteReason(st *State) string {
	if st.AnswerGrade != nil && !st.AnswerGrade.Pass {
		return st.AnswerGrade.Reason
	}
	return "no relevant documents retrieved"
}

// #endregion rewrite-termination

// #region retrieve-all

// retrieveAll queries the three partitions concurrently, tolerating
// per-partition unavailability, and merges the results deduplicated by
// document ID. All three failing aborts the run.
func (a *Agent) retrieveAll(ctx context.Context, q planner.Query) ([]knowledge.ScoredDocument, error) {
	partitions := knowledge.Partitions()
	results := make([][]knowledge.ScoredDocument, len(partitions))
	errs := make([]error, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		i, p := i, p
		g.Go(func() error {
			errs[i] = a.withRetry(gctx, "retrieve/"+string(p), func(ctx context.Context) error {
				docs, err := a.retriever.Retrieve(ctx, p, q.Text, a.config.TopK)
				if err != nil {
					return err
				}
				results[i] = docs
				return nil
			})
			return nil // per-partition errors captured in errs
		})
	}
	_ = g.Wait()

	var merged []knowledge.ScoredDocument
	seen := make(map[string]bool)
	failures := 0
	for i, p := range partitions {
		if errs[i] != nil {
			failures++
			log.Printf("[AGENT] retrieve %s failed: %v", p, errs[i])
			continue
		}
		for _, d := range results[i] {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			merged = append(merged, d)
		}
	}
	if failures == len(partitions) {
		return nil, fmt.Errorf("all partitions failed: %w", errs[0])
	}
	return merged, nil
}

// #endregion retrieve-all

// #region grade-documents

func (a *Agent) gradeDocuments(ctx context.Context, q planner.Query, docs []knowledge.ScoredDocument) ([]knowledge.ScoredDocument, error) {
	var relevant []knowledge.ScoredDocument
	for _, doc := range docs {
		var dg grader.DocumentGrade
		doc := doc
		err := a.withRetry(ctx, "grade_document", func(ctx context.Context) error {
			var err error
			dg, err = a.grader.GradeDocument(ctx, q, doc)
			return err
		})
		if err != nil {
			return nil, err
		}
		if dg.Relevant {
			relevant = append(relevant, doc)
		}
	}
	return relevant, nil
}

// #endregion grade-documents

// #region node-retry

// withRetry runs one provider call with bounded backoff. Distinct from the
// query-rewrite loop: these attempts never touch the iteration counter.
// Partition unavailability is permanent for the attempt and not retried.
func (a *Agent) withRetry(ctx context.Context, name string, fn func(context.Context) error) error {
	backoff := a.config.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= a.config.NodeRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if a.config.NodeTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, a.config.NodeTimeout)
		}
		err := fn(callCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, knowledge.ErrPartitionUnavailable) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		log.Printf("[AGENT] %s attempt %d/%d failed: %v", name, attempt+1, a.config.NodeRetries+1, err)
	}
	return lastErr
}

// #endregion node-retry

// #region finalize

// finalize builds the recommendation from the terminal run state.
func (a *Agent) finalize(req model.ReviewRequest, st *State) model.Recommendation {
	rec := model.Recommendation{
		RequestID:  req.ID,
		Outcome:    st.Outcome,
		Iterations: st.Iteration,
	}

	switch st.Outcome {
	case model.OutcomeExhausted:
		rec.Judgment = model.JudgmentNeedsReview
		rec.Rationale = fmt.Sprintf(
			"insufficient evidence: no relevant documents found after %d query rewrites; escalating to manual review",
			st.Iteration)
		rec.RiskType = strings.Join(st.Query.RiskTypes, ",")
	default:
		rec.Judgment = st.Draft.Judgment
		rec.Rationale = st.Draft.Rationale
		rec.RiskType = st.Draft.RiskType
		rec.Citations = st.Draft.Citations
		if st.AnswerGrade != nil {
			rec.Score = st.AnswerGrade.Score
		}
	}
	return rec
}

// #endregion finalize
