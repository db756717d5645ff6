package agent

import (
	"github.com/danielpatrickdp/compliance-review/internal/grader"
	"github.com/danielpatrickdp/compliance-review/internal/knowledge"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/planner"
)

// #region nodes

// Node is a vertex of the recommendation graph.
type Node string

const (
	NodePlan           Node = "plan"
	NodeRetrieve       Node = "retrieve"
	NodeGradeDocuments Node = "grade_documents"
	NodeRewriteQuery   Node = "rewrite_query"
	NodeGenerate       Node = "generate"
	NodeGradeAnswer    Node = "grade_answer"
	NodeDone           Node = "done"
)

// #endregion nodes

// #region outcomes

// outcome is the edge label a node emits on completion.
type outcome string

const (
	outcomeAdvance    outcome = "advance"     // unconditional edge
	outcomeRelevant   outcome = "relevant"    // grade_documents found evidence
	outcomeNoEvidence outcome = "no_evidence" // grade_documents found none
	outcomePass       outcome = "pass"        // grade_answer accepted the draft
	outcomeFail       outcome = "fail"        // grade_answer rejected the draft
	outcomeExhausted  outcome = "exhausted"   // iteration cap reached at rewrite_query
)

// #endregion outcomes

// #region transition-table

// edges is the complete transition function of the cyclic graph:
// (node, outcome) → next node. Keeping it as one table keeps the iteration
// cap and audit hooks centralized; nodes never pick their own successor.
var edges = map[Node]map[outcome]Node{
	NodePlan: {
		outcomeAdvance: NodeRetrieve,
	},
	NodeRetrieve: {
		outcomeAdvance: NodeGradeDocuments,
	},
	NodeGradeDocuments: {
		outcomeRelevant:   NodeGenerate,
		outcomeNoEvidence: NodeRewriteQuery,
	},
	NodeRewriteQuery: {
		outcomeAdvance:   NodeRetrieve,
		outcomeExhausted: NodeDone,
	},
	NodeGenerate: {
		outcomeAdvance: NodeGradeAnswer,
	},
	NodeGradeAnswer: {
		outcomePass: NodeDone,
		// A failing answer is a symptom of misdirected retrieval: revise the
		// query before any retry, never loop straight back to generate.
		outcomeFail: NodeRewriteQuery,
	},
}

// nextNode resolves one step of the transition function.
func nextNode(n Node, oc outcome) Node {
	if next, ok := edges[n][oc]; ok {
		return next
	}
	return NodeDone
}

// #endregion transition-table

// #region run-state

// State is the run-local value threaded through the transition function.
// Never shared across runs; concurrent runs need no synchronization.
type State struct {
	Node      Node
	Query     planner.Query
	Iteration int // rewrite count, bounded by Config.MaxRewrites

	Retrieved []knowledge.ScoredDocument // latest retrieval only, replaced each pass
	Relevant  []knowledge.ScoredDocument // graded-relevant subset of Retrieved

	Draft       *model.Draft
	AnswerGrade *grader.AnswerGrade
	Outcome     model.RunOutcome
}

// #endregion run-state
