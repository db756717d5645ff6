package model

import "time"

// #region status

// Status is the lifecycle state of a review request.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusAIRunning Status = "AI_RUNNING"
	StatusReviewing Status = "REVIEWING"
	StatusDone      Status = "DONE"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusRejected
}

// #endregion status

// #region item-type

// ItemType distinguishes the two reviewable text kinds within a request.
type ItemType string

const (
	ItemRequestText ItemType = "REQUEST_TEXT"
	ItemEmphasisBar ItemType = "EMPHASIS_BAR"
)

// #endregion item-type

// #region judgment

// Judgment is an AI or draft decision label.
type Judgment string

const (
	JudgmentOK          Judgment = "OK"
	JudgmentCaution     Judgment = "CAUTION"
	JudgmentViolation   Judgment = "VIOLATION"
	JudgmentNeedsReview Judgment = "NEEDS_REVIEW" // neutral escalate, used when evidence ran out
)

// #endregion judgment

// #region decision-label

// DecisionLabel is the final human judgment on a request.
type DecisionLabel string

const (
	DecisionDone     DecisionLabel = "DONE"
	DecisionRejected DecisionLabel = "REJECTED"
)

// Valid reports whether l is one of the two accepted labels.
func (l DecisionLabel) Valid() bool {
	return l == DecisionDone || l == DecisionRejected
}

// #endregion decision-label

// #region run-outcome

// RunOutcome classifies how an agent run terminated.
type RunOutcome string

const (
	OutcomePassed    RunOutcome = "passed"    // answer grade passed
	OutcomeDegraded  RunOutcome = "degraded"  // iteration cap hit, last draft returned unreviewed
	OutcomeExhausted RunOutcome = "exhausted" // iteration cap hit with no draft ever generated
)

// #endregion run-outcome

// #region review-request

// ReviewRequest is a broadcast segment submitted for compliance review.
type ReviewRequest struct {
	ID            string
	ProductName   string
	Category      string
	BroadcastType string
	Status        Status
	RequestedBy   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DecidedAt     *time.Time
}

// #endregion review-request

// #region review-item

// ReviewItem is a single reviewable text unit within a request.
type ReviewItem struct {
	ID        string
	RequestID string
	Index     int
	Type      ItemType
	Label     string
	Text      string
}

// #endregion review-item

// #region citation

// Citation references a knowledge document that supports a judgment.
type Citation struct {
	DocID     string  `json:"doc_id"`
	Partition string  `json:"partition"`
	Source    string  `json:"source,omitempty"`
	Snippet   string  `json:"snippet,omitempty"`
	Score     float32 `json:"score"`
}

// #endregion citation

// #region draft

// Draft is a generated judgment before it is graded and persisted.
type Draft struct {
	Judgment     Judgment
	Rationale    string
	RiskType     string
	SuggestedFix string
	Citations    []Citation
}

// #endregion draft

// #region recommendation

// Recommendation is the persisted terminal snapshot of one agent run.
// Immutable after creation; a re-run supersedes, never overwrites.
type Recommendation struct {
	ID         string
	RequestID  string
	Judgment   Judgment
	Rationale  string
	RiskType   string
	Citations  []Citation
	Outcome    RunOutcome
	Score      float32
	Iterations int
	LatencyMS  int
	CreatedAt  time.Time
}

// #endregion recommendation

// #region decision

// Decision is the final human judgment for a request.
type Decision struct {
	ID        string
	RequestID string
	Label     DecisionLabel
	Comment   string
	DecidedBy string
	CreatedAt time.Time
}

// #endregion decision

// #region audit-event

// AuditEvent is one append-only record of a state-changing operation.
type AuditEvent struct {
	ID        int64
	Actor     string
	Action    string
	EntityID  string
	Before    string
	After     string
	Detail    string // JSON, optional
	CreatedAt time.Time
}

// #endregion audit-event
