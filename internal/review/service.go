package review

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/danielpatrickdp/compliance-review/internal/agent"
	"github.com/danielpatrickdp/compliance-review/internal/audit"
	"github.com/danielpatrickdp/compliance-review/internal/lifecycle"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

// #region inputs

// CreateRequestInput carries a new review submission.
type CreateRequestInput struct {
	ProductName   string
	Category      string
	BroadcastType string
	RequestedBy   string
	Items         []ItemInput
}

// ItemInput is one reviewable text unit in a submission.
type ItemInput struct {
	Type  model.ItemType
	Label string
	Text  string
}

// Detail bundles everything known about one request.
type Detail struct {
	Request        model.ReviewRequest
	Items          []model.ReviewItem
	Recommendation *model.Recommendation
	Decision       *model.Decision
}

// #endregion inputs

// #region service

// Service coordinates the request lifecycle, the recommendation agent, and
// persistence. All state-changing operations are audited.
type Service struct {
	store     *store.Store
	lifecycle *lifecycle.Machine
	agent     *agent.Agent
	audit     *audit.Recorder
}

// NewService wires a review service.
func NewService(st *store.Store, lc *lifecycle.Machine, ag *agent.Agent, rec *audit.Recorder) *Service {
	return &Service{store: st, lifecycle: lc, agent: ag, audit: rec}
}

// #endregion service

// #region create-request

// CreateRequest persists a new request in REQUESTED with its items.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (model.ReviewRequest, error) {
	if in.ProductName == "" {
		return model.ReviewRequest{}, errors.New("product name required")
	}
	if len(in.Items) == 0 {
		return model.ReviewRequest{}, errors.New("at least one item required")
	}

	items := make([]model.ReviewItem, len(in.Items))
	for i, it := range in.Items {
		typ := it.Type
		if typ == "" {
			typ = model.ItemRequestText
		}
		label := it.Label
		if label == "" {
			label = fmt.Sprintf("item-%d", i+1)
		}
		items[i] = model.ReviewItem{Type: typ, Label: label, Text: it.Text}
	}

	req, err := s.store.CreateRequest(ctx, model.ReviewRequest{
		ProductName:   in.ProductName,
		Category:      in.Category,
		BroadcastType: in.BroadcastType,
		RequestedBy:   in.RequestedBy,
	}, items)
	if err != nil {
		return model.ReviewRequest{}, err
	}

	err = s.audit.Record(ctx, model.AuditEvent{
		Actor:    in.RequestedBy,
		Action:   audit.ActionRequestCreate,
		EntityID: req.ID,
		After:    string(req.Status),
		Detail:   fmt.Sprintf(`{"item_count":%d}`, len(items)),
	})
	if err != nil {
		return model.ReviewRequest{}, err
	}
	return req, nil
}

// #endregion create-request

// #region start-recommendation

// StartRecommendation transitions REQUESTED → AI_RUNNING, runs the agent to
// completion, persists the recommendation, and advances to REVIEWING. A
// failed run reverts the request to REQUESTED so a fresh attempt can start.
func (s *Service) StartRecommendation(ctx context.Context, requestID, actor string) (model.Recommendation, error) {
	if err := s.lifecycle.Start(ctx, requestID, actor); err != nil {
		return model.Recommendation{}, err
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return model.Recommendation{}, s.failRun(ctx, requestID, err)
	}
	items, err := s.store.GetItems(ctx, requestID)
	if err != nil {
		return model.Recommendation{}, s.failRun(ctx, requestID, err)
	}

	rec, err := s.agent.Run(ctx, req, items)
	if err != nil {
		return model.Recommendation{}, s.failRun(ctx, requestID, err)
	}

	rec, err = s.store.SaveRecommendation(ctx, rec)
	if err != nil {
		return model.Recommendation{}, s.failRun(ctx, requestID, err)
	}
	err = s.audit.Record(ctx, model.AuditEvent{
		Actor:    audit.ActorSystem,
		Action:   audit.ActionRecommendCreate,
		EntityID: requestID,
		Detail: fmt.Sprintf(`{"recommendation_id":%q,"judgment":%q,"outcome":%q,"iterations":%d}`,
			rec.ID, rec.Judgment, rec.Outcome, rec.Iterations),
	})
	if err != nil {
		return model.Recommendation{}, err
	}

	detail := fmt.Sprintf(`{"outcome":%q,"judgment":%q}`, rec.Outcome, rec.Judgment)
	if err := s.lifecycle.Complete(ctx, requestID, detail); err != nil {
		return model.Recommendation{}, err
	}
	return rec, nil
}

// failRun reverts a request whose run aborted and surfaces the cause.
func (s *Service) failRun(ctx context.Context, requestID string, cause error) error {
	if err := s.lifecycle.Revert(ctx, requestID, cause.Error()); err != nil {
		log.Printf("[REVIEW] revert %s failed: %v", requestID, err)
	}
	return cause
}

// #endregion start-recommendation

// #region submit-decision

// SubmitDecision records the final human judgment, moving REVIEWING to the
// matching terminal status. Exactly one decision per request.
func (s *Service) SubmitDecision(ctx context.Context, requestID string, label model.DecisionLabel, comment, actor string) (model.Decision, error) {
	if err := s.lifecycle.Decide(ctx, requestID, label, actor); err != nil {
		return model.Decision{}, err
	}

	dec, err := s.store.SaveDecision(ctx, model.Decision{
		RequestID: requestID,
		Label:     label,
		Comment:   comment,
		DecidedBy: actor,
	})
	if err != nil {
		return model.Decision{}, err
	}

	err = s.audit.Record(ctx, model.AuditEvent{
		Actor:    actor,
		Action:   audit.ActionDecisionCreate,
		EntityID: requestID,
		Detail:   fmt.Sprintf(`{"decision_id":%q,"label":%q}`, dec.ID, dec.Label),
	})
	if err != nil {
		return model.Decision{}, err
	}
	return dec, nil
}

// #endregion submit-decision

// #region reads

// GetDetail returns a request with its items, latest recommendation, and
// decision where present.
func (s *Service) GetDetail(ctx context.Context, requestID string) (Detail, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return Detail{}, err
	}
	items, err := s.store.GetItems(ctx, requestID)
	if err != nil {
		return Detail{}, err
	}

	d := Detail{Request: req, Items: items}

	rec, err := s.store.LatestRecommendation(ctx, requestID)
	if err == nil {
		d.Recommendation = &rec
	} else if !errors.Is(err, store.ErrNotFound) {
		return Detail{}, err
	}

	dec, err := s.store.GetDecision(ctx, requestID)
	if err == nil {
		d.Decision = &dec
	} else if !errors.Is(err, store.ErrNotFound) {
		return Detail{}, err
	}
	return d, nil
}

// ListRequests returns requests newest first, optionally filtered by status.
func (s *Service) ListRequests(ctx context.Context, status model.Status) ([]model.ReviewRequest, error) {
	return s.store.ListRequests(ctx, status)
}

// LatestRecommendation returns the newest recommendation for a request.
func (s *Service) LatestRecommendation(ctx context.Context, requestID string) (model.Recommendation, error) {
	return s.store.LatestRecommendation(ctx, requestID)
}

// AuditTrail returns the request's audit events, newest first.
func (s *Service) AuditTrail(ctx context.Context, requestID string, limit int) ([]model.AuditEvent, error) {
	return s.audit.List(ctx, requestID, limit)
}

// #endregion reads
