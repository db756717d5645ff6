package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/danielpatrickdp/compliance-review/internal/audit"
	"github.com/danielpatrickdp/compliance-review/internal/model"
)

// #region errors

// ErrInvalidTransition is returned when a lifecycle move is not permitted
// from the request's current status.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrAlreadyRunning is returned when a concurrent start attempt lost the
// compare-and-swap race. Callers should poll, not retry the start.
var ErrAlreadyRunning = errors.New("recommendation already running")

// #endregion errors

// #region transitions

// transitions is the complete edge set of the request state machine.
// No edge leaves DONE or REJECTED.
var transitions = map[model.Status][]model.Status{
	model.StatusRequested: {model.StatusAIRunning},
	model.StatusAIRunning: {model.StatusReviewing, model.StatusRequested},
	model.StatusReviewing: {model.StatusDone, model.StatusRejected},
}

// CanTransition reports whether from → to is a defined edge.
func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// #endregion transitions

// #region status-store

// StatusStore is the persistence surface the state machine needs.
// *store.Store satisfies it.
type StatusStore interface {
	GetRequest(ctx context.Context, id string) (model.ReviewRequest, error)
	UpdateStatusCAS(ctx context.Context, id string, expected, next model.Status) error
}

// StatusConflict is the shape of a lost CAS race, matched via errors.As.
type StatusConflict interface {
	error
	Observed() model.Status
}

// #endregion status-store

// #region machine

// Machine applies lifecycle transitions atomically and audits each one.
type Machine struct {
	store StatusStore
	audit audit.Sink
}

// NewMachine creates a lifecycle machine over the given store and audit sink.
func NewMachine(store StatusStore, sink audit.Sink) *Machine {
	return &Machine{store: store, audit: sink}
}

// #endregion machine

// #region start

// Start moves REQUESTED → AI_RUNNING. Concurrent starts on the same request
// yield at most one success; losers get ErrAlreadyRunning.
func (m *Machine) Start(ctx context.Context, requestID, actor string) error {
	err := m.store.UpdateStatusCAS(ctx, requestID, model.StatusRequested, model.StatusAIRunning)
	if err != nil {
		if actual, ok := observedStatus(err); ok {
			if actual == model.StatusAIRunning {
				return fmt.Errorf("request %s: %w", requestID, ErrAlreadyRunning)
			}
			return fmt.Errorf("request %s: start from %s: %w", requestID, actual, ErrInvalidTransition)
		}
		return err
	}
	return m.record(ctx, actor, audit.ActionAIStart, requestID,
		model.StatusRequested, model.StatusAIRunning, "")
}

// #endregion start

// #region complete

// Complete moves AI_RUNNING → REVIEWING after the agent produced a
// recommendation, whether by a passing grade or by graceful exhaustion.
func (m *Machine) Complete(ctx context.Context, requestID string, detail string) error {
	if err := m.transition(ctx, requestID, model.StatusAIRunning, model.StatusReviewing); err != nil {
		return err
	}
	return m.record(ctx, audit.ActorSystem, audit.ActionAIRecommend, requestID,
		model.StatusAIRunning, model.StatusReviewing, detail)
}

// #endregion complete

// #region revert

// Revert moves AI_RUNNING back to REQUESTED after a failed run so a fresh
// attempt can be started.
func (m *Machine) Revert(ctx context.Context, requestID string, detail string) error {
	if err := m.transition(ctx, requestID, model.StatusAIRunning, model.StatusRequested); err != nil {
		return err
	}
	return m.record(ctx, audit.ActorSystem, audit.ActionAIFailed, requestID,
		model.StatusAIRunning, model.StatusRequested, detail)
}

// #endregion revert

// #region decide

// Decide moves REVIEWING to the terminal status matching the human decision
// label. A second decision on the same request fails with ErrInvalidTransition.
func (m *Machine) Decide(ctx context.Context, requestID string, label model.DecisionLabel, actor string) error {
	if !label.Valid() {
		return fmt.Errorf("decision label %q: %w", label, ErrInvalidTransition)
	}
	next := model.StatusDone
	if label == model.DecisionRejected {
		next = model.StatusRejected
	}
	if err := m.transition(ctx, requestID, model.StatusReviewing, next); err != nil {
		return err
	}
	return m.record(ctx, actor, audit.ActionHumanDecide, requestID,
		model.StatusReviewing, next, "")
}

// #endregion decide

// #region internals

func (m *Machine) transition(ctx context.Context, requestID string, from, to model.Status) error {
	err := m.store.UpdateStatusCAS(ctx, requestID, from, to)
	if err != nil {
		if actual, ok := observedStatus(err); ok {
			return fmt.Errorf("request %s: %s → %s but status is %s: %w",
				requestID, from, to, actual, ErrInvalidTransition)
		}
		return err
	}
	return nil
}

// record emits exactly one audit event for a transition that already
// succeeded. An audit write failure is surfaced to the caller: the transition
// is not reported successful without its event.
func (m *Machine) record(ctx context.Context, actor, action, requestID string, before, after model.Status, detail string) error {
	err := m.audit.Record(ctx, model.AuditEvent{
		Actor:    actor,
		Action:   action,
		EntityID: requestID,
		Before:   string(before),
		After:    string(after),
		Detail:   detail,
	})
	if err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	log.Printf("[LIFECYCLE] %s: %s → %s (%s)", requestID, before, after, action)
	return nil
}

func observedStatus(err error) (model.Status, bool) {
	var conflict StatusConflict
	if errors.As(err, &conflict) {
		return conflict.Observed(), true
	}
	return "", false
}

// #endregion internals
