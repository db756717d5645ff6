package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/compliance-review/internal/model"
)

// #region actions

// Audit actions, one per state-changing operation.
const (
	ActionRequestCreate   = "REQUEST_CREATE"
	ActionAIStart         = "AI_START"
	ActionRecommendCreate = "RECOMMEND_CREATE"
	ActionAIRecommend     = "AI_RECOMMEND"
	ActionAIFailed        = "AI_FAILED"
	ActionDecisionCreate  = "DECISION_CREATE"
	ActionHumanDecide     = "HUMAN_DECIDE"
)

// ActorSystem is the actor recorded for agent-driven events.
const ActorSystem = "system"

// #endregion actions

// #region sink

// Sink accepts append-only audit events.
type Sink interface {
	Record(ctx context.Context, ev model.AuditEvent) error
}

// #endregion sink

// #region recorder

// Recorder writes audit events to the audit_log table.
type Recorder struct {
	db *sql.DB
}

// NewRecorder returns a Recorder over an already-migrated database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends one audit event.
func (r *Recorder) Record(ctx context.Context, ev model.AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, entity_id, before, after, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Actor,
		ev.Action,
		nullIfEmpty(ev.EntityID),
		nullIfEmpty(ev.Before),
		nullIfEmpty(ev.After),
		nullIfEmpty(ev.Detail),
		ev.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

// List returns events for an entity, newest first.
func (r *Recorder) List(ctx context.Context, entityID string, limit int) ([]model.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor, action, entity_id, before, after, detail, created_at
		 FROM audit_log WHERE entity_id = ? ORDER BY id DESC LIMIT ?`,
		entityID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var entity, before, after, detail sql.NullString
		var createdStr string
		if err := rows.Scan(&ev.ID, &ev.Actor, &ev.Action, &entity, &before, &after, &detail, &createdStr); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		ev.EntityID = entity.String
		ev.Before = before.String
		ev.After = after.String
		ev.Detail = detail.String
		ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// #endregion recorder

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
