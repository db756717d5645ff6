package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/compliance-review/internal/model"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS review_requests (
	id             TEXT PRIMARY KEY,
	product_name   TEXT NOT NULL,
	category       TEXT,
	broadcast_type TEXT,
	status         TEXT NOT NULL,
	requested_by   TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	decided_at     TEXT
);

CREATE TABLE IF NOT EXISTS review_items (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL,
	item_index  INTEGER NOT NULL,
	item_type   TEXT NOT NULL,
	label       TEXT NOT NULL,
	text        TEXT NOT NULL,
	FOREIGN KEY (request_id) REFERENCES review_requests(id)
);

CREATE TABLE IF NOT EXISTS recommendations (
	id             TEXT PRIMARY KEY,
	request_id     TEXT NOT NULL,
	judgment       TEXT NOT NULL,
	rationale      TEXT,
	risk_type      TEXT,
	citations_json TEXT,
	outcome        TEXT NOT NULL,
	score          REAL NOT NULL DEFAULT 0,
	iterations     INTEGER NOT NULL DEFAULT 0,
	latency_ms     INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL,
	FOREIGN KEY (request_id) REFERENCES review_requests(id)
);

CREATE TABLE IF NOT EXISTS decisions (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE,
	label      TEXT NOT NULL,
	comment    TEXT,
	decided_by TEXT,
	created_at TEXT NOT NULL,
	FOREIGN KEY (request_id) REFERENCES review_requests(id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	entity_id  TEXT,
	before     TEXT,
	after      TEXT,
	detail     TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_request ON review_items(request_id, item_index);
CREATE INDEX IF NOT EXISTS idx_recs_request ON recommendations(request_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_id);
`

// #endregion schema

// #region errors

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// StatusConflictError is returned by a CAS status update whose expected
// status no longer matched the stored one.
type StatusConflictError struct {
	RequestID string
	Expected  model.Status
	Actual    model.Status
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("request %s: status is %s, expected %s", e.RequestID, e.Actual, e.Expected)
}

// Observed returns the status found at write time.
func (e *StatusConflictError) Observed() model.Status {
	return e.Actual
}

// #endregion errors

// #region store-struct

// Store persists requests, recommendations, decisions, and audit events in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single connection: concurrent CAS writers serialize here instead of
	// surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (knowledge index, audit).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region create-request

// CreateRequest inserts a request and its ordered items in one transaction.
// The request starts in REQUESTED.
func (s *Store) CreateRequest(ctx context.Context, req model.ReviewRequest, items []model.ReviewItem) (model.ReviewRequest, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	req.Status = model.StatusRequested
	req.CreatedAt = now
	req.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ReviewRequest{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO review_requests (id, product_name, category, broadcast_type, status, requested_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ProductName, req.Category, req.BroadcastType,
		string(req.Status), req.RequestedBy,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.ReviewRequest{}, fmt.Errorf("insert request: %w", err)
	}

	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		items[i].RequestID = req.ID
		items[i].Index = i
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_items (id, request_id, item_index, item_type, label, text)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			items[i].ID, req.ID, i, string(items[i].Type), items[i].Label, items[i].Text,
		)
		if err != nil {
			return model.ReviewRequest{}, fmt.Errorf("insert item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.ReviewRequest{}, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

// #endregion create-request

// #region get-request

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (model.ReviewRequest, error) {
	var req model.ReviewRequest
	var status, createdStr, updatedStr string
	var category, broadcastType, requestedBy, decidedStr sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_name, category, broadcast_type, status, requested_by, created_at, updated_at, decided_at
		 FROM review_requests WHERE id = ?`, id,
	).Scan(&req.ID, &req.ProductName, &category, &broadcastType, &status,
		&requestedBy, &createdStr, &updatedStr, &decidedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ReviewRequest{}, fmt.Errorf("request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.ReviewRequest{}, fmt.Errorf("get request %s: %w", id, err)
	}

	req.Category = category.String
	req.BroadcastType = broadcastType.String
	req.RequestedBy = requestedBy.String
	req.Status = model.Status(status)
	req.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	req.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	if decidedStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, decidedStr.String)
		req.DecidedAt = &t
	}
	return req, nil
}

// #endregion get-request

// #region list-requests

// ListRequests returns requests newest first, optionally filtered by status.
func (s *Store) ListRequests(ctx context.Context, statusFilter model.Status) ([]model.ReviewRequest, error) {
	q := `SELECT id FROM review_requests ORDER BY created_at DESC`
	args := []interface{}{}
	if statusFilter != "" {
		q = `SELECT id FROM review_requests WHERE status = ? ORDER BY created_at DESC`
		args = append(args, string(statusFilter))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []model.ReviewRequest
	for _, id := range ids {
		req, err := s.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// #endregion list-requests

// #region get-items

// GetItems returns the request's items in index order.
func (s *Store) GetItems(ctx context.Context, requestID string) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, item_index, item_type, label, text
		 FROM review_items WHERE request_id = ? ORDER BY item_index`, requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		var typ string
		if err := rows.Scan(&it.ID, &it.RequestID, &it.Index, &typ, &it.Label, &it.Text); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Type = model.ItemType(typ)
		items = append(items, it)
	}
	return items, rows.Err()
}

// #endregion get-items

// #region update-status-cas

// UpdateStatusCAS transitions a request's status only if the stored status
// still equals expected. A lost race returns *StatusConflictError with the
// observed status.
func (s *Store) UpdateStatusCAS(ctx context.Context, id string, expected, next model.Status) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if next.Terminal() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE review_requests SET status = ?, updated_at = ?, decided_at = ? WHERE id = ? AND status = ?`,
			string(next), now, now, id, string(expected),
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE review_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(next), now, id, string(expected),
		)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	cur, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	return &StatusConflictError{RequestID: id, Expected: expected, Actual: cur.Status}
}

// #endregion update-status-cas

// #region save-recommendation

// SaveRecommendation appends a recommendation row. Earlier rows for the same
// request are retained; LatestRecommendation serves the newest.
func (s *Store) SaveRecommendation(ctx context.Context, rec model.Recommendation) (model.Recommendation, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	citJSON, err := json.Marshal(rec.Citations)
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("marshal citations: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recommendations (id, request_id, judgment, rationale, risk_type, citations_json, outcome, score, iterations, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, string(rec.Judgment), rec.Rationale, rec.RiskType,
		string(citJSON), string(rec.Outcome), rec.Score, rec.Iterations, rec.LatencyMS,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("insert recommendation: %w", err)
	}
	return rec, nil
}

// #endregion save-recommendation

// #region latest-recommendation

// LatestRecommendation returns the newest recommendation for a request.
func (s *Store) LatestRecommendation(ctx context.Context, requestID string) (model.Recommendation, error) {
	var rec model.Recommendation
	var judgment, outcome, createdStr string
	var rationale, riskType, citJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, judgment, rationale, risk_type, citations_json, outcome, score, iterations, latency_ms, created_at
		 FROM recommendations WHERE request_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, requestID,
	).Scan(&rec.ID, &rec.RequestID, &judgment, &rationale, &riskType, &citJSON,
		&outcome, &rec.Score, &rec.Iterations, &rec.LatencyMS, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Recommendation{}, fmt.Errorf("recommendation for %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return model.Recommendation{}, fmt.Errorf("latest recommendation: %w", err)
	}

	rec.Judgment = model.Judgment(judgment)
	rec.Outcome = model.RunOutcome(outcome)
	rec.Rationale = rationale.String
	rec.RiskType = riskType.String
	if citJSON.Valid && citJSON.String != "" {
		if err := json.Unmarshal([]byte(citJSON.String), &rec.Citations); err != nil {
			return model.Recommendation{}, fmt.Errorf("unmarshal citations: %w", err)
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return rec, nil
}

// #endregion latest-recommendation

// #region save-decision

// SaveDecision inserts the final human decision for a request.
// The UNIQUE constraint on request_id enforces at most one per request.
func (s *Store) SaveDecision(ctx context.Context, dec model.Decision) (model.Decision, error) {
	if dec.ID == "" {
		dec.ID = uuid.New().String()
	}
	if dec.CreatedAt.IsZero() {
		dec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, request_id, label, comment, decided_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dec.ID, dec.RequestID, string(dec.Label), dec.Comment, dec.DecidedBy,
		dec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("insert decision: %w", err)
	}
	return dec, nil
}

// GetDecision returns the decision for a request, if any.
func (s *Store) GetDecision(ctx context.Context, requestID string) (model.Decision, error) {
	var dec model.Decision
	var label, createdStr string
	var comment, decidedBy sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, label, comment, decided_by, created_at
		 FROM decisions WHERE request_id = ?`, requestID,
	).Scan(&dec.ID, &dec.RequestID, &label, &comment, &decidedBy, &createdStr)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Decision{}, fmt.Errorf("decision for %s: %w", requestID, ErrNotFound)
	}
	if err != nil {
		return model.Decision{}, fmt.Errorf("get decision: %w", err)
	}

	dec.Label = model.DecisionLabel(label)
	dec.Comment = comment.String
	dec.DecidedBy = decidedBy.String
	dec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return dec, nil
}

// #endregion save-decision
