package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/danielpatrickdp/compliance-review/internal/agent"
	"github.com/danielpatrickdp/compliance-review/internal/lifecycle"
	"github.com/danielpatrickdp/compliance-review/internal/model"
	"github.com/danielpatrickdp/compliance-review/internal/review"
	"github.com/danielpatrickdp/compliance-review/internal/store"
)

// #region wire-types

type createRequestBody struct {
	ProductName   string     `json:"product_name"`
	Category      string     `json:"category"`
	BroadcastType string     `json:"broadcast_type"`
	RequestedBy   string     `json:"requested_by"`
	Items         []itemBody `json:"items"`
}

type itemBody struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

type decisionBody struct {
	Label     string `json:"label"`
	Comment   string `json:"comment"`
	DecidedBy string `json:"decided_by"`
}

type requestView struct {
	ID            string     `json:"id"`
	ProductName   string     `json:"product_name"`
	Category      string     `json:"category,omitempty"`
	BroadcastType string     `json:"broadcast_type,omitempty"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requested_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

type recommendationView struct {
	ID         string           `json:"id"`
	RequestID  string           `json:"request_id"`
	Judgment   string           `json:"judgment"`
	Rationale  string           `json:"rationale"`
	RiskType   string           `json:"risk_type,omitempty"`
	Citations  []model.Citation `json:"citations"`
	Outcome    string           `json:"outcome"`
	Score      float32          `json:"score"`
	Iterations int              `json:"iterations"`
	LatencyMS  int              `json:"latency_ms"`
	CreatedAt  time.Time        `json:"created_at"`
}

type errorBody struct {
	Error string `json:"error"`
}

// #endregion wire-types

// #region server

// Server exposes the review core over HTTP.
type Server struct {
	svc    *review.Service
	router chi.Router
}

// NewServer builds the chi router around a review service.
func NewServer(svc *review.Service) *Server {
	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/requests", s.handleCreateRequest)
	r.Get("/requests", s.handleListRequests)
	r.Get("/requests/{id}", s.handleGetRequest)
	r.Post("/requests/{id}/recommend", s.handleRecommend)
	r.Get("/requests/{id}/recommendation", s.handleGetRecommendation)
	r.Post("/requests/{id}/decision", s.handleDecision)
	r.Get("/requests/{id}/audit", s.handleAudit)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// #endregion server

// #region handlers

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in := review.CreateRequestInput{
		ProductName:   body.ProductName,
		Category:      body.Category,
		BroadcastType: body.BroadcastType,
		RequestedBy:   body.RequestedBy,
	}
	for _, it := range body.Items {
		in.Items = append(in.Items, review.ItemInput{
			Type:  model.ItemType(it.Type),
			Label: it.Label,
			Text:  it.Text,
		})
	}

	req, err := s.svc.CreateRequest(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toRequestView(req))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))
	reqs, err := s.svc.ListRequests(r.Context(), status)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	views := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, toRequestView(req))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	detail, err := s.svc.GetDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	resp := map[string]interface{}{
		"request": toRequestView(detail.Request),
		"items":   detail.Items,
	}
	if detail.Recommendation != nil {
		v := toRecommendationView(*detail.Recommendation)
		resp["recommendation"] = v
	}
	if detail.Decision != nil {
		resp["decision"] = detail.Decision
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecommend runs the agent synchronously. The request's status field
// is the pollable run status; a lost start race answers 202 so the caller
// polls instead of retrying.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "reviewer"
	}

	rec, err := s.svc.StartRecommendation(r.Context(), id, actor)
	if errors.Is(err, lifecycle.ErrAlreadyRunning) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(model.StatusAIRunning)})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecommendationView(rec))
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.LatestRecommendation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecommendationView(rec))
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	label := model.DecisionLabel(body.Label)
	if !label.Valid() {
		writeError(w, http.StatusBadRequest, "label must be DONE or REJECTED")
		return
	}

	dec, err := s.svc.SubmitDecision(r.Context(), chi.URLParam(r, "id"), label, body.Comment, body.DecidedBy)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.svc.AuditTrail(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// #endregion handlers

// #region error-mapping

// writeFailure maps core errors onto HTTP statuses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, agent.ErrRunFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Printf("[HTTP] internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// #endregion error-mapping

// #region helpers

func toRequestView(req model.ReviewRequest) requestView {
	return requestView{
		ID:            req.ID,
		ProductName:   req.ProductName,
		Category:      req.Category,
		BroadcastType: req.BroadcastType,
		Status:        string(req.Status),
		RequestedBy:   req.RequestedBy,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
		DecidedAt:     req.DecidedAt,
	}
}

func toRecommendationView(rec model.Recommendation) recommendationView {
	citations := rec.Citations
	if citations == nil {
		citations = []model.Citation{}
	}
	return recommendationView{
		ID:         rec.ID,
		RequestID:  rec.RequestID,
		Judgment:   string(rec.Judgment),
		Rationale:  rec.Rationale,
		RiskType:   rec.RiskType,
		Citations:  citations,
		Outcome:    string(rec.Outcome),
		Score:      rec.Score,
		Iterations: rec.Iterations,
		LatencyMS:  rec.LatencyMS,
		CreatedAt:  rec.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// #endregion helpers
