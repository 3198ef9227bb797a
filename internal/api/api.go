// Package api exposes the sync, approval, policy, and run-history operations
// over HTTP for the dashboard and external triggers. The dashboard UI itself
// lives elsewhere; this is only its JSON boundary.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/reviewpilot/rp/internal/approval"
	"github.com/reviewpilot/rp/internal/models"
	"github.com/reviewpilot/rp/internal/policy"
	"github.com/reviewpilot/rp/internal/store"
	"github.com/reviewpilot/rp/internal/sync"
	"github.com/reviewpilot/rp/internal/trustpilot"
)

// Server provides the REST API handlers.
type Server struct {
	store        store.Store
	orchestrator *sync.Orchestrator
	approvals    *approval.Service
	source       *trustpilot.Client
	sourceCfg    trustpilot.Config
	syncSecret   string // optional bearer secret for POST /sync triggers
	log          *slog.Logger
}

// NewServer creates a new API server. syncSecret may be empty, in which case
// the sync trigger endpoint is unauthenticated.
func NewServer(s store.Store, orch *sync.Orchestrator, approvals *approval.Service, source *trustpilot.Client, sourceCfg trustpilot.Config, syncSecret string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:        s,
		orchestrator: orch,
		approvals:    approvals,
		source:       source,
		sourceCfg:    sourceCfg,
		syncSecret:   syncSecret,
		log:          log,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sync", s.runSync)

	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)

	mux.HandleFunc("GET /api/v1/responses", s.listResponses)
	mux.HandleFunc("POST /api/v1/responses/{id}/approve", s.approveResponse)
	mux.HandleFunc("POST /api/v1/responses/{id}/reject", s.rejectResponse)

	mux.HandleFunc("GET /api/v1/policies", s.listPolicies)
	mux.HandleFunc("POST /api/v1/policies", s.createPolicy)
	mux.HandleFunc("POST /api/v1/policies/seed", s.seedPolicies)
	mux.HandleFunc("GET /api/v1/policies/{id}", s.getPolicy)
	mux.HandleFunc("PUT /api/v1/policies/{id}", s.updatePolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", s.deletePolicy)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)

	mux.HandleFunc("GET /api/v1/config", s.getConfig)

	return corsMiddleware(s.logMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Sync ---

type syncRequest struct {
	AutoReply bool       `json:"autoReply"`
	DryRun    bool       `json:"dryRun"`
	Limit     int        `json:"limit"`
	Stars     int        `json:"stars"`
	Since     *time.Time `json:"since,omitempty"`
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request) {
	if s.syncSecret != "" {
		if r.Header.Get("Authorization") != "Bearer "+s.syncSecret {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	req := syncRequest{DryRun: true}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	opts := sync.Options{
		JobName:   "api_sync",
		AutoReply: req.AutoReply,
		DryRun:    req.DryRun,
		Limit:     req.Limit,
		Stars:     req.Stars,
	}
	if req.Since != nil {
		opts.Since = *req.Since
	}

	summary, err := s.orchestrator.Run(r.Context(), opts)
	if err != nil {
		s.log.Error("sync run failed", "error", err)
		status := http.StatusInternalServerError
		if strings.Contains(err.Error(), "not configured") {
			status = http.StatusBadRequest
		}
		body := map[string]any{"error": err.Error()}
		if summary != nil {
			body["runId"] = summary.RunID
			body["reviewsProcessed"] = summary.ReviewsProcessed
			body["responsesSent"] = summary.ResponsesSent
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Reviews ---

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	filter := store.ReviewListFilter{Limit: 50}
	if v := r.URL.Query().Get("stars"); v != "" {
		filter.Rating, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("responded"); v != "" {
		responded := v == "true"
		filter.Responded = &responded
	}

	reviews, err := s.store.ListReviews(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(reviews), "reviews": reviews})
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	review, err := s.store.GetReview(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	attempts, err := s.store.ListAttempts(r.Context(), store.AttemptListFilter{ReviewID: id})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"review": review, "attempts": attempts})
}

// --- Responses ---

type responseOut struct {
	ID            string     `json:"id"`
	ReviewID      string     `json:"reviewId"`
	Status        string     `json:"status"`
	Text          string     `json:"text"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	SentAt        *time.Time `json:"sentAt,omitempty"`
	Review        struct {
		SourceID   string `json:"sourceId"`
		AuthorName string `json:"authorName"`
		Rating     int    `json:"rating"`
		Text       string `json:"text"`
	} `json:"review"`
}

func (s *Server) listResponses(w http.ResponseWriter, r *http.Request) {
	status := models.AttemptStatus(r.URL.Query().Get("status"))
	queued, err := s.approvals.List(r.Context(), status, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]responseOut, len(queued))
	for i, q := range queued {
		out[i] = responseOut{
			ID:            q.Attempt.ID,
			ReviewID:      q.Attempt.ReviewID,
			Status:        string(q.Attempt.Status),
			Text:          q.Attempt.Text,
			FailureReason: q.Attempt.FailureReason,
			CreatedAt:     q.Attempt.CreatedAt,
			SentAt:        q.Attempt.SentAt,
		}
		out[i].Review.SourceID = q.Review.SourceID
		out[i].Review.AuthorName = q.Review.AuthorName
		out[i].Review.Rating = q.Review.Rating
		out[i].Review.Text = q.Review.Text
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": out})
}

func (s *Server) approveResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		EditedText string `json:"editedText"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	attempt, err := s.approvals.Approve(r.Context(), id, req.EditedText)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			writeError(w, http.StatusNotFound, err.Error())
		case err == store.ErrAttemptNotSendable || err == store.ErrAlreadyResponded:
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) rejectResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.approvals.Reject(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err == store.ErrAttemptNotSendable {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.AttemptStatusManual)})
}

// --- Policies ---

func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	policies, err := s.store.ListPolicies(r.Context(), activeOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies})
}

// policyRequest uses pointer fields so a partial update can distinguish
// "absent" from a zero value (priority 0, cleared description, rating 0).
type policyRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	MinRating   *int    `json:"minRating"`
	MaxRating   *int    `json:"maxRating"`
	Tone        *string `json:"tone"`
	Instruction *string `json:"instruction"`
	IsDefault   *bool   `json:"isDefault"`
	IsActive    *bool   `json:"isActive"`
	Priority    *int    `json:"priority"`
}

// apply copies the fields present in the request onto p.
func (req *policyRequest) apply(p *models.ResponsePolicy) {
	if req.Name != "" {
		p.Name = req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.MinRating != nil {
		p.MinRating = *req.MinRating
	}
	if req.MaxRating != nil {
		p.MaxRating = *req.MaxRating
	}
	if req.Tone != nil && *req.Tone != "" {
		p.Tone = *req.Tone
	}
	if req.Instruction != nil {
		p.Instruction = *req.Instruction
	}
	if req.IsDefault != nil {
		p.IsDefault = *req.IsDefault
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		p.Priority = *req.Priority
	}
}

func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "policy name is required")
		return
	}

	p := &models.ResponsePolicy{
		MinRating: 1,
		MaxRating: 5,
		Tone:      models.ToneProfessional,
		IsActive:  true,
	}
	req.apply(p)

	if err := s.store.CreatePolicy(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) seedPolicies(w http.ResponseWriter, r *http.Request) {
	created, err := policy.Seed(r.Context(), s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": created})
}

func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.apply(existing)

	if err := s.store.UpdatePolicy(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeletePolicy(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// --- Config ---

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	if !s.sourceCfg.Configured() {
		writeJSON(w, http.StatusOK, map[string]any{
			"configured": false,
			"message":    "missing trustpilot credentials or business unit id",
		})
		return
	}

	masked := s.sourceCfg.APIKey
	if len(masked) > 8 {
		masked = masked[:8] + "..."
	}

	body := map[string]any{
		"configured":     true,
		"apiKey":         masked,
		"businessUnitId": s.sourceCfg.BusinessUnitID,
	}

	if s.source != nil {
		if bu, err := s.source.GetBusinessUnit(r.Context()); err != nil {
			body["connectionStatus"] = "error"
			s.log.Warn("config connection test failed", "error", err)
		} else {
			body["connectionStatus"] = "connected"
			body["businessInfo"] = map[string]any{
				"name":            bu.Name,
				"numberOfReviews": bu.NumberOfReviews,
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}
