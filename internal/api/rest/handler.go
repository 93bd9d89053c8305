package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/soulsense/soulsense-outliers/internal/analytics"
	"github.com/soulsense/soulsense-outliers/internal/analytics/consistency"
	"github.com/soulsense/soulsense-outliers/internal/analytics/report"
	"github.com/soulsense/soulsense-outliers/internal/db"
	"github.com/soulsense/soulsense-outliers/internal/models"
)

// Package rest exposes the analytics engine over HTTP/JSON.
//
// Every analysis endpoint starts from the configured default request and
// applies query-parameter overrides, so a call is fully described by its
// URL. Reports are encoded as JSON, or YAML with ?format=yaml.

// ScoreWriter accepts new score records.
type ScoreWriter interface {
	SaveScores(ctx context.Context, records []models.ScoreRecord) error
}

// Handler manages HTTP request handlers
type Handler struct {
	engine  *analytics.Engine
	writer  ScoreWriter
	reports db.ReportStore
	sweeper *analytics.Sweeper
	logger  *zap.Logger

	mu            sync.RWMutex
	defaults      analytics.Request
	inconsistency consistency.Options
}

// Options wires the optional collaborators of a Handler. Nil fields disable
// the routes that need them.
type Options struct {
	Writer        ScoreWriter
	Reports       db.ReportStore
	Sweeper       *analytics.Sweeper
	Logger        *zap.Logger
	Defaults      analytics.Request
	Inconsistency consistency.Options
}

// NewHandler creates a new HTTP handler
func NewHandler(engine *analytics.Engine, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		engine:        engine,
		writer:        opts.Writer,
		reports:       opts.Reports,
		sweeper:       opts.Sweeper,
		logger:        opts.Logger.Named("rest"),
		defaults:      opts.Defaults,
		inconsistency: opts.Inconsistency,
	}
}

// SetDefaults replaces the request defaults, e.g. after a config reload.
func (h *Handler) SetDefaults(req analytics.Request, inc consistency.Options) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaults = req
	h.inconsistency = inc
}

func (h *Handler) currentDefaults() (analytics.Request, consistency.Options) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.defaults, h.inconsistency
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	api := router.PathPrefix("/api/v1").Subrouter()

	// Outlier detection
	api.HandleFunc("/outliers/users/{subject_id}", h.AnalyzeUser).Methods("GET")
	api.HandleFunc("/outliers/groups/{group_key}", h.AnalyzeGroup).Methods("GET")
	api.HandleFunc("/outliers/groups", h.AnalyzeGroups).Methods("POST")
	api.HandleFunc("/outliers/global", h.AnalyzeGlobal).Methods("GET")

	// Consistency and summaries
	api.HandleFunc("/inconsistency/users/{subject_id}", h.AnalyzeInconsistency).Methods("GET")
	api.HandleFunc("/summary", h.Summary).Methods("GET")

	if h.sweeper != nil {
		api.HandleFunc("/outliers/recent", h.RecentOutliers).Methods("GET")
	}
	if h.writer != nil {
		api.HandleFunc("/scores", h.IngestScores).Methods("POST")
	}
	if h.reports != nil {
		api.HandleFunc("/reports", h.ListReports).Methods("GET")
		api.HandleFunc("/reports/{id}", h.GetReport).Methods("GET")
	}
}

// AnalyzeUser handles GET /api/v1/outliers/users/{subject_id}
func (h *Handler) AnalyzeUser(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	rpt, err := h.engine.AnalyzeSubject(r.Context(), mux.Vars(r)["subject_id"], req)
	h.respondReport(w, r, rpt, err)
}

// AnalyzeGroup handles GET /api/v1/outliers/groups/{group_key}
func (h *Handler) AnalyzeGroup(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	rpt, err := h.engine.AnalyzeGroup(r.Context(), mux.Vars(r)["group_key"], req)
	h.respondReport(w, r, rpt, err)
}

// AnalyzeGroups handles POST /api/v1/outliers/groups
func (h *Handler) AnalyzeGroups(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GroupKeys []string `json:"group_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.GroupKeys) == 0 {
		respondError(w, http.StatusBadRequest, "group_keys must not be empty")
		return
	}
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}

	reports, err := h.engine.AnalyzeGroups(r.Context(), body.GroupKeys, req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondEncoded(w, r, map[string]interface{}{"reports": reports})
}

// AnalyzeGlobal handles GET /api/v1/outliers/global
func (h *Handler) AnalyzeGlobal(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	rpt, err := h.engine.AnalyzeGlobal(r.Context(), req)
	h.respondReport(w, r, rpt, err)
}

// AnalyzeInconsistency handles GET /api/v1/inconsistency/users/{subject_id}
func (h *Handler) AnalyzeInconsistency(w http.ResponseWriter, r *http.Request) {
	_, inc := h.currentDefaults()
	opts, err := inconsistencyFromQuery(inc, r.URL.Query())
	if err != nil {
		h.respondErr(w, err)
		return
	}
	finding, err := h.engine.AnalyzeInconsistency(r.Context(), mux.Vars(r)["subject_id"], opts)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondEncoded(w, r, finding)
}

// Summary handles GET /api/v1/summary. ?user= or ?group= narrow the scope;
// neither means the whole population.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	defaults, _ := h.currentDefaults()
	dim := defaults.Dimension
	if v := q.Get("dimension"); v != "" {
		d, err := models.ParseDimension(v)
		if err != nil {
			h.respondErr(w, err)
			return
		}
		dim = d
	}

	scopeType, key := models.ScopeGlobal, ""
	switch {
	case q.Get("user") != "":
		scopeType, key = models.ScopeUser, q.Get("user")
	case q.Get("group") != "":
		scopeType, key = models.ScopeAgeGroup, q.Get("group")
	}

	summary, err := h.engine.Summarize(r.Context(), scopeType, key, dim)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondEncoded(w, r, summary)
}

// RecentOutliers handles GET /api/v1/outliers/recent
func (h *Handler) RecentOutliers(w http.ResponseWriter, r *http.Request) {
	lastRun, failed := h.sweeper.LastRun()
	points := h.sweeper.RecentOutliers(r.URL.Query().Get("scope_key"))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"last_run":      lastRun,
		"failed_scopes": failed,
		"count":         len(points),
		"outliers":      points,
	})
}

// IngestScores handles POST /api/v1/scores
func (h *Handler) IngestScores(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Records []models.ScoreRecord `json:"records"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for i, rec := range body.Records {
		if rec.SubjectID == "" {
			respondError(w, http.StatusBadRequest, "records["+strconv.Itoa(i)+"].subject_id is required")
			return
		}
	}

	if err := h.writer.SaveScores(r.Context(), body.Records); err != nil {
		h.respondErr(w, err)
		return
	}
	ids := make([]int64, len(body.Records))
	for i, rec := range body.Records {
		ids[i] = rec.ID
	}
	h.logger.Info("Scores ingested", zap.Int("count", len(ids)))
	respondJSON(w, http.StatusCreated, map[string]interface{}{"saved": len(ids), "ids": ids})
}

// ListReports handles GET /api/v1/reports
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := db.ReportQuery{ScopeType: q.Get("scope_type"), ScopeKey: q.Get("scope_key"), Limit: 50}
	if err := parseInt(q, "limit", &query.Limit); err != nil {
		h.respondErr(w, err)
		return
	}
	if err := parseInt(q, "offset", &query.Offset); err != nil {
		h.respondErr(w, err)
		return
	}
	records, err := h.reports.ListReports(r.Context(), query)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reports": records})
}

// GetReport handles GET /api/v1/reports/{id}
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rpt, err := h.reports.GetReport(r.Context(), mux.Vars(r)["id"])
	h.respondReport(w, r, rpt, err)
}

// HealthHandler reports liveness, plus store reachability when ping is set.
func HealthHandler(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (h *Handler) parseRequest(w http.ResponseWriter, r *http.Request) (analytics.Request, bool) {
	defaults, inc := h.currentDefaults()
	req, err := requestFromQuery(defaults, inc, r.URL.Query())
	if err != nil {
		h.respondErr(w, err)
		return req, false
	}
	return req, true
}

func (h *Handler) respondReport(w http.ResponseWriter, r *http.Request, rpt *report.AnalysisReport, err error) {
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respondEncoded(w, r, rpt)
}

// respondEncoded writes v as JSON, or YAML when ?format=yaml.
func (h *Handler) respondEncoded(w http.ResponseWriter, r *http.Request, v interface{}) {
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if format == report.FormatJSON {
		respondJSON(w, http.StatusOK, v)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if err := report.Encode(w, v, format); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// respondErr maps caller errors to 400, missing rows to 404 and
// everything else to 500.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidConfiguration):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("Request failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
