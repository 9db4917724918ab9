package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/bid-optimizer/internal/app"
	"github.com/radiusdt/bid-optimizer/internal/config"
	"github.com/radiusdt/bid-optimizer/internal/ledger"
	"github.com/radiusdt/bid-optimizer/internal/metrics"
	"github.com/radiusdt/bid-optimizer/internal/models"
	"github.com/radiusdt/bid-optimizer/internal/optimizer"
	"github.com/radiusdt/bid-optimizer/internal/scheduler"
	"github.com/radiusdt/bid-optimizer/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds everything the HTTP layer needs.
type Dependencies struct {
	Services *app.Services
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	// Health checks keyed by dependency name, e.g. "postgres".
	Health map[string]HealthCheck
}

// Server exposes the optimizer over HTTP.
type Server struct {
	svc     *app.Services
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	health  map[string]HealthCheck
}

// NewServer constructs an http.Handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		svc:     deps.Services,
		config:  deps.Config,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		health:  deps.Health,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		r.Handle(deps.Config.Metrics.Path, s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// Engine
		r.Post("/recommendations", s.handleRecommendations)
		r.Post("/recommendations/search-terms", s.handleSearchTermRecommendations)
		r.Post("/recommendations/placements", s.handlePlacementRecommendations)
		r.Post("/negative-targets", s.handleNegativeTargets)

		// Change history
		r.Post("/changes/detect", s.handleDetectChanges)
		r.Post("/changes", s.handleRecordChange)
		r.Get("/changes/{targetID}", s.handleChangeHistory)

		// Configuration
		r.Get("/weights", s.handleListWeights)
		r.Get("/weights/{market}", s.handleGetWeights)
		r.Put("/weights/{market}", s.handlePutWeights)
		r.Get("/goals/{campaignID}", s.handleGetGoal)
		r.Put("/goals/{campaignID}", s.handlePutGoal)
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.jsonStatus(w, code, map[string]any{"status": status, "checks": checks})
}

// ---- Engine ----

// computeRequest is the body of the engine endpoints. Dates are YYYY-MM-DD;
// end_date defaults to today and bounds the windows.
type computeRequest struct {
	models.ScopeFilter
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Market    string `json:"market"`
}

func (req computeRequest) dateRange() (models.DateRange, error) {
	var rng models.DateRange
	var err error
	if req.StartDate != "" {
		if rng.Start, err = time.Parse(dateLayout, req.StartDate); err != nil {
			return rng, fmt.Errorf("invalid start_date: %w", err)
		}
	}
	if req.EndDate != "" {
		if rng.End, err = time.Parse(dateLayout, req.EndDate); err != nil {
			return rng, fmt.Errorf("invalid end_date: %w", err)
		}
	}
	if !rng.Start.IsZero() && !rng.End.IsZero() && rng.End.Before(rng.Start) {
		return rng, fmt.Errorf("end_date is before start_date")
	}
	return rng, nil
}

func (s *Server) decodeCompute(w http.ResponseWriter, r *http.Request) (computeRequest, models.DateRange, bool) {
	var req computeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return req, models.DateRange{}, false
	}
	for _, k := range req.Kinds {
		if !k.Valid() {
			s.errorResponse(w, fmt.Sprintf("unknown target kind %q", k), http.StatusBadRequest)
			return req, models.DateRange{}, false
		}
	}
	rng, err := req.dateRange()
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return req, models.DateRange{}, false
	}
	return req, rng, true
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	req, rng, ok := s.decodeCompute(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Engine.ComputeRecommendations(r.Context(), req.ScopeFilter, rng, req.Market)
	if err != nil {
		s.serviceError(w, "compute recommendations", err)
		return
	}
	s.jsonResponse(w, res)
}

func (s *Server) handleSearchTermRecommendations(w http.ResponseWriter, r *http.Request) {
	req, rng, ok := s.decodeCompute(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Engine.ComputeSearchTermRecommendations(r.Context(), req.ScopeFilter, rng)
	if err != nil {
		s.serviceError(w, "compute search term recommendations", err)
		return
	}
	s.jsonResponse(w, res)
}

func (s *Server) handlePlacementRecommendations(w http.ResponseWriter, r *http.Request) {
	req, rng, ok := s.decodeCompute(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Engine.ComputePlacementRecommendations(r.Context(), req.ScopeFilter, rng)
	if err != nil {
		s.serviceError(w, "compute placement recommendations", err)
		return
	}
	s.jsonResponse(w, res)
}

func (s *Server) handleNegativeTargets(w http.ResponseWriter, r *http.Request) {
	req, rng, ok := s.decodeCompute(w, r)
	if !ok {
		return
	}
	out, err := s.svc.Engine.DetectNegativeTargets(r.Context(), req.ScopeFilter, rng)
	if err != nil {
		s.serviceError(w, "detect negative targets", err)
		return
	}
	s.jsonResponse(w, map[string]any{"candidates": out, "count": len(out)})
}

// ---- Change History ----

func (s *Server) handleDetectChanges(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.RunDetection(r.Context())
	if err != nil {
		s.serviceError(w, "run change detection", err)
		return
	}
	s.jsonResponse(w, res)
}

type recordChangeRequest struct {
	TargetID   string          `json:"target_id"`
	CampaignID string          `json:"campaign_id"`
	AdGroupID  string          `json:"ad_group_id"`
	Market     string          `json:"market"`
	Source     string          `json:"source"`
	OldBid     decimal.Decimal `json:"old_bid"`
	NewBid     decimal.Decimal `json:"new_bid"`
	ChangedAt  string          `json:"changed_at"`
}

func (s *Server) handleRecordChange(w http.ResponseWriter, r *http.Request) {
	var req recordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	change := ledger.AppliedChange{
		TargetID: req.TargetID,
		Scope:    models.Scope{CampaignID: req.CampaignID, AdGroupID: req.AdGroupID},
		Market:   models.NormalizeMarket(req.Market),
		Source:   req.Source,
		OldBid:   req.OldBid,
		NewBid:   req.NewBid,
	}
	if req.ChangedAt != "" {
		t, err := time.Parse(dateLayout, req.ChangedAt)
		if err != nil {
			s.errorResponse(w, "invalid changed_at", http.StatusBadRequest)
			return
		}
		change.ChangedAt = t
	}

	rec, inserted, err := s.svc.Ledger.RecordApplied(r.Context(), change)
	if errors.Is(err, ledger.ErrInvalidChange) {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.serviceError(w, "record change", err)
		return
	}

	code := http.StatusCreated
	if !inserted {
		code = http.StatusOK
	}
	s.jsonStatus(w, code, map[string]any{"record": rec, "inserted": inserted})
}

func (s *Server) handleChangeHistory(w http.ResponseWriter, r *http.Request) {
	key := models.TargetKey{
		TargetID:   chi.URLParam(r, "targetID"),
		CampaignID: r.URL.Query().Get("campaign_id"),
		AdGroupID:  r.URL.Query().Get("ad_group_id"),
	}
	if key.CampaignID == "" {
		s.errorResponse(w, "campaign_id is required", http.StatusBadRequest)
		return
	}

	history, err := s.svc.Ledger.History(r.Context(), key)
	if err != nil {
		s.serviceError(w, "list change history", err)
		return
	}

	today := models.TruncateDay(time.Now())
	var last *models.BidChangeRecord
	if len(history) > 0 {
		last = history[0]
	}
	cooldown := s.svc.Engine.Policy().CooldownDays
	s.jsonResponse(w, map[string]any{
		"target":                 key,
		"changes":                history,
		"days_since_last_change": ledger.DaysSince(last, today),
		"eligible":               ledger.Eligible(last, today, cooldown),
		"cooldown_days":          cooldown,
	})
}

// ---- Configuration ----

func (s *Server) handleListWeights(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Weights.List(r.Context())
	if err != nil {
		s.serviceError(w, "list weights", err)
		return
	}
	s.jsonResponse(w, list)
}

// handleGetWeights returns the market's own weights, or with ?resolve=true
// the set the engine would use after falling back to the global default.
func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	market := chi.URLParam(r, "market")
	var (
		ws  *models.WeightSet
		err error
	)
	if r.URL.Query().Get("resolve") == "true" {
		ws, err = s.svc.Weights.Resolve(r.Context(), market)
	} else {
		ws, err = s.svc.Weights.Get(r.Context(), market)
	}
	if err != nil {
		s.serviceError(w, "get weights", err)
		return
	}
	s.jsonResponse(w, ws)
}

func (s *Server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var ws models.WeightSet
	if err := json.NewDecoder(r.Body).Decode(&ws); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	ws.Market = chi.URLParam(r, "market")
	ws.UpdatedAt = time.Time{}

	if err := s.svc.Weights.Set(r.Context(), ws); err != nil {
		s.serviceError(w, "set weights", err)
		return
	}
	updated, err := s.svc.Weights.Get(r.Context(), ws.Market)
	if err != nil {
		s.serviceError(w, "get weights", err)
		return
	}
	s.jsonResponse(w, updated)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	goal, err := s.svc.Goals.GetGoalRatio(r.Context(), campaignID)
	if err != nil {
		s.serviceError(w, "get goal", err)
		return
	}
	s.jsonResponse(w, map[string]any{"campaign_id": campaignID, "goal_ratio": goal})
}

func (s *Server) handlePutGoal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		GoalRatio float64 `json:"goal_ratio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.GoalRatio <= 0 {
		s.errorResponse(w, "goal_ratio must be positive", http.StatusBadRequest)
		return
	}
	campaignID := chi.URLParam(r, "campaignID")
	if err := s.svc.Goals.SetGoalRatio(r.Context(), campaignID, body.GoalRatio); err != nil {
		s.serviceError(w, "set goal", err)
		return
	}
	s.jsonResponse(w, map[string]any{"campaign_id": campaignID, "goal_ratio": body.GoalRatio})
}

// ---- Helper Methods ----

// serviceError maps engine and store errors onto status codes.
func (s *Server) serviceError(w http.ResponseWriter, op string, err error) {
	var (
		cfgErr   *optimizer.ConfigurationError
		fetchErr *optimizer.TransientFetchError
	)
	switch {
	case errors.As(err, &cfgErr):
		s.logger.Warn(op+" rejected", zap.Error(err))
		s.errorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, models.ErrInvalidWeights):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, storage.ErrNotFound):
		s.errorResponse(w, "not found", http.StatusNotFound)
	case errors.Is(err, scheduler.ErrLocked):
		s.errorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.errorResponse(w, "request cancelled", http.StatusServiceUnavailable)
	case errors.As(err, &fetchErr):
		s.logger.Error(op+" failed", zap.Error(err))
		s.errorResponse(w, "failed to load performance data", http.StatusServiceUnavailable)
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	s.jsonStatus(w, http.StatusOK, data)
}

func (s *Server) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
