// Package httpapi is the REST surface of the market service.
//
// Routes:
//
//	GET  /health                     → liveness and scheduler state
//	GET  /v1/market/trending         → composite market summary
//	GET  /v1/market/salaries         → salary bands by location
//	GET  /v1/market/remote           → remote/onsite distribution
//	GET  /v1/skills/required         → skills required for a role
//	GET  /v1/skills/gap              → caller's skill gap for a role (x-user-id)
//	GET  /v1/collection/stats        → store statistics
//	POST /v1/collection/run          → manual collection
//	POST /v1/collection/users/{id}   → collection for one user's target roles
//	GET  /debug/metrics              → go-metrics registry as JSON
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rcrowley/go-metrics"

	"jobmate/market-service/internal/analytics"
	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/scheduler"
)

const version = "1.0.0"

// Analytics is the read side served under /v1/market and /v1/skills.
type Analytics interface {
	MarketSummary(ctx context.Context, days, skillsLimit, locationsLimit int) model.MarketSummary
	SalaryTrends(ctx context.Context, days int, role string) []model.SalaryTrend
	RemoteDistribution(ctx context.Context, days int) []model.RemoteTrend
	RoleRequiredSkills(ctx context.Context, role string, days int, threshold float64) []model.RequiredSkill
	AnalyzeSkillGap(ctx context.Context, user model.User, role string, days int, threshold float64) model.GapAnalysis
}

// Stats reports what the store currently holds.
type Stats interface {
	Statistics(ctx context.Context) (*model.CollectionStats, error)
}

// Scheduler is the manual trigger and state of the recurring jobs.
type Scheduler interface {
	TriggerManualCollection(ctx context.Context, req scheduler.ManualRequest) model.CollectionSummary
	Running() bool
	NextRuns() map[string]time.Time
}

// UserCollector collects for one user's target roles.
type UserCollector interface {
	CollectForUser(ctx context.Context, userID string, req demand.UserRequest) (model.CollectionSummary, error)
}

// Users looks up the caller.
type Users interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	Analytics Analytics
	Stats     Stats
	Scheduler Scheduler
	Demand    UserCollector
	Users     Users
	Metrics   metrics.Registry
	Logger    *slog.Logger
}

// Router mounts every route on a chi router.
func (s Server) Router() http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Metrics == nil {
		s.Metrics = metrics.DefaultRegistry
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.Logger.With("component", "http")))

	r.Get("/health", s.handleHealth)
	r.Get("/debug/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/market", func(r chi.Router) {
			r.Get("/trending", s.handleTrending)
			r.Get("/salaries", s.handleSalaries)
			r.Get("/remote", s.handleRemote)
		})
		r.Route("/skills", func(r chi.Router) {
			r.Get("/required", s.handleRequiredSkills)
			r.Get("/gap", s.handleSkillGap)
		})
		r.Route("/collection", func(r chi.Router) {
			r.Get("/stats", s.handleStats)
			r.Post("/run", s.handleRun)
			r.Post("/users/{id}", s.handleCollectForUser)
		})
	})
	return r
}

// ─── Health & metrics ────────────────────────────────────────────────────────

func (s Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "market-service",
		"version": version,
	}
	if s.Scheduler != nil {
		body["scheduler"] = map[string]any{
			"running":  s.Scheduler.Running(),
			"nextRuns": s.Scheduler.NextRuns(),
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	metrics.WriteJSONOnce(s.Metrics, w)
}

// ─── Market ──────────────────────────────────────────────────────────────────

func (s Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	days := q.intIn("days", analytics.DefaultWindowDays, 1, 365)
	skillsLimit := q.intIn("skills_limit", analytics.DefaultSkillsLimit, 1, 50)
	locationsLimit := q.intIn("locations_limit", analytics.DefaultLocationsLimit, 1, 30)
	if q.err != nil {
		writeErr(w, http.StatusBadRequest, q.err)
		return
	}
	writeJSON(w, http.StatusOK, s.Analytics.MarketSummary(r.Context(), days, skillsLimit, locationsLimit))
}

func (s Server) handleSalaries(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	days := q.intIn("days", analytics.DefaultWindowDays, 1, 365)
	if q.err != nil {
		writeErr(w, http.StatusBadRequest, q.err)
		return
	}
	writeJSON(w, http.StatusOK, s.Analytics.SalaryTrends(r.Context(), days, r.URL.Query().Get("role")))
}

func (s Server) handleRemote(w http.ResponseWriter, r *http.Request) {
	q := query{r: r}
	days := q.intIn("days", analytics.DefaultWindowDays, 1, 365)
	if q.err != nil {
		writeErr(w, http.StatusBadRequest, q.err)
		return
	}
	writeJSON(w, http.StatusOK, s.Analytics.RemoteDistribution(r.Context(), days))
}

// ─── Skills ──────────────────────────────────────────────────────────────────

func (s Server) handleRequiredSkills(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(r.URL.Query().Get("role"))
	if role == "" {
		writeErr(w, http.StatusBadRequest, errors.New("role is required"))
		return
	}
	q := query{r: r}
	days := q.intIn("days", analytics.DefaultWindowDays, 1, 365)
	threshold := q.floatIn("threshold", analytics.DefaultThreshold, 0.1, 1.0)
	if q.err != nil {
		writeErr(w, http.StatusBadRequest, q.err)
		return
	}
	writeJSON(w, http.StatusOK, s.Analytics.RoleRequiredSkills(r.Context(), role, days, threshold))
}

func (s Server) handleSkillGap(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("x-user-id")
	if userID == "" {
		writeErr(w, http.StatusUnauthorized, errors.New("missing x-user-id header"))
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		writeErr(w, http.StatusBadRequest, errors.New("role is required"))
		return
	}
	q := query{r: r}
	days := q.intIn("days", analytics.DefaultWindowDays, 1, 365)
	threshold := q.floatIn("threshold", analytics.DefaultThreshold, 0.1, 1.0)
	if q.err != nil {
		writeErr(w, http.StatusBadRequest, q.err)
		return
	}

	user, err := s.Users.GetUser(r.Context(), userID)
	if errors.Is(err, model.ErrUserNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.Logger.Error("user lookup failed", "userId", userID, "err", err)
		writeErr(w, http.StatusInternalServerError, errors.New("database error"))
		return
	}
	if len(user.TargetRoles) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("user has no target roles configured"))
		return
	}
	if !slices.Contains(user.TargetRoles, role) {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("role %q is not in your target roles (%s)",
			role, strings.Join(user.TargetRoles, ", ")))
		return
	}

	gap := s.Analytics.AnalyzeSkillGap(r.Context(), *user, role, days, threshold)
	if gap.TotalPostingsAnalyzed == 0 {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("no job data found for %q", role),
			"suggestions": []string{
				fmt.Sprintf("increase the time window (currently %d days)", days),
				"check the spelling of the role",
				"use a more general role title",
			},
		})
		return
	}
	writeJSON(w, http.StatusOK, gap)
}

// ─── Collection ──────────────────────────────────────────────────────────────

func (s Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats.Statistics(r.Context())
	if err != nil {
		s.Logger.Error("collection statistics failed", "err", err)
		writeErr(w, http.StatusInternalServerError, errors.New("database error"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type runRequest struct {
	Roles        []string `json:"roles"`
	Locations    []string `json:"locations"`
	MaxAgeDays   int      `json:"maxAgeDays"`
	PerRoleLimit int      `json:"perRoleLimit"`
}

type runResponse struct {
	TotalCollected int                     `json:"totalCollected"`
	Roles          model.CollectionSummary `json:"roles"`
}

func (s Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := decodeOptional(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if body.MaxAgeDays < 0 || body.PerRoleLimit < 0 {
		writeErr(w, http.StatusBadRequest, errors.New("maxAgeDays and perRoleLimit must not be negative"))
		return
	}
	summary := s.Scheduler.TriggerManualCollection(r.Context(), scheduler.ManualRequest{
		Roles:        body.Roles,
		Locations:    body.Locations,
		MaxAgeDays:   body.MaxAgeDays,
		PerRoleLimit: body.PerRoleLimit,
	})
	writeJSON(w, http.StatusOK, runResponse{TotalCollected: summary.TotalCollected(), Roles: summary})
}

type userRunRequest struct {
	Locations   []string `json:"locations"`
	MaxAgeDays  int      `json:"maxAgeDays"`
	JobsPerRole int      `json:"jobsPerRole"`
}

func (s Server) handleCollectForUser(w http.ResponseWriter, r *http.Request) {
	var body userRunRequest
	if err := decodeOptional(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	userID := chi.URLParam(r, "id")
	summary, err := s.Demand.CollectForUser(r.Context(), userID, demand.UserRequest{
		Locations:   body.Locations,
		MaxAgeDays:  body.MaxAgeDays,
		JobsPerRole: body.JobsPerRole,
	})
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		writeErr(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.Logger.Error("user collection failed", "userId", userID, "err", err)
		writeErr(w, http.StatusInternalServerError, errors.New("collection failed"))
		return
	}
	writeJSON(w, http.StatusOK, runResponse{TotalCollected: summary.TotalCollected(), Roles: summary})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// query parses bounded numeric query parameters, keeping the first error.
type query struct {
	r   *http.Request
	err error
}

func (q *query) intIn(name string, def, lo, hi int) int {
	raw := q.r.URL.Query().Get(name)
	if raw == "" || q.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		q.err = fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
		return def
	}
	return v
}

func (q *query) floatIn(name string, def, lo, hi float64) float64 {
	raw := q.r.URL.Query().Get(name)
	if raw == "" || q.err != nil {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < lo || v > hi {
		q.err = fmt.Errorf("%s must be a number between %g and %g", name, lo, hi)
		return def
	}
	return v
}

// decodeOptional decodes a JSON body into v; an empty body leaves v unchanged.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("invalid JSON body: %w", err)
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"took", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
