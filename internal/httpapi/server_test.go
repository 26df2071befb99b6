package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"

	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/httpapi"
	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/scheduler"
)

// ── Fakes ──────────────────────────────────────────────────────────────────

type fakeAnalytics struct {
	summaryArgs [3]int
	threshold   float64
	gapPostings int64
}

func (f *fakeAnalytics) MarketSummary(_ context.Context, days, skills, locs int) model.MarketSummary {
	f.summaryArgs = [3]int{days, skills, locs}
	return model.MarketSummary{WindowDays: days, TotalJobsAnalyzed: 3}
}

func (f *fakeAnalytics) SalaryTrends(context.Context, int, string) []model.SalaryTrend {
	return []model.SalaryTrend{{Location: "London", AvgMax: 1}}
}

func (f *fakeAnalytics) RemoteDistribution(context.Context, int) []model.RemoteTrend {
	return []model.RemoteTrend{}
}

func (f *fakeAnalytics) RoleRequiredSkills(_ context.Context, role string, _ int, threshold float64) []model.RequiredSkill {
	f.threshold = threshold
	return []model.RequiredSkill{{Skill: "go", Percentage: 80}}
}

func (f *fakeAnalytics) AnalyzeSkillGap(_ context.Context, _ model.User, role string, _ int, _ float64) model.GapAnalysis {
	return model.GapAnalysis{Role: role, TotalPostingsAnalyzed: f.gapPostings}
}

type fakeScheduler struct {
	req scheduler.ManualRequest
}

func (f *fakeScheduler) TriggerManualCollection(_ context.Context, req scheduler.ManualRequest) model.CollectionSummary {
	f.req = req
	return model.CollectionSummary{"Go Developer": {JobsCollected: 4}}
}
func (f *fakeScheduler) Running() bool { return true }
func (f *fakeScheduler) NextRuns() map[string]time.Time {
	return map[string]time.Time{scheduler.CollectionJobID: time.Date(2026, 1, 2, 2, 0, 0, 0, time.UTC)}
}

type fakeDemand struct{}

func (fakeDemand) CollectForUser(_ context.Context, id string, _ demand.UserRequest) (model.CollectionSummary, error) {
	if id != "u1" {
		return nil, model.ErrUserNotFound
	}
	return model.CollectionSummary{"Go Developer": {JobsCollected: 2}}, nil
}

type fakeUsers map[string]*model.User

func (f fakeUsers) GetUser(_ context.Context, id string) (*model.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, model.ErrUserNotFound
}

type fakeStats struct{ err error }

func (f fakeStats) Statistics(context.Context) (*model.CollectionStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.CollectionStats{TotalJobs: 9}, nil
}

type fixture struct {
	analytics *fakeAnalytics
	sched     *fakeScheduler
	handler   http.Handler
}

func newFixture(stats fakeStats) *fixture {
	f := &fixture{analytics: &fakeAnalytics{gapPostings: 5}, sched: &fakeScheduler{}}
	reg := metrics.NewRegistry()
	metrics.GetOrRegisterCounter("collector.pages", reg).Inc(2)
	f.handler = httpapi.Server{
		Analytics: f.analytics,
		Stats:     stats,
		Scheduler: f.sched,
		Demand:    fakeDemand{},
		Users: fakeUsers{
			"u1":      {ID: "u1", Skills: []string{"go"}, TargetRoles: []string{"Go Developer"}},
			"noroles": {ID: "noroles"},
		},
		Metrics: reg,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}.Router()
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

// ── Health & metrics ───────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	rec := newFixture(fakeStats{}).do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	sched, _ := body["scheduler"].(map[string]any)
	if body["status"] != "ok" || sched["running"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestMetrics(t *testing.T) {
	rec := newFixture(fakeStats{}).do(t, http.MethodGet, "/debug/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), "collector.pages") {
		t.Errorf("metrics body = %s", rec.Body.String())
	}
}

// ── Market & skills ────────────────────────────────────────────────────────

func TestTrending_QueryParams(t *testing.T) {
	cases := []struct {
		target string
		code   int
		args   [3]int
	}{
		{"/v1/market/trending", http.StatusOK, [3]int{30, 15, 10}},
		{"/v1/market/trending?days=7&skills_limit=5&locations_limit=3", http.StatusOK, [3]int{7, 5, 3}},
		{"/v1/market/trending?days=0", http.StatusBadRequest, [3]int{}},
		{"/v1/market/trending?skills_limit=51", http.StatusBadRequest, [3]int{}},
		{"/v1/market/trending?locations_limit=abc", http.StatusBadRequest, [3]int{}},
	}
	for _, tc := range cases {
		f := newFixture(fakeStats{})
		rec := f.do(t, http.MethodGet, tc.target, "", nil)
		if rec.Code != tc.code {
			t.Errorf("%s: status = %d, want %d", tc.target, rec.Code, tc.code)
			continue
		}
		if tc.code == http.StatusOK && f.analytics.summaryArgs != tc.args {
			t.Errorf("%s: args = %v, want %v", tc.target, f.analytics.summaryArgs, tc.args)
		}
	}
}

func TestRequiredSkills(t *testing.T) {
	f := newFixture(fakeStats{})
	if rec := f.do(t, http.MethodGet, "/v1/skills/required", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing role: status = %d", rec.Code)
	}
	rec := f.do(t, http.MethodGet, "/v1/skills/required?role=Go+Developer&threshold=0.5", "", nil)
	if rec.Code != http.StatusOK || f.analytics.threshold != 0.5 {
		t.Errorf("status = %d threshold = %v", rec.Code, f.analytics.threshold)
	}
	if rec := f.do(t, http.MethodGet, "/v1/skills/required?role=x&threshold=2", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("threshold out of range: status = %d", rec.Code)
	}
}

func TestSkillGap(t *testing.T) {
	cases := []struct {
		name   string
		user   string
		role   string
		code   int
		noData bool
	}{
		{"no header", "", "Go Developer", http.StatusUnauthorized, false},
		{"unknown user", "ghost", "Go Developer", http.StatusNotFound, false},
		{"no target roles", "noroles", "Go Developer", http.StatusBadRequest, false},
		{"role not targeted", "u1", "Chef", http.StatusBadRequest, false},
		{"no postings", "u1", "Go Developer", http.StatusNotFound, true},
		{"ok", "u1", "Go Developer", http.StatusOK, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(fakeStats{})
			if tc.noData {
				f.analytics.gapPostings = 0
			}
			header := map[string]string{}
			if tc.user != "" {
				header["x-user-id"] = tc.user
			}
			rec := f.do(t, http.MethodGet, "/v1/skills/gap?role="+strings.ReplaceAll(tc.role, " ", "+"), "", header)
			if rec.Code != tc.code {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tc.code, rec.Body.String())
			}
		})
	}
}

// ── Collection ─────────────────────────────────────────────────────────────

func TestStats(t *testing.T) {
	rec := newFixture(fakeStats{}).do(t, http.MethodGet, "/v1/collection/stats", "", nil)
	if got := decode[model.CollectionStats](t, rec); got.TotalJobs != 9 {
		t.Errorf("stats = %+v", got)
	}
	rec = newFixture(fakeStats{err: errors.New("db down")}).do(t, http.MethodGet, "/v1/collection/stats", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRun(t *testing.T) {
	f := newFixture(fakeStats{})
	rec := f.do(t, http.MethodPost, "/v1/collection/run", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body: status = %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec); got["totalCollected"] != float64(4) {
		t.Errorf("body = %v", got)
	}

	rec = f.do(t, http.MethodPost, "/v1/collection/run", `{"roles":["Data Engineer"],"maxAgeDays":3}`, nil)
	if rec.Code != http.StatusOK || f.sched.req.Roles[0] != "Data Engineer" || f.sched.req.MaxAgeDays != 3 {
		t.Errorf("status = %d req = %+v", rec.Code, f.sched.req)
	}

	if rec := f.do(t, http.MethodPost, "/v1/collection/run", `{"roles":`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/collection/run", `{"perRoleLimit":-1}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d", rec.Code)
	}
}

func TestCollectForUser(t *testing.T) {
	f := newFixture(fakeStats{})
	if rec := f.do(t, http.MethodPost, "/v1/collection/users/u1", "", nil); rec.Code != http.StatusOK {
		t.Errorf("known user: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/v1/collection/users/ghost", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown user: status = %d", rec.Code)
	}
}
