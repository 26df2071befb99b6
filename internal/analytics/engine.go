// Package analytics derives windowed market statistics from the posting
// store. Every read goes through a cache.Policy; store failures degrade to
// empty results.
package analytics

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"jobmate/market-service/internal/cache"
	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/skills"
	"jobmate/market-service/internal/store"
)

const (
	DefaultWindowDays     = 30
	DefaultSkillsLimit    = 15
	DefaultLocationsLimit = 10
	DefaultThreshold      = 0.25

	maxTechnologyTrends = 20
	salaryTopN          = 20
	unknownLocation     = "Unknown"
)

// Store is the read side of the posting store.
type Store interface {
	CountPostings(ctx context.Context, f store.Filter) (int64, error)
	TagCounts(ctx context.Context, f store.Filter, limit int) ([]model.GroupCount, error)
	LocationCounts(ctx context.Context, f store.Filter, limit int) ([]model.GroupCount, error)
	SalaryByLocation(ctx context.Context, f store.Filter, limit int) ([]model.SalaryGroup, error)
	RemoteCounts(ctx context.Context, f store.Filter) ([]model.RemoteGroup, error)
}

// Options configures an Engine. All fields are optional.
type Options struct {
	Cache   cache.Policy // default cache.None
	Logger  *slog.Logger
	Metrics metrics.Registry
	Now     func() time.Time
}

// Engine answers analytics queries.
type Engine struct {
	store Store
	norm  *skills.Normalizer
	cache cache.Policy
	log   *slog.Logger
	now   func() time.Time
	calls singleflight.Group

	hits   metrics.Counter
	misses metrics.Counter
	errors metrics.Counter
}

// New constructs an Engine.
func New(st Store, norm *skills.Normalizer, opts Options) *Engine {
	if opts.Cache == nil {
		opts.Cache = cache.None{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultRegistry
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:  st,
		norm:   norm,
		cache:  opts.Cache,
		log:    opts.Logger.With("component", "analytics"),
		now:    opts.Now,
		hits:   metrics.GetOrRegisterCounter("analytics.cache.hits", opts.Metrics),
		misses: metrics.GetOrRegisterCounter("analytics.cache.misses", opts.Metrics),
		errors: metrics.GetOrRegisterCounter("analytics.store.errors", opts.Metrics),
	}
}

// ─── Trends ──────────────────────────────────────────────────────────────────

// TrendingSkills returns the most frequent technology tags in the window with
// their share of all postings.
func (e *Engine) TrendingSkills(ctx context.Context, days, limit int) []model.TrendingSkill {
	out, err := cached(ctx, e, cache.Key("trending_skills", days, limit), func(ctx context.Context) ([]model.TrendingSkill, error) {
		f := e.window(days)
		total, err := e.store.CountPostings(ctx, f)
		if err != nil || total == 0 {
			return []model.TrendingSkill{}, err
		}
		tags, err := e.store.TagCounts(ctx, f, limit)
		if err != nil {
			return nil, err
		}
		out := make([]model.TrendingSkill, 0, len(tags))
		for _, t := range tags {
			out = append(out, model.TrendingSkill{
				Skill:      t.Key,
				Category:   string(e.category(t.Key)),
				Count:      t.Count,
				Percentage: percent(t.Count, total),
			})
		}
		return out, nil
	})
	return degradeSlice(e, "trending skills", out, err)
}

// TrendingLocations returns the most frequent posting locations in the window.
func (e *Engine) TrendingLocations(ctx context.Context, days, limit int) []model.TrendingLocation {
	out, err := cached(ctx, e, cache.Key("trending_locations", days, limit), func(ctx context.Context) ([]model.TrendingLocation, error) {
		rows, err := e.store.LocationCounts(ctx, e.window(days), limit)
		if err != nil {
			return nil, err
		}
		out := make([]model.TrendingLocation, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.TrendingLocation{Location: r.Key, Count: r.Count})
		}
		return out, nil
	})
	return degradeSlice(e, "trending locations", out, err)
}

// TechnologyTrends returns raw technology tag counts in the window.
func (e *Engine) TechnologyTrends(ctx context.Context, days, limit int) []model.TechnologyTrend {
	out, err := cached(ctx, e, cache.Key("technology_trends", days, limit), func(ctx context.Context) ([]model.TechnologyTrend, error) {
		rows, err := e.store.TagCounts(ctx, e.window(days), limit)
		if err != nil {
			return nil, err
		}
		out := make([]model.TechnologyTrend, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.TechnologyTrend{Technology: r.Key, Count: r.Count})
		}
		return out, nil
	})
	return degradeSlice(e, "technology trends", out, err)
}

// SalaryTrends averages the salary band per location over postings that carry
// both bounds. A non-empty role narrows to postings whose search keywords
// contain it.
func (e *Engine) SalaryTrends(ctx context.Context, days int, role string) []model.SalaryTrend {
	role = strings.TrimSpace(role)
	keyRole := strings.ToLower(role)
	if keyRole == "" {
		keyRole = "all"
	}
	out, err := cached(ctx, e, cache.Key("salary_trends", days, keyRole), func(ctx context.Context) ([]model.SalaryTrend, error) {
		f := e.window(days)
		f.SearchKeywordsContains = role
		rows, err := e.store.SalaryByLocation(ctx, f, salaryTopN)
		if err != nil {
			return nil, err
		}
		out := make([]model.SalaryTrend, 0, len(rows))
		for _, r := range rows {
			loc := r.Location
			if loc == "" {
				loc = unknownLocation
			}
			out = append(out, model.SalaryTrend{Location: loc, AvgMin: r.AvgMin, AvgMax: r.AvgMax, Count: r.Count})
		}
		return out, nil
	})
	return degradeSlice(e, "salary trends", out, err)
}

// RemoteDistribution counts postings by known remote flag.
func (e *Engine) RemoteDistribution(ctx context.Context, days int) []model.RemoteTrend {
	out, err := cached(ctx, e, cache.Key("remote_trends", days), func(ctx context.Context) ([]model.RemoteTrend, error) {
		rows, err := e.store.RemoteCounts(ctx, e.window(days))
		if err != nil {
			return nil, err
		}
		out := make([]model.RemoteTrend, 0, len(rows))
		for _, r := range rows {
			out = append(out, model.RemoteTrend{Remote: r.Remote, Count: r.Count})
		}
		return out, nil
	})
	return degradeSlice(e, "remote distribution", out, err)
}

// MarketSummary runs every trend query concurrently. An empty window, or a
// failure to count it, yields empty lists and zero TotalJobsAnalyzed.
func (e *Engine) MarketSummary(ctx context.Context, days, skillsLimit, locationsLimit int) model.MarketSummary {
	summary := model.MarketSummary{
		TopSkills:          []model.TrendingSkill{},
		TopLocations:       []model.TrendingLocation{},
		TechnologyTrends:   []model.TechnologyTrend{},
		SalaryTrends:       []model.SalaryTrend{},
		RemoteDistribution: []model.RemoteTrend{},
		GeneratedAt:        e.now(),
		WindowDays:         days,
	}

	var (
		skillsOut []model.TrendingSkill
		locsOut   []model.TrendingLocation
		techOut   []model.TechnologyTrend
		salOut    []model.SalaryTrend
		remoteOut []model.RemoteTrend
		total     int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		total, err = e.store.CountPostings(gctx, e.window(days))
		return err
	})
	g.Go(func() error {
		skillsOut = e.TrendingSkills(gctx, days, skillsLimit)
		return nil
	})
	g.Go(func() error {
		locsOut = e.TrendingLocations(gctx, days, locationsLimit)
		return nil
	})
	g.Go(func() error {
		techOut = e.TechnologyTrends(gctx, days, min(maxTechnologyTrends, skillsLimit+5))
		return nil
	})
	g.Go(func() error {
		salOut = e.SalaryTrends(gctx, days, "")
		return nil
	})
	g.Go(func() error {
		remoteOut = e.RemoteDistribution(gctx, days)
		return nil
	})

	if err := g.Wait(); err != nil {
		e.errors.Inc(1)
		e.log.Error("market summary failed", "days", days, "err", err)
		return summary
	}
	if total == 0 {
		e.log.Warn("no postings in window", "days", days)
		return summary
	}

	summary.TopSkills = skillsOut
	summary.TopLocations = locsOut
	summary.TechnologyTrends = techOut
	summary.SalaryTrends = salOut
	summary.RemoteDistribution = remoteOut
	summary.TotalJobsAnalyzed = total
	return summary
}

// ─── Skills for a role ───────────────────────────────────────────────────────

// RoleRequiredSkills returns the tags present in at least threshold (0..1) of
// the role's postings. Postings match on search keywords first and on title
// when no keyword matches.
func (e *Engine) RoleRequiredSkills(ctx context.Context, role string, days int, threshold float64) []model.RequiredSkill {
	role = strings.TrimSpace(role)
	if role == "" {
		return []model.RequiredSkill{}
	}
	key := cache.Key("role_skills", strings.ToLower(role), days, threshold)
	out, err := cached(ctx, e, key, func(ctx context.Context) ([]model.RequiredSkill, error) {
		f := e.window(days)
		f.SearchKeywordsEqual = role
		total, err := e.store.CountPostings(ctx, f)
		if err != nil {
			return nil, err
		}
		if total == 0 {
			f.SearchKeywordsEqual = ""
			f.TitleContains = role
			if total, err = e.store.CountPostings(ctx, f); err != nil {
				return nil, err
			}
		}
		if total == 0 {
			return []model.RequiredSkill{}, nil
		}

		tags, err := e.store.TagCounts(ctx, f, 0)
		if err != nil {
			return nil, err
		}
		out := make([]model.RequiredSkill, 0, len(tags))
		for _, t := range tags {
			pct := float64(t.Count) / float64(total) * 100
			if pct < threshold*100 {
				continue
			}
			out = append(out, model.RequiredSkill{
				Skill:      t.Key,
				Count:      t.Count,
				Percentage: round2(pct),
				TotalJobs:  total,
			})
		}
		e.log.Info("required skills resolved", "role", role, "skills", len(out), "postings", total)
		return out, nil
	})
	return degradeSlice(e, "required skills", out, err)
}

// AnalyzeSkillGap compares the user's skills with the role's required skills.
func (e *Engine) AnalyzeSkillGap(ctx context.Context, user model.User, role string, days int, threshold float64) model.GapAnalysis {
	required := e.RoleRequiredSkills(ctx, role, days, threshold)
	gap := model.GapAnalysis{
		Role:           role,
		RequiredSkills: []model.SkillGapItem{},
		MissingSkills:  []string{},
	}
	if len(required) == 0 {
		return gap
	}
	items, missing, coverage, matched, total := SkillGap(user.Skills, required)
	gap.TotalPostingsAnalyzed = required[0].TotalJobs
	gap.RequiredSkills = items
	gap.MissingSkills = missing
	gap.CoveragePercentage = coverage
	gap.SkillMatchCount = matched
	gap.TotalRequiredSkills = total
	e.log.Info("skill gap analysed", "userId", user.ID, "role", role,
		"matched", matched, "required", total, "coverage", coverage)
	return gap
}

// SkillGap marks each required skill as held or missing by case-insensitive
// comparison with userSkills. coverage is matched/total in percent.
func SkillGap(userSkills []string, required []model.RequiredSkill) (items []model.SkillGapItem, missing []string, coverage float64, matched, total int) {
	items = []model.SkillGapItem{}
	missing = []string{}
	if len(required) == 0 {
		return items, missing, 0, 0, 0
	}

	have := make(map[string]struct{}, len(userSkills))
	for _, s := range userSkills {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			have[s] = struct{}{}
		}
	}
	for _, r := range required {
		name := strings.ToLower(strings.TrimSpace(r.Skill))
		_, ok := have[name]
		items = append(items, model.SkillGapItem{Skill: name, RequiredPercentage: r.Percentage, UserHas: ok})
		if ok {
			matched++
		} else {
			missing = append(missing, name)
		}
	}
	total = len(required)
	coverage = round2(float64(matched) / float64(total) * 100)
	return items, missing, coverage, matched, total
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (e *Engine) window(days int) store.Filter {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return store.Filter{Since: e.now().AddDate(0, 0, -days)}
}

// category classifies a raw tag through its canonical skill name.
func (e *Engine) category(tag string) skills.Category {
	if e.norm == nil {
		return skills.CategoryOther
	}
	if canon := e.norm.Normalize([]string{tag}); len(canon) > 0 {
		return e.norm.Category(canon[0])
	}
	return skills.CategoryOther
}

// degradeSlice logs err and swaps in an empty, non-nil result.
func degradeSlice[T any](e *Engine, op string, out []T, err error) []T {
	if err != nil {
		e.errors.Inc(1)
		e.log.Error(op+" failed", "err", err)
		return []T{}
	}
	if out == nil {
		return []T{}
	}
	return out
}

// cached reads key through the cache and computes on a miss. Concurrent
// misses for one key share a single computation. Failed computations are not
// cached.
func cached[T any](ctx context.Context, e *Engine, key string, compute func(context.Context) (T, error)) (T, error) {
	var out T
	hit, err := e.cache.Get(ctx, key, &out)
	if err != nil {
		e.log.Warn("cache read failed", "cache", e.cache.Name(), "key", key, "err", err)
	}
	if hit {
		e.hits.Inc(1)
		return out, nil
	}
	e.misses.Inc(1)

	v, err, _ := e.calls.Do(key, func() (any, error) {
		res, err := compute(ctx)
		if err != nil {
			return res, err
		}
		if err := e.cache.Set(ctx, key, res); err != nil {
			e.log.Warn("cache write failed", "cache", e.cache.Name(), "key", key, "err", err)
		}
		return res, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}

func percent(n, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
