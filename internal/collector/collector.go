// Package collector turns role/location requests into upstream searches and
// persists the results idempotently.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"

	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/skills"
	"jobmate/market-service/internal/store"
	"jobmate/market-service/internal/theirstack"
)

const (
	DefaultMaxAgeDays    = 14
	DefaultRetentionDays = 90
	statsTopN            = 10
)

// Searcher is the upstream search capability.
type Searcher interface {
	Search(ctx context.Context, req theirstack.SearchRequest) (*theirstack.SearchResult, error)
	MaxLimit() int
}

// Store is the subset of the posting store the collector writes to.
type Store interface {
	UpsertPosting(ctx context.Context, p *model.JobPosting) (bool, error)
	DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountPostings(ctx context.Context, f store.Filter) (int64, error)
	KeywordCounts(ctx context.Context, f store.Filter, limit int) ([]model.GroupCount, error)
	LocationCounts(ctx context.Context, f store.Filter, limit int) ([]model.GroupCount, error)
	SkillSets(ctx context.Context) ([]store.SkillSet, error)
	UpdateSkills(ctx context.Context, id string, skills []string) error
}

// Options configures a Collector. All fields are optional.
type Options struct {
	Events   Publisher
	Logger   *slog.Logger
	Metrics  metrics.Registry
	Now      func() time.Time
	RedFlags []string // postings mentioning any of these terms are discarded
}

// Collector is the collection orchestrator.
type Collector struct {
	search Searcher
	store  Store
	norm   *skills.Normalizer
	events Publisher
	log    *slog.Logger
	now    func() time.Time
	flags  []string

	upserted metrics.Counter
	skipped  metrics.Counter
	rejected metrics.Counter
	failed   metrics.Counter
	pages    metrics.Counter
}

// New constructs a Collector.
func New(search Searcher, st Store, norm *skills.Normalizer, opts Options) *Collector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultRegistry
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Collector{
		search:   search,
		store:    st,
		norm:     norm,
		events:   opts.Events,
		log:      opts.Logger.With("component", "collector"),
		now:      opts.Now,
		flags:    opts.RedFlags,
		upserted: metrics.GetOrRegisterCounter("collector.jobs.upserted", opts.Metrics),
		skipped:  metrics.GetOrRegisterCounter("collector.jobs.skipped", opts.Metrics),
		rejected: metrics.GetOrRegisterCounter("collector.jobs.rejected", opts.Metrics),
		failed:   metrics.GetOrRegisterCounter("collector.jobs.failed", opts.Metrics),
		pages:    metrics.GetOrRegisterCounter("collector.pages", opts.Metrics),
	}
}

// Request describes one collection run.
type Request struct {
	Roles        []string
	Locations    []string
	MaxAgeDays   int // default 14
	PerRoleLimit int // default: the searcher's per-call maximum
}

// CollectForRoles runs the paginated search-and-upsert loop for every role.
// Upstream errors end the current role only. The returned error is non-nil
// only when ctx is cancelled; the summary then holds the roles finished so far.
func (c *Collector) CollectForRoles(ctx context.Context, req Request) (model.CollectionSummary, error) {
	summary := model.CollectionSummary{}
	if len(req.Roles) == 0 {
		c.log.Warn("no roles provided for job collection")
		return summary, nil
	}
	if req.MaxAgeDays <= 0 {
		req.MaxAgeDays = DefaultMaxAgeDays
	}
	if req.PerRoleLimit <= 0 {
		req.PerRoleLimit = c.search.MaxLimit()
	}

	runID := uuid.NewString()
	locations := cleanLocations(req.Locations)
	label := strings.Join(locations, ",")
	codes := CountryCodes(locations)
	log := c.log.With("runId", runID)
	start := time.Now()

	log.Info("collection run started",
		"roles", len(req.Roles), "locations", label, "maxAgeDays", req.MaxAgeDays, "perRoleLimit", req.PerRoleLimit)

	for _, raw := range req.Roles {
		role := strings.TrimSpace(raw)
		if role == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			log.Warn("collection run cancelled", "err", err)
			return summary, err
		}
		summary[role] = c.collectRole(ctx, log, role, label, locations, codes, req)
	}

	total := summary.TotalCollected()
	log.Info("collection run finished",
		"roles", len(summary), "jobs", humanize.Comma(int64(total)),
		"took", time.Since(start).Round(time.Millisecond))
	c.publishRun(ctx, runID, summary)
	return summary, nil
}

func (c *Collector) collectRole(
	ctx context.Context,
	log *slog.Logger,
	role, label string,
	locations, codes []string,
	req Request,
) model.RoleSummary {
	var rs model.RoleSummary
	limit := req.PerRoleLimit
	perPage := max(1, min(c.search.MaxLimit(), limit))
	variations := RoleVariations(role)
	log = log.With("role", role)
	log.Info("role collection started", "variations", len(variations), "locations", label)

	for page := 1; rs.JobsCollected < limit; page++ {
		pageLimit := max(1, min(perPage, limit-rs.JobsCollected))
		sreq := theirstack.SearchRequest{
			JobTitleOr: variations,
			MaxAgeDays: req.MaxAgeDays,
			Page:       page,
			Limit:      pageLimit,
		}
		if len(locations) > 0 {
			sreq.JobLocationPatternOr = locations
			sreq.JobCountryCodeOr = codes
		}

		res, err := c.search.Search(ctx, sreq)
		if err != nil {
			c.logSearchError(log, page, err)
			break
		}
		if len(res.Data) == 0 {
			log.Info("no job data returned", "page", page)
			break
		}
		rs.PagesFetched++
		rs.CreditsTracked += res.Metadata.Credits()
		c.pages.Inc(1)

		for _, job := range res.Data {
			if reason := skipReason(role, firstString(job, "job_title", "title")); reason != "" {
				c.skipped.Inc(1)
				log.Debug("job skipped", "rule", reason)
				continue
			}
			p, ok := mapJob(role, label, job)
			if !ok {
				c.rejected.Inc(1)
				log.Debug("job without job_id or url rejected")
				continue
			}
			if ContainsRedFlag(p.Title, p.Company, p.Description, c.flags) {
				c.skipped.Inc(1)
				log.Debug("job skipped", "rule", "red-flag", "posting", describe(p))
				continue
			}
			if _, err := c.store.UpsertPosting(ctx, p); err != nil {
				c.failed.Inc(1)
				log.Error("upsert failed", "posting", describe(p), "err", err)
				continue
			}
			c.upserted.Inc(1)
			rs.JobsCollected++
			if rs.JobsCollected >= limit {
				break
			}
		}

		log.Info("page processed",
			"page", page, "collected", rs.JobsCollected, "target", limit,
			"credits", res.Metadata.Credits(), "totalResults", res.Metadata.TotalResults)

		if rs.JobsCollected >= limit {
			break
		}
		if hm := res.Metadata.HasMore; hm != nil && !*hm {
			break
		}
		if res.Metadata.HasMore == nil && len(res.Data) < pageLimit {
			break
		}
	}

	log.Info("role collection finished",
		"jobs", rs.JobsCollected, "pages", rs.PagesFetched, "credits", rs.CreditsTracked)
	return rs
}

func (c *Collector) logSearchError(log *slog.Logger, page int, err error) {
	switch {
	case theirstack.IsAuthentication(err):
		log.Error("upstream authentication failed", "page", page, "err", err)
	case theirstack.IsRetryable(err):
		log.Error("upstream unavailable after retries", "page", page, "err", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("search cancelled", "page", page, "err", err)
	default:
		log.Error("search failed", "page", page, "kind", theirstack.KindOf(err), "err", err)
	}
}

// CleanupOldJobs deletes postings first scraped more than retentionDays ago.
func (c *Collector) CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := c.now().AddDate(0, 0, -retentionDays)
	n, err := c.store.DeleteScrapedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.log.Info("old postings removed", "deleted", humanize.Comma(n), "retentionDays", retentionDays)
	return n, nil
}

// Statistics summarises what the store currently holds.
func (c *Collector) Statistics(ctx context.Context) (*model.CollectionStats, error) {
	now := c.now()
	var (
		st  model.CollectionStats
		err error
	)
	if st.TotalJobs, err = c.store.CountPostings(ctx, store.Filter{}); err != nil {
		return nil, err
	}
	if st.JobsLast24h, err = c.store.CountPostings(ctx, store.Filter{Since: now.Add(-24 * time.Hour)}); err != nil {
		return nil, err
	}
	if st.JobsLast7d, err = c.store.CountPostings(ctx, store.Filter{Since: now.AddDate(0, 0, -7)}); err != nil {
		return nil, err
	}
	if st.TopRoles, err = c.store.KeywordCounts(ctx, store.Filter{}, statsTopN); err != nil {
		return nil, err
	}
	if st.TopLocations, err = c.store.LocationCounts(ctx, store.Filter{}, statsTopN); err != nil {
		return nil, err
	}
	return &st, nil
}

// RenormalizeSkills recomputes skills from technology slugs for every stored
// posting whose stored skills disagree, and returns how many were updated.
func (c *Collector) RenormalizeSkills(ctx context.Context) (int, error) {
	sets, err := c.store.SkillSets(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, ss := range sets {
		want := c.norm.Normalize(ss.TechnologySlugs)
		if skills.Equal(want, ss.Skills) {
			continue
		}
		if err := c.store.UpdateSkills(ctx, ss.ID, want); err != nil {
			return updated, err
		}
		updated++
	}
	c.log.Info("skills renormalized",
		"scanned", humanize.Comma(int64(len(sets))), "updated", humanize.Comma(int64(updated)))
	return updated, nil
}
