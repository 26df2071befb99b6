// Package store persists job postings and answers the aggregation queries
// the analytics engine needs. Two backends share one contract: Postgres
// (pgxpool) for deployments and SQLite for local runs and tests.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/skills"
)

// Store is the full capability set both backends implement.
type Store interface {
	// UpsertPosting inserts p or overwrites the posting that matches its
	// job id (first) or url (second). ScrapedAt of an existing posting is
	// kept. p.ID, p.Skills, p.ScrapedAt and p.UpdatedAt are set on return.
	UpsertPosting(ctx context.Context, p *model.JobPosting) (inserted bool, err error)
	FindPosting(ctx context.Context, jobID, url string) (*model.JobPosting, error)
	DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	HasFreshPosting(ctx context.Context, searchKeywords string, since time.Time) (bool, error)

	CountPostings(ctx context.Context, f Filter) (int64, error)
	TagCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error)
	LocationCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error)
	KeywordCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error)
	SalaryByLocation(ctx context.Context, f Filter, limit int) ([]model.SalaryGroup, error)
	RemoteCounts(ctx context.Context, f Filter) ([]model.RemoteGroup, error)

	SkillSets(ctx context.Context) ([]SkillSet, error)
	UpdateSkills(ctx context.Context, id string, skills []string) error

	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)

	EnsureSchema(ctx context.Context) error
	Close() error
}

// Filter narrows aggregation queries. Zero fields are ignored.
type Filter struct {
	Since                  time.Time // scraped_at >= Since
	SearchKeywordsEqual    string    // case-insensitive exact match
	SearchKeywordsContains string    // case-insensitive substring
	TitleContains          string    // case-insensitive substring
}

// SkillSet is the stored slug/skill pair of one posting.
type SkillSet struct {
	ID              string
	TechnologySlugs []string
	Skills          []string
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for scraped_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// prepare validates p and fills the derived fields shared by both backends.
func prepare(p *model.JobPosting, n *skills.Normalizer, now time.Time) error {
	if !p.HasIdentity() {
		return model.ErrNoIdentity
	}
	if p.TechnologySlugs == nil {
		p.TechnologySlugs = []string{}
	}
	p.Skills = n.Normalize(p.TechnologySlugs)
	p.UpdatedAt = now
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// dialect holds the few SQL differences between the backends.
type dialect struct {
	placeholder func(n int) string
	contains    string // fmt pattern with two %s: haystack, needle
	timeArg     func(t time.Time) any
	limitArg    func(n int) any
}

// where renders f as a SQL condition starting at placeholder index start.
func (d dialect) where(f Filter, start int) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(start + len(args) - 1)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "scraped_at >= "+next(d.timeArg(f.Since)))
	}
	if f.SearchKeywordsEqual != "" {
		conds = append(conds, "lower(search_keywords) = lower("+next(strings.TrimSpace(f.SearchKeywordsEqual))+")")
	}
	if f.SearchKeywordsContains != "" {
		conds = append(conds, fmt.Sprintf(d.contains, "lower(search_keywords)", "lower("+next(f.SearchKeywordsContains)+")"))
	}
	if f.TitleContains != "" {
		conds = append(conds, fmt.Sprintf(d.contains, "lower(title)", "lower("+next(strings.TrimSpace(f.TitleContains))+")"))
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), args
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
