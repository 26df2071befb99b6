// Package demand drives collection from the live user population: the roles
// users are targeting decide what is fetched.
package demand

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"jobmate/market-service/internal/collector"
	"jobmate/market-service/internal/model"
)

const (
	DefaultMaxAgeDays    = 14
	DefaultJobsPerRole   = 5
	DefaultFreshnessDays = 30
)

// Store is what the demand collector reads.
type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUser(ctx context.Context, id string) (*model.User, error)
	HasFreshPosting(ctx context.Context, searchKeywords string, since time.Time) (bool, error)
}

// RoleCollector runs a role/location collection.
type RoleCollector interface {
	CollectForRoles(ctx context.Context, req collector.Request) (model.CollectionSummary, error)
}

// Collector is the demand-driven collector.
type Collector struct {
	store     Store
	roles     RoleCollector
	locations []string
	log       *slog.Logger
	now       func() time.Time
}

// New constructs a Collector. defaultLocations is used when neither the
// request nor the user supplies locations.
func New(st Store, rc RoleCollector, defaultLocations []string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		store:     st,
		roles:     rc,
		locations: defaultLocations,
		log:       logger.With("component", "demand"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AllUsersRequest parameterises CollectForAllUsers. Zero fields take defaults.
type AllUsersRequest struct {
	MaxAgeDays    int
	JobsPerRole   int
	Locations     []string // nil: configured default locations
	FreshnessDays int
}

// CollectForAllUsers collects for every distinct target role across users,
// skipping roles that already have a posting scraped within FreshnessDays.
func (c *Collector) CollectForAllUsers(ctx context.Context, req AllUsersRequest) (model.CollectionSummary, error) {
	if req.MaxAgeDays <= 0 {
		req.MaxAgeDays = DefaultMaxAgeDays
	}
	if req.JobsPerRole <= 0 {
		req.JobsPerRole = DefaultJobsPerRole
	}
	if req.FreshnessDays <= 0 {
		req.FreshnessDays = DefaultFreshnessDays
	}

	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return model.CollectionSummary{}, err
	}
	roles := distinctRoles(users)
	if len(roles) == 0 {
		c.log.Warn("no target roles found across users")
		return model.CollectionSummary{}, nil
	}
	c.log.Info("target roles resolved", "roles", len(roles), "users", len(users))

	stale := c.rolesNeedingUpdate(ctx, roles, req.FreshnessDays)
	if len(stale) == 0 {
		c.log.Info("all roles have fresh data; skipping collection", "freshnessDays", req.FreshnessDays)
		return model.CollectionSummary{}, nil
	}

	locations := req.Locations
	if locations == nil {
		locations = c.locations
	}
	c.log.Info("collecting roles needing update", "roles", stale)
	return c.roles.CollectForRoles(ctx, collector.Request{
		Roles:        stale,
		Locations:    locations,
		MaxAgeDays:   req.MaxAgeDays,
		PerRoleLimit: req.JobsPerRole,
	})
}

// UserRequest parameterises CollectForUser. Zero fields take defaults.
type UserRequest struct {
	MaxAgeDays  int
	JobsPerRole int
	Locations   []string // nil: the user's location, else configured defaults
}

// CollectForUser collects for one user's target roles. It returns
// model.ErrUserNotFound for an unknown id.
func (c *Collector) CollectForUser(ctx context.Context, userID string, req UserRequest) (model.CollectionSummary, error) {
	if req.MaxAgeDays <= 0 {
		req.MaxAgeDays = DefaultMaxAgeDays
	}
	if req.JobsPerRole <= 0 {
		req.JobsPerRole = DefaultJobsPerRole
	}

	u, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return model.CollectionSummary{}, err
	}
	if len(u.TargetRoles) == 0 {
		c.log.Warn("user has no target roles", "userId", userID)
		return model.CollectionSummary{}, nil
	}

	locations := req.Locations
	if locations == nil {
		if loc := strings.TrimSpace(u.Location); loc != "" {
			locations = []string{loc}
		} else {
			locations = c.locations
		}
	}
	c.log.Info("collecting for user", "userId", userID, "roles", u.TargetRoles)
	return c.roles.CollectForRoles(ctx, collector.Request{
		Roles:        u.TargetRoles,
		Locations:    locations,
		MaxAgeDays:   req.MaxAgeDays,
		PerRoleLimit: req.JobsPerRole,
	})
}

// rolesNeedingUpdate keeps roles without a posting scraped since the
// freshness cutoff. A failed lookup counts as stale.
func (c *Collector) rolesNeedingUpdate(ctx context.Context, roles []string, freshnessDays int) []string {
	cutoff := c.now().AddDate(0, 0, -freshnessDays)
	var out []string
	for _, role := range roles {
		fresh, err := c.store.HasFreshPosting(ctx, role, cutoff)
		if err != nil {
			c.log.Error("freshness lookup failed", "role", role, "err", err)
		}
		if fresh {
			c.log.Info("role has fresh data; skipping", "role", role)
			continue
		}
		out = append(out, role)
	}
	return out
}

func distinctRoles(users []model.User) []string {
	set := make(map[string]struct{})
	for _, u := range users {
		for _, r := range u.TargetRoles {
			if r = strings.TrimSpace(r); r != "" {
				set[r] = struct{}{}
			}
		}
	}
	roles := make([]string, 0, len(set))
	for r := range set {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}
