// Package scheduler wires up the recurring collection and cleanup jobs and
// exposes a manual trigger that runs the same collection path.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/market-service/internal/collector"
	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/model"
)

const (
	CollectionJobID = "daily-job-collection"
	CleanupJobID    = "weekly-job-cleanup"

	DefaultCollectionSchedule = "0 2 * * *"
	cleanupSchedule           = "0 3 * * 0"
	DefaultMisfireGrace       = 600 * time.Second

	// Scheduled user-driven runs look further back and fetch fewer jobs per
	// role than manual runs.
	userRunMaxAgeDays    = 30
	userRunJobsPerRole   = 5
	userRunFreshnessDays = 30
	manualMaxAgeDays     = 14
)

// Collector is the role/location collection and retention capability.
type Collector interface {
	CollectForRoles(ctx context.Context, req collector.Request) (model.CollectionSummary, error)
	CleanupOldJobs(ctx context.Context, retentionDays int) (int64, error)
}

// DemandCollector collects for the roles users are targeting.
type DemandCollector interface {
	CollectForAllUsers(ctx context.Context, req demand.AllUsersRequest) (model.CollectionSummary, error)
}

// Config is fixed at construction.
type Config struct {
	CollectionSchedule string // 5-field cron; invalid falls back to DefaultCollectionSchedule
	Roles              []string
	Locations          []string
	UseUserRoles       bool
	RetentionDays      int
	MaxJobsPerSearch   int
	MisfireGrace       time.Duration
	Location           *time.Location // cron time zone; default time.Local
	Logger             *slog.Logger
}

// Scheduler is Stopped until Start and again after Stop.
type Scheduler struct {
	cfg    Config
	jobs   Collector
	demand DemandCollector
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

// New creates a stopped Scheduler.
func New(cfg Config, jobs Collector, dc DemandCollector) *Scheduler {
	if cfg.CollectionSchedule == "" {
		cfg.CollectionSchedule = DefaultCollectionSchedule
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = DefaultMisfireGrace
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		demand: dc,
		log:    cfg.Logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Start registers both recurring jobs and starts the cron. ctx is handed to
// every scheduled run. Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.log.Info("scheduler already started; skipping duplicate start")
		return nil
	}

	cl := cronLogger{s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)

	collectSched, err := cron.ParseStandard(s.cfg.CollectionSchedule)
	if err != nil {
		s.log.Error("invalid collection schedule; using default",
			"schedule", s.cfg.CollectionSchedule, "default", DefaultCollectionSchedule, "err", err)
		collectSched, _ = cron.ParseStandard(DefaultCollectionSchedule)
	}
	cleanupSched, _ := cron.ParseStandard(cleanupSchedule)

	entries := make(map[string]cron.EntryID, 2)
	for _, j := range []struct {
		id    string
		sched cron.Schedule
		run   func(context.Context)
	}{
		{CollectionJobID, collectSched, s.runScheduledCollection},
		{CleanupJobID, cleanupSched, s.runCleanup},
	} {
		run := j.run
		entries[j.id] = c.Schedule(j.sched, s.wrapJob(j.id, j.sched, cl, func() { run(ctx) }))
	}

	c.Start()
	s.cron = c
	s.entries = entries
	s.log.Info("scheduler started",
		"collectionSchedule", s.cfg.CollectionSchedule, "useUserRoles", s.cfg.UseUserRoles)
	return nil
}

// Stop cancels pending firings. It does not wait for an in-flight run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		s.log.Info("scheduler not running; nothing to stop")
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.entries = nil
	s.log.Info("scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRuns returns the next firing time of each registered job, or nil when
// stopped.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// ManualRequest parameterises TriggerManualCollection. Zero fields take the
// configured defaults.
type ManualRequest struct {
	Roles        []string
	Locations    []string
	MaxAgeDays   int
	PerRoleLimit int
}

// TriggerManualCollection runs a role/location collection outside the
// schedule. Failures are logged and yield an empty or partial summary.
func (s *Scheduler) TriggerManualCollection(ctx context.Context, req ManualRequest) model.CollectionSummary {
	if len(req.Roles) == 0 {
		req.Roles = s.cfg.Roles
	}
	if len(req.Locations) == 0 {
		req.Locations = s.cfg.Locations
	}
	if req.MaxAgeDays <= 0 {
		req.MaxAgeDays = manualMaxAgeDays
	}
	if req.PerRoleLimit <= 0 {
		req.PerRoleLimit = s.cfg.MaxJobsPerSearch
	}
	s.log.Info("manual collection triggered", "roles", req.Roles, "locations", req.Locations)
	return s.collectRoles(ctx, req.Roles, req.Locations, req.MaxAgeDays, req.PerRoleLimit)
}

// wrapJob applies the misfire guard and allows at most one in-flight run of
// the job; an overlapping firing is dropped.
func (s *Scheduler) wrapJob(id string, sched cron.Schedule, cl cron.Logger, run func()) cron.Job {
	return cron.NewChain(
		s.misfireGuard(id, sched),
		cron.SkipIfStillRunning(cl),
	).Then(cron.FuncJob(run))
}

// ─── Firings ─────────────────────────────────────────────────────────────────

func (s *Scheduler) runScheduledCollection(ctx context.Context) {
	if s.cfg.UseUserRoles && s.demand != nil {
		s.collectForUsers(ctx)
		return
	}
	s.collectRoles(ctx, s.cfg.Roles, s.cfg.Locations, manualMaxAgeDays, s.cfg.MaxJobsPerSearch)
}

func (s *Scheduler) collectRoles(ctx context.Context, roles, locations []string, maxAgeDays, perRole int) (summary model.CollectionSummary) {
	summary = model.CollectionSummary{}
	if len(roles) == 0 {
		s.log.Warn("no roles configured for job collection; skipping run")
		return summary
	}
	defer s.recoverFiring("collection", &summary)

	got, err := s.jobs.CollectForRoles(ctx, collector.Request{
		Roles:        roles,
		Locations:    locations,
		MaxAgeDays:   maxAgeDays,
		PerRoleLimit: perRole,
	})
	if err != nil {
		s.log.Error("job collection halted", "err", err)
	}
	if got != nil {
		summary = got
	}
	s.log.Info("job collection finished", "jobs", summary.TotalCollected(), "roles", len(summary))
	return summary
}

func (s *Scheduler) collectForUsers(ctx context.Context) {
	summary := model.CollectionSummary{}
	defer s.recoverFiring("user-based collection", &summary)

	locations := s.cfg.Locations
	if len(locations) == 0 {
		locations = nil
	}
	got, err := s.demand.CollectForAllUsers(ctx, demand.AllUsersRequest{
		MaxAgeDays:    userRunMaxAgeDays,
		JobsPerRole:   userRunJobsPerRole,
		Locations:     locations,
		FreshnessDays: userRunFreshnessDays,
	})
	if err != nil {
		s.log.Error("user-based collection halted", "err", err)
		return
	}
	summary = got
	s.log.Info("user-based collection finished", "jobs", summary.TotalCollected(), "roles", len(summary))
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	defer s.recoverFiring("cleanup", nil)
	removed, err := s.jobs.CleanupOldJobs(ctx, s.cfg.RetentionDays)
	if err != nil {
		s.log.Error("cleanup failed", "err", err)
		return
	}
	s.log.Info("weekly cleanup finished", "removed", removed)
}

// recoverFiring turns a panic inside a firing into an error log. When
// summary is non-nil the partial result is kept.
func (s *Scheduler) recoverFiring(what string, summary *model.CollectionSummary) {
	if r := recover(); r != nil {
		s.log.Error("unexpected error during "+what, "panic", fmt.Sprint(r))
		if summary != nil && *summary == nil {
			*summary = model.CollectionSummary{}
		}
	}
}

// misfireGuard drops a firing whose scheduled time is more than the grace
// window in the past, which happens after the process was suspended.
func (s *Scheduler) misfireGuard(name string, sched cron.Schedule) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			now := s.now().In(s.cfg.Location)
			if misfired(sched, now, s.cfg.MisfireGrace) {
				s.log.Warn("misfired run skipped", "job", name, "grace", s.cfg.MisfireGrace)
				return
			}
			j.Run()
		})
	}
}

// misfired reports whether no activation of sched falls within
// [now-grace, now].
func misfired(sched cron.Schedule, now time.Time, grace time.Duration) bool {
	return sched.Next(now.Add(-grace)).After(now)
}

// cronLogger routes robfig/cron's logging through slog.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
