package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/market-service/internal/collector"
	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/model"
)

type stubCollector struct {
	roleReqs []collector.Request
	cleanups []int
	err      error
}

func (s *stubCollector) CollectForRoles(_ context.Context, req collector.Request) (model.CollectionSummary, error) {
	s.roleReqs = append(s.roleReqs, req)
	return nil, s.err
}

func (s *stubCollector) CleanupOldJobs(_ context.Context, days int) (int64, error) {
	s.cleanups = append(s.cleanups, days)
	return 3, s.err
}

type stubDemand struct {
	reqs []demand.AllUsersRequest
}

func (s *stubDemand) CollectForAllUsers(_ context.Context, req demand.AllUsersRequest) (model.CollectionSummary, error) {
	s.reqs = append(s.reqs, req)
	return model.CollectionSummary{}, errors.New("users unavailable")
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMisfired(t *testing.T) {
	sched, err := cron.ParseStandard("0 2 * * *")
	if err != nil {
		t.Fatal(err)
	}
	due := time.Date(2026, 5, 4, 2, 0, 0, 0, time.Local)
	cases := []struct {
		late time.Duration
		want bool
	}{
		{0, false},
		{5 * time.Millisecond, false},
		{9 * time.Minute, false},
		{11 * time.Minute, true},
		{6 * time.Hour, true},
	}
	for _, tc := range cases {
		if got := misfired(sched, due.Add(tc.late), DefaultMisfireGrace); got != tc.want {
			t.Errorf("late %v: misfired = %v, want %v", tc.late, got, tc.want)
		}
	}
}

func TestMisfireGuard_SkipsLateFiring(t *testing.T) {
	s := New(Config{Logger: discard(), Location: time.UTC}, &stubCollector{}, nil)
	sched, _ := cron.ParseStandard("0 3 * * 0")
	ran := 0
	job := s.misfireGuard(CleanupJobID, sched)(cron.FuncJob(func() { ran++ }))

	s.now = func() time.Time { return time.Date(2026, 5, 3, 3, 0, 1, 0, time.UTC) } // Sunday
	job.Run()
	s.now = func() time.Time { return time.Date(2026, 5, 3, 4, 0, 0, 0, time.UTC) }
	job.Run()
	if ran != 1 {
		t.Errorf("ran = %d, want 1", ran)
	}
}

type blockingCollector struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCollector) CollectForRoles(context.Context, collector.Request) (model.CollectionSummary, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	return model.CollectionSummary{}, nil
}

func (b *blockingCollector) CleanupOldJobs(context.Context, int) (int64, error) { return 0, nil }

func TestWrapJob_OverlappingFiringSkipped(t *testing.T) {
	bc := &blockingCollector{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(Config{Logger: discard(), Location: time.UTC, Roles: []string{"Go Developer"}}, bc, nil)
	s.now = func() time.Time { return time.Date(2026, 5, 4, 2, 0, 1, 0, time.UTC) }
	sched, _ := cron.ParseStandard(DefaultCollectionSchedule)
	job := s.wrapJob(CollectionJobID, sched, cronLogger{s.log}, func() {
		s.runScheduledCollection(context.Background())
	})

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	select {
	case <-bc.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first firing never reached the collector")
	}

	job.Run() // returns at once while the first run is in flight
	close(bc.release)
	<-done

	if n := bc.calls.Load(); n != 1 {
		t.Errorf("collect calls = %d, want 1", n)
	}

	job.Run()
	if n := bc.calls.Load(); n != 2 {
		t.Errorf("collect calls after first run finished = %d, want 2", n)
	}
}

func TestRunScheduledCollection_UserRoles(t *testing.T) {
	sc := &stubCollector{}
	sd := &stubDemand{}
	s := New(Config{Logger: discard(), UseUserRoles: true, Locations: []string{"Germany"}}, sc, sd)

	s.runScheduledCollection(context.Background())
	if len(sd.reqs) != 1 || len(sc.roleReqs) != 0 {
		t.Fatalf("demand=%d roles=%d", len(sd.reqs), len(sc.roleReqs))
	}
	want := demand.AllUsersRequest{MaxAgeDays: 30, JobsPerRole: 5, Locations: []string{"Germany"}, FreshnessDays: 30}
	got := sd.reqs[0]
	if got.MaxAgeDays != want.MaxAgeDays || got.JobsPerRole != want.JobsPerRole ||
		got.FreshnessDays != want.FreshnessDays || got.Locations[0] != "Germany" {
		t.Errorf("request = %+v, want %+v", got, want)
	}
}

func TestRunScheduledCollection_ConfiguredRoles(t *testing.T) {
	sc := &stubCollector{err: errors.New("boom")}
	s := New(Config{Logger: discard(), Roles: []string{"Go Developer"}, MaxJobsPerSearch: 10}, sc, &stubDemand{})

	s.runScheduledCollection(context.Background())
	if len(sc.roleReqs) != 1 || sc.roleReqs[0].PerRoleLimit != 10 {
		t.Errorf("role requests = %+v", sc.roleReqs)
	}
}

func TestRunCleanup_UsesRetention(t *testing.T) {
	sc := &stubCollector{err: errors.New("db down")}
	s := New(Config{Logger: discard(), RetentionDays: 45}, sc, nil)
	s.runCleanup(context.Background())
	if len(sc.cleanups) != 1 || sc.cleanups[0] != 45 {
		t.Errorf("cleanups = %v", sc.cleanups)
	}
}
