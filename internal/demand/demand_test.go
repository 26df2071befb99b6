package demand_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"jobmate/market-service/internal/collector"
	"jobmate/market-service/internal/demand"
	"jobmate/market-service/internal/model"
)

// ── Fakes ──────────────────────────────────────────────────────────────────

type fakeStore struct {
	users     []model.User
	fresh     map[string]bool
	freshErr  error
	cutoffs   []time.Time
	listCalls int
}

func (f *fakeStore) ListUsers(context.Context) ([]model.User, error) {
	f.listCalls++
	return f.users, nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*model.User, error) {
	for i := range f.users {
		if f.users[i].ID == id {
			return &f.users[i], nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (f *fakeStore) HasFreshPosting(_ context.Context, kw string, since time.Time) (bool, error) {
	f.cutoffs = append(f.cutoffs, since)
	if f.freshErr != nil {
		return false, f.freshErr
	}
	return f.fresh[kw], nil
}

type fakeCollector struct {
	reqs []collector.Request
}

func (f *fakeCollector) CollectForRoles(_ context.Context, req collector.Request) (model.CollectionSummary, error) {
	f.reqs = append(f.reqs, req)
	out := model.CollectionSummary{}
	for _, r := range req.Roles {
		out[r] = model.RoleSummary{JobsCollected: 1}
	}
	return out, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// ── CollectForAllUsers ─────────────────────────────────────────────────────

func TestCollectForAllUsers_SkipsFreshRoles(t *testing.T) {
	st := &fakeStore{
		users: []model.User{
			{ID: "1", TargetRoles: []string{"Go Developer", "Data Scientist"}},
			{ID: "2", TargetRoles: []string{"Data Scientist", " ", "Backend Developer"}},
			{ID: "3"},
		},
		fresh: map[string]bool{"Data Scientist": true},
	}
	fc := &fakeCollector{}
	c := demand.New(st, fc, []string{"Germany"}, quiet())

	summary, err := c.CollectForAllUsers(context.Background(), demand.AllUsersRequest{MaxAgeDays: 30, FreshnessDays: 30})
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.reqs) != 1 {
		t.Fatalf("collector calls = %d, want 1", len(fc.reqs))
	}
	req := fc.reqs[0]
	if want := []string{"Backend Developer", "Go Developer"}; !reflect.DeepEqual(req.Roles, want) {
		t.Errorf("roles = %v, want %v", req.Roles, want)
	}
	if req.PerRoleLimit != demand.DefaultJobsPerRole || req.MaxAgeDays != 30 {
		t.Errorf("limits = %d jobs / %d days", req.PerRoleLimit, req.MaxAgeDays)
	}
	if !reflect.DeepEqual(req.Locations, []string{"Germany"}) {
		t.Errorf("locations = %v, want configured default", req.Locations)
	}
	if _, ok := summary["Data Scientist"]; ok {
		t.Error("fresh role must not be collected")
	}

	cutoff := st.cutoffs[0]
	if d := time.Since(cutoff); d < 29*24*time.Hour || d > 31*24*time.Hour {
		t.Errorf("freshness cutoff %v is not ~30 days ago", cutoff)
	}
}

func TestCollectForAllUsers_AllFreshIsNoop(t *testing.T) {
	st := &fakeStore{
		users: []model.User{{ID: "1", TargetRoles: []string{"Go Developer"}}},
		fresh: map[string]bool{"Go Developer": true},
	}
	fc := &fakeCollector{}
	c := demand.New(st, fc, nil, quiet())

	summary, err := c.CollectForAllUsers(context.Background(), demand.AllUsersRequest{})
	if err != nil || len(summary) != 0 || len(fc.reqs) != 0 {
		t.Errorf("summary=%v err=%v calls=%d, want no-op", summary, err, len(fc.reqs))
	}
}

func TestCollectForAllUsers_NoRolesIsNoop(t *testing.T) {
	st := &fakeStore{users: []model.User{{ID: "1"}}}
	fc := &fakeCollector{}
	c := demand.New(st, fc, nil, quiet())

	summary, err := c.CollectForAllUsers(context.Background(), demand.AllUsersRequest{})
	if err != nil || len(summary) != 0 || len(fc.reqs) != 0 || len(st.cutoffs) != 0 {
		t.Errorf("summary=%v err=%v calls=%d lookups=%d", summary, err, len(fc.reqs), len(st.cutoffs))
	}
}

func TestCollectForAllUsers_LookupErrorCountsAsStale(t *testing.T) {
	st := &fakeStore{
		users:    []model.User{{ID: "1", TargetRoles: []string{"Go Developer"}}},
		freshErr: errors.New("db down"),
	}
	fc := &fakeCollector{}
	c := demand.New(st, fc, nil, quiet())

	c.CollectForAllUsers(context.Background(), demand.AllUsersRequest{Locations: []string{"Remote"}})
	if len(fc.reqs) != 1 || fc.reqs[0].Roles[0] != "Go Developer" {
		t.Fatalf("reqs = %+v", fc.reqs)
	}
	if fc.reqs[0].Locations[0] != "Remote" {
		t.Errorf("explicit locations ignored: %v", fc.reqs[0].Locations)
	}
}

// ── CollectForUser ─────────────────────────────────────────────────────────

func TestCollectForUser_LocationFallbacks(t *testing.T) {
	st := &fakeStore{users: []model.User{
		{ID: "with-loc", TargetRoles: []string{"Go Developer"}, Location: "Berlin, Germany"},
		{ID: "no-loc", TargetRoles: []string{"Go Developer"}},
	}}
	cases := []struct {
		user      string
		locations []string
		want      []string
	}{
		{"with-loc", nil, []string{"Berlin, Germany"}},
		{"no-loc", nil, []string{"United States"}},
		{"with-loc", []string{"Remote"}, []string{"Remote"}},
	}
	for _, tc := range cases {
		fc := &fakeCollector{}
		c := demand.New(st, fc, []string{"United States"}, quiet())
		if _, err := c.CollectForUser(context.Background(), tc.user, demand.UserRequest{Locations: tc.locations}); err != nil {
			t.Fatalf("%s: %v", tc.user, err)
		}
		if got := fc.reqs[0].Locations; !reflect.DeepEqual(got, tc.want) {
			t.Errorf("%s: locations = %v, want %v", tc.user, got, tc.want)
		}
		if fc.reqs[0].MaxAgeDays != demand.DefaultMaxAgeDays || fc.reqs[0].PerRoleLimit != demand.DefaultJobsPerRole {
			t.Errorf("%s: defaults not applied: %+v", tc.user, fc.reqs[0])
		}
	}
}

func TestCollectForUser_UnknownAndRoleless(t *testing.T) {
	st := &fakeStore{users: []model.User{{ID: "empty"}}}
	fc := &fakeCollector{}
	c := demand.New(st, fc, nil, quiet())

	if _, err := c.CollectForUser(context.Background(), "ghost", demand.UserRequest{}); !errors.Is(err, model.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	summary, err := c.CollectForUser(context.Background(), "empty", demand.UserRequest{})
	if err != nil || len(summary) != 0 || len(fc.reqs) != 0 {
		t.Errorf("summary=%v err=%v calls=%d", summary, err, len(fc.reqs))
	}
}
