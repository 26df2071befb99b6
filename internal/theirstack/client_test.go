package theirstack_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"

	"jobmate/market-service/internal/theirstack"
)

func newTestClient(t *testing.T, url string, attempts int) *theirstack.Client {
	t.Helper()
	c := theirstack.NewClient(theirstack.Options{
		BaseURL:     url,
		APIKey:      "secret",
		Timeout:     2 * time.Second,
		MaxAttempts: attempts,
		MaxLimit:    25,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     metrics.NewRegistry(),
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func statusServer(code int, body string, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.WriteHeader(code)
		io.WriteString(w, body)
	}))
}

// ── Validation ─────────────────────────────────────────────────────────────

func TestSearch_MissingTemporalFilter_NoNetworkCall(t *testing.T) {
	var hits int32
	srv := statusServer(http.StatusOK, `{"data":[]}`, &hits)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Search(context.Background(), theirstack.SearchRequest{JobTitleOr: []string{"Go Developer"}})
	if !theirstack.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if hits != 0 {
		t.Errorf("server hit %d times, want 0", hits)
	}
}

func TestSearch_DateRangeSatisfiesTemporalFilter(t *testing.T) {
	var hits int32
	srv := statusServer(http.StatusOK, `{"data":[]}`, &hits)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	_, err := c.Search(context.Background(), theirstack.SearchRequest{PostedAtGTE: "2026-01-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 1 {
		t.Errorf("server hit %d times, want 1", hits)
	}
}

// ── Request shape ──────────────────────────────────────────────────────────

func TestSearch_DefaultsAndHeaders(t *testing.T) {
	var got map[string]any
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"data":[{"job_id":1}],"metadata":{"has_more":false,"total":7,"credits_consumed":2}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	res, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 14, Limit: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if got["page"] != float64(1) {
		t.Errorf("page = %v, want 1", got["page"])
	}
	if got["limit"] != float64(25) {
		t.Errorf("limit = %v, want clamped 25", got["limit"])
	}
	if len(res.Data) != 1 {
		t.Errorf("len(data) = %d, want 1", len(res.Data))
	}
	if res.Metadata.HasMore == nil || *res.Metadata.HasMore {
		t.Errorf("has_more = %v, want false", res.Metadata.HasMore)
	}
	if res.Metadata.TotalResults != 7 || res.Metadata.Credits() != 2 {
		t.Errorf("metadata = %+v", res.Metadata)
	}
}

func TestSearch_OffsetSuppressesDefaultPage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	if _, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 7, Offset: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := got["page"]; ok {
		t.Errorf("page should be absent when offset is set, got %v", got["page"])
	}
}

// ── Error classification & retries ─────────────────────────────────────────

func TestSearch_ServiceUnavailable_RetriedUntilExhausted(t *testing.T) {
	var hits int32
	srv := statusServer(http.StatusServiceUnavailable, "down", &hits)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 4)
	_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
	if !theirstack.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if hits != 4 {
		t.Errorf("server hit %d times, want 4", hits)
	}
}

func TestSearch_TooManyRequests_IsRetryable(t *testing.T) {
	var hits int32
	srv := statusServer(http.StatusTooManyRequests, "slow down", &hits)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
	if !theirstack.IsRetryable(err) || hits != 2 {
		t.Fatalf("err=%v hits=%d, want retryable after 2 hits", err, hits)
	}
}

func TestSearch_RecoversAfterTransientFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	if _, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 3 {
		t.Errorf("server hit %d times, want 3", hits)
	}
}

func TestSearch_NonRetryableStatuses(t *testing.T) {
	cases := []struct {
		code int
		kind theirstack.Kind
	}{
		{http.StatusUnauthorized, theirstack.KindAuthentication},
		{http.StatusForbidden, theirstack.KindAuthentication},
		{http.StatusBadRequest, theirstack.KindClient},
		{http.StatusNotFound, theirstack.KindClient},
		{http.StatusUnprocessableEntity, theirstack.KindClient},
	}
	for _, tc := range cases {
		var hits int32
		srv := statusServer(tc.code, `{"error":"nope"}`, &hits)
		c := newTestClient(t, srv.URL, 5)
		_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
		srv.Close()

		if got := theirstack.KindOf(err); got != tc.kind {
			t.Errorf("status %d: kind = %v, want %v", tc.code, got, tc.kind)
		}
		if hits != 1 {
			t.Errorf("status %d: server hit %d times, want 1 (no retry)", tc.code, hits)
		}
	}
}

func TestSearch_MalformedBodies(t *testing.T) {
	bodies := []string{
		`not json`,
		`[1,2,3]`,
		`{"data":"oops"}`,
		`{"data":[1,2]}`,
		`{"data":[],"metadata":"x"}`,
	}
	for _, body := range bodies {
		var hits int32
		srv := statusServer(http.StatusOK, body, &hits)
		c := newTestClient(t, srv.URL, 3)
		_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
		srv.Close()

		if !theirstack.IsMalformed(err) {
			t.Errorf("body %q: expected malformed error, got %v", body, err)
		}
		if hits != 1 {
			t.Errorf("body %q: server hit %d times, want 1", body, hits)
		}
	}
}

func TestSearch_TransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 2)
	_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
	if !theirstack.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestSearch_TimeoutIsRetryable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c := theirstack.NewClient(theirstack.Options{
		BaseURL:     srv.URL,
		Timeout:     20 * time.Millisecond,
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     metrics.NewRegistry(),
	})
	defer c.Close()

	_, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1})
	if !theirstack.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("server hit %d times, want 2", hits)
	}
}

// ── Lazy client ────────────────────────────────────────────────────────────

func TestSearch_ConcurrentFirstUse(t *testing.T) {
	var hits int32
	srv := statusServer(http.StatusOK, `{"data":[]}`, &hits)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if hits != 16 {
		t.Errorf("server hit %d times, want 16", hits)
	}

	// Close then reuse re-initialises the transport.
	c.Close()
	if _, err := c.Search(context.Background(), theirstack.SearchRequest{MaxAgeDays: 1}); err != nil {
		t.Fatalf("search after Close: %v", err)
	}
}
