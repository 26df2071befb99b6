// Package model defines shared data structures for the market service.
package model

import (
	"encoding/json"
	"errors"
	"time"
)

// JobPosting is one distinct posting collected from the upstream search API.
// It is stored in the job_postings table; JobID and URL are the dedup keys.
type JobPosting struct {
	ID                 string          `json:"id"`
	JobID              string          `json:"jobId,omitempty"`
	URL                string          `json:"url,omitempty"`
	Title              string          `json:"title"`
	Company            string          `json:"company"`
	CompanyDomain      string          `json:"companyDomain,omitempty"`
	Location           string          `json:"location"`
	Description        string          `json:"description"`
	TechnologySlugs    []string        `json:"technologySlugs"`
	Skills             []string        `json:"skills"` // always derived from TechnologySlugs
	MinAnnualSalaryUSD *float64        `json:"minAnnualSalaryUsd,omitempty"`
	MaxAnnualSalaryUSD *float64        `json:"maxAnnualSalaryUsd,omitempty"`
	Remote             *bool           `json:"remote,omitempty"` // nil = unknown
	Coordinates        json.RawMessage `json:"coordinates,omitempty"`
	SearchKeywords     string          `json:"searchKeywords"`
	SearchLocation     string          `json:"searchLocation"`
	DatePosted         *time.Time      `json:"datePosted,omitempty"`
	ScrapedAt          time.Time       `json:"scrapedAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// HasIdentity reports whether the posting carries at least one dedup key.
func (p *JobPosting) HasIdentity() bool {
	return p.JobID != "" || p.URL != ""
}

// User mirrors the users table row relevant to collection and gap analysis.
// Users are owned by the auth service; this service only reads them.
type User struct {
	ID          string
	Email       string
	Skills      []string
	TargetRoles []string
	Location    string
}

// RoleSummary holds the per-role counters of one collection run.
type RoleSummary struct {
	JobsCollected  int `json:"jobsCollected"`
	PagesFetched   int `json:"pagesFetched"`
	CreditsTracked int `json:"creditsTracked"`
}

// CollectionSummary maps role → counters. It is returned to the caller and
// logged, never persisted.
type CollectionSummary map[string]RoleSummary

// TotalCollected sums JobsCollected across roles.
func (s CollectionSummary) TotalCollected() int {
	n := 0
	for _, r := range s {
		n += r.JobsCollected
	}
	return n
}

// GroupCount is one row of a group-by-count aggregation.
type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// CollectionStats summarises what the store currently holds.
type CollectionStats struct {
	TotalJobs    int64        `json:"totalJobs"`
	JobsLast24h  int64        `json:"jobsLast24h"`
	JobsLast7d   int64        `json:"jobsLast7d"`
	TopRoles     []GroupCount `json:"topRoles"`
	TopLocations []GroupCount `json:"topLocations"`
}

// SalaryGroup is the raw salary aggregation for one location.
type SalaryGroup struct {
	Location string
	AvgMin   float64
	AvgMax   float64
	Count    int64
}

// RemoteGroup is the raw remote/onsite aggregation.
type RemoteGroup struct {
	Remote bool
	Count  int64
}

var (
	// ErrNotFound is returned when a posting lookup matches nothing.
	ErrNotFound = errors.New("not found")

	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNoIdentity is returned when a posting has neither job id nor url.
	ErrNoIdentity = errors.New("posting has neither job_id nor url")
)
