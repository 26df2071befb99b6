package theirstack

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SearchRequest is the body of POST /v1/jobs/search. Zero values are omitted.
// Exactly one temporal filter (MaxAgeDays, or PostedAtGTE/PostedAtLTE) must be set.
type SearchRequest struct {
	JobTitleOr           []string `json:"job_title_or,omitempty"`
	MaxAgeDays           int      `json:"posted_at_max_age_days,omitempty"`
	PostedAtGTE          string   `json:"posted_at_gte,omitempty"`
	PostedAtLTE          string   `json:"posted_at_lte,omitempty"`
	Page                 int      `json:"page,omitempty"`
	Offset               int      `json:"offset,omitempty"`
	Limit                int      `json:"limit,omitempty"`
	JobLocationPatternOr []string `json:"job_location_pattern_or,omitempty"`
	JobCountryCodeOr     []string `json:"job_country_code_or,omitempty"`
}

func (r *SearchRequest) hasTemporalFilter() bool {
	return r.MaxAgeDays > 0 || r.PostedAtGTE != "" || r.PostedAtLTE != ""
}

// RawJob is one upstream posting, kept loosely typed because field names
// vary between API versions.
type RawJob map[string]any

// Metadata is the pagination block of a search response.
type Metadata struct {
	HasMore          *bool `json:"has_more,omitempty"`
	TotalResults     int   `json:"total_results"`
	CreditsUsed      int   `json:"credits_used"`
	EstimatedCredits int   `json:"estimated_credits"`
}

// UnmarshalJSON accepts the alternative field names the API has used.
func (m *Metadata) UnmarshalJSON(b []byte) error {
	var aux struct {
		HasMore          *bool    `json:"has_more"`
		TotalResults     *float64 `json:"total_results"`
		Total            *float64 `json:"total"`
		CreditsUsed      *float64 `json:"credits_used"`
		CreditsConsumed  *float64 `json:"credits_consumed"`
		EstimatedCredits *float64 `json:"estimated_credits"`
		CreditsEstimated *float64 `json:"credits_estimated"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.HasMore = aux.HasMore
	m.TotalResults = firstInt(aux.TotalResults, aux.Total)
	m.CreditsUsed = firstInt(aux.CreditsUsed, aux.CreditsConsumed)
	m.EstimatedCredits = firstInt(aux.EstimatedCredits, aux.CreditsEstimated)
	return nil
}

// Credits returns credits used, falling back to the estimate.
func (m Metadata) Credits() int {
	if m.CreditsUsed != 0 {
		return m.CreditsUsed
	}
	return m.EstimatedCredits
}

func firstInt(vals ...*float64) int {
	for _, v := range vals {
		if v != nil && *v != 0 {
			return int(*v)
		}
	}
	return 0
}

// SearchResult is a decoded search response.
type SearchResult struct {
	Data     []RawJob `json:"data"`
	Metadata Metadata `json:"metadata"`
}

// decodeResult parses body and checks its shape. Any failure is malformed.
func decodeResult(body []byte) (*SearchResult, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	res := &SearchResult{Data: []RawJob{}}
	if raw, ok := top["data"]; ok && string(raw) != "null" {
		// Numbers stay json.Number so large upstream ids survive intact.
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&res.Data); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	if raw, ok := top["metadata"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &res.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	for i, job := range res.Data {
		if job == nil {
			return nil, fmt.Errorf("data[%d] is null", i)
		}
	}
	return res, nil
}
