package collector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/theirstack"
)

const (
	unknownCompany  = "Unknown Company"
	unknownLocation = "Unknown"
)

// mapJob converts one upstream posting into a JobPosting. Each logical field
// may arrive under several names; the first non-empty one wins. It returns
// false when the posting has neither a job id nor a url. Skills are left to
// the store, which derives them from TechnologySlugs.
func mapJob(role, searchLocation string, job theirstack.RawJob) (*model.JobPosting, bool) {
	company, _ := job["company_object"].(map[string]any)

	p := &model.JobPosting{
		JobID:              idString(job, "job_id", "id"),
		URL:                firstString(job, "job_url", "url", "detail_url"),
		Title:              firstString(job, "job_title", "title"),
		Company:            firstString(company, "name"),
		CompanyDomain:      firstString(company, "domain"),
		Location:           joinLocations(job["locations"]),
		Description:        firstString(job, "description", "job_description"),
		TechnologySlugs:    stringList(job["technology_slugs"]),
		MinAnnualSalaryUSD: firstNumber(job, "min_annual_salary_usd", "salary_min_annual_usd"),
		MaxAnnualSalaryUSD: firstNumber(job, "max_annual_salary_usd", "salary_max_annual_usd"),
		Coordinates:        rawJSON(job, "coordinates", "geo"),
		SearchKeywords:     role,
		SearchLocation:     searchLocation,
		DatePosted:         parseDate(firstString(job, "posted_at", "date_posted")),
	}
	if p.Title == "" {
		p.Title = role
	}
	if p.Company == "" {
		p.Company = firstString(job, "company")
	}
	if p.Company == "" {
		p.Company = unknownCompany
	}
	if p.CompanyDomain == "" {
		p.CompanyDomain = firstString(job, "company_domain")
	}
	if p.Location == "" {
		p.Location = firstString(job, "location")
	}
	if p.Location == "" {
		p.Location = unknownLocation
	}
	if b, ok := job["remote"].(bool); ok {
		p.Remote = &b
	}
	return p, p.HasIdentity()
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// idString accepts string or numeric ids.
func idString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case json.Number:
			if v != "" && v != "0" {
				return v.String()
			}
		case float64:
			if v != 0 {
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
	}
	return ""
}

// firstNumber returns the first non-zero numeric value, or nil.
func firstNumber(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		var f float64
		switch v := m[k].(type) {
		case json.Number:
			f, _ = v.Float64()
		case float64:
			f = v
		case int:
			f = float64(v)
		}
		if f != 0 {
			return &f
		}
	}
	return nil
}

// joinLocations flattens a location list whose items are strings or objects
// with name/city/state/country keys.
func joinLocations(v any) string {
	var parts []string
	switch locs := v.(type) {
	case string:
		parts = append(parts, locs)
	case []any:
		for _, item := range locs {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				parts = append(parts, firstString(it, "name", "city", "state", "country"))
			}
		}
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

func stringList(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// rawJSON re-encodes the first non-empty value among keys.
func rawJSON(m map[string]any, keys ...string) json.RawMessage {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			if len(t) == 0 {
				continue
			}
		case []any:
			if len(t) == 0 {
				continue
			}
		case string:
			if t == "" {
				continue
			}
		}
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		return b
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts ISO-8601 timestamps with or without zone; naive values
// are taken as UTC. Unparsable input yields nil.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func describe(p *model.JobPosting) string {
	if p.JobID != "" {
		return "job_id=" + p.JobID
	}
	return fmt.Sprintf("url=%s", p.URL)
}
