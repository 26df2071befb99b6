package collector_test

import (
	"reflect"
	"strings"
	"testing"

	"jobmate/market-service/internal/collector"
)

// ── RoleVariations ─────────────────────────────────────────────────────────

func TestRoleVariations_OriginalFirstAndDeterministic(t *testing.T) {
	roles := []string{"Backend Developer", "Senior Frontend Engineer", "Data Scientist", "Accountant", "AWS Solutions Architect"}
	for _, role := range roles {
		a := collector.RoleVariations(role)
		b := collector.RoleVariations(role)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("RoleVariations(%q) not deterministic: %v vs %v", role, a, b)
		}
		if a[0] != role {
			t.Errorf("RoleVariations(%q)[0] = %q, want the input unchanged", role, a[0])
		}
		seen := map[string]bool{}
		for _, v := range a {
			k := strings.ToLower(v)
			if seen[k] {
				t.Errorf("RoleVariations(%q) has duplicate %q", role, v)
			}
			seen[k] = true
		}
	}
}

func TestRoleVariations_Families(t *testing.T) {
	cases := []struct {
		role string
		want []string
	}{
		{"Backend Developer", []string{
			"Backend Developer", "Backend", "Back-end Developer", "Back end Developer",
			"Backend Engineer", "Server-side Developer",
		}},
		{"Software Engineer", []string{
			"Software Engineer", "Software Developer", "SDE", "Engineer", "Developer",
		}},
		{"AWS Cloud Architect", []string{
			"AWS Cloud Architect", "AWS Solutions Architect", "AWS Architect",
			"Cloud Solutions Architect", "Cloud Architect", "Solutions Architect",
			"AWS Certified Solutions Architect",
		}},
		{"Machine Learning Researcher", []string{
			"Machine Learning Researcher", "AI Engineer", "ML Engineer", "Machine Learning Engineer",
			"AI/ML Engineer", "Artificial Intelligence Engineer",
		}},
		{"Accountant", []string{"Accountant"}},
	}
	for _, tc := range cases {
		got := collector.RoleVariations(tc.role)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("RoleVariations(%q)\n got  %v\n want %v", tc.role, got, tc.want)
		}
	}
}

// ── ShouldSkipJob ──────────────────────────────────────────────────────────

func TestShouldSkipJob(t *testing.T) {
	cases := []struct {
		role, title string
		want        bool
	}{
		{"React Developer", "Senior React Native Engineer", true},
		{"react developer", "REACT NATIVE dev", true},
		{"React Developer", "React Frontend Engineer", false},
		{"React Native Developer", "React Native Engineer", false},
		{"Backend Developer", "React Native Engineer", false},
		{"React Developer", "", false},
	}
	for _, tc := range cases {
		if got := collector.ShouldSkipJob(tc.role, tc.title); got != tc.want {
			t.Errorf("ShouldSkipJob(%q, %q) = %v, want %v", tc.role, tc.title, got, tc.want)
		}
	}
}

// ── ContainsRedFlag ────────────────────────────────────────────────────────

func TestContainsRedFlag(t *testing.T) {
	cases := []struct {
		name                        string
		title, company, description string
		flags                       []string
		want                        bool
	}{
		{"no flags", "Go Developer", "Acme", "unpaid", nil, false},
		{"title hit, mixed case", "Unpaid Go Internship", "Acme", "", []string{"UNPAID"}, true},
		{"company hit", "Go Developer", "Shady Staffing", "", []string{"staffing"}, true},
		{"description hit", "Go Developer", "Acme", "commission only role", []string{"commission only"}, true},
		{"blank flags ignored", "Go Developer", "Acme", "", []string{"", "  "}, false},
		{"no match", "Go Developer", "Acme", "great team", []string{"unpaid"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := collector.ContainsRedFlag(tc.title, tc.company, tc.description, tc.flags); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

// ── CountryCodes ───────────────────────────────────────────────────────────

func TestCountryCodes(t *testing.T) {
	cases := []struct {
		locations []string
		want      []string
	}{
		{[]string{"New York, United States"}, []string{"US"}},
		{[]string{"London, UK", "Manchester, United Kingdom"}, []string{"GB"}},
		{[]string{"Berlin, Germany", "Bangalore, India", "Atlantis"}, []string{"DE", "IN"}},
		{[]string{"Remote"}, nil},
		{[]string{"Milwaukee, WI"}, nil},
		{[]string{"Kyiv, Ukraine", "uk"}, []string{"GB"}},
		{[]string{"Remote (UK)"}, []string{"GB"}},
		{nil, nil},
	}
	for _, tc := range cases {
		got := collector.CountryCodes(tc.locations)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("CountryCodes(%v) = %v, want %v", tc.locations, got, tc.want)
		}
	}
}
