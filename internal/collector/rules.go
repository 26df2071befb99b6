package collector

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ─── Role variations ─────────────────────────────────────────────────────────

type variationRule struct {
	match  func(role string) bool
	titles []string
}

func anyOf(subs ...string) func(string) bool {
	return func(role string) bool {
		for _, s := range subs {
			if strings.Contains(role, s) {
				return true
			}
		}
		return false
	}
}

func allOf(subs ...string) func(string) bool {
	return func(role string) bool {
		for _, s := range subs {
			if !strings.Contains(role, s) {
				return false
			}
		}
		return true
	}
}

// variationRules is evaluated in order against the lower-cased role; the
// first match contributes its titles.
var variationRules = []variationRule{
	{allOf("aws", "architect"), []string{
		"AWS Solutions Architect", "AWS Architect", "AWS Cloud Architect",
		"Cloud Solutions Architect", "Cloud Architect", "Solutions Architect",
		"AWS Certified Solutions Architect",
	}},
	{anyOf("solutions architect"), []string{
		"Solutions Architect", "Cloud Solutions Architect", "Cloud Architect", "Technical Architect",
	}},
	{anyOf("backend"), []string{
		"Backend", "Back-end Developer", "Back end Developer", "Backend Engineer", "Server-side Developer",
	}},
	{anyOf("frontend", "front-end"), []string{
		"Frontend", "Front-end Developer", "Front end Developer", "Frontend Engineer", "UI Developer",
	}},
	{anyOf("full stack", "fullstack", "full-stack"), []string{
		"Full Stack", "Fullstack Developer", "Full-stack Developer", "Full Stack Engineer", "Fullstack Engineer",
	}},
	{anyOf("software engineer"), []string{
		"Software Developer", "SDE", "Software Engineer", "Engineer", "Developer",
	}},
	{anyOf("data engineer"), []string{
		"Data Engineer", "Big Data Engineer", "ETL Developer", "Data Pipeline Engineer",
	}},
	{anyOf("devops"), []string{
		"DevOps", "DevOps Engineer", "SRE", "Site Reliability Engineer", "Platform Engineer",
	}},
	{anyOf("mobile"), []string{
		"Mobile Developer", "Mobile Engineer", "iOS Developer", "Android Developer", "Mobile App Developer",
	}},
	{anyOf("ai engineer", "ml engineer", "machine learning"), []string{
		"AI Engineer", "ML Engineer", "Machine Learning Engineer", "AI/ML Engineer", "Artificial Intelligence Engineer",
	}},
	{anyOf("data scientist"), []string{
		"Data Scientist", "ML Scientist", "Research Scientist",
	}},
	{anyOf("cloud engineer"), []string{
		"Cloud Engineer", "Cloud Architect", "Cloud Developer",
	}},
	{anyOf("qa", "test", "quality"), []string{
		"QA Engineer", "Test Engineer", "QA Automation Engineer", "SDET", "Quality Engineer",
	}},
	{anyOf("product manager"), []string{
		"Product Manager", "PM", "Product Owner", "Technical Product Manager",
	}},
	{anyOf("security"), []string{
		"Security Engineer", "Cybersecurity Engineer", "InfoSec Engineer", "Security Analyst",
	}},
}

// RoleVariations expands role into the job titles sent upstream. The
// original role is always first and the result has no case-insensitive
// duplicates.
func RoleVariations(role string) []string {
	out := []string{role}
	lower := strings.ToLower(role)
	for _, r := range variationRules {
		if r.match(lower) {
			out = append(out, r.titles...)
			break
		}
	}

	seen := make(map[string]bool, len(out))
	unique := out[:0]
	for _, v := range out {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, v)
	}
	return unique
}

// ─── Skip rules ──────────────────────────────────────────────────────────────

type skipRule struct {
	name  string
	match func(role, title string) bool // both lower-cased
}

var skipRules = []skipRule{
	{
		name: "react-native-for-react-role",
		match: func(role, title string) bool {
			return strings.Contains(role, "react") &&
				!strings.Contains(role, "native") &&
				strings.Contains(title, "react native")
		},
	},
}

// ShouldSkipJob reports whether a posting titled title is a false positive
// for role.
func ShouldSkipJob(role, title string) bool {
	return skipReason(role, title) != ""
}

// skipReason returns the name of the first matching skip rule, or "".
func skipReason(role, title string) string {
	if title == "" {
		return ""
	}
	r, t := strings.ToLower(role), strings.ToLower(title)
	for _, rule := range skipRules {
		if rule.match(r, t) {
			return rule.name
		}
	}
	return ""
}

// ContainsRedFlag reports whether any red flag term appears, ignoring case,
// in the combined title, company and description text.
func ContainsRedFlag(title, company, description string, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company + " " + description)
	for _, flag := range redFlags {
		if flag = strings.TrimSpace(flag); flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// ─── Country codes ───────────────────────────────────────────────────────────

type countryRule struct {
	needles []string
	code    string
}

// countryRules is matched in order; the first rule with a needle appearing
// as a whole word in the lower-cased location wins.
var countryRules = []countryRule{
	{[]string{"united states"}, "US"},
	{[]string{"india"}, "IN"},
	{[]string{"united kingdom", "uk"}, "GB"},
	{[]string{"canada"}, "CA"},
	{[]string{"germany"}, "DE"},
	{[]string{"australia"}, "AU"},
	{[]string{"singapore"}, "SG"},
	{[]string{"japan"}, "JP"},
	{[]string{"hong kong"}, "HK"},
	{[]string{"switzerland"}, "CH"},
	{[]string{"france"}, "FR"},
	{[]string{"netherlands"}, "NL"},
	{[]string{"ireland"}, "IE"},
	{[]string{"sweden"}, "SE"},
}

// CountryCodes maps free-text locations to ISO country codes. Unmapped
// locations contribute nothing; the result is de-duplicated in input order.
func CountryCodes(locations []string) []string {
	var codes []string
	seen := make(map[string]bool)
	for _, loc := range locations {
		lower := strings.ToLower(loc)
	rules:
		for _, r := range countryRules {
			for _, n := range r.needles {
				if containsWord(lower, n) {
					if !seen[r.code] {
						seen[r.code] = true
						codes = append(codes, r.code)
					}
					break rules
				}
			}
		}
	}
	return codes
}

// containsWord reports whether needle occurs in s bounded by non-letters or
// the ends of s, so "uk" matches "London, UK" but not "Milwaukee".
func containsWord(s, needle string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if !letterBefore(s, start) && !letterAt(s, end) {
			return true
		}
		from = start + 1
	}
}

func letterBefore(s string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r != utf8.RuneError && unicode.IsLetter(r)
}

func letterAt(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r != utf8.RuneError && unicode.IsLetter(r)
}

// cleanLocations trims locations and drops blanks.
func cleanLocations(locations []string) []string {
	out := make([]string, 0, len(locations))
	for _, l := range locations {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
