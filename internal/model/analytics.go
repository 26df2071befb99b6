package model

import "time"

// TrendingSkill is a technology tag with its frequency in the window.
type TrendingSkill struct {
	Skill      string  `json:"skill"`
	Category   string  `json:"category"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TrendingLocation is a posting location with its frequency in the window.
type TrendingLocation struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// TechnologyTrend is a technology tag count without percentage.
type TechnologyTrend struct {
	Technology string `json:"technology"`
	Count      int64  `json:"count"`
}

// SalaryTrend is the average salary band for one location.
type SalaryTrend struct {
	Location string  `json:"location"`
	AvgMin   float64 `json:"avgMin"`
	AvgMax   float64 `json:"avgMax"`
	Count    int64   `json:"count"`
}

// RemoteTrend is the number of postings with a given remote flag.
type RemoteTrend struct {
	Remote bool  `json:"remote"`
	Count  int64 `json:"count"`
}

// MarketSummary is the composite trending response.
type MarketSummary struct {
	TopSkills          []TrendingSkill    `json:"topSkills"`
	TopLocations       []TrendingLocation `json:"topLocations"`
	TechnologyTrends   []TechnologyTrend  `json:"technologyTrends"`
	SalaryTrends       []SalaryTrend      `json:"salaryTrends"`
	RemoteDistribution []RemoteTrend      `json:"remoteDistribution"`
	TotalJobsAnalyzed  int64              `json:"totalJobsAnalyzed"`
	GeneratedAt        time.Time          `json:"generatedAt"`
	WindowDays         int                `json:"windowDays"`
}

// RequiredSkill is a tag that appears in at least threshold of a role's postings.
type RequiredSkill struct {
	Skill      string  `json:"skill"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
	TotalJobs  int64   `json:"totalJobs"`
}

// SkillGapItem records whether the user has one required skill.
type SkillGapItem struct {
	Skill              string  `json:"skill"`
	RequiredPercentage float64 `json:"requiredPercentage"`
	UserHas            bool    `json:"userHas"`
}

// GapAnalysis is the skill-gap response for one user and role.
type GapAnalysis struct {
	Role                  string         `json:"role"`
	TotalPostingsAnalyzed int64          `json:"totalPostingsAnalyzed"`
	RequiredSkills        []SkillGapItem `json:"requiredSkills"`
	MissingSkills         []string       `json:"missingSkills"`
	CoveragePercentage    float64        `json:"coveragePercentage"`
	SkillMatchCount       int            `json:"skillMatchCount"`
	TotalRequiredSkills   int            `json:"totalRequiredSkills"`
}
