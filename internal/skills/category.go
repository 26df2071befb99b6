package skills

import "strings"

// Category classifies a canonical skill for descriptive statistics only.
// Ingestion never depends on it.
type Category string

const (
	CategoryLanguage  Category = "language"
	CategoryFramework Category = "framework"
	CategoryDatabase  Category = "database"
	CategoryCloud     Category = "cloud"
	CategoryTool      Category = "tool"
	CategorySoft      Category = "soft"
	CategoryOther     Category = "other"
)

// Category returns the category of skill, or CategoryOther.
func (n *Normalizer) Category(skill string) Category {
	if c, ok := n.categories[strings.ToLower(strings.TrimSpace(skill))]; ok {
		return c
	}
	return CategoryOther
}

// Categorize groups skills by category, preserving input order per group.
func (n *Normalizer) Categorize(skills []string) map[Category][]string {
	out := make(map[Category][]string)
	for _, s := range skills {
		c := n.Category(s)
		out[c] = append(out[c], s)
	}
	return out
}

// buildCategoryIndex flattens categoryTable. Earlier groups win when a skill
// is listed twice, which keeps e.g. "typescript" a language.
func buildCategoryIndex() map[string]Category {
	idx := make(map[string]Category)
	for _, group := range categoryTable {
		for _, s := range group.skills {
			if _, dup := idx[s]; !dup {
				idx[s] = group.category
			}
		}
	}
	return idx
}

var categoryTable = []struct {
	category Category
	skills   []string
}{
	{CategoryLanguage, []string{
		"python", "java", "javascript", "typescript", "c++", "c#", "php", "ruby", "go",
		"rust", "swift", "kotlin", "scala", "r", "matlab", "sql", "html", "css", "bash",
		"powershell", "perl", "lua", "dart", "objective-c", "haskell", "clojure", "erlang",
		"elixir", "f#", "groovy", "julia",
	}},
	{CategoryFramework, []string{
		"react", "angular", "vue", "django", "flask", "fastapi", "express", "nodejs",
		"spring", "spring boot", "spring data", "spring security", "spring cloud",
		"laravel", "rails", "asp.net", ".net", "jquery", "bootstrap", "tailwind", "redux",
		"pandas", "numpy", "tensorflow", "pytorch", "scikit-learn", "keras", "hibernate",
		"next.js", "nuxt.js", "svelte", "react native", "flutter", "nestjs", "axios",
		"enzyme", "jest", "jasmine", "karma", "casperjs", "cypress", "selenium",
		"playwright", "pytest", "junit", "sass", "celery", "sidekiq",
	}},
	{CategoryDatabase, []string{
		"mysql", "postgresql", "mongodb", "redis", "elasticsearch", "sqlite", "oracle",
		"sql server", "cassandra", "dynamodb", "firebase", "neo4j", "influxdb",
		"clickhouse", "snowflake", "bigquery", "redshift", "mariadb", "memcached",
	}},
	{CategoryCloud, []string{
		"aws", "azure", "gcp", "kubernetes", "docker", "terraform", "ansible", "serverless",
		"aws lambda", "aws step functions", "aws ecs", "aws s3", "api gateway",
		"aws data lake", "aws codepipeline", "azure storage", "azure sql", "azure synapse",
		"azure logic apps", "azure devops", "azure service bus", "event hubs",
		"google cloud storage", "heroku", "vercel", "netlify", "cloudflare", "openshift",
	}},
	{CategoryTool, []string{
		"git", "github", "gitlab", "gitlab ci", "github actions", "jenkins", "ci/cd",
		"nginx", "graphql", "grpc", "kafka", "rabbitmq", "jira", "confluence", "postman",
		"figma", "power bi", "tableau", "looker", "grafana", "kibana", "superset", "d3",
		"databricks", "delta lake", "spark", "maven", "gradle", "npm", "webpack", "json",
		"xml", "mabl", "unity", "sap", "netsuite", "workday", "solidworks",
	}},
	{CategorySoft, []string{
		"leadership", "communication", "teamwork", "agile", "scrum", "kanban",
		"mentoring", "project management", "product management", "machine learning",
		"artificial intelligence", "natural language processing", "data analysis",
		"cybersecurity",
	}},
}
