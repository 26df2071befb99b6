// Package skills maps raw upstream technology slugs to canonical skill names.
package skills

import (
	"sort"
	"strings"
)

// Normalizer turns technology slugs into a sorted, de-duplicated set of
// canonical skill names. It holds only read-only tables and is safe for
// concurrent use.
type Normalizer struct {
	slugs      map[string]string
	aliases    map[string]string
	categories map[string]Category
}

// NewNormalizer returns a Normalizer backed by the built-in tables.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		slugs:      slugTable,
		aliases:    aliasTable,
		categories: buildCategoryIndex(),
	}
}

// Normalize lower-cases and trims every slug, resolves it through the slug
// table (falling back to replacing '-' and '_' with spaces), applies the alias
// pass and returns the sorted unique result. Blank entries are dropped.
func (n *Normalizer) Normalize(slugs []string) []string {
	if len(slugs) == 0 {
		return []string{}
	}

	set := make(map[string]struct{}, len(slugs))
	for _, raw := range slugs {
		s := strings.ToLower(strings.TrimSpace(raw))
		if s == "" {
			continue
		}
		canonical, ok := n.slugs[s]
		if !ok {
			canonical = strings.NewReplacer("-", " ", "_", " ").Replace(s)
			canonical = strings.TrimSpace(canonical)
		}
		if alias, ok := n.aliases[canonical]; ok {
			canonical = alias
		}
		if canonical == "" {
			continue
		}
		set[canonical] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two skill lists hold the same set.
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		if seen[s] == 0 {
			return false
		}
		seen[s]--
	}
	return true
}

// aliasTable collapses abbreviations onto the canonical spelling.
var aliasTable = map[string]string{
	"cpp":       "c++",
	"csharp":    "c#",
	"dotnet":    ".net",
	"aspnet":    "asp.net",
	"sqlserver": "sql server",
	"node js":   "nodejs",
	"node-js":   "nodejs",
	"js":        "javascript",
	"ts":        "typescript",
}

// slugTable maps upstream technology slugs to canonical names.
var slugTable = map[string]string{
	"react":                      "react",
	"reactjs":                    "react",
	"react-js":                   "react",
	"component":                  "react",
	"vue-js":                     "vue",
	"vuejs":                      "vue",
	"angular":                    "angular",
	"angularjs":                  "angular",
	"nextjs":                     "next.js",
	"next-js":                    "next.js",
	"nuxtjs":                     "nuxt.js",
	"nuxt-js":                    "nuxt.js",
	"nodejs":                     "nodejs",
	"node-js":                    "nodejs",
	"expressjs":                  "express",
	"express-js":                 "express",
	"nestjs":                     "nestjs",
	"django":                     "django",
	"flask":                      "flask",
	"fastapi":                    "fastapi",
	"spring":                     "spring",
	"spring-boot":                "spring boot",
	"spring-data":                "spring data",
	"spring-security":            "spring security",
	"spring-cloud":               "spring cloud",
	"hibernate":                  "hibernate",
	"laravel":                    "laravel",
	"rails":                      "rails",
	"dotnet":                     ".net",
	"csharp":                     "c#",
	"cpp":                        "c++",
	"cplusplus":                  "c++",
	"java":                       "java",
	"python":                     "python",
	"go":                         "go",
	"golang":                     "go",
	"rust":                       "rust",
	"kotlin":                     "kotlin",
	"swift":                      "swift",
	"turning":                    "swift",
	"ios":                        "ios",
	"php":                        "php",
	"perl":                       "perl",
	"ruby":                       "ruby",
	"javascript":                 "javascript",
	"typescript":                 "typescript",
	"microsoft-typescript":       "typescript",
	"sql":                        "sql",
	"mysql":                      "mysql",
	"mariadb":                    "mariadb",
	"postgresql":                 "postgresql",
	"postgres":                   "postgresql",
	"mongodb":                    "mongodb",
	"dynamodb":                   "dynamodb",
	"redis":                      "redis",
	"elasticsearch":              "elasticsearch",
	"cassandra":                  "cassandra",
	"apache-cassandra":           "cassandra",
	"clickhouse":                 "clickhouse",
	"snowflake":                  "snowflake",
	"bigquery":                   "bigquery",
	"redshift":                   "redshift",
	"aws":                        "aws",
	"amazon-web-services":        "aws",
	"aws-lambda":                 "aws lambda",
	"aws-step-functions":         "aws step functions",
	"amazon-api-gateway":         "api gateway",
	"amazon-ecs":                 "aws ecs",
	"amazon-s3":                  "aws s3",
	"aws-data-lake-storage":      "aws data lake",
	"aws-codepipeline":           "aws codepipeline",
	"azure":                      "azure",
	"microsoft-azure":            "azure",
	"event-hub":                  "event hubs",
	"azure-service-bus":          "azure service bus",
	"azure-storage":              "azure storage",
	"microsoft-azure-storage":    "azure storage",
	"azure-sql-database":         "azure sql",
	"azure-synapse":              "azure synapse",
	"azure-synapse-analytics":    "azure synapse",
	"microsoft-azure-logic-apps": "azure logic apps",
	"azure-devops":               "azure devops",
	"microsoft-power-apps":       "power apps",
	"microsoft-power-platform":   "power platform",
	"dynamics-crm":               "dynamics crm",
	"gcp":                        "gcp",
	"google-cloud-platform":      "gcp",
	"google-cloud-storage":       "google cloud storage",
	"kubernetes":                 "kubernetes",
	"docker":                     "docker",
	"terraform":                  "terraform",
	"ansible":                    "ansible",
	"jenkins":                    "jenkins",
	"github-actions":             "github actions",
	"github":                     "github",
	"gitlab":                     "gitlab",
	"gitlab-ci":                  "gitlab ci",
	"ci-cd":                      "ci/cd",
	"powershell":                 "powershell",
	"celery":                     "celery",
	"rabbitmq":                   "rabbitmq",
	"kafka":                      "kafka",
	"sidekiq":                    "sidekiq",
	"tensorflow":                 "tensorflow",
	"pytorch":                    "pytorch",
	"scikit-learn":               "scikit-learn",
	"nlp":                        "natural language processing",
	"ml":                         "machine learning",
	"ai":                         "artificial intelligence",
	"power-bi":                   "power bi",
	"tableau":                    "tableau",
	"looker":                     "looker",
	"grafana":                    "grafana",
	"kibana":                     "kibana",
	"superset":                   "superset",
	"d3":                         "d3",
	"databricks":                 "databricks",
	"delta-lake":                 "delta lake",
	"apache-spark-sql":           "spark",
	"spark":                      "spark",
	"cypress":                    "cypress",
	"selenium":                   "selenium",
	"playwright":                 "playwright",
	"mabl":                       "mabl",
	"postman":                    "postman",
	"jest":                       "jest",
	"jasmine":                    "jasmine",
	"karma-runner":               "karma",
	"casperjs":                   "casperjs",
	"enzyme":                     "enzyme",
	"pytest":                     "pytest",
	"junit":                      "junit",
	"gradle":                     "gradle",
	"maven":                      "maven",
	"axios":                      "axios",
	"bootstrap":                  "bootstrap",
	"sass":                       "sass",
	"serverless":                 "serverless",
	"xml-format":                 "xml",
	"json":                       "json",
	"unity-3d":                   "unity",
	"solidworks":                 "solidworks",
	"sap":                        "sap",
	"netsuite":                   "netsuite",
	"workday":                    "workday",
	"phrase":                     "phrase",
	"greenhouse":                 "greenhouse",
	"lever":                      "lever",
	"confluence":                 "confluence",
	"jira":                       "jira",
	"versionone":                 "versionone",
	"forge":                      "forge",
	"vast-data":                  "vast",

	"microsoft-dynamics-365-business-central": "dynamics 365",
}
