package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/skills"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS job_postings (
	id                    TEXT PRIMARY KEY,
	job_id                TEXT,
	url                   TEXT,
	title                 TEXT NOT NULL DEFAULT '',
	company               TEXT NOT NULL DEFAULT '',
	company_domain        TEXT NOT NULL DEFAULT '',
	location              TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	technology_slugs      TEXT[] NOT NULL DEFAULT '{}',
	skills                TEXT[] NOT NULL DEFAULT '{}',
	min_annual_salary_usd DOUBLE PRECISION,
	max_annual_salary_usd DOUBLE PRECISION,
	remote                BOOLEAN,
	coordinates           JSONB,
	search_keywords       TEXT NOT NULL DEFAULT '',
	search_location       TEXT NOT NULL DEFAULT '',
	date_posted           TIMESTAMPTZ,
	scraped_at            TIMESTAMPTZ NOT NULL,
	updated_at            TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS job_postings_job_id_key ON job_postings (job_id) WHERE job_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS job_postings_url_key ON job_postings (url) WHERE url IS NOT NULL;
CREATE INDEX IF NOT EXISTS job_postings_scraped_at_idx ON job_postings (scraped_at);
CREATE INDEX IF NOT EXISTS job_postings_search_idx ON job_postings (search_keywords, search_location);
CREATE INDEX IF NOT EXISTS job_postings_location_idx ON job_postings (location);
CREATE INDEX IF NOT EXISTS job_postings_slugs_idx ON job_postings USING GIN (technology_slugs);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	skills       TEXT[] NOT NULL DEFAULT '{}',
	target_roles TEXT[] NOT NULL DEFAULT '{}',
	location     TEXT
);`

const postingColumns = `id, job_id, url, title, company, company_domain, location, description,
	technology_slugs, skills, min_annual_salary_usd, max_annual_salary_usd, remote, coordinates,
	search_keywords, search_location, date_posted, scraped_at, updated_at`

// Postgres is the pgxpool-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
	norm *skills.Normalizer
	opts options
	sql  dialect
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool. Close does not close the pool.
func NewPostgres(pool *pgxpool.Pool, norm *skills.Normalizer, opts ...Option) *Postgres {
	return &Postgres{
		pool: pool,
		norm: norm,
		opts: buildOptions(opts),
		sql: dialect{
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			contains:    "strpos(%s, %s) > 0",
			timeArg:     func(t time.Time) any { return t.UTC() },
			limitArg: func(n int) any {
				if n <= 0 {
					return nil
				}
				return n
			},
		},
	}
}

// EnsureSchema creates tables and indexes if they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *Postgres) Close() error { return nil }

// UpsertPosting implements Store. A unique violation from a concurrent
// insert of the same posting is retried once as an update.
func (s *Postgres) UpsertPosting(ctx context.Context, p *model.JobPosting) (bool, error) {
	if err := prepare(p, s.norm, s.opts.now()); err != nil {
		return false, err
	}

	inserted, err := s.upsertTx(ctx, p)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		inserted, err = s.upsertTx(ctx, p)
	}
	if err != nil {
		return false, fmt.Errorf("upsert posting: %w", err)
	}
	return inserted, nil
}

func (s *Postgres) upsertTx(ctx context.Context, p *model.JobPosting) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var (
		existingID string
		scrapedAt  time.Time
		found      bool
	)
	lookup := func(column, value string) error {
		if value == "" || found {
			return nil
		}
		err := tx.QueryRow(ctx,
			`SELECT id, scraped_at FROM job_postings WHERE `+column+` = $1 FOR UPDATE`, value,
		).Scan(&existingID, &scrapedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	}
	if err := lookup("job_id", p.JobID); err != nil {
		return false, err
	}
	if err := lookup("url", p.URL); err != nil {
		return false, err
	}

	var coords any
	if len(p.Coordinates) > 0 {
		coords = string(p.Coordinates)
	}

	if found {
		p.ID = existingID
		p.ScrapedAt = scrapedAt
		_, err = tx.Exec(ctx,
			`UPDATE job_postings SET
			   job_id = $2, url = $3, title = $4, company = $5, company_domain = $6,
			   location = $7, description = $8, technology_slugs = $9, skills = $10,
			   min_annual_salary_usd = $11, max_annual_salary_usd = $12, remote = $13,
			   coordinates = $14::jsonb, search_keywords = $15, search_location = $16,
			   date_posted = $17, updated_at = $18
			 WHERE id = $1`,
			p.ID, nullString(p.JobID), nullString(p.URL), p.Title, p.Company, p.CompanyDomain,
			p.Location, p.Description, p.TechnologySlugs, p.Skills,
			p.MinAnnualSalaryUSD, p.MaxAnnualSalaryUSD, p.Remote,
			coords, p.SearchKeywords, p.SearchLocation,
			p.DatePosted, p.UpdatedAt,
		)
	} else {
		p.ScrapedAt = p.UpdatedAt
		_, err = tx.Exec(ctx,
			`INSERT INTO job_postings (`+postingColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15, $16, $17, $18, $19)`,
			p.ID, nullString(p.JobID), nullString(p.URL), p.Title, p.Company, p.CompanyDomain,
			p.Location, p.Description, p.TechnologySlugs, p.Skills,
			p.MinAnnualSalaryUSD, p.MaxAnnualSalaryUSD, p.Remote,
			coords, p.SearchKeywords, p.SearchLocation,
			p.DatePosted, p.ScrapedAt, p.UpdatedAt,
		)
	}
	if err != nil {
		return false, err
	}
	return !found, tx.Commit(ctx)
}

// FindPosting returns the posting matching jobID, else url.
func (s *Postgres) FindPosting(ctx context.Context, jobID, url string) (*model.JobPosting, error) {
	for _, q := range []struct{ column, value string }{{"job_id", jobID}, {"url", url}} {
		if q.value == "" {
			continue
		}
		row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE `+q.column+` = $1`, q.value)
		p, err := scanPostgresPosting(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find posting: %w", err)
		}
		return p, nil
	}
	return nil, model.ErrNotFound
}

func scanPostgresPosting(row pgx.Row) (*model.JobPosting, error) {
	var (
		p          model.JobPosting
		jobID, url *string
		coords     []byte
	)
	err := row.Scan(
		&p.ID, &jobID, &url, &p.Title, &p.Company, &p.CompanyDomain, &p.Location, &p.Description,
		&p.TechnologySlugs, &p.Skills, &p.MinAnnualSalaryUSD, &p.MaxAnnualSalaryUSD, &p.Remote, &coords,
		&p.SearchKeywords, &p.SearchLocation, &p.DatePosted, &p.ScrapedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.JobID = derefString(jobID)
	p.URL = derefString(url)
	if len(coords) > 0 {
		p.Coordinates = coords
	}
	return &p, nil
}

// DeleteScrapedBefore removes every posting first scraped before cutoff.
func (s *Postgres) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_postings WHERE scraped_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old postings: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HasFreshPosting reports whether a posting with exactly these search
// keywords was scraped at or after since.
func (s *Postgres) HasFreshPosting(ctx context.Context, searchKeywords string, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_postings WHERE search_keywords = $1 AND scraped_at >= $2)`,
		searchKeywords, since.UTC(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("fresh posting lookup: %w", err)
	}
	return exists, nil
}

func (s *Postgres) CountPostings(ctx context.Context, f Filter) (int64, error) {
	cond, args := s.sql.where(f, 1)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM job_postings WHERE `+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count postings: %w", err)
	}
	return n, nil
}

func (s *Postgres) TagCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT lower(tag), count(*)
	      FROM job_postings, unnest(technology_slugs) AS tag
	      WHERE ` + cond + ` AND tag <> ''
	      GROUP BY lower(tag)
	      ORDER BY 2 DESC, 1 ASC
	      LIMIT ` + s.sql.placeholder(len(args))
	return s.groupCounts(ctx, "tag counts", q, args)
}

func (s *Postgres) LocationCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT location, count(*) FROM job_postings
	      WHERE ` + cond + ` AND location <> ''
	      GROUP BY location ORDER BY 2 DESC, 1 ASC
	      LIMIT ` + s.sql.placeholder(len(args))
	return s.groupCounts(ctx, "location counts", q, args)
}

func (s *Postgres) KeywordCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT search_keywords, count(*) FROM job_postings
	      WHERE ` + cond + `
	      GROUP BY search_keywords ORDER BY 2 DESC, 1 ASC
	      LIMIT ` + s.sql.placeholder(len(args))
	return s.groupCounts(ctx, "keyword counts", q, args)
}

func (s *Postgres) groupCounts(ctx context.Context, op, q string, args []any) ([]model.GroupCount, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]model.GroupCount, 0)
	for rows.Next() {
		var g model.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Postgres) SalaryByLocation(ctx context.Context, f Filter, limit int) ([]model.SalaryGroup, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	rows, err := s.pool.Query(ctx,
		`SELECT location, avg(min_annual_salary_usd), avg(max_annual_salary_usd), count(*)
		 FROM job_postings
		 WHERE `+cond+` AND min_annual_salary_usd IS NOT NULL AND max_annual_salary_usd IS NOT NULL
		 GROUP BY location ORDER BY 3 DESC, 1 ASC
		 LIMIT `+s.sql.placeholder(len(args)),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("salary by location: %w", err)
	}
	defer rows.Close()

	out := make([]model.SalaryGroup, 0)
	for rows.Next() {
		var g model.SalaryGroup
		if err := rows.Scan(&g.Location, &g.AvgMin, &g.AvgMax, &g.Count); err != nil {
			return nil, fmt.Errorf("salary scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Postgres) RemoteCounts(ctx context.Context, f Filter) ([]model.RemoteGroup, error) {
	cond, args := s.sql.where(f, 1)
	rows, err := s.pool.Query(ctx,
		`SELECT remote, count(*) FROM job_postings
		 WHERE `+cond+` AND remote IS NOT NULL
		 GROUP BY remote ORDER BY 2 DESC, 1 DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("remote counts: %w", err)
	}
	defer rows.Close()

	out := make([]model.RemoteGroup, 0, 2)
	for rows.Next() {
		var g model.RemoteGroup
		if err := rows.Scan(&g.Remote, &g.Count); err != nil {
			return nil, fmt.Errorf("remote scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Postgres) SkillSets(ctx context.Context) ([]SkillSet, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, technology_slugs, skills FROM job_postings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("skill sets: %w", err)
	}
	defer rows.Close()

	var out []SkillSet
	for rows.Next() {
		var ss SkillSet
		if err := rows.Scan(&ss.ID, &ss.TechnologySlugs, &ss.Skills); err != nil {
			return nil, fmt.Errorf("skill sets scan: %w", err)
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateSkills(ctx context.Context, id string, skillNames []string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_postings SET skills = $1, updated_at = $2 WHERE id = $3`,
		skillNames, s.opts.now(), id,
	)
	if err != nil {
		return fmt.Errorf("update skills: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ListUsers returns every user with at least one target role.
func (s *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, email, skills, target_roles, COALESCE(location, '')
		 FROM users
		 WHERE cardinality(target_roles) > 0
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Skills, &u.TargetRoles, &u.Location); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Postgres) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, skills, target_roles, COALESCE(location, '') FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Skills, &u.TargetRoles, &u.Location)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
