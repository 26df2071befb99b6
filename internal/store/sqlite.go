package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"jobmate/market-service/internal/model"
	"jobmate/market-service/internal/skills"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS job_postings (
  id TEXT PRIMARY KEY,
  job_id TEXT UNIQUE,
  url TEXT UNIQUE,
  title TEXT NOT NULL DEFAULT '',
  company TEXT NOT NULL DEFAULT '',
  company_domain TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  technology_slugs TEXT NOT NULL DEFAULT '[]',
  skills TEXT NOT NULL DEFAULT '[]',
  min_annual_salary_usd REAL,
  max_annual_salary_usd REAL,
  remote INTEGER,
  coordinates TEXT,
  search_keywords TEXT NOT NULL DEFAULT '',
  search_location TEXT NOT NULL DEFAULT '',
  date_posted INTEGER,
  scraped_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS job_postings_scraped_at_idx ON job_postings (scraped_at);
CREATE INDEX IF NOT EXISTS job_postings_search_idx ON job_postings (search_keywords, search_location);

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  skills TEXT NOT NULL DEFAULT '[]',
  target_roles TEXT NOT NULL DEFAULT '[]',
  location TEXT
);
`

// SQLite is the database/sql + modernc.org/sqlite backed Store. Timestamps
// are stored as unix milliseconds and string lists as JSON arrays.
type SQLite struct {
	db   *sql.DB
	norm *skills.Normalizer
	opts options
	sql  dialect
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string, norm *skills.Normalizer, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection serialises writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:   db,
		norm: norm,
		opts: buildOptions(opts),
		sql: dialect{
			placeholder: func(int) string { return "?" },
			contains:    "instr(%s, %s) > 0",
			timeArg:     func(t time.Time) any { return t.UnixMilli() },
			limitArg: func(n int) any {
				if n <= 0 {
					return -1
				}
				return n
			},
		},
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) UpsertPosting(ctx context.Context, p *model.JobPosting) (bool, error) {
	if err := prepare(p, s.norm, s.opts.now()); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert posting: %w", err)
	}
	defer tx.Rollback()

	var (
		existingID string
		scrapedMs  int64
		found      bool
	)
	for _, q := range []struct{ column, value string }{{"job_id", p.JobID}, {"url", p.URL}} {
		if q.value == "" {
			continue
		}
		err := tx.QueryRowContext(ctx,
			`SELECT id, scraped_at FROM job_postings WHERE `+q.column+` = ?`, q.value,
		).Scan(&existingID, &scrapedMs)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("upsert lookup: %w", err)
		}
		found = true
		break
	}

	slugs, _ := json.Marshal(p.TechnologySlugs)
	skillsJSON, _ := json.Marshal(p.Skills)
	var coords any
	if len(p.Coordinates) > 0 {
		coords = string(p.Coordinates)
	}
	var datePosted any
	if p.DatePosted != nil {
		datePosted = p.DatePosted.UnixMilli()
	}

	if found {
		p.ID = existingID
		p.ScrapedAt = time.UnixMilli(scrapedMs).UTC()
		_, err = tx.ExecContext(ctx,
			`UPDATE job_postings SET
			   job_id = ?, url = ?, title = ?, company = ?, company_domain = ?,
			   location = ?, description = ?, technology_slugs = ?, skills = ?,
			   min_annual_salary_usd = ?, max_annual_salary_usd = ?, remote = ?,
			   coordinates = ?, search_keywords = ?, search_location = ?,
			   date_posted = ?, updated_at = ?
			 WHERE id = ?`,
			nullString(p.JobID), nullString(p.URL), p.Title, p.Company, p.CompanyDomain,
			p.Location, p.Description, string(slugs), string(skillsJSON),
			p.MinAnnualSalaryUSD, p.MaxAnnualSalaryUSD, p.Remote,
			coords, p.SearchKeywords, p.SearchLocation,
			datePosted, p.UpdatedAt.UnixMilli(), p.ID,
		)
	} else {
		p.ScrapedAt = p.UpdatedAt
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_postings (`+postingColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullString(p.JobID), nullString(p.URL), p.Title, p.Company, p.CompanyDomain,
			p.Location, p.Description, string(slugs), string(skillsJSON),
			p.MinAnnualSalaryUSD, p.MaxAnnualSalaryUSD, p.Remote,
			coords, p.SearchKeywords, p.SearchLocation,
			datePosted, p.ScrapedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
		)
	}
	if err != nil {
		return false, fmt.Errorf("upsert posting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert commit: %w", err)
	}
	return !found, nil
}

func (s *SQLite) FindPosting(ctx context.Context, jobID, url string) (*model.JobPosting, error) {
	for _, q := range []struct{ column, value string }{{"job_id", jobID}, {"url", url}} {
		if q.value == "" {
			continue
		}
		row := s.db.QueryRowContext(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE `+q.column+` = ?`, q.value)
		p, err := scanSQLitePosting(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find posting: %w", err)
		}
		return p, nil
	}
	return nil, model.ErrNotFound
}

func scanSQLitePosting(row *sql.Row) (*model.JobPosting, error) {
	var (
		p                    model.JobPosting
		jobID, url, coords   sql.NullString
		slugs, skillsJSON    string
		minSalary, maxSalary sql.NullFloat64
		remote               sql.NullBool
		datePosted           sql.NullInt64
		scrapedMs, updatedMs int64
	)
	err := row.Scan(
		&p.ID, &jobID, &url, &p.Title, &p.Company, &p.CompanyDomain, &p.Location, &p.Description,
		&slugs, &skillsJSON, &minSalary, &maxSalary, &remote, &coords,
		&p.SearchKeywords, &p.SearchLocation, &datePosted, &scrapedMs, &updatedMs,
	)
	if err != nil {
		return nil, err
	}
	p.JobID = jobID.String
	p.URL = url.String
	if err := decodeList(slugs, &p.TechnologySlugs); err != nil {
		return nil, err
	}
	if err := decodeList(skillsJSON, &p.Skills); err != nil {
		return nil, err
	}
	if minSalary.Valid {
		p.MinAnnualSalaryUSD = &minSalary.Float64
	}
	if maxSalary.Valid {
		p.MaxAnnualSalaryUSD = &maxSalary.Float64
	}
	if remote.Valid {
		p.Remote = &remote.Bool
	}
	if coords.Valid {
		p.Coordinates = json.RawMessage(coords.String)
	}
	if datePosted.Valid {
		t := time.UnixMilli(datePosted.Int64).UTC()
		p.DatePosted = &t
	}
	p.ScrapedAt = time.UnixMilli(scrapedMs).UTC()
	p.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &p, nil
}

func decodeList(raw string, dst *[]string) error {
	*dst = []string{}
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode list: %w", err)
	}
	return nil
}

func (s *SQLite) DeleteScrapedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_postings WHERE scraped_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old postings: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) HasFreshPosting(ctx context.Context, searchKeywords string, since time.Time) (bool, error) {
	var exists int64
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_postings WHERE search_keywords = ? AND scraped_at >= ?)`,
		searchKeywords, since.UnixMilli(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("fresh posting lookup: %w", err)
	}
	return exists != 0, nil
}

func (s *SQLite) CountPostings(ctx context.Context, f Filter) (int64, error) {
	cond, args := s.sql.where(f, 1)
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM job_postings WHERE `+cond, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count postings: %w", err)
	}
	return n, nil
}

func (s *SQLite) TagCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT lower(t.value), count(*)
	      FROM job_postings, json_each(job_postings.technology_slugs) AS t
	      WHERE ` + cond + ` AND t.value <> ''
	      GROUP BY lower(t.value)
	      ORDER BY 2 DESC, 1 ASC
	      LIMIT ?`
	return s.groupCounts(ctx, "tag counts", q, args)
}

func (s *SQLite) LocationCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT location, count(*) FROM job_postings
	      WHERE ` + cond + ` AND location <> ''
	      GROUP BY location ORDER BY 2 DESC, 1 ASC
	      LIMIT ?`
	return s.groupCounts(ctx, "location counts", q, args)
}

func (s *SQLite) KeywordCounts(ctx context.Context, f Filter, limit int) ([]model.GroupCount, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	q := `SELECT search_keywords, count(*) FROM job_postings
	      WHERE ` + cond + `
	      GROUP BY search_keywords ORDER BY 2 DESC, 1 ASC
	      LIMIT ?`
	return s.groupCounts(ctx, "keyword counts", q, args)
}

func (s *SQLite) groupCounts(ctx context.Context, op, q string, args []any) ([]model.GroupCount, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

func (s *SQLite) SalaryByLocation(ctx context.Context, f Filter, limit int) ([]model.SalaryGroup, error) {
	cond, args := s.sql.where(f, 1)
	args = append(args, s.sql.limitArg(limit))
	rows, err := s.db.QueryContext(ctx,
		`SELECT location, avg(min_annual_salary_usd), avg(max_annual_salary_usd), count(*)
		 FROM job_postings
		 WHERE `+cond+` AND min_annual_salary_usd IS NOT NULL AND max_annual_salary_usd IS NOT NULL
		 GROUP BY location ORDER BY 3 DESC, 1 ASC
		 LIMIT ?`,
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

func (s *SQLite) RemoteCounts(ctx context.Context, f Filter) ([]model.RemoteGroup, error) {
	cond, args := s.sql.where(f, 1)
	rows, err := s.db.QueryContext(ctx,
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
		var (
			flag  int64
			count int64
		)
		if err := rows.Scan(&flag, &count); err != nil {
			return nil, fmt.Errorf("remote scan: %w", err)
		}
		out = append(out, model.RemoteGroup{Remote: flag != 0, Count: count})
	}
	return out, rows.Err()
}

func (s *SQLite) SkillSets(ctx context.Context) ([]SkillSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, technology_slugs, skills FROM job_postings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("skill sets: %w", err)
	}
	defer rows.Close()

	var out []SkillSet
	for rows.Next() {
		var (
			ss                SkillSet
			slugs, skillsJSON string
		)
		if err := rows.Scan(&ss.ID, &slugs, &skillsJSON); err != nil {
			return nil, fmt.Errorf("skill sets scan: %w", err)
		}
		if err := decodeList(slugs, &ss.TechnologySlugs); err != nil {
			return nil, err
		}
		if err := decodeList(skillsJSON, &ss.Skills); err != nil {
			return nil, err
		}
		out = append(out, ss)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateSkills(ctx context.Context, id string, skillNames []string) error {
	if skillNames == nil {
		skillNames = []string{}
	}
	raw, _ := json.Marshal(skillNames)
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_postings SET skills = ?, updated_at = ? WHERE id = ?`,
		string(raw), s.opts.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("update skills: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// PutUser inserts or replaces a user row. Production users are written by
// the auth service; this is for local databases and fixtures.
func (s *SQLite) PutUser(ctx context.Context, u model.User) error {
	skillsJSON, _ := json.Marshal(nonNil(u.Skills))
	roles, _ := json.Marshal(nonNil(u.TargetRoles))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, skills, target_roles, location) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   email = excluded.email, skills = excluded.skills,
		   target_roles = excluded.target_roles, location = excluded.location`,
		u.ID, u.Email, string(skillsJSON), string(roles), nullString(u.Location),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *SQLite) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, skills, target_roles, COALESCE(location, '')
		 FROM users
		 WHERE json_array_length(target_roles) > 0
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLite) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, skills, target_roles, COALESCE(location, '') FROM users WHERE id = ?`, id,
	)
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row scanner) (*model.User, error) {
	var (
		u                 model.User
		skillsJSON, roles string
	)
	if err := row.Scan(&u.ID, &u.Email, &skillsJSON, &roles, &u.Location); err != nil {
		return nil, err
	}
	if err := decodeList(skillsJSON, &u.Skills); err != nil {
		return nil, err
	}
	if err := decodeList(roles, &u.TargetRoles); err != nil {
		return nil, err
	}
	return &u, nil
}
