package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLDB implements DBInterface for SQLite and PostgreSQL
type SQLDB struct {
	db      *sql.DB
	dialect dialect
}

// SetupSQLiteDatabase initializes SQLite database with migrations
func SetupSQLiteDatabase(dbPath string) (*SQLDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single writer avoids SQLITE_BUSY between import workers
	db.SetMaxOpenConns(1)

	// Enable foreign keys and other optimizations
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
		PRAGMA cache_size = -64000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	if err := runMigrations(driver, "sqlite", "migrations/sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDB{db: db, dialect: dialectSQLite}, nil
}

// SetupPostgresDatabase connects to PostgreSQL and runs migrations
func SetupPostgresDatabase(connString string) (*SQLDB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}
	if err := runMigrations(driver, "postgres", "migrations/postgres"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDB{db: db, dialect: dialectPostgres}, nil
}

func runMigrations(driver migratedb.Driver, name string, dir string) error {
	source, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, name, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	Logger.Info("Database migrations completed successfully", "database", name)
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLDB) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (s *SQLDB) Close() error {
	return s.db.Close()
}

const problemColumns = `id, summary, description, type, severity, feedback_count, status, create_time, update_time`

// RecordFeedback stores an analyzed feedback and links it to a new or
// existing problem in one transaction
func (s *SQLDB) RecordFeedback(ctx context.Context, rec FeedbackRecord) (*Feedback, *Problem, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	problemID := rec.ProblemID
	if problemID > 0 {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE problems SET feedback_count = feedback_count + 1, update_time = ? WHERE id = ?`), now, problemID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to update problem: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, nil, fmt.Errorf("problem %d: %w", problemID, ErrNotFound)
		}
	} else {
		err = tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO problems (summary, description, type, severity, feedback_count, status, create_time, update_time)
			VALUES (?, ?, ?, ?, 1, ?, ?, ?)
			RETURNING id`),
			rec.Summary, rec.Content, rec.Type, rec.Severity, StatusPending, now, now,
		).Scan(&problemID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert problem: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO feedback_examples (problem_id, content, create_time) VALUES (?, ?, ?)`),
		problemID, rec.Content, now); err != nil {
		return nil, nil, fmt.Errorf("failed to insert feedback example: %w", err)
	}

	feedback := &Feedback{
		Content:   rec.Content,
		Status:    FeedbackProcessed,
		BatchID:   rec.BatchID,
		ProblemID: problemID,
	}
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO feedbacks (content, status, batch_id, problem_id, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		feedback.Content, feedback.Status, rec.BatchID.String(), problemID, now, now,
	).Scan(&feedback.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert feedback: %w", err)
	}
	feedback.CreateTime, _ = parseTime(now)
	feedback.UpdateTime = feedback.CreateTime

	problem, err := scanProblem(tx.QueryRowContext(ctx, s.rebind(`SELECT `+problemColumns+` FROM problems WHERE id = ?`), problemID))
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return feedback, problem, nil
}

// GetAllProblems returns every problem, oldest first
func (s *SQLDB) GetAllProblems(ctx context.Context) ([]Problem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+problemColumns+` FROM problems ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanProblems(rows)
}

// QueryProblems returns one page of problems matching filter and the total
// number of matches
func (s *SQLDB) QueryProblems(ctx context.Context, filter ProblemFilter) ([]Problem, int, error) {
	var where []string
	var args []any
	if filter.Keyword != "" {
		like := "%" + escapeLike(strings.ToLower(filter.Keyword)) + "%"
		where = append(where, `(lower(summary) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []Problem{}, 0, nil
		}
		marks := make([]string, len(filter.IDs))
		for i, id := range filter.IDs {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "id IN ("+strings.Join(marks, ", ")+")")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM problems`+clause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, pageSize := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	query := `SELECT ` + problemColumns + ` FROM problems` + clause + ` ORDER BY feedback_count DESC, id ASC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	problems, err := scanProblems(rows)
	if err != nil {
		return nil, 0, err
	}
	return problems, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes the LIKE wildcards in s match literally
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetProblem retrieves a problem by ID
func (s *SQLDB) GetProblem(ctx context.Context, id int64) (*Problem, error) {
	problem, err := scanProblem(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+problemColumns+` FROM problems WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("problem %d: %w", id, ErrNotFound)
	}
	return problem, err
}

// UpdateProblemStatus sets the status of a problem
func (s *SQLDB) UpdateProblemStatus(ctx context.Context, id int64, status string) error {
	if !ValidProblemStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE problems SET status = ?, update_time = ? WHERE id = ?`),
		status, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("problem %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetFeedbackExamples returns example feedback texts for a problem, oldest
// first. A limit of zero or less returns all of them.
func (s *SQLDB) GetFeedbackExamples(ctx context.Context, problemID int64, limit int) ([]string, error) {
	query := `SELECT content FROM feedback_examples WHERE problem_id = ? ORDER BY id`
	args := []any{problemID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	examples := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		examples = append(examples, content)
	}
	return examples, rows.Err()
}

// GetFeedbacksByBatch returns the feedbacks stored by one import
func (s *SQLDB) GetFeedbacksByBatch(ctx context.Context, batchID ulid.ULID) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, content, status, batch_id, COALESCE(problem_id, 0), create_time, update_time
		FROM feedbacks WHERE batch_id = ? ORDER BY id`), batchID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feedbacks []Feedback
	for rows.Next() {
		var f Feedback
		var batchStr, created, updated string
		if err := rows.Scan(&f.ID, &f.Content, &f.Status, &batchStr, &f.ProblemID, &created, &updated); err != nil {
			return nil, err
		}
		if f.BatchID, err = ulid.Parse(batchStr); err != nil {
			return nil, fmt.Errorf("failed to parse ULID: %w", err)
		}
		f.CreateTime, _ = parseTime(created)
		f.UpdateTime, _ = parseTime(updated)
		feedbacks = append(feedbacks, f)
	}
	return feedbacks, rows.Err()
}

// DashboardStats returns the counters shown on the home page
func (s *SQLDB) DashboardStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT
			(SELECT COUNT(*) FROM feedbacks),
			(SELECT COUNT(*) FROM problems WHERE status = ?),
			(SELECT COUNT(*) FROM problems WHERE status = ?)`),
		StatusPending, StatusResolved,
	).Scan(&stats.TotalFeedbacks, &stats.PendingProblems, &stats.ResolvedProblems)
	return stats, err
}

// TypeDistribution counts feedbacks received in [start, end) by problem type
func (s *SQLDB) TypeDistribution(ctx context.Context, start, end time.Time) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT p.type, COUNT(f.id)
		FROM feedbacks f JOIN problems p ON p.id = f.problem_id
		WHERE f.create_time >= ? AND f.create_time < ?
		GROUP BY p.type
		ORDER BY 2 DESC, 1`), formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []TypeCount
	for rows.Next() {
		var c TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// FeedbackTrend counts feedbacks received in [start, end) per UTC day.
// Days without feedback are omitted.
func (s *SQLDB) FeedbackTrend(ctx context.Context, start, end time.Time) ([]DailyCount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT substr(create_time, 1, 10), COUNT(*)
		FROM feedbacks
		WHERE create_time >= ? AND create_time < ?
		GROUP BY substr(create_time, 1, 10)
		ORDER BY 1`), formatTime(start), formatTime(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []DailyCount
	for rows.Next() {
		var c DailyCount
		if err := rows.Scan(&c.Date, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// TopProblems returns the problems with the most feedbacks in [start, end)
func (s *SQLDB) TopProblems(ctx context.Context, start, end time.Time, limit int) ([]ProblemCount, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT p.id, p.summary, p.type, p.severity, p.status, COUNT(f.id)
		FROM feedbacks f JOIN problems p ON p.id = f.problem_id
		WHERE f.create_time >= ? AND f.create_time < ?
		GROUP BY p.id, p.summary, p.type, p.severity, p.status
		ORDER BY 6 DESC, 1
		LIMIT ?`), formatTime(start), formatTime(end), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var counts []ProblemCount
	for rows.Next() {
		var c ProblemCount
		if err := rows.Scan(&c.ID, &c.Summary, &c.Type, &c.Severity, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// SaveAnalysisResult stores a report section snapshot
func (s *SQLDB) SaveAnalysisResult(ctx context.Context, result *AnalysisResult) error {
	if result.CreateTime.IsZero() {
		result.CreateTime = time.Now()
	}
	return s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO analysis_results (analysis_type, content, start_date, end_date, create_time)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		result.AnalysisType, result.Content, nullTime(result.StartDate), nullTime(result.EndDate), formatTime(result.CreateTime),
	).Scan(&result.ID)
}

// GetLatestAnalysisResults returns the newest snapshot of each report section
func (s *SQLDB) GetLatestAnalysisResults(ctx context.Context) ([]AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.analysis_type, a.content, a.start_date, a.end_date, a.create_time
		FROM analysis_results a
		WHERE a.id = (SELECT MAX(b.id) FROM analysis_results b WHERE b.analysis_type = a.analysis_type)
		ORDER BY a.analysis_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []AnalysisResult
	for rows.Next() {
		var r AnalysisResult
		var startDate, endDate sql.NullString
		var created string
		if err := rows.Scan(&r.ID, &r.AnalysisType, &r.Content, &startDate, &endDate, &created); err != nil {
			return nil, err
		}
		if startDate.Valid {
			r.StartDate, _ = parseTime(startDate.String)
		}
		if endDate.Valid {
			r.EndDate, _ = parseTime(endDate.String)
		}
		r.CreateTime, _ = parseTime(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*Problem, error) {
	p := &Problem{}
	var created, updated string
	err := row.Scan(&p.ID, &p.Summary, &p.Description, &p.Type, &p.Severity,
		&p.FeedbackCount, &p.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	if p.CreateTime, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("failed to parse create_time: %w", err)
	}
	if p.UpdateTime, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("failed to parse update_time: %w", err)
	}
	return p, nil
}

// Helper function to scan multiple problems from rows
func scanProblems(rows *sql.Rows) ([]Problem, error) {
	problems := []Problem{}
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		problems = append(problems, *p)
	}
	return problems, rows.Err()
}
