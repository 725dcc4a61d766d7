package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// SQLiteStore persists jobs and timelines in a single SQLite file. It backs
// single-node deployments and the CLI.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps in-memory databases shared and serialises writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}
	return tx.Commit()
}

// Close closes the underlying database connection
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Health pings the database
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateJobs inserts all jobs in one transaction
func (s *SQLiteStore) CreateJobs(ctx context.Context, jobs []*models.ExportJob) (err error) {
	defer observe("create_jobs", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `INSERT INTO export_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, job := range jobs {
		docs, err := encodeJob(job)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			string(job.ID), string(job.Kind), job.BatchID, job.Source, nullableText(docs.timeline),
			string(docs.settings), string(docs.output), string(docs.options),
			string(job.Status), job.Progress, job.Attempts, job.Sequence, job.Error, job.ErrorKind,
			nullableText(docs.result), formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
			formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt), formatTimePtr(job.NextRetryAt),
		); err != nil {
			return fmt.Errorf("insert job %s: %w", job.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateJob writes the mutable fields of a job
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *models.ExportJob) (err error) {
	defer observe("update_job", time.Now(), &err)

	docs, err := encodeJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = ?, progress = ?, attempts = ?, sequence = ?, error = ?, error_kind = ?,
		    result = ?, updated_at = ?, started_at = ?, completed_at = ?, next_retry_at = ?,
		    settings = ?, options = ?
		WHERE id = ?`,
		string(job.Status), job.Progress, job.Attempts, job.Sequence, job.Error, job.ErrorKind,
		nullableText(docs.result), formatTime(job.UpdatedAt), formatTimePtr(job.StartedAt),
		formatTimePtr(job.CompletedAt), formatTimePtr(job.NextRetryAt),
		string(docs.settings), string(docs.options), string(job.ID),
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, exporterr.ErrNotFound)
	}
	return nil
}

// GetJob fetches a job by id
func (s *SQLiteStore) GetJob(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, string(id))
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, exporterr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns every job in admission order
func (s *SQLiteStore) ListJobs(ctx context.Context) (jobs []*models.ExportJob, err error) {
	defer observe("list_jobs", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM export_jobs ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*models.ExportJob, error) {
	var (
		job                               models.ExportJob
		id, kind, status                  string
		timeline, result                  sql.NullString
		settings, output, options         string
		createdAt, updatedAt              string
		startedAt, completedAt, nextRetry sql.NullString
	)
	if err := row.Scan(
		&id, &kind, &job.BatchID, &job.Source, &timeline, &settings, &output, &options,
		&status, &job.Progress, &job.Attempts, &job.Sequence, &job.Error, &job.ErrorKind, &result,
		&createdAt, &updatedAt, &startedAt, &completedAt, &nextRetry,
	); err != nil {
		return nil, err
	}
	job.ID = models.JobID(id)
	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)

	var err error
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if job.NextRetryAt, err = parseTimePtr(nextRetry); err != nil {
		return nil, err
	}

	docs := jobDocuments{
		settings: []byte(settings),
		output:   []byte(output),
		options:  []byte(options),
	}
	if timeline.Valid {
		docs.timeline = []byte(timeline.String)
	}
	if result.Valid {
		docs.result = []byte(result.String)
	}
	if err := decodeJob(&job, docs); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateTimeline inserts a new timeline document
func (s *SQLiteStore) CreateTimeline(ctx context.Context, tl *models.Timeline) error {
	doc, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	now := formatTime(time.Now())
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO timelines (id, name, document, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		tl.ID, tl.Name, string(doc), now, now,
	); err != nil {
		return fmt.Errorf("insert timeline %s: %w", tl.ID, err)
	}
	return nil
}

// GetTimeline fetches a timeline by id
func (s *SQLiteStore) GetTimeline(ctx context.Context, id string) (*models.Timeline, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM timelines WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("timeline %s: %w", id, exporterr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get timeline %s: %w", id, err)
	}

	var tl models.Timeline
	if err := json.Unmarshal([]byte(doc), &tl); err != nil {
		return nil, fmt.Errorf("decode timeline %s: %w", id, err)
	}
	return &tl, nil
}

// UpdateTimeline replaces a stored timeline document
func (s *SQLiteStore) UpdateTimeline(ctx context.Context, tl *models.Timeline) error {
	doc, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("marshal timeline: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE timelines SET name = ?, document = ?, updated_at = ? WHERE id = ?`,
		tl.Name, string(doc), formatTime(time.Now()), tl.ID,
	)
	if err != nil {
		return fmt.Errorf("update timeline %s: %w", tl.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("timeline %s: %w", tl.ID, exporterr.ErrNotFound)
	}
	return nil
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
