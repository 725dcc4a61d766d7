package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/exporterr"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

const jobColumns = `id, kind, batch_id, source, timeline, settings, output, options, status, progress,
	attempts, sequence, error, error_kind, result, created_at, updated_at, started_at, completed_at, next_retry_at`

// Repository provides Postgres-backed persistence
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health pings the pool
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

// Close closes the pool
func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

// Export jobs

// CreateJobs inserts all jobs in one transaction
func (r *Repository) CreateJobs(ctx context.Context, jobs []*models.ExportJob) (err error) {
	defer observe("create_jobs", time.Now(), &err)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `INSERT INTO export_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	for _, job := range jobs {
		docs, err := encodeJob(job)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query,
			job.ID, job.Kind, job.BatchID, job.Source, docs.timeline, docs.settings, docs.output, docs.options,
			job.Status, job.Progress, job.Attempts, job.Sequence, job.Error, job.ErrorKind, docs.result,
			job.CreatedAt, job.UpdatedAt, job.StartedAt, job.CompletedAt, job.NextRetryAt,
		); err != nil {
			return fmt.Errorf("failed to create job %s: %w", job.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit jobs: %w", err)
	}
	return nil
}

// UpdateJob writes the mutable fields of a job
func (r *Repository) UpdateJob(ctx context.Context, job *models.ExportJob) (err error) {
	defer observe("update_job", time.Now(), &err)

	docs, err := encodeJob(job)
	if err != nil {
		return err
	}
	query := `
		UPDATE export_jobs
		SET status = $2, progress = $3, attempts = $4, sequence = $5, error = $6, error_kind = $7,
		    result = $8, updated_at = $9, started_at = $10, completed_at = $11, next_retry_at = $12,
		    settings = $13, options = $14
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.Status, job.Progress, job.Attempts, job.Sequence, job.Error, job.ErrorKind,
		docs.result, job.UpdatedAt, job.StartedAt, job.CompletedAt, job.NextRetryAt,
		docs.settings, docs.options,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", job.ID, exporterr.ErrNotFound)
	}
	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id models.JobID) (*models.ExportJob, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = $1`, id)
	job, err := scanPgJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, exporterr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns every job in admission order
func (r *Repository) ListJobs(ctx context.Context) (jobs []*models.ExportJob, err error) {
	defer observe("list_jobs", time.Now(), &err)

	rows, err := r.db.Pool.Query(ctx, `SELECT `+jobColumns+` FROM export_jobs ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanPgJob(row pgx.Row) (*models.ExportJob, error) {
	var job models.ExportJob
	var docs jobDocuments
	if err := row.Scan(
		&job.ID, &job.Kind, &job.BatchID, &job.Source, &docs.timeline, &docs.settings, &docs.output, &docs.options,
		&job.Status, &job.Progress, &job.Attempts, &job.Sequence, &job.Error, &job.ErrorKind, &docs.result,
		&job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt, &job.NextRetryAt,
	); err != nil {
		return nil, err
	}
	if err := decodeJob(&job, docs); err != nil {
		return nil, err
	}
	return &job, nil
}

// Timelines

// CreateTimeline inserts a new timeline document
func (r *Repository) CreateTimeline(ctx context.Context, tl *models.Timeline) error {
	doc, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx,
		`INSERT INTO timelines (id, name, document, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())`,
		tl.ID, tl.Name, doc)
	if err != nil {
		return fmt.Errorf("failed to create timeline: %w", err)
	}
	return nil
}

// GetTimeline retrieves a timeline by ID
func (r *Repository) GetTimeline(ctx context.Context, id string) (*models.Timeline, error) {
	var doc []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT document FROM timelines WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("timeline %s: %w", id, exporterr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}

	var tl models.Timeline
	if err := json.Unmarshal(doc, &tl); err != nil {
		return nil, fmt.Errorf("failed to decode timeline %s: %w", id, err)
	}
	return &tl, nil
}

// UpdateTimeline replaces a stored timeline document
func (r *Repository) UpdateTimeline(ctx context.Context, tl *models.Timeline) error {
	doc, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE timelines SET name = $2, document = $3, updated_at = NOW() WHERE id = $1`,
		tl.ID, tl.Name, doc)
	if err != nil {
		return fmt.Errorf("failed to update timeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("timeline %s: %w", tl.ID, exporterr.ErrNotFound)
	}
	return nil
}

func observe(op string, start time.Time, err *error) {
	status := "success"
	if *err != nil {
		status = "error"
	}
	metrics.RecordDatabaseOperation(op, status, time.Since(start).Seconds())
}
