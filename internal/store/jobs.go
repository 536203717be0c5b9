package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Undefine-Innovation/Qdrant-LiteRAGMCP-sub012/pkg/models"
)

// EnsureJob creates a NEW sync job for the document if none exists.
func (s *Store) EnsureJob(ctx context.Context, docID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (job_id, doc_id, status, created_at, updated_at)
		VALUES (?, ?, 'NEW', ?, ?)
		ON CONFLICT(doc_id) DO NOTHING
	`, uuid.New().String(), docID, now, now)
	if err != nil {
		return fmt.Errorf("ensure sync job: %w", err)
	}
	return nil
}

// GetJob retrieves the sync job for a document.
func (s *Store) GetJob(ctx context.Context, docID string) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, doc_id, status, retries, last_attempt_at, last_error,
			error_category, started_at, finished_at, created_at, updated_at
		FROM sync_jobs
		WHERE doc_id = ?
	`, docID)

	return scanJob(row)
}

// SetJobStatus updates a job's status. Terminal states also record the
// finish time.
func (s *Store) SetJobStatus(ctx context.Context, docID string, status models.JobStatus) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var err error
	if status.IsTerminal() {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs SET status = ?, finished_at = ?, updated_at = ? WHERE doc_id = ?
		`, status, now, now, docID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs SET status = ?, updated_at = ? WHERE doc_id = ?
		`, status, now, docID)
	}
	if err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// MarkJobAttempt records the start of a processing attempt.
func (s *Store) MarkJobAttempt(ctx context.Context, docID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET last_attempt_at = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE doc_id = ?
	`, now, now, now, docID)
	if err != nil {
		return fmt.Errorf("mark job attempt: %w", err)
	}
	return nil
}

// RecordJobFailure writes a failure outcome in one update. Status must
// be FAILED or DEAD.
func (s *Store) RecordJobFailure(ctx context.Context, docID string, status models.JobStatus, retries int, lastError string, category models.ErrorCategory) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var err error
	if status.IsTerminal() {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs
			SET status = ?, retries = ?, last_error = ?, error_category = ?, finished_at = ?, updated_at = ?
			WHERE doc_id = ?
		`, status, retries, nullString(lastError), nullString(string(category)), now, now, docID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE sync_jobs
			SET status = ?, retries = ?, last_error = ?, error_category = ?, updated_at = ?
			WHERE doc_id = ?
		`, status, retries, nullString(lastError), nullString(string(category)), now, docID)
	}
	if err != nil {
		return fmt.Errorf("record job failure: %w", err)
	}
	return nil
}

// ResetJob returns a job to NEW with counters and errors cleared, as
// if the document had just been uploaded.
func (s *Store) ResetJob(ctx context.Context, docID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'NEW', retries = 0, last_attempt_at = NULL, last_error = NULL,
			error_category = NULL, started_at = NULL, finished_at = NULL, updated_at = ?
		WHERE doc_id = ?
	`, time.Now().UTC().Format(time.RFC3339), docID)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NewError(models.ErrJobNotFound, "sync job not found").
			WithDetails("docId", docID)
	}

	return nil
}

// ResetJobTx is ResetJob inside an existing transaction.
func (s *Store) ResetJobTx(ctx context.Context, tx *sql.Tx, docID string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = 'NEW', retries = 0, last_attempt_at = NULL, last_error = NULL,
			error_category = NULL, started_at = NULL, finished_at = NULL, updated_at = ?
		WHERE doc_id = ?
	`, time.Now().UTC().Format(time.RFC3339), docID)
	if err != nil {
		return fmt.Errorf("reset job: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NewError(models.ErrJobNotFound, "sync job not found").
			WithDetails("docId", docID)
	}

	return nil
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest
// first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.SyncJob, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, doc_id, status, retries, last_attempt_at, last_error,
			error_category, started_at, finished_at, created_at, updated_at
		FROM sync_jobs
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, status string, limit int) ([]*models.SyncJob, error) {
	if limit <= 0 {
		limit = 100
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT job_id, doc_id, status, retries, last_attempt_at, last_error,
				error_category, started_at, finished_at, created_at, updated_at
			FROM sync_jobs
			WHERE status = ?
			ORDER BY updated_at DESC
			LIMIT ?
		`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT job_id, doc_id, status, retries, last_attempt_at, last_error,
				error_category, started_at, finished_at, created_at, updated_at
			FROM sync_jobs
			ORDER BY updated_at DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJobRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// JobStats aggregates job counts, average sync duration and recent
// failures. ActiveRetries is filled in by the caller from the state
// machine's pending timers.
func (s *Store) JobStats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{
		CountsByStatus: make(map[models.JobStatus]int),
		RecentFailures: []models.JobFailure{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM sync_jobs GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		stats.CountsByStatus[models.JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Average wall time from first attempt to successful sync, in
	// milliseconds
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(finished_at) - julianday(started_at)) * 86400000.0)
		FROM sync_jobs
		WHERE status = 'SYNCED' AND started_at IS NOT NULL AND finished_at IS NOT NULL
	`).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("job durations: %w", err)
	}
	if avg.Valid {
		stats.AvgSyncDurationMs = avg.Float64
	}

	failRows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, status, retries, last_error, error_category, updated_at
		FROM sync_jobs
		WHERE status IN ('FAILED', 'RETRYING', 'DEAD')
		ORDER BY updated_at DESC
		LIMIT 20
	`)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer failRows.Close()

	for failRows.Next() {
		var (
			failure   models.JobFailure
			lastError sql.NullString
			category  sql.NullString
			updatedAt string
		)
		if err := failRows.Scan(&failure.DocID, &failure.Status, &failure.Retries, &lastError, &category, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failure.LastError = lastError.String
		failure.ErrorCategory = models.ErrorCategory(category.String)
		failure.UpdatedAt = parseTime(updatedAt)
		stats.RecentFailures = append(stats.RecentFailures, failure)
	}

	return stats, failRows.Err()
}

func scanJob(row *sql.Row) (*models.SyncJob, error) {
	var (
		job           models.SyncJob
		lastAttemptAt sql.NullString
		lastError     sql.NullString
		category      sql.NullString
		startedAt     sql.NullString
		finishedAt    sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&job.JobID,
		&job.DocID,
		&job.Status,
		&job.Retries,
		&lastAttemptAt,
		&lastError,
		&category,
		&startedAt,
		&finishedAt,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, models.NewError(models.ErrJobNotFound, "sync job not found")
	}
	if err != nil {
		return nil, err
	}

	job.LastAttemptAt = parseTimePtr(lastAttemptAt)
	job.LastError = lastError.String
	job.ErrorCategory = models.ErrorCategory(category.String)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	return &job, nil
}

func scanJobRows(rows *sql.Rows) (*models.SyncJob, error) {
	var (
		job           models.SyncJob
		lastAttemptAt sql.NullString
		lastError     sql.NullString
		category      sql.NullString
		startedAt     sql.NullString
		finishedAt    sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := rows.Scan(
		&job.JobID,
		&job.DocID,
		&job.Status,
		&job.Retries,
		&lastAttemptAt,
		&lastError,
		&category,
		&startedAt,
		&finishedAt,
		&createdAt,
		&updatedAt,
	)

	if err != nil {
		return nil, err
	}

	job.LastAttemptAt = parseTimePtr(lastAttemptAt)
	job.LastError = lastError.String
	job.ErrorCategory = models.ErrorCategory(category.String)
	job.StartedAt = parseTimePtr(startedAt)
	job.FinishedAt = parseTimePtr(finishedAt)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)

	return &job, nil
}
