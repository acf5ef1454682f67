package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/PortNumber53/saas-starter/internal/models"
)

var (
	// ErrJobNotFound is returned when a job is not found in the database.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned by Enqueue when an open job already holds the dedupe key.
	ErrDuplicateJob = errors.New("job with the same dedupe key is already queued")
	// ErrJobNotCancellable is returned when a job is processing or already finished.
	ErrJobNotCancellable = errors.New("job cannot be cancelled (may be processing or already completed)")
)

const jobColumns = `id, job_type, payload, status, priority, attempts, max_attempts, dedupe_key,
       created_at, updated_at, scheduled_for, last_error, retry_after,
       processed_at, completed_at, worker_id, metadata`

const priorityOrder = `CASE priority
	WHEN 'critical' THEN 4
	WHEN 'high' THEN 3
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 1
END DESC, created_at ASC`

// JobStore provides database operations for the job queue.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new JobStore instance.
func NewJobStore(db *sql.DB) (*JobStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &JobStore{db: db}, nil
}

// Enqueue inserts a pending job. When DedupeKey is set and another pending or
// processing job holds it, nothing is inserted and ErrDuplicateJob is returned.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if err := job.IsValid(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	status := models.JobStatusPending
	if job.Status != "" {
		status = job.Status
	}

	err := s.db.QueryRowContext(ctx, `
INSERT INTO jobs (job_type, payload, status, priority, max_attempts, dedupe_key, scheduled_for, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (dedupe_key) WHERE dedupe_key IS NOT NULL AND status IN ('pending', 'processing')
DO NOTHING
RETURNING id, created_at, updated_at
`,
		job.JobType,
		job.Payload,
		status,
		job.Priority,
		job.MaxAttempts,
		nullString(job.DedupeKey),
		nullTime(job.ScheduledFor),
		job.Metadata,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	job.Status = status
	return nil
}

// GetByID retrieves a job by its ID.
func (s *JobStore) GetByID(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

// ClaimNextJob atomically claims the next runnable job for workerID. It
// returns nil when the queue is empty.
func (s *JobStore) ClaimNextJob(ctx context.Context, workerID string) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `
UPDATE jobs
SET status = 'processing',
    worker_id = $1,
    processed_at = NOW(),
    updated_at = NOW(),
    attempts = attempts + 1
WHERE id = (
	SELECT id FROM jobs
	WHERE status = 'pending'
	  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
	  AND (retry_after IS NULL OR retry_after <= NOW())
	ORDER BY `+priorityOrder+`
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+jobColumns, workerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// MarkCompleted marks a job as successfully completed.
func (s *JobStore) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'completed', completed_at = NOW(), updated_at = NOW(), worker_id = NULL
WHERE id = $1
`, id)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// MarkFailed marks a job as permanently failed.
func (s *JobStore) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'failed', last_error = $2, updated_at = NOW(), worker_id = NULL
WHERE id = $1
`, id, errorMsg)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// ScheduleRetry returns a job to pending, runnable after retryAfter.
func (s *JobStore) ScheduleRetry(ctx context.Context, id int64, errorMsg string, retryAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'pending', last_error = $2, retry_after = $3, updated_at = NOW(), worker_id = NULL
WHERE id = $1
`, id, errorMsg, retryAfter)
	if err != nil {
		return fmt.Errorf("schedule job retry: %w", err)
	}
	return nil
}

// CancelJob marks a pending or failed job as cancelled.
func (s *JobStore) CancelJob(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'cancelled', updated_at = NOW(), worker_id = NULL
WHERE id = $1 AND status IN ('pending', 'failed')
`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrJobNotCancellable
	}
	return nil
}

// RetryJob resets a failed job to pending with a fresh attempt budget. It
// returns ErrDuplicateJob when an open job already holds the dedupe key.
func (s *JobStore) RetryJob(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'pending', attempts = 0, retry_after = NULL, updated_at = NOW(), worker_id = NULL
WHERE id = $1 AND status = 'failed'
`, id)
	if isUniqueViolation(err) {
		return ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// ReleaseJob returns a processing job to pending, used on graceful shutdown.
func (s *JobStore) ReleaseJob(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'pending', worker_id = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'processing'
`, id)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return nil
}

// ReclaimStaleJobs returns processing jobs claimed before now-olderThan to
// pending. A worker that exits without releasing its jobs leaves them there.
func (s *JobStore) ReclaimStaleJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE jobs
SET status = 'pending', worker_id = NULL, updated_at = NOW()
WHERE status = 'processing'
  AND processed_at < NOW() - INTERVAL '1 second' * $1
`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// GetStats returns job counts by status.
func (s *JobStore) GetStats(ctx context.Context) (*models.JobStats, error) {
	stats := &models.JobStats{}
	err := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*) FILTER (WHERE status = 'pending') AS pending,
	COUNT(*) FILTER (WHERE status = 'processing') AS processing,
	COUNT(*) FILTER (WHERE status = 'completed') AS completed,
	COUNT(*) FILTER (WHERE status = 'failed') AS failed,
	COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
	COUNT(*) AS total
FROM jobs
`).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Cancelled, &stats.Total)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// ListPendingJobs returns runnable pending jobs in claim order.
func (s *JobStore) ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	return s.listJobs(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status = 'pending'
  AND (scheduled_for IS NULL OR scheduled_for <= NOW())
  AND (retry_after IS NULL OR retry_after <= NOW())
ORDER BY `+priorityOrder+`
LIMIT $1
`, limit)
}

// ListFailedJobs returns exhausted jobs, most recent first.
func (s *JobStore) ListFailedJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	return s.listJobs(ctx, `
SELECT `+jobColumns+`
FROM jobs
WHERE status = 'failed'
ORDER BY updated_at DESC
LIMIT $1
`, limit)
}

// CleanupOldJobs removes finished jobs last updated before now-olderThan.
func (s *JobStore) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM jobs
WHERE status IN ('completed', 'failed', 'cancelled')
  AND updated_at < NOW() - INTERVAL '1 second' * $1
`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup old jobs: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

func (s *JobStore) listJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		job                            models.Job
		dedupeKey, lastError, workerID sql.NullString
		scheduledFor, retryAfter       sql.NullTime
		processedAt, completedAt       sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.Payload,
		&job.Status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&dedupeKey,
		&job.CreatedAt,
		&job.UpdatedAt,
		&scheduledFor,
		&lastError,
		&retryAfter,
		&processedAt,
		&completedAt,
		&workerID,
		&job.Metadata,
	); err != nil {
		return nil, err
	}
	job.DedupeKey = nullStringPtr(dedupeKey)
	job.LastError = nullStringPtr(lastError)
	job.WorkerID = nullStringPtr(workerID)
	job.ScheduledFor = nullTimePtr(scheduledFor)
	job.RetryAfter = nullTimePtr(retryAfter)
	job.ProcessedAt = nullTimePtr(processedAt)
	job.CompletedAt = nullTimePtr(completedAt)
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
