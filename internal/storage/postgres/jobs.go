package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `
	id, batch_id, inspection_id, certificate_id, status, attempts, max_attempts,
	worker_id, last_error, result, last_heartbeat_at, created_at, updated_at
`

// JobStore handles issuance job persistence in PostgreSQL
type JobStore struct {
	db          *sqlx.DB
	logger      *slog.Logger
	maxAttempts int
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates a new JobStore instance
func NewJobStore(db *sqlx.DB, logger *slog.Logger, maxAttempts int) *JobStore {
	if maxAttempts <= 0 {
		maxAttempts = domain.DefaultMaxAttempts
	}
	return &JobStore{
		db:          db,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Enqueue inserts a pending job
func (s *JobStore) Enqueue(ctx context.Context, batchID string, inspectionID *string) (*domain.IssuanceJob, error) {
	query := `
		INSERT INTO issuance_jobs (id, batch_id, inspection_id, status, attempts, max_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, NOW(), NOW())
		RETURNING ` + jobColumns

	var job domain.IssuanceJob
	err := s.db.GetContext(ctx, &job, query,
		uuid.New().String(), batchID, inspectionID, domain.JobStatusPending, s.maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Issuance job enqueued",
		slog.String("job_id", job.ID),
		slog.String("batch_id", batchID),
	)

	return &job, nil
}

// Get retrieves a job by its ID
func (s *JobStore) Get(ctx context.Context, jobID string) (*domain.IssuanceJob, error) {
	var job domain.IssuanceJob
	err := s.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM issuance_jobs WHERE id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// List returns jobs newest first with keyset pagination.
// One extra row is fetched so callers can tell whether another page exists.
func (s *JobStore) List(ctx context.Context, filter storage.JobFilter) ([]domain.IssuanceJob, error) {
	query := `SELECT ` + jobColumns + ` FROM issuance_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.BatchID != "" {
		query += fmt.Sprintf(" AND batch_id = $%d", argIdx)
		args = append(args, filter.BatchID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.IssuanceJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// FindClaimable returns pending jobs with attempts left, oldest first
func (s *JobStore) FindClaimable(ctx context.Context, limit int) ([]domain.IssuanceJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + jobColumns + `
		FROM issuance_jobs
		WHERE status = $1 AND attempts < max_attempts
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	var jobs []domain.IssuanceJob
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to find claimable jobs: %w", err)
	}
	return jobs, nil
}

// Claim attempts to take a job with a single conditional update.
// Returns nil, nil if the job is no longer pending.
func (s *JobStore) Claim(ctx context.Context, jobID, workerID string) (*domain.IssuanceJob, error) {
	query := `
		UPDATE issuance_jobs
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3
		  AND status = $4
		  AND attempts < max_attempts
		RETURNING ` + jobColumns

	var job domain.IssuanceJob
	err := s.db.GetContext(ctx, &job, query, domain.JobStatusProcessing, workerID, jobID, domain.JobStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Job not claimable - already claimed or not pending",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.Int("attempt", job.Attempts),
	)

	return &job, nil
}

// Heartbeat refreshes last_heartbeat_at for a job still held by workerID
func (s *JobStore) Heartbeat(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE issuance_jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2 AND worker_id = $3
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusProcessing, workerID)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job no longer held)",
			slog.String("job_id", jobID),
			slog.String("worker_id", workerID),
		)
	}

	return nil
}

// MarkSuccess records the issuance result
func (s *JobStore) MarkSuccess(ctx context.Context, jobID string, result domain.JobResult) error {
	query := `
		UPDATE issuance_jobs
		SET status = $1,
		    result = $2,
		    certificate_id = $3,
		    last_error = NULL,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE id = $4
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusSuccess, result, result.CertificateID, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job success: %w", err)
	}
	if err := expectRow(res); err != nil {
		return fmt.Errorf("mark job %s success: %w", jobID, err)
	}
	return nil
}

// MarkFailedOrRequeue fails an exhausted job or returns it to pending
func (s *JobStore) MarkFailedOrRequeue(ctx context.Context, jobID, errMsg string) (domain.JobStatus, error) {
	query := `
		UPDATE issuance_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN $1 ELSE $2 END,
		    worker_id = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $4 AND status = $5
		RETURNING status
	`

	var status domain.JobStatus
	err := s.db.GetContext(ctx, &status, query,
		domain.JobStatusFailed, domain.JobStatusPending, errMsg, jobID, domain.JobStatusProcessing)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("requeue job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return "", fmt.Errorf("failed to requeue job: %w", err)
	}

	s.logger.Info("Job failure recorded",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
	)

	return status, nil
}

// MarkFailed fails a job without further attempts
func (s *JobStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	query := `
		UPDATE issuance_jobs
		SET status = $1,
		    worker_id = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $3
	`

	res, err := s.db.ExecContext(ctx, query, domain.JobStatusFailed, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if err := expectRow(res); err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	return nil
}

// ReclaimStale releases processing jobs whose worker stopped sending heartbeats
func (s *JobStore) ReclaimStale(ctx context.Context, staleBefore time.Time) (int, error) {
	query := `
		UPDATE issuance_jobs
		SET status = CASE WHEN attempts >= max_attempts THEN $1 ELSE $2 END,
		    worker_id = NULL,
		    last_error = 'worker heartbeat lost',
		    updated_at = NOW()
		WHERE status = $3
		  AND COALESCE(last_heartbeat_at, updated_at) < $4
	`

	res, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, domain.JobStatusPending, domain.JobStatusProcessing, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeFinished deletes terminal jobs older than the retention window
func (s *JobStore) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM issuance_jobs WHERE status IN ($1, $2) AND updated_at < $3`,
		domain.JobStatusSuccess, domain.JobStatusFailed, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge finished jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}
