// Package memory provides in-process stores with the same transition rules as
// the PostgreSQL stores. A mutex per store makes each operation atomic, which
// stands in for the conditional UPDATE statements.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/google/uuid"
)

// Option configures a memory store
type Option func(*options)

type options struct {
	now         func() time.Time
	maxAttempts int
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxAttempts sets the attempt ceiling for enqueued jobs
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, maxAttempts: domain.DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// JobStore keeps issuance jobs in a map
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.IssuanceJob
	opts options
	seq  int64
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty JobStore
func NewJobStore(opts ...Option) *JobStore {
	return &JobStore{
		jobs: map[string]*domain.IssuanceJob{},
		opts: buildOptions(opts),
	}
}

// Enqueue creates a pending job
func (s *JobStore) Enqueue(_ context.Context, batchID string, inspectionID *string) (*domain.IssuanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// created_at ties are broken by insertion order so FIFO is exact
	s.seq++
	now := s.opts.now().Add(time.Duration(s.seq))
	job := &domain.IssuanceJob{
		ID:           uuid.New().String(),
		BatchID:      batchID,
		InspectionID: inspectionID,
		Status:       domain.JobStatusPending,
		MaxAttempts:  s.opts.maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

// Get returns a copy of a job
func (s *JobStore) Get(_ context.Context, jobID string) (*domain.IssuanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

// List returns jobs newest first, fetching one extra row like the SQL store
func (s *JobStore) List(_ context.Context, filter storage.JobFilter) ([]domain.IssuanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.IssuanceJob
	for _, job := range s.jobs {
		if filter.BatchID != "" && job.BatchID != filter.BatchID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.ID >= c.JobID) {
				continue
			}
		}
		out = append(out, *cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit := filter.PageSize + 1; len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindClaimable returns pending jobs with attempts left, oldest first
func (s *JobStore) FindClaimable(_ context.Context, limit int) ([]domain.IssuanceJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.IssuanceJob
	for _, job := range s.jobs {
		if job.Claimable() {
			out = append(out, *cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Claim moves a pending job to processing; nil, nil when it is not pending
func (s *JobStore) Claim(_ context.Context, jobID, workerID string) (*domain.IssuanceJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || !job.Claimable() {
		return nil, nil
	}
	now := s.opts.now()
	job.Status = domain.JobStatusProcessing
	job.WorkerID = domain.StringPtr(workerID)
	job.Attempts++
	job.LastHeartbeatAt = &now
	job.UpdatedAt = now
	return cloneJob(job), nil
}

// Heartbeat refreshes the heartbeat of a job still held by workerID
func (s *JobStore) Heartbeat(_ context.Context, jobID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status == domain.JobStatusProcessing && domain.Deref(job.WorkerID) == workerID {
		now := s.opts.now()
		job.LastHeartbeatAt = &now
		job.UpdatedAt = now
	}
	return nil
}

// MarkSuccess records the issuance result
func (s *JobStore) MarkSuccess(_ context.Context, jobID string, result domain.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobStatusSuccess
	job.Result = &result
	job.CertificateID = domain.StringPtr(result.CertificateID)
	job.LastError = nil
	job.WorkerID = nil
	job.UpdatedAt = s.opts.now()
	return nil
}

// MarkFailedOrRequeue fails an exhausted job or returns it to pending
func (s *JobStore) MarkFailedOrRequeue(_ context.Context, jobID, errMsg string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return "", fmt.Errorf("requeue job %s: %w", jobID, domain.ErrJobNotFound)
	}
	s.failOrRequeue(job, errMsg)
	return job.Status, nil
}

// MarkFailed fails a job without further attempts
func (s *JobStore) MarkFailed(_ context.Context, jobID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = domain.JobStatusFailed
	job.WorkerID = nil
	job.LastError = domain.StringPtr(errMsg)
	job.UpdatedAt = s.opts.now()
	return nil
}

// ReclaimStale releases processing jobs with an old heartbeat
func (s *JobStore) ReclaimStale(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status != domain.JobStatusProcessing {
			continue
		}
		seen := job.UpdatedAt
		if job.LastHeartbeatAt != nil {
			seen = *job.LastHeartbeatAt
		}
		if seen.Before(staleBefore) {
			s.failOrRequeue(job, "worker heartbeat lost")
			n++
		}
	}
	return n, nil
}

// PurgeFinished deletes terminal jobs last updated before the given time
func (s *JobStore) PurgeFinished(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(before) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) failOrRequeue(job *domain.IssuanceJob, errMsg string) {
	if job.Attempts >= job.MaxAttempts {
		job.Status = domain.JobStatusFailed
	} else {
		job.Status = domain.JobStatusPending
	}
	job.WorkerID = nil
	job.LastError = domain.StringPtr(errMsg)
	job.UpdatedAt = s.opts.now()
}

func cloneJob(job *domain.IssuanceJob) *domain.IssuanceJob {
	c := *job
	if job.Result != nil {
		r := *job.Result
		c.Result = &r
	}
	return &c
}
