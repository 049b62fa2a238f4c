package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
)

// JobStore persists issuance jobs. Every state transition is a single
// conditional update so concurrent workers never need an in-process lock.
type JobStore interface {
	Enqueue(ctx context.Context, batchID string, inspectionID *string) (*domain.IssuanceJob, error)
	Get(ctx context.Context, jobID string) (*domain.IssuanceJob, error)
	List(ctx context.Context, filter JobFilter) ([]domain.IssuanceJob, error)

	// FindClaimable returns up to limit pending jobs with attempts left, oldest first
	FindClaimable(ctx context.Context, limit int) ([]domain.IssuanceJob, error)

	// Claim moves a pending job to processing for workerID. It returns nil, nil
	// when the job was not pending at the time of the update.
	Claim(ctx context.Context, jobID, workerID string) (*domain.IssuanceJob, error)

	Heartbeat(ctx context.Context, jobID, workerID string) error
	MarkSuccess(ctx context.Context, jobID string, result domain.JobResult) error

	// MarkFailedOrRequeue fails the job when its attempts are exhausted and
	// otherwise returns it to pending. The resulting status is returned.
	MarkFailedOrRequeue(ctx context.Context, jobID, errMsg string) (domain.JobStatus, error)

	// MarkFailed fails the job regardless of attempts left
	MarkFailed(ctx context.Context, jobID, errMsg string) error

	// ReclaimStale applies the failed-or-requeue rule to processing jobs whose
	// heartbeat is older than staleBefore
	ReclaimStale(ctx context.Context, staleBefore time.Time) (int, error)

	// PurgeFinished deletes terminal jobs last updated before the given time
	PurgeFinished(ctx context.Context, before time.Time) (int, error)
}

// CertificateStore persists issued certificates
type CertificateStore interface {
	// Create inserts a certificate; domain.ErrCertificateExists when the batch already has one
	Create(ctx context.Context, cert *domain.Certificate) error
	Get(ctx context.Context, certificateID string) (*domain.Certificate, error)
	GetByBatch(ctx context.Context, batchID string) (*domain.Certificate, error)
	FindByHash(ctx context.Context, contentHash string) (*domain.Certificate, error)
	FindByProviderID(ctx context.Context, providerCredentialID string) (*domain.Certificate, error)

	// UpdateProviderFields sets the provider id, retrieval URL and QR envelope.
	// It reports whether anything changed.
	UpdateProviderFields(ctx context.Context, certificateID, providerCredentialID, retrievalURL, qrEnvelope string) (bool, error)

	// MarkRevoked flips an unrevoked certificate to revoked and reports whether it did
	MarkRevoked(ctx context.Context, certificateID string, reason domain.RevocationReason, revokedBy string, at time.Time) (bool, error)

	// ExpireDue moves active certificates past their expiry to expired
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// RevocationLedger is the append-only record of revocations
type RevocationLedger interface {
	// Append stores a revocation. A record whose SourceEventID was already
	// recorded is skipped and Append reports false.
	Append(ctx context.Context, rev *domain.Revocation) (bool, error)

	// FindMatching returns every revocation matching any identifier in lookup, newest first
	FindMatching(ctx context.Context, lookup domain.RevocationLookup) ([]domain.Revocation, error)

	// HasProviderRevocation reports whether the provider already revoked the credential
	HasProviderRevocation(ctx context.Context, providerCredentialID string) (bool, error)
}

// JobFilter narrows job listings
type JobFilter struct {
	BatchID  string
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks the last row of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
