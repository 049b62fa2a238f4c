package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/batch"
	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// process claims and runs a single job. Errors end up on the job row, so
// nothing is returned to the caller.
func (p *Pool) process(ctx context.Context, jobID string) {
	ctx, span := p.tracer.Start(ctx, "issuance.process",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := p.jobs.Claim(ctx, jobID, p.cfg.WorkerID)
	if err != nil {
		p.logger.Error("Failed to claim job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		return
	}
	if job == nil {
		// Another worker won the race
		p.metrics.IncClaimConflict()
		span.SetAttributes(attribute.Bool("job.claimed", false))
		return
	}

	logger := p.logger.With(
		slog.String("job_id", job.ID),
		slog.String("batch_id", job.BatchID),
		slog.Int("attempt", job.Attempts),
	)
	logger.Info("Processing job")
	span.SetAttributes(
		attribute.String("batch.id", job.BatchID),
		attribute.Int("job.attempt", job.Attempts),
	)

	started := p.now()
	defer func() { p.metrics.ObserveJobDuration(p.now().Sub(started)) }()

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go p.sendJobHeartbeat(jobCtx, job.ID, heartbeatDone)

	cert, err := p.issue(jobCtx, job)
	close(heartbeatDone)

	// Status writes use a fresh deadline so a timed-out job still records why
	writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer writeCancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.fail(writeCtx, logger, job, err)
		return
	}

	result := domain.JobResult{
		ProviderCredentialID: domain.Deref(cert.ProviderCredentialID),
		RetrievalURL:         domain.Deref(cert.RetrievalURL),
		CertificateID:        cert.ID,
	}
	if err := p.markSuccess(ctx, job.ID, result); err != nil {
		// The certificate exists; a retry or the janitor will settle the job
		logger.Error("Failed to mark job success",
			slog.String("certificate_id", cert.ID),
			slog.String("error", err.Error()),
		)
		span.RecordError(err)
		return
	}

	p.metrics.IncJobOutcome(outcomeSuccess)
	logger.Info("Job completed successfully",
		slog.String("certificate_id", cert.ID),
		slog.String("content_hash", cert.ContentHash),
	)

	p.afterIssue(writeCtx, logger, job, cert)
}

// markSuccess records the outcome, trying once more on a fresh deadline
// before leaving the job to the janitor.
func (p *Pool) markSuccess(ctx context.Context, jobID string, result domain.JobResult) error {
	var err error
	for range 2 {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		err = p.jobs.MarkSuccess(writeCtx, jobID, result)
		cancel()
		if err == nil || storage.IsNotFound(err) {
			return err
		}
	}
	return err
}

// issue produces the certificate for the job's batch, reusing one that
// already exists so a retried job never issues twice.
func (p *Pool) issue(ctx context.Context, job *domain.IssuanceJob) (*domain.Certificate, error) {
	existing, err := p.certs.GetByBatch(ctx, job.BatchID)
	switch {
	case err == nil:
		p.logger.Info("Certificate already exists for batch, reusing",
			slog.String("job_id", job.ID),
			slog.String("certificate_id", existing.ID),
		)
		return existing, nil
	case !storage.IsNotFound(err):
		return nil, domain.NewRetryableError(fmt.Errorf("look up certificate for batch: %w", err))
	}

	b, err := p.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		return nil, wrapBatchErr("load batch", err)
	}
	insp, err := p.batches.GetInspection(ctx, job.BatchID, domain.Deref(job.InspectionID))
	if err != nil {
		return nil, wrapBatchErr("load inspection", err)
	}

	subject, err := batch.BuildSubject(b, insp)
	if err != nil {
		return nil, err
	}

	certID := uuid.New().String()
	issuedAt := p.now().UTC()
	var expiresAt *time.Time
	if p.cfg.CredentialValidity > 0 {
		t := issuedAt.Add(p.cfg.CredentialValidity)
		expiresAt = &t
	}

	issued, err := p.issuer.IssueVC(ctx, issuer.SubjectPayload{
		CertificateID: certID,
		Subject:       subject,
		IssuedBy:      p.cfg.IssuedBy,
		IssuedAt:      issuedAt,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}
	if issued == nil || issued.Document.IsZero() {
		return nil, domain.NewRetryableError(errors.New("issuer returned no credential document"))
	}

	hash := issued.Document.Hash()
	qr, err := credential.NewEnvelope(issued.RetrievalURL, hash, certID).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode qr envelope: %w", err)
	}

	cert := &domain.Certificate{
		ID:                   certID,
		BatchID:              job.BatchID,
		CredentialDocument:   issued.Document,
		ProviderCredentialID: domain.StringPtr(issued.ProviderCredentialID),
		RetrievalURL:         domain.StringPtr(issued.RetrievalURL),
		ContentHash:          hash,
		QREnvelope:           qr,
		Status:               domain.CertificateStatusActive,
		IssuedBy:             p.cfg.IssuedBy,
		IssuedAt:             issuedAt,
		ExpiresAt:            expiresAt,
	}
	if err := p.certs.Create(ctx, cert); err != nil {
		if errors.Is(err, domain.ErrCertificateExists) {
			// Lost a race with another job for the same batch
			return p.certs.GetByBatch(ctx, job.BatchID)
		}
		return nil, domain.NewRetryableError(fmt.Errorf("persist certificate: %w", err))
	}

	return cert, nil
}

func wrapBatchErr(op string, err error) error {
	if batch.IsNotFound(err) || errors.Is(err, domain.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.NewRetryableError(fmt.Errorf("%s: %w", op, err))
}

// fail records the error. Permanent errors fail the job outright, anything
// else goes back to pending while attempts remain.
func (p *Pool) fail(ctx context.Context, logger *slog.Logger, job *domain.IssuanceJob, cause error) {
	msg := cause.Error()

	if domain.IsPermanent(cause) {
		logger.Warn("Job failed permanently", slog.String("error", msg))
		if err := p.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
			logger.Error("Failed to mark job failed", slog.String("error", err.Error()))
			return
		}
		p.metrics.IncJobOutcome(outcomeFailed)
		return
	}

	status, err := p.jobs.MarkFailedOrRequeue(ctx, job.ID, msg)
	if err != nil {
		logger.Error("Failed to record job failure", slog.String("error", err.Error()))
		return
	}

	outcome := outcomeOf(status)
	p.metrics.IncJobOutcome(outcome)
	if outcome == outcomeRequeued {
		logger.Info("Job will be retried",
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.String("error", msg),
		)
		return
	}
	logger.Warn("Job exceeded max attempts",
		slog.Int("max_attempts", job.MaxAttempts),
		slog.String("error", msg),
	)
}

// afterIssue runs the best-effort steps that follow a successful job
func (p *Pool) afterIssue(ctx context.Context, logger *slog.Logger, job *domain.IssuanceJob, cert *domain.Certificate) {
	if p.cfg.UpdateBatchStatus {
		if err := p.batches.MarkCertified(ctx, job.BatchID, cert.ID); err != nil {
			logger.Warn("Failed to mark batch certified", slog.String("error", err.Error()))
		}
	}

	event := notify.CertificateIssuedEvent{
		EventID:              uuid.New().String(),
		JobID:                job.ID,
		CertificateID:        cert.ID,
		BatchID:              cert.BatchID,
		ProviderCredentialID: domain.Deref(cert.ProviderCredentialID),
		RetrievalURL:         domain.Deref(cert.RetrievalURL),
		ContentHash:          cert.ContentHash,
		QREnvelope:           cert.QREnvelope,
		IssuedAt:             cert.IssuedAt,
	}
	if err := p.notifier.CertificateIssued(ctx, event); err != nil {
		logger.Warn("Failed to send certificate notification", slog.String("error", err.Error()))
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (p *Pool) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			p.logger.Debug("Job heartbeat stopped - context canceled", slog.String("job_id", jobID))
			return
		case <-ticker.C:
			if err := p.jobs.Heartbeat(ctx, jobID, p.cfg.WorkerID); err != nil {
				p.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
