package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/storage"
)

// Housekeeping task labels
const (
	TaskSettleIssued  = "settle_issued"
	TaskReclaimStale  = "reclaim_stale"
	TaskExpireCerts   = "expire_certificates"
	TaskPurgeFinished = "purge_finished"
)

const settlePageSize = 100

// JanitorConfig controls the housekeeping loop
type JanitorConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	// Retention of terminal jobs; zero keeps them forever
	Retention time.Duration
}

// Janitor reclaims jobs whose worker died, expires certificates and purges
// old finished jobs.
type Janitor struct {
	cfg     JanitorConfig
	jobs    storage.JobStore
	certs   storage.CertificateStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewJanitor creates a new Janitor instance
func NewJanitor(cfg JanitorConfig, jobs storage.JobStore, certs storage.CertificateStore, m *metrics.Metrics, logger *slog.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:     cfg,
		jobs:    jobs,
		certs:   certs,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Run executes RunOnce every Interval until ctx is canceled
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.logger.Info("Janitor started", slog.Duration("interval", j.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("Janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one housekeeping pass. A failing task does not stop the others.
func (j *Janitor) RunOnce(ctx context.Context) {
	now := j.now()
	staleBefore := now.Add(-j.cfg.StaleAfter)

	// Runs before reclaim so a job whose certificate was stored is not failed
	if n, err := j.settleIssued(ctx, staleBefore); err != nil {
		j.logger.Error("Failed to settle issued jobs", slog.String("error", err.Error()))
	} else {
		j.record(TaskSettleIssued, n)
	}

	if n, err := j.jobs.ReclaimStale(ctx, staleBefore); err != nil {
		j.logger.Error("Failed to reclaim stale jobs", slog.String("error", err.Error()))
	} else {
		j.record(TaskReclaimStale, n)
	}

	if n, err := j.certs.ExpireDue(ctx, now); err != nil {
		j.logger.Error("Failed to expire certificates", slog.String("error", err.Error()))
	} else {
		j.record(TaskExpireCerts, n)
	}

	if j.cfg.Retention > 0 {
		if n, err := j.jobs.PurgeFinished(ctx, now.Add(-j.cfg.Retention)); err != nil {
			j.logger.Error("Failed to purge finished jobs", slog.String("error", err.Error()))
		} else {
			j.record(TaskPurgeFinished, n)
		}
	}
}

// settleIssued marks stale processing jobs successful when their batch
// already has a certificate. That happens when the worker stored the
// certificate but never got to record the job outcome.
func (j *Janitor) settleIssued(ctx context.Context, staleBefore time.Time) (int, error) {
	filter := storage.JobFilter{Status: domain.JobStatusProcessing, PageSize: settlePageSize}
	n := 0
	for {
		page, err := j.jobs.List(ctx, filter)
		if err != nil {
			return n, err
		}
		more := len(page) > settlePageSize
		if more {
			page = page[:settlePageSize]
		}

		for _, job := range page {
			seen := job.UpdatedAt
			if job.LastHeartbeatAt != nil {
				seen = *job.LastHeartbeatAt
			}
			if !seen.Before(staleBefore) {
				continue
			}
			cert, err := j.certs.GetByBatch(ctx, job.BatchID)
			if storage.IsNotFound(err) {
				continue
			}
			if err != nil {
				return n, err
			}
			result := domain.JobResult{
				ProviderCredentialID: domain.Deref(cert.ProviderCredentialID),
				RetrievalURL:         domain.Deref(cert.RetrievalURL),
				CertificateID:        cert.ID,
			}
			if err := j.jobs.MarkSuccess(ctx, job.ID, result); err != nil {
				return n, err
			}
			j.logger.Info("Settled stale job with existing certificate",
				slog.String("job_id", job.ID),
				slog.String("certificate_id", cert.ID),
			)
			n++
		}

		if !more {
			return n, nil
		}
		last := page[len(page)-1]
		filter.Cursor = &storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
}

func (j *Janitor) record(task string, n int) {
	if n == 0 {
		return
	}
	j.metrics.AddHousekeeping(task, n)
	j.logger.Info("Housekeeping task done", slog.String("task", task), slog.Int("rows", n))
}
