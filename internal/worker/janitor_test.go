package worker

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_RunOnce(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }

	jobs := memory.NewJobStore(memory.WithClock(clock), memory.WithMaxAttempts(3))
	certs := memory.NewCertificateStore()
	m := metrics.New(prometheus.NewRegistry())

	stale, err := jobs.Enqueue(ctx, "B4", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, stale.ID, "dead-worker")
	require.NoError(t, err)

	finished, err := jobs.Enqueue(ctx, "B2", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, finished.ID, "w1")
	require.NoError(t, err)
	require.NoError(t, jobs.MarkSuccess(ctx, finished.ID, domain.JobResult{CertificateID: "C2"}))

	past := start.Add(time.Hour)
	future := start.Add(30 * 24 * time.Hour)
	require.NoError(t, certs.Create(ctx, &domain.Certificate{ID: "C1", BatchID: "B1", Status: domain.CertificateStatusActive, ExpiresAt: &past}))
	require.NoError(t, certs.Create(ctx, &domain.Certificate{ID: "C3", BatchID: "B3", Status: domain.CertificateStatusActive, ExpiresAt: &future}))

	now = start.Add(48 * time.Hour)
	j := NewJanitor(JanitorConfig{StaleAfter: 5 * time.Minute, Retention: 24 * time.Hour}, jobs, certs, m, testLogger())
	j.now = clock

	j.RunOnce(ctx)

	got, err := jobs.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Nil(t, got.WorkerID)

	_, err = jobs.Get(ctx, finished.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	expired, err := certs.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusExpired, expired.Status)

	active, err := certs.Get(ctx, "C3")
	require.NoError(t, err)
	assert.Equal(t, domain.CertificateStatusActive, active.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Housekeeping.WithLabelValues(TaskReclaimStale)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Housekeeping.WithLabelValues(TaskExpireCerts)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Housekeeping.WithLabelValues(TaskPurgeFinished)))
}

func TestJanitor_ZeroRetentionKeepsFinishedJobs(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore()
	job, err := jobs.Enqueue(ctx, "B1", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	require.NoError(t, jobs.MarkFailed(ctx, job.ID, "boom"))

	j := NewJanitor(JanitorConfig{}, jobs, memory.NewCertificateStore(), nil, testLogger())
	j.now = func() time.Time { return time.Now().Add(365 * 24 * time.Hour) }
	j.RunOnce(ctx)

	_, err = jobs.Get(ctx, job.ID)
	assert.NoError(t, err)
}

func TestJanitor_SettlesStaleJobWithStoredCertificate(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore(memory.WithMaxAttempts(1))
	certs := memory.NewCertificateStore()
	m := metrics.New(prometheus.NewRegistry())

	// Last attempt: plain reclaim would fail these jobs
	issued, err := jobs.Enqueue(ctx, "B1", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, issued.ID, "dead-worker")
	require.NoError(t, err)
	require.NoError(t, certs.Create(ctx, &domain.Certificate{
		ID:                   "C1",
		BatchID:              "B1",
		ProviderCredentialID: domain.StringPtr("prov-B1"),
		Status:               domain.CertificateStatusActive,
	}))

	orphan, err := jobs.Enqueue(ctx, "B2", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, orphan.ID, "dead-worker")
	require.NoError(t, err)

	j := NewJanitor(JanitorConfig{StaleAfter: 5 * time.Minute}, jobs, certs, m, testLogger())
	j.now = func() time.Time { return time.Now().Add(time.Hour) }
	j.RunOnce(ctx)

	got, err := jobs.Get(ctx, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSuccess, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "C1", got.Result.CertificateID)
	assert.Equal(t, "prov-B1", got.Result.ProviderCredentialID)

	failed, err := jobs.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Housekeeping.WithLabelValues(TaskSettleIssued)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Housekeeping.WithLabelValues(TaskReclaimStale)))
}

func TestJanitor_LeavesLiveJobsAlone(t *testing.T) {
	ctx := context.Background()
	jobs := memory.NewJobStore()
	certs := memory.NewCertificateStore()

	job, err := jobs.Enqueue(ctx, "B1", nil)
	require.NoError(t, err)
	_, err = jobs.Claim(ctx, job.ID, "w1")
	require.NoError(t, err)
	require.NoError(t, certs.Create(ctx, &domain.Certificate{ID: "C1", BatchID: "B1", Status: domain.CertificateStatusActive}))

	j := NewJanitor(JanitorConfig{StaleAfter: 5 * time.Minute}, jobs, certs, nil, testLogger())
	j.RunOnce(ctx)

	got, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
}
