//go:build integration

package postgres

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/testutil/containers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobStore_Postgres(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	store := NewJobStore(pg.DB, discardLogger(), 2)

	t.Run("claim is exclusive", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		job, err := store.Enqueue(ctx, "B1", nil)
		require.NoError(t, err)

		const workers = 16
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				claimed, err := store.Claim(ctx, job.ID, fmt.Sprintf("worker-%d", n))
				assert.NoError(t, err)
				if claimed != nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, 1, got.Attempts)
	})

	t.Run("retry is bounded", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		job, err := store.Enqueue(ctx, "B2", nil)
		require.NoError(t, err)

		want := []domain.JobStatus{domain.JobStatusPending, domain.JobStatusFailed}
		for _, expected := range want {
			claimed, err := store.Claim(ctx, job.ID, "w1")
			require.NoError(t, err)
			require.NotNil(t, claimed)
			status, err := store.MarkFailedOrRequeue(ctx, job.ID, "provider timeout")
			require.NoError(t, err)
			assert.Equal(t, expected, status)
		}

		claimed, err := store.Claim(ctx, job.ID, "w1")
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("success stores result", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		job, err := store.Enqueue(ctx, "B3", domain.StringPtr("I3"))
		require.NoError(t, err)
		_, err = store.Claim(ctx, job.ID, "w1")
		require.NoError(t, err)

		result := domain.JobResult{ProviderCredentialID: "vc-3", RetrievalURL: "https://issuer/vc-3", CertificateID: "C3"}
		require.NoError(t, store.MarkSuccess(ctx, job.ID, result))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusSuccess, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, result, *got.Result)
		assert.Equal(t, "I3", domain.Deref(got.InspectionID))
	})

	t.Run("stale jobs are reclaimed", func(t *testing.T) {
		require.NoError(t, pg.Truncate(ctx))
		job, err := store.Enqueue(ctx, "B4", nil)
		require.NoError(t, err)
		_, err = store.Claim(ctx, job.ID, "w1")
		require.NoError(t, err)

		n, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
	})
}

func TestCertificateStore_Postgres(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	store := NewCertificateStore(pg.DB, discardLogger())

	doc, err := credential.ParseDocument([]byte(`{
		"type": ["VerifiableCredential", "AgriculturalQualityCredential"],
		"credentialSubject": {"batchId": "B1", "quantity": 12.50},
		"issuer": "did:example:issuer"
	}`))
	require.NoError(t, err)

	cert := &domain.Certificate{
		ID:                 uuid.New().String(),
		BatchID:            "B1",
		CredentialDocument: doc,
		ContentHash:        doc.Hash(),
		QREnvelope:         `{"t":"agri-vc"}`,
		Status:             domain.CertificateStatusActive,
		IssuedBy:           "system",
		IssuedAt:           time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Create(ctx, cert))

	dup := *cert
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, store.Create(ctx, &dup), domain.ErrCertificateExists)

	byHash, err := store.FindByHash(ctx, doc.Hash())
	require.NoError(t, err)
	assert.Equal(t, cert.ID, byHash.ID)
	assert.Equal(t, doc.Hash(), byHash.CredentialDocument.Hash(), "stored document keeps its canonical form")

	changed, err := store.UpdateProviderFields(ctx, cert.ID, "vc-1", "https://issuer/vc-1", `{"t":"agri-vc","u":"https://issuer/vc-1"}`)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = store.UpdateProviderFields(ctx, cert.ID, "vc-1", "https://issuer/vc-1", `{"t":"agri-vc","u":"https://issuer/vc-1"}`)
	require.NoError(t, err)
	assert.False(t, changed)

	byProvider, err := store.FindByProviderID(ctx, "vc-1")
	require.NoError(t, err)
	assert.Equal(t, cert.ID, byProvider.ID)

	revoked, err := store.MarkRevoked(ctx, cert.ID, domain.RevocationReasonQualityIssue, "admin", time.Now())
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = store.MarkRevoked(ctx, cert.ID, domain.RevocationReasonFraud, "admin", time.Now())
	require.NoError(t, err)
	assert.False(t, revoked)

	got, err := store.Get(ctx, cert.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.Equal(t, domain.CertificateStatusRevoked, got.Status)
	require.NotNil(t, got.RevocationReason)
	assert.Equal(t, domain.RevocationReasonQualityIssue, *got.RevocationReason)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCertificateNotFound)
}

func TestRevocationLedger_Postgres(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	ctx := context.Background()
	ledger := NewRevocationLedger(pg.DB, discardLogger())

	newRev := func() *domain.Revocation {
		return &domain.Revocation{
			ProviderCredentialID: domain.StringPtr("vc-1"),
			Reason:               domain.RevocationReasonCompromisedKey,
			RevokedBy:            "issuer",
			RevokedAt:            time.Now().UTC(),
			Source:               domain.RevocationSourceProvider,
			SourceEventID:        domain.StringPtr("evt-1"),
		}
	}

	added, err := ledger.Append(ctx, newRev())
	require.NoError(t, err)
	assert.True(t, added)
	added, err = ledger.Append(ctx, newRev())
	require.NoError(t, err)
	assert.False(t, added)

	_, err = ledger.Append(ctx, &domain.Revocation{
		ContentHash: domain.StringPtr("hash-1"),
		Reason:      domain.RevocationReasonQualityIssue,
		RevokedBy:   "admin",
		RevokedAt:   time.Now().UTC(),
		Source:      domain.RevocationSourceAdmin,
	})
	require.NoError(t, err)

	revs, err := ledger.FindMatching(ctx, domain.RevocationLookup{ProviderCredentialID: "vc-1", ContentHash: "hash-1"})
	require.NoError(t, err)
	assert.Len(t, revs, 2)

	revs, err = ledger.FindMatching(ctx, domain.RevocationLookup{CertificateID: "C9"})
	require.NoError(t, err)
	assert.Empty(t, revs)

	has, err := ledger.HasProviderRevocation(ctx, "vc-1")
	require.NoError(t, err)
	assert.True(t, has)
}
