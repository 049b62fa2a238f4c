package webhook

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/issuer/mocks"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/storage/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const secret = "webhook-secret"

type fixture struct {
	certs      *memory.CertificateStore
	ledger     *memory.RevocationLedger
	metrics    *metrics.Metrics
	reconciler *Reconciler
}

func newFixture(t *testing.T, adapter issuer.Adapter) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if adapter == nil {
		local, err := issuer.NewLocalAdapter(issuer.LocalConfig{IssuerID: "did:web:agricert.test", WebhookSecret: secret}, logger)
		require.NoError(t, err)
		adapter = local
	}

	f := &fixture{
		certs:   memory.NewCertificateStore(),
		ledger:  memory.NewRevocationLedger(),
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.reconciler = NewReconciler(adapter, f.certs, f.ledger, f.metrics, logger)

	require.NoError(t, f.certs.Create(context.Background(), &domain.Certificate{
		ID:                   "C1",
		BatchID:              "B1",
		ContentHash:          "hash-b1",
		ProviderCredentialID: domain.StringPtr("urn:uuid:p1"),
		RetrievalURL:         domain.StringPtr("https://issuer.test/credentials/urn:uuid:p1"),
		Status:               domain.CertificateStatusActive,
		IssuedAt:             time.Now(),
	}))
	return f
}

func signed(t *testing.T, event issuer.WebhookEvent) ([]byte, string) {
	t.Helper()
	body, sig, err := issuer.EncodeWebhook([]byte(secret), event)
	require.NoError(t, err)
	return body, sig
}

func TestReconciler_RevokedIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	body, sig := signed(t, issuer.WebhookEvent{
		ID:                   "evt-1",
		Type:                 issuer.EventCredentialRevoked,
		ProviderCredentialID: "urn:uuid:p1",
		Reason:               string(domain.RevocationReasonQualityIssue),
		OccurredAt:           time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC),
	})

	outcome, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	revocations := f.ledger.All()
	require.Len(t, revocations, 1)
	rev := revocations[0]
	assert.Equal(t, "C1", domain.Deref(rev.CertificateID))
	assert.Equal(t, "hash-b1", domain.Deref(rev.ContentHash))
	assert.Equal(t, domain.RevocationSourceProvider, rev.Source)
	assert.Equal(t, "evt-1", domain.Deref(rev.SourceEventID))
	assert.Equal(t, providerActor, rev.RevokedBy)

	cert, err := f.certs.Get(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, cert.Revoked)
	assert.Equal(t, domain.RevocationReasonQualityIssue, *cert.RevocationReason)
	assert.True(t, time.Date(2026, 7, 2, 9, 0, 0, 0, time.UTC).Equal(*cert.RevokedAt))
}

func TestReconciler_RevokedWithNewEventIDForSameCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, id := range []string{"evt-1", "evt-2"} {
		body, sig := signed(t, issuer.WebhookEvent{
			ID:                   id,
			Type:                 issuer.EventCredentialRevoked,
			ProviderCredentialID: "urn:uuid:p1",
			Reason:               "fraud",
		})
		_, err := f.reconciler.Handle(ctx, body, sig)
		require.NoError(t, err)
	}

	assert.Len(t, f.ledger.All(), 1)
}

func TestReconciler_RevokedUnknownReasonBecomesOther(t *testing.T) {
	f := newFixture(t, nil)

	body, sig := signed(t, issuer.WebhookEvent{
		ID:            "evt-9",
		Type:          issuer.EventCredentialRevoked,
		CertificateID: "C1",
		Reason:        "policy_change",
	})
	_, err := f.reconciler.Handle(context.Background(), body, sig)
	require.NoError(t, err)

	revocations := f.ledger.All()
	require.Len(t, revocations, 1)
	assert.Equal(t, domain.RevocationReasonOther, revocations[0].Reason)
}

func TestReconciler_Issued(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	body, sig := signed(t, issuer.WebhookEvent{
		ID:                   "evt-2",
		Type:                 issuer.EventCredentialIssued,
		CertificateID:        "C1",
		ProviderCredentialID: "urn:uuid:p1",
		RetrievalURL:         "https://cdn.issuer.test/vc/p1",
	})

	outcome, err := f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	cert, err := f.certs.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.issuer.test/vc/p1", domain.Deref(cert.RetrievalURL))
	env, err := credential.ParseEnvelope(cert.QREnvelope)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.issuer.test/vc/p1", env.URL)
	assert.Equal(t, "hash-b1", env.Hash)

	outcome, err = f.reconciler.Handle(ctx, body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestReconciler_IssuedForUnknownCertificate(t *testing.T) {
	f := newFixture(t, nil)

	body, sig := signed(t, issuer.WebhookEvent{
		ID:                   "evt-3",
		Type:                 issuer.EventCredentialIssued,
		ProviderCredentialID: "urn:uuid:nobody",
	})

	_, err := f.reconciler.Handle(context.Background(), body, sig)
	assert.ErrorIs(t, err, domain.ErrCertificateNotFound)
}

func TestReconciler_UnknownTypeIsIgnored(t *testing.T) {
	f := newFixture(t, nil)

	body, sig := signed(t, issuer.WebhookEvent{ID: "evt-4", Type: "credential.viewed"})

	outcome, err := f.reconciler.Handle(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, f.ledger.All())
}

func TestReconciler_BadSignatureMutatesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(body []byte, sig string) ([]byte, string)
	}{
		{
			name:   "missing signature",
			mutate: func(body []byte, _ string) ([]byte, string) { return body, "" },
		},
		{
			name: "body altered after signing",
			mutate: func(body []byte, sig string) ([]byte, string) {
				altered := append([]byte(nil), body...)
				altered[len(altered)-2] = ' '
				return altered, sig
			},
		},
		{
			name:   "signed with another secret",
			mutate: func(body []byte, _ string) ([]byte, string) { return body, issuer.Sign([]byte("other"), body) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			body, sig := signed(t, issuer.WebhookEvent{
				ID:                   "evt-5",
				Type:                 issuer.EventCredentialRevoked,
				ProviderCredentialID: "urn:uuid:p1",
				Reason:               "fraud",
			})
			body, sig = tt.mutate(body, sig)

			outcome, err := f.reconciler.Handle(context.Background(), body, sig)
			assert.ErrorIs(t, err, domain.ErrInvalidSignature)
			assert.Equal(t, OutcomeRejected, outcome)
			assert.Empty(t, f.ledger.All())

			cert, err := f.certs.Get(context.Background(), "C1")
			require.NoError(t, err)
			assert.False(t, cert.Revoked)
			assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Webhooks.WithLabelValues("unknown", string(OutcomeRejected))))
		})
	}
}

func TestReconciler_UsesAdapterToAuthenticate(t *testing.T) {
	ctrl := gomock.NewController(t)
	adapter := mocks.NewMockAdapter(ctrl)
	adapter.EXPECT().
		ParseWebhook([]byte(`{"id":"evt-6"}`), "sig").
		Return(&issuer.WebhookEvent{
			ID:            "evt-6",
			Type:          issuer.EventCredentialRevoked,
			CertificateID: "C1",
			Reason:        "administrative",
		}, nil)

	f := newFixture(t, adapter)
	outcome, err := f.reconciler.Handle(context.Background(), []byte(`{"id":"evt-6"}`), "sig")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	revocations := f.ledger.All()
	require.Len(t, revocations, 1)
	assert.Equal(t, "urn:uuid:p1", domain.Deref(revocations[0].ProviderCredentialID))
}
