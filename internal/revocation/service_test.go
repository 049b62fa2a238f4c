package revocation

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *memory.CertificateStore, *memory.RevocationLedger) {
	t.Helper()
	certs := memory.NewCertificateStore()
	ledger := memory.NewRevocationLedger()
	require.NoError(t, certs.Create(context.Background(), &domain.Certificate{
		ID:                   "C1",
		BatchID:              "B1",
		ContentHash:          "hash-b1",
		ProviderCredentialID: domain.StringPtr("urn:uuid:p1"),
		Status:               domain.CertificateStatusActive,
		IssuedAt:             time.Now(),
	}))
	svc := NewService(certs, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, certs, ledger
}

func TestService_Revoke(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "by certificate id", req: Request{CertificateID: "C1"}},
		{name: "by content hash", req: Request{ContentHash: "hash-b1"}},
		{name: "by provider credential id", req: Request{ProviderCredentialID: "urn:uuid:p1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, certs, _ := newService(t)
			ctx := context.Background()

			tt.req.Reason = string(domain.RevocationReasonQualityIssue)
			tt.req.RevokedBy = "admin-1"
			rev, err := svc.Revoke(ctx, tt.req)
			require.NoError(t, err)

			// Every identifier is filled in from the certificate
			assert.Equal(t, "C1", domain.Deref(rev.CertificateID))
			assert.Equal(t, "hash-b1", domain.Deref(rev.ContentHash))
			assert.Equal(t, "urn:uuid:p1", domain.Deref(rev.ProviderCredentialID))
			assert.Equal(t, domain.RevocationSourceAdmin, rev.Source)

			cert, err := certs.Get(ctx, "C1")
			require.NoError(t, err)
			assert.True(t, cert.Revoked)
			assert.Equal(t, domain.CertificateStatusRevoked, cert.Status)
			require.NotNil(t, cert.RevocationReason)
			assert.Equal(t, domain.RevocationReasonQualityIssue, *cert.RevocationReason)

			for _, lookup := range []domain.RevocationLookup{
				{CertificateID: "C1"},
				{ContentHash: "hash-b1"},
				{ProviderCredentialID: "urn:uuid:p1"},
			} {
				revoked, err := svc.IsRevoked(ctx, lookup)
				require.NoError(t, err)
				assert.True(t, revoked, lookup)
			}
		})
	}
}

func TestService_Revoke_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{
			name:    "unknown reason",
			req:     Request{CertificateID: "C1", Reason: "bad_weather", RevokedBy: "admin-1"},
			wantErr: domain.ErrInvalidRevocationReason,
		},
		{
			name:    "no identifier",
			req:     Request{Reason: "fraud", RevokedBy: "admin-1"},
			wantErr: domain.ErrRevocationTargetRequired,
		},
		{
			name:    "missing revoked by",
			req:     Request{CertificateID: "C1", Reason: "fraud"},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "unknown certificate id",
			req:     Request{CertificateID: "C404", Reason: "fraud", RevokedBy: "admin-1"},
			wantErr: domain.ErrCertificateNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, certs, ledger := newService(t)

			_, err := svc.Revoke(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, ledger.All())

			cert, err := certs.Get(context.Background(), "C1")
			require.NoError(t, err)
			assert.False(t, cert.Revoked)
		})
	}
}

func TestService_Revoke_UnknownHashIsStillRecorded(t *testing.T) {
	svc, _, ledger := newService(t)

	rev, err := svc.Revoke(context.Background(), Request{
		ContentHash: "hash-elsewhere",
		Reason:      string(domain.RevocationReasonFraud),
		RevokedBy:   "admin-1",
	})
	require.NoError(t, err)
	assert.Nil(t, rev.CertificateID)
	assert.Len(t, ledger.All(), 1)

	revoked, err := svc.IsRevoked(context.Background(), domain.RevocationLookup{ContentHash: "hash-elsewhere"})
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestService_RevokeTwiceKeepsFirstReason(t *testing.T) {
	svc, certs, ledger := newService(t)
	ctx := context.Background()

	_, err := svc.Revoke(ctx, Request{CertificateID: "C1", Reason: "quality_issue", RevokedBy: "admin-1"})
	require.NoError(t, err)
	_, err = svc.Revoke(ctx, Request{CertificateID: "C1", Reason: "fraud", RevokedBy: "admin-2"})
	require.NoError(t, err)

	assert.Len(t, ledger.All(), 2)
	cert, err := certs.Get(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, domain.RevocationReasonQualityIssue, *cert.RevocationReason)
	assert.Equal(t, "admin-1", domain.Deref(cert.RevokedBy))
}

func TestService_IsRevoked_EmptyLookup(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.IsRevoked(context.Background(), domain.RevocationLookup{})
	assert.ErrorIs(t, err, domain.ErrRevocationTargetRequired)
}
