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
	"github.com/jmoiron/sqlx"
)

const certificateColumns = `
	id, batch_id, credential_document, provider_credential_id, retrieval_url, content_hash,
	qr_envelope, status, revoked, issued_by, issued_at, expires_at, revoked_at, revoked_by,
	revocation_reason
`

// CertificateStore handles certificate persistence in PostgreSQL
type CertificateStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ storage.CertificateStore = (*CertificateStore)(nil)

// NewCertificateStore creates a new CertificateStore instance
func NewCertificateStore(db *sqlx.DB, logger *slog.Logger) *CertificateStore {
	return &CertificateStore{db: db, logger: logger}
}

// Create inserts a certificate, relying on the unique batch_id constraint
func (s *CertificateStore) Create(ctx context.Context, cert *domain.Certificate) error {
	query := `
		INSERT INTO certificates (
			id, batch_id, credential_document, provider_credential_id, retrieval_url,
			content_hash, qr_envelope, status, revoked, issued_by, issued_at, expires_at
		) VALUES (
			:id, :batch_id, :credential_document, :provider_credential_id, :retrieval_url,
			:content_hash, :qr_envelope, :status, :revoked, :issued_by, :issued_at, :expires_at
		)
		ON CONFLICT (batch_id) DO NOTHING
	`

	res, err := s.db.NamedExecContext(ctx, query, cert)
	if err != nil {
		return fmt.Errorf("failed to create certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s: %w", cert.BatchID, domain.ErrCertificateExists)
	}

	s.logger.Info("Certificate stored",
		slog.String("certificate_id", cert.ID),
		slog.String("batch_id", cert.BatchID),
		slog.String("content_hash", cert.ContentHash),
	)
	return nil
}

// Get retrieves a certificate by ID
func (s *CertificateStore) Get(ctx context.Context, certificateID string) (*domain.Certificate, error) {
	return s.getOne(ctx, `WHERE id = $1`, certificateID)
}

// GetByBatch retrieves the certificate issued for a batch
func (s *CertificateStore) GetByBatch(ctx context.Context, batchID string) (*domain.Certificate, error) {
	return s.getOne(ctx, `WHERE batch_id = $1`, batchID)
}

// FindByHash retrieves the certificate bound to a content hash
func (s *CertificateStore) FindByHash(ctx context.Context, contentHash string) (*domain.Certificate, error) {
	return s.getOne(ctx, `WHERE content_hash = $1`, contentHash)
}

// FindByProviderID retrieves a certificate by the provider-assigned credential id
func (s *CertificateStore) FindByProviderID(ctx context.Context, providerCredentialID string) (*domain.Certificate, error) {
	return s.getOne(ctx, `WHERE provider_credential_id = $1`, providerCredentialID)
}

func (s *CertificateStore) getOne(ctx context.Context, where string, arg string) (*domain.Certificate, error) {
	var cert domain.Certificate
	err := s.db.GetContext(ctx, &cert, `SELECT `+certificateColumns+` FROM certificates `+where+` LIMIT 1`, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCertificateNotFound
		}
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	return &cert, nil
}

// UpdateProviderFields stores the provider's identifiers when they differ
func (s *CertificateStore) UpdateProviderFields(ctx context.Context, certificateID, providerCredentialID, retrievalURL, qrEnvelope string) (bool, error) {
	query := `
		UPDATE certificates
		SET provider_credential_id = $2,
		    retrieval_url = $3,
		    qr_envelope = $4
		WHERE id = $1
		  AND (provider_credential_id IS DISTINCT FROM $2
		       OR retrieval_url IS DISTINCT FROM $3
		       OR qr_envelope IS DISTINCT FROM $4)
	`

	res, err := s.db.ExecContext(ctx, query, certificateID,
		domain.StringPtr(providerCredentialID), domain.StringPtr(retrievalURL), qrEnvelope)
	if err != nil {
		return false, fmt.Errorf("failed to update certificate provider fields: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkRevoked flips a certificate to revoked once; later calls are no-ops
func (s *CertificateStore) MarkRevoked(ctx context.Context, certificateID string, reason domain.RevocationReason, revokedBy string, at time.Time) (bool, error) {
	query := `
		UPDATE certificates
		SET status = $2,
		    revoked = TRUE,
		    revoked_at = $3,
		    revoked_by = $4,
		    revocation_reason = $5
		WHERE id = $1 AND revoked = FALSE
	`

	res, err := s.db.ExecContext(ctx, query, certificateID, domain.CertificateStatusRevoked, at, revokedBy, reason)
	if err != nil {
		return false, fmt.Errorf("failed to revoke certificate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ExpireDue marks active certificates past expires_at as expired
func (s *CertificateStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE certificates
		SET status = $1
		WHERE status = $2
		  AND expires_at IS NOT NULL
		  AND expires_at <= $3
	`

	res, err := s.db.ExecContext(ctx, query, domain.CertificateStatusExpired, domain.CertificateStatusActive, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire certificates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}
