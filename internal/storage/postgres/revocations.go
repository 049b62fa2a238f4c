package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// RevocationLedger persists revocation records in PostgreSQL
type RevocationLedger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ storage.RevocationLedger = (*RevocationLedger)(nil)

// NewRevocationLedger creates a new RevocationLedger instance
func NewRevocationLedger(db *sqlx.DB, logger *slog.Logger) *RevocationLedger {
	return &RevocationLedger{db: db, logger: logger}
}

// Append inserts a revocation. A repeated source_event_id is ignored.
func (l *RevocationLedger) Append(ctx context.Context, rev *domain.Revocation) (bool, error) {
	if err := rev.Validate(); err != nil {
		return false, err
	}
	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO revocations (
			id, certificate_id, content_hash, provider_credential_id, reason,
			revoked_by, revoked_at, source, source_event_id
		) VALUES (
			:id, :certificate_id, :content_hash, :provider_credential_id, :reason,
			:revoked_by, :revoked_at, :source, :source_event_id
		)
		ON CONFLICT (source_event_id) DO NOTHING
	`

	res, err := l.db.NamedExecContext(ctx, query, rev)
	if err != nil {
		return false, fmt.Errorf("failed to append revocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		l.logger.Info("Revocation already recorded for event",
			slog.String("source_event_id", domain.Deref(rev.SourceEventID)),
		)
		return false, nil
	}

	l.logger.Info("Revocation recorded",
		slog.String("revocation_id", rev.ID),
		slog.String("reason", string(rev.Reason)),
		slog.String("certificate_id", domain.Deref(rev.CertificateID)),
	)
	return true, nil
}

// FindMatching looks up revocations by any of the three identifiers
func (l *RevocationLedger) FindMatching(ctx context.Context, lookup domain.RevocationLookup) ([]domain.Revocation, error) {
	if lookup.Empty() {
		return nil, nil
	}

	query := `
		SELECT id, certificate_id, content_hash, provider_credential_id, reason,
		       revoked_by, revoked_at, source, source_event_id
		FROM revocations
		WHERE certificate_id = NULLIF($1, '')
		   OR content_hash = NULLIF($2, '')
		   OR provider_credential_id = NULLIF($3, '')
		ORDER BY revoked_at DESC
	`

	var revs []domain.Revocation
	err := l.db.SelectContext(ctx, &revs, query, lookup.CertificateID, lookup.ContentHash, lookup.ProviderCredentialID)
	if err != nil {
		return nil, fmt.Errorf("failed to find revocations: %w", err)
	}
	return revs, nil
}

// HasProviderRevocation reports whether a provider-sourced revocation exists
func (l *RevocationLedger) HasProviderRevocation(ctx context.Context, providerCredentialID string) (bool, error) {
	var exists bool
	err := l.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM revocations WHERE provider_credential_id = $1 AND source = $2)`,
		providerCredentialID, domain.RevocationSourceProvider)
	if err != nil {
		return false, fmt.Errorf("failed to check provider revocation: %w", err)
	}
	return exists, nil
}
