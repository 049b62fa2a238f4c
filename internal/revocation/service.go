// Package revocation records administrative revocations in the ledger and
// flips the matching certificate.
package revocation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
)

// Request names the credential to revoke by any identifier the caller knows
type Request struct {
	CertificateID        string
	ContentHash          string
	ProviderCredentialID string
	Reason               string
	RevokedBy            string
}

// Service appends revocations and keeps certificate flags in step
type Service struct {
	certs  storage.CertificateStore
	ledger storage.RevocationLedger
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new Service instance
func NewService(certs storage.CertificateStore, ledger storage.RevocationLedger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		certs:  certs,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

// Revoke validates the request, fills in identifiers from the certificate
// when one is found, appends the record and flags the certificate.
// A revocation for a credential this system never issued is still recorded.
func (s *Service) Revoke(ctx context.Context, req Request) (*domain.Revocation, error) {
	reason, err := domain.ParseRevocationReason(req.Reason)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if req.RevokedBy == "" {
		return nil, fmt.Errorf("%w: revoked_by is required", domain.ErrValidation)
	}

	lookup := domain.RevocationLookup{
		CertificateID:        req.CertificateID,
		ContentHash:          req.ContentHash,
		ProviderCredentialID: req.ProviderCredentialID,
	}
	if lookup.Empty() {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, domain.ErrRevocationTargetRequired)
	}

	cert, err := s.resolve(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if cert == nil && req.CertificateID != "" {
		return nil, fmt.Errorf("certificate %s: %w", req.CertificateID, domain.ErrCertificateNotFound)
	}
	if cert != nil {
		lookup = mergeLookup(lookup, cert.Lookup())
	}

	rev := &domain.Revocation{
		CertificateID:        domain.StringPtr(lookup.CertificateID),
		ContentHash:          domain.StringPtr(lookup.ContentHash),
		ProviderCredentialID: domain.StringPtr(lookup.ProviderCredentialID),
		Reason:               reason,
		RevokedBy:            req.RevokedBy,
		RevokedAt:            s.now().UTC(),
		Source:               domain.RevocationSourceAdmin,
	}
	if _, err := s.ledger.Append(ctx, rev); err != nil {
		return nil, fmt.Errorf("append revocation: %w", err)
	}

	if cert != nil {
		flipped, err := s.certs.MarkRevoked(ctx, cert.ID, reason, req.RevokedBy, rev.RevokedAt)
		if err != nil {
			return nil, fmt.Errorf("mark certificate revoked: %w", err)
		}
		if !flipped {
			s.logger.Info("Certificate was already revoked", slog.String("certificate_id", cert.ID))
		}
	}

	s.logger.Info("Credential revoked",
		slog.String("revocation_id", rev.ID),
		slog.String("certificate_id", lookup.CertificateID),
		slog.String("reason", string(reason)),
		slog.String("revoked_by", req.RevokedBy),
	)

	return rev, nil
}

// IsRevoked reports whether any ledger record matches any identifier in lookup
func (s *Service) IsRevoked(ctx context.Context, lookup domain.RevocationLookup) (bool, error) {
	if lookup.Empty() {
		return false, domain.ErrRevocationTargetRequired
	}
	matches, err := s.ledger.FindMatching(ctx, lookup)
	if err != nil {
		return false, fmt.Errorf("find revocations: %w", err)
	}
	return len(matches) > 0, nil
}

// resolve finds the certificate by whichever identifier is given, in order
// of specificity. Nil means no certificate is known.
func (s *Service) resolve(ctx context.Context, lookup domain.RevocationLookup) (*domain.Certificate, error) {
	steps := []struct {
		key  string
		find func(context.Context, string) (*domain.Certificate, error)
	}{
		{lookup.CertificateID, s.certs.Get},
		{lookup.ContentHash, s.certs.FindByHash},
		{lookup.ProviderCredentialID, s.certs.FindByProviderID},
	}
	for _, step := range steps {
		if step.key == "" {
			continue
		}
		cert, err := step.find(ctx, step.key)
		if err == nil {
			return cert, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("resolve certificate: %w", err)
		}
	}
	return nil, nil
}

func mergeLookup(given, known domain.RevocationLookup) domain.RevocationLookup {
	if given.CertificateID == "" {
		given.CertificateID = known.CertificateID
	}
	if given.ContentHash == "" {
		given.ContentHash = known.ContentHash
	}
	if given.ProviderCredentialID == "" {
		given.ProviderCredentialID = known.ProviderCredentialID
	}
	return given
}
