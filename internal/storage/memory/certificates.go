package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
)

// CertificateStore keeps certificates in a map keyed by id
type CertificateStore struct {
	mu           sync.Mutex
	certificates map[string]*domain.Certificate
}

var _ storage.CertificateStore = (*CertificateStore)(nil)

// NewCertificateStore creates an empty CertificateStore
func NewCertificateStore() *CertificateStore {
	return &CertificateStore{certificates: map[string]*domain.Certificate{}}
}

// Create inserts a certificate; one per batch
func (s *CertificateStore) Create(_ context.Context, cert *domain.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.certificates {
		if existing.BatchID == cert.BatchID {
			return fmt.Errorf("batch %s: %w", cert.BatchID, domain.ErrCertificateExists)
		}
	}
	c := *cert
	s.certificates[cert.ID] = &c
	return nil
}

func (s *CertificateStore) Get(_ context.Context, certificateID string) (*domain.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[certificateID]
	if !ok {
		return nil, domain.ErrCertificateNotFound
	}
	c := *cert
	return &c, nil
}

func (s *CertificateStore) GetByBatch(_ context.Context, batchID string) (*domain.Certificate, error) {
	return s.find(func(c *domain.Certificate) bool { return c.BatchID == batchID })
}

func (s *CertificateStore) FindByHash(_ context.Context, contentHash string) (*domain.Certificate, error) {
	return s.find(func(c *domain.Certificate) bool { return c.ContentHash == contentHash })
}

func (s *CertificateStore) FindByProviderID(_ context.Context, providerCredentialID string) (*domain.Certificate, error) {
	return s.find(func(c *domain.Certificate) bool {
		return providerCredentialID != "" && domain.Deref(c.ProviderCredentialID) == providerCredentialID
	})
}

func (s *CertificateStore) find(match func(*domain.Certificate) bool) (*domain.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cert := range s.certificates {
		if match(cert) {
			c := *cert
			return &c, nil
		}
	}
	return nil, domain.ErrCertificateNotFound
}

// UpdateProviderFields stores provider identifiers when they differ
func (s *CertificateStore) UpdateProviderFields(_ context.Context, certificateID, providerCredentialID, retrievalURL, qrEnvelope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[certificateID]
	if !ok {
		return false, nil
	}
	if domain.Deref(cert.ProviderCredentialID) == providerCredentialID &&
		domain.Deref(cert.RetrievalURL) == retrievalURL &&
		cert.QREnvelope == qrEnvelope {
		return false, nil
	}
	cert.ProviderCredentialID = domain.StringPtr(providerCredentialID)
	cert.RetrievalURL = domain.StringPtr(retrievalURL)
	cert.QREnvelope = qrEnvelope
	return true, nil
}

// MarkRevoked flips a certificate to revoked once
func (s *CertificateStore) MarkRevoked(_ context.Context, certificateID string, reason domain.RevocationReason, revokedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cert, ok := s.certificates[certificateID]
	if !ok || cert.Revoked {
		return false, nil
	}
	cert.Status = domain.CertificateStatusRevoked
	cert.Revoked = true
	cert.RevokedAt = &at
	cert.RevokedBy = domain.StringPtr(revokedBy)
	cert.RevocationReason = &reason
	return true, nil
}

// ExpireDue moves active certificates past expiry to expired
func (s *CertificateStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, cert := range s.certificates {
		if cert.Status == domain.CertificateStatusActive && cert.ExpiredAt(now) {
			cert.Status = domain.CertificateStatusExpired
			n++
		}
	}
	return n, nil
}
