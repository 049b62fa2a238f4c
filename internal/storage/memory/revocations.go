package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/google/uuid"
)

// RevocationLedger is an append-only slice of revocations
type RevocationLedger struct {
	mu          sync.Mutex
	revocations []domain.Revocation
}

var _ storage.RevocationLedger = (*RevocationLedger)(nil)

// NewRevocationLedger creates an empty ledger
func NewRevocationLedger() *RevocationLedger {
	return &RevocationLedger{}
}

// Append stores a revocation, skipping a repeated source event id
func (l *RevocationLedger) Append(_ context.Context, rev *domain.Revocation) (bool, error) {
	if err := rev.Validate(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if eventID := domain.Deref(rev.SourceEventID); eventID != "" {
		for _, existing := range l.revocations {
			if domain.Deref(existing.SourceEventID) == eventID {
				return false, nil
			}
		}
	}
	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}
	l.revocations = append(l.revocations, *rev)
	return true, nil
}

// FindMatching returns revocations matching any identifier, newest first
func (l *RevocationLedger) FindMatching(_ context.Context, lookup domain.RevocationLookup) ([]domain.Revocation, error) {
	if lookup.Empty() {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Revocation
	for _, rev := range l.revocations {
		if matches(domain.Deref(rev.CertificateID), lookup.CertificateID) ||
			matches(domain.Deref(rev.ContentHash), lookup.ContentHash) ||
			matches(domain.Deref(rev.ProviderCredentialID), lookup.ProviderCredentialID) {
			out = append(out, rev)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Revocation) int {
		return b.RevokedAt.Compare(a.RevokedAt)
	})
	return out, nil
}

func (l *RevocationLedger) HasProviderRevocation(_ context.Context, providerCredentialID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rev := range l.revocations {
		if rev.Source == domain.RevocationSourceProvider && domain.Deref(rev.ProviderCredentialID) == providerCredentialID {
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of the ledger
func (l *RevocationLedger) All() []domain.Revocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.revocations)
}

func matches(stored, wanted string) bool {
	return wanted != "" && stored == wanted
}
