package batch

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is an in-process Repository for tests and local runs
type MemoryRepository struct {
	mu          sync.Mutex
	batches     map[string]Batch
	inspections map[string]Inspection
	certified   map[string]string
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		batches:     map[string]Batch{},
		inspections: map[string]Inspection{},
		certified:   map[string]string{},
	}
}

// PutBatch adds or replaces a batch
func (r *MemoryRepository) PutBatch(b Batch) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = b
}

// PutInspection adds or replaces an inspection
func (r *MemoryRepository) PutInspection(insp Inspection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inspections[insp.ID] = insp
}

func (r *MemoryRepository) GetBatch(_ context.Context, batchID string) (*Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}
	return &b, nil
}

func (r *MemoryRepository) GetInspection(_ context.Context, batchID, inspectionID string) (*Inspection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inspectionID != "" {
		insp, ok := r.inspections[inspectionID]
		if !ok || insp.BatchID != batchID {
			return nil, fmt.Errorf("inspection %s: %w", inspectionID, ErrInspectionNotFound)
		}
		return &insp, nil
	}

	var latest *Inspection
	for _, insp := range r.inspections {
		if insp.BatchID != batchID {
			continue
		}
		if latest == nil || insp.InspectedAt.After(latest.InspectedAt) {
			c := insp
			latest = &c
		}
	}
	return latest, nil
}

func (r *MemoryRepository) MarkCertified(_ context.Context, batchID, certificateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}
	b.Status = StatusCertified
	r.batches[batchID] = b
	r.certified[batchID] = certificateID
	return nil
}

// CertifiedWith returns the certificate a batch was marked certified with
func (r *MemoryRepository) CertifiedWith(batchID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.certified[batchID]
	return id, ok
}
