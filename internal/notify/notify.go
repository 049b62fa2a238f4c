// Package notify publishes best-effort events about issued certificates.
// Callers log and drop notification errors; a job never fails because of them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Routing keys and event names
const (
	EventCertificateIssued = "certificate.issued"
	RoutingKeyJobEnqueued  = "issuance.job.enqueued"
)

// Notifier receives certificate lifecycle events
type Notifier interface {
	CertificateIssued(ctx context.Context, event CertificateIssuedEvent) error
}

// CertificateIssuedEvent is published once a certificate is persisted
type CertificateIssuedEvent struct {
	EventID              string    `json:"event_id"`
	JobID                string    `json:"job_id"`
	CertificateID        string    `json:"certificate_id"`
	BatchID              string    `json:"batch_id"`
	ProviderCredentialID string    `json:"provider_credential_id"`
	RetrievalURL         string    `json:"retrieval_url"`
	ContentHash          string    `json:"content_hash"`
	QREnvelope           string    `json:"qr_envelope"`
	IssuedAt             time.Time `json:"issued_at"`
}

// JobEnqueuedMessage nudges workers to poll right away
type JobEnqueuedMessage struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`
}

func encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return body, nil
}

// Multi fans an event out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) CertificateIssued(ctx context.Context, event CertificateIssuedEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.CertificateIssued(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the log only
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) CertificateIssued(_ context.Context, event CertificateIssuedEvent) error {
	n.logger.Info("Certificate issued",
		slog.String("certificate_id", event.CertificateID),
		slog.String("batch_id", event.BatchID),
		slog.String("provider_credential_id", event.ProviderCredentialID),
		slog.String("content_hash", event.ContentHash),
	)
	return nil
}
