// Package webhook applies authenticated provider callbacks to local state.
// Every transition is idempotent so replayed deliveries change nothing.
package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/storage"
)

// Outcome tells the caller what a delivery did
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

const providerActor = "provider"

// Reconciler verifies webhook signatures through the issuer adapter and
// updates certificates and the revocation ledger
type Reconciler struct {
	issuer  issuer.Adapter
	certs   storage.CertificateStore
	ledger  storage.RevocationLedger
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(adapter issuer.Adapter, certs storage.CertificateStore, ledger storage.RevocationLedger, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		issuer:  adapter,
		certs:   certs,
		ledger:  ledger,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Handle authenticates rawBody against signature before reading it. An
// invalid signature returns domain.ErrInvalidSignature and touches nothing.
func (r *Reconciler) Handle(ctx context.Context, rawBody []byte, signature string) (Outcome, error) {
	event, err := r.issuer.ParseWebhook(rawBody, signature)
	if err != nil {
		r.metrics.IncWebhook("unknown", string(OutcomeRejected))
		r.logger.Warn("Webhook rejected", slog.String("error", err.Error()))
		return OutcomeRejected, err
	}

	logger := r.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	var outcome Outcome
	switch event.Type {
	case issuer.EventCredentialIssued:
		outcome, err = r.applyIssued(ctx, event)
	case issuer.EventCredentialRevoked:
		outcome, err = r.applyRevoked(ctx, logger, event)
	default:
		logger.Info("Ignoring unknown webhook event type")
		outcome = OutcomeIgnored
	}
	if err != nil {
		r.metrics.IncWebhook(event.Type, "error")
		logger.Error("Failed to apply webhook", slog.String("error", err.Error()))
		return outcome, err
	}

	r.metrics.IncWebhook(event.Type, string(outcome))
	logger.Info("Webhook processed", slog.String("outcome", string(outcome)))
	return outcome, nil
}

func (r *Reconciler) applyIssued(ctx context.Context, event *issuer.WebhookEvent) (Outcome, error) {
	cert, err := r.findCertificate(ctx, event)
	if err != nil {
		return "", err
	}
	if cert == nil {
		return "", fmt.Errorf("issued event %s: %w", event.ID, domain.ErrCertificateNotFound)
	}

	providerID := event.ProviderCredentialID
	if providerID == "" {
		providerID = domain.Deref(cert.ProviderCredentialID)
	}
	url := event.RetrievalURL
	if url == "" {
		url = domain.Deref(cert.RetrievalURL)
	}
	qr, err := credential.NewEnvelope(url, cert.ContentHash, cert.ID).Encode()
	if err != nil {
		return "", fmt.Errorf("encode qr envelope: %w", err)
	}

	changed, err := r.certs.UpdateProviderFields(ctx, cert.ID, providerID, url, qr)
	if err != nil {
		return "", fmt.Errorf("update provider fields: %w", err)
	}
	if !changed {
		return OutcomeDuplicate, nil
	}
	return OutcomeApplied, nil
}

func (r *Reconciler) applyRevoked(ctx context.Context, logger *slog.Logger, event *issuer.WebhookEvent) (Outcome, error) {
	cert, err := r.findCertificate(ctx, event)
	if err != nil {
		return "", err
	}

	lookup := domain.RevocationLookup{
		CertificateID:        event.CertificateID,
		ProviderCredentialID: event.ProviderCredentialID,
	}
	if cert != nil {
		lookup = cert.Lookup()
		if event.ProviderCredentialID != "" {
			lookup.ProviderCredentialID = event.ProviderCredentialID
		}
	}
	if lookup.Empty() {
		return "", fmt.Errorf("%w: revoked event %s names no credential", domain.ErrValidation, event.ID)
	}

	reason, err := domain.ParseRevocationReason(event.Reason)
	if err != nil {
		logger.Warn("Provider sent unknown revocation reason", slog.String("reason", event.Reason))
		reason = domain.RevocationReasonOther
	}
	revokedBy := event.RevokedBy
	if revokedBy == "" {
		revokedBy = providerActor
	}
	revokedAt := event.OccurredAt
	if revokedAt.IsZero() {
		revokedAt = r.now()
	}

	appended := false
	already := false
	if lookup.ProviderCredentialID != "" {
		already, err = r.ledger.HasProviderRevocation(ctx, lookup.ProviderCredentialID)
		if err != nil {
			return "", fmt.Errorf("check provider revocation: %w", err)
		}
	}
	if !already {
		appended, err = r.ledger.Append(ctx, &domain.Revocation{
			CertificateID:        domain.StringPtr(lookup.CertificateID),
			ContentHash:          domain.StringPtr(lookup.ContentHash),
			ProviderCredentialID: domain.StringPtr(lookup.ProviderCredentialID),
			Reason:               reason,
			RevokedBy:            revokedBy,
			RevokedAt:            revokedAt.UTC(),
			Source:               domain.RevocationSourceProvider,
			SourceEventID:        domain.StringPtr(event.ID),
		})
		if err != nil {
			return "", fmt.Errorf("append revocation: %w", err)
		}
	}

	flipped := false
	if cert != nil {
		flipped, err = r.certs.MarkRevoked(ctx, cert.ID, reason, revokedBy, revokedAt.UTC())
		if err != nil {
			return "", fmt.Errorf("mark certificate revoked: %w", err)
		}
	} else {
		logger.Warn("Revocation recorded for a credential with no local certificate",
			slog.String("provider_credential_id", lookup.ProviderCredentialID))
	}

	if appended || flipped {
		return OutcomeApplied, nil
	}
	return OutcomeDuplicate, nil
}

// findCertificate matches by certificate id, then by provider credential id.
// Nil without error means no local certificate is known.
func (r *Reconciler) findCertificate(ctx context.Context, event *issuer.WebhookEvent) (*domain.Certificate, error) {
	if event.CertificateID != "" {
		cert, err := r.certs.Get(ctx, event.CertificateID)
		if err == nil {
			return cert, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("get certificate: %w", err)
		}
	}
	if event.ProviderCredentialID != "" {
		cert, err := r.certs.FindByProviderID(ctx, event.ProviderCredentialID)
		if err == nil {
			return cert, nil
		}
		if !storage.IsNotFound(err) {
			return nil, fmt.Errorf("find certificate by provider id: %w", err)
		}
	}
	return nil, nil
}
