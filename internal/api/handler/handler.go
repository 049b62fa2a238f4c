package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/revocation"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/cuongbtq/agricert/internal/verification"
	"github.com/cuongbtq/agricert/internal/webhook"
)

// Verifier checks a presented credential
type Verifier interface {
	Verify(ctx context.Context, in verification.Input) verification.Result
}

// WebhookHandler applies a signed provider callback
type WebhookHandler interface {
	Handle(ctx context.Context, rawBody []byte, signature string) (webhook.Outcome, error)
}

// Revoker records revocations
type Revoker interface {
	Revoke(ctx context.Context, req revocation.Request) (*domain.Revocation, error)
}

// WakeupPublisher nudges workers after a job is enqueued
type WakeupPublisher interface {
	JobEnqueued(ctx context.Context, msg notify.JobEnqueuedMessage) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         storage.JobStore
	Certificates storage.CertificateStore
	Verifier     Verifier
	Webhooks     WebhookHandler
	Revocations  Revoker
	// Wakeups is optional; without it workers pick jobs up on their next poll
	Wakeups WakeupPublisher
}

// JobHandler handles issuance job HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	jobs    storage.JobStore
	wakeups WakeupPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		jobs:    deps.Jobs,
		wakeups: deps.Wakeups,
	}
}

// CertificateHandler serves certificates, their documents and revocations
type CertificateHandler struct {
	logger      *slog.Logger
	certs       storage.CertificateStore
	revocations Revoker
}

// NewCertificateHandler creates a new CertificateHandler instance
func NewCertificateHandler(deps *Dependencies) *CertificateHandler {
	return &CertificateHandler{
		logger:      deps.Logger,
		certs:       deps.Certificates,
		revocations: deps.Revocations,
	}
}

// VerificationHandler exposes the verification engine
type VerificationHandler struct {
	logger   *slog.Logger
	verifier Verifier
}

// NewVerificationHandler creates a new VerificationHandler instance
func NewVerificationHandler(deps *Dependencies) *VerificationHandler {
	return &VerificationHandler{
		logger:   deps.Logger,
		verifier: deps.Verifier,
	}
}

// ProviderWebhookHandler receives issuer callbacks
type ProviderWebhookHandler struct {
	logger   *slog.Logger
	webhooks WebhookHandler
}

// NewProviderWebhookHandler creates a new ProviderWebhookHandler instance
func NewProviderWebhookHandler(deps *Dependencies) *ProviderWebhookHandler {
	return &ProviderWebhookHandler{
		logger:   deps.Logger,
		webhooks: deps.Webhooks,
	}
}
