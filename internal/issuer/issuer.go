// Package issuer adapts the external credential provider: issuing signed
// credentials, checking their signatures, and authenticating its webhooks.
package issuer

import (
	"context"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
)

// Webhook event types sent by the provider
const (
	EventCredentialIssued  = "credential.issued"
	EventCredentialRevoked = "credential.revoked"
)

//go:generate mockgen -source=issuer.go -destination=mocks/mocks.go -package=mocks Adapter

// Adapter is the narrow contract the pipeline needs from a credential provider.
//
// IssueVC fails with a domain.RetryableError on transient provider failures and
// with domain.ErrPayloadRejected when the provider refuses the payload.
// ParseWebhook fails with domain.ErrInvalidSignature before decoding anything
// when the signature does not match.
type Adapter interface {
	IssueVC(ctx context.Context, payload SubjectPayload) (*Issued, error)
	VerifyVC(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)
	ParseWebhook(rawBody []byte, signature string) (*WebhookEvent, error)
}

// SubjectPayload is what the worker asks the provider to sign
type SubjectPayload struct {
	CertificateID string
	Subject       credential.Subject
	IssuedBy      string
	IssuedAt      time.Time
	ExpiresAt     *time.Time
}

// Issued is the provider's answer to an issuance request
type Issued struct {
	ProviderCredentialID string
	RetrievalURL         string
	Document             credential.Document
}

// VerifyRequest carries either a document or a URL the provider can resolve
type VerifyRequest struct {
	Document credential.Document
	URL      string
}

type VerifyResponse struct {
	Valid          bool
	SignatureValid bool
	Revoked        bool
	Issuer         string
}

// WebhookEvent is an authenticated provider notification
type WebhookEvent struct {
	ID                   string
	Type                 string
	CertificateID        string
	ProviderCredentialID string
	RetrievalURL         string
	Reason               string
	RevokedBy            string
	OccurredAt           time.Time
}
