package domain

import (
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
)

// Certificate is the locally persisted record of an issued credential.
// Exactly one exists per batch.
type Certificate struct {
	ID                   string              `db:"id" json:"id"`
	BatchID              string              `db:"batch_id" json:"batch_id"`
	CredentialDocument   credential.Document `db:"credential_document" json:"credential_document"`
	ProviderCredentialID *string             `db:"provider_credential_id" json:"provider_credential_id,omitempty"`
	RetrievalURL         *string             `db:"retrieval_url" json:"retrieval_url,omitempty"`
	ContentHash          string              `db:"content_hash" json:"content_hash"`
	QREnvelope           string              `db:"qr_envelope" json:"qr_envelope"`
	Status               CertificateStatus   `db:"status" json:"status"`
	Revoked              bool                `db:"revoked" json:"revoked"`
	IssuedBy             string              `db:"issued_by" json:"issued_by"`
	IssuedAt             time.Time           `db:"issued_at" json:"issued_at"`
	ExpiresAt            *time.Time          `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt            *time.Time          `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedBy            *string             `db:"revoked_by" json:"revoked_by,omitempty"`
	RevocationReason     *RevocationReason   `db:"revocation_reason" json:"revocation_reason,omitempty"`
}

// ExpiredAt reports whether an active certificate has passed its expiry
func (c *Certificate) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Lookup returns the identifiers used to query the revocation ledger
func (c *Certificate) Lookup() RevocationLookup {
	return RevocationLookup{
		CertificateID:        c.ID,
		ContentHash:          c.ContentHash,
		ProviderCredentialID: Deref(c.ProviderCredentialID),
	}
}
