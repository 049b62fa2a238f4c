package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
)

// VerifyRequest carries exactly one presentation form
type VerifyRequest struct {
	Credential json.RawMessage `json:"credential"`
	URL        string          `json:"url"`
	QR         string          `json:"qr"`
}

type RevokeRequest struct {
	Reason    string `json:"reason" binding:"required"`
	RevokedBy string `json:"revoked_by" binding:"required"`
}

type CertificateDTO struct {
	CertificateID        string          `json:"certificate_id"`
	BatchID              string          `json:"batch_id"`
	Status               string          `json:"status"`
	Revoked              bool            `json:"revoked"`
	ContentHash          string          `json:"content_hash"`
	ProviderCredentialID *string         `json:"provider_credential_id,omitempty"`
	RetrievalURL         *string         `json:"retrieval_url,omitempty"`
	QREnvelope           string          `json:"qr_envelope"`
	IssuedBy             string          `json:"issued_by"`
	IssuedAt             string          `json:"issued_at"`
	ExpiresAt            *string         `json:"expires_at,omitempty"`
	RevokedAt            *string         `json:"revoked_at,omitempty"`
	RevocationReason     *string         `json:"revocation_reason,omitempty"`
	Credential           json.RawMessage `json:"credential"`
}

// NewCertificateDTO maps a stored certificate to its response shape
func NewCertificateDTO(cert *domain.Certificate) CertificateDTO {
	out := CertificateDTO{
		CertificateID:        cert.ID,
		BatchID:              cert.BatchID,
		Status:               string(cert.Status),
		Revoked:              cert.Revoked,
		ContentHash:          cert.ContentHash,
		ProviderCredentialID: cert.ProviderCredentialID,
		RetrievalURL:         cert.RetrievalURL,
		QREnvelope:           cert.QREnvelope,
		IssuedBy:             cert.IssuedBy,
		IssuedAt:             cert.IssuedAt.Format(time.RFC3339),
		ExpiresAt:            formatTime(cert.ExpiresAt),
		RevokedAt:            formatTime(cert.RevokedAt),
		Credential:           json.RawMessage(cert.CredentialDocument.Bytes()),
	}
	if cert.RevocationReason != nil {
		reason := string(*cert.RevocationReason)
		out.RevocationReason = &reason
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
