package domain

import (
	"fmt"
	"time"
)

// RevocationReason is the fixed enumeration of revocation causes
type RevocationReason string

const (
	RevocationReasonCompromisedKey RevocationReason = "compromised_key"
	RevocationReasonFraud          RevocationReason = "fraud"
	RevocationReasonQualityIssue   RevocationReason = "quality_issue"
	RevocationReasonAdministrative RevocationReason = "administrative"
	RevocationReasonSuperseded     RevocationReason = "superseded"
	RevocationReasonOther          RevocationReason = "other"
)

// ParseRevocationReason validates a reason string
func ParseRevocationReason(s string) (RevocationReason, error) {
	reason := RevocationReason(s)
	switch reason {
	case RevocationReasonCompromisedKey, RevocationReasonFraud, RevocationReasonQualityIssue,
		RevocationReasonAdministrative, RevocationReasonSuperseded, RevocationReasonOther:
		return reason, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRevocationReason, s)
}

// RevocationSource tells who originated a revocation
type RevocationSource string

const (
	RevocationSourceAdmin    RevocationSource = "admin"
	RevocationSourceProvider RevocationSource = "provider"
)

// Revocation is an immutable entry in the revocation ledger
type Revocation struct {
	ID                   string           `db:"id" json:"id"`
	CertificateID        *string          `db:"certificate_id" json:"certificate_id,omitempty"`
	ContentHash          *string          `db:"content_hash" json:"content_hash,omitempty"`
	ProviderCredentialID *string          `db:"provider_credential_id" json:"provider_credential_id,omitempty"`
	Reason               RevocationReason `db:"reason" json:"reason"`
	RevokedBy            string           `db:"revoked_by" json:"revoked_by"`
	RevokedAt            time.Time        `db:"revoked_at" json:"revoked_at"`
	Source               RevocationSource `db:"source" json:"source"`
	SourceEventID        *string          `db:"source_event_id" json:"source_event_id,omitempty"`
}

// Validate enforces the reason enumeration and the at-least-one-target rule
func (r *Revocation) Validate() error {
	if _, err := ParseRevocationReason(string(r.Reason)); err != nil {
		return err
	}
	if isBlank(r.CertificateID) && isBlank(r.ContentHash) && isBlank(r.ProviderCredentialID) {
		return ErrRevocationTargetRequired
	}
	if r.RevokedBy == "" {
		return fmt.Errorf("%w: revoked_by is required", ErrValidation)
	}
	return nil
}

// RevocationLookup carries whichever identifiers are known for a credential
type RevocationLookup struct {
	CertificateID        string
	ContentHash          string
	ProviderCredentialID string
}

// Empty reports whether no identifier is set
func (l RevocationLookup) Empty() bool {
	return l.CertificateID == "" && l.ContentHash == "" && l.ProviderCredentialID == ""
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}

// StringPtr returns nil for the empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
