package verification

import (
	"fmt"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
)

// Result describes every check so callers can tell tampered, revoked and
// unsigned credentials apart.
type Result struct {
	Valid          bool `json:"valid"`
	StructureValid bool `json:"structure_valid"`
	SignatureValid bool `json:"signature_valid"`
	HashMatches    bool `json:"hash_matches"`
	Revoked        bool `json:"revoked"`
	Expired        bool `json:"expired"`

	Issuer               string                   `json:"issuer,omitempty"`
	ContentHash          string                   `json:"content_hash,omitempty"`
	CertificateID        string                   `json:"certificate_id,omitempty"`
	ProviderCredentialID string                   `json:"provider_credential_id,omitempty"`
	RevocationReason     *domain.RevocationReason `json:"revocation_reason,omitempty"`

	Errors    []string  `json:"errors"`
	CheckedAt time.Time `json:"checked_at"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}
