package issuer

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
)

// SignaturePrefix is the optional scheme prefix on the signature header
const SignaturePrefix = "sha256="

// Sign returns the header value for body under secret
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a hex HMAC-SHA256 signature, with or without prefix
func VerifySignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}
	signature = strings.TrimPrefix(strings.TrimSpace(signature), SignaturePrefix)
	if signature == "" {
		return fmt.Errorf("%w: missing signature", domain.ErrInvalidSignature)
	}
	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", domain.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if subtle.ConstantTimeCompare(decoded, mac.Sum(nil)) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

// webhookBody is the provider's notification wire format
type webhookBody struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		CertificateID string `json:"certificate_id"`
		CredentialID  string `json:"credential_id"`
		RetrievalURL  string `json:"retrieval_url"`
		Reason        string `json:"reason"`
		RevokedBy     string `json:"revoked_by"`
	} `json:"data"`
}

func parseWebhook(secret, rawBody []byte, signature string) (*WebhookEvent, error) {
	if err := VerifySignature(secret, rawBody, signature); err != nil {
		return nil, err
	}

	var body webhookBody
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook body: %v", domain.ErrValidation, err)
	}
	if body.ID == "" || body.Type == "" {
		return nil, fmt.Errorf("%w: webhook id and type are required", domain.ErrValidation)
	}

	return &WebhookEvent{
		ID:                   body.ID,
		Type:                 body.Type,
		CertificateID:        body.Data.CertificateID,
		ProviderCredentialID: body.Data.CredentialID,
		RetrievalURL:         body.Data.RetrievalURL,
		Reason:               body.Data.Reason,
		RevokedBy:            body.Data.RevokedBy,
		OccurredAt:           body.OccurredAt,
	}, nil
}

// EncodeWebhook renders an event in the provider wire format and signs it
func EncodeWebhook(secret []byte, event WebhookEvent) ([]byte, string, error) {
	var body webhookBody
	body.ID = event.ID
	body.Type = event.Type
	body.OccurredAt = event.OccurredAt
	body.Data.CertificateID = event.CertificateID
	body.Data.CredentialID = event.ProviderCredentialID
	body.Data.RetrievalURL = event.RetrievalURL
	body.Data.Reason = event.Reason
	body.Data.RevokedBy = event.RevokedBy

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode webhook: %w", err)
	}
	return raw, Sign(secret, raw), nil
}
