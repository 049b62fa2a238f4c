package issuer

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	proofType    = "JsonWebSignature2020"
	proofPurpose = "assertionMethod"
	credentialV1 = "https://www.w3.org/2018/credentials/v1"
)

var errNoProof = errors.New("credential carries no jws proof")

// LocalConfig configures the in-process signing adapter
type LocalConfig struct {
	IssuerID   string
	IssuerName string
	// RetrievalBaseURL is joined with the credential id to form retrieval URLs
	RetrievalBaseURL string
	WebhookSecret    string
	PrivateKey       ed25519.PrivateKey
}

// LocalAdapter signs credentials itself with an Ed25519 key. The proof is a
// compact JWS whose vc_hash claim covers the document without its proof.
type LocalAdapter struct {
	cfg    LocalConfig
	pub    ed25519.PublicKey
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	byURL   map[string]credential.Document
	revoked map[string]bool
}

var _ Adapter = (*LocalAdapter)(nil)

type proofClaims struct {
	VCHash string `json:"vc_hash"`
	jwt.RegisteredClaims
}

// NewLocalAdapter creates a LocalAdapter. A nil key generates a fresh one.
func NewLocalAdapter(cfg LocalConfig, logger *slog.Logger) (*LocalAdapter, error) {
	if cfg.IssuerID == "" {
		return nil, errors.New("issuer id is required")
	}
	if cfg.PrivateKey == nil {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		cfg.PrivateKey = priv
	}
	pub, ok := cfg.PrivateKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("unexpected public key type")
	}
	cfg.RetrievalBaseURL = strings.TrimRight(cfg.RetrievalBaseURL, "/")

	return &LocalAdapter{
		cfg:     cfg,
		pub:     pub,
		logger:  logger,
		now:     time.Now,
		byURL:   map[string]credential.Document{},
		revoked: map[string]bool{},
	}, nil
}

// IssueVC builds and signs the credential document
func (a *LocalAdapter) IssueVC(ctx context.Context, payload SubjectPayload) (*Issued, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewRetryableError(err)
	}
	if payload.Subject.BatchID == "" {
		return nil, fmt.Errorf("%w: subject has no batch id", domain.ErrPayloadRejected)
	}

	issuedAt := payload.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = a.now()
	}
	credentialID := "urn:uuid:" + uuid.NewString()

	unsigned := map[string]any{
		"@context":          []string{credentialV1},
		"id":                credentialID,
		"type":              credential.RequiredTypes,
		"issuer":            credential.Issuer{ID: a.cfg.IssuerID, Name: a.cfg.IssuerName},
		"issuanceDate":      issuedAt.UTC().Format(time.RFC3339),
		"credentialSubject": payload.Subject,
	}
	if payload.ExpiresAt != nil {
		unsigned["expirationDate"] = payload.ExpiresAt.UTC().Format(time.RFC3339)
	}

	body, err := credential.DocumentFromValue(unsigned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPayloadRejected, err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, proofClaims{
		VCHash: body.Hash(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   a.cfg.IssuerID,
			Subject:  payload.Subject.BatchID,
			ID:       credentialID,
			IssuedAt: jwt.NewNumericDate(issuedAt),
		},
	})
	jws, err := token.SignedString(a.cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}

	unsigned["proof"] = map[string]any{
		"type":               proofType,
		"created":            issuedAt.UTC().Format(time.RFC3339),
		"proofPurpose":       proofPurpose,
		"verificationMethod": a.cfg.IssuerID + "#key-1",
		"jws":                jws,
	}
	doc, err := credential.DocumentFromValue(unsigned)
	if err != nil {
		return nil, fmt.Errorf("encode signed credential: %w", err)
	}

	retrievalURL := a.cfg.RetrievalBaseURL + "/" + credentialID
	a.mu.Lock()
	a.byURL[retrievalURL] = doc
	a.mu.Unlock()

	a.logger.Info("Credential signed locally",
		slog.String("batch_id", payload.Subject.BatchID),
		slog.String("provider_credential_id", credentialID),
	)

	return &Issued{
		ProviderCredentialID: credentialID,
		RetrievalURL:         retrievalURL,
		Document:             doc,
	}, nil
}

// VerifyVC checks the JWS proof against the document content
func (a *LocalAdapter) VerifyVC(_ context.Context, req VerifyRequest) (*VerifyResponse, error) {
	doc := req.Document
	if doc.IsZero() && req.URL != "" {
		a.mu.RLock()
		doc = a.byURL[req.URL]
		a.mu.RUnlock()
	}
	if doc.IsZero() {
		return nil, fmt.Errorf("%w: nothing to verify", domain.ErrValidation)
	}

	cred, err := doc.Credential()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	resp := &VerifyResponse{Issuer: cred.Issuer.ID}
	claims, err := a.checkProof(doc, cred)
	if err != nil {
		a.logger.Debug("Credential proof rejected", slog.String("error", err.Error()))
		return resp, nil
	}

	resp.SignatureValid = true
	a.mu.RLock()
	resp.Revoked = a.revoked[claims.ID]
	a.mu.RUnlock()
	resp.Valid = !resp.Revoked
	return resp, nil
}

func (a *LocalAdapter) checkProof(doc credential.Document, cred credential.Credential) (*proofClaims, error) {
	jws, _ := cred.Proof["jws"].(string)
	if jws == "" {
		return nil, errNoProof
	}

	claims := &proofClaims{}
	parsed, err := jwt.ParseWithClaims(jws, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.pub, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidSignature
	}

	body, err := doc.Without("proof")
	if err != nil {
		return nil, err
	}
	if claims.VCHash != body.Hash() {
		return nil, fmt.Errorf("%w: proof does not cover this content", domain.ErrInvalidSignature)
	}
	if claims.ID != cred.ID {
		return nil, fmt.Errorf("%w: proof was issued for another credential", domain.ErrInvalidSignature)
	}
	return claims, nil
}

// ParseWebhook authenticates and decodes a notification signed with the shared secret
func (a *LocalAdapter) ParseWebhook(rawBody []byte, signature string) (*WebhookEvent, error) {
	return parseWebhook([]byte(a.cfg.WebhookSecret), rawBody, signature)
}

// Revoke marks a credential revoked on the provider side and returns the
// signed webhook the provider would deliver for it
func (a *LocalAdapter) Revoke(eventID, providerCredentialID string, reason domain.RevocationReason) ([]byte, string, error) {
	a.mu.Lock()
	a.revoked[providerCredentialID] = true
	a.mu.Unlock()

	return EncodeWebhook([]byte(a.cfg.WebhookSecret), WebhookEvent{
		ID:                   eventID,
		Type:                 EventCredentialRevoked,
		ProviderCredentialID: providerCredentialID,
		Reason:               string(reason),
		RevokedBy:            a.cfg.IssuerID,
		OccurredAt:           a.now().UTC(),
	})
}

// PublicKey returns the verification key
func (a *LocalAdapter) PublicKey() ed25519.PublicKey {
	return a.pub
}
