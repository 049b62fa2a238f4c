package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultResponseBodyLimit  = 4 << 20
	issuePath                 = "/credentials"
	verifyPath                = "/credentials/verify"
	apiKeyHeader              = "X-API-Key"
	contentTypeJSON           = "application/json"
	errorBodySnippetMaxLength = 256
)

// HTTPDoer is satisfied by *http.Client
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures the REST provider adapter
type HTTPConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// HTTPAdapter talks to a hosted credential provider over REST
type HTTPAdapter struct {
	client  HTTPDoer
	cfg     HTTPConfig
	logger  *slog.Logger
	maxBody int64
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an adapter; a nil client gets a default with cfg.Timeout
func NewHTTPAdapter(cfg HTTPConfig, client HTTPDoer, logger *slog.Logger) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPAdapter{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		maxBody: defaultResponseBodyLimit,
	}
}

type issueRequest struct {
	CertificateID     string             `json:"certificate_id"`
	Types             []string           `json:"types"`
	CredentialSubject credential.Subject `json:"credential_subject"`
	IssuedBy          string             `json:"issued_by,omitempty"`
	IssuanceDate      time.Time          `json:"issuance_date"`
	ExpirationDate    *time.Time         `json:"expiration_date,omitempty"`
}

type issueResponse struct {
	CredentialID string          `json:"credential_id"`
	RetrievalURL string          `json:"retrieval_url"`
	Credential   json.RawMessage `json:"credential"`
}

// IssueVC asks the provider to sign and host a credential
func (a *HTTPAdapter) IssueVC(ctx context.Context, payload SubjectPayload) (*Issued, error) {
	req := issueRequest{
		CertificateID:     payload.CertificateID,
		Types:             credential.RequiredTypes,
		CredentialSubject: payload.Subject,
		IssuedBy:          payload.IssuedBy,
		IssuanceDate:      payload.IssuedAt,
		ExpirationDate:    payload.ExpiresAt,
	}

	var resp issueResponse
	if err := a.post(ctx, issuePath, req, &resp); err != nil {
		return nil, fmt.Errorf("issue credential for batch %s: %w", payload.Subject.BatchID, err)
	}

	doc, err := credential.ParseDocument(resp.Credential)
	if err != nil {
		// A provider that returns an unreadable document may recover on retry
		return nil, domain.NewRetryableError(fmt.Errorf("provider returned invalid credential: %w", err))
	}
	if resp.CredentialID == "" {
		return nil, domain.NewRetryableError(errors.New("provider returned no credential id"))
	}

	a.logger.Info("Credential issued by provider",
		slog.String("batch_id", payload.Subject.BatchID),
		slog.String("provider_credential_id", resp.CredentialID),
	)

	return &Issued{
		ProviderCredentialID: resp.CredentialID,
		RetrievalURL:         resp.RetrievalURL,
		Document:             doc,
	}, nil
}

type verifyRequest struct {
	Credential json.RawMessage `json:"credential,omitempty"`
	URL        string          `json:"url,omitempty"`
}

type verifyResponse struct {
	Valid          bool   `json:"valid"`
	SignatureValid bool   `json:"signature_valid"`
	Revoked        bool   `json:"revoked"`
	Issuer         string `json:"issuer"`
}

// VerifyVC asks the provider to check a credential's signature and status
func (a *HTTPAdapter) VerifyVC(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	body := verifyRequest{URL: req.URL}
	if !req.Document.IsZero() {
		body.Credential = req.Document.Bytes()
	}
	if body.Credential == nil && body.URL == "" {
		return nil, fmt.Errorf("%w: verify request needs a document or url", domain.ErrValidation)
	}

	var resp verifyResponse
	if err := a.post(ctx, verifyPath, body, &resp); err != nil {
		return nil, fmt.Errorf("verify credential: %w", err)
	}

	return &VerifyResponse{
		Valid:          resp.Valid,
		SignatureValid: resp.SignatureValid,
		Revoked:        resp.Revoked,
		Issuer:         resp.Issuer,
	}, nil
}

// ParseWebhook authenticates and decodes a provider notification
func (a *HTTPAdapter) ParseWebhook(rawBody []byte, signature string) (*WebhookEvent, error) {
	return parseWebhook([]byte(a.cfg.WebhookSecret), rawBody, signature)
}

// post sends a JSON request and classifies failures: transport errors and
// 408/429/5xx are retryable, any other non-2xx is a payload rejection.
func (a *HTTPAdapter) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%w: encode request: %v", domain.ErrValidation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON)
	if a.cfg.APIKey != "" {
		httpReq.Header.Set(apiKeyHeader, a.cfg.APIKey)
	}

	start := time.Now()
	httpRes, err := a.client.Do(httpReq)
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("call provider %s: %w", path, err))
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, a.maxBody+1))
	if err != nil {
		return domain.NewRetryableError(fmt.Errorf("read provider response: %w", err))
	}
	if int64(len(body)) > a.maxBody {
		return fmt.Errorf("%w: provider response exceeds %d bytes", domain.ErrPayloadRejected, a.maxBody)
	}

	a.logger.Debug("Provider call completed",
		slog.String("path", path),
		slog.Int("status_code", httpRes.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	switch code := httpRes.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return domain.NewRetryableError(fmt.Errorf("provider returned %d: %s", code, snippet(body)))
	default:
		return fmt.Errorf("%w: provider returned %d: %s", domain.ErrPayloadRejected, code, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return domain.NewRetryableError(fmt.Errorf("decode provider response: %w", err))
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorBodySnippetMaxLength {
		return s[:errorBodySnippetMaxLength] + "..."
	}
	return s
}
