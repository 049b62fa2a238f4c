package issuer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPayload() SubjectPayload {
	qty := 500.0
	return SubjectPayload{
		CertificateID: "C1",
		Subject: credential.Subject{
			BatchID: "B1",
			Product: credential.Product{Name: "Arabica coffee", Type: "coffee", Quantity: &qty, Unit: "kg"},
			Farmer:  credential.Farmer{ID: "F1", Name: "Tran Thi B"},
			Inspection: &credential.InspectionSummary{
				ID:       "I1",
				Outcome:  "pass",
				Readings: map[string]any{"moisture": 11.8},
			},
		},
		IssuedBy: "U1",
		IssuedAt: time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"id":"evt-1","type":"credential.issued"}`)
	valid := Sign(secret, body)

	tests := []struct {
		name      string
		secret    []byte
		signature string
		wantErr   bool
	}{
		{name: "prefixed signature", secret: secret, signature: valid},
		{name: "bare hex signature", secret: secret, signature: valid[len(SignaturePrefix):]},
		{name: "missing signature", secret: secret, signature: "", wantErr: true},
		{name: "not hex", secret: secret, signature: "sha256=zz", wantErr: true},
		{name: "wrong secret", secret: []byte("other"), signature: valid, wantErr: true},
		{name: "no secret configured", secret: nil, signature: valid, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.secret, body, tt.signature)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidSignature)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEncodeWebhook_RoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	occurred := time.Date(2026, 7, 2, 10, 0, 0, 0, time.UTC)
	raw, sig, err := EncodeWebhook(secret, WebhookEvent{
		ID:                   "evt-9",
		Type:                 EventCredentialRevoked,
		ProviderCredentialID: "vc-9",
		Reason:               "fraud",
		RevokedBy:            "did:example:issuer",
		OccurredAt:           occurred,
	})
	require.NoError(t, err)

	event, err := parseWebhook(secret, raw, sig)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", event.ID)
	assert.Equal(t, "vc-9", event.ProviderCredentialID)
	assert.Equal(t, "fraud", event.Reason)
	assert.True(t, occurred.Equal(event.OccurredAt))

	_, err = parseWebhook(secret, append(raw, ' '), sig)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature, "any byte change breaks the signature")

	garbage := []byte(`not json`)
	_, err = parseWebhook(secret, garbage, Sign(secret, garbage))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLocalAdapter_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	adapter, err := NewLocalAdapter(LocalConfig{
		IssuerID:         "did:example:agri",
		IssuerName:       "Agri Cert Authority",
		RetrievalBaseURL: "https://certs.example/credentials/",
		WebhookSecret:    "s3cret",
	}, testLogger())
	require.NoError(t, err)

	issued, err := adapter.IssueVC(ctx, testPayload())
	require.NoError(t, err)
	assert.Contains(t, issued.RetrievalURL, "https://certs.example/credentials/urn:uuid:")

	cred, err := issued.Document.Credential()
	require.NoError(t, err)
	assert.Empty(t, cred.StructuralProblems())
	assert.Equal(t, issued.ProviderCredentialID, cred.ID)
	assert.Equal(t, "B1", cred.BatchID())

	t.Run("untouched document verifies", func(t *testing.T) {
		resp, err := adapter.VerifyVC(ctx, VerifyRequest{Document: issued.Document})
		require.NoError(t, err)
		assert.True(t, resp.SignatureValid)
		assert.True(t, resp.Valid)
		assert.Equal(t, "did:example:agri", resp.Issuer)
	})

	t.Run("verify by retrieval url", func(t *testing.T) {
		resp, err := adapter.VerifyVC(ctx, VerifyRequest{URL: issued.RetrievalURL})
		require.NoError(t, err)
		assert.True(t, resp.SignatureValid)
	})

	t.Run("tampered document fails signature", func(t *testing.T) {
		fields, err := issued.Document.Fields()
		require.NoError(t, err)
		subject := fields["credentialSubject"].(map[string]any)
		subject["batchId"] = "B2"
		tampered, err := credential.DocumentFromValue(fields)
		require.NoError(t, err)

		resp, err := adapter.VerifyVC(ctx, VerifyRequest{Document: tampered})
		require.NoError(t, err)
		assert.False(t, resp.SignatureValid)
		assert.False(t, resp.Valid)
	})

	t.Run("foreign key fails signature", func(t *testing.T) {
		other, err := NewLocalAdapter(LocalConfig{IssuerID: "did:example:agri"}, testLogger())
		require.NoError(t, err)
		resp, err := other.VerifyVC(ctx, VerifyRequest{Document: issued.Document})
		require.NoError(t, err)
		assert.False(t, resp.SignatureValid)
	})

	t.Run("provider revocation", func(t *testing.T) {
		raw, sig, err := adapter.Revoke("evt-1", issued.ProviderCredentialID, domain.RevocationReasonCompromisedKey)
		require.NoError(t, err)

		event, err := adapter.ParseWebhook(raw, sig)
		require.NoError(t, err)
		assert.Equal(t, EventCredentialRevoked, event.Type)
		assert.Equal(t, issued.ProviderCredentialID, event.ProviderCredentialID)

		resp, err := adapter.VerifyVC(ctx, VerifyRequest{Document: issued.Document})
		require.NoError(t, err)
		assert.True(t, resp.SignatureValid)
		assert.True(t, resp.Revoked)
		assert.False(t, resp.Valid)
	})
}

func TestLocalAdapter_RejectsSubjectWithoutBatch(t *testing.T) {
	adapter, err := NewLocalAdapter(LocalConfig{IssuerID: "did:example:agri"}, testLogger())
	require.NoError(t, err)

	payload := testPayload()
	payload.Subject.BatchID = ""
	_, err = adapter.IssueVC(context.Background(), payload)
	assert.ErrorIs(t, err, domain.ErrPayloadRejected)
	assert.True(t, domain.IsPermanent(err))
}

func TestHTTPAdapter_IssueVC(t *testing.T) {
	signed := `{"type":["VerifiableCredential","AgriculturalQualityCredential"],"id":"vc-1","credentialSubject":{"batchId":"B1"},"proof":{"jws":"x"}}`

	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantPermanent bool
	}{
		{
			name:   "accepted",
			status: http.StatusCreated,
			body:   `{"credential_id":"vc-1","retrieval_url":"https://provider/vc-1","credential":` + signed + `}`,
		},
		{name: "provider outage", status: http.StatusServiceUnavailable, body: `{"error":"down"}`, wantRetryable: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantRetryable: true},
		{name: "payload rejected", status: http.StatusUnprocessableEntity, body: `{"error":"bad subject"}`, wantPermanent: true},
		{name: "garbled response", status: http.StatusOK, body: `{"credential_id":`, wantRetryable: true},
		{name: "credential is not an object", status: http.StatusOK, body: `{"credential_id":"vc-1","credential":"nope"}`, wantRetryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey string
			var gotBody issueRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, issuePath, r.URL.Path)
				gotKey = r.Header.Get(apiKeyHeader)
				_ = json.NewDecoder(r.Body).Decode(&gotBody)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			adapter := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "key-1"}, srv.Client(), testLogger())
			issued, err := adapter.IssueVC(context.Background(), testPayload())

			assert.Equal(t, "key-1", gotKey)
			assert.Equal(t, "B1", gotBody.CredentialSubject.BatchID)
			assert.Equal(t, "C1", gotBody.CertificateID)

			switch {
			case tt.wantRetryable:
				require.Error(t, err)
				assert.True(t, domain.IsRetryable(err))
				assert.False(t, domain.IsPermanent(err))
			case tt.wantPermanent:
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPayloadRejected)
				assert.True(t, domain.IsPermanent(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, "vc-1", issued.ProviderCredentialID)
				assert.Equal(t, "https://provider/vc-1", issued.RetrievalURL)
				assert.False(t, issued.Document.IsZero())
			}
		})
	}
}

func TestHTTPAdapter_UnreachableProviderIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	adapter := NewHTTPAdapter(HTTPConfig{BaseURL: url, Timeout: time.Second}, nil, testLogger())
	_, err := adapter.IssueVC(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))
}

func TestHTTPAdapter_VerifyVC(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, verifyPath, r.URL.Path)
		var req verifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://provider/vc-1", req.URL)
		_, _ = w.Write([]byte(`{"valid":false,"signature_valid":true,"revoked":true,"issuer":"did:example:provider"}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(HTTPConfig{BaseURL: srv.URL}, srv.Client(), testLogger())

	resp, err := adapter.VerifyVC(context.Background(), VerifyRequest{URL: "https://provider/vc-1"})
	require.NoError(t, err)
	assert.True(t, resp.SignatureValid)
	assert.True(t, resp.Revoked)
	assert.Equal(t, "did:example:provider", resp.Issuer)

	_, err = adapter.VerifyVC(context.Background(), VerifyRequest{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
