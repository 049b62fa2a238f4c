package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EnvelopeType discriminates QR payloads produced by this system
const EnvelopeType = "agri-vc"

var (
	// ErrMalformedEnvelope is returned when a QR payload is not a JSON envelope
	ErrMalformedEnvelope = errors.New("malformed qr envelope")

	// ErrUnknownEnvelope is returned when the envelope type is not recognised
	ErrUnknownEnvelope = errors.New("unrecognised qr envelope type")

	// ErrEmptyEnvelope is returned when the envelope carries neither a reference nor a hash
	ErrEmptyEnvelope = errors.New("qr envelope carries no retrieval reference or hash")
)

// Envelope is the compact payload embedded in a certificate's QR code
type Envelope struct {
	Type          string `json:"t"`
	URL           string `json:"u,omitempty"`
	Hash          string `json:"h,omitempty"`
	CertificateID string `json:"c,omitempty"`
}

// NewEnvelope builds the envelope for an issued certificate
func NewEnvelope(retrievalURL, contentHash, certificateID string) Envelope {
	return Envelope{
		Type:          EnvelopeType,
		URL:           retrievalURL,
		Hash:          contentHash,
		CertificateID: certificateID,
	}
}

// Encode serializes the envelope compactly
func (e Envelope) Encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode qr envelope: %w", err)
	}
	return string(raw), nil
}

// ParseEnvelope decodes and checks a scanned QR payload
func ParseEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type != EnvelopeType {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
	if env.URL == "" && env.Hash == "" {
		return Envelope{}, ErrEmptyEnvelope
	}
	return env, nil
}
