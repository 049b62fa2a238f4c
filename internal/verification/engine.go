package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/cuongbtq/agricert/internal/verification"

// Dependencies are the collaborators the engine reads from
type Dependencies struct {
	Certificates storage.CertificateStore
	Revocations  storage.RevocationLedger
	Issuer       issuer.Adapter
	Fetcher      Fetcher
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

// Engine verifies credentials. It never mutates state.
type Engine struct {
	certs   storage.CertificateStore
	ledger  storage.RevocationLedger
	issuer  issuer.Adapter
	fetcher Fetcher
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates a new Engine instance
func NewEngine(deps Dependencies) *Engine {
	if deps.Fetcher == nil {
		deps.Fetcher = NewHTTPFetcher(nil)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		certs:   deps.Certificates,
		ledger:  deps.Revocations,
		issuer:  deps.Issuer,
		fetcher: deps.Fetcher,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
		logger:  deps.Logger,
		now:     time.Now,
	}
}

// presented is an input normalized to a document
type presented struct {
	doc credential.Document
	// embeddedHash is the hash a QR envelope claims for the document
	embeddedHash  string
	certificateID string
}

// Verify runs every check and reports all failures. Problems with the input
// itself come back as an invalid Result, never as an error.
func (e *Engine) Verify(ctx context.Context, in Input) Result {
	ctx, span := e.tracer.Start(ctx, "verification.verify",
		trace.WithAttributes(attribute.String("verification.form", string(in.Form()))))
	defer span.End()

	started := e.now()
	res := Result{CheckedAt: started.UTC(), Errors: []string{}}
	defer func() {
		e.metrics.IncVerification(string(in.Form()), res.Valid)
		e.metrics.ObserveVerifyDuration(e.now().Sub(started))
		span.SetAttributes(attribute.Bool("verification.valid", res.Valid))
	}()

	p, err := e.normalize(ctx, in)
	if err != nil {
		res.addError("%s", err.Error())
		return res
	}

	res.ContentHash = p.doc.Hash()
	cred := e.checkStructure(p.doc, &res)
	providerRevoked := e.checkSignature(ctx, p.doc, cred, &res)

	qrIntact := true
	if p.embeddedHash != "" && p.embeddedHash != res.ContentHash {
		qrIntact = false
		res.addError("qr hash %s does not match credential content hash %s", p.embeddedHash, res.ContentHash)
	}

	cert := e.findCertificate(ctx, res.ContentHash, cred, p.certificateID, &res)
	switch {
	case cert == nil:
		res.addError("no issued certificate matches this credential")
	case cert.ContentHash != res.ContentHash:
		res.addError("credential content does not match the issued certificate (tampered)")
	default:
		res.HashMatches = qrIntact
	}

	if cert != nil {
		res.CertificateID = cert.ID
		res.ProviderCredentialID = domain.Deref(cert.ProviderCredentialID)
	} else if cred != nil {
		res.ProviderCredentialID = cred.ID
	}

	e.checkExpiry(cert, cred, &res)
	e.checkRevocation(ctx, cert, providerRevoked, &res)

	res.Valid = res.StructureValid && res.SignatureValid && !res.Revoked && res.HashMatches
	return res
}

func (e *Engine) normalize(ctx context.Context, in Input) (*presented, error) {
	switch in.form {
	case FormDocument:
		doc, err := credential.ParseDocument(in.document)
		if err != nil {
			return nil, fmt.Errorf("malformed credential document: %v", err)
		}
		return &presented{doc: doc}, nil

	case FormURL:
		if in.url == "" {
			return nil, errors.New("retrieval url is empty")
		}
		doc, err := e.fetchDocument(ctx, in.url)
		if err != nil {
			return nil, err
		}
		return &presented{doc: doc}, nil

	case FormQR:
		env, err := credential.ParseEnvelope(in.qr)
		if err != nil {
			return nil, err
		}
		p := &presented{embeddedHash: env.Hash, certificateID: env.CertificateID}
		if env.URL != "" {
			doc, err := e.fetchDocument(ctx, env.URL)
			if err == nil {
				p.doc = doc
				return p, nil
			}
			if env.Hash == "" {
				return nil, err
			}
			e.logger.Warn("QR retrieval failed, falling back to stored document",
				slog.String("url", env.URL),
				slog.String("error", err.Error()),
			)
		}
		cert, err := e.certs.FindByHash(ctx, env.Hash)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, errors.New("no issued certificate matches the qr hash")
			}
			return nil, fmt.Errorf("certificate lookup failed: %v", err)
		}
		p.doc = cert.CredentialDocument
		return p, nil
	}

	return nil, errors.New("no credential presented")
}

func (e *Engine) fetchDocument(ctx context.Context, url string) (credential.Document, error) {
	raw, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return credential.Document{}, err
	}
	doc, err := credential.ParseDocument(raw)
	if err != nil {
		return credential.Document{}, fmt.Errorf("malformed credential document at %s: %v", url, err)
	}
	return doc, nil
}

// checkStructure returns the decoded credential, or nil when it does not decode
func (e *Engine) checkStructure(doc credential.Document, res *Result) *credential.Credential {
	cred, err := doc.Credential()
	if err != nil {
		res.addError("credential does not decode: %v", err)
		return nil
	}
	problems := cred.StructuralProblems()
	res.Errors = append(res.Errors, problems...)
	res.StructureValid = len(problems) == 0
	res.Issuer = cred.Issuer.ID
	return &cred
}

// checkSignature asks the provider and reports whether it considers the credential revoked
func (e *Engine) checkSignature(ctx context.Context, doc credential.Document, cred *credential.Credential, res *Result) bool {
	resp, err := e.issuer.VerifyVC(ctx, issuer.VerifyRequest{Document: doc})
	if err != nil {
		res.addError("signature check failed: %v", err)
		return false
	}
	res.SignatureValid = resp.SignatureValid
	if !resp.SignatureValid {
		res.addError("credential signature is invalid")
	}
	if resp.Issuer != "" {
		res.Issuer = resp.Issuer
	} else if cred != nil && res.Issuer == "" {
		res.Issuer = cred.Issuer.ID
	}
	return resp.Revoked
}

type certLookup struct {
	key  string
	find func(context.Context, string) (*domain.Certificate, error)
}

// findCertificate looks up by content hash first, then by the identifiers the
// document or envelope carries. A certificate found by identifier may hold a
// different hash, which is how tampering is detected.
func (e *Engine) findCertificate(ctx context.Context, hash string, cred *credential.Credential, certificateID string, res *Result) *domain.Certificate {
	lookups := []certLookup{
		{key: hash, find: e.certs.FindByHash},
		{key: certificateID, find: e.certs.Get},
	}
	if cred != nil {
		lookups = append(lookups,
			certLookup{key: cred.ID, find: e.certs.FindByProviderID},
			certLookup{key: cred.BatchID(), find: e.certs.GetByBatch},
		)
	}

	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		cert, err := l.find(ctx, l.key)
		if err == nil {
			return cert
		}
		if !storage.IsNotFound(err) {
			res.addError("certificate lookup failed: %v", err)
			return nil
		}
	}
	return nil
}

func (e *Engine) checkExpiry(cert *domain.Certificate, cred *credential.Credential, res *Result) {
	now := e.now()
	switch {
	case cert != nil && (cert.Status == domain.CertificateStatusExpired || cert.ExpiredAt(now)):
		res.Expired = true
	case cred != nil && cred.ExpirationDate != "":
		if exp, err := time.Parse(time.RFC3339, cred.ExpirationDate); err == nil && !now.Before(exp) {
			res.Expired = true
		}
	}
	if res.Expired {
		res.addError("credential has expired")
	}
}

// checkRevocation treats the credential as revoked when any ledger record
// matches any identifier, the certificate is flagged, or the provider says so.
func (e *Engine) checkRevocation(ctx context.Context, cert *domain.Certificate, providerRevoked bool, res *Result) {
	lookup := domain.RevocationLookup{
		CertificateID:        res.CertificateID,
		ContentHash:          res.ContentHash,
		ProviderCredentialID: res.ProviderCredentialID,
	}
	if cert != nil {
		// The stored hash also identifies the certificate when the content was altered
		lookup = cert.Lookup()
	}

	revocations, err := e.ledger.FindMatching(ctx, lookup)
	if err != nil {
		res.addError("revocation check failed: %v", err)
	}
	if len(revocations) == 0 && cert != nil && cert.ContentHash != res.ContentHash {
		more, err := e.ledger.FindMatching(ctx, domain.RevocationLookup{ContentHash: res.ContentHash})
		if err == nil {
			revocations = more
		}
	}

	switch {
	case len(revocations) > 0:
		res.Revoked = true
		reason := revocations[0].Reason
		res.RevocationReason = &reason
	case cert != nil && cert.Revoked:
		res.Revoked = true
		res.RevocationReason = cert.RevocationReason
	case providerRevoked:
		res.Revoked = true
	}

	if res.Revoked {
		if res.RevocationReason != nil {
			res.addError("credential has been revoked (%s)", *res.RevocationReason)
		} else {
			res.addError("credential has been revoked by the issuer")
		}
	}
}
