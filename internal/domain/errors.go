package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrCertificateNotFound is returned when no certificate matches a lookup
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrCertificateExists is returned when a batch already holds a certificate
	ErrCertificateExists = errors.New("certificate already exists for batch")

	// ErrValidation marks input that will never succeed no matter how often it is retried
	ErrValidation = errors.New("validation failed")

	// ErrPayloadRejected is returned by the issuer when it refuses a credential payload
	ErrPayloadRejected = errors.New("credential payload rejected by issuer")

	// ErrInvalidSignature is returned when a webhook or credential signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidRevocationReason is returned for reasons outside the fixed enumeration
	ErrInvalidRevocationReason = errors.New("invalid revocation reason")

	// ErrRevocationTargetRequired is returned when a revocation references no certificate identifier
	ErrRevocationTargetRequired = errors.New("revocation requires a certificate id, content hash or provider credential id")
)

// RetryableError wraps transient errors that should put the job back in the queue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// IsPermanent reports whether err must fail a job without further attempts.
// Retryable wrapping wins over the permanent sentinels.
func IsPermanent(err error) bool {
	if err == nil || IsRetryable(err) {
		return false
	}
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrPayloadRejected)
}
