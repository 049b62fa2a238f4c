package storage

import (
	"errors"

	"github.com/cuongbtq/agricert/internal/domain"
)

// IsNotFound reports whether err means the requested record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrJobNotFound) || errors.Is(err, domain.ErrCertificateNotFound)
}
