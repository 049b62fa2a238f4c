package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/agricert/internal/api/dto"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/revocation"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/gin-gonic/gin"
)

// GetCertificate handles GET /api/v1/certificates/:certificate_id
func (h *CertificateHandler) GetCertificate(c *gin.Context) {
	certificateID := c.Param("certificate_id")

	cert, err := h.certs.Get(c.Request.Context(), certificateID)
	if err != nil {
		h.respondLookupError(c, certificateID, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewCertificateDTO(cert))
}

// GetCredential handles GET /api/v1/credentials/:credential_id
// Serves the signed document so retrieval URLs and QR codes can be dereferenced
func (h *CertificateHandler) GetCredential(c *gin.Context) {
	credentialID := c.Param("credential_id")

	cert, err := h.certs.FindByProviderID(c.Request.Context(), credentialID)
	if err != nil {
		h.respondLookupError(c, credentialID, err)
		return
	}

	c.Data(http.StatusOK, "application/json", cert.CredentialDocument.Bytes())
}

// RevokeCertificate handles POST /api/v1/certificates/:certificate_id/revocations
func (h *CertificateHandler) RevokeCertificate(c *gin.Context) {
	certificateID := c.Param("certificate_id")

	var req dto.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "reason and revoked_by are required",
		})
		return
	}

	rev, err := h.revocations.Revoke(c.Request.Context(), revocation.Request{
		CertificateID: certificateID,
		Reason:        req.Reason,
		RevokedBy:     req.RevokedBy,
	})
	if err != nil {
		switch {
		case storage.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
		case errors.Is(err, domain.ErrInvalidRevocationReason),
			errors.Is(err, domain.ErrRevocationTargetRequired),
			errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to revoke certificate",
				slog.String("certificate_id", certificateID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke certificate"})
		}
		return
	}

	c.JSON(http.StatusCreated, rev)
}

func (h *CertificateHandler) respondLookupError(c *gin.Context, id string, err error) {
	if storage.IsNotFound(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
		return
	}
	h.logger.Error("Failed to get certificate", slog.String("id", id), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get certificate"})
}
