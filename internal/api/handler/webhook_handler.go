package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the provider's HMAC over the raw body
const SignatureHeader = "X-Issuer-Signature"

const maxWebhookBody = 1 << 20

// Receive handles POST /api/v1/webhooks/issuer
func (h *ProviderWebhookHandler) Receive(c *gin.Context) {
	// The signature covers the exact bytes, so the body is read raw
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read request body",
		})
		return
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case storage.IsNotFound(err):
			c.JSON(http.StatusNotFound, gin.H{"error": "certificate not found"})
		default:
			h.logger.Error("Failed to apply webhook", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to apply webhook"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome,
	})
}
