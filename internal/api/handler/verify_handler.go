package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/agricert/internal/api/dto"
	"github.com/cuongbtq/agricert/internal/verification"
	"github.com/gin-gonic/gin"
)

// Verify handles POST /api/v1/verify
// Integrity failures are reported in the result with 200; only a request
// that does not name exactly one form is a 400
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	input, ok := inputFrom(req)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "exactly one of credential, url or qr is required",
		})
		return
	}

	result := h.verifier.Verify(c.Request.Context(), input)
	h.logger.Info("Credential verified",
		slog.String("form", string(input.Form())),
		slog.Bool("valid", result.Valid),
		slog.String("certificate_id", result.CertificateID),
	)

	c.JSON(http.StatusOK, result)
}

func inputFrom(req dto.VerifyRequest) (verification.Input, bool) {
	var inputs []verification.Input

	if raw := bytes.TrimSpace(req.Credential); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		inputs = append(inputs, verification.FromDocument(raw))
	}
	if url := strings.TrimSpace(req.URL); url != "" {
		inputs = append(inputs, verification.FromURL(url))
	}
	if qr := strings.TrimSpace(req.QR); qr != "" {
		inputs = append(inputs, verification.FromQR(qr))
	}

	if len(inputs) != 1 {
		return verification.Input{}, false
	}
	return inputs[0], true
}
