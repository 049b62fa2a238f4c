package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/agricert/internal/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Options configures the non-API endpoints
type Options struct {
	ServiceName string
	// Gatherer backs /metrics; nil uses the default registry
	Gatherer     prometheus.Gatherer
	HealthChecks map[string]HealthCheck
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(opts))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	jobHandler := handler.NewJobHandler(deps)
	certificateHandler := handler.NewCertificateHandler(deps)
	verificationHandler := handler.NewVerificationHandler(deps)
	webhookHandler := handler.NewProviderWebhookHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/issuance-jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		certificates := v1.Group("/certificates")
		{
			certificates.GET("/:certificate_id", certificateHandler.GetCertificate)
			certificates.POST("/:certificate_id/revocations", certificateHandler.RevokeCertificate)
		}

		// Public retrieval target of issued credentials
		v1.GET("/credentials/:credential_id", certificateHandler.GetCredential)

		v1.POST("/verify", verificationHandler.Verify)
		v1.POST("/webhooks/issuer", webhookHandler.Receive)
	}

	return r
}

func healthHandler(opts Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true
		for name, check := range opts.HealthChecks {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
				continue
			}
			checks[name] = "ok"
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": opts.ServiceName,
			"checks":  checks,
		})
	}
}
