package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/agricert/internal/api/dto"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/issuance-jobs
// An unresolved job for the same batch is returned instead of enqueueing another
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "batch_id is required",
		})
		return
	}
	req.BatchID = strings.TrimSpace(req.BatchID)
	if req.BatchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "batch_id is required",
		})
		return
	}
	if req.InspectionID != nil && strings.TrimSpace(*req.InspectionID) == "" {
		req.InspectionID = nil
	}

	ctx := c.Request.Context()

	for _, status := range []domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing} {
		existing, err := h.jobs.List(ctx, storage.JobFilter{BatchID: req.BatchID, Status: status, PageSize: 1})
		if err != nil {
			h.logger.Error("Failed to look up unresolved jobs", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create job",
			})
			return
		}
		if len(existing) > 0 {
			h.logger.Info("Issuance already in progress",
				slog.String("batch_id", req.BatchID),
				slog.String("job_id", existing[0].ID),
			)
			c.JSON(http.StatusOK, dto.NewJobDTO(&existing[0]))
			return
		}
	}

	job, err := h.jobs.Enqueue(ctx, req.BatchID, req.InspectionID)
	if err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	// The store is the queue; a lost wake-up only delays pickup until the next poll
	if h.wakeups != nil {
		if err := h.wakeups.JobEnqueued(ctx, notify.JobEnqueuedMessage{JobID: job.ID, BatchID: job.BatchID}); err != nil {
			h.logger.Warn("Failed to publish wake-up",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// GetJob handles GET /api/v1/issuance-jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		if storage.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/issuance-jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := domain.JobStatus(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of pending, processing, success, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), storage.JobFilter{
		BatchID:  req.BatchID,
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// The store returns one extra row when another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
