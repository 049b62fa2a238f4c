package dto

import (
	"time"

	"github.com/cuongbtq/agricert/internal/domain"
)

type CreateJobRequest struct {
	BatchID      string  `json:"batch_id" binding:"required"`
	InspectionID *string `json:"inspection_id"`
}

type ListJobsRequest struct {
	BatchID  string `form:"batch_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string            `json:"job_id"`
	BatchID       string            `json:"batch_id"`
	InspectionID  *string           `json:"inspection_id,omitempty"`
	CertificateID *string           `json:"certificate_id,omitempty"`
	Status        string            `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	LastError     *string           `json:"last_error,omitempty"`
	Result        *domain.JobResult `json:"result,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
}

// NewJobDTO maps a stored job to its response shape
func NewJobDTO(job *domain.IssuanceJob) JobDTO {
	return JobDTO{
		JobID:         job.ID,
		BatchID:       job.BatchID,
		InspectionID:  job.InspectionID,
		CertificateID: job.CertificateID,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
		LastError:     job.LastError,
		Result:        job.Result,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
}
