package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// IssuanceJob is a persisted request to issue a credential for a batch
type IssuanceJob struct {
	ID              string     `db:"id" json:"id"`
	BatchID         string     `db:"batch_id" json:"batch_id"`
	InspectionID    *string    `db:"inspection_id" json:"inspection_id,omitempty"`
	CertificateID   *string    `db:"certificate_id" json:"certificate_id,omitempty"`
	Status          JobStatus  `db:"status" json:"status"`
	Attempts        int        `db:"attempts" json:"attempts"`
	MaxAttempts     int        `db:"max_attempts" json:"max_attempts"`
	WorkerID        *string    `db:"worker_id" json:"worker_id,omitempty"`
	LastError       *string    `db:"last_error" json:"last_error,omitempty"`
	Result          *JobResult `db:"result" json:"result,omitempty"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at" json:"last_heartbeat_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Claimable reports whether a worker may take the job
func (j *IssuanceJob) Claimable() bool {
	return j.Status == JobStatusPending && j.Attempts < j.MaxAttempts
}

// JobResult is what a successful issuance leaves on the job
type JobResult struct {
	ProviderCredentialID string `json:"provider_credential_id"`
	RetrievalURL         string `json:"retrieval_url"`
	CertificateID        string `json:"certificate_id"`
}

// Value stores the result as JSONB
func (r JobResult) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan reads the result from a JSONB column
func (r *JobResult) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported job result type %T", src)
	}
}
