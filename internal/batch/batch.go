// Package batch is the read side of the batch and inspection records owned by
// the batch service. The pipeline only reads them and flags a batch certified.
package batch

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/agricert/internal/credential"
	"github.com/cuongbtq/agricert/internal/domain"
)

var (
	// ErrBatchNotFound is a validation failure: retrying will not make the batch appear
	ErrBatchNotFound = fmt.Errorf("%w: batch not found", domain.ErrValidation)

	// ErrInspectionNotFound is returned when a referenced inspection is missing
	ErrInspectionNotFound = fmt.Errorf("%w: inspection not found", domain.ErrValidation)

	// ErrInspectionMismatch is returned when an inspection belongs to another batch
	ErrInspectionMismatch = fmt.Errorf("%w: inspection does not belong to batch", domain.ErrValidation)
)

// Status value written once a certificate exists
const StatusCertified = "certified"

// Repository is the contract of the external batch/inspection collaborator
type Repository interface {
	GetBatch(ctx context.Context, batchID string) (*Batch, error)

	// GetInspection returns the given inspection, or the latest one for the
	// batch when inspectionID is empty. It returns nil, nil when the batch has
	// never been inspected.
	GetInspection(ctx context.Context, batchID, inspectionID string) (*Inspection, error)

	MarkCertified(ctx context.Context, batchID, certificateID string) error
}

// Batch is a harvested product lot
type Batch struct {
	ID          string
	ProductName string
	ProductType string
	Variety     string
	Quantity    *float64
	Unit        string
	HarvestDate *time.Time
	FarmerID    string
	FarmerName  string
	FarmName    string
	Location    Location
	Status      string
}

type Location struct {
	Region    string
	Country   string
	Latitude  *float64
	Longitude *float64
}

func (l Location) empty() bool {
	return l.Region == "" && l.Country == "" && l.Latitude == nil && l.Longitude == nil
}

// Inspection is a quality inspection of a batch
type Inspection struct {
	ID          string
	BatchID     string
	InspectorID string
	Outcome     string
	Grade       string
	Notes       string
	Readings    Readings
	InspectedAt time.Time
}

// Readings are the raw measurements taken during an inspection
type Readings map[string]any

// Value stores readings as JSONB
func (r Readings) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(r))
}

// Scan reads readings from a JSONB column
func (r *Readings) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported readings type %T", src)
	}
	m := map[string]any{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("decode readings: %w", err)
	}
	*r = m
	return nil
}

// BuildSubject assembles the credential subject for a batch and its optional
// inspection. Missing required data is a validation error.
func BuildSubject(b *Batch, insp *Inspection) (credential.Subject, error) {
	if b == nil {
		return credential.Subject{}, ErrBatchNotFound
	}

	var missing []string
	if b.ID == "" {
		missing = append(missing, "id")
	}
	if b.ProductName == "" {
		missing = append(missing, "product name")
	}
	if b.ProductType == "" {
		missing = append(missing, "product type")
	}
	if b.FarmerID == "" {
		missing = append(missing, "farmer id")
	}
	if len(missing) > 0 {
		return credential.Subject{}, fmt.Errorf("%w: batch %s is missing %s",
			domain.ErrValidation, b.ID, strings.Join(missing, ", "))
	}

	subject := credential.Subject{
		BatchID: b.ID,
		Product: credential.Product{
			Name:     b.ProductName,
			Type:     b.ProductType,
			Variety:  b.Variety,
			Quantity: b.Quantity,
			Unit:     b.Unit,
		},
		Farmer: credential.Farmer{
			ID:       b.FarmerID,
			Name:     b.FarmerName,
			FarmName: b.FarmName,
		},
	}
	if b.HarvestDate != nil {
		subject.Product.HarvestDate = b.HarvestDate.Format(time.DateOnly)
	}
	if !b.Location.empty() {
		subject.Location = &credential.Location{
			Region:    b.Location.Region,
			Country:   b.Location.Country,
			Latitude:  b.Location.Latitude,
			Longitude: b.Location.Longitude,
		}
	}

	if insp != nil {
		if insp.BatchID != b.ID {
			return credential.Subject{}, fmt.Errorf("inspection %s: %w", insp.ID, ErrInspectionMismatch)
		}
		subject.Inspection = &credential.InspectionSummary{
			ID:          insp.ID,
			InspectorID: insp.InspectorID,
			Outcome:     insp.Outcome,
			Grade:       insp.Grade,
			Notes:       insp.Notes,
			Readings:    insp.Readings,
			InspectedAt: insp.InspectedAt.UTC().Format(time.RFC3339),
		}
	}

	return subject, nil
}

// IsNotFound reports whether err means a batch or inspection is missing
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrInspectionNotFound)
}
