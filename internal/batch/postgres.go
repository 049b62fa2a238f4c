package batch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository reads batches and inspections from the shared database
type PostgresRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgresRepository instance
func NewPostgresRepository(db *sqlx.DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

type batchRow struct {
	ID              string          `db:"id"`
	ProductName     string          `db:"product_name"`
	ProductType     string          `db:"product_type"`
	Variety         sql.NullString  `db:"variety"`
	Quantity        sql.NullFloat64 `db:"quantity"`
	Unit            sql.NullString  `db:"unit"`
	HarvestDate     sql.NullTime    `db:"harvest_date"`
	FarmerID        string          `db:"farmer_id"`
	FarmerName      string          `db:"farmer_name"`
	FarmName        sql.NullString  `db:"farm_name"`
	LocationRegion  sql.NullString  `db:"location_region"`
	LocationCountry sql.NullString  `db:"location_country"`
	Latitude        sql.NullFloat64 `db:"latitude"`
	Longitude       sql.NullFloat64 `db:"longitude"`
	Status          string          `db:"status"`
}

func (r batchRow) toBatch() *Batch {
	b := &Batch{
		ID:          r.ID,
		ProductName: r.ProductName,
		ProductType: r.ProductType,
		Variety:     r.Variety.String,
		Quantity:    floatPtr(r.Quantity),
		Unit:        r.Unit.String,
		FarmerID:    r.FarmerID,
		FarmerName:  r.FarmerName,
		FarmName:    r.FarmName.String,
		Location: Location{
			Region:    r.LocationRegion.String,
			Country:   r.LocationCountry.String,
			Latitude:  floatPtr(r.Latitude),
			Longitude: floatPtr(r.Longitude),
		},
		Status: r.Status,
	}
	if r.HarvestDate.Valid {
		t := r.HarvestDate.Time
		b.HarvestDate = &t
	}
	return b
}

type inspectionRow struct {
	ID          string         `db:"id"`
	BatchID     string         `db:"batch_id"`
	InspectorID string         `db:"inspector_id"`
	Outcome     string         `db:"outcome"`
	Grade       sql.NullString `db:"grade"`
	Notes       sql.NullString `db:"notes"`
	Readings    Readings       `db:"readings"`
	InspectedAt time.Time      `db:"inspected_at"`
}

// GetBatch loads a batch by ID
func (r *PostgresRepository) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	query := `
		SELECT id, product_name, product_type, variety, quantity, unit, harvest_date,
		       farmer_id, farmer_name, farm_name, location_region, location_country,
		       latitude, longitude, status
		FROM batches
		WHERE id = $1
	`

	var row batchRow
	if err := r.db.GetContext(ctx, &row, query, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return row.toBatch(), nil
}

// GetInspection loads an inspection, or the latest one for the batch
func (r *PostgresRepository) GetInspection(ctx context.Context, batchID, inspectionID string) (*Inspection, error) {
	query := `
		SELECT id, batch_id, inspector_id, outcome, grade, notes, readings, inspected_at
		FROM inspections
		WHERE batch_id = $1
	`
	args := []interface{}{batchID}
	if inspectionID != "" {
		query += ` AND id = $2`
		args = append(args, inspectionID)
	}
	query += ` ORDER BY inspected_at DESC LIMIT 1`

	var row inspectionRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if inspectionID == "" {
				return nil, nil
			}
			return nil, fmt.Errorf("inspection %s: %w", inspectionID, ErrInspectionNotFound)
		}
		return nil, fmt.Errorf("failed to get inspection: %w", err)
	}

	return &Inspection{
		ID:          row.ID,
		BatchID:     row.BatchID,
		InspectorID: row.InspectorID,
		Outcome:     row.Outcome,
		Grade:       row.Grade.String,
		Notes:       row.Notes.String,
		Readings:    row.Readings,
		InspectedAt: row.InspectedAt,
	}, nil
}

// MarkCertified moves the batch to the certified state
func (r *PostgresRepository) MarkCertified(ctx context.Context, batchID, certificateID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE batches SET status = $1, updated_at = NOW() WHERE id = $2`,
		StatusCertified, batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch certified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}

	r.logger.Info("Batch marked certified",
		slog.String("batch_id", batchID),
		slog.String("certificate_id", certificateID),
	)
	return nil
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
