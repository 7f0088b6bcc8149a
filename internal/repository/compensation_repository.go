package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const structureColumns = `id, employee_id, version, effective_from, effective_to, pay_type, basic, gross, ctc,
       daily_rate, hourly_rate, overtime_multiplier, pf_enabled, esic_enabled, pt_enabled, mlwf_enabled,
       tds_enabled, pf_ceiling_policy, created_by, created_at`

const componentColumns = `id, structure_id, code, name, kind, calculation, basis, value, max_amount, sort_order`

// CompensationRepository persists versioned compensation structures.
type CompensationRepository struct {
	baseRepository
}

// NewCompensationRepository constructs the repository.
func NewCompensationRepository(db *sqlx.DB) *CompensationRepository {
	return &CompensationRepository{baseRepository{db: db}}
}

// LockEmployee serialises version creation for one employee until the
// surrounding transaction ends.
func (r *CompensationRepository) LockEmployee(ctx context.Context, employeeID string) error {
	if _, err := r.q(ctx).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "compensation:"+employeeID); err != nil {
		return fmt.Errorf("lock compensation for %s: %w", employeeID, err)
	}
	return nil
}

// ListByEmployee returns every version ordered oldest first.
func (r *CompensationRepository) ListByEmployee(ctx context.Context, employeeID string) ([]models.CompensationStructure, error) {
	query := `SELECT ` + structureColumns + ` FROM compensation_structures WHERE employee_id = $1 ORDER BY version`
	var structures []models.CompensationStructure
	if err := r.q(ctx).SelectContext(ctx, &structures, query, employeeID); err != nil {
		return nil, fmt.Errorf("list compensation structures: %w", err)
	}
	return structures, nil
}

// FindCovering returns the versions whose interval contains date.
func (r *CompensationRepository) FindCovering(ctx context.Context, employeeID string, date time.Time) ([]models.CompensationStructure, error) {
	query := `SELECT ` + structureColumns + ` FROM compensation_structures
	WHERE employee_id = $1 AND effective_from <= $2 AND (effective_to IS NULL OR effective_to >= $2)
	ORDER BY version`
	var structures []models.CompensationStructure
	if err := r.q(ctx).SelectContext(ctx, &structures, query, employeeID, date); err != nil {
		return nil, fmt.Errorf("find effective compensation: %w", err)
	}
	return structures, nil
}

// VersionState reports the current highest version and its start date.
type VersionState struct {
	MaxVersion   int        `db:"max_version"`
	LatestFrom   *time.Time `db:"latest_from"`
	OpenVersions int        `db:"open_versions"`
}

// GetVersionState summarises the employee's version history.
func (r *CompensationRepository) GetVersionState(ctx context.Context, employeeID string) (*VersionState, error) {
	const query = `SELECT COALESCE(MAX(version), 0) AS max_version, MAX(effective_from) AS latest_from,
       COUNT(*) FILTER (WHERE effective_to IS NULL) AS open_versions
	FROM compensation_structures WHERE employee_id = $1`
	var state VersionState
	if err := r.q(ctx).GetContext(ctx, &state, query, employeeID); err != nil {
		return nil, fmt.Errorf("load compensation version state: %w", err)
	}
	return &state, nil
}

// CloseOpen sets the end date of the employee's open version.
func (r *CompensationRepository) CloseOpen(ctx context.Context, employeeID string, effectiveTo time.Time) (int64, error) {
	const query = `UPDATE compensation_structures SET effective_to = $2
	WHERE employee_id = $1 AND effective_to IS NULL`
	result, err := r.q(ctx).ExecContext(ctx, query, employeeID, effectiveTo)
	if err != nil {
		return 0, fmt.Errorf("close open compensation: %w", err)
	}
	return result.RowsAffected()
}

// Create inserts a structure version and its components.
func (r *CompensationRepository) Create(ctx context.Context, structure *models.CompensationStructure) error {
	if structure.ID == "" {
		structure.ID = uuid.NewString()
	}
	if structure.CreatedAt.IsZero() {
		structure.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO compensation_structures
	(id, employee_id, version, effective_from, effective_to, pay_type, basic, gross, ctc, daily_rate, hourly_rate,
	 overtime_multiplier, pf_enabled, esic_enabled, pt_enabled, mlwf_enabled, tds_enabled, pf_ceiling_policy, created_by, created_at)
	VALUES (:id, :employee_id, :version, :effective_from, :effective_to, :pay_type, :basic, :gross, :ctc, :daily_rate, :hourly_rate,
	 :overtime_multiplier, :pf_enabled, :esic_enabled, :pt_enabled, :mlwf_enabled, :tds_enabled, :pf_ceiling_policy, :created_by, :created_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, structure); err != nil {
		return fmt.Errorf("create compensation structure: %w", err)
	}
	if len(structure.Components) == 0 {
		return nil
	}
	for i := range structure.Components {
		c := &structure.Components[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.StructureID = structure.ID
		if c.SortOrder == 0 {
			c.SortOrder = i + 1
		}
	}
	const componentQuery = `INSERT INTO compensation_components
	(id, structure_id, code, name, kind, calculation, basis, value, max_amount, sort_order)
	VALUES (:id, :structure_id, :code, :name, :kind, :calculation, :basis, :value, :max_amount, :sort_order)`
	if _, err := r.q(ctx).NamedExecContext(ctx, componentQuery, structure.Components); err != nil {
		return fmt.Errorf("create compensation components: %w", err)
	}
	return nil
}

// ListComponents returns the components of one structure in display order.
func (r *CompensationRepository) ListComponents(ctx context.Context, structureID string) ([]models.CompensationComponent, error) {
	query := `SELECT ` + componentColumns + ` FROM compensation_components WHERE structure_id = $1 ORDER BY sort_order, code`
	var components []models.CompensationComponent
	if err := r.q(ctx).SelectContext(ctx, &components, query, structureID); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("list compensation components: %w", err)
	}
	return components, nil
}
