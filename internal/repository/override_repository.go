package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const overrideColumns = `id, component_id, employee_payroll_id, payroll_run_id, original_value, new_value, reason,
       category, status, requested_by, requested_at, reviewed_by, reviewed_at, review_note, is_applied,
       applied_by, applied_at, requires_reconciliation`

// OverrideOpenConstraint names the index allowing one open override per line.
const OverrideOpenConstraint = "manual_overrides_open_component_key"

// OverrideRepository persists manual override requests.
type OverrideRepository struct {
	baseRepository
}

// NewOverrideRepository constructs the repository.
func NewOverrideRepository(db *sqlx.DB) *OverrideRepository {
	return &OverrideRepository{baseRepository{db: db}}
}

// Create inserts a pending override.
func (r *OverrideRepository) Create(ctx context.Context, override *models.ManualOverride) error {
	if override.ID == "" {
		override.ID = uuid.NewString()
	}
	if override.RequestedAt.IsZero() {
		override.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO manual_overrides
	(id, component_id, employee_payroll_id, payroll_run_id, original_value, new_value, reason, category, status,
	 requested_by, requested_at, is_applied, requires_reconciliation)
	VALUES (:id, :component_id, :employee_payroll_id, :payroll_run_id, :original_value, :new_value, :reason, :category, :status,
	 :requested_by, :requested_at, :is_applied, :requires_reconciliation)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, override); err != nil {
		return fmt.Errorf("create manual override: %w", err)
	}
	return nil
}

// GetByID fetches an override with the requested row lock.
func (r *OverrideRepository) GetByID(ctx context.Context, id string, lock LockMode) (*models.ManualOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM manual_overrides WHERE id = $1` + string(lock)
	var override models.ManualOverride
	if err := r.q(ctx).GetContext(ctx, &override, query, id); err != nil {
		return nil, err
	}
	return &override, nil
}

// ListByRun returns a run's overrides, oldest first.
func (r *OverrideRepository) ListByRun(ctx context.Context, runID string) ([]models.ManualOverride, error) {
	query := `SELECT ` + overrideColumns + ` FROM manual_overrides WHERE payroll_run_id = $1 ORDER BY requested_at`
	var overrides []models.ManualOverride
	if err := r.q(ctx).SelectContext(ctx, &overrides, query, runID); err != nil {
		return nil, fmt.Errorf("list manual overrides: %w", err)
	}
	return overrides, nil
}

// HasOpenForComponent reports whether a line already has a pending or an
// approved but unapplied override.
func (r *OverrideRepository) HasOpenForComponent(ctx context.Context, componentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM manual_overrides
	WHERE component_id = $1 AND (status = 'pending' OR (status = 'approved' AND is_applied = FALSE)))`
	var open bool
	if err := r.q(ctx).GetContext(ctx, &open, query, componentID); err != nil {
		return false, fmt.Errorf("check open overrides: %w", err)
	}
	return open, nil
}

// Review records an approval or rejection of a pending override.
func (r *OverrideRepository) Review(ctx context.Context, id string, status models.OverrideStatus, reviewer string, note *string, at time.Time) error {
	const query = `UPDATE manual_overrides SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = $5
	WHERE id = $1 AND status = 'pending'`
	result, err := r.q(ctx).ExecContext(ctx, query, id, status, reviewer, note, at)
	if err != nil {
		return fmt.Errorf("review manual override: %w", err)
	}
	return expectRows(result, "review manual override")
}

// MarkApplied flags an approved override as applied exactly once.
func (r *OverrideRepository) MarkApplied(ctx context.Context, id, actor string, reconcile bool, at time.Time) error {
	const query = `UPDATE manual_overrides SET is_applied = TRUE, applied_by = $2, applied_at = $3, requires_reconciliation = $4
	WHERE id = $1 AND status = 'approved' AND is_applied = FALSE`
	result, err := r.q(ctx).ExecContext(ctx, query, id, actor, at, reconcile)
	if err != nil {
		return fmt.Errorf("apply manual override: %w", err)
	}
	return expectRows(result, "apply manual override")
}
