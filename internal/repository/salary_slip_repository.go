package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const slipColumns = `id, employee_payroll_id, payroll_run_id, employee_id, status, document_ref, attempts,
       last_error, generated_at, created_at`

// SalarySlipRepository stores the slip outbox and generated document refs.
type SalarySlipRepository struct {
	baseRepository
}

// NewSalarySlipRepository constructs the repository.
func NewSalarySlipRepository(db *sqlx.DB) *SalarySlipRepository {
	return &SalarySlipRepository{baseRepository{db: db}}
}

// CreatePending queues one slip per snapshot, skipping existing ones.
func (r *SalarySlipRepository) CreatePending(ctx context.Context, slips []models.SalarySlip) error {
	if len(slips) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range slips {
		if slips[i].ID == "" {
			slips[i].ID = uuid.NewString()
		}
		slips[i].Status = models.SlipPending
		slips[i].CreatedAt = now
	}
	const query = `INSERT INTO salary_slips (id, employee_payroll_id, payroll_run_id, employee_id, status, attempts, created_at)
	VALUES (:id, :employee_payroll_id, :payroll_run_id, :employee_id, :status, :attempts, :created_at)
	ON CONFLICT (employee_payroll_id) DO NOTHING`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, slips); err != nil {
		return fmt.Errorf("create salary slips: %w", err)
	}
	return nil
}

// GetByID fetches a slip.
func (r *SalarySlipRepository) GetByID(ctx context.Context, id string) (*models.SalarySlip, error) {
	query := `SELECT ` + slipColumns + ` FROM salary_slips WHERE id = $1`
	var slip models.SalarySlip
	if err := r.q(ctx).GetContext(ctx, &slip, query, id); err != nil {
		return nil, err
	}
	return &slip, nil
}

// ListByRun returns all slips of a run.
func (r *SalarySlipRepository) ListByRun(ctx context.Context, runID string) ([]models.SalarySlip, error) {
	query := `SELECT ` + slipColumns + ` FROM salary_slips WHERE payroll_run_id = $1 ORDER BY employee_id`
	var slips []models.SalarySlip
	if err := r.q(ctx).SelectContext(ctx, &slips, query, runID); err != nil {
		return nil, fmt.Errorf("list salary slips: %w", err)
	}
	return slips, nil
}

// ListPending returns slips still waiting to be rendered.
func (r *SalarySlipRepository) ListPending(ctx context.Context, limit int) ([]models.SalarySlip, error) {
	query := `SELECT ` + slipColumns + ` FROM salary_slips WHERE status = 'pending' ORDER BY created_at LIMIT $1`
	var slips []models.SalarySlip
	if err := r.q(ctx).SelectContext(ctx, &slips, query, limit); err != nil {
		return nil, fmt.Errorf("list pending salary slips: %w", err)
	}
	return slips, nil
}

// MarkGenerated stores the document reference.
func (r *SalarySlipRepository) MarkGenerated(ctx context.Context, id, ref string, at time.Time) error {
	const query = `UPDATE salary_slips SET status = 'generated', document_ref = $2, generated_at = $3,
	 attempts = attempts + 1, last_error = NULL
	WHERE id = $1`
	result, err := r.q(ctx).ExecContext(ctx, query, id, ref, at)
	if err != nil {
		return fmt.Errorf("mark salary slip generated: %w", err)
	}
	return expectRows(result, "mark salary slip generated")
}

// MarkFailed records the final rendering error.
func (r *SalarySlipRepository) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE salary_slips SET status = 'failed', attempts = attempts + 1, last_error = $2
	WHERE id = $1 AND status = 'pending'`
	result, err := r.q(ctx).ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark salary slip failed: %w", err)
	}
	return expectRows(result, "mark salary slip failed")
}
