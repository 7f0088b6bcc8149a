package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const runColumns = `id, month, year, run_number, status, employee_count, total_gross, total_deductions,
       total_employer_contributions, total_net, payment_date, payment_reference, requires_reconciliation,
       cancel_reason, created_by, created_at, processed_at, finalized_by, finalized_at, updated_at`

// RunUniqueConstraint names the (month, year, run_number) constraint.
const RunUniqueConstraint = "payroll_runs_period_run_number_key"

// PayrollRunRepository persists payroll runs and their rosters.
type PayrollRunRepository struct {
	baseRepository
}

// NewPayrollRunRepository constructs the repository.
func NewPayrollRunRepository(db *sqlx.DB) *PayrollRunRepository {
	return &PayrollRunRepository{baseRepository{db: db}}
}

// Create inserts a draft run.
func (r *PayrollRunRepository) Create(ctx context.Context, run *models.PayrollRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	const query = `INSERT INTO payroll_runs
	(id, month, year, run_number, status, employee_count, total_gross, total_deductions, total_employer_contributions,
	 total_net, requires_reconciliation, created_by, created_at, updated_at)
	VALUES (:id, :month, :year, :run_number, :status, :employee_count, :total_gross, :total_deductions, :total_employer_contributions,
	 :total_net, :requires_reconciliation, :created_by, :created_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("create payroll run: %w", err)
	}
	return nil
}

// GetByID fetches a run with the requested row lock.
func (r *PayrollRunRepository) GetByID(ctx context.Context, id string, lock LockMode) (*models.PayrollRun, error) {
	query := `SELECT ` + runColumns + ` FROM payroll_runs WHERE id = $1` + string(lock)
	var run models.PayrollRun
	if err := r.q(ctx).GetContext(ctx, &run, query, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListByPeriod returns all runs of a month ordered by run number.
func (r *PayrollRunRepository) ListByPeriod(ctx context.Context, period models.Period) ([]models.PayrollRun, error) {
	query := `SELECT ` + runColumns + ` FROM payroll_runs WHERE month = $1 AND year = $2 ORDER BY run_number`
	var runs []models.PayrollRun
	if err := r.q(ctx).SelectContext(ctx, &runs, query, period.Month, period.Year); err != nil {
		return nil, fmt.Errorf("list payroll runs: %w", err)
	}
	return runs, nil
}

// Transition moves the run from one status to another, writing the columns
// owned by the target state. It fails with sql.ErrNoRows when the run is no
// longer in from.
func (r *PayrollRunRepository) Transition(ctx context.Context, run *models.PayrollRun, from models.RunStatus) error {
	run.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payroll_runs SET status = :status, employee_count = :employee_count,
	 total_gross = :total_gross, total_deductions = :total_deductions,
	 total_employer_contributions = :total_employer_contributions, total_net = :total_net,
	 payment_date = :payment_date, payment_reference = :payment_reference, cancel_reason = :cancel_reason,
	 processed_at = :processed_at, finalized_by = :finalized_by, finalized_at = :finalized_at, updated_at = :updated_at
	WHERE id = :id AND status = :from_status`
	arg := struct {
		models.PayrollRun
		FromStatus models.RunStatus `db:"from_status"`
	}{*run, from}
	result, err := r.q(ctx).NamedExecContext(ctx, query, arg)
	if err != nil {
		return fmt.Errorf("transition payroll run: %w", err)
	}
	return expectRows(result, "transition payroll run")
}

// UpdateTotals rewrites the aggregate amounts of a run.
func (r *PayrollRunRepository) UpdateTotals(ctx context.Context, run *models.PayrollRun) error {
	run.UpdatedAt = time.Now().UTC()
	const query = `UPDATE payroll_runs SET employee_count = :employee_count, total_gross = :total_gross,
	 total_deductions = :total_deductions, total_employer_contributions = :total_employer_contributions,
	 total_net = :total_net, updated_at = :updated_at
	WHERE id = :id`
	result, err := r.q(ctx).NamedExecContext(ctx, query, run)
	if err != nil {
		return fmt.Errorf("update payroll run totals: %w", err)
	}
	return expectRows(result, "update payroll run totals")
}

// FlagReconciliation marks a closed run as needing reconciliation.
func (r *PayrollRunRepository) FlagReconciliation(ctx context.Context, id string) error {
	const query = `UPDATE payroll_runs SET requires_reconciliation = TRUE, updated_at = $2 WHERE id = $1`
	result, err := r.q(ctx).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("flag payroll run reconciliation: %w", err)
	}
	return expectRows(result, "flag payroll run reconciliation")
}

// AddRoster enrols employees, ignoring those already enrolled.
func (r *PayrollRunRepository) AddRoster(ctx context.Context, runID string, employeeIDs []string) error {
	if len(employeeIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	entries := make([]models.RunRosterEntry, 0, len(employeeIDs))
	for _, id := range employeeIDs {
		entries = append(entries, models.RunRosterEntry{PayrollRunID: runID, EmployeeID: id, EnrolledAt: now})
	}
	const query = `INSERT INTO payroll_run_employees (payroll_run_id, employee_id, enrolled_at)
	VALUES (:payroll_run_id, :employee_id, :enrolled_at)
	ON CONFLICT (payroll_run_id, employee_id) DO NOTHING`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, entries); err != nil {
		return fmt.Errorf("add payroll roster: %w", err)
	}
	return nil
}

// ListRoster returns the IDs enrolled in a run.
func (r *PayrollRunRepository) ListRoster(ctx context.Context, runID string) ([]string, error) {
	const query = `SELECT employee_id FROM payroll_run_employees WHERE payroll_run_id = $1 ORDER BY employee_id`
	var ids []string
	if err := r.q(ctx).SelectContext(ctx, &ids, query, runID); err != nil {
		return nil, fmt.Errorf("list payroll roster: %w", err)
	}
	return ids, nil
}

// IsEnrolled reports whether the employee belongs to the run.
func (r *PayrollRunRepository) IsEnrolled(ctx context.Context, runID, employeeID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM payroll_run_employees WHERE payroll_run_id = $1 AND employee_id = $2)`
	var exists bool
	if err := r.q(ctx).GetContext(ctx, &exists, query, runID, employeeID); err != nil {
		return false, fmt.Errorf("check payroll roster: %w", err)
	}
	return exists, nil
}

// HasActiveSnapshot reports whether the employee has a snapshot in a
// non-cancelled run of the period.
func (r *PayrollRunRepository) HasActiveSnapshot(ctx context.Context, employeeID string, period models.Period) (bool, error) {
	const query = `SELECT EXISTS (
	 SELECT 1 FROM employee_payrolls ep JOIN payroll_runs pr ON pr.id = ep.payroll_run_id
	 WHERE ep.employee_id = $1 AND pr.month = $2 AND pr.year = $3 AND pr.status <> 'cancelled')`
	var exists bool
	if err := r.q(ctx).GetContext(ctx, &exists, query, employeeID, period.Month, period.Year); err != nil {
		return false, fmt.Errorf("check active snapshot: %w", err)
	}
	return exists, nil
}
