package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const payrollColumns = `id, payroll_run_id, employee_id, structure_id, structure_version, attendance_summary_id,
       working_days, payable_days, lop_days, overtime_hours, gross_earnings, total_deductions,
       employer_contributions, net_pay, payment_status, hold_reason, paid_at, input_hash, computed_by,
       computed_at, updated_at`

const payrollComponentColumns = `id, employee_payroll_id, code, name, kind, source, source_ref, calculated_amount,
       actual_amount, is_overridden, sort_order`

// EmployeePayrollRepository persists per-employee snapshots and their lines.
type EmployeePayrollRepository struct {
	baseRepository
}

// NewEmployeePayrollRepository constructs the repository.
func NewEmployeePayrollRepository(db *sqlx.DB) *EmployeePayrollRepository {
	return &EmployeePayrollRepository{baseRepository{db: db}}
}

// InsertIfAbsent creates the snapshot unless one already exists for the
// (run, employee) pair. It reports whether a row was written.
func (r *EmployeePayrollRepository) InsertIfAbsent(ctx context.Context, payroll *models.EmployeePayroll) (bool, error) {
	if payroll.ID == "" {
		payroll.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if payroll.ComputedAt.IsZero() {
		payroll.ComputedAt = now
	}
	payroll.UpdatedAt = now
	const query = `INSERT INTO employee_payrolls
	(id, payroll_run_id, employee_id, structure_id, structure_version, attendance_summary_id, working_days,
	 payable_days, lop_days, overtime_hours, gross_earnings, total_deductions, employer_contributions, net_pay,
	 payment_status, input_hash, computed_by, computed_at, updated_at)
	VALUES (:id, :payroll_run_id, :employee_id, :structure_id, :structure_version, :attendance_summary_id, :working_days,
	 :payable_days, :lop_days, :overtime_hours, :gross_earnings, :total_deductions, :employer_contributions, :net_pay,
	 :payment_status, :input_hash, :computed_by, :computed_at, :updated_at)
	ON CONFLICT (payroll_run_id, employee_id) DO NOTHING`
	result, err := r.q(ctx).NamedExecContext(ctx, query, payroll)
	if err != nil {
		return false, fmt.Errorf("insert employee payroll: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check employee payroll insert: %w", err)
	}
	return rows > 0, nil
}

// InsertComponents writes the snapshot lines.
func (r *EmployeePayrollRepository) InsertComponents(ctx context.Context, payrollID string, lines []models.EmployeePayrollComponent) error {
	if len(lines) == 0 {
		return nil
	}
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewString()
		}
		lines[i].EmployeePayrollID = payrollID
	}
	const query = `INSERT INTO employee_payroll_components
	(id, employee_payroll_id, code, name, kind, source, source_ref, calculated_amount, actual_amount, is_overridden, sort_order)
	VALUES (:id, :employee_payroll_id, :code, :name, :kind, :source, :source_ref, :calculated_amount, :actual_amount, :is_overridden, :sort_order)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, lines); err != nil {
		return fmt.Errorf("insert employee payroll components: %w", err)
	}
	return nil
}

// GetByRunAndEmployee fetches the snapshot for one roster entry.
func (r *EmployeePayrollRepository) GetByRunAndEmployee(ctx context.Context, runID, employeeID string) (*models.EmployeePayroll, error) {
	query := `SELECT ` + payrollColumns + ` FROM employee_payrolls WHERE payroll_run_id = $1 AND employee_id = $2`
	var payroll models.EmployeePayroll
	if err := r.q(ctx).GetContext(ctx, &payroll, query, runID, employeeID); err != nil {
		return nil, err
	}
	return &payroll, nil
}

// GetByID fetches a snapshot with the requested row lock.
func (r *EmployeePayrollRepository) GetByID(ctx context.Context, id string, lock LockMode) (*models.EmployeePayroll, error) {
	query := `SELECT ` + payrollColumns + ` FROM employee_payrolls WHERE id = $1` + string(lock)
	var payroll models.EmployeePayroll
	if err := r.q(ctx).GetContext(ctx, &payroll, query, id); err != nil {
		return nil, err
	}
	return &payroll, nil
}

// ListByRun returns every snapshot in a run.
func (r *EmployeePayrollRepository) ListByRun(ctx context.Context, runID string) ([]models.EmployeePayroll, error) {
	query := `SELECT ` + payrollColumns + ` FROM employee_payrolls WHERE payroll_run_id = $1 ORDER BY employee_id`
	var payrolls []models.EmployeePayroll
	if err := r.q(ctx).SelectContext(ctx, &payrolls, query, runID); err != nil {
		return nil, fmt.Errorf("list employee payrolls: %w", err)
	}
	return payrolls, nil
}

// ListComponents returns one snapshot's lines in display order.
func (r *EmployeePayrollRepository) ListComponents(ctx context.Context, payrollID string) ([]models.EmployeePayrollComponent, error) {
	query := `SELECT ` + payrollComponentColumns + ` FROM employee_payroll_components
	WHERE employee_payroll_id = $1 ORDER BY sort_order, code`
	var lines []models.EmployeePayrollComponent
	if err := r.q(ctx).SelectContext(ctx, &lines, query, payrollID); err != nil {
		return nil, fmt.Errorf("list employee payroll components: %w", err)
	}
	return lines, nil
}

// ListComponentsByRun returns every line of a run keyed by snapshot ID.
func (r *EmployeePayrollRepository) ListComponentsByRun(ctx context.Context, runID string) (map[string][]models.EmployeePayrollComponent, error) {
	query := `SELECT ` + payrollComponentColumns + ` FROM employee_payroll_components
	WHERE employee_payroll_id IN (SELECT id FROM employee_payrolls WHERE payroll_run_id = $1)
	ORDER BY employee_payroll_id, sort_order, code`
	var lines []models.EmployeePayrollComponent
	if err := r.q(ctx).SelectContext(ctx, &lines, query, runID); err != nil {
		return nil, fmt.Errorf("list run components: %w", err)
	}
	grouped := make(map[string][]models.EmployeePayrollComponent)
	for _, line := range lines {
		grouped[line.EmployeePayrollID] = append(grouped[line.EmployeePayrollID], line)
	}
	return grouped, nil
}

// GetComponent fetches one line with the requested row lock.
func (r *EmployeePayrollRepository) GetComponent(ctx context.Context, id string, lock LockMode) (*models.EmployeePayrollComponent, error) {
	query := `SELECT ` + payrollComponentColumns + ` FROM employee_payroll_components WHERE id = $1` + string(lock)
	var line models.EmployeePayrollComponent
	if err := r.q(ctx).GetContext(ctx, &line, query, id); err != nil {
		return nil, err
	}
	return &line, nil
}

// OverrideComponent sets a line's actual amount and marks it overridden.
func (r *EmployeePayrollRepository) OverrideComponent(ctx context.Context, id string, amount decimal.Decimal) error {
	const query = `UPDATE employee_payroll_components SET actual_amount = $2, is_overridden = TRUE WHERE id = $1`
	result, err := r.q(ctx).ExecContext(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("override component: %w", err)
	}
	return expectRows(result, "override component")
}

// UpdateTotals rewrites the snapshot totals.
func (r *EmployeePayrollRepository) UpdateTotals(ctx context.Context, payroll *models.EmployeePayroll) error {
	payroll.UpdatedAt = time.Now().UTC()
	const query = `UPDATE employee_payrolls SET gross_earnings = :gross_earnings, total_deductions = :total_deductions,
	 employer_contributions = :employer_contributions, net_pay = :net_pay, updated_at = :updated_at
	WHERE id = :id`
	result, err := r.q(ctx).NamedExecContext(ctx, query, payroll)
	if err != nil {
		return fmt.Errorf("update employee payroll totals: %w", err)
	}
	return expectRows(result, "update employee payroll totals")
}

// SetPaymentStatus moves a snapshot between payment states when it is
// currently in from.
func (r *EmployeePayrollRepository) SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus, reason *string) error {
	const query = `UPDATE employee_payrolls SET payment_status = $3, hold_reason = $4, updated_at = $5
	WHERE id = $1 AND payment_status = $2`
	result, err := r.q(ctx).ExecContext(ctx, query, id, from, to, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return expectRows(result, "set payment status")
}

// MarkRunPaid marks every pending snapshot of a run paid. Held snapshots are
// left untouched.
func (r *EmployeePayrollRepository) MarkRunPaid(ctx context.Context, runID string, paidAt time.Time) (int64, error) {
	const query = `UPDATE employee_payrolls SET payment_status = 'paid', paid_at = $2, updated_at = $2
	WHERE payroll_run_id = $1 AND payment_status = 'pending'`
	result, err := r.q(ctx).ExecContext(ctx, query, runID, paidAt)
	if err != nil {
		return 0, fmt.Errorf("mark run paid: %w", err)
	}
	return result.RowsAffected()
}
