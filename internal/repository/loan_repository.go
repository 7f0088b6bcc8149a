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

const loanColumns = `id, employee_id, principal, annual_rate, installments, policy, emi, total_payable,
       amount_recovered, amount_pending, start_month, start_year, status, disbursed_by, disbursed_at,
       waived_reason, updated_at`

const installmentColumns = `id, loan_id, employee_id, sequence, due_month, due_year, amount, principal_component,
       interest_component, amount_recovered, status, payroll_run_id, recovered_at`

// LoanRepository persists loans and their installment schedules.
type LoanRepository struct {
	baseRepository
}

// NewLoanRepository constructs the repository.
func NewLoanRepository(db *sqlx.DB) *LoanRepository {
	return &LoanRepository{baseRepository{db: db}}
}

// CreateLoan inserts the loan header.
func (r *LoanRepository) CreateLoan(ctx context.Context, loan *models.Loan) error {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if loan.DisbursedAt.IsZero() {
		loan.DisbursedAt = now
	}
	loan.UpdatedAt = now
	const query = `INSERT INTO loans
	(id, employee_id, principal, annual_rate, installments, policy, emi, total_payable, amount_recovered,
	 amount_pending, start_month, start_year, status, disbursed_by, disbursed_at, updated_at)
	VALUES (:id, :employee_id, :principal, :annual_rate, :installments, :policy, :emi, :total_payable, :amount_recovered,
	 :amount_pending, :start_month, :start_year, :status, :disbursed_by, :disbursed_at, :updated_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, loan); err != nil {
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

// CreateInstallments inserts the schedule in one statement.
func (r *LoanRepository) CreateInstallments(ctx context.Context, installments []models.LoanInstallment) error {
	if len(installments) == 0 {
		return nil
	}
	for i := range installments {
		if installments[i].ID == "" {
			installments[i].ID = uuid.NewString()
		}
	}
	const query = `INSERT INTO loan_installments
	(id, loan_id, employee_id, sequence, due_month, due_year, amount, principal_component, interest_component,
	 amount_recovered, status)
	VALUES (:id, :loan_id, :employee_id, :sequence, :due_month, :due_year, :amount, :principal_component, :interest_component,
	 :amount_recovered, :status)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, installments); err != nil {
		return fmt.Errorf("create loan installments: %w", err)
	}
	return nil
}

// GetLoan fetches a loan with the requested row lock.
func (r *LoanRepository) GetLoan(ctx context.Context, id string, lock LockMode) (*models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1` + string(lock)
	var loan models.Loan
	if err := r.q(ctx).GetContext(ctx, &loan, query, id); err != nil {
		return nil, err
	}
	return &loan, nil
}

// ListLoansByEmployee returns an employee's loans, newest first.
func (r *LoanRepository) ListLoansByEmployee(ctx context.Context, employeeID string) ([]models.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE employee_id = $1 ORDER BY disbursed_at DESC`
	var loans []models.Loan
	if err := r.q(ctx).SelectContext(ctx, &loans, query, employeeID); err != nil {
		return nil, fmt.Errorf("list loans: %w", err)
	}
	return loans, nil
}

// GetInstallment fetches one installment with the requested row lock.
func (r *LoanRepository) GetInstallment(ctx context.Context, id string, lock LockMode) (*models.LoanInstallment, error) {
	query := `SELECT ` + installmentColumns + ` FROM loan_installments WHERE id = $1` + string(lock)
	var installment models.LoanInstallment
	if err := r.q(ctx).GetContext(ctx, &installment, query, id); err != nil {
		return nil, err
	}
	return &installment, nil
}

// ListInstallments returns a loan's schedule in sequence order.
func (r *LoanRepository) ListInstallments(ctx context.Context, loanID string) ([]models.LoanInstallment, error) {
	query := `SELECT ` + installmentColumns + ` FROM loan_installments WHERE loan_id = $1 ORDER BY sequence`
	var installments []models.LoanInstallment
	if err := r.q(ctx).SelectContext(ctx, &installments, query, loanID); err != nil {
		return nil, fmt.Errorf("list loan installments: %w", err)
	}
	return installments, nil
}

// ListDue returns installments an employee owes for the period: unlinked open
// ones of active loans due on or before it, plus any already linked to runID
// whatever their loan's status.
func (r *LoanRepository) ListDue(ctx context.Context, employeeID string, period models.Period, runID string) ([]models.LoanInstallment, error) {
	query := `SELECT ` + installmentColumns + ` FROM loan_installments
	WHERE employee_id = $1
	  AND ((payroll_run_id IS NULL AND status IN ('pending', 'partial')
	        AND (due_year * 12 + due_month) <= ($2 * 12 + $3)
	        AND loan_id IN (SELECT id FROM loans WHERE employee_id = $1 AND status = 'active'))
	       OR payroll_run_id = $4)
	ORDER BY due_year, due_month, sequence`
	var installments []models.LoanInstallment
	if err := r.q(ctx).SelectContext(ctx, &installments, query, employeeID, period.Year, period.Month, runID); err != nil {
		return nil, fmt.Errorf("list due installments: %w", err)
	}
	return installments, nil
}

// LinkInstallment records a recovery against an open, unlinked installment.
func (r *LoanRepository) LinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus, at time.Time) error {
	const query = `UPDATE loan_installments
	SET payroll_run_id = $2, amount_recovered = $3, status = $4, recovered_at = $5
	WHERE id = $1 AND payroll_run_id IS NULL AND status IN ('pending', 'partial')`
	result, err := r.q(ctx).ExecContext(ctx, query, id, runID, recovered, status, at)
	if err != nil {
		return fmt.Errorf("link installment: %w", err)
	}
	return expectRows(result, "link installment")
}

// UnlinkInstallment reverses a recovery made by runID.
func (r *LoanRepository) UnlinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus) error {
	const query = `UPDATE loan_installments
	SET payroll_run_id = NULL, amount_recovered = $3, status = $4, recovered_at = NULL
	WHERE id = $1 AND payroll_run_id = $2`
	result, err := r.q(ctx).ExecContext(ctx, query, id, runID, recovered, status)
	if err != nil {
		return fmt.Errorf("unlink installment: %w", err)
	}
	return expectRows(result, "unlink installment")
}

// ListLinkedToRun returns installments recovered by a run.
func (r *LoanRepository) ListLinkedToRun(ctx context.Context, runID string) ([]models.LoanInstallment, error) {
	query := `SELECT ` + installmentColumns + ` FROM loan_installments WHERE payroll_run_id = $1 ORDER BY loan_id, sequence`
	var installments []models.LoanInstallment
	if err := r.q(ctx).SelectContext(ctx, &installments, query, runID); err != nil {
		return nil, fmt.Errorf("list run installments: %w", err)
	}
	return installments, nil
}

// UpdateBalance writes recovered and pending amounts and the loan status.
func (r *LoanRepository) UpdateBalance(ctx context.Context, loan *models.Loan) error {
	loan.UpdatedAt = time.Now().UTC()
	const query = `UPDATE loans SET amount_recovered = :amount_recovered, amount_pending = :amount_pending,
	 status = :status, waived_reason = :waived_reason, updated_at = :updated_at
	WHERE id = :id`
	result, err := r.q(ctx).NamedExecContext(ctx, query, loan)
	if err != nil {
		return fmt.Errorf("update loan balance: %w", err)
	}
	return expectRows(result, "update loan balance")
}

// CountOpenInstallments counts installments not yet paid or waived.
func (r *LoanRepository) CountOpenInstallments(ctx context.Context, loanID string) (int, error) {
	const query = `SELECT COUNT(*) FROM loan_installments WHERE loan_id = $1 AND status IN ('pending', 'partial')`
	var count int
	if err := r.q(ctx).GetContext(ctx, &count, query, loanID); err != nil {
		return 0, fmt.Errorf("count open installments: %w", err)
	}
	return count, nil
}

// WaiveOpenInstallments marks every open installment waived, including
// partial ones already linked to a run. Linked rows keep their recovered amount.
func (r *LoanRepository) WaiveOpenInstallments(ctx context.Context, loanID string) (int64, error) {
	const query = `UPDATE loan_installments SET status = 'waived'
	WHERE loan_id = $1 AND status IN ('pending', 'partial')`
	result, err := r.q(ctx).ExecContext(ctx, query, loanID)
	if err != nil {
		return 0, fmt.Errorf("waive installments: %w", err)
	}
	return result.RowsAffected()
}
