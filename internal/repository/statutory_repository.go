package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const statutoryPaymentColumns = `id, payroll_run_id, statutory_type, employee_share, employer_share, total_amount,
       employee_count, status, challan_number, receipt_reference, paid_on, created_at`

// StatutoryRepository persists statutory payment aggregates and reads
// externally supplied TDS declarations.
type StatutoryRepository struct {
	baseRepository
}

// NewStatutoryRepository constructs the repository.
func NewStatutoryRepository(db *sqlx.DB) *StatutoryRepository {
	return &StatutoryRepository{baseRepository{db: db}}
}

// CreatePayments inserts one aggregate per statutory type for a run.
func (r *StatutoryRepository) CreatePayments(ctx context.Context, payments []models.StatutoryPayment) error {
	if len(payments) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range payments {
		if payments[i].ID == "" {
			payments[i].ID = uuid.NewString()
		}
		payments[i].CreatedAt = now
	}
	const query = `INSERT INTO statutory_payments
	(id, payroll_run_id, statutory_type, employee_share, employer_share, total_amount, employee_count, status, created_at)
	VALUES (:id, :payroll_run_id, :statutory_type, :employee_share, :employer_share, :total_amount, :employee_count, :status, :created_at)`
	if _, err := r.q(ctx).NamedExecContext(ctx, query, payments); err != nil {
		return fmt.Errorf("create statutory payments: %w", err)
	}
	return nil
}

// ListPaymentsByRun returns a run's aggregates in filing order.
func (r *StatutoryRepository) ListPaymentsByRun(ctx context.Context, runID string) ([]models.StatutoryPayment, error) {
	query := `SELECT ` + statutoryPaymentColumns + ` FROM statutory_payments WHERE payroll_run_id = $1
	ORDER BY array_position(ARRAY['PF','ESIC','PT','MLWF','TDS']::text[], statutory_type::text)`
	var payments []models.StatutoryPayment
	if err := r.q(ctx).SelectContext(ctx, &payments, query, runID); err != nil {
		return nil, fmt.Errorf("list statutory payments: %w", err)
	}
	return payments, nil
}

// GetPayment fetches one aggregate with the requested row lock.
func (r *StatutoryRepository) GetPayment(ctx context.Context, id string, lock LockMode) (*models.StatutoryPayment, error) {
	query := `SELECT ` + statutoryPaymentColumns + ` FROM statutory_payments WHERE id = $1` + string(lock)
	var payment models.StatutoryPayment
	if err := r.q(ctx).GetContext(ctx, &payment, query, id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// RecordChallan marks a pending aggregate as filed.
func (r *StatutoryRepository) RecordChallan(ctx context.Context, id, challan, receipt string, paidOn time.Time) error {
	const query = `UPDATE statutory_payments SET status = 'filed', challan_number = $2, receipt_reference = $3, paid_on = $4
	WHERE id = $1 AND status = 'pending'`
	result, err := r.q(ctx).ExecContext(ctx, query, id, challan, receipt, paidOn)
	if err != nil {
		return fmt.Errorf("record challan: %w", err)
	}
	return expectRows(result, "record challan")
}

// GetTDS returns the declared monthly TDS, or zero when nothing is declared.
func (r *StatutoryRepository) GetTDS(ctx context.Context, employeeID string, period models.Period) (decimal.Decimal, error) {
	const query = `SELECT amount FROM tds_declarations WHERE employee_id = $1 AND month = $2 AND year = $3`
	var amount decimal.Decimal
	if err := r.q(ctx).GetContext(ctx, &amount, query, employeeID, period.Month, period.Year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("load tds declaration: %w", err)
	}
	return amount, nil
}
