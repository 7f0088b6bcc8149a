package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const employeeColumns = `id, employee_code, full_name, email, status, bank_name, bank_account_number, bank_ifsc,
       pf_number, esic_number, date_of_joining`

// EmployeeRepository reads the employee directory. The core never writes it.
type EmployeeRepository struct {
	baseRepository
}

// NewEmployeeRepository constructs the repository.
func NewEmployeeRepository(db *sqlx.DB) *EmployeeRepository {
	return &EmployeeRepository{baseRepository{db: db}}
}

// GetByID fetches one employee.
func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (*models.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	var employee models.Employee
	if err := r.q(ctx).GetContext(ctx, &employee, query, id); err != nil {
		return nil, err
	}
	return &employee, nil
}

// ListByIDs fetches the given employees ordered by code.
func (r *EmployeeRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = ANY($1) ORDER BY employee_code`
	var employees []models.Employee
	if err := r.q(ctx).SelectContext(ctx, &employees, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	return employees, nil
}

// ListActiveIDs returns the IDs of every active employee.
func (r *EmployeeRepository) ListActiveIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM employees WHERE status = $1 ORDER BY employee_code`
	var ids []string
	if err := r.q(ctx).SelectContext(ctx, &ids, query, models.EmployeeStatusActive); err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}
	return ids, nil
}
