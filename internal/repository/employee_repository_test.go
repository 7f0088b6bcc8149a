package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payroll-engine/internal/models"
)

func newEmployeeRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestEmployeeRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newEmployeeRepoMock(t)
	defer cleanup()
	repo := NewEmployeeRepository(db)

	mock.ExpectQuery("FROM employees WHERE id = \\$1").
		WithArgs("emp-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "employee_code", "full_name", "status", "pf_number"}).
			AddRow("emp-1", "E001", "Asha Rao", "active", "PF-1"))
	mock.ExpectQuery("FROM employees WHERE id = \\$1").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	employee, err := repo.GetByID(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, "E001", employee.Code)
	assert.Equal(t, models.EmployeeStatusActive, employee.Status)

	_, err = repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEmployeeRepositoryListByIDs(t *testing.T) {
	db, mock, cleanup := newEmployeeRepoMock(t)
	defer cleanup()
	repo := NewEmployeeRepository(db)

	mock.ExpectQuery("WHERE id = ANY\\(\\$1\\) ORDER BY employee_code").
		WillReturnRows(sqlmock.NewRows([]string{"id", "employee_code", "full_name", "status"}).
			AddRow("emp-1", "E001", "Asha Rao", "active").
			AddRow("emp-2", "E002", "Vikram Shah", "active"))

	employees, err := repo.ListByIDs(context.Background(), []string{"emp-2", "emp-1"})
	require.NoError(t, err)
	require.Len(t, employees, 2)
	assert.Equal(t, "emp-1", employees[0].ID)

	none, err := repo.ListByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmployeeRepositoryListActiveIDs(t *testing.T) {
	db, mock, cleanup := newEmployeeRepoMock(t)
	defer cleanup()
	repo := NewEmployeeRepository(db)

	mock.ExpectQuery("SELECT id FROM employees WHERE status = \\$1").
		WithArgs(models.EmployeeStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("emp-1").AddRow("emp-3"))

	ids, err := repo.ListActiveIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"emp-1", "emp-3"}, ids)
}
