package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payroll-engine/internal/models"
)

func newOverrideRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "postgres")
	return sqlxDB, mock, func() {
		sqlxDB.Close()
		db.Close()
	}
}

func TestOverrideRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newOverrideRepoMock(t)
	defer cleanup()
	repo := NewOverrideRepository(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO manual_overrides").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM manual_overrides WHERE id = \\$1 FOR UPDATE").
		WithArgs("override-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "component_id", "original_value", "new_value", "category", "status", "is_applied"}).
			AddRow("override-1", "line-1", "10000", "12000", "correction", "approved", false))

	override := &models.ManualOverride{
		ComponentID: "line-1", EmployeePayrollID: "payroll-1", PayrollRunID: "run-1",
		OriginalValue: decimal.NewFromInt(10000), NewValue: decimal.NewFromInt(12000),
		Reason: "revised rent", Category: models.OverrideCorrection, Status: models.OverridePending, RequestedBy: "payroll",
	}
	require.NoError(t, repo.Create(ctx, override))
	assert.NotEmpty(t, override.ID)
	assert.False(t, override.RequestedAt.IsZero())

	stored, err := repo.GetByID(ctx, "override-1", LockForUpdate)
	require.NoError(t, err)
	assert.Equal(t, models.OverrideApproved, stored.Status)
	assert.Equal(t, "2000", stored.NewValue.Sub(stored.OriginalValue).String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideRepositoryReviewAndApplyAreGuarded(t *testing.T) {
	db, mock, cleanup := newOverrideRepoMock(t)
	defer cleanup()
	repo := NewOverrideRepository(db)
	ctx := context.Background()
	at := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	note := "ok"

	mock.ExpectExec("WHERE id = \\$1 AND status = 'pending'").
		WithArgs("override-1", models.OverrideApproved, "manager", &note, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WHERE id = \\$1 AND status = 'approved' AND is_applied = FALSE").
		WithArgs("override-1", "payroll", at, true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("WHERE id = \\$1 AND status = 'approved' AND is_applied = FALSE").
		WithArgs("override-1", "payroll", at, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Review(ctx, "override-1", models.OverrideApproved, "manager", &note, at))
	require.NoError(t, repo.MarkApplied(ctx, "override-1", "payroll", true, at))
	assert.ErrorIs(t, repo.MarkApplied(ctx, "override-1", "payroll", true, at), sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOverrideRepositoryHasOpenForComponent(t *testing.T) {
	db, mock, cleanup := newOverrideRepoMock(t)
	defer cleanup()
	repo := NewOverrideRepository(db)

	mock.ExpectQuery("status = 'pending' OR \\(status = 'approved' AND is_applied = FALSE\\)").
		WithArgs("line-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("line-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	open, err := repo.HasOpenForComponent(context.Background(), "line-1")
	require.NoError(t, err)
	assert.True(t, open)
	open, err = repo.HasOpenForComponent(context.Background(), "line-2")
	require.NoError(t, err)
	assert.False(t, open)
	assert.NoError(t, mock.ExpectationsWereMet())
}
