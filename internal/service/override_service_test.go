package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

type overrideFixture struct {
	*runFixture
	overrides *OverrideService
	store     *overrideStoreStub
}

func newOverrideFixture(t *testing.T) *overrideFixture {
	t.Helper()
	f := newRunFixture(t)
	store := newOverrideStoreStub()
	svc := NewOverrideService(nil, store, f.payrolls, f.runs, NewAuditService(f.audits, nil), f.metrics, nil, nil)
	return &overrideFixture{runFixture: f, overrides: svc, store: store}
}

func (f *overrideFixture) component(t *testing.T, runID, employeeID, code string) (*models.EmployeePayroll, *models.EmployeePayrollComponent) {
	t.Helper()
	ctx := context.Background()
	payroll, err := f.payrolls.GetByRunAndEmployee(ctx, runID, employeeID)
	require.NoError(t, err)
	lines, err := f.payrolls.ListComponents(ctx, payroll.ID)
	require.NoError(t, err)
	line := lineByCode(lines, code)
	require.NotNil(t, line, code)
	return payroll, line
}

func TestOverrideWorkflowOnProcessingRun(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	payroll, hra := f.component(t, run.ID, "emp-1", "HRA")

	override, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("12000"), Reason: "revised rent slab", Category: "correction",
	}, "payroll")
	require.NoError(t, err)
	assert.Equal(t, models.OverridePending, override.Status)
	assert.Equal(t, "10000.00", override.OriginalValue.StringFixed(2))
	assert.Equal(t, payroll.ID, override.EmployeePayrollID)

	_, err = f.overrides.Apply(ctx, override.ID, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed), "pending overrides cannot be applied")

	approved, err := f.overrides.Approve(ctx, override.ID, dto.ReviewOverrideRequest{Note: "ok"}, "manager")
	require.NoError(t, err)
	assert.Equal(t, models.OverrideApproved, approved.Status)
	require.NotNil(t, approved.ReviewNote)

	applied, err := f.overrides.Apply(ctx, override.ID, "payroll")
	require.NoError(t, err)
	assert.True(t, applied.IsApplied)
	assert.False(t, applied.RequiresReconciliation)

	updated, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	assert.Equal(t, "37000.00", updated.GrossEarnings.StringFixed(2))
	assert.Equal(t, "35000.00", updated.NetPay.StringFixed(2), "net moves by the override delta")
	line := lineByCode(updated.Components, "HRA")
	require.NotNil(t, line)
	assert.True(t, line.IsOverridden)

	again, err := f.overrides.Apply(ctx, override.ID, "payroll")
	require.NoError(t, err)
	assert.True(t, again.IsApplied)
	unchanged, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	assert.Equal(t, "35000.00", unchanged.NetPay.StringFixed(2))

	assert.Empty(t, f.runs.flagged)
	assert.Equal(t, []string{models.AuditActionRequest, models.AuditActionApprove, models.AuditActionApply},
		f.audits.actions(models.EntityManualOverride))

	list, err := f.overrides.ListByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOverrideOnFinalizedRunFlagsReconciliation(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.finalizedRun(t)
	_, pt := f.component(t, run.ID, "emp-1", "PT")

	override, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: pt.ID, NewValue: dec("0"), Reason: "exempt under disability rule", Category: "adjustment",
	}, "payroll")
	require.NoError(t, err)
	_, err = f.overrides.Approve(ctx, override.ID, dto.ReviewOverrideRequest{}, "manager")
	require.NoError(t, err)

	applied, err := f.overrides.Apply(ctx, override.ID, "payroll")
	require.NoError(t, err)
	assert.True(t, applied.RequiresReconciliation)
	assert.True(t, f.runs.flagged[run.ID])

	stored, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, stored.RequiresReconciliation)
	assert.Equal(t, "99200.00", stored.TotalNet.StringFixed(2))
	assert.Equal(t, "5800.00", stored.TotalDeductions.StringFixed(2))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ReconciliationFlag)

	assert.Equal(t, "600.00", f.statutory.payments[1].TotalAmount.StringFixed(2), "filed aggregates are left untouched")
}

func TestOverrideReviewStateErrors(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	_, basic := f.component(t, run.ID, "emp-1", LineBasic)

	override, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: basic.ID, NewValue: dec("26000"), Reason: "attendance correction", Category: "arrears",
	}, "payroll")
	require.NoError(t, err)

	rejected, err := f.overrides.Reject(ctx, override.ID, dto.ReviewOverrideRequest{Note: "raise a new attendance lock"}, "manager")
	require.NoError(t, err)
	assert.Equal(t, models.OverrideRejected, rejected.Status)

	_, err = f.overrides.Approve(ctx, override.ID, dto.ReviewOverrideRequest{}, "manager")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidStateTransition))
	_, err = f.overrides.Apply(ctx, override.ID, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = f.overrides.Approve(ctx, "missing", dto.ReviewOverrideRequest{}, "manager")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestOverrideRequestValidation(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	_, hra := f.component(t, run.ID, "emp-1", "HRA")

	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("-1"), Reason: "negative", Category: "correction",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("1"), Reason: "bonus", Category: "gift",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: "line-999", NewValue: dec("1"), Reason: "missing line", Category: "other",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.Cancel(ctx, run.ID, dto.CancelRunRequest{Reason: "restart"}, "payroll")
	require.NoError(t, err)
	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("1"), Reason: "after cancel", Category: "other",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestOverrideRequestRefusesSecondOpenOverride(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	payroll, hra := f.component(t, run.ID, "emp-1", "HRA")

	first, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("12000"), Reason: "revised rent slab", Category: "correction",
	}, "payroll")
	require.NoError(t, err)

	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("11000"), Reason: "second opinion", Category: "correction",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "pending override blocks another")

	_, err = f.overrides.Approve(ctx, first.ID, dto.ReviewOverrideRequest{}, "manager")
	require.NoError(t, err)
	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("11000"), Reason: "second opinion", Category: "correction",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrConflict), "approved but unapplied override blocks another")

	_, err = f.overrides.Apply(ctx, first.ID, "payroll")
	require.NoError(t, err)
	second, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("11000"), Reason: "second opinion", Category: "correction",
	}, "payroll")
	require.NoError(t, err)
	assert.Equal(t, "12000.00", second.OriginalValue.StringFixed(2))
	_, err = f.overrides.Approve(ctx, second.ID, dto.ReviewOverrideRequest{}, "manager")
	require.NoError(t, err)

	before, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	_, err = f.overrides.Apply(ctx, second.ID, "payroll")
	require.NoError(t, err)
	after, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	assert.Equal(t, "-1000.00", after.NetPay.Sub(before.NetPay).StringFixed(2), "net moves by new minus original")
}

func TestOverrideApplyRefusesStaleOriginal(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	payroll, hra := f.component(t, run.ID, "emp-1", "HRA")

	override, err := f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: hra.ID, NewValue: dec("12000"), Reason: "revised rent slab", Category: "correction",
	}, "payroll")
	require.NoError(t, err)
	_, err = f.overrides.Approve(ctx, override.ID, dto.ReviewOverrideRequest{}, "manager")
	require.NoError(t, err)

	require.NoError(t, f.payrolls.OverrideComponent(ctx, hra.ID, dec("10500")))
	before, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)

	_, err = f.overrides.Apply(ctx, override.ID, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.False(t, f.store.overrides[override.ID].IsApplied)
	after, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	assert.True(t, before.NetPay.Equal(after.NetPay))
}

func TestOverrideRejectsLoanRecoveryLine(t *testing.T) {
	f := newOverrideFixture(t)
	ctx := context.Background()
	loan, installments := disburseFlat(t, f.loans, "emp-1")
	run := f.processingRun(t, "emp-1")
	_, _, err := f.svc.ComputeEmployee(ctx, run.ID, "emp-1", "payroll")
	require.NoError(t, err)
	payroll, line := f.component(t, run.ID, "emp-1", LineLoan)

	_, err = f.overrides.Request(ctx, dto.RequestOverrideRequest{
		ComponentID: line.ID, NewValue: dec("0"), Reason: "skip this month", Category: "recovery",
	}, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	stale := &models.ManualOverride{
		ComponentID: line.ID, EmployeePayrollID: payroll.ID, PayrollRunID: run.ID,
		OriginalValue: line.ActualAmount, NewValue: dec("0"), Reason: "skip this month",
		Category: models.OverrideRecovery, Status: models.OverrideApproved, RequestedBy: "payroll",
	}
	require.NoError(t, f.store.Create(ctx, stale))
	_, err = f.overrides.Apply(ctx, stale.ID, "payroll")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	inst := f.loanStore.installments[installments[0].ID]
	assert.Equal(t, models.InstallmentPaid, inst.Status)
	assert.Equal(t, "1000.00", inst.AmountRecovered.StringFixed(2))
	assert.Equal(t, "1000.00", f.loanStore.loans[loan.ID].AmountRecovered.StringFixed(2))
	stored, err := f.svc.GetPayroll(ctx, payroll.ID)
	require.NoError(t, err)
	assert.Equal(t, "32000.00", stored.NetPay.StringFixed(2))
}
