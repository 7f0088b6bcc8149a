package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/storage"
)

func newFilingService(t *testing.T, f *runFixture, objects storage.ObjectStore) *StatutoryFilingService {
	t.Helper()
	return NewStatutoryFilingService(StatutoryFilingDeps{
		Store:     f.statutory,
		Runs:      f.runs,
		Payrolls:  f.payrolls,
		Employees: f.employees,
		Objects:   objects,
		Audit:     NewAuditService(f.audits, nil),
	})
}

func TestExportWorkbookRequiresClosedRun(t *testing.T) {
	f := newRunFixture(t)
	svc := newFilingService(t, f, nil)
	run := f.processingRun(t)

	_, err := svc.ExportWorkbook(context.Background(), run.ID)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = svc.ExportWorkbook(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportWorkbookWritesSummaryAndDetailSheets(t *testing.T) {
	f := newRunFixture(t)
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := newFilingService(t, f, objects)
	run := f.finalizedRun(t)
	ctx := context.Background()

	wb, err := svc.ExportWorkbook(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "statutory-2024-04-run1.xlsx", wb.Filename)
	assert.Equal(t, "filings/statutory-2024-04-run1.xlsx", wb.Ref)
	archived, err := objects.Get(ctx, wb.Ref)
	require.NoError(t, err)
	assert.Equal(t, wb.Data, archived)

	book, err := excelize.OpenReader(bytes.NewReader(wb.Data))
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"Summary", "PF", "PT"}, book.GetSheetList())

	summary, err := book.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 4)
	assert.Equal(t, []string{"PF", "5400", "5400", "10800", "3", "pending"}, summary[1])
	assert.Equal(t, "TOTAL", summary[3][0])
	assert.Equal(t, "11400", summary[3][3])

	pf, err := book.GetRows("PF")
	require.NoError(t, err)
	require.Len(t, pf, 5)
	var asha []string
	for _, row := range pf[1:4] {
		if row[0] == "E001" {
			asha = row
		}
	}
	assert.Equal(t, []string{"E001", "Asha Rao", "PF-1", "1800", "1800"}, asha)
}

func TestRecordChallanMarksPaymentFiled(t *testing.T) {
	f := newRunFixture(t)
	svc := newFilingService(t, f, nil)
	run := f.finalizedRun(t)
	ctx := context.Background()

	payments, err := svc.ListPayments(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	req := dto.RecordChallanRequest{ChallanNumber: "CH-0424", ReceiptReference: "TRRN-991", PaidOn: time.Date(2024, time.May, 14, 10, 30, 0, 0, time.UTC)}
	filed, err := svc.RecordChallan(ctx, payments[0].ID, req, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.StatutoryPaymentFiled, filed.Status)
	require.NotNil(t, filed.PaidOn)
	assert.Equal(t, date(2024, time.May, 14), *filed.PaidOn)

	_, err = svc.RecordChallan(ctx, payments[0].ID, req, "finance")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidStateTransition))

	_, err = svc.RecordChallan(ctx, "payment-99", req, "finance")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.RecordChallan(ctx, payments[1].ID, dto.RecordChallanRequest{PaidOn: req.PaidOn}, "finance")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	assert.Equal(t, []string{models.AuditActionRecordChallan}, f.audits.actions(models.EntityStatutoryPayment))
}
