package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payroll-engine/internal/models"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/export"
	"github.com/noah-isme/payroll-engine/pkg/jobs"
	"github.com/noah-isme/payroll-engine/pkg/storage"
)

type failingRenderer struct{}

func (failingRenderer) RenderSlip(export.SlipDocument) ([]byte, error) {
	return nil, errors.New("font missing")
}

type slipFixture struct {
	*runFixture
	run     *models.PayrollRun
	worker  *SlipWorker
	slipSvc *SlipService
	queue   *queueStub
	objects *storage.LocalStorage
}

func newSlipFixture(t *testing.T, renderer slipRenderer) *slipFixture {
	t.Helper()
	f := newRunFixture(t)
	run := f.finalizedRun(t)
	objects, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	queue := &queueStub{}
	return &slipFixture{
		runFixture: f,
		run:        run,
		queue:      queue,
		objects:    objects,
		slipSvc:    NewSlipService(f.slips, queue, objects, storage.NewSignedURLSigner("slip-secret", time.Hour), nil),
		worker: NewSlipWorker(SlipWorkerDeps{
			Slips:     f.slips,
			Payrolls:  f.payrolls,
			Runs:      f.runs,
			Employees: f.employees,
			Renderer:  renderer,
			Objects:   objects,
			Metrics:   f.metrics,
			Company:   "Acme Industries",
		}),
	}
}

func TestBuildSlipDocumentGroupsLines(t *testing.T) {
	pf := "PF-77"
	run := &models.PayrollRun{ID: "run-1", Month: 4, Year: 2024}
	employee := &models.Employee{ID: "emp-1", Code: "E001", FullName: "Asha Rao", PFNumber: &pf}
	payroll := &models.EmployeePayroll{
		WorkingDays: dec("26"), PayableDays: dec("25"), LOPDays: dec("1"), OvertimeHours: dec("0"),
		GrossEarnings: dec("35000"), TotalDeductions: dec("2000"), NetPay: dec("33000"),
		Components: []models.EmployeePayrollComponent{
			{Name: "Basic", Kind: models.ComponentKindEarning, ActualAmount: dec("25000")},
			{Name: "House Rent Allowance", Kind: models.ComponentKindEarning, ActualAmount: dec("10000")},
			{Name: "Provident Fund", Kind: models.ComponentKindDeduction, ActualAmount: dec("1800")},
			{Name: "Provident Fund (employer)", Kind: models.ComponentKindEmployerContribution, ActualAmount: dec("1800")},
		},
	}

	doc := BuildSlipDocument("Acme Industries", run, employee, payroll)
	assert.Equal(t, "April 2024", doc.Period)
	assert.Equal(t, "E001", doc.EmployeeCode)
	assert.Len(t, doc.Earnings, 2)
	assert.Len(t, doc.Deductions, 1)
	assert.Len(t, doc.Contributions, 1)
	assert.Equal(t, "33000.00", doc.NetPay)
	assert.Contains(t, doc.Details, export.SlipLine{Label: "PF number", Amount: "PF-77"})
	assert.Contains(t, doc.Details, export.SlipLine{Label: "LOP days", Amount: "1.0"})
}

func TestSlipWorkerRendersAndStoresDocument(t *testing.T) {
	f := newSlipFixture(t, nil)
	ctx := context.Background()

	slips, err := f.slipSvc.ListByRun(ctx, f.run.ID)
	require.NoError(t, err)
	require.Len(t, slips, 3)
	slip := slips[0]

	_, _, err = f.slipSvc.DownloadToken(ctx, slip.ID)
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed), "pending slips have no document")

	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: slip.ID, Type: SlipJobType}))
	stored, err := f.slips.GetByID(ctx, slip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlipGenerated, stored.Status)
	require.NotNil(t, stored.DocumentRef)
	assert.Contains(t, *stored.DocumentRef, "2024-04/"+f.run.ID+"/")
	assert.Equal(t, uint64(1), f.metrics.Snapshot().SlipsGenerated)

	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: slip.ID, Type: SlipJobType}), "generated slips are skipped")
	again, err := f.slips.GetByID(ctx, slip.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Attempts)

	token, expiresAt, err := f.slipSvc.DownloadToken(ctx, slip.ID)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	data, err := f.slipSvc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data[:4]))

	_, err = f.slipSvc.ResolveDownload(ctx, token+"x")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	require.NoError(t, f.objects.Delete(ctx, *stored.DocumentRef))
	_, err = f.slipSvc.ResolveDownload(ctx, token)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSlipWorkerFailureMarksSlipFailed(t *testing.T) {
	f := newSlipFixture(t, failingRenderer{})
	ctx := context.Background()
	slips, err := f.slipSvc.ListByRun(ctx, f.run.ID)
	require.NoError(t, err)
	job := jobs.Job{ID: slips[0].ID, Type: SlipJobType}

	err = f.worker.Handle(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "font missing")

	f.worker.OnExhausted(ctx, job, err)
	stored, err := f.slips.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SlipFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "font missing")
	assert.Equal(t, uint64(1), f.metrics.Snapshot().SlipsFailed)

	assert.Error(t, f.worker.Handle(ctx, jobs.Job{ID: "slip-missing", Type: SlipJobType}))
}

func TestSlipDispatchEnqueuesPendingSlips(t *testing.T) {
	f := newSlipFixture(t, nil)
	ctx := context.Background()
	slips, err := f.slipSvc.ListByRun(ctx, f.run.ID)
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, jobs.Job{ID: slips[0].ID, Type: SlipJobType}))

	require.NoError(t, f.slipSvc.DispatchRun(ctx, f.run.ID))
	require.Len(t, f.queue.jobs, 2, "generated slips are not re-queued")
	for _, job := range f.queue.jobs {
		assert.Equal(t, SlipJobType, job.Type)
		assert.NotEqual(t, slips[0].ID, job.ID)
	}

	f.queue.jobs = nil
	f.slipSvc.RecoverPending(ctx)
	assert.Len(t, f.queue.jobs, 2)

	f.queue.err = errors.New("queue full")
	err = f.slipSvc.DispatchRun(ctx, f.run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}
