package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/export"
	"github.com/noah-isme/payroll-engine/pkg/jobs"
	"github.com/noah-isme/payroll-engine/pkg/storage"
)

// SlipJobType tags salary slip jobs on the queue.
const SlipJobType = "salary_slip"

const (
	slipContentType  = "application/pdf"
	slipRecoverLimit = 200
)

type slipStore interface {
	GetByID(ctx context.Context, id string) (*models.SalarySlip, error)
	ListByRun(ctx context.Context, runID string) ([]models.SalarySlip, error)
	ListPending(ctx context.Context, limit int) ([]models.SalarySlip, error)
	MarkGenerated(ctx context.Context, id, ref string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type slipPayrolls interface {
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayroll, error)
	ListComponents(ctx context.Context, payrollID string) ([]models.EmployeePayrollComponent, error)
}

type slipRuns interface {
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.PayrollRun, error)
}

type slipEmployees interface {
	GetByID(ctx context.Context, id string) (*models.Employee, error)
}

type slipRenderer interface {
	RenderSlip(doc export.SlipDocument) ([]byte, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// SlipService dispatches salary slip rendering and hands out download
// tokens for rendered slips.
type SlipService struct {
	store   slipStore
	queue   jobDispatcher
	objects storage.ObjectStore
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
}

// NewSlipService constructs the service.
func NewSlipService(store slipStore, queue jobDispatcher, objects storage.ObjectStore, signer *storage.SignedURLSigner, logger *zap.Logger) *SlipService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlipService{store: store, queue: queue, objects: objects, signer: signer, logger: logger}
}

// DispatchRun enqueues every pending slip of a run.
func (s *SlipService) DispatchRun(ctx context.Context, runID string) error {
	slips, err := s.store.ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("list salary slips: %w", err)
	}
	var errs []error
	for _, slip := range slips {
		if slip.Status != models.SlipPending {
			continue
		}
		if err := s.queue.Enqueue(jobs.Job{ID: slip.ID, Type: SlipJobType}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue slip %s: %w", slip.ID, err))
		}
	}
	return errors.Join(errs...)
}

// RecoverPending replays slips left pending by a previous process.
func (s *SlipService) RecoverPending(ctx context.Context) {
	pending, err := s.store.ListPending(ctx, slipRecoverLimit)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending salary slips", "error", err)
		return
	}
	for _, slip := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: slip.ID, Type: SlipJobType}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue salary slip", "slip_id", slip.ID, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Sugar().Infow("salary slips requeued", "count", len(pending))
	}
}

// ListByRun returns the slips of a run.
func (s *SlipService) ListByRun(ctx context.Context, runID string) ([]models.SalarySlip, error) {
	slips, err := s.store.ListByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list salary slips")
	}
	return slips, nil
}

// DownloadToken signs a download token for a generated slip.
func (s *SlipService) DownloadToken(ctx context.Context, slipID string) (string, time.Time, error) {
	slip, err := s.store.GetByID(ctx, slipID)
	if err != nil {
		return "", time.Time{}, notFoundOr(err, "salary slip not found", "failed to load salary slip")
	}
	if slip.Status != models.SlipGenerated || slip.DocumentRef == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrPreconditionFailed, "salary slip is not generated yet")
	}
	token, expiresAt, err := s.signer.Generate(slip.EmployeeID, *slip.DocumentRef)
	if err != nil {
		return "", time.Time{}, appErrors.Internal(err, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// ResolveDownload validates a token and returns the document bytes.
func (s *SlipService) ResolveDownload(ctx context.Context, token string) ([]byte, error) {
	_, ref, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid download token")
	}
	data, err := s.objects.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "salary slip document not found")
		}
		return nil, appErrors.Internal(err, "failed to read salary slip document")
	}
	return data, nil
}

// SlipWorker renders queued salary slips.
type SlipWorker struct {
	slips     slipStore
	payrolls  slipPayrolls
	runs      slipRuns
	employees slipEmployees
	renderer  slipRenderer
	objects   storage.ObjectStore
	metrics   *MetricsService
	company   string
	logger    *zap.Logger
	now       func() time.Time
}

// SlipWorkerDeps groups the collaborators of SlipWorker.
type SlipWorkerDeps struct {
	Slips     slipStore
	Payrolls  slipPayrolls
	Runs      slipRuns
	Employees slipEmployees
	Renderer  slipRenderer
	Objects   storage.ObjectStore
	Metrics   *MetricsService
	Company   string
	Logger    *zap.Logger
}

// NewSlipWorker constructs a worker.
func NewSlipWorker(deps SlipWorkerDeps) *SlipWorker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Renderer == nil {
		deps.Renderer = export.NewPDFExporter()
	}
	return &SlipWorker{
		slips:     deps.Slips,
		payrolls:  deps.Payrolls,
		runs:      deps.Runs,
		employees: deps.Employees,
		renderer:  deps.Renderer,
		objects:   deps.Objects,
		metrics:   deps.Metrics,
		company:   deps.Company,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Handle renders and stores one slip. Already generated slips are skipped.
func (w *SlipWorker) Handle(ctx context.Context, job jobs.Job) error {
	slip, err := w.slips.GetByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load salary slip: %w", err)
	}
	if slip.Status != models.SlipPending {
		return nil
	}

	payroll, err := w.payrolls.GetByID(ctx, slip.EmployeePayrollID, repository.LockNone)
	if err != nil {
		return fmt.Errorf("load employee payroll: %w", err)
	}
	lines, err := w.payrolls.ListComponents(ctx, payroll.ID)
	if err != nil {
		return fmt.Errorf("load payroll components: %w", err)
	}
	run, err := w.runs.GetByID(ctx, slip.PayrollRunID, repository.LockNone)
	if err != nil {
		return fmt.Errorf("load payroll run: %w", err)
	}
	employee, err := w.employees.GetByID(ctx, slip.EmployeeID)
	if err != nil {
		return fmt.Errorf("load employee: %w", err)
	}

	payroll.Components = lines
	data, err := w.renderer.RenderSlip(BuildSlipDocument(w.company, run, employee, payroll))
	if err != nil {
		return fmt.Errorf("render salary slip: %w", err)
	}
	key := fmt.Sprintf("%s/%s/%s.pdf", run.Period().String(), run.ID, employee.Code)
	ref, err := w.objects.Put(ctx, key, data, slipContentType)
	if err != nil {
		return fmt.Errorf("store salary slip: %w", err)
	}
	if err := w.slips.MarkGenerated(ctx, slip.ID, ref, w.now().UTC()); err != nil {
		return fmt.Errorf("mark salary slip generated: %w", err)
	}
	w.metrics.RecordSlip(true)
	w.logger.Sugar().Infow("salary slip generated", "slip_id", slip.ID, "employee_id", slip.EmployeeID)
	return nil
}

// OnExhausted marks a slip failed once the queue gives up on it.
func (w *SlipWorker) OnExhausted(ctx context.Context, job jobs.Job, cause error) {
	w.metrics.RecordSlip(false)
	if err := w.slips.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Sugar().Warnw("failed to mark salary slip failed", "slip_id", job.ID, "error", err)
	}
}

// BuildSlipDocument lays out a snapshot for rendering.
func BuildSlipDocument(company string, run *models.PayrollRun, employee *models.Employee, payroll *models.EmployeePayroll) export.SlipDocument {
	doc := export.SlipDocument{
		CompanyName:  company,
		Period:       run.Period().Label(),
		EmployeeCode: employee.Code,
		EmployeeName: employee.FullName,
		Details: []export.SlipLine{
			{Label: "Working days", Amount: payroll.WorkingDays.StringFixed(1)},
			{Label: "Payable days", Amount: payroll.PayableDays.StringFixed(1)},
			{Label: "LOP days", Amount: payroll.LOPDays.StringFixed(1)},
			{Label: "Overtime hours", Amount: payroll.OvertimeHours.StringFixed(2)},
		},
		GrossPay:      payroll.GrossEarnings.StringFixed(2),
		TotalDeducted: payroll.TotalDeductions.StringFixed(2),
		NetPay:        payroll.NetPay.StringFixed(2),
	}
	if employee.PFNumber != nil {
		doc.Details = append(doc.Details, export.SlipLine{Label: "PF number", Amount: *employee.PFNumber})
	}
	if employee.ESICNumber != nil {
		doc.Details = append(doc.Details, export.SlipLine{Label: "ESIC number", Amount: *employee.ESICNumber})
	}
	for _, line := range payroll.Components {
		entry := export.SlipLine{Label: line.Name, Amount: line.ActualAmount.StringFixed(2)}
		switch line.Kind {
		case models.ComponentKindEarning:
			doc.Earnings = append(doc.Earnings, entry)
		case models.ComponentKindDeduction:
			doc.Deductions = append(doc.Deductions, entry)
		case models.ComponentKindEmployerContribution:
			doc.Contributions = append(doc.Contributions, entry)
		}
	}
	return doc
}
