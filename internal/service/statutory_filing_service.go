package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/export"
	"github.com/noah-isme/payroll-engine/pkg/storage"
)

const filingContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type filingStore interface {
	ListPaymentsByRun(ctx context.Context, runID string) ([]models.StatutoryPayment, error)
	GetPayment(ctx context.Context, id string, lock repository.LockMode) (*models.StatutoryPayment, error)
	RecordChallan(ctx context.Context, id, challan, receipt string, paidOn time.Time) error
}

type filingPayrolls interface {
	ListByRun(ctx context.Context, runID string) ([]models.EmployeePayroll, error)
	ListComponentsByRun(ctx context.Context, runID string) (map[string][]models.EmployeePayrollComponent, error)
}

type workbookRenderer interface {
	Render(sheets []export.Sheet) ([]byte, error)
}

// FilingWorkbook is a rendered statutory filing export.
type FilingWorkbook struct {
	Filename string
	Ref      string
	Data     []byte
}

// StatutoryFilingService exports the statutory payments of a closed run and
// records the challans filed against them.
type StatutoryFilingService struct {
	tx        txRunner
	store     filingStore
	runs      slipRuns
	payrolls  filingPayrolls
	employees employeeDirectory
	renderer  workbookRenderer
	objects   storage.ObjectStore
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
}

// StatutoryFilingDeps groups the collaborators of StatutoryFilingService.
type StatutoryFilingDeps struct {
	Tx        txRunner
	Store     filingStore
	Runs      slipRuns
	Payrolls  filingPayrolls
	Employees employeeDirectory
	Renderer  workbookRenderer
	Objects   storage.ObjectStore
	Audit     *AuditService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewStatutoryFilingService constructs the service. Objects may be nil, in
// which case workbooks are returned without being archived.
func NewStatutoryFilingService(deps StatutoryFilingDeps) *StatutoryFilingService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Renderer == nil {
		deps.Renderer = export.NewXLSXExporter()
	}
	return &StatutoryFilingService{
		tx:        ensureTx(deps.Tx),
		store:     deps.Store,
		runs:      deps.Runs,
		payrolls:  deps.Payrolls,
		employees: deps.Employees,
		renderer:  deps.Renderer,
		objects:   deps.Objects,
		audit:     deps.Audit,
		validator: ensureValidator(deps.Validator),
		logger:    deps.Logger,
	}
}

// ListPayments returns the statutory payments of a run.
func (s *StatutoryFilingService) ListPayments(ctx context.Context, runID string) ([]models.StatutoryPayment, error) {
	payments, err := s.store.ListPaymentsByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list statutory payments")
	}
	return payments, nil
}

// ExportWorkbook renders a summary sheet plus one detail sheet per
// statutory type with per-employee shares.
func (s *StatutoryFilingService) ExportWorkbook(ctx context.Context, runID string) (*FilingWorkbook, error) {
	run, err := s.runs.GetByID(ctx, runID, repository.LockNone)
	if err != nil {
		return nil, notFoundOr(err, "payroll run not found", "failed to load payroll run")
	}
	if run.Status != models.RunStatusFinalized && run.Status != models.RunStatusPaid {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "statutory filing requires a finalized run")
	}
	payments, err := s.store.ListPaymentsByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list statutory payments")
	}
	payrolls, err := s.payrolls.ListByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load employee payrolls")
	}
	lines, err := s.payrolls.ListComponentsByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load payroll components")
	}
	ids := make([]string, 0, len(payrolls))
	for _, p := range payrolls {
		ids = append(ids, p.EmployeeID)
	}
	directory := make(map[string]models.Employee, len(ids))
	if len(ids) > 0 {
		employees, err := s.employees.ListByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load employees")
		}
		for _, e := range employees {
			directory[e.ID] = e
		}
	}

	sheets := append([]export.Sheet{summarySheet(payments)}, detailSheets(payments, payrolls, lines, directory)...)
	data, err := s.renderer.Render(sheets)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render statutory workbook")
	}

	wb := &FilingWorkbook{
		Filename: fmt.Sprintf("statutory-%s-run%d.xlsx", run.Period().String(), run.RunNumber),
		Data:     data,
	}
	if s.objects != nil {
		ref, err := s.objects.Put(ctx, "filings/"+wb.Filename, data, filingContentType)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to archive statutory workbook")
		}
		wb.Ref = ref
	}
	s.logger.Info("statutory workbook exported", zap.String("run_id", runID), zap.Int("payments", len(payments)))
	return wb, nil
}

func summarySheet(payments []models.StatutoryPayment) export.Sheet {
	data := export.Dataset{Headers: []string{"type", "employee_share", "employer_share", "total", "employees", "status", "challan"}}
	total := decimal.Zero
	for _, p := range payments {
		data.Append(map[string]string{
			"type":           string(p.Type),
			"employee_share": p.EmployeeShare.StringFixed(2),
			"employer_share": p.EmployerShare.StringFixed(2),
			"total":          p.TotalAmount.StringFixed(2),
			"employees":      fmt.Sprint(p.EmployeeCount),
			"status":         string(p.Status),
			"challan":        models.Deref(p.ChallanNumber),
		})
		total = total.Add(p.TotalAmount)
	}
	data.Footer = map[string]string{"type": "TOTAL", "total": total.StringFixed(2)}
	return export.Sheet{Name: "Summary", Data: data, Numeric: []string{"employee_share", "employer_share", "total", "employees"}}
}

func detailSheets(payments []models.StatutoryPayment, payrolls []models.EmployeePayroll, lines map[string][]models.EmployeePayrollComponent, directory map[string]models.Employee) []export.Sheet {
	sheets := make([]export.Sheet, 0, len(payments))
	for _, payment := range payments {
		data := export.Dataset{Headers: []string{"employee_code", "employee_name", "registration", "employee_share", "employer_share"}}
		for _, p := range payrolls {
			employeeShare, employerShare := decimal.Zero, decimal.Zero
			for _, line := range lines[p.ID] {
				if line.SourceRef == nil || models.StatutoryType(*line.SourceRef) != payment.Type {
					continue
				}
				switch line.Kind {
				case models.ComponentKindDeduction:
					employeeShare = employeeShare.Add(line.ActualAmount)
				case models.ComponentKindEmployerContribution:
					employerShare = employerShare.Add(line.ActualAmount)
				}
			}
			if employeeShare.IsZero() && employerShare.IsZero() {
				continue
			}
			e := directory[p.EmployeeID]
			data.Append(map[string]string{
				"employee_code":  e.Code,
				"employee_name":  e.FullName,
				"registration":   registrationNumber(e, payment.Type),
				"employee_share": employeeShare.StringFixed(2),
				"employer_share": employerShare.StringFixed(2),
			})
		}
		data.Footer = map[string]string{
			"employee_code":  "TOTAL",
			"employee_share": payment.EmployeeShare.StringFixed(2),
			"employer_share": payment.EmployerShare.StringFixed(2),
		}
		sheets = append(sheets, export.Sheet{Name: string(payment.Type), Data: data, Numeric: []string{"employee_share", "employer_share"}})
	}
	return sheets
}

func registrationNumber(e models.Employee, t models.StatutoryType) string {
	switch t {
	case models.StatutoryPF:
		return models.Deref(e.PFNumber)
	case models.StatutoryESIC:
		return models.Deref(e.ESICNumber)
	}
	return ""
}

// RecordChallan writes back the challan and receipt of a filed payment.
func (s *StatutoryFilingService) RecordChallan(ctx context.Context, paymentID string, req dto.RecordChallanRequest, actorID string) (*models.StatutoryPayment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	var result *models.StatutoryPayment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, err := s.store.GetPayment(ctx, paymentID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "statutory payment not found", "failed to load statutory payment")
		}
		if payment.Status != models.StatutoryPaymentPending {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, "statutory payment is already filed")
		}
		before := *payment
		paidOn := models.DateOnly(req.PaidOn)
		if err := s.store.RecordChallan(ctx, paymentID, req.ChallanNumber, req.ReceiptReference, paidOn); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidStateTransition, "statutory payment was filed concurrently")
			}
			return appErrors.Internal(err, "failed to record challan")
		}
		payment.Status = models.StatutoryPaymentFiled
		payment.ChallanNumber = &req.ChallanNumber
		payment.ReceiptReference = &req.ReceiptReference
		payment.PaidOn = &paidOn
		result = payment
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityStatutoryPayment,
			EntityID:   paymentID,
			Action:     models.AuditActionRecordChallan,
			Before:     before,
			After:      payment,
			ActorID:    actorID,
			Context:    map[string]interface{}{"payrollRunId": payment.PayrollRunID, "type": string(payment.Type)},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
