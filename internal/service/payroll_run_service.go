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
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	"github.com/noah-isme/payroll-engine/pkg/cache"
	"github.com/noah-isme/payroll-engine/pkg/database"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/export"
)

type runStore interface {
	Create(ctx context.Context, run *models.PayrollRun) error
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.PayrollRun, error)
	ListByPeriod(ctx context.Context, period models.Period) ([]models.PayrollRun, error)
	Transition(ctx context.Context, run *models.PayrollRun, from models.RunStatus) error
	AddRoster(ctx context.Context, runID string, employeeIDs []string) error
	ListRoster(ctx context.Context, runID string) ([]string, error)
	IsEnrolled(ctx context.Context, runID, employeeID string) (bool, error)
}

type payrollStore interface {
	InsertIfAbsent(ctx context.Context, payroll *models.EmployeePayroll) (bool, error)
	InsertComponents(ctx context.Context, payrollID string, lines []models.EmployeePayrollComponent) error
	GetByRunAndEmployee(ctx context.Context, runID, employeeID string) (*models.EmployeePayroll, error)
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayroll, error)
	ListByRun(ctx context.Context, runID string) ([]models.EmployeePayroll, error)
	ListComponents(ctx context.Context, payrollID string) ([]models.EmployeePayrollComponent, error)
	ListComponentsByRun(ctx context.Context, runID string) (map[string][]models.EmployeePayrollComponent, error)
	SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus, reason *string) error
	MarkRunPaid(ctx context.Context, runID string, paidAt time.Time) (int64, error)
}

type employeeDirectory interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Employee, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

type structureResolver interface {
	GetEffectiveStructure(ctx context.Context, employeeID string, date time.Time) (*models.CompensationStructure, error)
}

type lockedAttendance interface {
	GetLockedSummary(ctx context.Context, employeeID string, period models.Period) (*models.MonthlyAttendanceSummary, error)
}

type loanLedger interface {
	DueInstallments(ctx context.Context, employeeID string, period models.Period, runID string) ([]models.LoanInstallment, error)
	LinkRecovery(ctx context.Context, installmentID string, amount decimal.Decimal, runID string) (*models.LoanInstallment, bool, error)
	ReleaseRun(ctx context.Context, runID string) ([]string, error)
}

type statutoryStore interface {
	CreatePayments(ctx context.Context, payments []models.StatutoryPayment) error
	GetTDS(ctx context.Context, employeeID string, period models.Period) (decimal.Decimal, error)
}

type slipOutbox interface {
	CreatePending(ctx context.Context, slips []models.SalarySlip) error
}

type slipDispatcher interface {
	DispatchRun(ctx context.Context, runID string) error
}

type runLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// PayrollRunConfig tunes computation.
type PayrollRunConfig struct {
	StandardHoursPerDay decimal.Decimal
	ComputeConcurrency  int
	Currency            string
}

// PayrollRunDeps groups the collaborators of PayrollRunService.
type PayrollRunDeps struct {
	Tx         txRunner
	Runs       runStore
	Payrolls   payrollStore
	Employees  employeeDirectory
	Structures structureResolver
	Attendance lockedAttendance
	Loans      loanLedger
	Statutory  statutoryStore
	Slips      slipOutbox
	Dispatcher slipDispatcher
	Locker     runLocker
	Audit      *AuditService
	Metrics    *MetricsService
	Rules      *StatutoryRules
	Validator  *validator.Validate
	Logger     *zap.Logger
}

// PayrollRunService drives a monthly run from draft to paid and computes
// the per-employee snapshots inside it.
type PayrollRunService struct {
	deps      PayrollRunDeps
	cfg       PayrollRunConfig
	tx        txRunner
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewPayrollRunService constructs the service.
func NewPayrollRunService(deps PayrollRunDeps, cfg PayrollRunConfig) *PayrollRunService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = cache.NewLocker(nil, "payroll:run:", time.Minute)
	}
	if cfg.ComputeConcurrency <= 0 {
		cfg.ComputeConcurrency = 4
	}
	if !cfg.StandardHoursPerDay.IsPositive() {
		cfg.StandardHoursPerDay = decimal.NewFromInt(8)
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &PayrollRunService{
		deps:      deps,
		cfg:       cfg,
		tx:        ensureTx(deps.Tx),
		validator: ensureValidator(deps.Validator),
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// CreateRun opens a draft run for a period.
func (s *PayrollRunService) CreateRun(ctx context.Context, req dto.CreateRunRequest, actorID string) (*models.PayrollRun, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.RunNumber == 0 {
		req.RunNumber = 1
	}
	now := s.now().UTC()
	run := &models.PayrollRun{
		Month:             req.Month,
		Year:              req.Year,
		RunNumber:         req.RunNumber,
		Status:            models.RunStatusDraft,
		TotalGross:        decimal.Zero,
		TotalDeductions:   decimal.Zero,
		TotalEmployerCost: decimal.Zero,
		TotalNet:          decimal.Zero,
		CreatedBy:         actorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.deps.Runs.Create(ctx, run); err != nil {
			if database.IsUniqueViolation(err, repository.RunUniqueConstraint) {
				return appErrors.Clone(appErrors.ErrConflict,
					fmt.Sprintf("run %d already exists for %s", run.RunNumber, run.Period()))
			}
			return appErrors.Internal(err, "failed to create payroll run")
		}
		return s.deps.Audit.Record(ctx, AuditRecord{
			EntityType: models.EntityPayrollRun,
			EntityID:   run.ID,
			Action:     models.AuditActionCreate,
			After:      run,
			ActorID:    actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordRunTransition(string(models.RunStatusDraft))
	s.logger.Info("payroll run created", zap.String("run_id", run.ID), zap.String("period", run.Period().String()))
	return run, nil
}

// GetRun returns a run by ID.
func (s *PayrollRunService) GetRun(ctx context.Context, id string) (*models.PayrollRun, error) {
	run, err := s.deps.Runs.GetByID(ctx, id, repository.LockNone)
	if err != nil {
		return nil, notFoundOr(err, "payroll run not found", "failed to load payroll run")
	}
	return run, nil
}

// ListRuns returns every run of a period.
func (s *PayrollRunService) ListRuns(ctx context.Context, period models.Period) ([]models.PayrollRun, error) {
	if err := period.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	runs, err := s.deps.Runs.ListByPeriod(ctx, period)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list payroll runs")
	}
	return runs, nil
}

// GetPayroll returns one snapshot with its lines.
func (s *PayrollRunService) GetPayroll(ctx context.Context, id string) (*models.EmployeePayroll, error) {
	payroll, err := s.deps.Payrolls.GetByID(ctx, id, repository.LockNone)
	if err != nil {
		return nil, notFoundOr(err, "employee payroll not found", "failed to load employee payroll")
	}
	lines, err := s.deps.Payrolls.ListComponents(ctx, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load payroll components")
	}
	payroll.Components = lines
	return payroll, nil
}

// transitionStep mutates the locked run before its status is advanced and
// returns extra audit context.
type transitionStep func(ctx context.Context, run *models.PayrollRun) (map[string]interface{}, error)

// transition moves a run to status `to` under the run lock, a row lock and a
// status compare-and-set, auditing the change with action.
func (s *PayrollRunService) transition(ctx context.Context, runID string, to models.RunStatus, action, actorID string, step transitionStep) (*models.PayrollRun, error) {
	release, err := s.deps.Locker.Acquire(ctx, runID)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "payroll run is being modified")
		}
		return nil, appErrors.Internal(err, "failed to lock payroll run")
	}
	defer release()

	var result *models.PayrollRun
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.deps.Runs.GetByID(ctx, runID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "payroll run not found", "failed to load payroll run")
		}
		if !run.Status.CanTransitionTo(to) {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition,
				fmt.Sprintf("payroll run cannot move from %s to %s", run.Status, to))
		}
		before := *run
		from := run.Status

		auditCtx := map[string]interface{}{"from": string(from), "to": string(to)}
		if step != nil {
			extra, err := step(ctx, run)
			if err != nil {
				return err
			}
			for k, v := range extra {
				auditCtx[k] = v
			}
		}

		run.Status = to
		run.UpdatedAt = s.now().UTC()
		if err := s.deps.Runs.Transition(ctx, run, from); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidStateTransition, "payroll run status changed concurrently")
			}
			return appErrors.Internal(err, "failed to update payroll run")
		}
		result = run
		return s.deps.Audit.Record(ctx, AuditRecord{
			EntityType: models.EntityPayrollRun,
			EntityID:   run.ID,
			Action:     action,
			Before:     before,
			After:      run,
			ActorID:    actorID,
			Context:    auditCtx,
		})
	})
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.RecordRunTransition(string(to))
	s.logger.Info("payroll run transitioned",
		zap.String("run_id", runID), zap.String("status", string(to)), zap.String("actor_id", actorID))
	return result, nil
}

// StartProcessing enrols the roster and moves a draft run to processing.
func (s *PayrollRunService) StartProcessing(ctx context.Context, runID string, req dto.StartProcessingRequest, actorID string) (*models.PayrollRun, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return s.transition(ctx, runID, models.RunStatusProcessing, models.AuditActionStartProcessing, actorID,
		func(ctx context.Context, run *models.PayrollRun) (map[string]interface{}, error) {
			ids, err := s.resolveRoster(ctx, req.EmployeeIDs)
			if err != nil {
				return nil, err
			}
			if err := s.deps.Runs.AddRoster(ctx, run.ID, ids); err != nil {
				return nil, appErrors.Internal(err, "failed to enrol employees")
			}
			now := s.now().UTC()
			run.ProcessedAt = &now
			run.EmployeeCount = len(ids)
			return map[string]interface{}{"enrolled": len(ids)}, nil
		})
}

func (s *PayrollRunService) resolveRoster(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) == 0 {
		ids, err := s.deps.Employees.ListActiveIDs(ctx)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to list active employees")
		}
		if len(ids) == 0 {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active employees to enrol")
		}
		return ids, nil
	}

	unique := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	employees, err := s.deps.Employees.ListByIDs(ctx, unique)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load employees")
	}
	found := make(map[string]models.Employee, len(employees))
	for _, e := range employees {
		found[e.ID] = e
	}
	for _, id := range unique {
		e, ok := found[id]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("employee %s not found", id))
		}
		if e.Status != models.EmployeeStatusActive {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("employee %s is not active", e.Code))
		}
	}
	return unique, nil
}

// ComputeEmployee computes and persists one employee's snapshot. A retry with
// unchanged inputs returns the stored snapshot with existing set.
func (s *PayrollRunService) ComputeEmployee(ctx context.Context, runID, employeeID, actorID string) (payroll *models.EmployeePayroll, existing bool, err error) {
	started := time.Now()
	defer func() {
		outcome := models.OutcomeComputed
		switch {
		case err != nil:
			outcome = models.OutcomeFailed
		case existing:
			outcome = models.OutcomeExisting
		}
		s.deps.Metrics.RecordEmployeeCompute(outcome, time.Since(started))
	}()

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		run, err := s.deps.Runs.GetByID(ctx, runID, repository.LockForShare)
		if err != nil {
			return notFoundOr(err, "payroll run not found", "failed to load payroll run")
		}
		if run.Status != models.RunStatusProcessing {
			return appErrors.Clone(appErrors.ErrPreconditionFailed,
				fmt.Sprintf("payroll run is %s, not processing", run.Status))
		}
		enrolled, err := s.deps.Runs.IsEnrolled(ctx, runID, employeeID)
		if err != nil {
			return appErrors.Internal(err, "failed to check run roster")
		}
		if !enrolled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "employee is not enrolled in the payroll run")
		}

		in, err := s.gatherInputs(ctx, run, employeeID)
		if err != nil {
			return err
		}
		result, err := CalculatePayroll(in, s.deps.Rules)
		if err != nil {
			return appErrors.Internal(err, "failed to calculate payroll")
		}

		now := s.now().UTC()
		snapshot := &models.EmployeePayroll{
			PayrollRunID:     run.ID,
			EmployeeID:       employeeID,
			StructureID:      in.Structure.ID,
			StructureVersion: in.Structure.Version,
			AttendanceID:     in.Attendance.ID,
			WorkingDays:      in.Attendance.WorkingDays,
			PayableDays:      in.Attendance.PayableDays,
			LOPDays:          in.Attendance.LOPDays,
			OvertimeHours:    in.Attendance.OvertimeHours,
			PaymentStatus:    models.PaymentPending,
			InputHash:        result.InputHash,
			ComputedBy:       actorID,
			ComputedAt:       now,
			UpdatedAt:        now,
		}
		snapshot.ApplyTotals(result.Totals)

		inserted, err := s.deps.Payrolls.InsertIfAbsent(ctx, snapshot)
		if err != nil {
			return appErrors.Internal(err, "failed to store employee payroll")
		}
		if !inserted {
			stored, err := s.deps.Payrolls.GetByRunAndEmployee(ctx, runID, employeeID)
			if err != nil {
				return appErrors.Internal(err, "failed to load existing employee payroll")
			}
			if stored.InputHash != result.InputHash {
				return appErrors.Clone(appErrors.ErrConflict,
					"employee payroll already computed from different inputs")
			}
			lines, err := s.deps.Payrolls.ListComponents(ctx, stored.ID)
			if err != nil {
				return appErrors.Internal(err, "failed to load payroll components")
			}
			stored.Components = lines
			payroll, existing = stored, true
			return nil
		}

		if err := s.deps.Payrolls.InsertComponents(ctx, snapshot.ID, result.Lines); err != nil {
			return appErrors.Internal(err, "failed to store payroll components")
		}
		snapshot.Components = result.Lines
		for _, r := range result.Recoveries {
			if _, _, err := s.deps.Loans.LinkRecovery(ctx, r.InstallmentID, r.Amount, run.ID); err != nil {
				return err
			}
		}

		payroll = snapshot
		return s.deps.Audit.Record(ctx, AuditRecord{
			EntityType: models.EntityEmployeePayroll,
			EntityID:   snapshot.ID,
			Action:     models.AuditActionCompute,
			After:      snapshot,
			ActorID:    actorID,
			Context: map[string]interface{}{
				"payrollRunId":     run.ID,
				"structureVersion": in.Structure.Version,
				"inputHash":        result.InputHash,
				"loanRecoveries":   len(result.Recoveries),
			},
		})
	})
	if err != nil {
		return nil, false, err
	}
	if !existing {
		s.logger.Info("employee payroll computed",
			zap.String("run_id", runID),
			zap.String("employee_id", employeeID),
			zap.String("net_pay", payroll.NetPay.StringFixed(2)))
	}
	return payroll, existing, nil
}

func (s *PayrollRunService) gatherInputs(ctx context.Context, run *models.PayrollRun, employeeID string) (CalculationInput, error) {
	period := run.Period()
	structure, err := s.deps.Structures.GetEffectiveStructure(ctx, employeeID, period.End())
	if err != nil {
		return CalculationInput{}, err
	}
	summary, err := s.deps.Attendance.GetLockedSummary(ctx, employeeID, period)
	if err != nil {
		return CalculationInput{}, err
	}
	installments, err := s.deps.Loans.DueInstallments(ctx, employeeID, period, run.ID)
	if err != nil {
		return CalculationInput{}, err
	}
	tds := decimal.Zero
	if structure.TDSEnabled {
		if tds, err = s.deps.Statutory.GetTDS(ctx, employeeID, period); err != nil {
			return CalculationInput{}, appErrors.Internal(err, "failed to load tds declaration")
		}
	}
	return CalculationInput{
		Structure:           structure,
		Attendance:          summary,
		Installments:        installments,
		RunID:               run.ID,
		TDS:                 tds,
		StandardHoursPerDay: s.cfg.StandardHoursPerDay,
	}, nil
}

// ProcessRun computes every enrolled employee with bounded concurrency. A
// failed employee is reported in its outcome and does not stop the others.
func (s *PayrollRunService) ProcessRun(ctx context.Context, runID, actorID string) ([]models.RunComputeOutcome, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusProcessing {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed,
			fmt.Sprintf("payroll run is %s, not processing", run.Status))
	}
	roster, err := s.deps.Runs.ListRoster(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load run roster")
	}

	outcomes := make([]models.RunComputeOutcome, len(roster))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ComputeConcurrency)
	for i, employeeID := range roster {
		i, employeeID := i, employeeID
		g.Go(func() error {
			outcome := models.RunComputeOutcome{EmployeeID: employeeID}
			payroll, existing, err := s.ComputeEmployee(gctx, runID, employeeID, actorID)
			switch {
			case err != nil:
				outcome.Status = models.OutcomeFailed
				outcome.Error = err.Error()
				s.logger.Warn("employee payroll failed",
					zap.String("run_id", runID), zap.String("employee_id", employeeID), zap.Error(err))
			case existing:
				outcome.Status = models.OutcomeExisting
				outcome.PayrollID = payroll.ID
			default:
				outcome.Status = models.OutcomeComputed
				outcome.PayrollID = payroll.ID
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Finalize freezes a fully computed run: it stamps totals, aggregates the
// statutory payments and queues one salary slip per snapshot.
func (s *PayrollRunService) Finalize(ctx context.Context, runID, actorID string) (*models.PayrollRun, error) {
	run, err := s.transition(ctx, runID, models.RunStatusFinalized, models.AuditActionFinalize, actorID,
		func(ctx context.Context, run *models.PayrollRun) (map[string]interface{}, error) {
			roster, err := s.deps.Runs.ListRoster(ctx, run.ID)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load run roster")
			}
			payrolls, err := s.deps.Payrolls.ListByRun(ctx, run.ID)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load employee payrolls")
			}
			computed := make(map[string]struct{}, len(payrolls))
			for _, p := range payrolls {
				computed[p.EmployeeID] = struct{}{}
			}
			missing := 0
			for _, id := range roster {
				if _, ok := computed[id]; !ok {
					missing++
				}
			}
			if missing > 0 {
				return nil, appErrors.Clone(appErrors.ErrIncomplete,
					fmt.Sprintf("%d of %d enrolled employees have no computed payroll", missing, len(roster)))
			}

			lines, err := s.deps.Payrolls.ListComponentsByRun(ctx, run.ID)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to load payroll components")
			}
			now := s.now().UTC()
			applyRunTotals(run, payrolls)
			run.FinalizedBy = &actorID
			run.FinalizedAt = &now

			payments := AggregateStatutory(run.ID, lines)
			if len(payments) > 0 {
				if err := s.deps.Statutory.CreatePayments(ctx, payments); err != nil {
					return nil, appErrors.Internal(err, "failed to store statutory payments")
				}
			}
			slips := make([]models.SalarySlip, 0, len(payrolls))
			for _, p := range payrolls {
				slips = append(slips, models.SalarySlip{
					EmployeePayrollID: p.ID,
					PayrollRunID:      run.ID,
					EmployeeID:        p.EmployeeID,
					Status:            models.SlipPending,
					CreatedAt:         now,
				})
			}
			if len(slips) > 0 {
				if err := s.deps.Slips.CreatePending(ctx, slips); err != nil {
					return nil, appErrors.Internal(err, "failed to queue salary slips")
				}
			}
			return map[string]interface{}{
				"employees":         len(payrolls),
				"statutoryPayments": len(payments),
				"totalNet":          run.TotalNet.StringFixed(2),
			}, nil
		})
	if err != nil {
		return nil, err
	}

	if s.deps.Dispatcher != nil {
		if err := s.deps.Dispatcher.DispatchRun(ctx, run.ID); err != nil {
			s.logger.Warn("salary slip dispatch failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return run, nil
}

func applyRunTotals(run *models.PayrollRun, payrolls []models.EmployeePayroll) {
	run.EmployeeCount = len(payrolls)
	run.TotalGross, run.TotalDeductions = decimal.Zero, decimal.Zero
	run.TotalEmployerCost, run.TotalNet = decimal.Zero, decimal.Zero
	for _, p := range payrolls {
		run.TotalGross = run.TotalGross.Add(p.GrossEarnings)
		run.TotalDeductions = run.TotalDeductions.Add(p.TotalDeductions)
		run.TotalEmployerCost = run.TotalEmployerCost.Add(p.EmployerCost)
		run.TotalNet = run.TotalNet.Add(p.NetPay)
	}
}

// AggregateStatutory sums statutory and TDS lines per type across a run's
// snapshots. Types nobody contributed to are omitted.
func AggregateStatutory(runID string, linesByPayroll map[string][]models.EmployeePayrollComponent) []models.StatutoryPayment {
	type agg struct {
		employee  decimal.Decimal
		employer  decimal.Decimal
		employees map[string]struct{}
	}
	totals := make(map[models.StatutoryType]*agg)
	for payrollID, lines := range linesByPayroll {
		for _, line := range lines {
			if line.SourceRef == nil || (line.Source != models.SourceStatutory && line.Source != models.SourceTDS) {
				continue
			}
			t := models.StatutoryType(*line.SourceRef)
			a, ok := totals[t]
			if !ok {
				a = &agg{employee: decimal.Zero, employer: decimal.Zero, employees: make(map[string]struct{})}
				totals[t] = a
			}
			switch line.Kind {
			case models.ComponentKindDeduction:
				a.employee = a.employee.Add(line.ActualAmount)
			case models.ComponentKindEmployerContribution:
				a.employer = a.employer.Add(line.ActualAmount)
			default:
				continue
			}
			a.employees[payrollID] = struct{}{}
		}
	}

	var payments []models.StatutoryPayment
	for _, t := range models.StatutoryTypes {
		a, ok := totals[t]
		if !ok || (a.employee.IsZero() && a.employer.IsZero()) {
			continue
		}
		payments = append(payments, models.StatutoryPayment{
			PayrollRunID:  runID,
			Type:          t,
			EmployeeShare: a.employee,
			EmployerShare: a.employer,
			TotalAmount:   a.employee.Add(a.employer),
			EmployeeCount: len(a.employees),
			Status:        models.StatutoryPaymentPending,
		})
	}
	return payments
}

// MarkPaid records disbursement. Held snapshots stay on hold.
func (s *PayrollRunService) MarkPaid(ctx context.Context, runID string, req dto.MarkPaidRequest, actorID string) (*models.PayrollRun, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return s.transition(ctx, runID, models.RunStatusPaid, models.AuditActionMarkPaid, actorID,
		func(ctx context.Context, run *models.PayrollRun) (map[string]interface{}, error) {
			paidAt := req.PaymentDate.UTC()
			paid, err := s.deps.Payrolls.MarkRunPaid(ctx, run.ID, paidAt)
			if err != nil {
				return nil, appErrors.Internal(err, "failed to mark employee payrolls paid")
			}
			reference := req.PaymentReference
			run.PaymentDate = &paidAt
			run.PaymentReference = &reference
			return map[string]interface{}{"paidEmployees": paid, "paymentReference": reference}, nil
		})
}

// Cancel abandons a draft or processing run. Snapshots are kept; loan
// installments it recovered become due again.
func (s *PayrollRunService) Cancel(ctx context.Context, runID string, req dto.CancelRunRequest, actorID string) (*models.PayrollRun, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	return s.transition(ctx, runID, models.RunStatusCancelled, models.AuditActionCancel, actorID,
		func(ctx context.Context, run *models.PayrollRun) (map[string]interface{}, error) {
			released, err := s.deps.Loans.ReleaseRun(ctx, run.ID)
			if err != nil {
				return nil, err
			}
			reason := req.Reason
			run.CancelReason = &reason
			return map[string]interface{}{"reason": reason, "releasedInstallments": released}, nil
		})
}

// SetPaymentHold withholds or releases one employee's pay.
func (s *PayrollRunService) SetPaymentHold(ctx context.Context, payrollID string, req dto.PaymentHoldRequest, actorID string) (*models.EmployeePayroll, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	from, to, action := models.PaymentPending, models.PaymentHold, models.AuditActionHold
	var reason *string
	if req.Hold {
		r := req.Reason
		reason = &r
	} else {
		from, to, action = models.PaymentHold, models.PaymentPending, models.AuditActionReleaseHold
	}

	var result *models.EmployeePayroll
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payroll, err := s.deps.Payrolls.GetByID(ctx, payrollID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "employee payroll not found", "failed to load employee payroll")
		}
		run, err := s.deps.Runs.GetByID(ctx, payroll.PayrollRunID, repository.LockForShare)
		if err != nil {
			return notFoundOr(err, "payroll run not found", "failed to load payroll run")
		}
		if run.Status == models.RunStatusCancelled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "payroll run is cancelled")
		}
		if payroll.PaymentStatus != from {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition,
				fmt.Sprintf("payment is %s, expected %s", payroll.PaymentStatus, from))
		}
		before := *payroll
		if err := s.deps.Payrolls.SetPaymentStatus(ctx, payrollID, from, to, reason); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidStateTransition, "payment status changed concurrently")
			}
			return appErrors.Internal(err, "failed to update payment status")
		}
		payroll.PaymentStatus = to
		payroll.HoldReason = reason
		result = payroll
		return s.deps.Audit.Record(ctx, AuditRecord{
			EntityType: models.EntityEmployeePayroll,
			EntityID:   payroll.ID,
			Action:     action,
			Before:     before,
			After:      payroll,
			ActorID:    actorID,
			Context:    map[string]interface{}{"payrollRunId": run.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

var bankAdviceHeaders = []string{
	"employee_code", "employee_name", "bank_name", "account_number", "ifsc", "amount", "currency", "reference",
}

// BankAdvice renders the disbursement CSV of a paid run. Held snapshots are
// left out.
func (s *PayrollRunService) BankAdvice(ctx context.Context, runID string) ([]byte, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusPaid {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "bank advice requires a paid run")
	}
	payrolls, err := s.deps.Payrolls.ListByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load employee payrolls")
	}

	ids := make([]string, 0, len(payrolls))
	for _, p := range payrolls {
		if p.PaymentStatus == models.PaymentPaid {
			ids = append(ids, p.EmployeeID)
		}
	}
	directory := make(map[string]models.Employee, len(ids))
	if len(ids) > 0 {
		employees, err := s.deps.Employees.ListByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Internal(err, "failed to load employees")
		}
		for _, e := range employees {
			directory[e.ID] = e
		}
	}

	data := export.Dataset{Headers: bankAdviceHeaders}
	total := decimal.Zero
	for _, p := range payrolls {
		if p.PaymentStatus != models.PaymentPaid {
			continue
		}
		e := directory[p.EmployeeID]
		data.Append(map[string]string{
			"employee_code":  e.Code,
			"employee_name":  e.FullName,
			"bank_name":      models.Deref(e.BankName),
			"account_number": models.Deref(e.BankAccount),
			"ifsc":           models.Deref(e.BankIFSC),
			"amount":         p.NetPay.StringFixed(2),
			"currency":       s.cfg.Currency,
			"reference":      models.Deref(run.PaymentReference),
		})
		total = total.Add(p.NetPay)
	}
	data.Footer = map[string]string{"employee_code": "TOTAL", "amount": total.StringFixed(2), "currency": s.cfg.Currency}

	out, err := export.NewCSVExporter().Render(data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render bank advice")
	}
	return out, nil
}
