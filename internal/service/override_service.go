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
	"github.com/noah-isme/payroll-engine/pkg/database"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

type overrideStore interface {
	Create(ctx context.Context, override *models.ManualOverride) error
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.ManualOverride, error)
	ListByRun(ctx context.Context, runID string) ([]models.ManualOverride, error)
	HasOpenForComponent(ctx context.Context, componentID string) (bool, error)
	Review(ctx context.Context, id string, status models.OverrideStatus, reviewer string, note *string, at time.Time) error
	MarkApplied(ctx context.Context, id, actor string, reconcile bool, at time.Time) error
}

type overridePayrolls interface {
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayroll, error)
	ListByRun(ctx context.Context, runID string) ([]models.EmployeePayroll, error)
	GetComponent(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayrollComponent, error)
	ListComponents(ctx context.Context, payrollID string) ([]models.EmployeePayrollComponent, error)
	OverrideComponent(ctx context.Context, id string, amount decimal.Decimal) error
	UpdateTotals(ctx context.Context, payroll *models.EmployeePayroll) error
}

type overrideRuns interface {
	GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.PayrollRun, error)
	UpdateTotals(ctx context.Context, run *models.PayrollRun) error
	FlagReconciliation(ctx context.Context, id string) error
}

// OverrideService runs the request, review and apply workflow for manual
// changes to snapshot lines.
type OverrideService struct {
	tx        txRunner
	store     overrideStore
	payrolls  overridePayrolls
	runs      overrideRuns
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewOverrideService constructs the service.
func NewOverrideService(tx txRunner, store overrideStore, payrolls overridePayrolls, runs overrideRuns, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideService{
		tx:        ensureTx(tx),
		store:     store,
		payrolls:  payrolls,
		runs:      runs,
		audit:     audit,
		metrics:   metrics,
		validator: ensureValidator(validate),
		logger:    logger,
		now:       time.Now,
	}
}

// Request records a pending override of one snapshot line. The original
// value is the line's current actual amount. A line takes one open override
// at a time, and loan recovery lines are changed through the loan ledger.
func (s *OverrideService) Request(ctx context.Context, req dto.RequestOverrideRequest, actorID string) (*models.ManualOverride, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.NewValue.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new value must not be negative")
	}

	var override *models.ManualOverride
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		component, err := s.payrolls.GetComponent(ctx, req.ComponentID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "payroll component not found", "failed to load payroll component")
		}
		if err := checkOverridable(component); err != nil {
			return err
		}
		open, err := s.store.HasOpenForComponent(ctx, component.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to check open overrides")
		}
		if open {
			return appErrors.Clone(appErrors.ErrConflict, "payroll component already has an open override")
		}
		payroll, err := s.payrolls.GetByID(ctx, component.EmployeePayrollID, repository.LockNone)
		if err != nil {
			return notFoundOr(err, "employee payroll not found", "failed to load employee payroll")
		}
		run, err := s.runs.GetByID(ctx, payroll.PayrollRunID, repository.LockForShare)
		if err != nil {
			return notFoundOr(err, "payroll run not found", "failed to load payroll run")
		}
		if run.Status == models.RunStatusCancelled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "payroll run is cancelled")
		}

		override = &models.ManualOverride{
			ComponentID:       component.ID,
			EmployeePayrollID: payroll.ID,
			PayrollRunID:      run.ID,
			OriginalValue:     component.ActualAmount,
			NewValue:          req.NewValue,
			Reason:            req.Reason,
			Category:          models.OverrideCategory(req.Category),
			Status:            models.OverridePending,
			RequestedBy:       actorID,
			RequestedAt:       s.now().UTC(),
		}
		if err := s.store.Create(ctx, override); err != nil {
			if database.IsUniqueViolation(err, repository.OverrideOpenConstraint) {
				return appErrors.Clone(appErrors.ErrConflict, "payroll component already has an open override")
			}
			return appErrors.Internal(err, "failed to create override")
		}
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityManualOverride,
			EntityID:   override.ID,
			Action:     models.AuditActionRequest,
			After:      override,
			ActorID:    actorID,
			Context:    map[string]interface{}{"componentCode": component.Code, "payrollRunId": run.ID},
		})
	})
	if err != nil {
		return nil, err
	}
	return override, nil
}

// Approve accepts a pending override.
func (s *OverrideService) Approve(ctx context.Context, id string, req dto.ReviewOverrideRequest, actorID string) (*models.ManualOverride, error) {
	return s.review(ctx, id, models.OverrideApproved, models.AuditActionApprove, req, actorID)
}

// Reject declines a pending override.
func (s *OverrideService) Reject(ctx context.Context, id string, req dto.ReviewOverrideRequest, actorID string) (*models.ManualOverride, error) {
	return s.review(ctx, id, models.OverrideRejected, models.AuditActionReject, req, actorID)
}

func (s *OverrideService) review(ctx context.Context, id string, status models.OverrideStatus, action string, req dto.ReviewOverrideRequest, actorID string) (*models.ManualOverride, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	var result *models.ManualOverride
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		override, err := s.store.GetByID(ctx, id, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "override not found", "failed to load override")
		}
		if override.Status != models.OverridePending {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition,
				fmt.Sprintf("override is already %s", override.Status))
		}
		before := *override
		at := s.now().UTC()
		if err := s.store.Review(ctx, id, status, actorID, note, at); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidStateTransition, "override was reviewed concurrently")
			}
			return appErrors.Internal(err, "failed to review override")
		}
		override.Status = status
		override.ReviewedBy = &actorID
		override.ReviewedAt = &at
		override.ReviewNote = note
		result = override
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityManualOverride,
			EntityID:   id,
			Action:     action,
			Before:     before,
			After:      override,
			ActorID:    actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Apply writes an approved override onto its line and re-sums the snapshot.
// Applying to a finalized or paid run flags it for reconciliation; statutory
// payments already aggregated are left as they are.
func (s *OverrideService) Apply(ctx context.Context, id, actorID string) (*models.ManualOverride, error) {
	var (
		result    *models.ManualOverride
		reconcile bool
		applied   bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		override, err := s.store.GetByID(ctx, id, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "override not found", "failed to load override")
		}
		if override.IsApplied {
			result = override
			return nil
		}
		if override.Status != models.OverrideApproved {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "only approved overrides can be applied")
		}

		run, err := s.runs.GetByID(ctx, override.PayrollRunID, repository.LockForShare)
		if err != nil {
			return notFoundOr(err, "payroll run not found", "failed to load payroll run")
		}
		if run.Status == models.RunStatusCancelled {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "payroll run is cancelled")
		}
		payroll, err := s.payrolls.GetByID(ctx, override.EmployeePayrollID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "employee payroll not found", "failed to load employee payroll")
		}
		netBefore := payroll.NetPay

		component, err := s.payrolls.GetComponent(ctx, override.ComponentID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "payroll component not found", "failed to load payroll component")
		}
		if err := checkOverridable(component); err != nil {
			return err
		}
		if !component.ActualAmount.Equal(override.OriginalValue) {
			return appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("payroll component is %s, override was raised against %s",
					component.ActualAmount.StringFixed(2), override.OriginalValue.StringFixed(2)))
		}

		if err := s.payrolls.OverrideComponent(ctx, override.ComponentID, override.NewValue); err != nil {
			return notFoundOr(err, "payroll component not found", "failed to override payroll component")
		}
		lines, err := s.payrolls.ListComponents(ctx, payroll.ID)
		if err != nil {
			return appErrors.Internal(err, "failed to load payroll components")
		}
		payroll.ApplyTotals(models.SumComponents(lines))
		if err := s.payrolls.UpdateTotals(ctx, payroll); err != nil {
			return appErrors.Internal(err, "failed to update payroll totals")
		}

		reconcile = run.Status == models.RunStatusFinalized || run.Status == models.RunStatusPaid
		if reconcile {
			if err := s.restampRun(ctx, run); err != nil {
				return err
			}
		}

		before := *override
		at := s.now().UTC()
		if err := s.store.MarkApplied(ctx, id, actorID, reconcile, at); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrConflict, "override was applied concurrently")
			}
			return appErrors.Internal(err, "failed to mark override applied")
		}
		override.IsApplied = true
		override.AppliedBy = &actorID
		override.AppliedAt = &at
		override.RequiresReconciliation = reconcile
		result, applied = override, true

		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityManualOverride,
			EntityID:   id,
			Action:     models.AuditActionApply,
			Before:     before,
			After:      override,
			ActorID:    actorID,
			Context: map[string]interface{}{
				"employeePayrollId":      payroll.ID,
				"netBefore":              netBefore.StringFixed(2),
				"netAfter":               payroll.NetPay.StringFixed(2),
				"requiresReconciliation": reconcile,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.metrics.RecordOverrideApplied(reconcile)
		if reconcile {
			s.logger.Warn("payroll run requires reconciliation",
				zap.String("run_id", result.PayrollRunID),
				zap.String("override_id", id),
				zap.String("delta", result.NewValue.Sub(result.OriginalValue).StringFixed(2)))
		}
	}
	return result, nil
}

func checkOverridable(component *models.EmployeePayrollComponent) error {
	if component.Source == models.SourceLoan {
		return appErrors.Clone(appErrors.ErrPreconditionFailed,
			"loan recovery lines follow the loan ledger and cannot be overridden")
	}
	return nil
}

// restampRun refreshes the totals of a closed run and flags it.
func (s *OverrideService) restampRun(ctx context.Context, run *models.PayrollRun) error {
	payrolls, err := s.payrolls.ListByRun(ctx, run.ID)
	if err != nil {
		return appErrors.Internal(err, "failed to load employee payrolls")
	}
	applyRunTotals(run, payrolls)
	if err := s.runs.UpdateTotals(ctx, run); err != nil {
		return appErrors.Internal(err, "failed to update payroll run totals")
	}
	if err := s.runs.FlagReconciliation(ctx, run.ID); err != nil {
		return appErrors.Internal(err, "failed to flag payroll run")
	}
	run.RequiresReconciliation = true
	return nil
}

// ListByRun returns every override raised against a run.
func (s *OverrideService) ListByRun(ctx context.Context, runID string) ([]models.ManualOverride, error) {
	overrides, err := s.store.ListByRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list overrides")
	}
	return overrides, nil
}
