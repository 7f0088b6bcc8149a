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
)

type loanStore interface {
	CreateLoan(ctx context.Context, loan *models.Loan) error
	CreateInstallments(ctx context.Context, installments []models.LoanInstallment) error
	GetLoan(ctx context.Context, id string, lock repository.LockMode) (*models.Loan, error)
	ListLoansByEmployee(ctx context.Context, employeeID string) ([]models.Loan, error)
	GetInstallment(ctx context.Context, id string, lock repository.LockMode) (*models.LoanInstallment, error)
	ListInstallments(ctx context.Context, loanID string) ([]models.LoanInstallment, error)
	ListDue(ctx context.Context, employeeID string, period models.Period, runID string) ([]models.LoanInstallment, error)
	LinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus, at time.Time) error
	UnlinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus) error
	ListLinkedToRun(ctx context.Context, runID string) ([]models.LoanInstallment, error)
	UpdateBalance(ctx context.Context, loan *models.Loan) error
	CountOpenInstallments(ctx context.Context, loanID string) (int, error)
	WaiveOpenInstallments(ctx context.Context, loanID string) (int64, error)
}

// LoanService disburses employee loans and records their recovery through
// payroll runs. An installment is linked to at most one run.
type LoanService struct {
	tx        txRunner
	store     loanStore
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewLoanService constructs the service.
func NewLoanService(tx txRunner, store loanStore, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *LoanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoanService{
		tx:        ensureTx(tx),
		store:     store,
		audit:     audit,
		validator: ensureValidator(validate),
		logger:    logger,
		now:       time.Now,
	}
}

// Disburse creates a loan and its installment schedule.
func (s *LoanService) Disburse(ctx context.Context, req dto.DisburseLoanRequest, actorID string) (*models.Loan, []models.LoanInstallment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, validationError(err)
	}
	policy := models.AmortizationPolicy(req.Policy)
	schedule, err := BuildLoanSchedule(req.Principal, req.AnnualRate, req.Installments, policy,
		models.Period{Month: req.StartMonth, Year: req.StartYear})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	loan := &models.Loan{
		EmployeeID:      req.EmployeeID,
		Principal:       req.Principal,
		AnnualRate:      req.AnnualRate,
		Installments:    req.Installments,
		Policy:          policy,
		EMI:             schedule.EMI,
		TotalPayable:    schedule.TotalPayable,
		AmountRecovered: decimal.Zero,
		AmountPending:   schedule.TotalPayable,
		StartMonth:      req.StartMonth,
		StartYear:       req.StartYear,
		Status:          models.LoanStatusActive,
		DisbursedBy:     actorID,
		DisbursedAt:     s.now().UTC(),
	}
	installments := schedule.Installments

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateLoan(ctx, loan); err != nil {
			return appErrors.Internal(err, "failed to create loan")
		}
		for i := range installments {
			installments[i].LoanID = loan.ID
			installments[i].EmployeeID = loan.EmployeeID
		}
		if err := s.store.CreateInstallments(ctx, installments); err != nil {
			return appErrors.Internal(err, "failed to create loan schedule")
		}
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityLoan,
			EntityID:   loan.ID,
			Action:     models.AuditActionDisburse,
			After:      loan,
			ActorID:    actorID,
			Context:    map[string]interface{}{"installments": len(installments)},
		})
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("loan disbursed",
		zap.String("loan_id", loan.ID),
		zap.String("employee_id", loan.EmployeeID),
		zap.String("emi", loan.EMI.StringFixed(2)))
	return loan, installments, nil
}

// GetLoan returns a loan and its schedule, verifying the pending balance.
func (s *LoanService) GetLoan(ctx context.Context, id string) (*models.Loan, []models.LoanInstallment, error) {
	loan, err := s.store.GetLoan(ctx, id, repository.LockNone)
	if err != nil {
		return nil, nil, notFoundOr(err, "loan not found", "failed to load loan")
	}
	if err := loan.Verify(); err != nil {
		return nil, nil, appErrors.Internal(err, "loan balance is inconsistent")
	}
	installments, err := s.store.ListInstallments(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to load loan schedule")
	}
	return loan, installments, nil
}

// ListLoans returns an employee's loans.
func (s *LoanService) ListLoans(ctx context.Context, employeeID string) ([]models.Loan, error) {
	loans, err := s.store.ListLoansByEmployee(ctx, employeeID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list loans")
	}
	return loans, nil
}

// RecordRecovery records amount against an installment on behalf of runID.
// Repeating the call for the same run is a no-op.
func (s *LoanService) RecordRecovery(ctx context.Context, installmentID string, amount decimal.Decimal, runID, actorID string) (*models.LoanInstallment, error) {
	var result *models.LoanInstallment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, err := s.store.GetInstallment(ctx, installmentID, repository.LockNone)
		if err != nil {
			return notFoundOr(err, "loan installment not found", "failed to load loan installment")
		}
		installment, changed, err := s.LinkRecovery(ctx, installmentID, amount, runID)
		if err != nil {
			return err
		}
		result = installment
		if !changed {
			return nil
		}
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityLoanInstallment,
			EntityID:   installmentID,
			Action:     models.AuditActionRecover,
			Before:     before,
			After:      installment,
			ActorID:    actorID,
			Context:    map[string]interface{}{"payrollRunId": runID, "amount": amount.StringFixed(2)},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LinkRecovery links the installment to runID and updates the loan balance
// inside the caller's transaction. It reports whether anything changed.
func (s *LoanService) LinkRecovery(ctx context.Context, installmentID string, amount decimal.Decimal, runID string) (*models.LoanInstallment, bool, error) {
	if !amount.IsPositive() {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "recovery amount must be positive")
	}
	installment, err := s.store.GetInstallment(ctx, installmentID, repository.LockForUpdate)
	if err != nil {
		return nil, false, notFoundOr(err, "loan installment not found", "failed to load loan installment")
	}
	if installment.PayrollRunID != nil {
		if *installment.PayrollRunID == runID {
			return installment, false, nil
		}
		return nil, false, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("installment %d already recovered by another payroll run", installment.Sequence))
	}
	if installment.Status == models.InstallmentPaid || installment.Status == models.InstallmentWaived {
		return nil, false, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("installment is %s", installment.Status))
	}

	loan, err := s.store.GetLoan(ctx, installment.LoanID, repository.LockForUpdate)
	if err != nil {
		return nil, false, notFoundOr(err, "loan not found", "failed to load loan")
	}
	if loan.Status != models.LoanStatusActive {
		return nil, false, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("loan is %s", loan.Status))
	}

	recovered := installment.AmountRecovered.Add(amount)
	status := models.InstallmentPartial
	if amount.GreaterThanOrEqual(loan.EMI) || recovered.GreaterThanOrEqual(installment.Amount) {
		status = models.InstallmentPaid
	}
	now := s.now().UTC()
	if err := s.store.LinkInstallment(ctx, installmentID, runID, recovered, status, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrConflict, "installment was linked concurrently")
		}
		return nil, false, appErrors.Internal(err, "failed to link loan installment")
	}
	installment.PayrollRunID = &runID
	installment.AmountRecovered = recovered
	installment.Status = status
	installment.RecoveredAt = &now

	loan.AmountRecovered = loan.AmountRecovered.Add(amount)
	loan.AmountPending = loan.Pending()
	if status == models.InstallmentPaid {
		open, err := s.store.CountOpenInstallments(ctx, loan.ID)
		if err != nil {
			return nil, false, appErrors.Internal(err, "failed to count open installments")
		}
		if open == 0 {
			loan.Status = models.LoanStatusCompleted
		}
	}
	if err := loan.Verify(); err != nil {
		return nil, false, appErrors.Internal(err, "loan balance is inconsistent")
	}
	if err := s.store.UpdateBalance(ctx, loan); err != nil {
		return nil, false, appErrors.Internal(err, "failed to update loan balance")
	}
	return installment, true, nil
}

// Waive closes a loan, waiving every unrecovered installment. The recovered
// amount is left unchanged.
func (s *LoanService) Waive(ctx context.Context, loanID string, req dto.WaiveLoanRequest, actorID string) (*models.Loan, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	var result *models.Loan
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loan, err := s.store.GetLoan(ctx, loanID, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "loan not found", "failed to load loan")
		}
		if loan.Status != models.LoanStatusActive {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("loan is %s", loan.Status))
		}
		before := *loan
		waived, err := s.store.WaiveOpenInstallments(ctx, loanID)
		if err != nil {
			return appErrors.Internal(err, "failed to waive installments")
		}
		loan.Status = models.LoanStatusWaived
		loan.WaivedReason = &req.Reason
		loan.AmountPending = loan.Pending()
		if err := s.store.UpdateBalance(ctx, loan); err != nil {
			return appErrors.Internal(err, "failed to update loan")
		}
		result = loan
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityLoan,
			EntityID:   loanID,
			Action:     models.AuditActionWaive,
			Before:     before,
			After:      loan,
			ActorID:    actorID,
			Context:    map[string]interface{}{"reason": req.Reason, "installmentsWaived": waived},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DueInstallments lists what an employee owes in the period for runID.
func (s *LoanService) DueInstallments(ctx context.Context, employeeID string, period models.Period, runID string) ([]models.LoanInstallment, error) {
	due, err := s.store.ListDue(ctx, employeeID, period, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load due installments")
	}
	return due, nil
}

// ReleaseRun returns every installment recovered by runID to pending,
// reverses the recovered amounts and reopens completed loans. It runs in the
// caller's transaction and returns the released installment IDs.
func (s *LoanService) ReleaseRun(ctx context.Context, runID string) ([]string, error) {
	linked, err := s.store.ListLinkedToRun(ctx, runID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load run installments")
	}
	released := make([]string, 0, len(linked))
	for _, installment := range linked {
		loan, err := s.store.GetLoan(ctx, installment.LoanID, repository.LockForUpdate)
		if err != nil {
			return nil, notFoundOr(err, "loan not found", "failed to load loan")
		}
		reopened := models.InstallmentPending
		if loan.Status == models.LoanStatusWaived {
			reopened = models.InstallmentWaived
		}
		if err := s.store.UnlinkInstallment(ctx, installment.ID, runID, decimal.Zero, reopened); err != nil {
			return nil, appErrors.Internal(err, "failed to release loan installment")
		}
		loan.AmountRecovered = loan.AmountRecovered.Sub(installment.AmountRecovered)
		loan.AmountPending = loan.Pending()
		if loan.Status == models.LoanStatusCompleted {
			loan.Status = models.LoanStatusActive
		}
		if err := loan.Verify(); err != nil {
			return nil, appErrors.Internal(err, "loan balance is inconsistent")
		}
		if err := s.store.UpdateBalance(ctx, loan); err != nil {
			return nil, appErrors.Internal(err, "failed to update loan balance")
		}
		released = append(released, installment.ID)
	}
	return released, nil
}
