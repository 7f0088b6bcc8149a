package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/noah-isme/payroll-engine/internal/dto"
	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

type attendanceStore interface {
	EnsureSummary(ctx context.Context, employeeID string, period models.Period) error
	GetSummary(ctx context.Context, employeeID string, period models.Period, lock repository.LockMode) (*models.MonthlyAttendanceSummary, error)
	SaveSummary(ctx context.Context, summary *models.MonthlyAttendanceSummary) error
	SetLocked(ctx context.Context, id string, locked bool, actorID string, at time.Time) error
	UpsertDaily(ctx context.Context, record *models.DailyAttendance) error
	GetDaily(ctx context.Context, id string) (*models.DailyAttendance, error)
	ReviewDaily(ctx context.Context, id string, status models.ApprovalStatus, actorID string, at time.Time) error
	ListDaily(ctx context.Context, employeeID string, period models.Period) ([]models.DailyAttendance, error)
}

type snapshotChecker interface {
	HasActiveSnapshot(ctx context.Context, employeeID string, period models.Period) (bool, error)
}

var (
	half = decimal.NewFromFloat(0.5)
	one  = decimal.NewFromInt(1)
)

// AttendanceService records daily attendance and maintains monthly summaries.
// Daily writes take a share lock on the month's summary row and Lock takes an
// exclusive one, so locking is atomic against concurrent edits.
type AttendanceService struct {
	tx        txRunner
	store     attendanceStore
	snapshots snapshotChecker
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(tx txRunner, store attendanceStore, snapshots snapshotChecker, audit *AuditService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		tx:        ensureTx(tx),
		store:     store,
		snapshots: snapshots,
		audit:     audit,
		validator: ensureValidator(validate),
		logger:    logger,
		now:       time.Now,
	}
}

// RecordDaily inserts or replaces one employee day. Re-recorded days return
// to pending approval.
func (s *AttendanceService) RecordDaily(ctx context.Context, req dto.RecordDailyAttendanceRequest, actorID string) (*models.DailyAttendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.HoursWorked.IsNegative() || req.OvertimeHours.IsNegative() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "hours must not be negative")
	}
	record := &models.DailyAttendance{
		EmployeeID:    req.EmployeeID,
		WorkDate:      models.DateOnly(req.WorkDate),
		DayType:       models.DayType(req.DayType),
		HoursWorked:   req.HoursWorked,
		OvertimeHours: req.OvertimeHours,
		Approval:      models.ApprovalPending,
	}
	if remarks := strings.TrimSpace(req.Remarks); remarks != "" {
		record.Remarks = &remarks
	}
	period := models.Period{Month: int(record.WorkDate.Month()), Year: record.WorkDate.Year()}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureUnlocked(ctx, record.EmployeeID, period, repository.LockForShare); err != nil {
			return err
		}
		if err := s.store.UpsertDaily(ctx, record); err != nil {
			return appErrors.Internal(err, "failed to record attendance")
		}
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityAttendanceDaily,
			EntityID:   record.ID,
			Action:     models.AuditActionRecord,
			After:      record,
			ActorID:    actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ApproveDaily approves or rejects a pending day.
func (s *AttendanceService) ApproveDaily(ctx context.Context, id string, approve bool, actorID string) (*models.DailyAttendance, error) {
	var result *models.DailyAttendance
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		record, err := s.store.GetDaily(ctx, id)
		if err != nil {
			return notFoundOr(err, "attendance record not found", "failed to load attendance record")
		}
		period := models.Period{Month: int(record.WorkDate.Month()), Year: record.WorkDate.Year()}
		if err := s.ensureUnlocked(ctx, record.EmployeeID, period, repository.LockForShare); err != nil {
			return err
		}
		if record.Approval != models.ApprovalPending {
			return appErrors.Clone(appErrors.ErrInvalidStateTransition,
				fmt.Sprintf("attendance record already %s", record.Approval))
		}

		before := *record
		status, action := models.ApprovalApproved, models.AuditActionApprove
		if !approve {
			status, action = models.ApprovalRejected, models.AuditActionReject
		}
		now := s.now().UTC()
		if err := s.store.ReviewDaily(ctx, id, status, actorID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrInvalidStateTransition, "attendance record is no longer pending")
			}
			return appErrors.Internal(err, "failed to review attendance record")
		}
		record.Approval = status
		record.ApprovedBy = &actorID
		record.ApprovedAt = &now
		result = record
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityAttendanceDaily,
			EntityID:   id,
			Action:     action,
			Before:     before,
			After:      record,
			ActorID:    actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AggregateMonth rebuilds the unlocked summary from approved daily rows.
func (s *AttendanceService) AggregateMonth(ctx context.Context, req dto.AttendancePeriodRequest, actorID string) (*models.MonthlyAttendanceSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	period := models.Period{Month: req.Month, Year: req.Year}

	var result *models.MonthlyAttendanceSummary
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.store.EnsureSummary(ctx, req.EmployeeID, period); err != nil {
			return appErrors.Internal(err, "failed to prepare attendance summary")
		}
		summary, err := s.store.GetSummary(ctx, req.EmployeeID, period, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "attendance summary not found", "failed to load attendance summary")
		}
		if summary.IsLocked {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month is locked")
		}
		records, err := s.store.ListDaily(ctx, req.EmployeeID, period)
		if err != nil {
			return appErrors.Internal(err, "failed to load daily attendance")
		}

		before := *summary
		AggregateDaily(summary, period, records)
		if err := s.store.SaveSummary(ctx, summary); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month is locked")
			}
			return appErrors.Internal(err, "failed to save attendance summary")
		}
		result = summary
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityAttendanceSummary,
			EntityID:   summary.ID,
			Action:     models.AuditActionAggregate,
			Before:     before,
			After:      summary,
			ActorID:    actorID,
			Context:    map[string]interface{}{"records": len(records)},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AggregateDaily recomputes summary figures from the month's daily rows.
// Weekly-off and holiday rows reduce working days whatever their approval
// state; every other figure counts approved rows only.
func AggregateDaily(summary *models.MonthlyAttendanceSummary, period models.Period, records []models.DailyAttendance) {
	working := decimal.NewFromInt(int64(period.Days()))
	present, paid := decimal.Zero, decimal.Zero
	hours, overtime := decimal.Zero, decimal.Zero
	for _, r := range records {
		if !period.Contains(r.WorkDate) {
			continue
		}
		if r.DayType.NonWorking() && r.Approval != models.ApprovalRejected {
			working = working.Sub(one)
		}
		if r.Approval != models.ApprovalApproved {
			continue
		}
		switch r.DayType {
		case models.DayTypePresent:
			present = present.Add(one)
		case models.DayTypeHalfDay:
			present = present.Add(half)
		case models.DayTypePaidLeave:
			paid = paid.Add(one)
		case models.DayTypeAbsent, models.DayTypeUnpaidLeave, models.DayTypeWeeklyOff, models.DayTypeHoliday:
		}
		hours = hours.Add(r.HoursWorked)
		overtime = overtime.Add(r.OvertimeHours)
	}
	summary.WorkingDays = working
	summary.PresentDays = present
	summary.PaidLeaves = paid
	summary.TotalHours = hours
	summary.OvertimeHours = overtime
	summary.Derive()
}

// Lock freezes the month's summary and daily rows.
func (s *AttendanceService) Lock(ctx context.Context, req dto.AttendancePeriodRequest, actorID string) (*models.MonthlyAttendanceSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	period := models.Period{Month: req.Month, Year: req.Year}

	var result *models.MonthlyAttendanceSummary
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		summary, err := s.store.GetSummary(ctx, req.EmployeeID, period, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "attendance summary not found; aggregate the month first", "failed to load attendance summary")
		}
		if summary.IsLocked {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month already locked")
		}
		if err := summary.Verify(); err != nil {
			return appErrors.Internal(err, "attendance summary is inconsistent")
		}
		before := *summary
		now := s.now().UTC()
		if err := s.store.SetLocked(ctx, summary.ID, true, actorID, now); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month already locked")
			}
			return appErrors.Internal(err, "failed to lock attendance month")
		}
		summary.IsLocked = true
		summary.LockedBy = &actorID
		summary.LockedAt = &now
		result = summary
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityAttendanceSummary,
			EntityID:   summary.ID,
			Action:     models.AuditActionLock,
			Before:     before,
			After:      summary,
			ActorID:    actorID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("attendance month locked",
		zap.String("employee_id", req.EmployeeID), zap.String("period", period.String()))
	return result, nil
}

// Unlock reopens a locked month. It is refused while a non-cancelled payroll
// run holds a snapshot for the employee and month.
func (s *AttendanceService) Unlock(ctx context.Context, req dto.UnlockAttendanceRequest, actorID string) (*models.MonthlyAttendanceSummary, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	period := models.Period{Month: req.Month, Year: req.Year}

	var result *models.MonthlyAttendanceSummary
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		summary, err := s.store.GetSummary(ctx, req.EmployeeID, period, repository.LockForUpdate)
		if err != nil {
			return notFoundOr(err, "attendance summary not found", "failed to load attendance summary")
		}
		if !summary.IsLocked {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month is not locked")
		}
		held, err := s.snapshots.HasActiveSnapshot(ctx, req.EmployeeID, period)
		if err != nil {
			return appErrors.Internal(err, "failed to check payroll snapshots")
		}
		if held {
			return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month is used by a payroll run")
		}
		before := *summary
		if err := s.store.SetLocked(ctx, summary.ID, false, actorID, s.now().UTC()); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrPreconditionFailed, "attendance month is not locked")
			}
			return appErrors.Internal(err, "failed to unlock attendance month")
		}
		summary.IsLocked = false
		summary.LockedBy = nil
		summary.LockedAt = nil
		result = summary
		return s.audit.Record(ctx, AuditRecord{
			EntityType: models.EntityAttendanceSummary,
			EntityID:   summary.ID,
			Action:     models.AuditActionUnlock,
			Before:     before,
			After:      summary,
			ActorID:    actorID,
			Context:    map[string]interface{}{"reason": req.Reason},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Warn("attendance month unlocked",
		zap.String("employee_id", req.EmployeeID),
		zap.String("period", period.String()),
		zap.String("actor_id", actorID),
		zap.String("reason", req.Reason))
	return result, nil
}

// GetLockedSummary returns the locked summary for the month after verifying
// its derived fields. Inside a transaction it holds a share lock on the row.
func (s *AttendanceService) GetLockedSummary(ctx context.Context, employeeID string, period models.Period) (*models.MonthlyAttendanceSummary, error) {
	summary, err := s.store.GetSummary(ctx, employeeID, period, repository.LockForShare)
	if err != nil {
		return nil, notFoundOr(err, fmt.Sprintf("no attendance summary for %s", period), "failed to load attendance summary")
	}
	if !summary.IsLocked {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("attendance for %s is not locked", period))
	}
	if err := summary.Verify(); err != nil {
		return nil, appErrors.Internal(err, "attendance summary is inconsistent")
	}
	return summary, nil
}

func (s *AttendanceService) ensureUnlocked(ctx context.Context, employeeID string, period models.Period, lock repository.LockMode) error {
	if err := s.store.EnsureSummary(ctx, employeeID, period); err != nil {
		return appErrors.Internal(err, "failed to prepare attendance summary")
	}
	summary, err := s.store.GetSummary(ctx, employeeID, period, lock)
	if err != nil {
		return notFoundOr(err, "attendance summary not found", "failed to load attendance summary")
	}
	if summary.IsLocked {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("attendance for %s is locked", period))
	}
	return nil
}
