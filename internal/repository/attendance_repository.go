package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/payroll-engine/internal/models"
)

const dailyColumns = `id, employee_id, work_date, day_type, hours_worked, overtime_hours, approval_status,
       approved_by, approved_at, remarks, updated_at`

const summaryColumns = `id, employee_id, month, year, working_days, present_days, paid_leaves, lop_days, payable_days,
       total_hours, overtime_hours, is_locked, locked_by, locked_at, updated_at`

// AttendanceRepository persists daily attendance and monthly summaries.
type AttendanceRepository struct {
	baseRepository
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{baseRepository{db: db}}
}

// UpsertDaily inserts or replaces a day. Re-recording resets approval.
func (r *AttendanceRepository) UpsertDaily(ctx context.Context, record *models.DailyAttendance) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.UpdatedAt = time.Now().UTC()
	const query = `INSERT INTO daily_attendance
	(id, employee_id, work_date, day_type, hours_worked, overtime_hours, approval_status, remarks, updated_at)
	VALUES (:id, :employee_id, :work_date, :day_type, :hours_worked, :overtime_hours, :approval_status, :remarks, :updated_at)
	ON CONFLICT (employee_id, work_date) DO UPDATE SET
	 day_type = EXCLUDED.day_type,
	 hours_worked = EXCLUDED.hours_worked,
	 overtime_hours = EXCLUDED.overtime_hours,
	 approval_status = EXCLUDED.approval_status,
	 approved_by = NULL,
	 approved_at = NULL,
	 remarks = EXCLUDED.remarks,
	 updated_at = EXCLUDED.updated_at
	RETURNING id`
	rows, err := sqlx.NamedQueryContext(ctx, r.q(ctx), query, record)
	if err != nil {
		return fmt.Errorf("upsert daily attendance: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&record.ID); err != nil {
			return fmt.Errorf("scan daily attendance id: %w", err)
		}
	}
	return rows.Err()
}

// GetDaily fetches one daily record.
func (r *AttendanceRepository) GetDaily(ctx context.Context, id string) (*models.DailyAttendance, error) {
	query := `SELECT ` + dailyColumns + ` FROM daily_attendance WHERE id = $1`
	var record models.DailyAttendance
	if err := r.q(ctx).GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ReviewDaily moves a pending record to approved or rejected.
func (r *AttendanceRepository) ReviewDaily(ctx context.Context, id string, status models.ApprovalStatus, actorID string, at time.Time) error {
	const query = `UPDATE daily_attendance SET approval_status = $2, approved_by = $3, approved_at = $4, updated_at = $4
	WHERE id = $1 AND approval_status = 'pending'`
	result, err := r.q(ctx).ExecContext(ctx, query, id, status, actorID, at)
	if err != nil {
		return fmt.Errorf("review daily attendance: %w", err)
	}
	return expectRows(result, "review daily attendance")
}

// ListDaily returns the employee's records for the period ordered by date.
func (r *AttendanceRepository) ListDaily(ctx context.Context, employeeID string, period models.Period) ([]models.DailyAttendance, error) {
	query := `SELECT ` + dailyColumns + ` FROM daily_attendance
	WHERE employee_id = $1 AND work_date BETWEEN $2 AND $3 ORDER BY work_date`
	var records []models.DailyAttendance
	if err := r.q(ctx).SelectContext(ctx, &records, query, employeeID, period.Start(), period.End()); err != nil {
		return nil, fmt.Errorf("list daily attendance: %w", err)
	}
	return records, nil
}

// GetSummary fetches the monthly summary, taking the requested row lock.
func (r *AttendanceRepository) GetSummary(ctx context.Context, employeeID string, period models.Period, lock LockMode) (*models.MonthlyAttendanceSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM monthly_attendance_summaries
	WHERE employee_id = $1 AND month = $2 AND year = $3` + string(lock)
	var summary models.MonthlyAttendanceSummary
	if err := r.q(ctx).GetContext(ctx, &summary, query, employeeID, period.Month, period.Year); err != nil {
		return nil, err
	}
	return &summary, nil
}

// EnsureSummary creates an empty unlocked summary row if none exists so that
// daily writes and locks have a row to serialise on.
func (r *AttendanceRepository) EnsureSummary(ctx context.Context, employeeID string, period models.Period) error {
	const query = `INSERT INTO monthly_attendance_summaries
	(id, employee_id, month, year, working_days, present_days, paid_leaves, lop_days, payable_days, total_hours, overtime_hours, is_locked, updated_at)
	VALUES ($1, $2, $3, $4, 0, 0, 0, 0, 0, 0, 0, FALSE, $5)
	ON CONFLICT (employee_id, month, year) DO NOTHING`
	if _, err := r.q(ctx).ExecContext(ctx, query, uuid.NewString(), employeeID, period.Month, period.Year, time.Now().UTC()); err != nil {
		return fmt.Errorf("ensure attendance summary: %w", err)
	}
	return nil
}

// SaveSummary writes aggregated figures onto an unlocked summary.
func (r *AttendanceRepository) SaveSummary(ctx context.Context, summary *models.MonthlyAttendanceSummary) error {
	summary.UpdatedAt = time.Now().UTC()
	const query = `UPDATE monthly_attendance_summaries SET
	 working_days = :working_days, present_days = :present_days, paid_leaves = :paid_leaves,
	 lop_days = :lop_days, payable_days = :payable_days, total_hours = :total_hours,
	 overtime_hours = :overtime_hours, updated_at = :updated_at
	WHERE id = :id AND is_locked = FALSE`
	result, err := r.q(ctx).NamedExecContext(ctx, query, summary)
	if err != nil {
		return fmt.Errorf("save attendance summary: %w", err)
	}
	return expectRows(result, "save attendance summary")
}

// SetLocked flips the lock flag, failing when it already has that value.
func (r *AttendanceRepository) SetLocked(ctx context.Context, id string, locked bool, actorID string, at time.Time) error {
	query := `UPDATE monthly_attendance_summaries SET is_locked = TRUE, locked_by = $2, locked_at = $3, updated_at = $3
	WHERE id = $1 AND is_locked = FALSE`
	args := []interface{}{id, actorID, at}
	if !locked {
		query = `UPDATE monthly_attendance_summaries SET is_locked = FALSE, locked_by = NULL, locked_at = NULL, updated_at = $2
		WHERE id = $1 AND is_locked = TRUE`
		args = []interface{}{id, at}
	}
	result, err := r.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set attendance lock: %w", err)
	}
	return expectRows(result, "set attendance lock")
}
