package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DayType classifies a single attendance day.
type DayType string

const (
	DayTypePresent     DayType = "present"
	DayTypeHalfDay     DayType = "half_day"
	DayTypeAbsent      DayType = "absent"
	DayTypePaidLeave   DayType = "paid_leave"
	DayTypeUnpaidLeave DayType = "unpaid_leave"
	DayTypeWeeklyOff   DayType = "weekly_off"
	DayTypeHoliday     DayType = "holiday"
)

// Valid reports whether the day type is known.
func (d DayType) Valid() bool {
	switch d {
	case DayTypePresent, DayTypeHalfDay, DayTypeAbsent, DayTypePaidLeave,
		DayTypeUnpaidLeave, DayTypeWeeklyOff, DayTypeHoliday:
		return true
	}
	return false
}

// NonWorking reports whether the day is excluded from working days.
func (d DayType) NonWorking() bool {
	return d == DayTypeWeeklyOff || d == DayTypeHoliday
}

// ApprovalStatus tracks manager review of a daily record.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// DailyAttendance is one employee day.
type DailyAttendance struct {
	ID            string          `db:"id" json:"id"`
	EmployeeID    string          `db:"employee_id" json:"employeeId"`
	WorkDate      time.Time       `db:"work_date" json:"workDate"`
	DayType       DayType         `db:"day_type" json:"dayType"`
	HoursWorked   decimal.Decimal `db:"hours_worked" json:"hoursWorked"`
	OvertimeHours decimal.Decimal `db:"overtime_hours" json:"overtimeHours"`
	Approval      ApprovalStatus  `db:"approval_status" json:"approvalStatus"`
	ApprovedBy    *string         `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt    *time.Time      `db:"approved_at" json:"approvedAt,omitempty"`
	Remarks       *string         `db:"remarks" json:"remarks,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// MonthlyAttendanceSummary aggregates approved daily records for a month.
// LOPDays and PayableDays are derived and must always equal Derive's output.
type MonthlyAttendanceSummary struct {
	ID            string          `db:"id" json:"id"`
	EmployeeID    string          `db:"employee_id" json:"employeeId"`
	Month         int             `db:"month" json:"month"`
	Year          int             `db:"year" json:"year"`
	WorkingDays   decimal.Decimal `db:"working_days" json:"workingDays"`
	PresentDays   decimal.Decimal `db:"present_days" json:"presentDays"`
	PaidLeaves    decimal.Decimal `db:"paid_leaves" json:"paidLeaves"`
	LOPDays       decimal.Decimal `db:"lop_days" json:"lopDays"`
	PayableDays   decimal.Decimal `db:"payable_days" json:"payableDays"`
	TotalHours    decimal.Decimal `db:"total_hours" json:"totalHours"`
	OvertimeHours decimal.Decimal `db:"overtime_hours" json:"overtimeHours"`
	IsLocked      bool            `db:"is_locked" json:"isLocked"`
	LockedBy      *string         `db:"locked_by" json:"lockedBy,omitempty"`
	LockedAt      *time.Time      `db:"locked_at" json:"lockedAt,omitempty"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

// Period returns the summary month.
func (s *MonthlyAttendanceSummary) Period() Period {
	return Period{Month: s.Month, Year: s.Year}
}

// DeriveAttendance computes loss-of-pay and payable days.
func DeriveAttendance(working, present, paid decimal.Decimal) (lop, payable decimal.Decimal) {
	lop = working.Sub(present).Sub(paid)
	if lop.IsNegative() {
		lop = decimal.Zero
	}
	return lop, present.Add(paid)
}

// Derive recomputes the derived fields in place.
func (s *MonthlyAttendanceSummary) Derive() {
	s.LOPDays, s.PayableDays = DeriveAttendance(s.WorkingDays, s.PresentDays, s.PaidLeaves)
}

// Verify checks the stored derived fields against a fresh derivation.
func (s *MonthlyAttendanceSummary) Verify() error {
	lop, payable := DeriveAttendance(s.WorkingDays, s.PresentDays, s.PaidLeaves)
	if !lop.Equal(s.LOPDays) || !payable.Equal(s.PayableDays) {
		return fmt.Errorf("attendance summary %s out of sync: lop %s/%s payable %s/%s",
			s.ID, s.LOPDays, lop, s.PayableDays, payable)
	}
	return nil
}
