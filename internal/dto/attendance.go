package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordDailyAttendanceRequest upserts one employee day.
type RecordDailyAttendanceRequest struct {
	EmployeeID    string          `json:"employeeId" validate:"required"`
	WorkDate      time.Time       `json:"workDate" validate:"required"`
	DayType       string          `json:"dayType" validate:"required,oneof=present half_day absent paid_leave unpaid_leave weekly_off holiday"`
	HoursWorked   decimal.Decimal `json:"hoursWorked"`
	OvertimeHours decimal.Decimal `json:"overtimeHours"`
	Remarks       string          `json:"remarks" validate:"max=512"`
}

// AttendancePeriodRequest targets one employee month.
type AttendancePeriodRequest struct {
	EmployeeID string `json:"employeeId" validate:"required"`
	Month      int    `json:"month" validate:"required,min=1,max=12"`
	Year       int    `json:"year" validate:"required,min=1900,max=9999"`
}

// UnlockAttendanceRequest reopens a locked month.
type UnlockAttendanceRequest struct {
	AttendancePeriodRequest
	Reason string `json:"reason" validate:"required,min=3,max=512"`
}
