package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OverrideStatus captures the review state of a manual override.
type OverrideStatus string

const (
	OverridePending  OverrideStatus = "pending"
	OverrideApproved OverrideStatus = "approved"
	OverrideRejected OverrideStatus = "rejected"
)

// OverrideCategory classifies why an amount is being changed.
type OverrideCategory string

const (
	OverrideCorrection OverrideCategory = "correction"
	OverrideArrears    OverrideCategory = "arrears"
	OverrideRecovery   OverrideCategory = "recovery"
	OverrideAdjustment OverrideCategory = "adjustment"
	OverrideOther      OverrideCategory = "other"
)

// Valid reports whether the category is known.
func (c OverrideCategory) Valid() bool {
	switch c {
	case OverrideCorrection, OverrideArrears, OverrideRecovery, OverrideAdjustment, OverrideOther:
		return true
	}
	return false
}

// ManualOverride requests a change to one snapshot line.
type ManualOverride struct {
	ID                     string           `db:"id" json:"id"`
	ComponentID            string           `db:"component_id" json:"componentId"`
	EmployeePayrollID      string           `db:"employee_payroll_id" json:"employeePayrollId"`
	PayrollRunID           string           `db:"payroll_run_id" json:"payrollRunId"`
	OriginalValue          decimal.Decimal  `db:"original_value" json:"originalValue"`
	NewValue               decimal.Decimal  `db:"new_value" json:"newValue"`
	Reason                 string           `db:"reason" json:"reason"`
	Category               OverrideCategory `db:"category" json:"category"`
	Status                 OverrideStatus   `db:"status" json:"status"`
	RequestedBy            string           `db:"requested_by" json:"requestedBy"`
	RequestedAt            time.Time        `db:"requested_at" json:"requestedAt"`
	ReviewedBy             *string          `db:"reviewed_by" json:"reviewedBy,omitempty"`
	ReviewedAt             *time.Time       `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewNote             *string          `db:"review_note" json:"reviewNote,omitempty"`
	IsApplied              bool             `db:"is_applied" json:"isApplied"`
	AppliedBy              *string          `db:"applied_by" json:"appliedBy,omitempty"`
	AppliedAt              *time.Time       `db:"applied_at" json:"appliedAt,omitempty"`
	RequiresReconciliation bool             `db:"requires_reconciliation" json:"requiresReconciliation"`
}
