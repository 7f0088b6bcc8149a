package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the payroll run lifecycle state.
type RunStatus string

const (
	RunStatusDraft      RunStatus = "draft"
	RunStatusProcessing RunStatus = "processing"
	RunStatusFinalized  RunStatus = "finalized"
	RunStatusPaid       RunStatus = "paid"
	RunStatusCancelled  RunStatus = "cancelled"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusDraft:      {RunStatusProcessing, RunStatusCancelled},
	RunStatusProcessing: {RunStatusFinalized, RunStatusCancelled},
	RunStatusFinalized:  {RunStatusPaid},
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Closed reports whether the run no longer accepts computation.
func (s RunStatus) Closed() bool {
	return s == RunStatusFinalized || s == RunStatusPaid || s == RunStatusCancelled
}

// PayrollRun is one monthly batch.
type PayrollRun struct {
	ID                     string          `db:"id" json:"id"`
	Month                  int             `db:"month" json:"month"`
	Year                   int             `db:"year" json:"year"`
	RunNumber              int             `db:"run_number" json:"runNumber"`
	Status                 RunStatus       `db:"status" json:"status"`
	EmployeeCount          int             `db:"employee_count" json:"employeeCount"`
	TotalGross             decimal.Decimal `db:"total_gross" json:"totalGross"`
	TotalDeductions        decimal.Decimal `db:"total_deductions" json:"totalDeductions"`
	TotalEmployerCost      decimal.Decimal `db:"total_employer_contributions" json:"totalEmployerContributions"`
	TotalNet               decimal.Decimal `db:"total_net" json:"totalNet"`
	PaymentDate            *time.Time      `db:"payment_date" json:"paymentDate,omitempty"`
	PaymentReference       *string         `db:"payment_reference" json:"paymentReference,omitempty"`
	RequiresReconciliation bool            `db:"requires_reconciliation" json:"requiresReconciliation"`
	CancelReason           *string         `db:"cancel_reason" json:"cancelReason,omitempty"`
	CreatedBy              string          `db:"created_by" json:"createdBy"`
	CreatedAt              time.Time       `db:"created_at" json:"createdAt"`
	ProcessedAt            *time.Time      `db:"processed_at" json:"processedAt,omitempty"`
	FinalizedBy            *string         `db:"finalized_by" json:"finalizedBy,omitempty"`
	FinalizedAt            *time.Time      `db:"finalized_at" json:"finalizedAt,omitempty"`
	UpdatedAt              time.Time       `db:"updated_at" json:"updatedAt"`
}

// Period returns the run month.
func (r *PayrollRun) Period() Period {
	return Period{Month: r.Month, Year: r.Year}
}

// RunRosterEntry enrols one employee in a run.
type RunRosterEntry struct {
	PayrollRunID string    `db:"payroll_run_id" json:"payrollRunId"`
	EmployeeID   string    `db:"employee_id" json:"employeeId"`
	EnrolledAt   time.Time `db:"enrolled_at" json:"enrolledAt"`
}

// PaymentStatus tracks per-employee disbursement.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentHold    PaymentStatus = "hold"
)

// EmployeePayroll is the immutable per-employee snapshot within a run. Only
// approved overrides change its amounts after creation.
type EmployeePayroll struct {
	ID                 string          `db:"id" json:"id"`
	PayrollRunID       string          `db:"payroll_run_id" json:"payrollRunId"`
	EmployeeID         string          `db:"employee_id" json:"employeeId"`
	StructureID        string          `db:"structure_id" json:"structureId"`
	StructureVersion   int             `db:"structure_version" json:"structureVersion"`
	AttendanceID       string          `db:"attendance_summary_id" json:"attendanceSummaryId"`
	WorkingDays        decimal.Decimal `db:"working_days" json:"workingDays"`
	PayableDays        decimal.Decimal `db:"payable_days" json:"payableDays"`
	LOPDays            decimal.Decimal `db:"lop_days" json:"lopDays"`
	OvertimeHours      decimal.Decimal `db:"overtime_hours" json:"overtimeHours"`
	GrossEarnings      decimal.Decimal `db:"gross_earnings" json:"grossEarnings"`
	TotalDeductions    decimal.Decimal `db:"total_deductions" json:"totalDeductions"`
	EmployerCost       decimal.Decimal `db:"employer_contributions" json:"employerContributions"`
	NetPay             decimal.Decimal `db:"net_pay" json:"netPay"`
	PaymentStatus      PaymentStatus   `db:"payment_status" json:"paymentStatus"`
	HoldReason         *string         `db:"hold_reason" json:"holdReason,omitempty"`
	PaidAt             *time.Time      `db:"paid_at" json:"paidAt,omitempty"`
	InputHash          string          `db:"input_hash" json:"inputHash"`
	ComputedBy         string          `db:"computed_by" json:"computedBy"`
	ComputedAt         time.Time       `db:"computed_at" json:"computedAt"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updatedAt"`

	Components []EmployeePayrollComponent `db:"-" json:"components,omitempty"`
}

// ComponentSource records where a snapshot line came from.
type ComponentSource string

const (
	SourceBasic     ComponentSource = "basic"
	SourceStructure ComponentSource = "structure"
	SourceStatutory ComponentSource = "statutory"
	SourceLoan      ComponentSource = "loan"
	SourceTDS       ComponentSource = "tds"
)

// EmployeePayrollComponent is one line of a snapshot.
type EmployeePayrollComponent struct {
	ID                string          `db:"id" json:"id"`
	EmployeePayrollID string          `db:"employee_payroll_id" json:"employeePayrollId"`
	Code              string          `db:"code" json:"code"`
	Name              string          `db:"name" json:"name"`
	Kind              ComponentKind   `db:"kind" json:"kind"`
	Source            ComponentSource `db:"source" json:"source"`
	SourceRef         *string         `db:"source_ref" json:"sourceRef,omitempty"`
	CalculatedAmount  decimal.Decimal `db:"calculated_amount" json:"calculatedAmount"`
	ActualAmount      decimal.Decimal `db:"actual_amount" json:"actualAmount"`
	IsOverridden      bool            `db:"is_overridden" json:"isOverridden"`
	SortOrder         int             `db:"sort_order" json:"sortOrder"`
}

// PayrollTotals is the result of summing snapshot lines.
type PayrollTotals struct {
	Gross        decimal.Decimal
	Deductions   decimal.Decimal
	EmployerCost decimal.Decimal
	Net          decimal.Decimal
}

// SumComponents totals lines by kind using their actual amounts.
func SumComponents(lines []EmployeePayrollComponent) PayrollTotals {
	t := PayrollTotals{Gross: decimal.Zero, Deductions: decimal.Zero, EmployerCost: decimal.Zero}
	for _, line := range lines {
		switch line.Kind {
		case ComponentKindEarning:
			t.Gross = t.Gross.Add(line.ActualAmount)
		case ComponentKindDeduction:
			t.Deductions = t.Deductions.Add(line.ActualAmount)
		case ComponentKindEmployerContribution:
			t.EmployerCost = t.EmployerCost.Add(line.ActualAmount)
		}
	}
	t.Net = t.Gross.Sub(t.Deductions)
	return t
}

// ApplyTotals copies totals onto the snapshot.
func (p *EmployeePayroll) ApplyTotals(t PayrollTotals) {
	p.GrossEarnings = t.Gross
	p.TotalDeductions = t.Deductions
	p.EmployerCost = t.EmployerCost
	p.NetPay = t.Net
}

// RunComputeOutcome summarises one employee's result inside a batch.
type RunComputeOutcome struct {
	EmployeeID string `json:"employeeId"`
	Status     string `json:"status"`
	PayrollID  string `json:"payrollId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Batch outcome statuses.
const (
	OutcomeComputed = "computed"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"
)
