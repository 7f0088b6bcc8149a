package models

import "time"

// SlipStatus tracks document rendering.
type SlipStatus string

const (
	SlipPending   SlipStatus = "pending"
	SlipGenerated SlipStatus = "generated"
	SlipFailed    SlipStatus = "failed"
)

// SalarySlip references the rendered document for one snapshot.
type SalarySlip struct {
	ID                string     `db:"id" json:"id"`
	EmployeePayrollID string     `db:"employee_payroll_id" json:"employeePayrollId"`
	PayrollRunID      string     `db:"payroll_run_id" json:"payrollRunId"`
	EmployeeID        string     `db:"employee_id" json:"employeeId"`
	Status            SlipStatus `db:"status" json:"status"`
	DocumentRef       *string    `db:"document_ref" json:"documentRef,omitempty"`
	Attempts          int        `db:"attempts" json:"attempts"`
	LastError         *string    `db:"last_error" json:"lastError,omitempty"`
	GeneratedAt       *time.Time `db:"generated_at" json:"generatedAt,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"createdAt"`
}
