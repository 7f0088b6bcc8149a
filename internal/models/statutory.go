package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatutoryType is the closed set of statutory deductions.
type StatutoryType string

const (
	StatutoryPF   StatutoryType = "PF"
	StatutoryESIC StatutoryType = "ESIC"
	StatutoryPT   StatutoryType = "PT"
	StatutoryMLWF StatutoryType = "MLWF"
	StatutoryTDS  StatutoryType = "TDS"
)

// StatutoryTypes lists every statutory type in filing order.
var StatutoryTypes = []StatutoryType{StatutoryPF, StatutoryESIC, StatutoryPT, StatutoryMLWF, StatutoryTDS}

// Valid reports whether the type is known.
func (t StatutoryType) Valid() bool {
	switch t {
	case StatutoryPF, StatutoryESIC, StatutoryPT, StatutoryMLWF, StatutoryTDS:
		return true
	}
	return false
}

// Contribution is the outcome of one statutory calculation.
type Contribution struct {
	Type     StatutoryType   `json:"type"`
	Base     decimal.Decimal `json:"base"`
	Employee decimal.Decimal `json:"employee"`
	Employer decimal.Decimal `json:"employer"`
}

// IsZero reports whether neither party contributes.
func (c Contribution) IsZero() bool {
	return c.Employee.IsZero() && c.Employer.IsZero()
}

// StatutoryPaymentStatus tracks filing progress.
type StatutoryPaymentStatus string

const (
	StatutoryPaymentPending StatutoryPaymentStatus = "pending"
	StatutoryPaymentFiled   StatutoryPaymentStatus = "filed"
)

// StatutoryPayment aggregates one statutory type across a finalized run.
type StatutoryPayment struct {
	ID               string                 `db:"id" json:"id"`
	PayrollRunID     string                 `db:"payroll_run_id" json:"payrollRunId"`
	Type             StatutoryType          `db:"statutory_type" json:"statutoryType"`
	EmployeeShare    decimal.Decimal        `db:"employee_share" json:"employeeShare"`
	EmployerShare    decimal.Decimal        `db:"employer_share" json:"employerShare"`
	TotalAmount      decimal.Decimal        `db:"total_amount" json:"totalAmount"`
	EmployeeCount    int                    `db:"employee_count" json:"employeeCount"`
	Status           StatutoryPaymentStatus `db:"status" json:"status"`
	ChallanNumber    *string                `db:"challan_number" json:"challanNumber,omitempty"`
	ReceiptReference *string                `db:"receipt_reference" json:"receiptReference,omitempty"`
	PaidOn           *time.Time             `db:"paid_on" json:"paidOn,omitempty"`
	CreatedAt        time.Time              `db:"created_at" json:"createdAt"`
}

// TDSDeclaration is a precomputed monthly tax deduction supplied externally.
type TDSDeclaration struct {
	EmployeeID string          `db:"employee_id" json:"employeeId"`
	Month      int             `db:"month" json:"month"`
	Year       int             `db:"year" json:"year"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
}
