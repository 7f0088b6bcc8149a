package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AmortizationPolicy selects how EMI and interest are computed.
type AmortizationPolicy string

const (
	AmortizationReducingBalance AmortizationPolicy = "reducing_balance"
	AmortizationFlat            AmortizationPolicy = "flat"
)

// Valid reports whether the policy is known.
func (p AmortizationPolicy) Valid() bool {
	return p == AmortizationReducingBalance || p == AmortizationFlat
}

// LoanStatus tracks the loan lifecycle.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
	LoanStatusWaived    LoanStatus = "waived"
)

// InstallmentStatus tracks one scheduled recovery.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentWaived  InstallmentStatus = "waived"
)

// Loan is an employee loan recovered through payroll.
type Loan struct {
	ID              string             `db:"id" json:"id"`
	EmployeeID      string             `db:"employee_id" json:"employeeId"`
	Principal       decimal.Decimal    `db:"principal" json:"principal"`
	AnnualRate      decimal.Decimal    `db:"annual_rate" json:"annualRate"`
	Installments    int                `db:"installments" json:"installments"`
	Policy          AmortizationPolicy `db:"policy" json:"policy"`
	EMI             decimal.Decimal    `db:"emi" json:"emi"`
	TotalPayable    decimal.Decimal    `db:"total_payable" json:"totalPayable"`
	AmountRecovered decimal.Decimal    `db:"amount_recovered" json:"amountRecovered"`
	AmountPending   decimal.Decimal    `db:"amount_pending" json:"amountPending"`
	StartMonth      int                `db:"start_month" json:"startMonth"`
	StartYear       int                `db:"start_year" json:"startYear"`
	Status          LoanStatus         `db:"status" json:"status"`
	DisbursedBy     string             `db:"disbursed_by" json:"disbursedBy"`
	DisbursedAt     time.Time          `db:"disbursed_at" json:"disbursedAt"`
	WaivedReason    *string            `db:"waived_reason" json:"waivedReason,omitempty"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updatedAt"`
}

// Pending recomputes the outstanding amount.
func (l *Loan) Pending() decimal.Decimal {
	return l.TotalPayable.Sub(l.AmountRecovered)
}

// Verify asserts the stored pending amount matches the recomputation.
func (l *Loan) Verify() error {
	if !l.Pending().Equal(l.AmountPending) {
		return fmt.Errorf("loan %s pending %s does not equal %s - %s", l.ID, l.AmountPending, l.TotalPayable, l.AmountRecovered)
	}
	return nil
}

// LoanInstallment is one scheduled monthly recovery.
type LoanInstallment struct {
	ID              string            `db:"id" json:"id"`
	LoanID          string            `db:"loan_id" json:"loanId"`
	EmployeeID      string            `db:"employee_id" json:"employeeId"`
	Sequence        int               `db:"sequence" json:"sequence"`
	DueMonth        int               `db:"due_month" json:"dueMonth"`
	DueYear         int               `db:"due_year" json:"dueYear"`
	Amount          decimal.Decimal   `db:"amount" json:"amount"`
	Principal       decimal.Decimal   `db:"principal_component" json:"principalComponent"`
	Interest        decimal.Decimal   `db:"interest_component" json:"interestComponent"`
	AmountRecovered decimal.Decimal   `db:"amount_recovered" json:"amountRecovered"`
	Status          InstallmentStatus `db:"status" json:"status"`
	PayrollRunID    *string           `db:"payroll_run_id" json:"payrollRunId,omitempty"`
	RecoveredAt     *time.Time        `db:"recovered_at" json:"recoveredAt,omitempty"`
}

// DuePeriod returns the installment's due month.
func (i *LoanInstallment) DuePeriod() Period {
	return Period{Month: i.DueMonth, Year: i.DueYear}
}
