package dto

import "github.com/shopspring/decimal"

// DisburseLoanRequest creates a loan and its installment schedule.
type DisburseLoanRequest struct {
	EmployeeID   string          `json:"employeeId" validate:"required"`
	Principal    decimal.Decimal `json:"principal"`
	AnnualRate   decimal.Decimal `json:"annualRate"`
	Installments int             `json:"installments" validate:"required,min=1,max=360"`
	Policy       string          `json:"policy" validate:"required,oneof=reducing_balance flat"`
	StartMonth   int             `json:"startMonth" validate:"required,min=1,max=12"`
	StartYear    int             `json:"startYear" validate:"required,min=1900,max=9999"`
}

// WaiveLoanRequest waives the remaining balance.
type WaiveLoanRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=512"`
}
