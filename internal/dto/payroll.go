package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateRunRequest opens a payroll run. RunNumber defaults to 1.
type CreateRunRequest struct {
	Month     int `json:"month" validate:"required,min=1,max=12"`
	Year      int `json:"year" validate:"required,min=1900,max=9999"`
	RunNumber int `json:"runNumber" validate:"omitempty,min=1"`
}

// StartProcessingRequest enrols employees. An empty list enrols every active
// employee.
type StartProcessingRequest struct {
	EmployeeIDs []string `json:"employeeIds" validate:"omitempty,dive,required"`
}

// MarkPaidRequest records disbursement of a finalized run.
type MarkPaidRequest struct {
	PaymentDate      time.Time `json:"paymentDate" validate:"required"`
	PaymentReference string    `json:"paymentReference" validate:"required,max=128"`
}

// CancelRunRequest cancels a draft or processing run.
type CancelRunRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=512"`
}

// PaymentHoldRequest withholds or releases one employee's pay.
type PaymentHoldRequest struct {
	Hold   bool   `json:"hold"`
	Reason string `json:"reason" validate:"required_if=Hold true,max=512"`
}

// RequestOverrideRequest asks to change one snapshot line.
type RequestOverrideRequest struct {
	ComponentID string          `json:"componentId" validate:"required"`
	NewValue    decimal.Decimal `json:"newValue"`
	Reason      string          `json:"reason" validate:"required,min=3,max=512"`
	Category    string          `json:"category" validate:"required,oneof=correction arrears recovery adjustment other"`
}

// ReviewOverrideRequest carries an optional reviewer note.
type ReviewOverrideRequest struct {
	Note string `json:"note" validate:"max=512"`
}

// RecordChallanRequest writes back statutory filing references.
type RecordChallanRequest struct {
	ChallanNumber    string    `json:"challanNumber" validate:"required,max=64"`
	ReceiptReference string    `json:"receiptReference" validate:"required,max=128"`
	PaidOn           time.Time `json:"paidOn" validate:"required"`
}
