package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ComponentInput defines one component of a new structure version.
type ComponentInput struct {
	Code        string              `json:"code" validate:"required,max=32"`
	Name        string              `json:"name" validate:"required,max=128"`
	Kind        string              `json:"kind" validate:"required,oneof=earning deduction employer_contribution"`
	Calculation string              `json:"calculation" validate:"required,oneof=fixed percentage"`
	Basis       string              `json:"basis" validate:"required_if=Calculation percentage,omitempty,oneof=basic gross ctc"`
	Value       decimal.Decimal     `json:"value"`
	MaxAmount   decimal.NullDecimal `json:"maxAmount"`
}

// CreateStructureVersionRequest defines a new compensation version.
type CreateStructureVersionRequest struct {
	EmployeeID         string           `json:"employeeId" validate:"required"`
	EffectiveFrom      time.Time        `json:"effectiveFrom" validate:"required"`
	PayType            string           `json:"payType" validate:"required,oneof=monthly daily hourly"`
	Basic              decimal.Decimal  `json:"basic"`
	Gross              decimal.Decimal  `json:"gross"`
	CTC                decimal.Decimal  `json:"ctc"`
	DailyRate          decimal.Decimal  `json:"dailyRate"`
	HourlyRate         decimal.Decimal  `json:"hourlyRate"`
	OvertimeMultiplier decimal.Decimal  `json:"overtimeMultiplier"`
	PFEnabled          bool             `json:"pfEnabled"`
	ESICEnabled        bool             `json:"esicEnabled"`
	PTEnabled          bool             `json:"ptEnabled"`
	MLWFEnabled        bool             `json:"mlwfEnabled"`
	TDSEnabled         bool             `json:"tdsEnabled"`
	PFCeilingPolicy    string           `json:"pfCeilingPolicy" validate:"omitempty,oneof=capped actual"`
	Components         []ComponentInput `json:"components" validate:"omitempty,dive"`
}
