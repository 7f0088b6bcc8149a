package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayType determines how attendance converts into pay.
type PayType string

const (
	PayTypeMonthly PayType = "monthly"
	PayTypeDaily   PayType = "daily"
	PayTypeHourly  PayType = "hourly"
)

// Valid reports whether the pay type is known.
func (p PayType) Valid() bool {
	switch p {
	case PayTypeMonthly, PayTypeDaily, PayTypeHourly:
		return true
	}
	return false
}

// PFCeilingPolicy selects the provident fund wage base.
type PFCeilingPolicy string

const (
	PFCeilingCapped PFCeilingPolicy = "capped"
	PFCeilingActual PFCeilingPolicy = "actual"
)

// Valid reports whether the policy is known.
func (p PFCeilingPolicy) Valid() bool {
	return p == PFCeilingCapped || p == PFCeilingActual
}

// ComponentKind classifies a compensation component.
type ComponentKind string

const (
	ComponentKindEarning              ComponentKind = "earning"
	ComponentKindDeduction            ComponentKind = "deduction"
	ComponentKindEmployerContribution ComponentKind = "employer_contribution"
)

// Valid reports whether the kind is known.
func (k ComponentKind) Valid() bool {
	switch k {
	case ComponentKindEarning, ComponentKindDeduction, ComponentKindEmployerContribution:
		return true
	}
	return false
}

// CalculationType selects how a component amount is derived.
type CalculationType string

const (
	CalculationFixed      CalculationType = "fixed"
	CalculationPercentage CalculationType = "percentage"
)

// CalculationBasis names the figure a percentage component applies to.
type CalculationBasis string

const (
	BasisBasic CalculationBasis = "basic"
	BasisGross CalculationBasis = "gross"
	BasisCTC   CalculationBasis = "ctc"
)

// Valid reports whether the basis is known.
func (b CalculationBasis) Valid() bool {
	switch b {
	case BasisBasic, BasisGross, BasisCTC:
		return true
	}
	return false
}

// CompensationStructure is one immutable version of an employee's pay rules.
// EffectiveTo is the last day the version applies; nil marks the open version.
type CompensationStructure struct {
	ID                 string          `db:"id" json:"id"`
	EmployeeID         string          `db:"employee_id" json:"employeeId"`
	Version            int             `db:"version" json:"version"`
	EffectiveFrom      time.Time       `db:"effective_from" json:"effectiveFrom"`
	EffectiveTo        *time.Time      `db:"effective_to" json:"effectiveTo,omitempty"`
	PayType            PayType         `db:"pay_type" json:"payType"`
	Basic              decimal.Decimal `db:"basic" json:"basic"`
	Gross              decimal.Decimal `db:"gross" json:"gross"`
	CTC                decimal.Decimal `db:"ctc" json:"ctc"`
	DailyRate          decimal.Decimal `db:"daily_rate" json:"dailyRate"`
	HourlyRate         decimal.Decimal `db:"hourly_rate" json:"hourlyRate"`
	OvertimeMultiplier decimal.Decimal `db:"overtime_multiplier" json:"overtimeMultiplier"`
	PFEnabled          bool            `db:"pf_enabled" json:"pfEnabled"`
	ESICEnabled        bool            `db:"esic_enabled" json:"esicEnabled"`
	PTEnabled          bool            `db:"pt_enabled" json:"ptEnabled"`
	MLWFEnabled        bool            `db:"mlwf_enabled" json:"mlwfEnabled"`
	TDSEnabled         bool            `db:"tds_enabled" json:"tdsEnabled"`
	PFCeilingPolicy    PFCeilingPolicy `db:"pf_ceiling_policy" json:"pfCeilingPolicy"`
	CreatedBy          string          `db:"created_by" json:"createdBy"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`

	Components []CompensationComponent `db:"-" json:"components"`
}

// Contains reports whether date falls inside the version's interval.
func (s *CompensationStructure) Contains(date time.Time) bool {
	d := DateOnly(date)
	if d.Before(DateOnly(s.EffectiveFrom)) {
		return false
	}
	return s.EffectiveTo == nil || !d.After(DateOnly(*s.EffectiveTo))
}

// IsOpen reports whether the version has no end date.
func (s *CompensationStructure) IsOpen() bool {
	return s.EffectiveTo == nil
}

// CompensationComponent is a single earning, deduction or employer
// contribution rule belonging to one structure version.
type CompensationComponent struct {
	ID          string              `db:"id" json:"id"`
	StructureID string              `db:"structure_id" json:"structureId"`
	Code        string              `db:"code" json:"code"`
	Name        string              `db:"name" json:"name"`
	Kind        ComponentKind       `db:"kind" json:"kind"`
	Calculation CalculationType     `db:"calculation" json:"calculation"`
	Basis       *CalculationBasis   `db:"basis" json:"basis,omitempty"`
	Value       decimal.Decimal     `db:"value" json:"value"`
	MaxAmount   decimal.NullDecimal `db:"max_amount" json:"maxAmount"`
	SortOrder   int                 `db:"sort_order" json:"sortOrder"`
}
