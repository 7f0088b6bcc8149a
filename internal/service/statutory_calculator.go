package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/pkg/config"
	"github.com/noah-isme/payroll-engine/pkg/money"
)

// RateRule is a pair of employee and employer percentages.
type RateRule struct {
	EmployeeRate decimal.Decimal
	EmployerRate decimal.Decimal
}

// PTSlab charges Amount when gross falls in [Lower, Upper]. A null Upper is
// open ended.
type PTSlab struct {
	Lower  decimal.Decimal
	Upper  decimal.NullDecimal
	Amount decimal.Decimal
}

// MLWFRule applies Standard rates, or Low rates when gross is at or below
// LowGrossLimit.
type MLWFRule struct {
	Standard      RateRule
	Low           RateRule
	LowGrossLimit decimal.Decimal
}

// StatutoryRules is the full rate table used by a computation.
type StatutoryRules struct {
	PFCeiling     decimal.Decimal
	PF            RateRule
	ESICThreshold decimal.Decimal
	ESIC          RateRule
	PTSlabs       []PTSlab
	MLWF          MLWFRule
}

// StatutoryInputs carries the figures and flags one employee is assessed on.
type StatutoryInputs struct {
	Basic         decimal.Decimal
	Gross         decimal.Decimal
	TDS           decimal.Decimal
	CeilingPolicy models.PFCeilingPolicy
	Enabled       map[models.StatutoryType]bool
}

// NewStatutoryRules builds and validates the rate table from configuration.
func NewStatutoryRules(cfg config.StatutoryConfig) (*StatutoryRules, error) {
	slabs, err := ParsePTSlabs(cfg.PTSlabs)
	if err != nil {
		return nil, err
	}
	return &StatutoryRules{
		PFCeiling: decimal.NewFromFloat(cfg.PFCeiling),
		PF: RateRule{
			EmployeeRate: decimal.NewFromFloat(cfg.PFEmployeeRate),
			EmployerRate: decimal.NewFromFloat(cfg.PFEmployerRate),
		},
		ESICThreshold: decimal.NewFromFloat(cfg.ESICThreshold),
		ESIC: RateRule{
			EmployeeRate: decimal.NewFromFloat(cfg.ESICEmployeeRate),
			EmployerRate: decimal.NewFromFloat(cfg.ESICEmployerRate),
		},
		PTSlabs: slabs,
		MLWF: MLWFRule{
			Standard: RateRule{
				EmployeeRate: decimal.NewFromFloat(cfg.MLWFEmployeeRate),
				EmployerRate: decimal.NewFromFloat(cfg.MLWFEmployerRate),
			},
			Low: RateRule{
				EmployeeRate: decimal.NewFromFloat(cfg.MLWFLowEmployee),
				EmployerRate: decimal.NewFromFloat(cfg.MLWFLowEmployer),
			},
			LowGrossLimit: decimal.NewFromFloat(cfg.MLWFLowGrossLimit),
		},
	}, nil
}

// ParsePTSlabs parses "lower-upper:amount" entries separated by commas.
func ParsePTSlabs(raw string) ([]PTSlab, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var slabs []PTSlab
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		bounds, amount, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("pt slab %q: missing amount", entry)
		}
		lowerRaw, upperRaw, ok := strings.Cut(bounds, "-")
		if !ok {
			return nil, fmt.Errorf("pt slab %q: missing range separator", entry)
		}
		var slab PTSlab
		var err error
		if slab.Lower, err = decimal.NewFromString(strings.TrimSpace(lowerRaw)); err != nil {
			return nil, fmt.Errorf("pt slab %q: lower bound: %w", entry, err)
		}
		if upperRaw = strings.TrimSpace(upperRaw); upperRaw != "" {
			upper, err := decimal.NewFromString(upperRaw)
			if err != nil {
				return nil, fmt.Errorf("pt slab %q: upper bound: %w", entry, err)
			}
			slab.Upper = decimal.NewNullDecimal(upper)
		}
		if slab.Amount, err = decimal.NewFromString(strings.TrimSpace(amount)); err != nil {
			return nil, fmt.Errorf("pt slab %q: amount: %w", entry, err)
		}
		slabs = append(slabs, slab)
	}
	if err := ValidatePTSlabs(slabs); err != nil {
		return nil, err
	}
	return slabs, nil
}

// ValidatePTSlabs requires slabs sorted by lower bound, each non-empty, with no
// overlaps and only the last one open ended.
func ValidatePTSlabs(slabs []PTSlab) error {
	for i, slab := range slabs {
		if slab.Lower.IsNegative() || slab.Amount.IsNegative() {
			return fmt.Errorf("pt slab %d: negative bound or amount", i)
		}
		if !slab.Upper.Valid {
			if i != len(slabs)-1 {
				return fmt.Errorf("pt slab %d: only the last slab may be open ended", i)
			}
		} else if slab.Upper.Decimal.LessThan(slab.Lower) {
			return fmt.Errorf("pt slab %d: upper bound below lower bound", i)
		}
		if i == 0 {
			continue
		}
		prev := slabs[i-1]
		if !slab.Lower.GreaterThan(prev.Upper.Decimal) {
			return fmt.Errorf("pt slab %d overlaps slab %d", i, i-1)
		}
	}
	return nil
}

// PF computes provident fund on basic, capped at the ceiling when the policy
// says so.
func PF(basic decimal.Decimal, policy models.PFCeilingPolicy, ceiling decimal.Decimal, rule RateRule) models.Contribution {
	base := basic
	if policy == models.PFCeilingCapped {
		base = money.Min(basic, ceiling)
	}
	return models.Contribution{
		Type:     models.StatutoryPF,
		Base:     money.Round(base),
		Employee: money.Percent(base, rule.EmployeeRate),
		Employer: money.Percent(base, rule.EmployerRate),
	}
}

// ESIC applies only while gross is at or below the threshold. Crossing it
// drops the contribution to zero.
func ESIC(gross, threshold decimal.Decimal, rule RateRule) models.Contribution {
	c := models.Contribution{Type: models.StatutoryESIC, Base: money.Round(gross), Employee: decimal.Zero, Employer: decimal.Zero}
	if gross.GreaterThan(threshold) {
		return c
	}
	c.Employee = money.Percent(gross, rule.EmployeeRate)
	c.Employer = money.Percent(gross, rule.EmployerRate)
	return c
}

// ProfessionalTax looks up the slab for gross. Gross that falls in a gap
// between slabs is charged at the nearest slab below it.
func ProfessionalTax(gross decimal.Decimal, slabs []PTSlab) (models.Contribution, error) {
	c := models.Contribution{Type: models.StatutoryPT, Base: money.Round(gross), Employee: decimal.Zero, Employer: decimal.Zero}
	if err := ValidatePTSlabs(slabs); err != nil {
		return c, err
	}
	idx := sort.Search(len(slabs), func(i int) bool { return slabs[i].Lower.GreaterThan(gross) }) - 1
	if idx < 0 {
		return c, nil
	}
	c.Employee = money.Round(slabs[idx].Amount)
	return c, nil
}

// MLWF charges labour welfare fund as a percentage of gross.
func MLWF(gross decimal.Decimal, rule MLWFRule) models.Contribution {
	rates := rule.Standard
	if rule.LowGrossLimit.IsPositive() && !gross.GreaterThan(rule.LowGrossLimit) {
		rates = rule.Low
	}
	return models.Contribution{
		Type:     models.StatutoryMLWF,
		Base:     money.Round(gross),
		Employee: money.Percent(gross, rates.EmployeeRate),
		Employer: money.Percent(gross, rates.EmployerRate),
	}
}

// TDS passes through the externally declared monthly deduction.
func TDS(amount decimal.Decimal) models.Contribution {
	return models.Contribution{Type: models.StatutoryTDS, Base: decimal.Zero, Employee: money.Round(amount), Employer: decimal.Zero}
}

// Compute evaluates every enabled statutory type in filing order.
func (r *StatutoryRules) Compute(in StatutoryInputs) ([]models.Contribution, error) {
	out := make([]models.Contribution, 0, len(models.StatutoryTypes))
	for _, t := range models.StatutoryTypes {
		if !in.Enabled[t] {
			continue
		}
		var c models.Contribution
		switch t {
		case models.StatutoryPF:
			c = PF(in.Basic, in.CeilingPolicy, r.PFCeiling, r.PF)
		case models.StatutoryESIC:
			c = ESIC(in.Gross, r.ESICThreshold, r.ESIC)
		case models.StatutoryPT:
			var err error
			if c, err = ProfessionalTax(in.Gross, r.PTSlabs); err != nil {
				return nil, err
			}
		case models.StatutoryMLWF:
			c = MLWF(in.Gross, r.MLWF)
		case models.StatutoryTDS:
			c = TDS(in.TDS)
		default:
			return nil, fmt.Errorf("unsupported statutory type %q", t)
		}
		out = append(out, c)
	}
	return out, nil
}

// StatutoryFlags maps a structure's applicability flags to statutory types.
func StatutoryFlags(s *models.CompensationStructure) map[models.StatutoryType]bool {
	return map[models.StatutoryType]bool{
		models.StatutoryPF:   s.PFEnabled,
		models.StatutoryESIC: s.ESICEnabled,
		models.StatutoryPT:   s.PTEnabled,
		models.StatutoryMLWF: s.MLWFEnabled,
		models.StatutoryTDS:  s.TDSEnabled,
	}
}
