package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/pkg/money"
)

// LoanSchedule is the amortization result for one loan.
type LoanSchedule struct {
	EMI          decimal.Decimal
	TotalPayable decimal.Decimal
	Installments []models.LoanInstallment
}

// BuildLoanSchedule amortizes principal over n consecutive monthly
// installments starting at start. The final installment absorbs rounding so
// the installments always sum to TotalPayable.
func BuildLoanSchedule(principal, annualRate decimal.Decimal, n int, policy models.AmortizationPolicy, start models.Period) (LoanSchedule, error) {
	if !principal.IsPositive() {
		return LoanSchedule{}, fmt.Errorf("principal must be positive")
	}
	if annualRate.IsNegative() {
		return LoanSchedule{}, fmt.Errorf("rate must not be negative")
	}
	if n <= 0 {
		return LoanSchedule{}, fmt.Errorf("installments must be positive")
	}
	if err := start.Validate(); err != nil {
		return LoanSchedule{}, err
	}

	var (
		amounts   []decimal.Decimal
		interests []decimal.Decimal
		emi       decimal.Decimal
	)
	switch policy {
	case models.AmortizationReducingBalance:
		emi, amounts, interests = reducingBalance(principal, annualRate, n)
	case models.AmortizationFlat:
		emi, amounts, interests = flat(principal, annualRate, n)
	default:
		return LoanSchedule{}, fmt.Errorf("unknown amortization policy %q", policy)
	}

	schedule := LoanSchedule{EMI: emi, TotalPayable: money.Sum(amounts...)}
	period := start
	for i := 0; i < n; i++ {
		schedule.Installments = append(schedule.Installments, models.LoanInstallment{
			Sequence:        i + 1,
			DueMonth:        period.Month,
			DueYear:         period.Year,
			Amount:          amounts[i],
			Principal:       amounts[i].Sub(interests[i]),
			Interest:        interests[i],
			AmountRecovered: decimal.Zero,
			Status:          models.InstallmentPending,
		})
		period = period.Next()
	}
	return schedule, nil
}

// reducingBalance computes the level EMI P·r·(1+r)^n / ((1+r)^n − 1), or
// P/n at a zero rate, charging interest on the outstanding balance.
func reducingBalance(principal, annualRate decimal.Decimal, n int) (decimal.Decimal, []decimal.Decimal, []decimal.Decimal) {
	r := money.MonthlyRate(annualRate)
	count := decimal.NewFromInt(int64(n))

	var emi decimal.Decimal
	if r.IsZero() {
		emi = money.Round(principal.Div(count))
	} else {
		factor := one.Add(r).Pow(count)
		emi = money.Round(principal.Mul(r).Mul(factor).Div(factor.Sub(one)))
	}

	amounts := make([]decimal.Decimal, n)
	interests := make([]decimal.Decimal, n)
	balance := principal
	for i := 0; i < n; i++ {
		interest := money.Round(balance.Mul(r))
		principalPart := emi.Sub(interest)
		if i == n-1 || principalPart.GreaterThan(balance) {
			principalPart = balance
		}
		interests[i] = interest
		amounts[i] = principalPart.Add(interest)
		balance = balance.Sub(principalPart)
	}
	return emi, amounts, interests
}

// flat charges simple interest on the original principal for the whole
// term and splits the total evenly.
func flat(principal, annualRate decimal.Decimal, n int) (decimal.Decimal, []decimal.Decimal, []decimal.Decimal) {
	count := decimal.NewFromInt(int64(n))
	totalInterest := money.Round(principal.Mul(annualRate).Div(decimal.NewFromInt(100)).Mul(count).Div(decimal.NewFromInt(12)))
	total := principal.Add(totalInterest)
	emi := money.Round(total.Div(count))
	perInterest := money.Round(totalInterest.Div(count))

	amounts := make([]decimal.Decimal, n)
	interests := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		amounts[i] = emi
		interests[i] = perInterest
	}
	prior := decimal.NewFromInt(int64(n - 1))
	amounts[n-1] = total.Sub(emi.Mul(prior))
	interests[n-1] = totalInterest.Sub(perInterest.Mul(prior))
	return emi, amounts, interests
}
