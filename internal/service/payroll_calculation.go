package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/pkg/money"
)

// Snapshot line codes written by the calculator.
const (
	LineBasic       = "BASIC"
	LineOvertime    = "OVERTIME"
	LineLoan        = "LOAN_RECOVERY"
	employerSuffix  = "_ER"
	sortBasic       = 1
	sortOvertime    = 2
	sortComponents  = 10
	sortStatutory   = 100
	sortLoans       = 200
	hashFieldFormat = "%s=%s"
)

// CalculationInput is everything one employee's pay depends on.
type CalculationInput struct {
	Structure           *models.CompensationStructure
	Attendance          *models.MonthlyAttendanceSummary
	Installments        []models.LoanInstallment
	RunID               string
	TDS                 decimal.Decimal
	StandardHoursPerDay decimal.Decimal
}

// LoanRecovery is one installment deduction to link to the run.
type LoanRecovery struct {
	InstallmentID string
	Amount        decimal.Decimal
}

// CalculationResult is the computed snapshot content.
type CalculationResult struct {
	Lines         []models.EmployeePayrollComponent
	Totals        models.PayrollTotals
	Contributions []models.Contribution
	Recoveries    []LoanRecovery
	InputHash     string
}

type payBases struct {
	basic decimal.Decimal
	gross decimal.Decimal
	ctc   decimal.Decimal
}

// CalculatePayroll computes one employee's snapshot lines. It is pure: the
// same input always yields the same lines and hash.
func CalculatePayroll(in CalculationInput, rules *StatutoryRules) (*CalculationResult, error) {
	st, att := in.Structure, in.Attendance
	if st == nil || att == nil {
		return nil, fmt.Errorf("structure and attendance are required")
	}
	if rules == nil {
		return nil, fmt.Errorf("statutory rules are required")
	}

	var (
		lines  []models.EmployeePayrollComponent
		bases  payBases
		factor = decimal.NewFromInt(1)
	)

	switch st.PayType {
	case models.PayTypeMonthly:
		if att.WorkingDays.IsPositive() {
			factor = att.PayableDays.Div(att.WorkingDays)
		} else {
			factor = decimal.Zero
		}
		bases = payBases{
			basic: money.Round(st.Basic.Mul(factor)),
			gross: money.Round(st.Gross.Mul(factor)),
			ctc:   money.Round(st.CTC.Mul(factor)),
		}
		lines = append(lines, earningLine(LineBasic, "Basic Salary", models.SourceBasic, bases.basic, sortBasic))
	case models.PayTypeHourly:
		base := money.Round(st.HourlyRate.Mul(att.TotalHours))
		overtime := money.Round(st.HourlyRate.Mul(att.OvertimeHours).Mul(st.OvertimeMultiplier))
		lines = append(lines, earningLine(LineBasic, "Hourly Wages", models.SourceBasic, base, sortBasic))
		if overtime.IsPositive() {
			lines = append(lines, earningLine(LineOvertime, "Overtime", models.SourceBasic, overtime, sortOvertime))
		}
		bases = payBases{basic: base, gross: base.Add(overtime), ctc: base.Add(overtime)}
	case models.PayTypeDaily:
		if !in.StandardHoursPerDay.IsPositive() {
			return nil, fmt.Errorf("standard hours per day must be positive")
		}
		base := money.Round(st.DailyRate.Mul(att.PayableDays))
		overtime := money.Round(st.DailyRate.Mul(att.OvertimeHours).Div(in.StandardHoursPerDay).Mul(st.OvertimeMultiplier))
		lines = append(lines, earningLine(LineBasic, "Daily Wages", models.SourceBasic, base, sortBasic))
		if overtime.IsPositive() {
			lines = append(lines, earningLine(LineOvertime, "Overtime", models.SourceBasic, overtime, sortOvertime))
		}
		bases = payBases{basic: base, gross: base.Add(overtime), ctc: base.Add(overtime)}
	default:
		return nil, fmt.Errorf("unknown pay type %q", st.PayType)
	}

	for i, c := range st.Components {
		amount, err := componentAmount(c, bases, factor)
		if err != nil {
			return nil, err
		}
		ref := c.ID
		lines = append(lines, models.EmployeePayrollComponent{
			Code:             c.Code,
			Name:             c.Name,
			Kind:             c.Kind,
			Source:           models.SourceStructure,
			SourceRef:        &ref,
			CalculatedAmount: amount,
			ActualAmount:     amount,
			SortOrder:        sortComponents + i,
		})
	}

	earned := models.SumComponents(lines).Gross
	contributions, err := rules.Compute(StatutoryInputs{
		Basic:         bases.basic,
		Gross:         earned,
		TDS:           in.TDS,
		CeilingPolicy: st.PFCeilingPolicy,
		Enabled:       StatutoryFlags(st),
	})
	if err != nil {
		return nil, err
	}
	sortOrder := sortStatutory
	for _, c := range contributions {
		if c.IsZero() {
			continue
		}
		ref := string(c.Type)
		source := models.SourceStatutory
		if c.Type == models.StatutoryTDS {
			source = models.SourceTDS
		}
		if c.Employee.IsPositive() {
			lines = append(lines, models.EmployeePayrollComponent{
				Code: string(c.Type), Name: statutoryName(c.Type), Kind: models.ComponentKindDeduction,
				Source: source, SourceRef: &ref, CalculatedAmount: c.Employee, ActualAmount: c.Employee, SortOrder: sortOrder,
			})
			sortOrder++
		}
		if c.Employer.IsPositive() {
			lines = append(lines, models.EmployeePayrollComponent{
				Code: string(c.Type) + employerSuffix, Name: statutoryName(c.Type) + " (Employer)", Kind: models.ComponentKindEmployerContribution,
				Source: source, SourceRef: &ref, CalculatedAmount: c.Employer, ActualAmount: c.Employer, SortOrder: sortOrder,
			})
			sortOrder++
		}
	}

	var recoveries []LoanRecovery
	for i, inst := range in.Installments {
		amount := inst.Amount.Sub(inst.AmountRecovered)
		if inst.PayrollRunID != nil && *inst.PayrollRunID == in.RunID {
			amount = inst.AmountRecovered
		}
		if !amount.IsPositive() {
			continue
		}
		amount = money.Round(amount)
		ref := inst.ID
		lines = append(lines, models.EmployeePayrollComponent{
			Code:             LineLoan,
			Name:             fmt.Sprintf("Loan installment %d", inst.Sequence),
			Kind:             models.ComponentKindDeduction,
			Source:           models.SourceLoan,
			SourceRef:        &ref,
			CalculatedAmount: amount,
			ActualAmount:     amount,
			SortOrder:        sortLoans + i,
		})
		recoveries = append(recoveries, LoanRecovery{InstallmentID: inst.ID, Amount: amount})
	}

	return &CalculationResult{
		Lines:         lines,
		Totals:        models.SumComponents(lines),
		Contributions: contributions,
		Recoveries:    recoveries,
		InputHash:     InputHash(in),
	}, nil
}

// componentAmount evaluates one structure component. Fixed monthly earnings
// are prorated; percentages apply to the already prorated bases.
func componentAmount(c models.CompensationComponent, bases payBases, factor decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch c.Calculation {
	case models.CalculationFixed:
		amount = c.Value
		if c.Kind == models.ComponentKindEarning {
			amount = c.Value.Mul(factor)
		}
		amount = money.Round(amount)
	case models.CalculationPercentage:
		if c.Basis == nil {
			return decimal.Zero, fmt.Errorf("component %s has no basis", c.Code)
		}
		var base decimal.Decimal
		switch *c.Basis {
		case models.BasisBasic:
			base = bases.basic
		case models.BasisGross:
			base = bases.gross
		case models.BasisCTC:
			base = bases.ctc
		default:
			return decimal.Zero, fmt.Errorf("component %s has unknown basis %q", c.Code, *c.Basis)
		}
		amount = money.Percent(base, c.Value)
	default:
		return decimal.Zero, fmt.Errorf("component %s has unknown calculation %q", c.Code, c.Calculation)
	}
	if c.MaxAmount.Valid && amount.GreaterThan(c.MaxAmount.Decimal) {
		amount = money.Round(c.MaxAmount.Decimal)
	}
	return amount, nil
}

// InputHash fingerprints the inputs of a computation so retries can be told
// apart from changed data.
func InputHash(in CalculationInput) string {
	fields := []string{
		fmt.Sprintf(hashFieldFormat, "structure", in.Structure.ID),
		fmt.Sprintf(hashFieldFormat, "version", fmt.Sprint(in.Structure.Version)),
		fmt.Sprintf(hashFieldFormat, "attendance", in.Attendance.ID),
		fmt.Sprintf(hashFieldFormat, "working", in.Attendance.WorkingDays.StringFixed(2)),
		fmt.Sprintf(hashFieldFormat, "present", in.Attendance.PresentDays.StringFixed(2)),
		fmt.Sprintf(hashFieldFormat, "paid", in.Attendance.PaidLeaves.StringFixed(2)),
		fmt.Sprintf(hashFieldFormat, "hours", in.Attendance.TotalHours.StringFixed(2)),
		fmt.Sprintf(hashFieldFormat, "overtime", in.Attendance.OvertimeHours.StringFixed(2)),
		fmt.Sprintf(hashFieldFormat, "tds", in.TDS.StringFixed(2)),
	}
	loans := make([]string, 0, len(in.Installments))
	for _, inst := range in.Installments {
		loans = append(loans, fmt.Sprintf("%s:%s", inst.ID, inst.Amount.StringFixed(2)))
	}
	sort.Strings(loans)
	fields = append(fields, fmt.Sprintf(hashFieldFormat, "loans", strings.Join(loans, ",")))

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

func earningLine(code, name string, source models.ComponentSource, amount decimal.Decimal, order int) models.EmployeePayrollComponent {
	return models.EmployeePayrollComponent{
		Code:             code,
		Name:             name,
		Kind:             models.ComponentKindEarning,
		Source:           source,
		CalculatedAmount: amount,
		ActualAmount:     amount,
		SortOrder:        order,
	}
}

func statutoryName(t models.StatutoryType) string {
	switch t {
	case models.StatutoryPF:
		return "Provident Fund"
	case models.StatutoryESIC:
		return "Employees' State Insurance"
	case models.StatutoryPT:
		return "Professional Tax"
	case models.StatutoryMLWF:
		return "Labour Welfare Fund"
	case models.StatutoryTDS:
		return "Tax Deducted at Source"
	}
	return string(t)
}
