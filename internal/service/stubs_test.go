package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/payroll-engine/internal/models"
	"github.com/noah-isme/payroll-engine/internal/repository"
	"github.com/noah-isme/payroll-engine/pkg/jobs"
	"github.com/noah-isme/payroll-engine/pkg/money"
)

func dec(raw string) decimal.Decimal { return money.MustParse(raw) }

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func testStatutoryRules() *StatutoryRules {
	return &StatutoryRules{
		PFCeiling:     dec("15000"),
		PF:            RateRule{EmployeeRate: dec("12"), EmployerRate: dec("12")},
		ESICThreshold: dec("21000"),
		ESIC:          RateRule{EmployeeRate: dec("0.75"), EmployerRate: dec("3.25")},
		PTSlabs: []PTSlab{
			{Lower: dec("0"), Upper: decimal.NewNullDecimal(dec("7500")), Amount: dec("0")},
			{Lower: dec("7501"), Upper: decimal.NewNullDecimal(dec("10000")), Amount: dec("175")},
			{Lower: dec("10001"), Amount: dec("200")},
		},
		MLWF: MLWFRule{
			Standard:      RateRule{EmployeeRate: dec("0.2"), EmployerRate: dec("0.6")},
			Low:           RateRule{EmployeeRate: dec("0.1"), EmployerRate: dec("0.3")},
			LowGrossLimit: dec("3000"),
		},
	}
}

type auditStoreStub struct {
	mu      sync.Mutex
	entries []models.AuditLogEntry
	err     error
}

func (s *auditStoreStub) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	entry.ID = fmt.Sprintf("audit-%d", len(s.entries)+1)
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *auditStoreStub) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditLogEntry
	for _, e := range s.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *auditStoreStub) actions(entityType string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		if e.EntityType == entityType {
			out = append(out, e.Action)
		}
	}
	return out
}

type compensationStoreStub struct {
	mu         sync.Mutex
	structures []models.CompensationStructure
	components map[string][]models.CompensationComponent
}

func (s *compensationStoreStub) LockEmployee(ctx context.Context, employeeID string) error {
	return nil
}

func (s *compensationStoreStub) GetVersionState(ctx context.Context, employeeID string) (*repository.VersionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &repository.VersionState{}
	for _, st := range s.structures {
		if st.EmployeeID != employeeID {
			continue
		}
		if st.Version > state.MaxVersion {
			state.MaxVersion = st.Version
		}
		if state.LatestFrom == nil || st.EffectiveFrom.After(*state.LatestFrom) {
			from := st.EffectiveFrom
			state.LatestFrom = &from
		}
		if st.IsOpen() {
			state.OpenVersions++
		}
	}
	return state, nil
}

func (s *compensationStoreStub) CloseOpen(ctx context.Context, employeeID string, effectiveTo time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.structures {
		if s.structures[i].EmployeeID == employeeID && s.structures[i].IsOpen() {
			to := effectiveTo
			s.structures[i].EffectiveTo = &to
			n++
		}
	}
	return n, nil
}

func (s *compensationStoreStub) Create(ctx context.Context, structure *models.CompensationStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	structure.ID = fmt.Sprintf("structure-%d", len(s.structures)+1)
	if s.components == nil {
		s.components = make(map[string][]models.CompensationComponent)
	}
	for i := range structure.Components {
		structure.Components[i].ID = fmt.Sprintf("%s-c%d", structure.ID, i+1)
		structure.Components[i].StructureID = structure.ID
	}
	s.components[structure.ID] = append([]models.CompensationComponent(nil), structure.Components...)
	stored := *structure
	stored.Components = nil
	s.structures = append(s.structures, stored)
	return nil
}

func (s *compensationStoreStub) FindCovering(ctx context.Context, employeeID string, date time.Time) ([]models.CompensationStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CompensationStructure
	for _, st := range s.structures {
		if st.EmployeeID == employeeID && st.Contains(date) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *compensationStoreStub) ListByEmployee(ctx context.Context, employeeID string) ([]models.CompensationStructure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CompensationStructure
	for _, st := range s.structures {
		if st.EmployeeID == employeeID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *compensationStoreStub) ListComponents(ctx context.Context, structureID string) ([]models.CompensationComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CompensationComponent(nil), s.components[structureID]...), nil
}

type attendanceStoreStub struct {
	mu        sync.Mutex
	summaries map[string]*models.MonthlyAttendanceSummary
	daily     map[string]*models.DailyAttendance
	seq       int
}

func newAttendanceStoreStub() *attendanceStoreStub {
	return &attendanceStoreStub{
		summaries: make(map[string]*models.MonthlyAttendanceSummary),
		daily:     make(map[string]*models.DailyAttendance),
	}
}

func summaryKey(employeeID string, period models.Period) string {
	return employeeID + "|" + period.String()
}

// seedLocked stores a locked, derived summary.
func (s *attendanceStoreStub) seedLocked(employeeID string, period models.Period, working, present, paid string) *models.MonthlyAttendanceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	summary := &models.MonthlyAttendanceSummary{
		ID:            fmt.Sprintf("summary-%d", s.seq),
		EmployeeID:    employeeID,
		Month:         period.Month,
		Year:          period.Year,
		WorkingDays:   dec(working),
		PresentDays:   dec(present),
		PaidLeaves:    dec(paid),
		TotalHours:    decimal.Zero,
		OvertimeHours: decimal.Zero,
		IsLocked:      true,
	}
	summary.Derive()
	s.summaries[summaryKey(employeeID, period)] = summary
	return summary
}

func (s *attendanceStoreStub) EnsureSummary(ctx context.Context, employeeID string, period models.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summaryKey(employeeID, period)
	if _, ok := s.summaries[key]; ok {
		return nil
	}
	s.seq++
	summary := &models.MonthlyAttendanceSummary{
		ID: fmt.Sprintf("summary-%d", s.seq), EmployeeID: employeeID, Month: period.Month, Year: period.Year,
	}
	summary.Derive()
	s.summaries[key] = summary
	return nil
}

func (s *attendanceStoreStub) GetSummary(ctx context.Context, employeeID string, period models.Period, lock repository.LockMode) (*models.MonthlyAttendanceSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[summaryKey(employeeID, period)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *summary
	return &cp, nil
}

func (s *attendanceStoreStub) SaveSummary(ctx context.Context, summary *models.MonthlyAttendanceSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := summaryKey(summary.EmployeeID, summary.Period())
	stored, ok := s.summaries[key]
	if !ok || stored.IsLocked {
		return sql.ErrNoRows
	}
	cp := *summary
	s.summaries[key] = &cp
	return nil
}

func (s *attendanceStoreStub) SetLocked(ctx context.Context, id string, locked bool, actorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, summary := range s.summaries {
		if summary.ID != id {
			continue
		}
		if summary.IsLocked == locked {
			return sql.ErrNoRows
		}
		summary.IsLocked = locked
		return nil
	}
	return sql.ErrNoRows
}

func (s *attendanceStoreStub) UpsertDaily(ctx context.Context, record *models.DailyAttendance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.daily {
		if existing.EmployeeID == record.EmployeeID && existing.WorkDate.Equal(record.WorkDate) {
			record.ID = id
			cp := *record
			s.daily[id] = &cp
			return nil
		}
	}
	s.seq++
	record.ID = fmt.Sprintf("daily-%d", s.seq)
	cp := *record
	s.daily[record.ID] = &cp
	return nil
}

func (s *attendanceStoreStub) GetDaily(ctx context.Context, id string) (*models.DailyAttendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.daily[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *record
	return &cp, nil
}

func (s *attendanceStoreStub) ReviewDaily(ctx context.Context, id string, status models.ApprovalStatus, actorID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.daily[id]
	if !ok || record.Approval != models.ApprovalPending {
		return sql.ErrNoRows
	}
	record.Approval = status
	record.ApprovedBy = &actorID
	record.ApprovedAt = &at
	return nil
}

func (s *attendanceStoreStub) ListDaily(ctx context.Context, employeeID string, period models.Period) ([]models.DailyAttendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DailyAttendance
	for _, record := range s.daily {
		if record.EmployeeID == employeeID && period.Contains(record.WorkDate) {
			out = append(out, *record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkDate.Before(out[j].WorkDate) })
	return out, nil
}

type snapshotCheckerStub struct {
	held bool
}

func (s snapshotCheckerStub) HasActiveSnapshot(ctx context.Context, employeeID string, period models.Period) (bool, error) {
	return s.held, nil
}

type loanStoreStub struct {
	mu           sync.Mutex
	loans        map[string]*models.Loan
	installments map[string]*models.LoanInstallment
	order        []string
	seq          int
}

func newLoanStoreStub() *loanStoreStub {
	return &loanStoreStub{
		loans:        make(map[string]*models.Loan),
		installments: make(map[string]*models.LoanInstallment),
	}
}

func isOpenInstallment(i *models.LoanInstallment) bool {
	return i.Status == models.InstallmentPending || i.Status == models.InstallmentPartial
}

func (s *loanStoreStub) CreateLoan(ctx context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	loan.ID = fmt.Sprintf("loan-%d", s.seq)
	cp := *loan
	s.loans[loan.ID] = &cp
	return nil
}

func (s *loanStoreStub) CreateInstallments(ctx context.Context, installments []models.LoanInstallment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range installments {
		s.seq++
		installments[i].ID = fmt.Sprintf("inst-%d", s.seq)
		cp := installments[i]
		s.installments[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return nil
}

func (s *loanStoreStub) GetLoan(ctx context.Context, id string, lock repository.LockMode) (*models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loan, ok := s.loans[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *loan
	return &cp, nil
}

func (s *loanStoreStub) ListLoansByEmployee(ctx context.Context, employeeID string) ([]models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Loan
	for _, loan := range s.loans {
		if loan.EmployeeID == employeeID {
			out = append(out, *loan)
		}
	}
	return out, nil
}

func (s *loanStoreStub) GetInstallment(ctx context.Context, id string, lock repository.LockMode) (*models.LoanInstallment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *inst
	return &cp, nil
}

func (s *loanStoreStub) ListInstallments(ctx context.Context, loanID string) ([]models.LoanInstallment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LoanInstallment
	for _, id := range s.order {
		if inst := s.installments[id]; inst.LoanID == loanID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *loanStoreStub) ListDue(ctx context.Context, employeeID string, period models.Period, runID string) ([]models.LoanInstallment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LoanInstallment
	for _, id := range s.order {
		inst := s.installments[id]
		loan := s.loans[inst.LoanID]
		if loan.EmployeeID != employeeID {
			continue
		}
		linkedHere := inst.PayrollRunID != nil && *inst.PayrollRunID == runID
		due := inst.PayrollRunID == nil && isOpenInstallment(inst) && !period.Before(inst.DuePeriod()) &&
			loan.Status == models.LoanStatusActive
		if linkedHere || due {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *loanStoreStub) LinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installments[id]
	if !ok || inst.PayrollRunID != nil || !isOpenInstallment(inst) {
		return sql.ErrNoRows
	}
	run := runID
	inst.PayrollRunID = &run
	inst.AmountRecovered = recovered
	inst.Status = status
	inst.RecoveredAt = &at
	return nil
}

func (s *loanStoreStub) UnlinkInstallment(ctx context.Context, id, runID string, recovered decimal.Decimal, status models.InstallmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.installments[id]
	if !ok || inst.PayrollRunID == nil || *inst.PayrollRunID != runID {
		return sql.ErrNoRows
	}
	inst.PayrollRunID = nil
	inst.AmountRecovered = recovered
	inst.Status = status
	inst.RecoveredAt = nil
	return nil
}

func (s *loanStoreStub) ListLinkedToRun(ctx context.Context, runID string) ([]models.LoanInstallment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LoanInstallment
	for _, id := range s.order {
		if inst := s.installments[id]; inst.PayrollRunID != nil && *inst.PayrollRunID == runID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (s *loanStoreStub) UpdateBalance(ctx context.Context, loan *models.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.loans[loan.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.AmountRecovered = loan.AmountRecovered
	stored.AmountPending = loan.AmountPending
	stored.Status = loan.Status
	stored.WaivedReason = loan.WaivedReason
	return nil
}

func (s *loanStoreStub) CountOpenInstallments(ctx context.Context, loanID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inst := range s.installments {
		if inst.LoanID == loanID && isOpenInstallment(inst) {
			n++
		}
	}
	return n, nil
}

func (s *loanStoreStub) WaiveOpenInstallments(ctx context.Context, loanID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, inst := range s.installments {
		if inst.LoanID == loanID && isOpenInstallment(inst) {
			inst.Status = models.InstallmentWaived
			n++
		}
	}
	return n, nil
}

type runStoreStub struct {
	mu           sync.Mutex
	runs         map[string]*models.PayrollRun
	roster       map[string][]string
	seq          int
	flagged      map[string]bool
	totalUpdates int
}

func newRunStoreStub() *runStoreStub {
	return &runStoreStub{
		runs:    make(map[string]*models.PayrollRun),
		roster:  make(map[string][]string),
		flagged: make(map[string]bool),
	}
}

func (s *runStoreStub) Create(ctx context.Context, run *models.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.Month == run.Month && existing.Year == run.Year && existing.RunNumber == run.RunNumber {
			return &pq.Error{Code: "23505", Constraint: repository.RunUniqueConstraint}
		}
	}
	s.seq++
	run.ID = fmt.Sprintf("run-%d", s.seq)
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *runStoreStub) GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *run
	return &cp, nil
}

func (s *runStoreStub) ListByPeriod(ctx context.Context, period models.Period) ([]models.PayrollRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayrollRun
	for _, run := range s.runs {
		if run.Period() == period {
			out = append(out, *run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunNumber < out[j].RunNumber })
	return out, nil
}

func (s *runStoreStub) Transition(ctx context.Context, run *models.PayrollRun, from models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok || stored.Status != from {
		return sql.ErrNoRows
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *runStoreStub) UpdateTotals(ctx context.Context, run *models.PayrollRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[run.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.EmployeeCount = run.EmployeeCount
	stored.TotalGross = run.TotalGross
	stored.TotalDeductions = run.TotalDeductions
	stored.TotalEmployerCost = run.TotalEmployerCost
	stored.TotalNet = run.TotalNet
	s.totalUpdates++
	return nil
}

func (s *runStoreStub) FlagReconciliation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	stored.RequiresReconciliation = true
	s.flagged[id] = true
	return nil
}

func (s *runStoreStub) AddRoster(ctx context.Context, runID string, employeeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range employeeIDs {
		found := false
		for _, existing := range s.roster[runID] {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			s.roster[runID] = append(s.roster[runID], id)
		}
	}
	return nil
}

func (s *runStoreStub) ListRoster(ctx context.Context, runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.roster[runID]...), nil
}

func (s *runStoreStub) IsEnrolled(ctx context.Context, runID, employeeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.roster[runID] {
		if id == employeeID {
			return true, nil
		}
	}
	return false, nil
}

type payrollStoreStub struct {
	mu       sync.Mutex
	payrolls map[string]*models.EmployeePayroll
	byKey    map[string]string
	lines    map[string][]models.EmployeePayrollComponent
	order    []string
	seq      int
}

func newPayrollStoreStub() *payrollStoreStub {
	return &payrollStoreStub{
		payrolls: make(map[string]*models.EmployeePayroll),
		byKey:    make(map[string]string),
		lines:    make(map[string][]models.EmployeePayrollComponent),
	}
}

func (s *payrollStoreStub) InsertIfAbsent(ctx context.Context, payroll *models.EmployeePayroll) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := payroll.PayrollRunID + "|" + payroll.EmployeeID
	if _, ok := s.byKey[key]; ok {
		return false, nil
	}
	s.seq++
	payroll.ID = fmt.Sprintf("payroll-%d", s.seq)
	cp := *payroll
	cp.Components = nil
	s.payrolls[payroll.ID] = &cp
	s.byKey[key] = payroll.ID
	s.order = append(s.order, payroll.ID)
	return true, nil
}

func (s *payrollStoreStub) InsertComponents(ctx context.Context, payrollID string, lines []models.EmployeePayrollComponent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range lines {
		s.seq++
		lines[i].ID = fmt.Sprintf("line-%d", s.seq)
		lines[i].EmployeePayrollID = payrollID
	}
	s.lines[payrollID] = append(s.lines[payrollID], lines...)
	return nil
}

func (s *payrollStoreStub) GetByRunAndEmployee(ctx context.Context, runID, employeeID string) (*models.EmployeePayroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[runID+"|"+employeeID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s.payrolls[id]
	return &cp, nil
}

func (s *payrollStoreStub) GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payroll, ok := s.payrolls[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *payroll
	return &cp, nil
}

func (s *payrollStoreStub) ListByRun(ctx context.Context, runID string) ([]models.EmployeePayroll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmployeePayroll
	for _, id := range s.order {
		if p := s.payrolls[id]; p.PayrollRunID == runID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *payrollStoreStub) ListComponents(ctx context.Context, payrollID string) ([]models.EmployeePayrollComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.EmployeePayrollComponent(nil), s.lines[payrollID]...), nil
}

func (s *payrollStoreStub) ListComponentsByRun(ctx context.Context, runID string) (map[string][]models.EmployeePayrollComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]models.EmployeePayrollComponent)
	for id, p := range s.payrolls {
		if p.PayrollRunID == runID {
			out[id] = append([]models.EmployeePayrollComponent(nil), s.lines[id]...)
		}
	}
	return out, nil
}

func (s *payrollStoreStub) GetComponent(ctx context.Context, id string, lock repository.LockMode) (*models.EmployeePayrollComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lines := range s.lines {
		for _, line := range lines {
			if line.ID == id {
				cp := line
				return &cp, nil
			}
		}
	}
	return nil, sql.ErrNoRows
}

func (s *payrollStoreStub) OverrideComponent(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for payrollID, lines := range s.lines {
		for i := range lines {
			if lines[i].ID == id {
				s.lines[payrollID][i].ActualAmount = amount
				s.lines[payrollID][i].IsOverridden = true
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (s *payrollStoreStub) UpdateTotals(ctx context.Context, payroll *models.EmployeePayroll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payrolls[payroll.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.GrossEarnings = payroll.GrossEarnings
	stored.TotalDeductions = payroll.TotalDeductions
	stored.EmployerCost = payroll.EmployerCost
	stored.NetPay = payroll.NetPay
	return nil
}

func (s *payrollStoreStub) SetPaymentStatus(ctx context.Context, id string, from, to models.PaymentStatus, reason *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payrolls[id]
	if !ok || stored.PaymentStatus != from {
		return sql.ErrNoRows
	}
	stored.PaymentStatus = to
	stored.HoldReason = reason
	return nil
}

func (s *payrollStoreStub) MarkRunPaid(ctx context.Context, runID string, paidAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, p := range s.payrolls {
		if p.PayrollRunID == runID && p.PaymentStatus == models.PaymentPending {
			p.PaymentStatus = models.PaymentPaid
			at := paidAt
			p.PaidAt = &at
			n++
		}
	}
	return n, nil
}

type statutoryStoreStub struct {
	mu       sync.Mutex
	payments []models.StatutoryPayment
	tds      map[string]decimal.Decimal
}

func (s *statutoryStoreStub) CreatePayments(ctx context.Context, payments []models.StatutoryPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range payments {
		payments[i].ID = fmt.Sprintf("payment-%d", len(s.payments)+1)
		s.payments = append(s.payments, payments[i])
	}
	return nil
}

func (s *statutoryStoreStub) GetTDS(ctx context.Context, employeeID string, period models.Period) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount, ok := s.tds[employeeID]; ok {
		return amount, nil
	}
	return decimal.Zero, nil
}

func (s *statutoryStoreStub) ListPaymentsByRun(ctx context.Context, runID string) ([]models.StatutoryPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatutoryPayment
	for _, p := range s.payments {
		if p.PayrollRunID == runID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *statutoryStoreStub) GetPayment(ctx context.Context, id string, lock repository.LockMode) (*models.StatutoryPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *statutoryStoreStub) RecordChallan(ctx context.Context, id, challan, receipt string, paidOn time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].ID == id && s.payments[i].Status == models.StatutoryPaymentPending {
			s.payments[i].Status = models.StatutoryPaymentFiled
			s.payments[i].ChallanNumber = &challan
			s.payments[i].ReceiptReference = &receipt
			s.payments[i].PaidOn = &paidOn
			return nil
		}
	}
	return sql.ErrNoRows
}

type slipStoreStub struct {
	mu    sync.Mutex
	slips map[string]*models.SalarySlip
	order []string
}

func newSlipStoreStub() *slipStoreStub {
	return &slipStoreStub{slips: make(map[string]*models.SalarySlip)}
}

func (s *slipStoreStub) CreatePending(ctx context.Context, slips []models.SalarySlip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range slips {
		exists := false
		for _, existing := range s.slips {
			if existing.EmployeePayrollID == slips[i].EmployeePayrollID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		slips[i].ID = fmt.Sprintf("slip-%d", len(s.order)+1)
		slips[i].Status = models.SlipPending
		cp := slips[i]
		s.slips[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return nil
}

func (s *slipStoreStub) GetByID(ctx context.Context, id string) (*models.SalarySlip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *slip
	return &cp, nil
}

func (s *slipStoreStub) ListByRun(ctx context.Context, runID string) ([]models.SalarySlip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SalarySlip
	for _, id := range s.order {
		if slip := s.slips[id]; slip.PayrollRunID == runID {
			out = append(out, *slip)
		}
	}
	return out, nil
}

func (s *slipStoreStub) ListPending(ctx context.Context, limit int) ([]models.SalarySlip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SalarySlip
	for _, id := range s.order {
		if slip := s.slips[id]; slip.Status == models.SlipPending && len(out) < limit {
			out = append(out, *slip)
		}
	}
	return out, nil
}

func (s *slipStoreStub) MarkGenerated(ctx context.Context, id, ref string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[id]
	if !ok {
		return sql.ErrNoRows
	}
	slip.Status = models.SlipGenerated
	slip.DocumentRef = &ref
	slip.GeneratedAt = &at
	slip.Attempts++
	return nil
}

func (s *slipStoreStub) MarkFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slip, ok := s.slips[id]
	if !ok || slip.Status != models.SlipPending {
		return sql.ErrNoRows
	}
	slip.Status = models.SlipFailed
	slip.LastError = &reason
	slip.Attempts++
	return nil
}

type dispatcherStub struct {
	mu   sync.Mutex
	runs []string
}

func (d *dispatcherStub) DispatchRun(ctx context.Context, runID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runs = append(d.runs, runID)
	return nil
}

type queueStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type employeeDirectoryStub struct {
	employees []models.Employee
}

func (s *employeeDirectoryStub) ListByIDs(ctx context.Context, ids []string) ([]models.Employee, error) {
	var out []models.Employee
	for _, e := range s.employees {
		for _, id := range ids {
			if e.ID == id {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (s *employeeDirectoryStub) ListActiveIDs(ctx context.Context) ([]string, error) {
	var out []string
	for _, e := range s.employees {
		if e.Status == models.EmployeeStatusActive {
			out = append(out, e.ID)
		}
	}
	return out, nil
}

func (s *employeeDirectoryStub) GetByID(ctx context.Context, id string) (*models.Employee, error) {
	for _, e := range s.employees {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

type overrideStoreStub struct {
	mu        sync.Mutex
	overrides map[string]*models.ManualOverride
	seq       int
}

func newOverrideStoreStub() *overrideStoreStub {
	return &overrideStoreStub{overrides: make(map[string]*models.ManualOverride)}
}

func (s *overrideStoreStub) Create(ctx context.Context, override *models.ManualOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	override.ID = fmt.Sprintf("override-%d", s.seq)
	cp := *override
	s.overrides[override.ID] = &cp
	return nil
}

func (s *overrideStoreStub) GetByID(ctx context.Context, id string, lock repository.LockMode) (*models.ManualOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	override, ok := s.overrides[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *override
	return &cp, nil
}

func (s *overrideStoreStub) ListByRun(ctx context.Context, runID string) ([]models.ManualOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ManualOverride
	for _, o := range s.overrides {
		if o.PayrollRunID == runID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *overrideStoreStub) HasOpenForComponent(ctx context.Context, componentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.overrides {
		if o.ComponentID != componentID {
			continue
		}
		if o.Status == models.OverridePending || (o.Status == models.OverrideApproved && !o.IsApplied) {
			return true, nil
		}
	}
	return false, nil
}

func (s *overrideStoreStub) Review(ctx context.Context, id string, status models.OverrideStatus, reviewer string, note *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[id]
	if !ok || o.Status != models.OverridePending {
		return sql.ErrNoRows
	}
	o.Status = status
	o.ReviewedBy = &reviewer
	o.ReviewNote = note
	o.ReviewedAt = &at
	return nil
}

func (s *overrideStoreStub) MarkApplied(ctx context.Context, id, actor string, reconcile bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overrides[id]
	if !ok || o.Status != models.OverrideApproved || o.IsApplied {
		return sql.ErrNoRows
	}
	o.IsApplied = true
	o.AppliedBy = &actor
	o.AppliedAt = &at
	o.RequiresReconciliation = reconcile
	return nil
}
