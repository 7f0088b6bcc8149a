package models

import "time"

// Audited entity types.
const (
	EntityCompensationStructure = "compensation_structure"
	EntityAttendanceDaily       = "attendance_daily"
	EntityAttendanceSummary     = "attendance_summary"
	EntityLoan                  = "loan"
	EntityLoanInstallment       = "loan_installment"
	EntityPayrollRun            = "payroll_run"
	EntityEmployeePayroll       = "employee_payroll"
	EntityManualOverride        = "manual_override"
	EntityStatutoryPayment      = "statutory_payment"
)

// Audit actions.
const (
	AuditActionCreate          = "CREATE"
	AuditActionRecord          = "RECORD"
	AuditActionApprove         = "APPROVE"
	AuditActionReject          = "REJECT"
	AuditActionAggregate       = "AGGREGATE"
	AuditActionLock            = "LOCK"
	AuditActionUnlock          = "UNLOCK"
	AuditActionDisburse        = "DISBURSE"
	AuditActionRecover         = "RECOVER"
	AuditActionWaive           = "WAIVE"
	AuditActionRelease         = "RELEASE"
	AuditActionStartProcessing = "START_PROCESSING"
	AuditActionCompute         = "COMPUTE"
	AuditActionFinalize        = "FINALIZE"
	AuditActionMarkPaid        = "MARK_PAID"
	AuditActionCancel          = "CANCEL"
	AuditActionHold            = "HOLD"
	AuditActionReleaseHold     = "RELEASE_HOLD"
	AuditActionRequest         = "REQUEST"
	AuditActionApply           = "APPLY"
	AuditActionRecordChallan   = "RECORD_CHALLAN"
)

// AuditLogEntry is an append-only record of one mutation.
type AuditLogEntry struct {
	ID         string    `db:"id" json:"id"`
	EntityType string    `db:"entity_type" json:"entityType"`
	EntityID   string    `db:"entity_id" json:"entityId"`
	Action     string    `db:"action" json:"action"`
	Before     []byte    `db:"before_state" json:"before,omitempty"`
	After      []byte    `db:"after_state" json:"after,omitempty"`
	ActorID    string    `db:"actor_id" json:"actorId"`
	Context    []byte    `db:"context" json:"context,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
