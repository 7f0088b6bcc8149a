package models

import "time"

// EmployeeStatus mirrors the directory's lifecycle state.
type EmployeeStatus string

const (
	EmployeeStatusActive     EmployeeStatus = "active"
	EmployeeStatusInactive   EmployeeStatus = "inactive"
	EmployeeStatusTerminated EmployeeStatus = "terminated"
)

// Employee is a read-only projection of the employee directory.
type Employee struct {
	ID            string         `db:"id" json:"id"`
	Code          string         `db:"employee_code" json:"employeeCode"`
	FullName      string         `db:"full_name" json:"fullName"`
	Email         *string        `db:"email" json:"email,omitempty"`
	Status        EmployeeStatus `db:"status" json:"status"`
	BankName      *string        `db:"bank_name" json:"bankName,omitempty"`
	BankAccount   *string        `db:"bank_account_number" json:"bankAccountNumber,omitempty"`
	BankIFSC      *string        `db:"bank_ifsc" json:"bankIfsc,omitempty"`
	PFNumber      *string        `db:"pf_number" json:"pfNumber,omitempty"`
	ESICNumber    *string        `db:"esic_number" json:"esicNumber,omitempty"`
	DateOfJoining *time.Time     `db:"date_of_joining" json:"dateOfJoining,omitempty"`
}

// Deref returns the pointed string or empty.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
