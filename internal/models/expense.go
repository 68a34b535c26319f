package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the approval state of an expense. Values match the ids stored in
// the expense_statuses reference table.
type Status int

const (
	StatusDraft    Status = 1
	StatusPending  Status = 2
	StatusApproved Status = 3
	StatusRejected Status = 4
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusPending, StatusApproved, StatusRejected}

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusPending:
		return "Pending"
	case StatusApproved:
		return "Approved"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= StatusDraft && s <= StatusRejected
}

// Terminal reports whether no further transition is accepted from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ExpenseFields are the business fields of an expense. They are frozen once
// the expense leaves Draft.
type ExpenseFields struct {
	CategoryID  int64           `json:"categoryId"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate time.Time       `json:"expenseDate"`
	Description string          `json:"description"`
	Receipt     *string         `json:"receipt,omitempty"`
}

// Expense is a reimbursement request and its approval state.
type Expense struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"userId"`
	Status Status `json:"statusId"`

	ExpenseFields

	CreatedAt   time.Time  `json:"createdAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
	ApprovedBy  *int64     `json:"approvedBy,omitempty"`
	Comments    *string    `json:"comments,omitempty"`

	// Denormalized names filled by storage reads.
	CategoryName string `json:"categoryName,omitempty"`
	StatusName   string `json:"statusName,omitempty"`
	UserName     string `json:"userName,omitempty"`
	ApproverName string `json:"approverName,omitempty"`
}

// StatusChange is a single compare-and-set status write.
type StatusChange struct {
	ExpenseID int64
	From      Status
	To        Status
	ActorID   *int64
	Comments  *string
	At        time.Time
}
