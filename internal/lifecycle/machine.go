// Package lifecycle decides which expense status transitions are legal and
// who may perform them.
//
// Machine holds the pure rules: every method takes an expense snapshot and
// returns either the next snapshot or a *Failure, without touching storage.
// Service loads the snapshot, asks the Machine, and persists the outcome with
// a single status-guarded write.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/xaenox/expense-assistant/internal/models"
)

// Kind classifies a rule violation.
type Kind string

const (
	InvalidTransition Kind = "invalid_transition"
	Unauthorized      Kind = "unauthorized"
	NotFound          Kind = "not_found"
	InvalidInput      Kind = "invalid_input"
)

// Op names a lifecycle operation.
type Op string

const (
	OpCreate  Op = "create"
	OpSubmit  Op = "submit"
	OpApprove Op = "approve"
	OpReject  Op = "reject"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
)

// Failure is an expected rule violation. It is a result, not an
// infrastructure error.
type Failure struct {
	Kind      Kind
	Op        Op
	ExpenseID int64
	Message   string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s expense %d: %s", f.Op, f.ExpenseID, f.Message)
}

func fail(kind Kind, op Op, id int64, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Op: op, ExpenseID: id, Message: fmt.Sprintf(format, args...)}
}

// Policy holds tunable workflow rules.
type Policy struct {
	// AllowSelfApproval lets a manager approve or reject their own expense.
	AllowSelfApproval bool
}

type Machine struct {
	policy Policy
	now    func() time.Time
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy, now: time.Now}
}

// Submit moves a Draft expense to Pending and stamps the submission time.
func (m *Machine) Submit(e models.Expense) (models.Expense, *Failure) {
	if e.Status != models.StatusDraft {
		return e, fail(InvalidTransition, OpSubmit, e.ID, "only draft expenses can be submitted, status is %s", e.Status)
	}

	at := m.now()
	e.Status = models.StatusPending
	e.SubmittedAt = &at
	return e, nil
}

// Approve moves a Pending expense to Approved on behalf of a manager.
func (m *Machine) Approve(e models.Expense, actor *models.User, comments *string) (models.Expense, *Failure) {
	return m.decide(OpApprove, models.StatusApproved, e, actor, comments)
}

// Reject moves a Pending expense to Rejected on behalf of a manager.
func (m *Machine) Reject(e models.Expense, actor *models.User, comments *string) (models.Expense, *Failure) {
	return m.decide(OpReject, models.StatusRejected, e, actor, comments)
}

func (m *Machine) decide(op Op, to models.Status, e models.Expense, actor *models.User, comments *string) (models.Expense, *Failure) {
	if actor == nil || !actor.IsManager {
		return e, fail(Unauthorized, op, e.ID, "actor is not a manager")
	}
	if actor.ID == e.UserID && !m.policy.AllowSelfApproval {
		return e, fail(Unauthorized, op, e.ID, "managers cannot %s their own expenses", op)
	}
	if e.Status != models.StatusPending {
		return e, fail(InvalidTransition, op, e.ID, "only pending expenses can be decided, status is %s", e.Status)
	}

	at := m.now()
	actorID := actor.ID
	e.Status = to
	e.ApprovedAt = &at
	e.ApprovedBy = &actorID
	e.Comments = comments
	return e, nil
}

// Update replaces the business fields of a Draft expense.
func (m *Machine) Update(e models.Expense, fields models.ExpenseFields) (models.Expense, *Failure) {
	if e.Status != models.StatusDraft {
		return e, fail(InvalidTransition, OpUpdate, e.ID, "only draft expenses can be edited, status is %s", e.Status)
	}
	if f := ValidateFields(OpUpdate, e.ID, fields); f != nil {
		return e, f
	}

	e.ExpenseFields = fields
	return e, nil
}

// Delete checks that e may be removed.
func (m *Machine) Delete(e models.Expense) *Failure {
	if e.Status != models.StatusDraft {
		return fail(InvalidTransition, OpDelete, e.ID, "only draft expenses can be deleted, status is %s", e.Status)
	}
	return nil
}

// ValidateFields checks business field values, not references.
func ValidateFields(op Op, id int64, fields models.ExpenseFields) *Failure {
	switch {
	case fields.Amount.IsNegative():
		return fail(InvalidInput, op, id, "amount must not be negative")
	case fields.Description == "":
		return fail(InvalidInput, op, id, "description is required")
	case fields.ExpenseDate.IsZero():
		return fail(InvalidInput, op, id, "expense date is required")
	}
	return nil
}
