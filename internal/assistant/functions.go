package assistant

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
	"github.com/shopspring/decimal"
	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
)

const (
	FuncUserExpenses     = "get_user_expenses"
	FuncExpenseSummary   = "get_expense_summary"
	FuncPendingExpenses  = "get_pending_expenses"
	FuncExpensesByStatus = "get_expenses_by_status"
)

// expenseReport keeps tool payloads small: aggregates plus light projections.
type expenseReport struct {
	Count    int             `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Status   string          `json:"status,omitempty"`
	Expenses []expenseDigest `json:"expenses"`
}

type expenseDigest struct {
	ID          int64           `json:"id"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date,omitempty"`
	User        string          `json:"user,omitempty"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Status      string          `json:"status,omitempty"`
}

type userExpensesArgs struct {
	UserID *int64 `json:"userId"`
}

type statusArgs struct {
	StatusID *int `json:"statusId"`
}

// NewExpenseRegistry returns the registry of read-only expense functions.
func NewExpenseRegistry(store storage.ExpenseStorage) *Registry {
	r := NewRegistry()
	for _, fn := range ExpenseFunctions(store) {
		// Names are constants; a duplicate is a programming error.
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
	return r
}

// ExpenseFunctions builds the function catalog over store. Every handler
// runs exactly one storage query.
func ExpenseFunctions(store storage.ExpenseStorage) []Function {
	noParams := jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: map[string]jsonschema.Definition{},
	}

	return []Function{
		{
			Name:        FuncUserExpenses,
			Description: "Get all expenses for a specific user. Defaults to the user asking the question.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"userId": {Type: jsonschema.Integer, Description: "The ID of the user"},
				},
			},
			Handler: func(ctx context.Context, args Arguments, actingUserID int64) (any, error) {
				var in userExpensesArgs
				if err := args.Bind(&in); err != nil {
					return nil, err
				}
				userID := actingUserID
				if in.UserID != nil {
					userID = *in.UserID
				}

				expenses, err := store.ListExpensesByUser(ctx, userID)
				if err != nil {
					return nil, err
				}
				return report(expenses, func(e *models.Expense) expenseDigest {
					return expenseDigest{
						ID:          e.ID,
						Amount:      e.Amount,
						Date:        e.ExpenseDate.Format("2006-01-02"),
						Description: e.Description,
						Category:    e.CategoryName,
						Status:      e.Status.String(),
					}
				}), nil
			},
		},
		{
			Name:        FuncExpenseSummary,
			Description: "Get a summary of all expenses including totals and counts by status",
			Parameters:  noParams,
			Handler: func(ctx context.Context, args Arguments, actingUserID int64) (any, error) {
				return store.Summary(ctx)
			},
		},
		{
			Name:        FuncPendingExpenses,
			Description: "Get all expenses that are pending approval",
			Parameters:  noParams,
			Handler: func(ctx context.Context, args Arguments, actingUserID int64) (any, error) {
				expenses, err := store.ListPendingExpenses(ctx)
				if err != nil {
					return nil, err
				}
				return report(expenses, queueDigest), nil
			},
		},
		{
			Name:        FuncExpensesByStatus,
			Description: "Get expenses filtered by status. Defaults to pending expenses.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"statusId": {
						Type:        jsonschema.Integer,
						Description: "The status ID (1=Draft, 2=Pending, 3=Approved, 4=Rejected)",
					},
				},
			},
			Handler: func(ctx context.Context, args Arguments, actingUserID int64) (any, error) {
				var in statusArgs
				if err := args.Bind(&in); err != nil {
					return nil, err
				}
				status := models.StatusPending
				if in.StatusID != nil {
					status = models.Status(*in.StatusID)
				}
				if !status.Valid() {
					return nil, fmt.Errorf("unknown status id %d", status)
				}

				expenses, err := store.ListExpensesByStatus(ctx, status)
				if err != nil {
					return nil, err
				}
				out := report(expenses, queueDigest)
				out.Status = status.String()
				return out, nil
			},
		},
	}
}

func queueDigest(e *models.Expense) expenseDigest {
	return expenseDigest{
		ID:          e.ID,
		Amount:      e.Amount,
		User:        e.UserName,
		Description: e.Description,
		Category:    e.CategoryName,
	}
}

func report(expenses []*models.Expense, digest func(*models.Expense) expenseDigest) *expenseReport {
	out := &expenseReport{
		Count:    len(expenses),
		Total:    decimal.Zero,
		Expenses: make([]expenseDigest, 0, len(expenses)),
	}
	for _, e := range expenses {
		out.Total = out.Total.Add(e.Amount)
		out.Expenses = append(out.Expenses, digest(e))
	}
	return out
}
