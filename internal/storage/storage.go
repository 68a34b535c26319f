package storage

import (
	"context"
	"errors"

	"github.com/xaenox/expense-assistant/internal/models"
)

var (
	// ErrNotFound is returned when a referenced expense, user or category
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a write expected a status the
	// expense no longer has.
	ErrStatusConflict = errors.New("expense status changed")
)

type Storage interface {
	ExpenseStorage
	DirectoryStorage
	Close() error
}

type ExpenseStorage interface {
	ListExpenses(ctx context.Context) ([]*models.Expense, error)
	ListExpensesByUser(ctx context.Context, userID int64) ([]*models.Expense, error)
	ListExpensesByStatus(ctx context.Context, status models.Status) ([]*models.Expense, error)
	ListPendingExpenses(ctx context.Context) ([]*models.Expense, error)
	GetExpense(ctx context.Context, id int64) (*models.Expense, error)

	// CreateExpense assigns ID and CreatedAt. The expense is stored as Draft.
	CreateExpense(ctx context.Context, expense *models.Expense) error
	// UpdateExpense replaces business fields of a Draft expense.
	UpdateExpense(ctx context.Context, id int64, fields models.ExpenseFields) error
	// SetStatus applies change only if the stored status equals change.From.
	SetStatus(ctx context.Context, change models.StatusChange) error
	// DeleteExpense removes a Draft expense.
	DeleteExpense(ctx context.Context, id int64) error

	Summary(ctx context.Context) (*models.Summary, error)
}

// DirectoryStorage exposes users and reference data.
type DirectoryStorage interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListStatuses(ctx context.Context) ([]models.StatusInfo, error)
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
)
