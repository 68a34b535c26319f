//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/xaenox/expense-assistant/internal/models"
	"go.uber.org/zap"
)

// setupPostgres starts a disposable PostgreSQL container and returns a
// migrated, seeded store.
func setupPostgres(t *testing.T) *PostgresStorage {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("expenses"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("warning: failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := OpenPostgresStorage(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.SeedDemoData(ctx))
	return store
}

func TestIntegration_Postgres_SeedAndRead(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	expenses, err := store.ListExpensesByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, "John Doe", expenses[0].UserName)

	statuses, err := store.ListStatuses(ctx)
	require.NoError(t, err)
	assert.Len(t, statuses, 4)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.PendingCount)
	assert.True(t, summary.PendingAmount.Equal(decimal.RequireFromString("375.50")))

	// Seeding twice is a no-op.
	require.NoError(t, store.SeedDemoData(ctx))
	all, err := store.ListExpenses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIntegration_Postgres_Lifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	expense := &models.Expense{
		UserID: 1,
		ExpenseFields: models.ExpenseFields{
			CategoryID:  3,
			Amount:      decimal.RequireFromString("19.99"),
			ExpenseDate: time.Now().UTC().Truncate(time.Second),
			Description: "Notebooks",
		},
	}
	require.NoError(t, store.CreateExpense(ctx, expense))
	require.NotZero(t, expense.ID)

	fields := expense.ExpenseFields
	fields.Amount = decimal.RequireFromString("21.00")
	require.NoError(t, store.UpdateExpense(ctx, expense.ID, fields))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.SetStatus(ctx, models.StatusChange{
		ExpenseID: expense.ID, From: models.StatusDraft, To: models.StatusPending, At: at,
	}))

	err := store.UpdateExpense(ctx, expense.ID, fields)
	assert.ErrorIs(t, err, ErrStatusConflict)
	assert.ErrorIs(t, store.DeleteExpense(ctx, expense.ID), ErrStatusConflict)

	approver := int64(2)
	comments := "approved"
	require.NoError(t, store.SetStatus(ctx, models.StatusChange{
		ExpenseID: expense.ID, From: models.StatusPending, To: models.StatusApproved,
		ActorID: &approver, Comments: &comments, At: at,
	}))

	err = store.SetStatus(ctx, models.StatusChange{
		ExpenseID: expense.ID, From: models.StatusPending, To: models.StatusRejected, At: at,
	})
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, err := store.GetExpense(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "Jane Smith", got.ApproverName)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("21.00")))

	_, err = store.GetExpense(ctx, 99999)
	assert.ErrorIs(t, err, ErrNotFound)
}
