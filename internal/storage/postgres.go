package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/xaenox/expense-assistant/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return OpenPostgresStorage(config.DSN(), logger)
}

// OpenPostgresStorage connects using a ready DSN or URL and applies migrations.
func OpenPostgresStorage(dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema(ctx context.Context) error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Debug("Database schema initialized")
	return nil
}

// SeedDemoData inserts the demo users and categories, and the two demo
// expenses when the expenses table is empty.
func (s *PostgresStorage) SeedDemoData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting seed transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`INSERT INTO users (user_id, first_name, last_name, email, department, is_manager) VALUES
			(1, 'John', 'Doe', 'john.doe@company.com', 'Sales', FALSE),
			(2, 'Jane', 'Smith', 'jane.smith@company.com', 'Sales', TRUE)
		ON CONFLICT (user_id) DO NOTHING`,
		`INSERT INTO expense_categories (category_id, category_name, description) VALUES
			(1, 'Meals', 'Business meals and entertainment'),
			(2, 'Travel', 'Transportation and lodging'),
			(3, 'Supplies', 'Office supplies'),
			(4, 'Other', 'Miscellaneous expenses')
		ON CONFLICT (category_id) DO NOTHING`,
		`SELECT setval('users_user_id_seq', (SELECT MAX(user_id) FROM users))`,
		`SELECT setval('expense_categories_category_id_seq', (SELECT MAX(category_id) FROM expense_categories))`,
		`INSERT INTO expenses (user_id, category_id, amount, expense_date, description, status_id, created_at, submitted_at)
		SELECT * FROM (VALUES
			(1::BIGINT, 1::BIGINT, 250.00::NUMERIC, NOW() - INTERVAL '5 days', 'Client lunch meeting', 2, NOW() - INTERVAL '5 days', NOW() - INTERVAL '4 days'),
			(1::BIGINT, 2::BIGINT, 125.50::NUMERIC, NOW() - INTERVAL '3 days', 'Taxi to airport', 2, NOW() - INTERVAL '3 days', NOW() - INTERVAL '2 days')
		) AS demo
		WHERE NOT EXISTS (SELECT 1 FROM expenses)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error seeding demo data: %w", err)
		}
	}

	return tx.Commit()
}

const expenseColumns = `
	SELECT e.expense_id, e.user_id, e.category_id, e.amount, e.expense_date, e.description, e.receipt,
		e.status_id, e.created_at, e.submitted_at, e.approved_at, e.approved_by, e.comments,
		c.category_name, s.status_name, u.first_name || ' ' || u.last_name,
		COALESCE(a.first_name || ' ' || a.last_name, '')
	FROM expenses e
	JOIN expense_categories c ON c.category_id = e.category_id
	JOIN expense_statuses s ON s.status_id = e.status_id
	JOIN users u ON u.user_id = e.user_id
	LEFT JOIN users a ON a.user_id = e.approved_by`

const expenseOrder = ` ORDER BY e.created_at DESC, e.expense_id DESC`

func (s *PostgresStorage) ListExpenses(ctx context.Context) ([]*models.Expense, error) {
	return s.queryExpenses(ctx, expenseColumns+expenseOrder)
}

func (s *PostgresStorage) ListExpensesByUser(ctx context.Context, userID int64) ([]*models.Expense, error) {
	return s.queryExpenses(ctx, expenseColumns+` WHERE e.user_id = $1`+expenseOrder, userID)
}

func (s *PostgresStorage) ListExpensesByStatus(ctx context.Context, status models.Status) ([]*models.Expense, error) {
	return s.queryExpenses(ctx, expenseColumns+` WHERE e.status_id = $1`+expenseOrder, int(status))
}

func (s *PostgresStorage) ListPendingExpenses(ctx context.Context) ([]*models.Expense, error) {
	return s.ListExpensesByStatus(ctx, models.StatusPending)
}

func (s *PostgresStorage) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	expenses, err := s.queryExpenses(ctx, expenseColumns+` WHERE e.expense_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(expenses) == 0 {
		return nil, fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}
	return expenses[0], nil
}

func (s *PostgresStorage) CreateExpense(ctx context.Context, expense *models.Expense) error {
	query := `
		INSERT INTO expenses (user_id, category_id, amount, expense_date, description, receipt, status_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING expense_id, created_at`

	err := s.db.QueryRowContext(ctx, query,
		expense.UserID,
		expense.CategoryID,
		expense.Amount,
		expense.ExpenseDate,
		expense.Description,
		expense.Receipt,
		int(models.StatusDraft),
	).Scan(&expense.ID, &expense.CreatedAt)
	if err != nil {
		return fmt.Errorf("error creating expense: %w", err)
	}

	expense.Status = models.StatusDraft
	return nil
}

func (s *PostgresStorage) UpdateExpense(ctx context.Context, id int64, fields models.ExpenseFields) error {
	query := `
		UPDATE expenses
		SET category_id = $1, amount = $2, expense_date = $3, description = $4, receipt = $5
		WHERE expense_id = $6 AND status_id = $7`

	result, err := s.db.ExecContext(ctx, query,
		fields.CategoryID,
		fields.Amount,
		fields.ExpenseDate,
		fields.Description,
		fields.Receipt,
		id,
		int(models.StatusDraft),
	)
	if err != nil {
		return fmt.Errorf("error updating expense: %w", err)
	}
	return s.checkGuardedWrite(ctx, result, id)
}

func (s *PostgresStorage) SetStatus(ctx context.Context, change models.StatusChange) error {
	var query string
	args := []any{int(change.To), change.At, change.ExpenseID, int(change.From)}

	switch change.To {
	case models.StatusPending:
		query = `
			UPDATE expenses SET status_id = $1, submitted_at = $2
			WHERE expense_id = $3 AND status_id = $4`
	default:
		query = `
			UPDATE expenses SET status_id = $1, approved_at = $2, approved_by = $5, comments = $6
			WHERE expense_id = $3 AND status_id = $4`
		args = append(args, change.ActorID, change.Comments)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("error setting expense status: %w", err)
	}
	return s.checkGuardedWrite(ctx, result, change.ExpenseID)
}

func (s *PostgresStorage) DeleteExpense(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE expense_id = $1 AND status_id = $2`,
		id, int(models.StatusDraft))
	if err != nil {
		return fmt.Errorf("error deleting expense: %w", err)
	}
	return s.checkGuardedWrite(ctx, result, id)
}

// checkGuardedWrite tells a missing row apart from a status mismatch when a
// status-guarded statement touched nothing.
func (s *PostgresStorage) checkGuardedWrite(ctx context.Context, result sql.Result, id int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status models.Status
	err = s.db.QueryRowContext(ctx, `SELECT status_id FROM expenses WHERE expense_id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("error reading expense status: %w", err)
	}
	return fmt.Errorf("expense %d is %s: %w", id, status, ErrStatusConflict)
}

func (s *PostgresStorage) Summary(ctx context.Context) (*models.Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(*) FILTER (WHERE status_id = 1),
			COUNT(*) FILTER (WHERE status_id = 2),
			COUNT(*) FILTER (WHERE status_id = 3),
			COUNT(*) FILTER (WHERE status_id = 4),
			COALESCE(SUM(amount) FILTER (WHERE status_id = 2), 0),
			COALESCE(SUM(amount) FILTER (WHERE status_id = 3), 0)
		FROM expenses`

	summary := &models.Summary{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&summary.TotalExpenses,
		&summary.TotalAmount,
		&summary.DraftCount,
		&summary.PendingCount,
		&summary.ApprovedCount,
		&summary.RejectedCount,
		&summary.PendingAmount,
		&summary.ApprovedAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("error querying expense summary: %w", err)
	}
	return summary, nil
}

func (s *PostgresStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, first_name, last_name, email, department, is_manager
		FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Department, &user.IsManager); err != nil {
			return nil, fmt.Errorf("error scanning user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, first_name, last_name, email, department, is_manager
		FROM users WHERE user_id = $1`, id,
	).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email, &user.Department, &user.IsManager)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

func (s *PostgresStorage) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id, category_name, description
		FROM expense_categories ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		category := &models.Category{}
		if err := rows.Scan(&category.ID, &category.Name, &category.Description); err != nil {
			return nil, fmt.Errorf("error scanning category: %w", err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

func (s *PostgresStorage) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	category := &models.Category{}
	err := s.db.QueryRowContext(ctx, `
		SELECT category_id, category_name, description
		FROM expense_categories WHERE category_id = $1`, id,
	).Scan(&category.ID, &category.Name, &category.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error getting category: %w", err)
	}
	return category, nil
}

func (s *PostgresStorage) ListStatuses(ctx context.Context) ([]models.StatusInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status_id, status_name FROM expense_statuses ORDER BY status_id`)
	if err != nil {
		return nil, fmt.Errorf("error querying statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.StatusInfo
	for rows.Next() {
		var st models.StatusInfo
		if err := rows.Scan(&st.ID, &st.Name); err != nil {
			return nil, fmt.Errorf("error scanning status: %w", err)
		}
		statuses = append(statuses, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating statuses: %w", err)
	}
	return statuses, nil
}

func (s *PostgresStorage) queryExpenses(ctx context.Context, query string, args ...any) ([]*models.Expense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*models.Expense, 0)
	for rows.Next() {
		e := &models.Expense{}
		err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.CategoryID,
			&e.Amount,
			&e.ExpenseDate,
			&e.Description,
			&e.Receipt,
			&e.Status,
			&e.CreatedAt,
			&e.SubmittedAt,
			&e.ApprovedAt,
			&e.ApprovedBy,
			&e.Comments,
			&e.CategoryName,
			&e.StatusName,
			&e.UserName,
			&e.ApproverName,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return expenses, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
