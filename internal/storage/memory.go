package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xaenox/expense-assistant/internal/models"
)

type MemoryStorage struct {
	mu         sync.RWMutex
	expenses   map[int64]*models.Expense
	users      map[int64]*models.User
	categories map[int64]*models.Category
	nextID     int64
	now        func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		expenses:   make(map[int64]*models.Expense),
		users:      make(map[int64]*models.User),
		categories: make(map[int64]*models.Category),
		nextID:     1,
		now:        time.Now,
	}
}

// NewSeededMemoryStorage returns a store holding the demo users, categories
// and two pending expenses for John Doe.
func NewSeededMemoryStorage() *MemoryStorage {
	s := NewMemoryStorage()
	s.Seed()
	return s
}

// Seed loads demo data. Existing rows with the same ids are replaced.
func (s *MemoryStorage) Seed() {
	sales := "Sales"
	s.PutUser(&models.User{ID: 1, FirstName: "John", LastName: "Doe", Email: "john.doe@company.com", Department: &sales})
	s.PutUser(&models.User{ID: 2, FirstName: "Jane", LastName: "Smith", Email: "jane.smith@company.com", Department: &sales, IsManager: true})

	s.PutCategory(&models.Category{ID: 1, Name: "Meals", Description: "Business meals and entertainment"})
	s.PutCategory(&models.Category{ID: 2, Name: "Travel", Description: "Transportation and lodging"})
	s.PutCategory(&models.Category{ID: 3, Name: "Supplies", Description: "Office supplies"})
	s.PutCategory(&models.Category{ID: 4, Name: "Other", Description: "Miscellaneous expenses"})

	now := s.now()
	s.PutExpense(&models.Expense{
		ID:     1,
		UserID: 1,
		Status: models.StatusPending,
		ExpenseFields: models.ExpenseFields{
			CategoryID:  1,
			Amount:      decimal.RequireFromString("250.00"),
			ExpenseDate: now.AddDate(0, 0, -5),
			Description: "Client lunch meeting",
		},
		CreatedAt:   now.AddDate(0, 0, -5),
		SubmittedAt: timePtr(now.AddDate(0, 0, -4)),
	})
	s.PutExpense(&models.Expense{
		ID:     2,
		UserID: 1,
		Status: models.StatusPending,
		ExpenseFields: models.ExpenseFields{
			CategoryID:  2,
			Amount:      decimal.RequireFromString("125.50"),
			ExpenseDate: now.AddDate(0, 0, -3),
			Description: "Taxi to airport",
		},
		CreatedAt:   now.AddDate(0, 0, -3),
		SubmittedAt: timePtr(now.AddDate(0, 0, -2)),
	})
}

// PutUser inserts or replaces a user.
func (s *MemoryStorage) PutUser(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[u.ID] = &u
}

// PutCategory inserts or replaces a category.
func (s *MemoryStorage) PutCategory(category *models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *category
	s.categories[c.ID] = &c
}

// PutExpense inserts or replaces an expense as-is, keeping its status.
func (s *MemoryStorage) PutExpense(expense *models.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *expense
	s.expenses[e.ID] = &e
	if e.ID >= s.nextID {
		s.nextID = e.ID + 1
	}
}

// Expense methods
func (s *MemoryStorage) ListExpenses(ctx context.Context) ([]*models.Expense, error) {
	return s.filter(func(*models.Expense) bool { return true }), nil
}

func (s *MemoryStorage) ListExpensesByUser(ctx context.Context, userID int64) ([]*models.Expense, error) {
	return s.filter(func(e *models.Expense) bool { return e.UserID == userID }), nil
}

func (s *MemoryStorage) ListExpensesByStatus(ctx context.Context, status models.Status) ([]*models.Expense, error) {
	return s.filter(func(e *models.Expense) bool { return e.Status == status }), nil
}

func (s *MemoryStorage) ListPendingExpenses(ctx context.Context) ([]*models.Expense, error) {
	return s.ListExpensesByStatus(ctx, models.StatusPending)
}

func (s *MemoryStorage) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.expenses[id]
	if !exists {
		return nil, fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}
	return s.view(e), nil
}

func (s *MemoryStorage) CreateExpense(ctx context.Context, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense.ID = s.nextID
	expense.Status = models.StatusDraft
	expense.CreatedAt = s.now()
	s.nextID++

	e := *expense
	s.expenses[e.ID] = &e
	return nil
}

func (s *MemoryStorage) UpdateExpense(ctx context.Context, id int64, fields models.ExpenseFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.expenses[id]
	if !exists {
		return fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}
	if e.Status != models.StatusDraft {
		return fmt.Errorf("expense %d is %s: %w", id, e.Status, ErrStatusConflict)
	}

	e.ExpenseFields = fields
	return nil
}

func (s *MemoryStorage) SetStatus(ctx context.Context, change models.StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.expenses[change.ExpenseID]
	if !exists {
		return fmt.Errorf("expense %d: %w", change.ExpenseID, ErrNotFound)
	}
	if e.Status != change.From {
		return fmt.Errorf("expense %d is %s, expected %s: %w", e.ID, e.Status, change.From, ErrStatusConflict)
	}

	e.Status = change.To
	switch change.To {
	case models.StatusPending:
		e.SubmittedAt = timePtr(change.At)
	case models.StatusApproved, models.StatusRejected:
		e.ApprovedAt = timePtr(change.At)
		e.ApprovedBy = change.ActorID
		e.Comments = change.Comments
	}
	return nil
}

func (s *MemoryStorage) DeleteExpense(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.expenses[id]
	if !exists {
		return fmt.Errorf("expense %d: %w", id, ErrNotFound)
	}
	if e.Status != models.StatusDraft {
		return fmt.Errorf("expense %d is %s: %w", id, e.Status, ErrStatusConflict)
	}

	delete(s.expenses, id)
	return nil
}

func (s *MemoryStorage) Summary(ctx context.Context) (*models.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &models.Summary{}
	for _, e := range s.expenses {
		summary.TotalExpenses++
		summary.TotalAmount = summary.TotalAmount.Add(e.Amount)
		switch e.Status {
		case models.StatusDraft:
			summary.DraftCount++
		case models.StatusPending:
			summary.PendingCount++
			summary.PendingAmount = summary.PendingAmount.Add(e.Amount)
		case models.StatusApproved:
			summary.ApprovedCount++
			summary.ApprovedAmount = summary.ApprovedAmount.Add(e.Amount)
		case models.StatusRejected:
			summary.RejectedCount++
		}
	}
	return summary, nil
}

// User and reference data methods
func (s *MemoryStorage) ListUsers(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		user := *u
		users = append(users, &user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.users[id]
	if !exists {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	user := *u
	return &user, nil
}

func (s *MemoryStorage) ListCategories(ctx context.Context) ([]*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]*models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		category := *c
		categories = append(categories, &category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	return categories, nil
}

func (s *MemoryStorage) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.categories[id]
	if !exists {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	category := *c
	return &category, nil
}

func (s *MemoryStorage) ListStatuses(ctx context.Context) ([]models.StatusInfo, error) {
	statuses := make([]models.StatusInfo, 0, len(models.Statuses))
	for _, st := range models.Statuses {
		statuses = append(statuses, models.StatusInfo{ID: st, Name: st.String()})
	}
	return statuses, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// filter returns matching expenses ordered newest first, like the SQL store.
func (s *MemoryStorage) filter(match func(*models.Expense) bool) []*models.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expenses := make([]*models.Expense, 0)
	for _, e := range s.expenses {
		if match(e) {
			expenses = append(expenses, s.view(e))
		}
	}
	sort.Slice(expenses, func(i, j int) bool {
		if expenses[i].CreatedAt.Equal(expenses[j].CreatedAt) {
			return expenses[i].ID > expenses[j].ID
		}
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses
}

// view copies e and fills the denormalized names. Callers hold s.mu.
func (s *MemoryStorage) view(e *models.Expense) *models.Expense {
	out := *e
	out.StatusName = e.Status.String()
	if c, ok := s.categories[e.CategoryID]; ok {
		out.CategoryName = c.Name
	}
	if u, ok := s.users[e.UserID]; ok {
		out.UserName = u.DisplayName()
	}
	if e.ApprovedBy != nil {
		if u, ok := s.users[*e.ApprovedBy]; ok {
			out.ApproverName = u.DisplayName()
		}
	}
	return &out
}

func timePtr(t time.Time) *time.Time {
	return &t
}
