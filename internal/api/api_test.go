package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/expense-assistant/internal/assistant"
	"github.com/xaenox/expense-assistant/internal/lifecycle"
	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
	"go.uber.org/zap"
)

type fixedProvider struct {
	completions []*assistant.Completion
	calls       int
}

func (p *fixedProvider) Complete(ctx context.Context, req assistant.Request) (*assistant.Completion, error) {
	c := p.completions[p.calls]
	p.calls++
	return c, nil
}

type failingStorage struct {
	storage.Storage
}

func (failingStorage) ListExpenses(ctx context.Context) ([]*models.Expense, error) {
	return nil, errors.New("connection reset by peer")
}

func newTestRouter(t *testing.T, store storage.Storage, provider assistant.Provider) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	service := lifecycle.NewService(store, lifecycle.NewMachine(lifecycle.Policy{}), logger)
	orchestrator := assistant.NewOrchestrator(provider, assistant.NewExpenseRegistry(store), logger)
	return NewRouter(NewHandler(store, service, orchestrator, logger), logger)
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeExpense(t *testing.T, w *httptest.ResponseRecorder) models.Expense {
	t.Helper()
	var e models.Expense
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestReadEndpoints(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	tests := []struct {
		name   string
		path   string
		status int
		count  int
	}{
		{"all expenses", "/api/expenses", http.StatusOK, 2},
		{"user expenses", "/api/expenses/user/1", http.StatusOK, 2},
		{"other user expenses", "/api/expenses/user/2", http.StatusOK, 0},
		{"pending", "/api/expenses/pending", http.StatusOK, 2},
		{"by status", "/api/expenses/status/3", http.StatusOK, 0},
		{"categories", "/api/categories", http.StatusOK, 4},
		{"statuses", "/api/statuses", http.StatusOK, 4},
		{"users", "/api/users", http.StatusOK, 2},
		{"unknown status", "/api/expenses/status/7", http.StatusBadRequest, -1},
		{"bad id", "/api/expenses/user/abc", http.StatusBadRequest, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.count < 0 {
				return
			}
			var items []json.RawMessage
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
			assert.Len(t, items, tt.count)
		})
	}
}

func TestGetExpenseAndUser(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	w := do(t, r, http.MethodGet, "/api/expenses/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	e := decodeExpense(t, w)
	assert.Equal(t, "Taxi to airport", e.Description)
	assert.Equal(t, "Travel", e.CategoryName)
	assert.Equal(t, "John Doe", e.UserName)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/expenses/99", nil).Code)

	w = do(t, r, http.MethodGet, "/api/users/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var u models.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.True(t, u.IsManager)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/users/42", nil).Code)
}

func TestSummary(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	w := do(t, r, http.MethodGet, "/api/expenses/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var s models.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s))
	assert.Equal(t, 2, s.TotalExpenses)
	assert.Equal(t, 2, s.PendingCount)
	assert.True(t, s.PendingAmount.Equal(decimal.RequireFromString("375.50")))
}

func TestExpenseLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	w := do(t, r, http.MethodPost, "/api/expenses", map[string]any{
		"userId":      1,
		"categoryId":  3,
		"amount":      "42.10",
		"expenseDate": "2024-03-01",
		"description": "Printer paper",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeExpense(t, w)
	assert.Equal(t, models.StatusDraft, created.Status)
	assert.Equal(t, "Supplies", created.CategoryName)
	assert.True(t, created.Amount.Equal(decimal.RequireFromString("42.10")))

	path := "/api/expenses/" + jsonNumber(created.ID)

	w = do(t, r, http.MethodPut, path, map[string]any{
		"categoryId":  3,
		"amount":      45,
		"expenseDate": "2024-03-01",
		"description": "Printer paper and toner",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Printer paper and toner", decodeExpense(t, w).Description)

	w = do(t, r, http.MethodPost, path+"/submit", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	submitted := decodeExpense(t, w)
	assert.Equal(t, models.StatusPending, submitted.Status)
	assert.NotNil(t, submitted.SubmittedAt)

	w = do(t, r, http.MethodPost, path+"/submit", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPut, path, map[string]any{
		"categoryId":  3,
		"amount":      1,
		"expenseDate": "2024-03-01",
		"description": "too late",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodPost, path+"/approve", map[string]any{"actorId": 1})
	assert.Equal(t, http.StatusForbidden, w.Code, "non-manager")

	w = do(t, r, http.MethodPost, path+"/approve", map[string]any{"actorId": 2, "comments": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	approved := decodeExpense(t, w)
	assert.Equal(t, models.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, int64(2), *approved.ApprovedBy)
	assert.Equal(t, "Jane Smith", approved.ApproverName)

	w = do(t, r, http.MethodPost, path+"/reject", map[string]any{"actorId": 2})
	assert.Equal(t, http.StatusConflict, w.Code)

	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodDelete, path, nil).Code)
}

func TestCreateAndDeleteDraft(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	w := do(t, r, http.MethodPost, "/api/expenses", map[string]any{
		"userId":      2,
		"categoryId":  4,
		"amount":      10,
		"expenseDate": "2024-03-02T00:00:00Z",
		"description": "Parking",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	path := "/api/expenses/" + jsonNumber(decodeExpense(t, w).ID)

	assert.Equal(t, http.StatusNoContent, do(t, r, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, path, nil).Code)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"negative amount", map[string]any{"userId": 1, "categoryId": 1, "amount": -5, "expenseDate": "2024-01-01", "description": "x"}, http.StatusBadRequest},
		{"missing description", map[string]any{"userId": 1, "categoryId": 1, "amount": 5, "expenseDate": "2024-01-01"}, http.StatusBadRequest},
		{"bad date", map[string]any{"userId": 1, "categoryId": 1, "amount": 5, "expenseDate": "01/02/2024", "description": "x"}, http.StatusBadRequest},
		{"unknown category", map[string]any{"userId": 1, "categoryId": 9, "amount": 5, "expenseDate": "2024-01-01", "description": "x"}, http.StatusBadRequest},
		{"unknown owner", map[string]any{"userId": 9, "categoryId": 1, "amount": 5, "expenseDate": "2024-01-01", "description": "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/expenses", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestDecisionRequiresActor(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/expenses/1/approve", map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/expenses/1/approve", map[string]any{"actorId": 77}).Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/expenses/99/reject", map[string]any{"actorId": 2}).Code)

	w := do(t, r, http.MethodPost, "/api/expenses/1/reject", map[string]any{"actorId": 2, "comments": "missing receipt"})
	require.Equal(t, http.StatusOK, w.Code)
	rejected := decodeExpense(t, w)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.Comments)
	assert.Equal(t, "missing receipt", *rejected.Comments)
}

func TestInfrastructureErrorIsGeneric(t *testing.T) {
	r := newTestRouter(t, failingStorage{storage.NewSeededMemoryStorage()}, nil)

	w := do(t, r, http.MethodGet, "/api/expenses", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}

func TestChat(t *testing.T) {
	t.Run("answered", func(t *testing.T) {
		provider := &fixedProvider{completions: []*assistant.Completion{
			{ToolCall: &assistant.ToolCall{ID: "call_1", Name: assistant.FuncPendingExpenses}},
			{Text: "Two expenses are waiting, $375.50 in total."},
		}}
		r := newTestRouter(t, storage.NewSeededMemoryStorage(), provider)

		w := do(t, r, http.MethodPost, "/api/chat", map[string]any{"message": "what is pending?", "userId": 2})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp chatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Two expenses are waiting, $375.50 in total.", resp.Response)
		assert.Equal(t, assistant.FuncPendingExpenses, resp.Function)
		assert.NotEmpty(t, resp.Reference)
	})

	t.Run("not configured", func(t *testing.T) {
		r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

		w := do(t, r, http.MethodPost, "/api/chat", map[string]any{"message": "hi", "userId": 1})
		require.Equal(t, http.StatusOK, w.Code)
		var resp chatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, assistant.NotConfiguredMessage, resp.Response)
	})

	t.Run("unknown user", func(t *testing.T) {
		r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)
		assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/api/chat", map[string]any{"message": "hi", "userId": 5}).Code)
	})

	t.Run("missing user", func(t *testing.T) {
		r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)
		assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/chat", map[string]any{"message": "hi"}).Code)
	})
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, storage.NewSeededMemoryStorage(), nil)

	w := do(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok", "assistant": false}`, w.Body.String())
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
