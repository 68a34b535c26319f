// Package api exposes expenses, lifecycle transitions, reference data and the
// chat assistant over a JSON HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xaenox/expense-assistant/internal/assistant"
	"github.com/xaenox/expense-assistant/internal/lifecycle"
	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type Handler struct {
	store     storage.Storage
	service   *lifecycle.Service
	assistant *assistant.Orchestrator
	logger    *zap.Logger
}

func NewHandler(store storage.Storage, service *lifecycle.Service, orchestrator *assistant.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		service:   service,
		assistant: orchestrator,
		logger:    logger,
	}
}

type expenseRequest struct {
	UserID      int64           `json:"userId"`
	CategoryID  int64           `json:"categoryId"`
	Amount      decimal.Decimal `json:"amount"`
	ExpenseDate string          `json:"expenseDate"`
	Description string          `json:"description"`
	Receipt     *string         `json:"receipt"`
}

// fields converts the request body. Dates are accepted as YYYY-MM-DD or
// RFC 3339.
func (r expenseRequest) fields() (models.ExpenseFields, error) {
	date, err := time.Parse(dateLayout, r.ExpenseDate)
	if err != nil {
		if date, err = time.Parse(time.RFC3339, r.ExpenseDate); err != nil {
			return models.ExpenseFields{}, fmt.Errorf("expenseDate must be YYYY-MM-DD")
		}
	}
	return models.ExpenseFields{
		CategoryID:  r.CategoryID,
		Amount:      r.Amount,
		ExpenseDate: date,
		Description: strings.TrimSpace(r.Description),
		Receipt:     r.Receipt,
	}, nil
}

type decisionRequest struct {
	ActorID  int64   `json:"actorId" binding:"required"`
	Comments *string `json:"comments"`
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  int64  `json:"userId" binding:"required"`
}

type chatResponse struct {
	Response  string `json:"response"`
	Reference string `json:"reference"`
	Function  string `json:"function,omitempty"`
}

func (h *Handler) listExpenses(c *gin.Context) {
	expenses, err := h.store.ListExpenses(c.Request.Context())
	h.respondList(c, "list expenses", expenses, err)
}

func (h *Handler) listUserExpenses(c *gin.Context) {
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	expenses, err := h.store.ListExpensesByUser(c.Request.Context(), userID)
	h.respondList(c, "list user expenses", expenses, err)
}

func (h *Handler) listExpensesByStatus(c *gin.Context) {
	raw, ok := idParam(c, "statusId")
	if !ok {
		return
	}
	status := models.Status(raw)
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status id %d", raw)})
		return
	}
	expenses, err := h.store.ListExpensesByStatus(c.Request.Context(), status)
	h.respondList(c, "list expenses by status", expenses, err)
}

func (h *Handler) listPendingExpenses(c *gin.Context) {
	expenses, err := h.store.ListPendingExpenses(c.Request.Context())
	h.respondList(c, "list pending expenses", expenses, err)
}

func (h *Handler) summary(c *gin.Context) {
	summary, err := h.store.Summary(c.Request.Context())
	if err != nil {
		h.internalError(c, "expense summary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) getExpense(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	expense, err := h.store.GetExpense(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "get expense", fmt.Sprintf("expense %d not found", id), err)
		return
	}
	c.JSON(http.StatusOK, expense)
}

func (h *Handler) createExpense(c *gin.Context) {
	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	fields, err := req.fields()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.Create(c.Request.Context(), req.UserID, fields)
	h.respondResult(c, http.StatusCreated, res, err)
}

func (h *Handler) updateExpense(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req expenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	fields, err := req.fields()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.Update(c.Request.Context(), id, fields)
	h.respondResult(c, http.StatusOK, res, err)
}

func (h *Handler) deleteExpense(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.service.Delete(c.Request.Context(), id)
	h.respondResult(c, http.StatusNoContent, res, err)
}

func (h *Handler) submitExpense(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	res, err := h.service.Submit(c.Request.Context(), id)
	h.respondResult(c, http.StatusOK, res, err)
}

func (h *Handler) approveExpense(c *gin.Context) {
	h.decide(c, h.service.Approve)
}

func (h *Handler) rejectExpense(c *gin.Context) {
	h.decide(c, h.service.Reject)
}

func (h *Handler) decide(c *gin.Context, apply func(ctx context.Context, id, actorID int64, comments *string) (lifecycle.Result, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actorId is required"})
		return
	}

	res, err := apply(c.Request.Context(), id, req.ActorID, req.Comments)
	h.respondResult(c, http.StatusOK, res, err)
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.store.ListCategories(c.Request.Context())
	if err != nil {
		h.internalError(c, "list categories", err)
		return
	}
	c.JSON(http.StatusOK, categories)
}

func (h *Handler) listStatuses(c *gin.Context) {
	statuses, err := h.store.ListStatuses(c.Request.Context())
	if err != nil {
		h.internalError(c, "list statuses", err)
		return
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListUsers(c.Request.Context())
	if err != nil {
		h.internalError(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, err := h.store.GetUser(c.Request.Context(), id)
	if err != nil {
		h.lookupError(c, "get user", fmt.Sprintf("user %d not found", id), err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	if _, err := h.store.GetUser(c.Request.Context(), req.UserID); err != nil {
		h.lookupError(c, "chat user", fmt.Sprintf("user %d not found", req.UserID), err)
		return
	}

	reply := h.assistant.Chat(c.Request.Context(), assistant.Turn{UserID: req.UserID, Text: req.Message})
	c.JSON(http.StatusOK, chatResponse{
		Response:  reply.Text,
		Reference: reply.ID,
		Function:  reply.Function,
	})
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "assistant": h.assistant.Configured()})
}

func (h *Handler) respondList(c *gin.Context, op string, expenses []*models.Expense, err error) {
	if err != nil {
		h.internalError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, expenses)
}

// respondResult writes a lifecycle outcome: the expense on success, the
// failure with its mapped status otherwise.
func (h *Handler) respondResult(c *gin.Context, okStatus int, res lifecycle.Result, err error) {
	if err != nil {
		h.internalError(c, "lifecycle operation", err)
		return
	}
	if f := res.Failure; f != nil {
		c.JSON(failureStatus(f.Kind), gin.H{"error": f.Message, "kind": f.Kind})
		return
	}
	if res.Expense == nil {
		c.Status(okStatus)
		return
	}
	c.JSON(okStatus, res.Expense)
}

func failureStatus(kind lifecycle.Kind) int {
	switch kind {
	case lifecycle.InvalidInput:
		return http.StatusBadRequest
	case lifecycle.Unauthorized:
		return http.StatusForbidden
	case lifecycle.NotFound:
		return http.StatusNotFound
	case lifecycle.InvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) lookupError(c *gin.Context, op, notFound string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	h.internalError(c, op, err)
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error("Request failed",
		zap.String("op", op),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}
