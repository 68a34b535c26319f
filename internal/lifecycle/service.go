package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/expense-assistant/internal/models"
	"github.com/xaenox/expense-assistant/internal/storage"
	"go.uber.org/zap"
)

// Result is the outcome of a lifecycle operation. Exactly one of Expense and
// Failure is set; Expense is nil after a successful Delete.
type Result struct {
	Expense *models.Expense
	Failure *Failure
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Failure == nil
}

func failed(f *Failure) Result {
	return Result{Failure: f}
}

type Service struct {
	store   storage.Storage
	machine *Machine
	logger  *zap.Logger
}

func NewService(store storage.Storage, machine *Machine, logger *zap.Logger) *Service {
	return &Service{
		store:   store,
		machine: machine,
		logger:  logger,
	}
}

// Create stores a new Draft expense for ownerID.
func (s *Service) Create(ctx context.Context, ownerID int64, fields models.ExpenseFields) (Result, error) {
	if f := ValidateFields(OpCreate, 0, fields); f != nil {
		return failed(f), nil
	}
	if _, err := s.store.GetUser(ctx, ownerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(fail(NotFound, OpCreate, 0, "user %d does not exist", ownerID)), nil
		}
		return Result{}, fmt.Errorf("load owner: %w", err)
	}
	if _, err := s.store.GetCategory(ctx, fields.CategoryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(fail(InvalidInput, OpCreate, 0, "category %d does not exist", fields.CategoryID)), nil
		}
		return Result{}, fmt.Errorf("load category: %w", err)
	}

	expense := &models.Expense{UserID: ownerID, ExpenseFields: fields}
	if err := s.store.CreateExpense(ctx, expense); err != nil {
		return Result{}, fmt.Errorf("create expense: %w", err)
	}

	s.logger.Info("Expense created",
		zap.Int64("expense_id", expense.ID),
		zap.Int64("user_id", ownerID),
		zap.String("amount", expense.Amount.StringFixed(2)))

	return s.reload(ctx, OpCreate, expense.ID)
}

func (s *Service) Submit(ctx context.Context, id int64) (Result, error) {
	expense, res, err := s.load(ctx, OpSubmit, id)
	if expense == nil {
		return res, err
	}

	next, f := s.machine.Submit(*expense)
	if f != nil {
		return failed(f), nil
	}

	return s.persistStatus(ctx, OpSubmit, expense.Status, &next)
}

func (s *Service) Approve(ctx context.Context, id, actorID int64, comments *string) (Result, error) {
	return s.decide(ctx, OpApprove, id, actorID, comments)
}

func (s *Service) Reject(ctx context.Context, id, actorID int64, comments *string) (Result, error) {
	return s.decide(ctx, OpReject, id, actorID, comments)
}

func (s *Service) decide(ctx context.Context, op Op, id, actorID int64, comments *string) (Result, error) {
	expense, res, err := s.load(ctx, op, id)
	if expense == nil {
		return res, err
	}

	actor, err := s.store.GetUser(ctx, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(fail(NotFound, op, id, "user %d does not exist", actorID)), nil
		}
		return Result{}, fmt.Errorf("load actor: %w", err)
	}

	var next models.Expense
	var f *Failure
	if op == OpApprove {
		next, f = s.machine.Approve(*expense, actor, comments)
	} else {
		next, f = s.machine.Reject(*expense, actor, comments)
	}
	if f != nil {
		s.logger.Warn("Expense decision refused",
			zap.String("op", string(op)),
			zap.Int64("expense_id", id),
			zap.Int64("actor_id", actorID),
			zap.String("kind", string(f.Kind)))
		return failed(f), nil
	}

	return s.persistStatus(ctx, op, expense.Status, &next)
}

func (s *Service) Update(ctx context.Context, id int64, fields models.ExpenseFields) (Result, error) {
	expense, res, err := s.load(ctx, OpUpdate, id)
	if expense == nil {
		return res, err
	}

	next, f := s.machine.Update(*expense, fields)
	if f != nil {
		return failed(f), nil
	}
	if _, err := s.store.GetCategory(ctx, fields.CategoryID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failed(fail(InvalidInput, OpUpdate, id, "category %d does not exist", fields.CategoryID)), nil
		}
		return Result{}, fmt.Errorf("load category: %w", err)
	}

	if err := s.store.UpdateExpense(ctx, id, next.ExpenseFields); err != nil {
		if r, ok := s.guardFailure(OpUpdate, id, err); ok {
			return r, nil
		}
		return Result{}, fmt.Errorf("update expense: %w", err)
	}

	s.logger.Info("Expense updated", zap.Int64("expense_id", id))
	return s.reload(ctx, OpUpdate, id)
}

func (s *Service) Delete(ctx context.Context, id int64) (Result, error) {
	expense, res, err := s.load(ctx, OpDelete, id)
	if expense == nil {
		return res, err
	}

	if f := s.machine.Delete(*expense); f != nil {
		return failed(f), nil
	}

	if err := s.store.DeleteExpense(ctx, id); err != nil {
		if r, ok := s.guardFailure(OpDelete, id, err); ok {
			return r, nil
		}
		return Result{}, fmt.Errorf("delete expense: %w", err)
	}

	s.logger.Info("Expense deleted", zap.Int64("expense_id", id))
	return Result{}, nil
}

// load fetches the expense. A nil expense means the returned Result or error
// is final.
func (s *Service) load(ctx context.Context, op Op, id int64) (*models.Expense, Result, error) {
	expense, err := s.store.GetExpense(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failed(fail(NotFound, op, id, "expense does not exist")), nil
		}
		return nil, Result{}, fmt.Errorf("load expense: %w", err)
	}
	return expense, Result{}, nil
}

func (s *Service) persistStatus(ctx context.Context, op Op, from models.Status, next *models.Expense) (Result, error) {
	change := models.StatusChange{
		ExpenseID: next.ID,
		From:      from,
		To:        next.Status,
		ActorID:   next.ApprovedBy,
		Comments:  next.Comments,
	}
	switch next.Status {
	case models.StatusPending:
		change.At = *next.SubmittedAt
	default:
		change.At = *next.ApprovedAt
	}

	if err := s.store.SetStatus(ctx, change); err != nil {
		if r, ok := s.guardFailure(op, next.ID, err); ok {
			return r, nil
		}
		return Result{}, fmt.Errorf("set status: %w", err)
	}

	fields := []zap.Field{
		zap.Int64("expense_id", next.ID),
		zap.String("from", from.String()),
		zap.String("to", next.Status.String()),
	}
	if change.ActorID != nil {
		fields = append(fields, zap.Int64("actor_id", *change.ActorID))
	}
	s.logger.Info("Expense status changed", fields...)

	return s.reload(ctx, op, next.ID)
}

// guardFailure maps status-guarded write errors to rule failures. A lost race
// against a concurrent transition reads as InvalidTransition.
func (s *Service) guardFailure(op Op, id int64, err error) (Result, bool) {
	switch {
	case errors.Is(err, storage.ErrStatusConflict):
		return failed(fail(InvalidTransition, op, id, "expense status changed concurrently")), true
	case errors.Is(err, storage.ErrNotFound):
		return failed(fail(NotFound, op, id, "expense does not exist")), true
	}
	return Result{}, false
}

func (s *Service) reload(ctx context.Context, op Op, id int64) (Result, error) {
	expense, res, err := s.load(ctx, op, id)
	if expense == nil {
		return res, err
	}
	return Result{Expense: expense}, nil
}
