package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultSystemPrompt = "You are an expense management assistant. Help users understand their expenses, " +
		"get summaries, and answer questions about expense approvals. You can only read data through the " +
		"provided functions; you cannot create, change, approve or reject expenses. Amounts are in the " +
		"company currency. If a function returns an error, explain it to the user plainly."

	NotConfiguredMessage = "Chat service is not configured. Please check OpenAI settings."
	EmptyTurnMessage     = "Please type a question about your expenses."
	noAnswerMessage      = "I couldn't put together an answer for that. Please try rephrasing your question."
	failureMessage       = "Sorry, I couldn't process your request right now. Please try again later. (reference %s)"
)

// Turn is one user message and the user it acts for.
type Turn struct {
	UserID int64
	Text   string
}

// Reply is the final answer for a turn. Function names the function that
// grounded the answer, if any.
type Reply struct {
	ID       string
	Text     string
	Function string
}

type Orchestrator struct {
	provider     Provider
	registry     *Registry
	systemPrompt string
	logger       *zap.Logger
}

type Option func(*Orchestrator)

func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		if strings.TrimSpace(prompt) != "" {
			o.systemPrompt = prompt
		}
	}
}

// NewOrchestrator accepts a nil provider; every turn is then answered with
// NotConfiguredMessage.
func NewOrchestrator(provider Provider, registry *Registry, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:     provider,
		registry:     registry,
		systemPrompt: DefaultSystemPrompt,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Configured() bool {
	return o.provider != nil
}

// Chat never fails: provider and function errors are logged and turned into
// a user-safe reply.
func (o *Orchestrator) Chat(ctx context.Context, turn Turn) Reply {
	reply := Reply{ID: uuid.NewString()}
	logger := o.logger.With(zap.String("turn_id", reply.ID), zap.Int64("user_id", turn.UserID))

	if !o.Configured() {
		reply.Text = NotConfiguredMessage
		return reply
	}
	if strings.TrimSpace(turn.Text) == "" {
		reply.Text = EmptyTurnMessage
		return reply
	}

	text, function, err := o.run(ctx, turn, logger)
	reply.Function = function
	if err != nil {
		logger.Error("Chat turn failed", zap.String("function", function), zap.Error(err))
		reply.Text = fmt.Sprintf(failureMessage, reply.ID)
		return reply
	}

	reply.Text = text
	return reply
}

func (o *Orchestrator) run(ctx context.Context, turn Turn, logger *zap.Logger) (string, string, error) {
	messages := []Message{
		{Role: RoleSystem, Content: o.systemPrompt},
		{Role: RoleUser, Content: turn.Text},
	}
	tools := o.registry.Tools()

	first, err := o.provider.Complete(ctx, Request{Messages: messages, Tools: tools})
	if err != nil {
		return "", "", fmt.Errorf("first completion: %w", err)
	}
	if first == nil {
		return "", "", errors.New("first completion: provider returned no completion")
	}
	if first.ToolCall == nil {
		return answerText(first), "", nil
	}

	call := first.ToolCall
	logger.Info("Model requested function",
		zap.String("function", call.Name),
		zap.String("arguments", call.Arguments))

	payload := o.invoke(ctx, call, turn.UserID, logger)
	if err := ctx.Err(); err != nil {
		return "", call.Name, err
	}

	messages = append(messages,
		Message{Role: RoleAssistant, Content: first.Text, ToolCall: call},
		Message{Role: RoleFunction, Name: call.Name, ToolCallID: call.ID, Content: string(payload)},
	)

	second, err := o.provider.Complete(ctx, Request{Messages: messages, Tools: tools, DisableTools: true})
	if err != nil {
		return "", call.Name, fmt.Errorf("second completion: %w", err)
	}
	if second == nil {
		return "", call.Name, errors.New("second completion: provider returned no completion")
	}
	return answerText(second), call.Name, nil
}

// invoke always yields a JSON payload; failures become {"error": ...} so the
// model can explain them.
func (o *Orchestrator) invoke(ctx context.Context, call *ToolCall, userID int64, logger *zap.Logger) []byte {
	payload, err := o.registry.Invoke(ctx, call.Name, call.Arguments, userID)
	if err == nil {
		return payload
	}

	message := err.Error()
	if errors.Is(err, ErrUnknownFunction) {
		message = "unknown function"
		logger.Warn("Model requested unknown function", zap.String("function", call.Name))
	} else {
		logger.Error("Function failed", zap.String("function", call.Name), zap.Error(err))
	}

	payload, _ = json.Marshal(map[string]string{"error": message})
	return payload
}

func answerText(c *Completion) string {
	if strings.TrimSpace(c.Text) == "" {
		return noAnswerMessage
	}
	return c.Text
}
