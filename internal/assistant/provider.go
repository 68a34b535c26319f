// Package assistant answers free-text questions about expenses. The
// Orchestrator runs one bounded exchange with a chat-completion Provider and
// may call a single read-only function from the Registry per turn.
package assistant

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// ErrUpstreamUnavailable is returned when a Provider cannot be built because
// no endpoint or credentials are configured.
var ErrUpstreamUnavailable = errors.New("model provider is not configured")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message is one entry of the history sent to the Provider.
type Message struct {
	Role    Role
	Content string

	// ToolCall is set on the assistant message that asked for a function.
	ToolCall *ToolCall

	// Name and ToolCallID are set on function result messages.
	Name       string
	ToolCallID string
}

// ToolCall is the model's request to run a named function.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool advertises a callable function to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

type Request struct {
	Messages []Message
	Tools    []Tool

	// DisableTools keeps the catalog in the request but forbids new calls.
	DisableTools bool
}

// Completion is either plain text or a tool-call intent with optional
// partial text.
type Completion struct {
	Text     string
	ToolCall *ToolCall
}

type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
