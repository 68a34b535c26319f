package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// ErrUnknownFunction is returned by Invoke for names not in the registry.
var ErrUnknownFunction = errors.New("unknown function")

// Arguments is the raw argument payload of a tool call, bound to the schema
// of the function it targets.
type Arguments struct {
	raw    []byte
	schema jsonschema.Definition
}

// Bind validates the payload against the function schema and decodes it
// into v. Top-level null values count as omitted, so optional arguments
// keep their defaults.
func (a Arguments) Bind(v any) error {
	if err := jsonschema.VerifySchemaAndUnmarshal(a.schema, dropNulls(a.raw), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// dropNulls removes null members from a JSON object. Anything else is
// returned unchanged for the schema check to judge.
func dropNulls(raw []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return raw
	}

	dropped := false
	for key, value := range obj {
		if string(bytes.TrimSpace(value)) == "null" {
			delete(obj, key)
			dropped = true
		}
	}
	if !dropped {
		return raw
	}

	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

// Handler runs a function for the acting user and returns a JSON-encodable
// result.
type Handler func(ctx context.Context, args Arguments, actingUserID int64) (any, error)

type Function struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
	Handler     Handler
}

type Registry struct {
	functions map[string]Function
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]Function)}
}

func (r *Registry) Register(fn Function) error {
	if fn.Name == "" || fn.Handler == nil {
		return errors.New("function needs a name and a handler")
	}
	if _, exists := r.functions[fn.Name]; exists {
		return fmt.Errorf("function %q already registered", fn.Name)
	}
	r.functions[fn.Name] = fn
	r.order = append(r.order, fn.Name)
	return nil
}

func (r *Registry) Lookup(name string) (Function, bool) {
	fn, ok := r.functions[name]
	return fn, ok
}

// Tools returns the catalog in registration order.
func (r *Registry) Tools() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		fn := r.functions[name]
		tools = append(tools, Tool{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}
	return tools
}

// Invoke runs the named function and returns its JSON-encoded result. A
// panicking handler is reported as an error.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string, actingUserID int64) (payload []byte, err error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}

	raw := strings.TrimSpace(rawArgs)
	if raw == "" {
		raw = "{}"
	}

	defer func() {
		if rec := recover(); rec != nil {
			payload = nil
			err = fmt.Errorf("function %s panicked: %v", name, rec)
		}
	}()

	result, err := fn.Handler(ctx, Arguments{raw: []byte(raw), schema: fn.Parameters}, actingUserID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(result)
}
