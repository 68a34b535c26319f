package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	APITypeOpenAI = "openai"
	APITypeAzure  = "azure"
)

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	APIType     string
	APIVersion  string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// OpenAIProvider talks to the OpenAI or Azure OpenAI chat completions API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

// NewOpenAIProvider returns ErrUpstreamUnavailable when the config has no
// credentials, or no endpoint for Azure.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrUpstreamUnavailable)
	}

	var clientConfig openai.ClientConfig
	switch strings.ToLower(cfg.APIType) {
	case "", APITypeOpenAI:
		clientConfig = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}
	case APITypeAzure:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: azure endpoint is empty", ErrUpstreamUnavailable)
		}
		clientConfig = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientConfig.APIVersion = cfg.APIVersion
		}
		// The configured model is the Azure deployment name.
		clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	default:
		return nil, fmt.Errorf("unsupported openai api type %q", cfg.APIType)
	}

	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Messages),
		MaxTokens:   p.maxTokens,
		Temperature: float32(p.temperature),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ParallelToolCalls = false
		if req.DisableTools {
			chatReq.ToolChoice = "none"
		} else {
			chatReq.ToolChoice = "auto"
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			p.logger.Error("OpenAI API error",
				zap.Int("status", apiErr.HTTPStatusCode),
				zap.Any("code", apiErr.Code),
				zap.String("message", apiErr.Message))
		}
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	choice := resp.Choices[0]
	p.logger.Debug("Chat completion received",
		zap.String("finish_reason", string(choice.FinishReason)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	completion := &Completion{Text: strings.TrimSpace(choice.Message.Content)}
	// Only the first call is honoured; one function runs per turn.
	if len(choice.Message.ToolCalls) > 0 {
		call := choice.Message.ToolCalls[0]
		completion.ToolCall = &ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return completion, nil
}

func toOpenAITools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case RoleSystem:
			msg.Role = openai.ChatMessageRoleSystem
		case RoleUser:
			msg.Role = openai.ChatMessageRoleUser
		case RoleAssistant:
			msg.Role = openai.ChatMessageRoleAssistant
			if m.ToolCall != nil {
				msg.ToolCalls = []openai.ToolCall{{
					ID:   m.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: m.ToolCall.Arguments,
					},
				}}
			}
		case RoleFunction:
			msg.Role = openai.ChatMessageRoleTool
			msg.Name = m.Name
			msg.ToolCallID = m.ToolCallID
		}
		out = append(out, msg)
	}
	return out
}
