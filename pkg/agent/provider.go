package agent

import (
	"context"
	"fmt"

	"github.com/harun/taskpilot/internal/config"
	"github.com/harun/taskpilot/pkg/toolexecutor"
)

// Model is a conversational model able to request tool calls.
type Model interface {
	Call(ctx context.Context, request ModelRequest) (*ModelResponse, error)
	Provider() string
}

// ModelRequest is one model call.
type ModelRequest struct {
	Model        string
	Messages     []Message
	Tools        []toolexecutor.ToolSpec
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	// Extras carries provider-specific options.
	Extras map[string]any
}

// ModelResponse is the model's reply. ToolCalls is empty for a final answer.
type ModelResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderFactory creates models from AI profiles.
type ProviderFactory struct{}

// NewProvider creates the model for profile.Provider.
func (f *ProviderFactory) NewProvider(profile config.AIProfile) (Model, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	case "gemini":
		return NewGeminiProvider(context.Background(), profile.APIKey)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

func systemPrompt(request ModelRequest) string {
	if request.SystemPrompt != "" {
		return request.SystemPrompt
	}
	for _, msg := range request.Messages {
		if msg.Role == RoleSystem {
			return msg.Content
		}
	}
	return ""
}

func schemaRequired(schema map[string]any) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []any:
		out := make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
