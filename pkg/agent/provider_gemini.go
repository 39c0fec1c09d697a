package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// geminiClient is the subset of the genai client the provider uses.
type geminiClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type genaiModels struct {
	client *genai.Client
}

func (c genaiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return c.client.Models.GenerateContent(ctx, model, contents, config)
}

// GeminiProvider implements Model for Google Gemini
type GeminiProvider struct {
	client geminiClient
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: genaiModels{client: client}}, nil
}

// Provider returns the provider name
func (p *GeminiProvider) Provider() string {
	return "gemini"
}

// Call makes an API call to Google Gemini
func (p *GeminiProvider) Call(ctx context.Context, request ModelRequest) (*ModelResponse, error) {
	config := &genai.GenerateContentConfig{
		Tools: toGeminiTools(request),
	}
	if system := systemPrompt(request); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if request.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(request.Temperature))
	}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}

	resp, err := p.client.GenerateContent(ctx, request.Model, toGeminiContents(request.Messages), config)
	if err != nil {
		return nil, p.mapError(err)
	}
	return p.fromResponse(resp)
}

// toGeminiContents converts messages, resolving tool results to the
// function name of the call they answer.
func toGeminiContents(messages []Message) []*genai.Content {
	callNames := make(map[string]string)
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleAssistant:
			parts := []*genai.Part{}
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     callNames[msg.ToolCallID],
					Response: map[string]any{"content": msg.Content},
				},
			}}, genai.RoleUser))
		}
	}
	return contents
}

func toGeminiTools(request ModelRequest) []*genai.Tool {
	if len(request.Tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(request.Tools))
	for _, spec := range request.Tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  toGeminiSchema(spec.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGeminiSchema(schema map[string]any) *genai.Schema {
	out := &genai.Schema{Type: genai.TypeObject, Required: schemaRequired(schema)}

	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return out
	}
	out.Properties = make(map[string]*genai.Schema, len(props))
	for name, raw := range props {
		prop, _ := raw.(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		ps := &genai.Schema{Type: toGeminiType(typ), Description: desc}
		if enum, ok := prop["enum"].([]string); ok {
			ps.Enum = enum
		}
		out.Properties[name] = ps
	}
	return out
}

func toGeminiType(typ string) genai.Type {
	switch typ {
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func (p *GeminiProvider) fromResponse(resp *genai.GenerateContentResponse) (*ModelResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: p.Provider(), Code: ErrorCodeInvalidRequest, Message: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, &ProviderError{Provider: p.Provider(), Code: ErrorCodeContentBlocked, Message: "content blocked by safety filters"}
	}

	out := &ModelResponse{}
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				out.Content += part.Text
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = uuid.NewString()
				}
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:        id,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
	}

	if usage := resp.UsageMetadata; usage != nil {
		out.Usage = &TokenUsage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (p *GeminiProvider) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(p.Provider(), apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return NewProviderError(p.Provider(), apiErrPtr.Code, apiErrPtr.Message, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderError{
		Provider:   p.Provider(),
		Code:       ErrorCodeNetwork,
		Retryable:  true,
		Underlying: err,
	}
}
