package toolexecutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single handler invocation.
const DefaultTimeout = 30 * time.Second

// DefaultHandlerGrace is how long Execute keeps waiting for a handler that
// has not returned after its context was cancelled.
const DefaultHandlerGrace = 5 * time.Second

var (
	// ErrToolNotFound is reported when a call names an unregistered tool.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolPanicked wraps a panic recovered from a tool handler.
	ErrToolPanicked = errors.New("tool panicked")
)

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. Returning an
// error reports a business failure; the output is marshalled to JSON.
// Handlers must return promptly once ctx is done: Execute waits at most the
// handler grace period for them before releasing the caller.
type ToolHandler func(ctx context.Context, params map[string]any) (any, error)

// ToolSpec is the model-facing description of a tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolCall is a model request to run one tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolExecutionResult is the outcome of one tool call. Result is set only on
// success and Error only on failure.
type ToolExecutionResult struct {
	CallID  string          `json:"call_id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type registeredTool struct {
	def       ToolDefinition
	schemaMap map[string]any
	schema    *gojsonschema.Schema
}

// ToolExecutor manages and executes tools
type ToolExecutor struct {
	tools          map[string]*registeredTool
	defaultTimeout time.Duration
	handlerGrace   time.Duration
	mu             sync.RWMutex
}

// New creates a new ToolExecutor
func New() *ToolExecutor {
	observability.EnsureRegistered()

	return &ToolExecutor{
		tools:          make(map[string]*registeredTool),
		defaultTimeout: DefaultTimeout,
		handlerGrace:   DefaultHandlerGrace,
	}
}

// SetDefaultTimeout changes the per-call timeout used when the execution
// context does not carry one.
func (te *ToolExecutor) SetDefaultTimeout(timeout time.Duration) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if timeout > 0 {
		te.defaultTimeout = timeout
	}
}

// SetHandlerGrace changes how long a cancelled handler may keep running
// before Execute returns without it.
func (te *ToolExecutor) SetHandlerGrace(grace time.Duration) {
	te.mu.Lock()
	defer te.mu.Unlock()
	if grace > 0 {
		te.handlerGrace = grace
	}
}

// RegisterTool registers a new tool, replacing any tool with the same name.
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	te.tools[def.Name] = &registeredTool{
		def:       def,
		schemaMap: schemaMap,
		schema:    schema,
	}

	log.Debug().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// UnregisterTool removes a tool
func (te *ToolExecutor) UnregisterTool(name string) {
	te.mu.Lock()
	defer te.mu.Unlock()

	delete(te.tools, name)
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) (ToolDefinition, bool) {
	te.mu.RLock()
	defer te.mu.RUnlock()

	tool, ok := te.tools[name]
	if !ok {
		return ToolDefinition{}, false
	}
	return tool.def, true
}

// ListTools returns all registered tool names, sorted.
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	names := make([]string, 0, len(te.tools))
	for name := range te.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the model-facing specs of every tool, sorted by name.
func (te *ToolExecutor) Definitions() []ToolSpec {
	te.mu.RLock()
	defer te.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(te.tools))
	for _, tool := range te.tools {
		specs = append(specs, ToolSpec{
			Name:        tool.def.Name,
			Description: tool.def.Description,
			InputSchema: tool.schemaMap,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs call. Unknown tools, invalid arguments, handler errors and
// timeouts come back as an unsuccessful result. A handler panic is returned
// as an error wrapping ErrToolPanicked.
func (te *ToolExecutor) Execute(ctx context.Context, call ToolCall) (ToolExecutionResult, error) {
	startTime := time.Now()

	ctx = tracing.WithToolCallID(ctx, call.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"taskpilot.toolexecutor",
		"toolexecutor.execute",
		attribute.String("tool", call.Name),
		attribute.String("tool_call_id", call.ID),
		attribute.String("conversation_id", ConversationIDFromContext(ctx)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("tool", call.Name).Logger()

	result, err := te.execute(ctx, call)
	duration := time.Since(startTime)

	switch {
	case err != nil:
		tracing.RecordError(span, err)
		logger.Error().Dur("duration", duration).Err(err).Msg("Tool execution raised")
	case !result.Success:
		logger.Warn().Dur("duration", duration).Str("error", result.Error).Msg("Tool execution failed")
	default:
		logger.Debug().Dur("duration", duration).Msg("Tool execution completed")
	}

	observability.RecordToolExecution(call.Name, duration, err == nil && result.Success)
	return result, err
}

func (te *ToolExecutor) execute(ctx context.Context, call ToolCall) (ToolExecutionResult, error) {
	te.mu.RLock()
	tool := te.tools[call.Name]
	timeout := te.defaultTimeout
	grace := te.handlerGrace
	te.mu.RUnlock()

	failure := func(format string, args ...any) ToolExecutionResult {
		return ToolExecutionResult{CallID: call.ID, Success: false, Error: fmt.Sprintf(format, args...)}
	}

	if tool == nil {
		return failure("%v: %s", ErrToolNotFound, call.Name), nil
	}

	params := call.Arguments
	if params == nil {
		params = map[string]any{}
	}

	if err := validateParameters(tool.schema, params); err != nil {
		return failure("parameter validation failed: %v", err), nil
	}

	if execCtx := ExecContextFromContext(ctx); execCtx != nil && execCtx.Timeout > 0 {
		timeout = execCtx.Timeout
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output   any
		err      error
		panicked any
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{panicked: r}
			}
		}()
		output, err := tool.def.Handler(timeoutCtx, params)
		done <- outcome{output: output, err: err}
	}()

	select {
	case out := <-done:
		if out.panicked != nil {
			return ToolExecutionResult{CallID: call.ID}, fmt.Errorf("%w: %v", ErrToolPanicked, out.panicked)
		}
		if out.err != nil {
			if ctx.Err() != nil {
				return ToolExecutionResult{CallID: call.ID}, ctx.Err()
			}
			if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
				return failure("tool execution timeout after %v", timeout), nil
			}
			return failure("%s", out.err.Error()), nil
		}

		payload, err := json.Marshal(out.output)
		if err != nil {
			return failure("failed to encode tool output: %v", err), nil
		}
		return ToolExecutionResult{CallID: call.ID, Success: true, Result: payload}, nil

	case <-timeoutCtx.Done():
		// hold the caller until the handler returns so queued calls never overlap
		select {
		case <-done:
		case <-time.After(grace):
			log.Warn().Str("tool", call.Name).Dur("grace", grace).Msg("Tool handler ignored cancellation")
		}
		if ctx.Err() != nil {
			return ToolExecutionResult{CallID: call.ID}, ctx.Err()
		}
		return failure("tool execution timeout after %v", timeout), nil
	}
}

// validateToolDefinition validates a tool definition
func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildSchemaMap generates a JSON Schema document from tool parameters
func buildSchemaMap(def ToolDefinition) map[string]any {
	properties := make(map[string]any, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]any{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]any) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
