package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RunIDKey is the context key for a single agent turn
	RunIDKey ContextKey = "run_id"
	// ConversationIDKey is the context key for the conversation identity
	ConversationIDKey ContextKey = "conversation_id"
	// ToolCallIDKey is the context key for the tool call being executed
	ToolCallIDKey ContextKey = "tool_call_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID        string
	RunID          string
	ConversationID string
	ToolCallID     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRunID adds a run ID to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithToolCallID adds a tool call ID to the context
func WithToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

func getString(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetRunID retrieves the run ID from the context
func GetRunID(ctx context.Context) string {
	return getString(ctx, RunIDKey)
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	return getString(ctx, ConversationIDKey)
}

// GetToolCallID retrieves the tool call ID from the context
func GetToolCallID(ctx context.Context) string {
	return getString(ctx, ToolCallIDKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:        GetTraceID(ctx),
		RunID:          GetRunID(ctx),
		ConversationID: GetConversationID(ctx),
		ToolCallID:     GetToolCallID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext tags ctx with a fresh run ID for one agent turn.
func NewRunContext(ctx context.Context, conversationID string) context.Context {
	ctx = WithRunID(ctx, NewRunID())
	return WithConversationID(ctx, conversationID)
}

// LoggerFromContext creates a logger carrying the tracing fields found in ctx.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)
	lc := baseLogger.With()

	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.ConversationID != "" {
		lc = lc.Str("conversation_id", tc.ConversationID)
	}
	if tc.ToolCallID != "" {
		lc = lc.Str("tool_call_id", tc.ToolCallID)
	}

	return lc.Logger()
}
