package toolexecutor

import (
	"context"
	"time"
)

// ExecutionContext carries per-turn settings to tool handlers. A zero
// Timeout leaves the executor default in place.
type ExecutionContext struct {
	ConversationID string
	Timeout        time.Duration
}

type execContextKey struct{}

// ContextWithExecContext returns ctx carrying execCtx. A nil execCtx returns ctx unchanged.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext returns the execution context set by the caller, or nil.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if ctx == nil {
		return nil
	}
	execCtx, _ := ctx.Value(execContextKey{}).(*ExecutionContext)
	return execCtx
}

// ConversationIDFromContext returns the conversation a tool call belongs to.
func ConversationIDFromContext(ctx context.Context) string {
	if execCtx := ExecContextFromContext(ctx); execCtx != nil {
		return execCtx.ConversationID
	}
	return ""
}
