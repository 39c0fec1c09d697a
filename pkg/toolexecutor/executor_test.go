package toolexecutor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool() ToolDefinition {
	return ToolDefinition{
		Name:        "echo",
		Description: "Echo tool",
		Parameters: []ToolParameter{
			{Name: "message", Type: "string", Description: "Message to echo", Required: true},
			{Name: "mode", Type: "string", Description: "Echo mode", Enum: []string{"plain", "upper"}},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"echo": params["message"]}, nil
		},
	}
}

func TestToolExecutor_RegisterTool(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	tool, ok := te.GetTool("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, []string{"echo"}, te.ListTools())

	te.UnregisterTool("echo")
	_, ok = te.GetTool("echo")
	assert.False(t, ok)
}

func TestToolExecutor_RegisterTool_InvalidDefinition(t *testing.T) {
	te := New()
	noop := func(ctx context.Context, params map[string]any) (any, error) { return nil, nil }

	tests := []struct {
		name string
		def  ToolDefinition
	}{
		{name: "empty name", def: ToolDefinition{Description: "Test", Handler: noop}},
		{name: "empty description", def: ToolDefinition{Name: "test", Handler: noop}},
		{name: "nil handler", def: ToolDefinition{Name: "test", Description: "Test"}},
		{
			name: "bad parameter type",
			def: ToolDefinition{Name: "test", Description: "Test", Handler: noop,
				Parameters: []ToolParameter{{Name: "x", Type: "date", Description: "x"}}},
		},
		{
			name: "duplicate parameter",
			def: ToolDefinition{Name: "test", Description: "Test", Handler: noop,
				Parameters: []ToolParameter{
					{Name: "x", Type: "string", Description: "x"},
					{Name: "x", Type: "string", Description: "x"},
				}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, te.RegisterTool(tt.def))
		})
	}
}

func TestToolExecutor_Execute_Success(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))

	result, err := te.Execute(context.Background(), ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]any{"message": "Hello, World!"},
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "call-1", result.CallID)
	assert.JSONEq(t, `{"echo":"Hello, World!"}`, string(result.Result))
	assert.Empty(t, result.Error)
}

func TestToolExecutor_Execute_BusinessFailures(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "fails",
		Description: "Always fails",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errors.New("project not found")
		},
	}))

	tests := []struct {
		name    string
		call    ToolCall
		wantErr string
	}{
		{name: "unknown tool", call: ToolCall{ID: "1", Name: "nonexistent"}, wantErr: "tool not found: nonexistent"},
		{name: "missing argument", call: ToolCall{ID: "2", Name: "echo", Arguments: map[string]any{}}, wantErr: "parameter validation failed"},
		{name: "unexpected argument", call: ToolCall{ID: "3", Name: "echo", Arguments: map[string]any{"message": "x", "extra": 1}}, wantErr: "parameter validation failed"},
		{name: "enum violation", call: ToolCall{ID: "4", Name: "echo", Arguments: map[string]any{"message": "x", "mode": "loud"}}, wantErr: "parameter validation failed"},
		{name: "handler error", call: ToolCall{ID: "5", Name: "fails"}, wantErr: "project not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := te.Execute(context.Background(), tt.call)
			require.NoError(t, err)
			assert.False(t, result.Success)
			assert.Equal(t, tt.call.ID, result.CallID)
			assert.Contains(t, result.Error, tt.wantErr)
			assert.Nil(t, result.Result)
		})
	}
}

func TestToolExecutor_Execute_PanicIsReturnedAsError(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "explodes",
		Description: "Panics",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			panic("database handle is nil")
		},
	}))

	_, err := te.Execute(context.Background(), ToolCall{ID: "1", Name: "explodes"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolPanicked)
	assert.Contains(t, err.Error(), "database handle is nil")
}

func TestToolExecutor_Execute_Timeout(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "slow",
		Description: "Slow tool",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	ctx := ContextWithExecContext(context.Background(), &ExecutionContext{Timeout: 20 * time.Millisecond})
	result, err := te.Execute(ctx, ToolCall{ID: "1", Name: "slow"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")
}

func TestToolExecutor_Execute_WaitsForHandlerAfterTimeout(t *testing.T) {
	te := New()
	var finished atomic.Bool
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "stubborn",
		Description: "Ignores cancellation",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return "done", nil
		},
	}))

	ctx := ContextWithExecContext(context.Background(), &ExecutionContext{Timeout: 10 * time.Millisecond})
	result, err := te.Execute(ctx, ToolCall{ID: "1", Name: "stubborn"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timeout")
	assert.True(t, finished.Load(), "Execute returned while the handler was still running")
}

func TestToolExecutor_Execute_HandlerGraceBounded(t *testing.T) {
	te := New()
	te.SetHandlerGrace(30 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "stuck",
		Description: "Never returns on its own",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			<-release
			return nil, nil
		},
	}))

	ctx := ContextWithExecContext(context.Background(), &ExecutionContext{Timeout: 10 * time.Millisecond})
	start := time.Now()
	result, err := te.Execute(ctx, ToolCall{ID: "1", Name: "stuck"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestToolExecutor_Execute_CallerCancelled(t *testing.T) {
	te := New()
	require.NoError(t, te.RegisterTool(ToolDefinition{
		Name:        "blocks",
		Description: "Blocks until cancelled",
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := te.Execute(ctx, ToolCall{ID: "1", Name: "blocks"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToolExecutor_Definitions(t *testing.T) {
	te := New()
	noop := func(ctx context.Context, params map[string]any) (any, error) { return nil, nil }

	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "zeta", Description: "z", Handler: noop}))
	require.NoError(t, te.RegisterTool(echoTool()))
	require.NoError(t, te.RegisterTool(ToolDefinition{Name: "alpha", Description: "a", Handler: noop}))

	defs := te.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "echo", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)

	schema := defs[1].InputSchema
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"message"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "mode")
}

func TestExecContext(t *testing.T) {
	assert.Nil(t, ExecContextFromContext(context.Background()))

	ctx := ContextWithExecContext(context.Background(), &ExecutionContext{ConversationID: "c1"})
	require.NotNil(t, ExecContextFromContext(ctx))
	assert.Equal(t, "c1", ExecContextFromContext(ctx).ConversationID)
	assert.Equal(t, "c1", ConversationIDFromContext(ctx))
	assert.Empty(t, ConversationIDFromContext(context.Background()))
}
