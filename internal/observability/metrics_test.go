package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyKind(t *testing.T) {
	assert.Equal(t, "conversation", keyKind("conversation:abc"))
	assert.Equal(t, "store", keyKind("store:main:1"))
	assert.Equal(t, "plain", keyKind("plain"))
}

func TestMetricsHandlerExposesRecordedSeries(t *testing.T) {
	RecordQueueEnqueue("conversation:abc", 1)
	RecordQueueCompletion("conversation:abc", 10*time.Millisecond, true, 0)
	RecordQueueRejected("conversation:abc", "destroyed", 2)
	RecordToolExecution("create_task", time.Millisecond, false)
	RecordLoopRun("done", time.Second, 2)
	RecordModelRetry("anthropic")
	RecordGuardRejection("blocked_pattern")
	RecordStoreMutation("create_project", true)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	for _, name := range []string{
		`taskqueue_enqueue_total{kind="conversation"}`,
		`taskqueue_rejected_total{kind="conversation",reason="destroyed"} 2`,
		`tool_execution_total{status="error",tool="create_task"}`,
		`agent_loop_run_total{status="done"}`,
		`model_retries_total{provider="anthropic"}`,
		`input_guard_rejections_total{reason="blocked_pattern"}`,
		`store_mutations_total{mutation="create_project",status="success"}`,
	} {
		assert.True(t, strings.Contains(body, name), "missing series %s", name)
	}
}
