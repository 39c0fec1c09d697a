package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolsCommand(t *testing.T) {
	cfg := testConfigPath(t)
	t.Cleanup(func() { toolsJSON = false })

	output, err := executeCommand(t, "", "--config", cfg, "tools")
	require.NoError(t, err)
	assert.Contains(t, output, "create_project")
	assert.Contains(t, output, "move_task")

	output, err = executeCommand(t, "", "--config", cfg, "tools", "--json")
	require.NoError(t, err)

	var specs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &specs))
	assert.Len(t, specs, 11)
	assert.Equal(t, "create_project", specs[0]["name"])
	assert.Contains(t, specs[0], "input_schema")
}
