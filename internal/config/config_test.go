package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{ID: "primary", Provider: "anthropic", APIKey: "sk-ant-test-key", Priority: 10},
		{ID: "backup", Provider: "openai", APIKey: "sk-openai-key", Priority: 5},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.MaxRetries)
	assert.Equal(t, 1000, cfg.Agent.RetryBaseDelayMs)
	assert.Equal(t, 10000, cfg.Guard.MaxLength)
	assert.Equal(t, "REF", cfg.Guard.ReferenceTag)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Empty(t, cfg.AI.Profiles)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid without profiles", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("valid profiles", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing profile id",
			mutate:  func(c *Config) { c.AI.Profiles[0].ID = "" },
			wantErr: "ID is required",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.AI.Profiles[0].APIKey = "" },
			wantErr: "api_key is required",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.AI.Profiles[0].Provider = "mistral" },
			wantErr: "invalid provider mistral",
		},
		{
			name:    "empty model",
			mutate:  func(c *Config) { c.Agent.Model = " " },
			wantErr: "model is required",
		},
		{
			name:    "zero iterations",
			mutate:  func(c *Config) { c.Agent.MaxIterations = 0 },
			wantErr: "max_iterations must be positive",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Agent.MaxRetries = -1 },
			wantErr: "max_retries must be >= 0",
		},
		{
			name:    "zero max length",
			mutate:  func(c *Config) { c.Guard.MaxLength = 0 },
			wantErr: "max_length must be positive",
		},
		{
			name: "bad blocked pattern",
			mutate: func(c *Config) {
				c.Guard.BlockedPatterns = []BlockedPattern{{Name: "broken", Pattern: "(unclosed"}}
			},
			wantErr: "blocked pattern broken",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigProfile(t *testing.T) {
	cfg := validConfig()

	p, err := cfg.Profile("")
	require.NoError(t, err)
	assert.Equal(t, "primary", p.ID)

	p, err = cfg.Profile("backup")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Provider)

	_, err = cfg.Profile("missing")
	assert.Error(t, err)

	_, err = DefaultConfig().Profile("")
	assert.Error(t, err)
}

func TestConfigString(t *testing.T) {
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(validConfig().String()), &decoded))
	assert.Contains(t, decoded, "agent")
	assert.Contains(t, decoded, "guard")
}
