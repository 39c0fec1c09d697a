package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main taskpilot configuration
type Config struct {
	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent loop behaviour
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Input guard
	Guard GuardConfig `json:"guard" mapstructure:"guard"`

	// Project/task store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Conversation history
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig controls the tool-calling loop.
type AgentConfig struct {
	Model            string  `json:"model" mapstructure:"model"`
	MaxIterations    int     `json:"max_iterations" mapstructure:"max_iterations"`
	MaxRetries       int     `json:"max_retries" mapstructure:"max_retries"`
	RetryBaseDelayMs int     `json:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	ToolTimeoutMs    int     `json:"tool_timeout_ms" mapstructure:"tool_timeout_ms"`
	SystemPrompt     string  `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
}

// BlockedPattern is a named case-insensitive regular expression rejected by the guard.
type BlockedPattern struct {
	Name    string `json:"name" mapstructure:"name"`
	Pattern string `json:"pattern" mapstructure:"pattern"`
}

// GuardConfig holds input guard settings. An empty BlockedPatterns list keeps the
// built-in set.
type GuardConfig struct {
	MaxLength       int              `json:"max_length" mapstructure:"max_length"`
	BlockedPatterns []BlockedPattern `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	ReferenceTag    string           `json:"reference_tag" mapstructure:"reference_tag"`
}

// StoreConfig holds the SQLite store location.
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// SessionsConfig holds the conversation history directory.
type SessionsConfig struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Agent: AgentConfig{
			Model:            "claude-sonnet-4-5",
			MaxIterations:    10,
			MaxRetries:       3,
			RetryBaseDelayMs: 1000,
			ToolTimeoutMs:    30000,
			MaxTokens:        4096,
			Temperature:      0.7,
		},
		Guard: GuardConfig{
			MaxLength:    10000,
			ReferenceTag: "REF",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Profile returns the profile with the given id, or the highest-priority
// profile when id is empty.
func (c *Config) Profile(id string) (AIProfile, error) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	if id != "" {
		for _, p := range c.AI.Profiles {
			if p.ID == id {
				return p, nil
			}
		}
		return AIProfile{}, fmt.Errorf("AI profile %s not found", id)
	}

	best := c.AI.Profiles[0]
	for _, p := range c.AI.Profiles[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		switch profile.Provider {
		case "anthropic", "openai", "gemini":
		default:
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
	}

	if strings.TrimSpace(c.Agent.Model) == "" {
		return fmt.Errorf("agent: model is required")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent: max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent: max_retries must be >= 0, got %d", c.Agent.MaxRetries)
	}
	if c.Agent.RetryBaseDelayMs < 0 {
		return fmt.Errorf("agent: retry_base_delay_ms must be >= 0, got %d", c.Agent.RetryBaseDelayMs)
	}

	if c.Guard.MaxLength <= 0 {
		return fmt.Errorf("guard: max_length must be positive, got %d", c.Guard.MaxLength)
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}

	return nil
}
