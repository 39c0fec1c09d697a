package cli

import (
	"fmt"
	"time"

	"github.com/harun/taskpilot/internal/config"
	"github.com/harun/taskpilot/internal/logger"
	"github.com/harun/taskpilot/pkg/agent"
	"github.com/harun/taskpilot/pkg/coretools"
	"github.com/harun/taskpilot/pkg/formatter"
	"github.com/harun/taskpilot/pkg/inputguard"
	"github.com/harun/taskpilot/pkg/session"
	"github.com/harun/taskpilot/pkg/store"
	"github.com/harun/taskpilot/pkg/taskqueue"
	"github.com/harun/taskpilot/pkg/toolexecutor"
)

// app holds the components a command needs. Fields are nil when the command
// did not ask for them.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	guard    *inputguard.Guard
	store    *store.Store
	tools    *toolexecutor.ToolExecutor
	sessions *session.SessionManager
	queues   *taskqueue.Registry
}

type appOptions struct {
	store    bool
	sessions bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newApp(opts appOptions) (a *app, err error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a = &app{cfg: cfg, log: log, queues: taskqueue.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.guard, err = inputguard.New(cfg.Guard)
	if err != nil {
		return a, fmt.Errorf("failed to create input guard: %w", err)
	}

	if opts.store {
		a.store, err = store.Open(store.Config{Path: cfg.Store.Path, Logger: log.Component("store")})
		if err != nil {
			return a, err
		}

		a.tools = toolexecutor.New()
		if cfg.Agent.ToolTimeoutMs > 0 {
			a.tools.SetDefaultTimeout(time.Duration(cfg.Agent.ToolTimeoutMs) * time.Millisecond)
		}
		if err := coretools.RegisterCoreTools(a.tools, a.store); err != nil {
			return a, err
		}
	}

	if opts.sessions {
		a.sessions, err = session.New(cfg.Sessions.Dir)
		if err != nil {
			return a, err
		}
	}

	return a, nil
}

// newRunner builds an agent runner for the given AI profile (empty selects
// the highest priority profile).
func (a *app) newRunner(profileID string) (*agent.Runner, error) {
	profile, err := a.cfg.Profile(profileID)
	if err != nil {
		return nil, err
	}

	model, err := (&agent.ProviderFactory{}).NewProvider(profile)
	if err != nil {
		return nil, err
	}

	return agent.NewRunner(agent.Config{
		Model:          model,
		Tools:          a.tools,
		Formatter:      formatter.Default(),
		SessionManager: a.sessions,
		Guard:          a.guard,
		Queues:         a.queues,
		Loop:           loopConfig(a.cfg.Agent),
		Logger:         a.log.Component("agent"),
	})
}

func loopConfig(cfg config.AgentConfig) agent.LoopConfig {
	return agent.LoopConfig{
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.Temperature,
		MaxIterations: cfg.MaxIterations,
		MaxRetries:    cfg.MaxRetries,
		BaseDelay:     time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		StoreName:     agent.DefaultStoreName,
	}
}

func (a *app) Close() {
	if a.queues != nil {
		a.queues.Close()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
