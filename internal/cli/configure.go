package cli

import (
	"fmt"

	"github.com/harun/taskpilot/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureProvider string
	configureAPIKey   string
	configureBaseURL  string
	configureModel    string
	configurePriority int
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Add or update an AI profile",
	Long: `Add or update an AI provider profile in the configuration file.
The profile id is the provider name; running the command again for the same
provider replaces its key.`,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "anthropic", "provider (anthropic, openai, gemini)")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "provider API key")
	configureCmd.Flags().StringVar(&configureBaseURL, "base-url", "", "custom API base URL")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "default model")
	configureCmd.Flags().IntVar(&configurePriority, "priority", 1, "profile priority (highest is used by default)")
	_ = configureCmd.MarkFlagRequired("api-key")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	profile := config.AIProfile{
		ID:       configureProvider,
		Provider: configureProvider,
		APIKey:   configureAPIKey,
		BaseURL:  configureBaseURL,
		Priority: configurePriority,
	}
	replaced := false
	for i := range cfg.AI.Profiles {
		if cfg.AI.Profiles[i].ID == profile.ID {
			cfg.AI.Profiles[i] = profile
			replaced = true
		}
	}
	if !replaced {
		cfg.AI.Profiles = append(cfg.AI.Profiles, profile)
	}
	if configureModel != "" {
		cfg.Agent.Model = configureModel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "You can now chat with: taskpilot chat \"list my projects\"")
	return nil
}
