package cli

import (
	"fmt"

	"github.com/harun/taskpilot/pkg/inputguard"
	"github.com/spf13/cobra"
)

var checkMaxLength int

var checkCmd = &cobra.Command{
	Use:   "check [text]",
	Short: "Run the input guard on a text",
	Long: `Validate a text with the input guard and print the sanitized content,
or the reason it was rejected. The text is taken from the arguments or stdin.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkMaxLength, "max-length", 0, "override the configured maximum length")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	text, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	guard, err := inputguard.New(cfg.Guard)
	if err != nil {
		return err
	}

	result := guard.Validate(text, inputguard.Options{MaxLength: checkMaxLength})
	if !result.IsValid {
		return fmt.Errorf("rejected: %s", result.Reason)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.SanitizedContent)
	return nil
}
