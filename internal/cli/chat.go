package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/harun/taskpilot/pkg/agent"
	"github.com/spf13/cobra"
)

var (
	chatConversation string
	chatModel        string
	chatProfile      string
	chatShowEvents   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Run one conversation turn",
	Long: `Send a prompt to the agent and print its final answer. The prompt is
taken from the arguments or, when none are given, from stdin. History is kept
per conversation, so later turns see earlier ones.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "cli", "conversation id")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override for this turn")
	chatCmd.Flags().StringVar(&chatProfile, "profile", "", "AI profile id (default: highest priority)")
	chatCmd.Flags().BoolVar(&chatShowEvents, "events", false, "print loop events to stderr")
	rootCmd.AddCommand(chatCmd)
}

func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{store: true, sessions: true})
	if err != nil {
		return err
	}
	defer a.Close()

	runner, err := a.newRunner(chatProfile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	var (
		events chan agent.Event
		wg     sync.WaitGroup
	)
	if chatShowEvents {
		events = make(chan agent.Event, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range events {
				fmt.Fprintln(cmd.ErrOrStderr(), describeEvent(ev))
			}
		}()
	}

	result, err := runner.Run(ctx, agent.RunParams{
		ConversationID: chatConversation,
		Prompt:         prompt,
		Model:          chatModel,
		Events:         events,
	})
	if events != nil {
		close(events)
		wg.Wait()
	}

	var verr *agent.ValidationError
	if errors.As(err, &verr) {
		return fmt.Errorf("prompt rejected: %s", verr.Reason)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Message.Content)
	if result.Exhausted {
		fmt.Fprintf(out, "\n(stopped after %d tool rounds)\n", result.State.Iteration)
	}
	return nil
}

func describeEvent(ev agent.Event) string {
	switch e := ev.(type) {
	case agent.IterationStartEvent:
		return fmt.Sprintf("iteration %d: calling model", e.Iteration)
	case agent.ToolsExecutingEvent:
		names := make([]string, 0, len(e.Calls))
		for _, c := range e.Calls {
			names = append(names, c.Name)
		}
		return fmt.Sprintf("iteration %d: running %s", e.Iteration, strings.Join(names, ", "))
	case agent.ToolsCompleteEvent:
		failed := 0
		for _, r := range e.Results {
			if !r.Success {
				failed++
			}
		}
		return fmt.Sprintf("iteration %d: %d tools done, %d failed", e.Iteration, len(e.Results), failed)
	case agent.IterationCompleteEvent:
		return fmt.Sprintf("iteration %d complete", e.Iteration)
	case agent.RetryEvent:
		return fmt.Sprintf("retry %d/%d in %s: %v", e.Attempt, e.MaxAttempts, e.Delay, e.Err)
	case agent.FinalMessageEvent:
		return "final answer received"
	case agent.ErrorEvent:
		return fmt.Sprintf("error: %v", e.Err)
	case agent.CompleteEvent:
		return fmt.Sprintf("complete: %s after %d iterations", e.Status, e.Iterations)
	default:
		return fmt.Sprintf("%T", ev)
	}
}
