package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print the model-facing definitions as JSON")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{store: true})
	if err != nil {
		return err
	}
	defer a.Close()

	specs := a.tools.Definitions()
	out := cmd.OutOrStdout()

	if toolsJSON {
		data, err := json.MarshalIndent(specs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, spec := range specs {
		fmt.Fprintf(w, "%s\t%s\n", spec.Name, spec.Description)
	}
	return w.Flush()
}
