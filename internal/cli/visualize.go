package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"actionguard/internal/dx"
)

var visualizeCmd = &cobra.Command{
	Use:   "visualize",
	Short: "Print the configured evaluation pipeline",
	Long: `Renders the evaluator order, priorities, and enabled state for the
resolved configuration, plus the active budget and rate limit settings.`,
	Example: `  guardctl visualize
  guardctl visualize --config prod-guard.yaml`,
	RunE: runVisualize,
}

func runVisualize(cmd *cobra.Command, args []string) error {
	g, err := buildGuard()
	if err != nil {
		return err
	}
	fmt.Print(dx.VisualizePipeline(g))
	return nil
}
