package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"actionguard/internal/core"
)

var simulateFile string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate an intent evaluation",
	Long: `Reads an intent JSON file and runs it through the evaluation pipeline,
printing only the final verdict. Nothing is executed and no audit entry is
written. Use "explain" for the full per-evaluator breakdown.`,
	Example: `  guardctl simulate -f intent.json
  guardctl simulate -f intent.json --json`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateFile, "file", "f", "", "Path to intent JSON file (required)")
	simulateCmd.MarkFlagRequired("file")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	g, err := buildGuard()
	if err != nil {
		return err
	}

	intent, err := parseIntentFile(simulateFile)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(ExitValidationError)
	}

	result := g.Evaluate(context.Background(), intent)

	if cfgJSON {
		out, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(out))
	} else {
		switch {
		case result.Verdict.IsBlocking():
			errorColor.Printf("%s", result.Verdict)
		case result.Verdict == core.VerdictWarn:
			warnColor.Printf("%s", result.Verdict)
		default:
			successColor.Printf("%s", result.Verdict)
		}
		fmt.Printf("  %s (%s)\n", result.Reason, result.EvaluatorName)
	}

	if result.Verdict.IsBlocking() {
		os.Exit(ExitBlocked)
	}
	return nil
}
