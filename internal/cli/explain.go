package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"actionguard/internal/core"
	"actionguard/internal/dx"
)

var explainFile string

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Dry-run an intent through the evaluation pipeline",
	Long: `Reads an intent JSON file and runs it through every evaluator without
executing anything, printing each evaluator's verdict and the final outcome.`,
	Example: `  guardctl explain -f intent.json
  guardctl explain -f intent.json --json`,
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().StringVarP(&explainFile, "file", "f", "", "Path to intent JSON file (required)")
	explainCmd.MarkFlagRequired("file")
}

func parseIntentFile(path string) (core.Intent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Intent{}, fmt.Errorf("read intent file: %w", err)
	}
	var intent core.Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return core.Intent{}, fmt.Errorf("parse intent file: %w", err)
	}
	if intent.ActionID == "" {
		filled := core.NewIntent(intent.ActionType, intent.ToolName, intent.AgentID, intent.Parameters)
		filled.TaskID = intent.TaskID
		filled.TaskContext = intent.TaskContext
		filled.EstimatedCost = intent.EstimatedCost
		filled.RiskLevel = intent.RiskLevel
		filled.InstructionChain = intent.InstructionChain
		intent = filled
	}
	return intent, nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	g, err := buildGuard()
	if err != nil {
		return err
	}

	intent, err := parseIntentFile(explainFile)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(ExitValidationError)
	}

	exp := dx.Explain(g, intent)

	if cfgJSON {
		out, _ := json.MarshalIndent(exp, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Print(exp.Render())
	}

	if exp.FinalVerdict.IsBlocking() {
		os.Exit(ExitBlocked)
	}
	return nil
}
