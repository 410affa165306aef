package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"actionguard/internal/core"
	"actionguard/internal/dx"
	"actionguard/internal/evaluators"
)

var (
	testPolicyFile  string
	testIntentsFile string
)

var testPolicyCmd = &cobra.Command{
	Use:   "test-policy",
	Short: "Test a policy snippet against sample intents",
	Long: `Compiles a single policy from a YAML file and evaluates it against a
JSON array of sample intents, without touching any deployed configuration.
Intended for CI validation of policy bundles before rollout.`,
	Example: `  guardctl test-policy -p policy.yaml -i samples.json`,
	RunE:    runTestPolicy,
}

func init() {
	testPolicyCmd.Flags().StringVarP(&testPolicyFile, "policy", "p", "", "Path to policy YAML file (required)")
	testPolicyCmd.Flags().StringVarP(&testIntentsFile, "intents", "i", "", "Path to sample intents JSON file (required)")
	testPolicyCmd.MarkFlagRequired("policy")
	testPolicyCmd.MarkFlagRequired("intents")
}

type policyFile struct {
	Name        string   `yaml:"name"`
	ActionTypes []string `yaml:"action_types"`
	Condition   string   `yaml:"condition"`
	Verdict     string   `yaml:"verdict"`
	Message     string   `yaml:"message"`
	EscalateTo  string   `yaml:"escalate_to"`
}

func runTestPolicy(cmd *cobra.Command, args []string) error {
	policyData, err := os.ReadFile(testPolicyFile)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(policyData, &pf); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	if pf.Verdict == "" {
		pf.Verdict = "BLOCK"
	}
	actionTypes := pf.ActionTypes
	if len(actionTypes) == 0 {
		actionTypes = []string{"*"}
	}

	intentsData, err := os.ReadFile(testIntentsFile)
	if err != nil {
		return fmt.Errorf("read intents file: %w", err)
	}
	var samples []core.Intent
	if err := json.Unmarshal(intentsData, &samples); err != nil {
		return fmt.Errorf("parse intents file: %w", err)
	}

	results, err := dx.TestPolicy(&evaluators.Policy{
		Name:        pf.Name,
		ActionTypes: actionTypes,
		Condition:   pf.Condition,
		Verdict:     core.Verdict(pf.Verdict),
		Message:     pf.Message,
		EscalateTo:  pf.EscalateTo,
	}, samples)
	if err != nil {
		errorColor.Fprintf(os.Stderr, "policy failed to compile: %v\n", err)
		os.Exit(ExitValidationError)
	}

	if cfgJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	triggered := 0
	for _, r := range results {
		switch {
		case r.Error != "":
			errorColor.Printf("  intent %d (%s): condition error: %s\n", r.IntentIndex, r.ActionType, r.Error)
		case r.Triggered:
			triggered++
			warnColor.Printf("  intent %d (%s): TRIGGERED -> %s\n", r.IntentIndex, r.ActionType, r.Verdict)
		case r.Matched:
			fmt.Printf("  intent %d (%s): matched type, condition false\n", r.IntentIndex, r.ActionType)
		default:
			dimColor.Printf("  intent %d (%s): no match\n", r.IntentIndex, r.ActionType)
		}
	}
	successColor.Printf("policy %q: %d/%d intents triggered\n", pf.Name, triggered, len(results))
	return nil
}
