// Package cli implements the guardctl commands: dry-run explanation,
// policy testing, pipeline visualization, and version info.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"actionguard/internal/config"
	"actionguard/internal/guard"
)

var (
	// Version is set at build time
	Version = "dev"

	// Global flags
	cfgFile string
	cfgJSON bool

	// Colors for output
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitBlocked         = 2
)

// RootCmd is the root command for guardctl.
var RootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "guardctl - Inspect and test the action-safety guard",
	Long: `guardctl provides developer tooling for the action-safety guard:
dry-run an intent through the evaluation pipeline, test a policy against
sample intents before deploying it, and visualize the configured pipeline.

Configuration can be provided via:
  - The --config flag (highest priority)
  - The GUARD_CONFIG environment variable
  - A guard.yaml file in the current directory or ~/.actionguard/`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to guard config YAML")
	RootCmd.PersistentFlags().BoolVar(&cfgJSON, "json", false, "Output raw JSON")

	RootCmd.AddCommand(explainCmd)
	RootCmd.AddCommand(simulateCmd)
	RootCmd.AddCommand(testPolicyCmd)
	RootCmd.AddCommand(visualizeCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(ExitValidationError)
	}
}

// resolveConfigPath finds the config file: flag, env, then well-known
// locations via viper.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("GUARD_CONFIG"); env != "" {
		return env
	}

	v := viper.New()
	v.SetConfigName("guard")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.actionguard")
	}
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed()
	}
	return ""
}

// buildGuard assembles an in-process guard from the resolved config,
// with exporters silenced for CLI use.
func buildGuard() (*guard.Guard, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.Observability.Exporters = nil
	g, err := guard.New(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("build guard: %w", err)
	}
	return g, nil
}
