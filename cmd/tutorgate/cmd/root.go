// Package cmd provides the CLI commands for tutorgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codetutor/tutorgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tutorgate",
	Short: "tutorgate - sessions, credentials and rate limits for the tutor API",
	Long: `tutorgate issues and validates browser sessions for the coding tutor,
guards state-changing requests against CSRF, and enforces per-role request
windows and daily LLM cost budgets.

Quick start:
  1. tutorgate serve --dev
  2. Open the frontend at http://localhost:5173

Configuration:
  Config is loaded from tutorgate.yaml in the current directory,
  $HOME/.tutorgate/, or /etc/tutorgate/.

  Environment variables can override config values with the TUTORGATE_ prefix.
  Example: TUTORGATE_TOKEN_SECRET=...

Commands:
  serve            Start the HTTP server
  gen-secret       Print a random token signing secret
  users import     Create or update accounts from a YAML file
  users set-role   Change a user's role and end their sessions
  sessions revoke  End every session of a user
  version          Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./tutorgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
