package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codetutor/tutorgate/internal/config"
)

var genSecretCmd = &cobra.Command{
	Use:   "gen-secret",
	Short: "Print a random token signing secret",
	Long: `Print 48 random bytes, base64 encoded, for token.secret.

Example:
  export TUTORGATE_TOKEN_SECRET="$(tutorgate gen-secret)"

Rotating the secret ends every session.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GenerateSecret())
	},
}

func init() {
	rootCmd.AddCommand(genSecretCmd)
}
