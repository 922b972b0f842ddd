package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage login sessions",
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <email>",
	Short: "End every session of a user",
	Long: `End every session of a user. Their access and refresh tokens stop
working on the next request; they must log in again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := operatorContext(cmd.Context())
		env, err := openOperatorEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		u, err := env.userByEmail(ctx, args[0])
		if err != nil {
			return err
		}
		n, err := env.accounts.RevokeSessions(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("revoke sessions of %s: %w", u.Email, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session tokens of %s\n", n, u.Email)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsRevokeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
