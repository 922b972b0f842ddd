package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/codetutor/tutorgate/internal/domain/user"
	"github.com/codetutor/tutorgate/internal/service"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user accounts",
}

var usersImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update accounts from a YAML file",
	Long: `Create or update accounts from a YAML seed file.

Existing accounts (matched by email) keep their id. A role change ends
their sessions.

File format:
  users:
    - email: ada@example.com
      name: Ada
      role: elevated
      password: "a long passphrase"
      email_verified: true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		seeds, err := parseSeedFile(f)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		ctx := operatorContext(cmd.Context())
		env, err := openOperatorEnv(ctx)
		if err != nil {
			return err
		}
		defer env.close()

		out := cmd.OutOrStdout()
		for i, s := range seeds {
			u, created, err := env.accounts.Seed(ctx, s)
			if err != nil {
				return fmt.Errorf("users[%d] %s: %w", i, s.Email, err)
			}
			verb := "updated"
			if created {
				verb = "created"
			}
			fmt.Fprintf(out, "%s %s (%s, %s)\n", verb, u.Email, u.ID, u.Role)
		}
		return nil
	},
}

var usersSetRoleCmd = &cobra.Command{
	Use:   "set-role <email> <standard|elevated|admin>",
	Short: "Change a user's role and end their sessions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := user.Role(args[1])
		if !role.IsValid() {
			return fmt.Errorf("%w: %q", user.ErrInvalidRole, args[1])
		}

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
		if _, err := env.accounts.SetRole(ctx, u.ID, role); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", u.Email, role)
		return nil
	},
}

type seedFile struct {
	Users []service.SeedUser `yaml:"users"`
}

// parseSeedFile decodes a seed file, rejecting unknown keys.
func parseSeedFile(r io.Reader) ([]service.SeedUser, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f seedFile
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty seed file")
		}
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Users) == 0 {
		return nil, fmt.Errorf("seed file lists no users")
	}
	return f.Users, nil
}

func init() {
	usersCmd.AddCommand(usersImportCmd, usersSetRoleCmd)
	rootCmd.AddCommand(usersCmd)
}
