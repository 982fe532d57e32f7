package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/auth"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/store"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a session token for a user",
	Long: `Issue a signed session token for an existing user.

The token is printed on stdout so it can be captured:

  export THREADS_TOKEN=$(threads token u-1)

Requires server.jwt_secret (or THREADS_JWT_SECRET) to match the server's.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "How long the token stays valid")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireServer(); err != nil {
		return printer.Error("cannot issue token", err.Error(), nil)
	}

	client, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	user, err := client.GetUser(context.Background(), args[0])
	if errors.Is(err, store.ErrNotFound) {
		return printer.Error(
			fmt.Sprintf("user '%s' not found", args[0]),
			"Tokens can only be issued for existing users.",
			[]string{fmt.Sprintf("Create the user first: threads user add %s --project <project>", args[0])},
		)
	}
	if err != nil {
		return err
	}

	issuer, err := auth.NewIssuer(cfg.Server.JWTSecret)
	if err != nil {
		return err
	}
	issuer.TTL = tokenTTL

	token, err := issuer.Issue(*user)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
