package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/config"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/store"
	"github.com/baduk1/threadsync/pkg/thread"
)

var (
	userName     string
	userEmail    string
	userProjects []string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and project membership",
}

var userAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Create or update a user and add them to projects",
	Long: `Create or update a user directly in Redis and add them to projects.

Only project members may read or post comments in a project.

Examples:
  threads user add u-1 --name Ada --email ada@example.com --project proj-1
  threads user add u-2 --name Grace --project proj-1,proj-2`,
	Args: cobra.ExactArgs(1),
	RunE: runUserAdd,
}

var userRemoveCmd = &cobra.Command{
	Use:   "remove <user-id> --project <project>",
	Short: "Remove a user from projects",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserRemove,
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (defaults to the user id)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address")
	userAddCmd.Flags().StringSliceVarP(&userProjects, "project", "p", nil, "Projects to join (repeatable or comma separated)")
	userRemoveCmd.Flags().StringSliceVarP(&userProjects, "project", "p", nil, "Projects to leave")
	userRemoveCmd.MarkFlagRequired("project")

	userCmd.AddCommand(userAddCmd, userRemoveCmd)
	rootCmd.AddCommand(userCmd)
}

func openStore(cfg *config.ThreadsConfig) (*store.Client, error) {
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	return store.NewClient(redisOpts, cfg.Redis.Namespace)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	user := thread.User{ID: args[0], DisplayName: userName, Email: userEmail}
	if user.DisplayName == "" {
		user.DisplayName = user.ID
	}
	if err := client.PutUser(ctx, &user); err != nil {
		return printer.Error("failed to save user", err.Error(), nil)
	}

	for _, p := range userProjects {
		if err := client.AddMember(ctx, strings.TrimSpace(p), user.ID); err != nil {
			return printer.Error(fmt.Sprintf("failed to add %s to %s", user.ID, p), err.Error(), nil)
		}
	}

	printer.Success("Saved user %s (%s)\n", user.ID, user.DisplayName)
	if len(userProjects) > 0 {
		printer.Info("  Member of: %s\n", strings.Join(userProjects, ", "))
	}
	return nil
}

func runUserRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	for _, p := range userProjects {
		if err := client.RemoveMember(ctx, strings.TrimSpace(p), args[0]); err != nil {
			return printer.Error(fmt.Sprintf("failed to remove %s from %s", args[0], p), err.Error(), nil)
		}
	}
	printer.Success("Removed %s from %s\n", args[0], strings.Join(userProjects, ", "))
	return nil
}
