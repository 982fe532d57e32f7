package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/push"
	"github.com/baduk1/threadsync/internal/watch"
	"github.com/baduk1/threadsync/pkg/thread"
)

var watchThread string

var watchCmd = &cobra.Command{
	Use:   "watch <project>",
	Short: "Stream comment events for a project",
	Long: `Join a project's push room and print every comment event as it happens.

Events are printed one per line until interrupted. Use --thread to only see
events for one thread.

Examples:
  threads watch proj-1
  threads watch proj-1 --thread task/t-42`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchThread, "thread", "t", "", "Only events for <context-type>/<context-id>")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	projectID := args[0]

	var only *thread.Key
	if watchThread != "" {
		parts := strings.SplitN(watchThread, "/", 2)
		if len(parts) != 2 {
			return printer.Error(
				"invalid --thread",
				fmt.Sprintf("Expected <context-type>/<context-id>, got %q", watchThread),
				[]string{"Example: --thread task/t-42"},
			)
		}
		key, err := parseKey([]string{projectID, parts[0], parts[1]})
		if err != nil {
			return err
		}
		only = &key
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireToken(cfg); err != nil {
		return err
	}
	logger, err := newLogger(true)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	conn, err := push.NewWSTransport(cfg.WebsocketURL(), logger).Connect(ctx, cfg.Client.Token)
	if err != nil {
		return printer.ErrorWithContext(
			"cannot connect to push gateway",
			err.Error(),
			map[string]string{"Gateway": cfg.WebsocketURL()},
			[]string{"Check that `threads serve` is running", "Check client.api_url in threads.yml"},
		)
	}
	defer conn.Close()

	printer.Info("Watching %s (Ctrl-C to stop)\n", projectID)
	count, err := watch.StreamEvents(ctx, conn, projectID, only, cmd.OutOrStdout())
	if err != nil {
		return printer.ErrorWithContext("watch stopped", err.Error(), map[string]string{"Project": projectID}, nil)
	}
	printer.Info("%d event(s)\n", count)
	return nil
}
