package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/watch"
	"github.com/baduk1/threadsync/pkg/thread"
)

var (
	postReplyTo int64
	postWait    bool
	postTimeout time.Duration
	postDirect  string
)

var postCmd = &cobra.Command{
	Use:   "post <project> <context-type> <context-id> <body...>",
	Short: "Post a comment to a thread",
	Long: `Post a comment, or a reply with --reply-to.

The comment is shown as pending until the server confirms it. A rejected
comment is rolled back and the server's reason is printed.

With --wait the command also waits until the new comment is visible in the
thread listing.

Examples:
  threads post proj-1 task t-42 "Concrete order confirmed"
  threads post proj-1 task t-42 --reply-to 7 "Thanks, updating the BOQ"
  threads post proj-1 boq b-7 --wait "Quantities revised"`,
	Args: cobra.MinimumNArgs(4),
	RunE: runPost,
}

func init() {
	postCmd.Flags().Int64VarP(&postReplyTo, "reply-to", "r", 0, "Id of the comment to reply to")
	postCmd.Flags().BoolVarP(&postWait, "wait", "w", false, "Wait until the comment appears in the listing")
	postCmd.Flags().DurationVar(&postTimeout, "timeout", 10*time.Second, "How long --wait waits")
	postCmd.Flags().StringVar(&postDirect, "direct", "", "Write to Redis directly as this user id instead of calling the API")
	rootCmd.AddCommand(postCmd)
}

func runPost(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[:3])
	if err != nil {
		return err
	}
	body := strings.Join(args[3:], " ")

	var parentID *int64
	if cmd.Flags().Changed("reply-to") {
		parentID = thread.Int64Ptr(postReplyTo)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(true)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sess, err := openSession(cfg, logger, false, postDirect)
	if err != nil {
		return err
	}
	defer sess.close()

	ws := sess.workspace(cfg, logger)
	defer ws.Close()

	view, err := ws.Open(ctx, key)
	if err != nil {
		return printer.ThreadError("post comment", key, err)
	}
	defer view.Close()

	if parentID != nil {
		printer.Pending("Replying to #%d on %s\n", *parentID, key)
	} else {
		printer.Pending("Posting to %s\n", key)
	}

	sub, err := view.Submit(ctx, body, parentID)
	if err != nil {
		return printer.ThreadError("post comment", key, err)
	}
	created := sub.Comment()

	if postWait {
		_, err := watch.WaitForComment(ctx, sess.backend, key, func(c thread.Comment) bool {
			return c.ID == created.ID
		}, postTimeout)
		if err != nil {
			return printer.ErrorWithContext(
				"comment not visible",
				err.Error(),
				map[string]string{"Thread": key.String(), "Comment": created.ID.String()},
				[]string{"The comment was accepted; check again with: threads show " + strings.Join(args[:3], " ")},
			)
		}
	}

	printer.Success("Posted comment #%s\n", created.ID)
	fmt.Fprintln(cmd.OutOrStdout(), created.ID.String())
	return nil
}
