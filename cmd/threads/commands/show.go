package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/format"
	"github.com/baduk1/threadsync/internal/printer"
)

var (
	showOutput string
	showSince  string
	showUntil  string
	showAuthor string
	showFollow bool
	showDirect string
)

var showCmd = &cobra.Command{
	Use:   "show <project> <context-type> <context-id>",
	Short: "Print a comment thread",
	Long: `Print a comment thread with replies nested under their parents.

Output Formats:
  tree  - Human-readable, replies indented (default)
  jsonl - One JSON comment per line, newest first

With --follow the thread stays open, joins the project's push room and is
printed again whenever it changes.

Examples:
  threads show proj-1 task t-42
  threads show proj-1 task t-42 --since 1h --author Ada
  threads show proj-1 boq b-7 --output jsonl | jq .body
  threads show proj-1 task t-42 --follow
  threads show proj-1 task t-42 --direct u-1   # read Redis as u-1, no server`,
	Args: cobra.ExactArgs(3),
	RunE: runShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "tree", "Output format (tree or jsonl)")
	showCmd.Flags().StringVar(&showSince, "since", "", "Only comments newer than a duration (1h30m) or RFC3339 time")
	showCmd.Flags().StringVar(&showUntil, "until", "", "Only comments older than a duration or RFC3339 time")
	showCmd.Flags().StringVar(&showAuthor, "author", "", "Only comments by this author id or display name")
	showCmd.Flags().BoolVarP(&showFollow, "follow", "f", false, "Keep printing the thread as it changes")
	showCmd.Flags().StringVar(&showDirect, "direct", "", "Read Redis directly as this user id instead of calling the API")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args)
	if err != nil {
		return err
	}
	outputFormat, err := format.ParseOutputFormat(showOutput)
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: tree, jsonl"})
	}
	filter, err := format.ParseFilter(showSince, showUntil, showAuthor, time.Now())
	if err != nil {
		return printer.Error("invalid filter", err.Error(), nil)
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

	sess, err := openSession(cfg, logger, showFollow, showDirect)
	if err != nil {
		return err
	}
	defer sess.close()

	ws := sess.workspace(cfg, logger)
	defer ws.Close()

	view, err := ws.Open(ctx, key)
	if err != nil {
		return printer.ThreadError("open thread", key, err)
	}
	defer view.Close()

	snap, err := waitLoaded(ctx, view, cfg.Sync.FetchTimeout+time.Second)
	if err != nil {
		return printer.ThreadError("load thread", key, err)
	}

	out := cmd.OutOrStdout()
	if err := format.Write(out, key, filter.Apply(snap.Comments), outputFormat, time.Now()); err != nil {
		return err
	}
	if !showFollow {
		return nil
	}

	if view.Degraded() {
		printer.Warning("Live updates unavailable, refreshing every %s instead\n", cfg.Sync.StaleAfter)
	}
	refresh := time.NewTicker(cfg.Sync.StaleAfter)
	defer refresh.Stop()

	last := snap.FetchedAt
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			view.Snapshot()
		case _, ok := <-view.Changes():
			if !ok {
				return nil
			}
			snap := view.Snapshot()
			if snap.Fetching || snap.FetchedAt.Equal(last) {
				continue
			}
			last = snap.FetchedAt
			fmt.Fprintln(out)
			if err := format.Write(out, key, filter.Apply(snap.Comments), outputFormat, time.Now()); err != nil {
				return err
			}
		}
	}
}
