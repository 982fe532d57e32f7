package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/baduk1/threadsync/internal/config"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/pkg/thread"
)

var (
	version string
	commit  string
	date    string

	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "threads",
	Short: "Threads - real-time comment threads for project resources",
	Long: `Threads keeps comment threads attached to tasks, bills of quantities
and projects in sync between a Redis-backed server and its clients.

Posting is optimistic: a comment shows up immediately as pending and is
confirmed or rolled back when the server answers. Other clients hear about
it through per-project push rooms.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to threads.yml")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}

func loadConfig() (*config.ThreadsConfig, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Fix the file, or remove it to run with defaults"},
		)
	}
	return cfg, nil
}

// newLogger builds the process logger. The server logs JSON; interactive
// commands log to a console writer so warnings stay readable.
func newLogger(console bool) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return zerolog.Nop(), printer.Error(
			"invalid log level",
			fmt.Sprintf("Unknown level: %s", logLevel),
			[]string{"Valid levels: debug, info, warn, error"},
		)
	}

	if console {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger(), nil
}

// parseKey reads <project> <context-type> <context-id> from args.
func parseKey(args []string) (thread.Key, error) {
	key := thread.NewKey(args[0], thread.ContextType(args[1]), args[2])
	if err := key.Validate(); err != nil {
		return key, printer.Error(
			"invalid thread",
			err.Error(),
			[]string{"Context types: task, boq, project"},
		)
	}
	return key, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func requireToken(cfg *config.ThreadsConfig) error {
	if cfg.Client.Token != "" {
		return nil
	}
	return printer.Error(
		"no session token",
		"This command talks to the API and needs a token.",
		[]string{
			fmt.Sprintf("Set %s", config.EnvToken),
			"Set client.token in threads.yml (issue one with: threads token <user-id>)",
		},
	)
}
