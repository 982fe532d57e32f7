package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/baduk1/threadsync/internal/api"
	"github.com/baduk1/threadsync/internal/auth"
	"github.com/baduk1/threadsync/internal/printer"
	"github.com/baduk1/threadsync/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the comment API and websocket gateway",
	Long: `Run the HTTP API, the websocket push gateway and the Prometheus
endpoint on one address.

Routes:
  GET    /healthz
  GET    /api/me
  GET    /api/projects/{project}/comments?context_type=&context_id=
  POST   /api/projects/{project}/comments
  PATCH  /api/projects/{project}/comments/{id}
  DELETE /api/projects/{project}/comments/{id}
  GET    /ws?token=
  GET    /metrics

Examples:
  # Serve with threads.yml in the current directory
  THREADS_JWT_SECRET=change-me threads serve

  # Override the listen address
  threads serve --addr :9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireServer(); err != nil {
		return printer.Error("cannot start server", err.Error(), nil)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	logger, err := newLogger(false)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	client, err := store.NewClient(redisOpts, cfg.Redis.Namespace)
	if err != nil {
		return fmt.Errorf("failed to create store client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis is not reachable",
			err.Error(),
			map[string]string{"URL": cfg.Redis.URL},
			[]string{"Start Redis, or point redis.url / THREADS_REDIS_URL at a running instance"},
		)
	}

	issuer, err := auth.NewIssuer(cfg.Server.JWTSecret)
	if err != nil {
		return err
	}

	server := api.NewServer(client, issuer, api.Options{
		CreateRate:  rate.Limit(cfg.Server.CreateRate),
		CreateBurst: cfg.Server.CreateBurst,
		Logger:      logger,
	})

	logger.Info().
		Str("addr", cfg.Server.Addr).
		Str("namespace", cfg.Redis.Namespace).
		Msg("Starting threads server")
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}
