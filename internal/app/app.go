package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickreach/backend/internal/config"
	"github.com/quickreach/backend/internal/db"
	"github.com/quickreach/backend/internal/handlers"
	"github.com/quickreach/backend/internal/httpserver"
	"github.com/quickreach/backend/internal/logging"
	"github.com/quickreach/backend/internal/middleware"
)

// Run bootstraps the QuickReach command line.
func Run(ctx context.Context, args []string) error {
	root := newRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "quickreach",
		Short:         "QuickReach delivery request backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml); environment variables take precedence")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newSeedCommand(opts),
		newWatchCommand(opts),
	)
	return root
}

// environment is the loaded configuration plus the process logger.
type environment struct {
	cfg    config.Config
	logger *slog.Logger
	closer io.Closer
}

// load reads the configuration and builds the process logger writing to
// logOut (stdout when nil).
func (o *rootOptions) load(logOut io.Writer) (*environment, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Output: logOut})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	return &environment{cfg: cfg, logger: logger, closer: closer}, nil
}

// connect opens the database pool when the postgres backend is configured.
func (e *environment) connect(ctx context.Context) (db.Pool, func(), error) {
	if e.cfg.Backend != config.BackendPostgres {
		return nil, func() {}, nil
	}
	pool, err := db.Connect(ctx, e.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and live WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := opts.load(nil)
			if err != nil {
				return err
			}
			defer env.closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, env)
		},
	}
}

func serve(ctx context.Context, env *environment) error {
	cfg, logger := env.cfg, env.logger

	pool, closePool, err := env.connect(ctx)
	if err != nil {
		return err
	}
	defer closePool()

	svc, err := buildServices(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown services", slog.Any("error", err))
		}
	}()

	bgCtx, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()
	svc.startBackground(bgCtx, logger)

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, svc.routes(cfg))

	handler := middleware.RequestLogger(logger)(mux)
	srv := httpserver.New(cfg.AppPort, handler, logger)

	logger.Info("starting http server", slog.Int("port", cfg.AppPort), slog.String("backend", cfg.Backend))
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
