package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/upb/context-retrieval/app"
	"github.com/upb/context-retrieval/routes"
	"go.uber.org/zap"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the HTTP API. The server shuts down gracefully on SIGINT or
SIGTERM, waiting up to SERVER_SHUTDOWN_TIMEOUT for in-flight requests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return withDependencies(ctx, func(deps *app.Dependencies) error {
				return serve(ctx, deps)
			})
		},
	}
}

func serve(ctx context.Context, deps *app.Dependencies) error {
	cfg := deps.Config.Server
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		deps.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	deps.Logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
