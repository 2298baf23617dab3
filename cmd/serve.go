package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/logging"
	"github.com/BioHazard786/warpmeet/internal/relay"
	"github.com/BioHazard786/warpmeet/internal/server"
)

const shutdownTimeout = 10 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the meeting relay server",
	Long: `Run the relay that admits participants to meetings and forwards their
offers, answers and ICE candidates.

Examples:
  warpmeet serve
  warpmeet serve --listen :9000
  PORT=9000 warpmeet serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(slog.LevelInfo)

		cfg, err := config.LoadServer(config.ServerOptions{ListenAddr: flagListen})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, slog.Default())
	},
}

func serve(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	registry := relay.NewRegistry(logger)
	opts := relay.ConnOptions{
		MessagesPerSecond: cfg.MessagesPerSecond,
		QueueSize:         cfg.SendQueueSize,
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewMux(registry, opts, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Relay listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Relay shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default :8080)")
}
