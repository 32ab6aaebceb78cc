package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/hookrelay/internal/app"
	"github.com/jmehdipour/hookrelay/internal/config"
	httpSrv "github.com/jmehdipour/hookrelay/internal/http"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var embeddedWorkers bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Driver == config.QueueMemory && !embeddedWorkers {
			return errors.New("queue driver memory requires --embedded-workers")
		}
		log := logger.Log

		a, err := app.New(cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Dispatcher:    a.Dispatcher,
			Subscriptions: a.Subscriptions,
			Attempts:      a.Ledger,
			Redis:         a.Redis,
			Log:           log,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		poolDone := make(chan error, 1)
		if embeddedWorkers {
			pool := a.NewPool()
			log.Info("starting embedded delivery workers",
				zap.String("queue", cfg.Queue.Driver),
				zap.Int("workers", pool.Workers),
			)
			go func() { poolDone <- pool.Run(ctx) }()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		if embeddedWorkers {
			// Run returns once in-flight deliveries finish.
			if err := <-poolDone; err != nil {
				return fmt.Errorf("delivery workers: %w", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&embeddedWorkers, "embedded-workers", false, "run delivery workers inside the server process")
}
