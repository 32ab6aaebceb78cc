package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/hookrelay/internal/app"
	"github.com/jmehdipour/hookrelay/internal/config"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/metrics"
	"github.com/jmehdipour/hookrelay/internal/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDeliveryCmd() *cobra.Command {
	var (
		workers         int
		recoverInflight bool
	)
	cmd := &cobra.Command{
		Use:   "delivery",
		Short: "Run webhook delivery workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelivery(cmd, workers, recoverInflight)
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent deliveries (default delivery.worker_count)")
	cmd.Flags().BoolVar(&recoverInflight, "recover-inflight", false, "requeue jobs left in the redis processing list by a crashed worker")
	return cmd
}

func runDelivery(cmd *cobra.Command, workers int, recoverInflight bool) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Log

	if cfg.Queue.Driver == config.QueueMemory {
		return errors.New("queue driver memory is process local; use serve --embedded-workers")
	}
	if workers > 0 {
		cfg.Delivery.WorkerCount = workers
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) connections, repositories, queue
	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rq, ok := a.Queue.(*queue.Redis); ok && recoverInflight {
		n, err := rq.RecoverInflight(ctx)
		if err != nil {
			return fmt.Errorf("recover inflight jobs: %w", err)
		}
		if n > 0 {
			log.Warn("requeued inflight jobs", zap.Int("count", n))
		}
	}

	pool := a.NewPool()
	log.Info("delivery worker started",
		zap.String("queue", cfg.Queue.Driver),
		zap.Int("workers", pool.Workers),
		zap.Int("circuit_threshold", a.Ledger.Breaker().Threshold()),
	)
	return pool.Run(ctx)
}
