// Package app wires the engine components from configuration. Commands build
// one App per process and close it on exit.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/hookrelay/internal/config"
	"github.com/jmehdipour/hookrelay/internal/db"
	"github.com/jmehdipour/hookrelay/internal/delivery"
	"github.com/jmehdipour/hookrelay/internal/dispatcher"
	"github.com/jmehdipour/hookrelay/internal/filter"
	"github.com/jmehdipour/hookrelay/internal/ledger"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/queue"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger

	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB      // nil when not configured
	Redis      *redis.Client // nil when not configured

	Queue         queue.Queue
	Subscriptions *repository.SubscriptionsRepositoryImpl
	Attempts      *repository.AttemptsRepositoryImpl
	History       repository.AttemptHistory
	Ledger        *ledger.Ledger
	Dispatcher    *dispatcher.Dispatcher
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: logger.OrNop(log)}

	var err error
	a.MySQL, err = db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}

	if cfg.Queue.Driver == config.QueueRedis || cfg.RateLimit.RPS > 0 {
		a.Redis, err = db.NewRedisClient(db.RedisOpts{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
	}

	a.ClickHouse, err = db.NewClickHouseConnection(db.ClickHouseOpts{
		DSN:             cfg.ClickHouse.DSN,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ClickHouse.ConnMaxIdleTime,
		PingTimeout:     cfg.ClickHouse.PingTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}

	a.Queue, err = NewQueue(cfg, a.Redis, a.Log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Subscriptions = repository.NewSubscriptionsRepository(a.MySQL).WithDefaults(repository.SubscriptionDefaults{
		MaxRetries: cfg.Delivery.DefaultMaxRetries,
		TimeoutMs:  cfg.Delivery.DefaultTimeoutMs,
	})
	a.Attempts = repository.NewAttemptsRepository(a.MySQL)
	a.History = a.Attempts
	if a.ClickHouse != nil {
		a.History = repository.NewCHAttemptsRepository(a.ClickHouse)
	}
	a.Ledger = ledger.New(a.Attempts, a.History, ledger.NewBreaker(cfg.Delivery.CircuitThreshold), a.Log)
	a.Dispatcher = dispatcher.NewDispatcher(a.Subscriptions, filter.New(), a.Queue, a.Log)
	return a, nil
}

// NewQueue builds the configured queue driver.
func NewQueue(cfg config.Config, rdb *redis.Client, log *zap.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueMemory:
		return queue.NewMemory(), nil
	case config.QueueRedis, "":
		if rdb == nil {
			return nil, errors.New("queue driver redis requires redis.addr")
		}
		return queue.NewRedis(rdb, queue.RedisConfig{
			KeyPrefix:    cfg.Queue.KeyPrefix,
			PollInterval: cfg.Queue.PollInterval,
		}), nil
	case config.QueueKafka:
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return nil, errors.New("queue driver kafka requires kafka.brokers and kafka.topic")
		}
		return queue.NewKafka(queue.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			Topic:          cfg.Kafka.Topic,
			RetryTopic:     cfg.Kafka.RetryTopic,
			GroupID:        cfg.Kafka.GroupID,
			MinBytes:       cfg.Kafka.MinBytes,
			MaxBytes:       cfg.Kafka.MaxBytes,
			CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// NewPool builds the delivery worker pool over the app's queue.
func (a *App) NewPool() *delivery.Pool {
	d := a.Cfg.Delivery
	sender := delivery.NewSender(delivery.SenderConfig{
		UserAgent:       d.UserAgent,
		MaxRedirects:    d.MaxRedirects,
		MaxResponseBody: d.MaxResponseBody,
	})
	backoff := delivery.NewBackoff(d.Backoff.Base, d.Backoff.Max, d.Backoff.Jitter)
	w := delivery.NewWorker(a.Subscriptions, a.Ledger, a.Queue, sender, backoff, a.Log)
	return delivery.NewPool(a.Queue, w, d.WorkerCount, a.Log)
}

func (a *App) Close() {
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	if a.ClickHouse != nil {
		_ = a.ClickHouse.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.MySQL != nil {
		_ = a.MySQL.Close()
	}
}
