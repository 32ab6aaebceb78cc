package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/hookrelay/internal/db"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedEndpoint string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo webhook subscriptions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		subs := repository.NewSubscriptionsRepository(sqlDB).WithDefaults(repository.SubscriptionDefaults{
			MaxRetries: cfg.Delivery.DefaultMaxRetries,
			TimeoutMs:  cfg.Delivery.DefaultTimeoutMs,
		})
		return seedSubscriptions(cmd.Context(), subs, seedEndpoint)
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedEndpoint, "endpoint", "http://127.0.0.1:9000/hooks", "receiver URL for the demo subscriptions")
}

// seedSubscriptions inserts deterministic demo subscriptions for tenant T1.
// Rows that already exist are left untouched.
func seedSubscriptions(ctx context.Context, subs *repository.SubscriptionsRepositoryImpl, endpoint string) error {
	demo := []model.Subscription{
		{
			ID:       "01HZY0SEED0000000000000001",
			TenantID: "T1",
			URL:      endpoint,
			Events:   model.Events{"order.created", "order.paid"},
			Secret:   "s3cr3t",
		},
		{
			ID:       "01HZY0SEED0000000000000002",
			TenantID: "T1",
			URL:      endpoint,
			Events:   model.Events{"order.created"},
			Filters: &model.Filters{
				Conditions: []model.Condition{{Field: "total", Operator: model.OpGreaterThan, Value: 100}},
			},
			Headers: model.Headers{"X-Source": "hookrelay-seed"},
		},
		{
			ID:         "01HZY0SEED0000000000000003",
			TenantID:   "T1",
			URL:        endpoint,
			Events:     model.Events{"lead.captured"},
			Filters:    &model.Filters{Tags: []string{"vip"}, Expression: `event == "lead.captured" && data.score >= 50`},
			MaxRetries: 5,
		},
		{
			ID:       "01HZY0SEED0000000000000004",
			TenantID: "T1",
			URL:      endpoint,
			Events:   model.Events{"order.created"},
			Status:   model.SubscriptionInactive,
		},
	}

	for i := range demo {
		s := &demo[i]
		existing, err := subs.GetByID(ctx, s.TenantID, s.ID)
		if err != nil {
			return fmt.Errorf("lookup subscription %s: %w", s.ID, err)
		}
		if existing != nil {
			continue
		}
		if err := subs.Create(ctx, s); err != nil {
			return fmt.Errorf("create subscription %s: %w", s.ID, err)
		}
		logger.Log.Info("seeded subscription",
			zap.String("id", s.ID),
			zap.String("tenant_id", s.TenantID),
			zap.Strings("events", s.Events),
		)
	}
	return nil
}
