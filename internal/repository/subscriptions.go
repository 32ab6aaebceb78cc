package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmehdipour/hookrelay/internal/filter"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/util"
	"github.com/jmoiron/sqlx"
)

// SubscriptionsRepository is the webhook registry. Every query is tenant scoped.
type SubscriptionsRepository interface {
	Create(ctx context.Context, s *model.Subscription) error
	GetByID(ctx context.Context, tenantID, id string) (*model.Subscription, error)
	FindActiveForEvent(ctx context.Context, tenantID, event string) ([]model.Subscription, error)
	SetStatus(ctx context.Context, tenantID, id string, status model.SubscriptionStatus) error
	Enable(ctx context.Context, tenantID, id string) error
}

type SubscriptionsRepositoryImpl struct {
	db       *sqlx.DB
	defaults SubscriptionDefaults
	now      func() time.Time
}

// SubscriptionDefaults fill in the retry policy of subscriptions created without one.
type SubscriptionDefaults struct {
	MaxRetries int
	TimeoutMs  int
}

func NewSubscriptionsRepository(db *sqlx.DB) *SubscriptionsRepositoryImpl {
	return &SubscriptionsRepositoryImpl{
		db:       db,
		defaults: SubscriptionDefaults{MaxRetries: model.DefaultMaxRetries, TimeoutMs: model.DefaultTimeoutMs},
		now:      time.Now,
	}
}

// WithDefaults overrides the non-zero fields of the creation defaults.
func (r *SubscriptionsRepositoryImpl) WithDefaults(d SubscriptionDefaults) *SubscriptionsRepositoryImpl {
	if d.MaxRetries > 0 {
		r.defaults.MaxRetries = d.MaxRetries
	}
	if d.TimeoutMs > 0 {
		r.defaults.TimeoutMs = d.TimeoutMs
	}
	return r
}

var _ SubscriptionsRepository = (*SubscriptionsRepositoryImpl)(nil)

const subscriptionColumns = `
	s.id, s.tenant_id, s.url, s.events, s.status, s.secret, s.headers, s.filters,
	s.max_retries, s.timeout_ms,
	s.total_attempts, s.successful_attempts, s.failed_attempts, s.consecutive_failures,
	s.last_triggered_at, s.last_success_at, s.last_failure_at,
	s.created_at, s.updated_at`

// Create validates and inserts a subscription together with its event index rows.
func (r *SubscriptionsRepositoryImpl) Create(ctx context.Context, s *model.Subscription) error {
	if err := normalizeSubscription(s, r.defaults); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = util.New()
	}
	now := r.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	const q = `
		INSERT INTO webhook_subscriptions
		    (id, tenant_id, url, events, status, secret, headers, filters, max_retries, timeout_ms,
		     total_attempts, successful_attempts, failed_attempts, consecutive_failures, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?, ?)
	`
	return withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, q,
			s.ID, s.TenantID, s.URL, s.Events, s.Status, s.Secret, s.Headers, s.Filters,
			s.MaxRetries, s.TimeoutMs, s.CreatedAt, s.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}
		for _, ev := range s.Events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO webhook_subscription_events (subscription_id, event) VALUES (?, ?)`, s.ID, ev,
			); err != nil {
				return fmt.Errorf("insert subscription event %q: %w", ev, err)
			}
		}
		return nil
	})
}

// GetByID returns (nil, nil) when the subscription does not exist for the tenant.
func (r *SubscriptionsRepositoryImpl) GetByID(ctx context.Context, tenantID, id string) (*model.Subscription, error) {
	var s model.Subscription
	err := r.db.GetContext(ctx, &s, `
		SELECT `+subscriptionColumns+`
		  FROM webhook_subscriptions s
		 WHERE s.tenant_id = ? AND s.id = ? LIMIT 1
	`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActiveForEvent returns the tenant's active subscriptions listening to event.
func (r *SubscriptionsRepositoryImpl) FindActiveForEvent(ctx context.Context, tenantID, event string) ([]model.Subscription, error) {
	var rows []model.Subscription
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+subscriptionColumns+`
		  FROM webhook_subscriptions s
		  JOIN webhook_subscription_events e ON e.subscription_id = s.id
		 WHERE s.tenant_id = ? AND s.status = ? AND e.event = ?
		 ORDER BY s.created_at
	`, tenantID, model.SubscriptionActive, event)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// SetStatus applies a user status change. Only active and inactive are
// accepted; disabled belongs to the circuit breaker.
func (r *SubscriptionsRepositoryImpl) SetStatus(ctx context.Context, tenantID, id string, status model.SubscriptionStatus) error {
	if status != model.SubscriptionActive && status != model.SubscriptionInactive {
		return fmt.Errorf("%w: status %q cannot be set by users", ErrInvalidSubscription, status)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		   SET status = ?, updated_at = ?
		 WHERE tenant_id = ? AND id = ? AND status <> ?
	`, status, r.now().UTC(), tenantID, id, model.SubscriptionDisabled)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Enable is the administrative reset of a subscription, including one the
// circuit breaker disabled.
func (r *SubscriptionsRepositoryImpl) Enable(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions
		   SET status = ?, consecutive_failures = 0, updated_at = ?
		 WHERE tenant_id = ? AND id = ?
	`, model.SubscriptionActive, r.now().UTC(), tenantID, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeSubscription(s *model.Subscription, d SubscriptionDefaults) error {
	s.TenantID = strings.TrimSpace(s.TenantID)
	s.URL = strings.TrimSpace(s.URL)
	if s.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidSubscription)
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) url", ErrInvalidSubscription)
	}

	seen := make(map[string]struct{}, len(s.Events))
	events := make(model.Events, 0, len(s.Events))
	for _, ev := range s.Events {
		ev = strings.TrimSpace(ev)
		if ev == "" {
			continue
		}
		if _, dup := seen[ev]; dup {
			continue
		}
		seen[ev] = struct{}{}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalidSubscription)
	}
	s.Events = events

	if s.Status == "" {
		s.Status = model.SubscriptionActive
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidSubscription, s.Status)
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = d.MaxRetries
	}
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = d.TimeoutMs
	}

	if s.Filters != nil {
		for _, c := range s.Filters.Conditions {
			if strings.TrimSpace(c.Field) == "" {
				return fmt.Errorf("%w: filter condition without field", ErrInvalidSubscription)
			}
			if !c.Operator.Valid() {
				return fmt.Errorf("%w: unknown filter operator %q", ErrInvalidSubscription, c.Operator)
			}
		}
		if expr := strings.TrimSpace(s.Filters.Expression); expr != "" {
			if err := filter.CompileExpression(expr); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
			}
		}
	}
	return nil
}
