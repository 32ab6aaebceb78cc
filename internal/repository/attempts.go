package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// HealthState is the subscription state observed right after an attempt was recorded.
type HealthState struct {
	Status              model.SubscriptionStatus `db:"status"`
	ConsecutiveFailures int                      `db:"consecutive_failures"`
	// Tripped reports that this write moved the subscription from active to disabled.
	Tripped bool `db:"-"`
}

// AttemptHistory lists delivery attempts, newest first.
type AttemptHistory interface {
	ListBySubscription(ctx context.Context, tenantID, subscriptionID string, limit, offset int) ([]model.DeliveryAttempt, error)
}

// AttemptsRepository persists delivery attempts and owns the subscription
// health counters they roll up into.
type AttemptsRepository interface {
	AttemptHistory
	InsertPending(ctx context.Context, a *model.DeliveryAttempt) error
	// Complete writes the outcome of a pending attempt and applies it to the
	// subscription counters in one transaction. A failure that brings the
	// consecutive failure count to threshold disables an active subscription.
	Complete(ctx context.Context, a *model.DeliveryAttempt, res model.AttemptResult, threshold int) (HealthState, error)
}

type AttemptsRepositoryImpl struct {
	db *sqlx.DB
}

func NewAttemptsRepository(db *sqlx.DB) *AttemptsRepositoryImpl {
	return &AttemptsRepositoryImpl{db: db}
}

var _ AttemptsRepository = (*AttemptsRepositoryImpl)(nil)

func (r *AttemptsRepositoryImpl) InsertPending(ctx context.Context, a *model.DeliveryAttempt) error {
	const q = `
		INSERT INTO webhook_attempts
		    (id, subscription_id, tenant_id, event, payload, url, attempt_number, status, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	a.Status = model.AttemptPending
	if _, err := r.db.ExecContext(ctx, q,
		a.ID, a.SubscriptionID, a.TenantID, a.Event, a.Payload, a.URL, a.AttemptNumber, a.Status, a.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert pending attempt: %w", err)
	}
	return nil
}

func (r *AttemptsRepositoryImpl) Complete(ctx context.Context, a *model.DeliveryAttempt, res model.AttemptResult, threshold int) (HealthState, error) {
	status := model.AttemptFailed
	if res.Success {
		status = model.AttemptSuccess
	}
	var (
		httpStatus *int
		body       *string
		errMsg     *string
	)
	if res.HTTPStatus > 0 {
		httpStatus = &res.HTTPStatus
	}
	if res.ResponseBody != "" {
		body = &res.ResponseBody
	}
	if res.Error != "" {
		errMsg = &res.Error
	}
	durationMs := res.Duration.Milliseconds()
	completedAt := res.CompletedAt.UTC()

	var state HealthState
	err := withTx(ctx, r.db, nil, func(tx *sqlx.Tx) error {
		out, err := tx.ExecContext(ctx, `
			UPDATE webhook_attempts
			   SET status = ?, http_status = ?, response_body = ?, response_headers = ?,
			       error_message = ?, duration_ms = ?, completed_at = ?
			 WHERE id = ? AND status = ?
		`, status, httpStatus, body, res.ResponseHeaders, errMsg, durationMs, completedAt,
			a.ID, model.AttemptPending)
		if err != nil {
			return fmt.Errorf("complete attempt: %w", err)
		}
		if n, err := out.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrAttemptCompleted
		}

		if res.Success {
			_, err = tx.ExecContext(ctx, `
				UPDATE webhook_subscriptions
				   SET total_attempts = total_attempts + 1,
				       successful_attempts = successful_attempts + 1,
				       consecutive_failures = 0,
				       last_success_at = ?, last_triggered_at = ?, updated_at = ?
				 WHERE id = ?
			`, completedAt, completedAt, completedAt, a.SubscriptionID)
			if err != nil {
				return fmt.Errorf("update subscription health: %w", err)
			}
		} else {
			if _, err = tx.ExecContext(ctx, `
				UPDATE webhook_subscriptions
				   SET total_attempts = total_attempts + 1,
				       failed_attempts = failed_attempts + 1,
				       consecutive_failures = consecutive_failures + 1,
				       last_failure_at = ?, last_triggered_at = ?, updated_at = ?
				 WHERE id = ?
			`, completedAt, completedAt, completedAt, a.SubscriptionID); err != nil {
				return fmt.Errorf("update subscription health: %w", err)
			}

			// the row lock taken above makes exactly one writer observe the
			// active -> disabled transition.
			trip, err := tx.ExecContext(ctx, `
				UPDATE webhook_subscriptions
				   SET status = ?, updated_at = ?
				 WHERE id = ? AND status = ? AND consecutive_failures >= ?
			`, model.SubscriptionDisabled, completedAt, a.SubscriptionID, model.SubscriptionActive, threshold)
			if err != nil {
				return fmt.Errorf("trip circuit: %w", err)
			}
			n, err := trip.RowsAffected()
			if err != nil {
				return err
			}
			state.Tripped = n > 0
		}

		if err := tx.GetContext(ctx, &state, `
			SELECT status, consecutive_failures FROM webhook_subscriptions WHERE id = ?
		`, a.SubscriptionID); err != nil {
			return fmt.Errorf("read subscription health: %w", err)
		}
		return nil
	})
	if err != nil {
		return HealthState{}, err
	}

	a.Status = status
	a.HTTPStatus, a.ResponseBody, a.ErrorMessage = httpStatus, body, errMsg
	a.ResponseHeaders = res.ResponseHeaders
	a.DurationMs = &durationMs
	a.CompletedAt = &completedAt
	return state, nil
}

func (r *AttemptsRepositoryImpl) ListBySubscription(ctx context.Context, tenantID, subscriptionID string, limit, offset int) ([]model.DeliveryAttempt, error) {
	limit, offset = clampPage(limit, offset)

	var rows []model.DeliveryAttempt
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, subscription_id, tenant_id, event, payload, url, attempt_number, status,
		       http_status, response_body, response_headers, error_message, duration_ms,
		       created_at, completed_at
		  FROM webhook_attempts
		 WHERE tenant_id = ? AND subscription_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?
	`, tenantID, subscriptionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
