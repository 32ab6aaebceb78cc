package repository

import (
	"context"

	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHAttemptsRepository reads attempt history from ClickHouse, where attempts
// are replicated from MySQL into the hookrelay.webhook_attempts_latest view.
type CHAttemptsRepository struct {
	ch *sqlx.DB
}

func NewCHAttemptsRepository(ch *sqlx.DB) *CHAttemptsRepository {
	return &CHAttemptsRepository{ch: ch}
}

var _ AttemptHistory = (*CHAttemptsRepository)(nil)

func (r *CHAttemptsRepository) ListBySubscription(ctx context.Context, tenantID, subscriptionID string, limit, offset int) ([]model.DeliveryAttempt, error) {
	limit, offset = clampPage(limit, offset)

	var rows []model.DeliveryAttempt
	if err := r.ch.SelectContext(ctx, &rows, `
		SELECT id, subscription_id, tenant_id, event, payload, url, attempt_number, status,
		       http_status, response_body, response_headers, error_message, duration_ms,
		       created_at, completed_at
		FROM hookrelay.webhook_attempts_latest
		WHERE tenant_id = ? AND subscription_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, tenantID, subscriptionID, limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
