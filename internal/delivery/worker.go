// Package delivery executes delivery jobs: it signs and POSTs the envelope,
// records the attempt and schedules the retry.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/hookrelay/internal/ledger"
	"github.com/jmehdipour/hookrelay/internal/logger"
	"github.com/jmehdipour/hookrelay/internal/metrics"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/signer"
	"go.uber.org/zap"
)

const (
	HeaderEvent              = "X-Webhook-Event"
	HeaderID                 = "X-Webhook-ID"
	HeaderAttempt            = "X-Webhook-Attempt"
	HeaderSignature          = "X-Webhook-Signature"
	HeaderSignatureAlgorithm = "X-Webhook-Signature-Algorithm"

	// ISO-8601 in UTC with millisecond precision.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// SubscriptionLookup loads the current subscription for a job. It returns
// (nil, nil) when the subscription does not exist.
type SubscriptionLookup interface {
	GetByID(ctx context.Context, tenantID, id string) (*model.Subscription, error)
}

// AttemptRecorder persists attempts and reports the resulting subscription health.
type AttemptRecorder interface {
	Ready(sub *model.Subscription) bool
	Begin(ctx context.Context, sub *model.Subscription, job model.DeliveryJob) (*model.DeliveryAttempt, error)
	Complete(ctx context.Context, a *model.DeliveryAttempt, res model.AttemptResult) (ledger.Health, error)
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.DeliveryJob, delay time.Duration) error
}

type Outcome string

const (
	OutcomeDelivered      Outcome = "delivered"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeExhausted      Outcome = "retries_exhausted"
	OutcomeCircuitOpen    Outcome = "circuit_open"
	OutcomeNotFound       Outcome = "webhook_not_found"
	OutcomeInactive       Outcome = "webhook_inactive"
)

type Worker struct {
	subs     SubscriptionLookup
	attempts AttemptRecorder
	queue    Enqueuer
	sender   *Sender
	backoff  Backoff
	log      *zap.Logger
	now      func() time.Time
}

func NewWorker(subs SubscriptionLookup, attempts AttemptRecorder, q Enqueuer, sender *Sender, backoff Backoff, log *zap.Logger) *Worker {
	if sender == nil {
		sender = NewSender(SenderConfig{})
	}
	if backoff.Base <= 0 {
		backoff = NewBackoff(0, 0, DefaultBackoffJitter)
	}
	return &Worker{
		subs:     subs,
		attempts: attempts,
		queue:    q,
		sender:   sender,
		backoff:  backoff,
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

// Process runs one attempt of job to completion. Delivery failures are not
// errors; an error means the attempt could not be recorded or its retry could
// not be scheduled, and the job should be redelivered.
func (w *Worker) Process(ctx context.Context, job model.DeliveryJob) (Outcome, error) {
	if job.AttemptNumber < 1 {
		job.AttemptNumber = 1
	}
	log := w.log.With(
		zap.String("subscription_id", job.SubscriptionID),
		zap.String("tenant_id", job.TenantID),
		zap.String("event", job.Event),
		zap.Int("attempt", job.AttemptNumber),
	)

	sub, err := w.subs.GetByID(ctx, job.TenantID, job.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("load subscription %s: %w", job.SubscriptionID, err)
	}
	if sub == nil {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeNotFound).Inc()
		log.Warn("delivery dropped", zap.String("reason", string(OutcomeNotFound)))
		return OutcomeNotFound, nil
	}
	if !w.attempts.Ready(sub) {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeInactive).Inc()
		log.Info("delivery skipped", zap.String("reason", string(OutcomeInactive)), zap.Stringer("status", sub.Status))
		return OutcomeInactive, nil
	}

	attempt, err := w.attempts.Begin(ctx, sub, job)
	if err != nil {
		return "", fmt.Errorf("begin attempt: %w", err)
	}

	body, err := json.Marshal(model.Envelope{
		Event:     job.Event,
		Data:      job.Payload,
		WebhookID: sub.ID,
		Timestamp: w.now().UTC().Format(timestampLayout),
		Attempt:   job.AttemptNumber,
	})
	var res model.AttemptResult
	if err != nil {
		res = model.AttemptResult{Error: "encode envelope: " + err.Error(), CompletedAt: w.now()}
	} else {
		res = w.sender.Post(ctx, sub.URL, w.headers(sub, job, body), body, sub.Timeout())
	}
	metrics.DeliveryDuration.Observe(res.Duration.Seconds())

	health, err := w.attempts.Complete(ctx, attempt, res)
	if err != nil {
		return "", fmt.Errorf("complete attempt %s: %w", attempt.ID, err)
	}

	log = log.With(zap.Int("http_status", res.HTTPStatus), zap.Duration("duration", res.Duration))
	if res.Success {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeSuccess).Inc()
		log.Debug("delivered")
		return OutcomeDelivered, nil
	}
	metrics.Deliveries.WithLabelValues(metrics.OutcomeFailed).Inc()

	if health.Open {
		log.Warn("delivery failed", zap.String("reason", string(OutcomeCircuitOpen)), zap.String("error", res.Error))
		return OutcomeCircuitOpen, nil
	}

	maxRetries := sub.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	if job.AttemptNumber >= maxRetries {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeExhausted).Inc()
		log.Warn("delivery failed", zap.String("reason", string(OutcomeExhausted)), zap.String("error", res.Error))
		return OutcomeExhausted, nil
	}

	next := job
	next.AttemptNumber++
	delay := w.backoff.Delay(job.AttemptNumber)
	if err := w.queue.Enqueue(ctx, next, delay); err != nil {
		return "", fmt.Errorf("schedule retry: %w", err)
	}
	metrics.JobsEnqueued.WithLabelValues(metrics.KindRetry).Inc()
	log.Info("delivery failed, retry scheduled", zap.Duration("delay", delay), zap.String("error", res.Error))
	return OutcomeRetryScheduled, nil
}

func (w *Worker) headers(sub *model.Subscription, job model.DeliveryJob, body []byte) http.Header {
	h := make(http.Header, 8+len(sub.Headers))
	// custom headers go first so they cannot replace the standard ones
	for k, v := range sub.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", w.sender.UserAgent())
	h.Set(HeaderEvent, job.Event)
	h.Set(HeaderID, sub.ID)
	h.Set(HeaderAttempt, strconv.Itoa(job.AttemptNumber))
	if sub.Secret != "" {
		h.Set(HeaderSignature, signer.Sign(body, sub.Secret))
		h.Set(HeaderSignatureAlgorithm, signer.Algorithm)
	}
	return h
}
