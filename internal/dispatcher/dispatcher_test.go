package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/hookrelay/internal/filter"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/queue"
	"github.com/jmehdipour/hookrelay/internal/repository"
	"github.com/jmehdipour/hookrelay/internal/repository/repotest"
)

type recordingQueue struct {
	queue.Queue
	mu   sync.Mutex
	jobs []model.DeliveryJob
	fail map[string]bool
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.DeliveryJob, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail[job.SubscriptionID] {
		return errors.New("broker down")
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type staticFinder []model.Subscription

func (f staticFinder) FindActiveForEvent(context.Context, string, string) ([]model.Subscription, error) {
	return f, nil
}

func TestTriggerEnqueuesOnlySubscribedEvent(t *testing.T) {
	ctx := context.Background()
	subs := repository.NewSubscriptionsRepository(repotest.Open(t))

	created := &model.Subscription{TenantID: "T1", URL: "https://a.example.com/hook", Events: model.Events{"order.created"}}
	updated := &model.Subscription{TenantID: "T1", URL: "https://b.example.com/hook", Events: model.Events{"order.updated"}}
	for _, s := range []*model.Subscription{created, updated} {
		if err := subs.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	q := queue.NewMemory()
	defer q.Close()
	d := NewDispatcher(subs, filter.New(), q, nil)

	n, err := d.Trigger(ctx, "T1", "order.created", model.Payload{"orderId": "O1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if n != 1 {
		t.Fatalf("enqueued = %d, want 1", n)
	}
	if ready, _ := q.Len(); ready != 1 {
		t.Fatalf("queue length = %d, want 1", ready)
	}

	m, err := q.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := model.DeliveryJob{SubscriptionID: created.ID, TenantID: "T1", Event: "order.created", AttemptNumber: 1}
	got := m.Job
	if got.SubscriptionID != want.SubscriptionID || got.TenantID != want.TenantID || got.Event != want.Event || got.AttemptNumber != 1 {
		t.Fatalf("job = %+v, want %+v", got, want)
	}
	if got.Payload["orderId"] != "O1" {
		t.Fatalf("payload = %v", got.Payload)
	}
}

func TestTriggerAppliesFilters(t *testing.T) {
	subs := staticFinder{
		{ID: "vip", Filters: &model.Filters{Tags: []string{"vip"}}},
		{ID: "all"},
		{ID: "big", Filters: &model.Filters{Conditions: []model.Condition{{Field: "total", Operator: model.OpGreaterThan, Value: 100}}}},
	}
	q := &recordingQueue{}
	d := NewDispatcher(subs, nil, q, nil)

	n, err := d.Trigger(context.Background(), "T1", "order.created", model.Payload{"tags": []any{"new"}, "total": 50})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if n != 1 || len(q.jobs) != 1 || q.jobs[0].SubscriptionID != "all" {
		t.Fatalf("enqueued %d: %+v", n, q.jobs)
	}
}

func TestTriggerNoMatchIsNoop(t *testing.T) {
	q := &recordingQueue{}
	d := NewDispatcher(staticFinder(nil), nil, q, nil)

	n, err := d.Trigger(context.Background(), "T1", "contact.created", nil)
	if err != nil || n != 0 || len(q.jobs) != 0 {
		t.Fatalf("n=%d err=%v jobs=%v", n, err, q.jobs)
	}
}

func TestTriggerRejectsMissingInput(t *testing.T) {
	d := NewDispatcher(staticFinder(nil), nil, &recordingQueue{}, nil)

	if _, err := d.Trigger(context.Background(), "", "order.created", nil); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("missing tenant: err = %v", err)
	}
	if _, err := d.Trigger(context.Background(), "T1", " ", nil); !errors.Is(err, ErrInvalidTrigger) {
		t.Fatalf("missing event: err = %v", err)
	}
}

func TestTriggerContinuesAfterEnqueueFailure(t *testing.T) {
	subs := staticFinder{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	q := &recordingQueue{fail: map[string]bool{"b": true}}
	d := NewDispatcher(subs, nil, q, nil)

	n, err := d.Trigger(context.Background(), "T1", "order.created", model.Payload{})
	if err == nil {
		t.Fatal("expected enqueue error")
	}
	if n != 2 || len(q.jobs) != 2 || q.jobs[0].SubscriptionID != "a" || q.jobs[1].SubscriptionID != "c" {
		t.Fatalf("n=%d jobs=%+v", n, q.jobs)
	}
}
