package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmehdipour/hookrelay/internal/config"
	"github.com/jmehdipour/hookrelay/internal/dispatcher"
	"github.com/jmehdipour/hookrelay/internal/model"
	"github.com/jmehdipour/hookrelay/internal/repository"
)

type triggerCall struct {
	tenantID, event string
	payload         model.Payload
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []triggerCall
	n     int
	err   error
}

func (d *fakeDispatcher) Trigger(_ context.Context, tenantID, event string, payload model.Payload) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, triggerCall{tenantID, event, payload})
	return d.n, d.err
}

type fakeSubs struct {
	subs    map[string]*model.Subscription
	enabled []string
}

func (f *fakeSubs) GetByID(_ context.Context, tenantID, id string) (*model.Subscription, error) {
	s, ok := f.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, nil
	}
	return s, nil
}

func (f *fakeSubs) SetStatus(_ context.Context, tenantID, id string, st model.SubscriptionStatus) error {
	s, _ := f.GetByID(context.Background(), tenantID, id)
	if s == nil || s.Status == model.SubscriptionDisabled {
		return repository.ErrNotFound
	}
	s.Status = st
	return nil
}

func (f *fakeSubs) Enable(_ context.Context, tenantID, id string) error {
	s, _ := f.GetByID(context.Background(), tenantID, id)
	if s == nil {
		return repository.ErrNotFound
	}
	s.Status, s.ConsecutiveFailures = model.SubscriptionActive, 0
	f.enabled = append(f.enabled, id)
	return nil
}

type fakeHistory struct {
	gotLimit, gotOffset int
	rows                []model.DeliveryAttempt
}

func (f *fakeHistory) ListBySubscription(_ context.Context, tenantID, id string, limit, offset int) ([]model.DeliveryAttempt, error) {
	f.gotLimit, f.gotOffset = limit, offset
	var out []model.DeliveryAttempt
	for _, a := range f.rows {
		if a.TenantID == tenantID && a.SubscriptionID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

type testServer struct {
	h    http.Handler
	disp *fakeDispatcher
	subs *fakeSubs
	hist *fakeHistory
}

func newTestServer() *testServer {
	ts := &testServer{
		disp: &fakeDispatcher{n: 1},
		subs: &fakeSubs{subs: map[string]*model.Subscription{
			"w1": {ID: "w1", TenantID: "T1", URL: "https://a.example.com", Status: model.SubscriptionDisabled, Secret: "s3cret",
				Health: model.Health{ConsecutiveFailures: 10}},
			"w2": {ID: "w2", TenantID: "T1", URL: "https://b.example.com", Status: model.SubscriptionActive},
		}},
		hist: &fakeHistory{rows: []model.DeliveryAttempt{
			{ID: "a1", SubscriptionID: "w1", TenantID: "T1", AttemptNumber: 1, Status: model.AttemptFailed},
		}},
	}
	srv := NewServer(config.Config{}, Deps{Dispatcher: ts.disp, Subscriptions: ts.subs, Attempts: ts.hist})
	ts.h = srv.Handler()
	return ts
}

func (ts *testServer) do(method, path, tenant, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	ts := newTestServer()
	if rec := ts.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := ts.do(http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/v1/events", "T1", `{"event":"order.created","data":{"orderId":"O1"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["enqueued"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	if len(ts.disp.calls) != 1 {
		t.Fatalf("calls = %+v", ts.disp.calls)
	}
	call := ts.disp.calls[0]
	if call.tenantID != "T1" || call.event != "order.created" || call.payload["orderId"] != "O1" {
		t.Fatalf("call = %+v", call)
	}
}

func TestTriggerEndpointValidation(t *testing.T) {
	ts := newTestServer()

	if rec := ts.do(http.MethodPost, "/v1/events", "", `{"event":"x"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing tenant = %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/v1/events", "T1", `{"data":{}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing event = %d", rec.Code)
	}
	if rec := ts.do(http.MethodPost, "/v1/events", "T1", `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json = %d", rec.Code)
	}

	ts.disp.err, ts.disp.n = errors.New("broker down"), 0
	if rec := ts.do(http.MethodPost, "/v1/events", "T1", `{"event":"x"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("enqueue failure = %d", rec.Code)
	}
	ts.disp.err = dispatcher.ErrInvalidTrigger
	if rec := ts.do(http.MethodPost, "/v1/events", "T1", `{"event":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid trigger = %d", rec.Code)
	}
}

func TestGetWebhookHidesSecret(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/v1/webhooks/w1", "T1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Fatal("secret leaked")
	}
	if rec := ts.do(http.MethodGet, "/v1/webhooks/w1", "T2", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("other tenant = %d", rec.Code)
	}
}

func TestStatusAndEnable(t *testing.T) {
	ts := newTestServer()

	if rec := ts.do(http.MethodPut, "/v1/webhooks/w2/status", "T1", `{"status":"inactive"}`); rec.Code != http.StatusOK {
		t.Fatalf("set inactive = %d %s", rec.Code, rec.Body.String())
	}
	if ts.subs.subs["w2"].Status != model.SubscriptionInactive {
		t.Fatal("status not applied")
	}
	if rec := ts.do(http.MethodPut, "/v1/webhooks/w2/status", "T1", `{"status":"disabled"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("set disabled = %d", rec.Code)
	}
	if rec := ts.do(http.MethodPut, "/v1/webhooks/w1/status", "T1", `{"status":"active"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("reactivate disabled = %d", rec.Code)
	}

	if rec := ts.do(http.MethodPost, "/v1/webhooks/w1/enable", "T1", ""); rec.Code != http.StatusOK {
		t.Fatalf("enable = %d", rec.Code)
	}
	if s := ts.subs.subs["w1"]; s.Status != model.SubscriptionActive || s.ConsecutiveFailures != 0 {
		t.Fatalf("after enable = %+v", s)
	}
	if rec := ts.do(http.MethodPost, "/v1/webhooks/missing/enable", "T1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("enable missing = %d", rec.Code)
	}
}

func TestListAttempts(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/v1/webhooks/w1/attempts?limit=10&offset=5", "T1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ts.hist.gotLimit != 10 || ts.hist.gotOffset != 5 {
		t.Fatalf("paging = %d/%d", ts.hist.gotLimit, ts.hist.gotOffset)
	}
	var body struct {
		Count   int                     `json:"count"`
		Results []model.DeliveryAttempt `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Results[0].ID != "a1" {
		t.Fatalf("body = %+v", body)
	}

	ts.do(http.MethodGet, "/v1/webhooks/w1/attempts?limit=5000", "T1", "")
	if ts.hist.gotLimit != 50 {
		t.Fatalf("limit not clamped: %d", ts.hist.gotLimit)
	}
}
