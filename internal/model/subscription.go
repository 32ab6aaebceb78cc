package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultMaxRetries = 3
	DefaultTimeoutMs  = 5000
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	// SubscriptionDisabled is only set by the circuit breaker and cleared by an admin re-enable.
	SubscriptionDisabled SubscriptionStatus = "disabled"
)

func (s SubscriptionStatus) String() string { return string(s) }

func (s SubscriptionStatus) Valid() bool {
	return s == SubscriptionActive || s == SubscriptionInactive || s == SubscriptionDisabled
}

// ParseSubscriptionStatus normalizes input; it never falls back to a default.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, bool) {
	st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

func (s *SubscriptionStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	st, ok := ParseSubscriptionStatus(raw)
	if !ok {
		return fmt.Errorf("invalid subscription status %q", raw)
	}
	*s = st
	return nil
}

func (s SubscriptionStatus) Value() (driver.Value, error) { return string(s), nil }

func (s *SubscriptionStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, ok := ParseSubscriptionStatus(raw)
	if !ok {
		return fmt.Errorf("invalid subscription status %q", raw)
	}
	*s = st
	return nil
}

// Subscription is a tenant's registered webhook endpoint (webhook_subscriptions table).
type Subscription struct {
	ID         string             `db:"id" json:"id"`
	TenantID   string             `db:"tenant_id" json:"tenant_id"`
	URL        string             `db:"url" json:"url"`
	Events     Events             `db:"events" json:"events"`
	Status     SubscriptionStatus `db:"status" json:"status"`
	Secret     string             `db:"secret" json:"-"`
	Headers    Headers            `db:"headers" json:"headers,omitempty"`
	Filters    *Filters           `db:"filters" json:"filters,omitempty"`
	MaxRetries int                `db:"max_retries" json:"max_retries"`
	TimeoutMs  int                `db:"timeout_ms" json:"timeout_ms"`

	Health

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Health holds the counters owned by the attempt ledger.
type Health struct {
	TotalAttempts       int64      `db:"total_attempts" json:"total_attempts"`
	SuccessfulAttempts  int64      `db:"successful_attempts" json:"successful_attempts"`
	FailedAttempts      int64      `db:"failed_attempts" json:"failed_attempts"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	LastTriggeredAt     *time.Time `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	LastSuccessAt       *time.Time `db:"last_success_at" json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `db:"last_failure_at" json:"last_failure_at,omitempty"`
}

func (s *Subscription) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

func (s *Subscription) SubscribedTo(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Events is the non-empty set of event names, stored as a JSON array.
type Events []string

func (e Events) Value() (driver.Value, error) { return jsonValue(e) }
func (e *Events) Scan(src any) error           { return jsonScan(src, e) }

// Headers are static custom headers merged into every outbound request.
type Headers map[string]string

func (h Headers) Value() (driver.Value, error) { return jsonValue(h) }
func (h *Headers) Scan(src any) error           { return jsonScan(src, h) }

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported scan type %T", src)
	}
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
