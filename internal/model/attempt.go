package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) Valid() bool {
	return s == AttemptPending || s == AttemptSuccess || s == AttemptFailed
}

func ParseAttemptStatus(s string) (AttemptStatus, bool) {
	st := AttemptStatus(strings.ToLower(strings.TrimSpace(s)))
	return st, st.Valid()
}

func (s *AttemptStatus) Scan(src any) error {
	raw, err := scanString(src)
	if err != nil {
		return err
	}
	st, ok := ParseAttemptStatus(raw)
	if !ok {
		return fmt.Errorf("invalid attempt status %q", raw)
	}
	*s = st
	return nil
}

func (s AttemptStatus) Value() (driver.Value, error) { return string(s), nil }

// DeliveryAttempt is one HTTP try of one event delivery (webhook_attempts table).
// Rows are append-only: created pending, completed exactly once.
type DeliveryAttempt struct {
	ID             string        `db:"id" json:"id"`
	SubscriptionID string        `db:"subscription_id" json:"subscription_id"`
	TenantID       string        `db:"tenant_id" json:"tenant_id"`
	Event          string        `db:"event" json:"event"`
	Payload        Payload       `db:"payload" json:"payload"`
	URL            string        `db:"url" json:"url"`
	AttemptNumber  int           `db:"attempt_number" json:"attempt_number"`
	Status         AttemptStatus `db:"status" json:"status"`

	HTTPStatus      *int       `db:"http_status" json:"http_status,omitempty"`
	ResponseBody    *string    `db:"response_body" json:"response_body,omitempty"`
	ResponseHeaders Headers    `db:"response_headers" json:"response_headers,omitempty"`
	ErrorMessage    *string    `db:"error_message" json:"error_message,omitempty"`
	DurationMs      *int64     `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// AttemptResult is the outcome written once when an attempt completes.
type AttemptResult struct {
	Success         bool
	HTTPStatus      int // 0 when no response was received
	ResponseBody    string
	ResponseHeaders Headers
	Error           string
	Duration        time.Duration
	CompletedAt     time.Time
}

// Payload is the business event data, stored as a JSON object.
type Payload map[string]any

func (p Payload) Value() (driver.Value, error) { return jsonValue(p) }
func (p *Payload) Scan(src any) error           { return jsonScan(src, p) }
