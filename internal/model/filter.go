package model

import (
	"database/sql/driver"
	"strings"
)

type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIn          Operator = "in"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpStartsWith, OpEndsWith, OpIn:
		return true
	default:
		return false
	}
}

// Condition compares the payload value at Field (dot separated path) with Value.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Filters is the optional predicate a subscription applies to event payloads.
// Every configured group must pass.
type Filters struct {
	FunnelIDs  []string    `json:"funnel_ids,omitempty"`
	ProductIDs []string    `json:"product_ids,omitempty"`
	Tags       []string    `json:"tags,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	// Expression is an expr-lang boolean expression evaluated over {event, data}.
	Expression string `json:"expression,omitempty"`
}

func (f *Filters) Empty() bool {
	return f == nil || (len(f.FunnelIDs) == 0 && len(f.ProductIDs) == 0 && len(f.Tags) == 0 &&
		len(f.Conditions) == 0 && strings.TrimSpace(f.Expression) == "")
}

func (f Filters) Value() (driver.Value, error) { return jsonValue(f) }
func (f *Filters) Scan(src any) error           { return jsonScan(src, f) }
