package filter

import (
	"testing"

	"github.com/jmehdipour/hookrelay/internal/model"
)

func sub(f *model.Filters) *model.Subscription {
	return &model.Subscription{ID: "wh1", TenantID: "T1", Events: model.Events{"order.created"}, Filters: f}
}

func TestNoFiltersMatchesEverything(t *testing.T) {
	e := New()
	payloads := []model.Payload{
		nil,
		{},
		{"orderId": "O1"},
		{"tags": []any{"x"}, "total": 10.0},
	}
	for _, p := range payloads {
		if !e.Matches(sub(nil), "order.created", p) {
			t.Errorf("nil filters should match %v", p)
		}
		if !e.Matches(sub(&model.Filters{}), "order.created", p) {
			t.Errorf("empty filters should match %v", p)
		}
	}
}

func TestTagsAllowList(t *testing.T) {
	e := New()
	s := sub(&model.Filters{Tags: []string{"vip"}})

	if !e.Matches(s, "contact.tagged", model.Payload{"tags": []any{"vip", "new"}}) {
		t.Error("expected vip,new to match vip filter")
	}
	if e.Matches(s, "contact.tagged", model.Payload{"tags": []any{"new"}}) {
		t.Error("expected new to not match vip filter")
	}
	if e.Matches(s, "contact.tagged", model.Payload{}) {
		t.Error("expected missing tags to not match")
	}
}

func TestFunnelAndProductAllowLists(t *testing.T) {
	e := New()
	s := sub(&model.Filters{FunnelIDs: []string{"f1", "f2"}, ProductIDs: []string{"p9"}})

	tests := []struct {
		name string
		data model.Payload
		want bool
	}{
		{"both match", model.Payload{"funnelId": "f2", "productId": "p9"}, true},
		{"snake case keys", model.Payload{"funnel_id": "f1", "product_id": "p9"}, true},
		{"product list", model.Payload{"funnelId": "f1", "productIds": []any{"p1", "p9"}}, true},
		{"funnel mismatch", model.Payload{"funnelId": "f3", "productId": "p9"}, false},
		{"product mismatch", model.Payload{"funnelId": "f1", "productId": "p1"}, false},
		{"numeric id", model.Payload{"funnelId": "f1", "productId": 9.0}, false},
		{"missing", model.Payload{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Matches(s, "order.created", tt.data); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditions(t *testing.T) {
	data := model.Payload{
		"total":  150.0,
		"status": "paid",
		"email":  "jane@example.com",
		"items":  []any{"a", "b"},
		"customer": map[string]any{
			"country": "DE",
			"orders":  3.0,
		},
	}

	tests := []struct {
		name string
		cond model.Condition
		want bool
	}{
		{"equals string", model.Condition{Field: "status", Operator: model.OpEquals, Value: "paid"}, true},
		{"equals number", model.Condition{Field: "total", Operator: model.OpEquals, Value: 150}, true},
		{"equals mismatch", model.Condition{Field: "status", Operator: model.OpEquals, Value: "void"}, false},
		{"equals missing", model.Condition{Field: "nope", Operator: model.OpEquals, Value: "x"}, false},
		{"not equals", model.Condition{Field: "status", Operator: model.OpNotEquals, Value: "void"}, true},
		{"not equals missing", model.Condition{Field: "nope", Operator: model.OpNotEquals, Value: "x"}, true},
		{"greater than", model.Condition{Field: "total", Operator: model.OpGreaterThan, Value: 100}, true},
		{"greater than false", model.Condition{Field: "total", Operator: model.OpGreaterThan, Value: 150}, false},
		{"greater than string field", model.Condition{Field: "status", Operator: model.OpGreaterThan, Value: 1}, false},
		{"less than", model.Condition{Field: "customer.orders", Operator: model.OpLessThan, Value: 5}, true},
		{"contains string", model.Condition{Field: "email", Operator: model.OpContains, Value: "@example"}, true},
		{"contains array", model.Condition{Field: "items", Operator: model.OpContains, Value: "b"}, true},
		{"contains array miss", model.Condition{Field: "items", Operator: model.OpContains, Value: "c"}, false},
		{"starts with", model.Condition{Field: "email", Operator: model.OpStartsWith, Value: "jane"}, true},
		{"ends with", model.Condition{Field: "email", Operator: model.OpEndsWith, Value: ".org"}, false},
		{"in", model.Condition{Field: "customer.country", Operator: model.OpIn, Value: []any{"FR", "DE"}}, true},
		{"in miss", model.Condition{Field: "customer.country", Operator: model.OpIn, Value: []any{"US"}}, false},
		{"in non list", model.Condition{Field: "customer.country", Operator: model.OpIn, Value: "DE"}, false},
		{"unknown operator passes", model.Condition{Field: "status", Operator: "matches_regex", Value: ".*"}, true},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sub(&model.Filters{Conditions: []model.Condition{tt.cond}})
			if got := e.Matches(s, "order.created", data); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualsNonFiniteStrings(t *testing.T) {
	e := New()
	tests := []struct {
		name  string
		value any
		field any
		want  bool
	}{
		{"NaN matches itself", "NaN", "NaN", true},
		{"inf does not match Infinity", "inf", "Infinity", false},
		{"Inf does not match numeric field", "Inf", 1e308, false},
		{"numeric strings still compare as numbers", "1.50", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sub(&model.Filters{Conditions: []model.Condition{{Field: "code", Operator: model.OpEquals, Value: tt.value}}})
			if got := e.Matches(s, "order.created", model.Payload{"code": tt.field}); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllGroupsMustPass(t *testing.T) {
	e := New()
	s := sub(&model.Filters{
		Tags:       []string{"vip"},
		Conditions: []model.Condition{{Field: "total", Operator: model.OpGreaterThan, Value: 100}},
	})

	if !e.Matches(s, "order.created", model.Payload{"tags": []any{"vip"}, "total": 120.0}) {
		t.Error("expected match when all groups pass")
	}
	if e.Matches(s, "order.created", model.Payload{"tags": []any{"vip"}, "total": 80.0}) {
		t.Error("expected no match when a condition fails")
	}
	if e.Matches(s, "order.created", model.Payload{"tags": []any{"new"}, "total": 120.0}) {
		t.Error("expected no match when tags fail")
	}
}

func TestExpression(t *testing.T) {
	e := New()
	s := sub(&model.Filters{Expression: `event == "order.created" && data.total >= 100`})

	if !e.Matches(s, "order.created", model.Payload{"total": 100.0}) {
		t.Error("expected expression to match")
	}
	if e.Matches(s, "order.updated", model.Payload{"total": 100.0}) {
		t.Error("expected expression to reject other event")
	}
	// second call hits the program cache
	if !e.Matches(s, "order.created", model.Payload{"total": 250.0}) {
		t.Error("expected cached expression to match")
	}
}

func TestBrokenExpressionFailsClosed(t *testing.T) {
	e := New()
	s := sub(&model.Filters{Expression: `data.total >`})
	if e.Matches(s, "order.created", model.Payload{"total": 1.0}) {
		t.Error("expected invalid expression to not match")
	}
	if err := CompileExpression(`data.total >`); err == nil {
		t.Error("expected compile error")
	}
	if err := CompileExpression(`len(data) > 0`); err != nil {
		t.Errorf("unexpected compile error: %v", err)
	}
}
