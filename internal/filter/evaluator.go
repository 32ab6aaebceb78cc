// Package filter decides whether an event instance reaches a subscription.
package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/jmehdipour/hookrelay/internal/model"
)

var (
	funnelKeys     = []string{"funnelId", "funnel_id"}
	productKeys    = []string{"productId", "product_id"}
	productSetKeys = []string{"productIds", "product_ids"}
)

// Evaluator matches payloads against subscription filters. It holds no state
// besides a cache of compiled expressions and is safe for concurrent use.
type Evaluator struct {
	programs sync.Map // expression -> *vm.Program
}

func New() *Evaluator { return &Evaluator{} }

// Matches reports whether data satisfies every configured filter group of sub.
// A subscription without filters matches everything.
func (e *Evaluator) Matches(sub *model.Subscription, event string, data model.Payload) bool {
	if sub == nil {
		return false
	}
	f := sub.Filters
	if f.Empty() {
		return true
	}

	if len(f.FunnelIDs) > 0 && !scalarAllowed(data, funnelKeys, f.FunnelIDs) {
		return false
	}
	if len(f.ProductIDs) > 0 && !productAllowed(data, f.ProductIDs) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(toStrings(lookup(data, "tags")), f.Tags) {
		return false
	}
	for _, c := range f.Conditions {
		if !evalCondition(c, data) {
			return false
		}
	}
	if expression := strings.TrimSpace(f.Expression); expression != "" {
		return e.evalExpression(expression, event, data)
	}
	return true
}

func (e *Evaluator) evalExpression(expression, event string, data model.Payload) bool {
	var prog *vm.Program
	if cached, ok := e.programs.Load(expression); ok {
		prog = cached.(*vm.Program)
	} else {
		compiled, err := expr.Compile(expression, expr.AsBool())
		if err != nil {
			return false
		}
		e.programs.Store(expression, compiled)
		prog = compiled
	}

	env := map[string]any{
		"event": event,
		"data":  map[string]any(data),
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return false
	}
	b, ok := out.(bool)
	return ok && b
}

// CompileExpression reports whether expression is a valid boolean expr-lang program.
func CompileExpression(expression string) error {
	if _, err := expr.Compile(expression, expr.AsBool()); err != nil {
		return fmt.Errorf("compile filter expression: %w", err)
	}
	return nil
}

func evalCondition(c model.Condition, data model.Payload) bool {
	v, found := lookupOK(data, c.Field)

	switch c.Operator {
	case model.OpEquals:
		return found && looseEqual(v, c.Value)
	case model.OpNotEquals:
		return !found || !looseEqual(v, c.Value)
	case model.OpGreaterThan:
		a, okA := toFloat(v)
		b, okB := toFloat(c.Value)
		return found && okA && okB && a > b
	case model.OpLessThan:
		a, okA := toFloat(v)
		b, okB := toFloat(c.Value)
		return found && okA && okB && a < b
	case model.OpContains:
		switch fv := v.(type) {
		case string:
			return strings.Contains(fv, fmt.Sprint(c.Value))
		case []any:
			for _, item := range fv {
				if looseEqual(item, c.Value) {
					return true
				}
			}
		}
		return false
	case model.OpStartsWith:
		s, ok := v.(string)
		return ok && strings.HasPrefix(s, fmt.Sprint(c.Value))
	case model.OpEndsWith:
		s, ok := v.(string)
		return ok && strings.HasSuffix(s, fmt.Sprint(c.Value))
	case model.OpIn:
		list, ok := c.Value.([]any)
		if !ok || !found {
			return false
		}
		for _, item := range list {
			if looseEqual(v, item) {
				return true
			}
		}
		return false
	default:
		// Unknown operators pass. Registration rejects them, so only rows
		// written before an operator was retired can reach this branch.
		return true
	}
}

func scalarAllowed(data model.Payload, keys []string, allowed []string) bool {
	for _, k := range keys {
		if v, ok := lookupOK(data, k); ok && v != nil {
			return contains(allowed, toString(v))
		}
	}
	return false
}

func productAllowed(data model.Payload, allowed []string) bool {
	if scalarAllowed(data, productKeys, allowed) {
		return true
	}
	for _, k := range productSetKeys {
		if v, ok := lookupOK(data, k); ok {
			return intersects(toStrings(v), allowed)
		}
	}
	return false
}

func lookup(data model.Payload, path string) any {
	v, _ := lookupOK(data, path)
	return v
}

// lookupOK walks a dot separated path through nested JSON objects.
func lookupOK(data model.Payload, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return toString(a) == toString(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		// NaN and Inf spellings stay strings
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item != nil {
				out = append(out, toString(item))
			}
		}
		return out
	default:
		return nil
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
