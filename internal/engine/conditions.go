package engine

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/buffrsign/engine/pkg/schema"
)

// LookupField resolves a dot-path into nested map[string]any data. The
// second return is false when any path segment is missing or a non-map
// value is traversed into.
func LookupField(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// EvaluateCondition applies a single condition against workflow data.
// Unknown operators evaluate to false.
func EvaluateCondition(cond schema.Condition, data map[string]any) bool {
	val, present := LookupField(data, cond.Field)

	switch cond.Operator {
	case schema.OpExists:
		return present && val != nil

	case schema.OpEquals:
		if !present {
			return false
		}
		return looseEqual(val, cond.Value)

	case schema.OpNotEquals:
		// An absent field is unequal to any value.
		return !(present && looseEqual(val, cond.Value))

	case schema.OpGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cond.Value)
		return present && aok && bok && a > b

	case schema.OpLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(cond.Value)
		return present && aok && bok && a < b

	case schema.OpContains:
		if !present {
			return false
		}
		return strings.Contains(stringify(val), stringify(cond.Value))

	case schema.OpRegex:
		if !present {
			return false
		}
		pattern, ok := cond.Value.(string)
		if !ok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(stringify(val))

	default:
		return false
	}
}

// EvaluateConditions ANDs all conditions. An empty list is vacuously true.
func EvaluateConditions(conds []schema.Condition, data map[string]any) bool {
	for _, c := range conds {
		if !EvaluateCondition(c, data) {
			return false
		}
	}
	return true
}

// looseEqual compares with numeric coercion so 3 == 3.0 regardless of how
// the values arrived (JSON decodes numbers as float64).
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
