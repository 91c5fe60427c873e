// internal/query/operators.go
package query

import (
	"cmp"
	"strings"
	"time"
)

/*
 * Operator comparison logic.
 *
 * Values reaching Compare have already been coerced into the canonical Go
 * type of the field kind (see entity.Coerce), so comparisons switch on the
 * concrete type rather than re-parsing.
 *
 * Operators:
 *   - isNull: null checks (cheapest)
 *   - eq/neq: equality, numeric values compare across int64/float64
 *   - lt/lte/gt/gte: ordered kinds only (int, float, time)
 *   - in/nin: membership with equality semantics
 *   - contains/startsWith/endsWith: text only
 *
 * Null field values never satisfy an ordering or text operator. eq/in match
 * null only when the literal itself is null.
 */

// Compare applies op to a record value and a coerced target.
func Compare(op Operator, value, target any) bool {
	switch op {
	case OpIsNull:
		want, _ := target.(bool)
		return (value == nil) == want
	case OpEq:
		return compareEqual(value, target)
	case OpNeq:
		return !compareEqual(value, target)
	case OpLt:
		c, ok := compareOrdered(value, target)
		return ok && c < 0
	case OpLte:
		c, ok := compareOrdered(value, target)
		return ok && c <= 0
	case OpGt:
		c, ok := compareOrdered(value, target)
		return ok && c > 0
	case OpGte:
		c, ok := compareOrdered(value, target)
		return ok && c >= 0
	case OpIn:
		return compareIn(value, target)
	case OpNin:
		return !compareIn(value, target)
	case OpContains:
		return compareText(value, target, strings.Contains)
	case OpStartsWith:
		return compareText(value, target, strings.HasPrefix)
	case OpEndsWith:
		return compareText(value, target, strings.HasSuffix)
	default:
		return false
	}
}

// compareEqual performs equality with numeric and time awareness.
func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ia, ib, ok := asInts(a, b); ok {
		return ia == ib
	}
	if na, nb, ok := asNumbers(a, b); ok {
		return na == nb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// compareOrdered performs three-way comparison. Returns ok=false for null or
// incomparable operands.
func compareOrdered(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if ia, ib, ok := asInts(a, b); ok {
		return cmp.Compare(ia, ib), true
	}
	if na, nb, ok := asNumbers(a, b); ok {
		return cmp.Compare(na, nb), true
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

// asNumbers converts both values to float64 when both are numeric.
// asInts compares two integers exactly; float64 loses precision above 2^53.
func asInts(a, b any) (int64, int64, bool) {
	ia, oka := toInt64(a)
	ib, okb := toInt64(b)
	return ia, ib, oka && okb
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func asNumbers(a, b any) (float64, float64, bool) {
	na, oka := toFloat64(a)
	nb, okb := toFloat64(b)
	return na, nb, oka && okb
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareIn checks membership of value in a []any set.
func compareIn(value, set any) bool {
	arr, ok := set.([]any)
	if !ok {
		return false
	}
	for _, elem := range arr {
		if compareEqual(value, elem) {
			return true
		}
	}
	return false
}

func compareText(value, target any, fn func(s, sub string) bool) bool {
	vs, ok1 := value.(string)
	ts, ok2 := target.(string)
	if !ok1 || !ok2 {
		return false
	}
	return fn(vs, ts)
}

// CompareValues orders two field values for sorting. Nulls sort first.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compareOrdered(a, b)
	return c
}
