// internal/entity/coercion.go
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

/*
 * Value coercion into field kinds.
 *
 * Every value that enters a record (create/update payloads, decoded storage
 * documents, filter literals) passes through Coerce so that getters and
 * setters only ever see the canonical Go type of their kind:
 *
 *   - TEXT:  string   (lenient: numbers and booleans are formatted)
 *   - INT:   int64    (strict: integral numbers or numeric strings only)
 *   - FLOAT: float64  (strict: numbers or numeric strings, booleans rejected)
 *   - BOOL:  bool     (strict: no "true"/1 ambiguity)
 *   - TIME:  time.Time (RFC3339, RFC3339Nano or YYYY-MM-DD strings)
 *
 * Null handling is separate from coercion failure: nil input yields
 * CoercionResult{IsNull: true} and the caller decides whether the field
 * accepts null. Whitespace-only strings are never valid numbers.
 */

// ErrCoercionFailed indicates a value cannot be represented in the target kind.
var ErrCoercionFailed = errors.New("type coercion failed")

// CoercionResult holds the coerced value or indicates null.
type CoercionResult struct {
	Value  any  // coerced value (valid only if !IsNull)
	IsNull bool // true if input was nil/null
}

// Coerce converts value to the canonical Go type of kind.
// Returns CoercionResult with IsNull=true for nil input.
// Returns ErrCoercionFailed for impossible coercions.
func Coerce(value any, kind Kind) (CoercionResult, error) {
	if value == nil {
		return CoercionResult{IsNull: true}, nil
	}

	switch kind {
	case KindText:
		return coerceText(value)
	case KindInt:
		return coerceInt(value)
	case KindFloat:
		return coerceFloat(value)
	case KindBool:
		return coerceBool(value)
	case KindTime:
		return coerceTime(value)
	default:
		return CoercionResult{}, ErrCoercionFailed
	}
}

// coerceText converts scalars to their string representation.
func coerceText(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case string:
		return CoercionResult{Value: v}, nil
	case float64:
		return CoercionResult{Value: strconv.FormatFloat(v, 'f', -1, 64)}, nil
	case int:
		return CoercionResult{Value: strconv.Itoa(v)}, nil
	case int64:
		return CoercionResult{Value: strconv.FormatInt(v, 10)}, nil
	case json.Number:
		return CoercionResult{Value: v.String()}, nil
	case bool:
		return CoercionResult{Value: strconv.FormatBool(v)}, nil
	case fmt.Stringer:
		return CoercionResult{Value: v.String()}, nil
	default:
		return CoercionResult{}, ErrCoercionFailed
	}
}

// coerceInt accepts integral numbers and numeric strings.
// Fractional values fail rather than truncate.
func coerceInt(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case int64:
		return CoercionResult{Value: v}, nil
	case int:
		return CoercionResult{Value: int64(v)}, nil
	case int32:
		return CoercionResult{Value: int64(v)}, nil
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return CoercionResult{}, ErrCoercionFailed
		}
		return CoercionResult{Value: int64(v)}, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return CoercionResult{}, ErrCoercionFailed
		}
		return CoercionResult{Value: n}, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return CoercionResult{}, ErrCoercionFailed
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return CoercionResult{}, ErrCoercionFailed
		}
		return CoercionResult{Value: n}, nil
	default:
		// Strict mode: booleans and everything else rejected
		return CoercionResult{}, ErrCoercionFailed
	}
}

// coerceFloat accepts any number and numeric strings. Rejects booleans.
func coerceFloat(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case float64:
		return CoercionResult{Value: v}, nil
	case float32:
		return CoercionResult{Value: float64(v)}, nil
	case int:
		return CoercionResult{Value: float64(v)}, nil
	case int64:
		return CoercionResult{Value: float64(v)}, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return CoercionResult{}, ErrCoercionFailed
		}
		return CoercionResult{Value: f}, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return CoercionResult{}, ErrCoercionFailed
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return CoercionResult{}, ErrCoercionFailed
		}
		return CoercionResult{Value: f}, nil
	default:
		return CoercionResult{}, ErrCoercionFailed
	}
}

// coerceBool validates value is a boolean.
func coerceBool(value any) (CoercionResult, error) {
	if v, ok := value.(bool); ok {
		return CoercionResult{Value: v}, nil
	}
	return CoercionResult{}, ErrCoercionFailed
}

// timeLayouts are tried in order when parsing textual timestamps.
var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// coerceTime accepts time.Time values and textual timestamps.
func coerceTime(value any) (CoercionResult, error) {
	switch v := value.(type) {
	case time.Time:
		return CoercionResult{Value: v}, nil
	case *time.Time:
		if v == nil {
			return CoercionResult{IsNull: true}, nil
		}
		return CoercionResult{Value: *v}, nil
	case string:
		v = strings.TrimSpace(v)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return CoercionResult{Value: t}, nil
			}
		}
		return CoercionResult{}, ErrCoercionFailed
	default:
		return CoercionResult{}, ErrCoercionFailed
	}
}
