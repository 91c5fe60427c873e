package query

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// DecodeFilter decodes the JSON filter form:
//
//	{"field": "f", "op": "eq", "value": v}
//	{"and": [...]} | {"or": [...]} | {"not": {...}}
//
// A JSON string is parsed with the text grammar. Empty input and JSON null
// yield a nil Node.
func DecodeFilter(data []byte) (Node, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, types.Errorf(types.ErrValidation, "invalid filter: %v", err)
	}
	return FilterFromValue(v)
}

// FilterFromValue converts an already-decoded JSON value (map, string or
// nil) into a Node. Transports that receive structured payloads use it
// directly.
func FilterFromValue(v any) (Node, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseFilter(x)
	case map[string]any:
		return nodeFromMap(x, 0)
	default:
		return nil, types.Errorf(types.ErrValidation, "invalid filter: expected object or string")
	}
}

func nodeFromMap(m map[string]any, depth int) (Node, error) {
	if depth >= MaxFilterDepth {
		return nil, types.Errorf(types.ErrValidation, "invalid filter: nesting deeper than %d", MaxFilterDepth)
	}

	for _, kind := range []LogicalKind{And, Or} {
		raw, ok := m[kind.String()]
		if !ok {
			continue
		}
		if len(m) != 1 {
			return nil, types.Errorf(types.ErrValidation, "invalid filter: %q must be the only key", kind)
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, types.Errorf(types.ErrValidation, "invalid filter: %q expects an array", kind)
		}
		operands := make([]Node, 0, len(list))
		for _, item := range list {
			child, ok := item.(map[string]any)
			if !ok {
				return nil, types.Errorf(types.ErrValidation, "invalid filter: %q operands must be objects", kind)
			}
			n, err := nodeFromMap(child, depth+1)
			if err != nil {
				return nil, err
			}
			operands = append(operands, n)
		}
		return Logical{Kind: kind, Operands: operands}, nil
	}

	if raw, ok := m["not"]; ok {
		if len(m) != 1 {
			return nil, types.Errorf(types.ErrValidation, "invalid filter: \"not\" must be the only key")
		}
		child, ok := raw.(map[string]any)
		if !ok {
			return nil, types.Errorf(types.ErrValidation, "invalid filter: \"not\" expects an object")
		}
		n, err := nodeFromMap(child, depth+1)
		if err != nil {
			return nil, err
		}
		return Not{Operand: n}, nil
	}

	field, _ := m["field"].(string)
	if field == "" {
		return nil, types.Errorf(types.ErrValidation, "invalid filter: comparison requires \"field\" (got keys %s)", keysOf(m))
	}
	opName, _ := m["op"].(string)
	op, ok := ParseOperator(opName)
	if !ok {
		return nil, types.FieldError(types.ErrValidation, "invalid filter: unknown operator "+strconv.Quote(opName)+" on field", field)
	}
	for k := range m {
		if k != "field" && k != "op" && k != "value" {
			return nil, types.Errorf(types.ErrValidation, "invalid filter: unexpected key %q", k)
		}
	}
	return Comparison{Field: field, Op: op, Value: normalizeJSON(m["value"])}, nil
}

// normalizeJSON turns json.Number into int64 or float64 and recurses into
// arrays, matching what the text grammar produces.
func normalizeJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case float64:
		// structpb and other pre-decoded sources only carry float64
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeJSON(e)
		}
		return out
	default:
		return v
	}
}

func keysOf(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "[" + strings.Join(keys, ", ") + "]"
}
