package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/include"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

/*
 * Request decoding.
 *
 * Transports hand over the request body as a generic JSON object: HTTP
 * decodes it from the wire, gRPC converts it from a protobuf Struct. Both
 * produce float64 or json.Number for numbers. Query-string transports pass
 * strings, so integer fields also accept decimal text.
 *
 * Unknown top-level keys are rejected so that a misspelled "fliter" cannot
 * silently widen a read.
 */

// DecodeCreate decodes {entity, input, returning?}.
func DecodeCreate(body map[string]any) (CreateRequest, error) {
	if err := onlyKeys(body, "entity", "input", "returning"); err != nil {
		return CreateRequest{}, err
	}
	entity, err := entityName(body)
	if err != nil {
		return CreateRequest{}, err
	}
	input, err := object(body, "input", true)
	if err != nil {
		return CreateRequest{}, err
	}
	req := CreateRequest{Entity: entity, Input: input}
	if raw, ok := body["returning"]; ok && raw != nil {
		sel, err := include.ParseSelect(raw)
		if err != nil {
			return CreateRequest{}, err
		}
		if len(sel.Relations) > 0 {
			return CreateRequest{}, types.FieldError(types.ErrValidation, "returning accepts field names only", "returning")
		}
		req.Returning = sel.Fields
	}
	return req, nil
}

// DecodeRead decodes {entity, filter?, select?, orderBy?, page?, pageSize?, includeCount?}.
// filter may be a JSON filter object or a filter expression string.
func DecodeRead(body map[string]any) (ReadRequest, error) {
	if err := onlyKeys(body, "entity", "filter", "select", "orderBy", "page", "pageSize", "includeCount"); err != nil {
		return ReadRequest{}, err
	}
	entity, err := entityName(body)
	if err != nil {
		return ReadRequest{}, err
	}
	req := ReadRequest{Entity: entity}

	if req.Filter, err = query.FilterFromValue(body["filter"]); err != nil {
		return ReadRequest{}, err
	}
	if req.Select, err = include.ParseSelect(body["select"]); err != nil {
		return ReadRequest{}, err
	}
	if raw, ok := body["orderBy"]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return ReadRequest{}, types.FieldError(types.ErrValidation, "orderBy must be a string", "orderBy")
		}
		req.OrderBy = s
	}
	if req.Page, err = intField(body, "page"); err != nil {
		return ReadRequest{}, err
	}
	if req.PageSize, err = intField(body, "pageSize"); err != nil {
		return ReadRequest{}, err
	}
	if req.IncludeCount, err = boolField(body, "includeCount"); err != nil {
		return ReadRequest{}, err
	}
	return req, nil
}

// DecodeUpdate decodes {entity, key? | condition?, update}. key is either
// {"id": "..."} or a bare string.
func DecodeUpdate(body map[string]any) (UpdateRequest, error) {
	if err := onlyKeys(body, "entity", "key", "condition", "update"); err != nil {
		return UpdateRequest{}, err
	}
	entity, err := entityName(body)
	if err != nil {
		return UpdateRequest{}, err
	}
	req := UpdateRequest{Entity: entity}
	if req.Key, err = keyField(body, false); err != nil {
		return UpdateRequest{}, err
	}
	if req.Condition, err = query.FilterFromValue(body["condition"]); err != nil {
		return UpdateRequest{}, err
	}
	if req.Update, err = object(body, "update", true); err != nil {
		return UpdateRequest{}, err
	}
	return req, nil
}

// DecodeDelete decodes {entity, key: {id}}.
func DecodeDelete(body map[string]any) (DeleteRequest, error) {
	if err := onlyKeys(body, "entity", "key"); err != nil {
		return DeleteRequest{}, err
	}
	entity, err := entityName(body)
	if err != nil {
		return DeleteRequest{}, err
	}
	key, err := keyField(body, true)
	if err != nil {
		return DeleteRequest{}, err
	}
	return DeleteRequest{Entity: entity, Key: key}, nil
}

func onlyKeys(body map[string]any, allowed ...string) error {
	if body == nil {
		return types.Errorf(types.ErrValidation, "request body must be a JSON object")
	}
	var unknown []string
	for k := range body {
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return types.FieldError(types.ErrValidation, "unknown request field", unknown...)
	}
	return nil
}

func entityName(body map[string]any) (string, error) {
	s, ok := body["entity"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", types.FieldError(types.ErrValidation, "entity is required", "entity")
	}
	return strings.TrimSpace(s), nil
}

func object(body map[string]any, key string, required bool) (map[string]any, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		if required {
			return nil, types.FieldError(types.ErrValidation, key+" is required", key)
		}
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, types.FieldError(types.ErrValidation, key+" must be an object", key)
	}
	return m, nil
}

func keyField(body map[string]any, required bool) (string, error) {
	switch v := body["key"].(type) {
	case nil:
		if required {
			return "", types.FieldError(types.ErrValidation, "key.id is required", "id")
		}
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case map[string]any:
		id, ok := v["id"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return "", types.FieldError(types.ErrValidation, "key.id is required", "id")
		}
		return strings.TrimSpace(id), nil
	default:
		return "", types.FieldError(types.ErrValidation, "key must be an object or a string", "key")
	}
}

func intField(body map[string]any, key string) (*int, error) {
	raw, ok := body[key]
	if !ok || raw == nil {
		return nil, nil
	}
	bad := types.FieldError(types.ErrValidation, key+" must be an integer", key)
	var n int64
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<62 {
			return nil, bad
		}
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, bad
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, bad
		}
		n = i
	default:
		return nil, bad
	}
	if n > math.MaxInt32 || n < math.MinInt32 {
		return nil, &types.Error{
			Kind:    types.ErrValidation,
			Message: fmt.Sprintf("%s must be between %d and %d", key, math.MinInt32, math.MaxInt32),
			Fields:  []string{key},
		}
	}
	out := int(n)
	return &out, nil
}

func boolField(body map[string]any, key string) (bool, error) {
	switch v := body[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b, nil
		}
	}
	return false, types.FieldError(types.ErrValidation, key+" must be a boolean", key)
}
