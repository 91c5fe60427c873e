package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// checkWritable rejects names that are not settable fields of shape. The
// key field is rejected too when lockKey is set.
func checkWritable(shape entity.Shape, values map[string]any, lockKey bool) error {
	var unknown, readOnly []string
	for name := range values {
		f, ok := shape.Field(name)
		switch {
		case !ok:
			unknown = append(unknown, name)
		case f.Computed, lockKey && name == shape.Key():
			readOnly = append(readOnly, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return types.FieldError(types.ErrValidation, "unknown field", unknown...)
	}
	if len(readOnly) > 0 {
		sort.Strings(readOnly)
		return types.FieldError(types.ErrValidation, "field cannot be written", readOnly...)
	}
	return nil
}

// assign sets every value on rec, reporting all coercion failures at once.
// Names must already have passed checkWritable.
func assign(shape entity.Shape, rec any, values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var bad, reasons []string
	for _, name := range names {
		if err := shape.Set(rec, name, values[name]); err != nil {
			bad = append(bad, name)
			reasons = append(reasons, err.Error())
		}
	}
	if len(bad) > 0 {
		return &types.Error{
			Kind:    types.ErrValidation,
			Message: "invalid value: " + strings.Join(reasons, "; "),
			Fields:  bad,
		}
	}
	return nil
}

// pick keeps only fields, or everything when fields is empty.
func pick(record map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return record
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := record[f]; ok {
			out[f] = v
		}
	}
	return out
}

// unknownFields lists the names in fields that shape does not declare.
func unknownFields(shape entity.Shape, fields []string, prefix string) []string {
	var bad []string
	for _, f := range fields {
		if _, ok := shape.Field(f); !ok {
			bad = append(bad, prefix+f)
		}
	}
	return bad
}

// valueKey turns a field value into a map key. Times compare by instant.
func valueKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00nil"
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
