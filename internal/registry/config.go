package registry

import (
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// UniqueIndex requires the combination of Fields to be unique among live
// records of an entity.
type UniqueIndex struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

// IndexConfig lists the unique indexes of an entity.
type IndexConfig struct {
	Unique []UniqueIndex `json:"unique"`
}

func (c *IndexConfig) validate(shape entity.Shape) error {
	if c == nil {
		return nil
	}
	var bad []string
	names := map[string]bool{}
	for _, idx := range c.Unique {
		if idx.Name == "" || names[idx.Name] || len(idx.Fields) == 0 {
			return types.Errorf(types.ErrInvalidConfig, "index %q: name must be unique and non-empty with at least one field", idx.Name)
		}
		names[idx.Name] = true
		for _, f := range idx.Fields {
			if fi, ok := shape.Field(f); !ok || fi.Computed {
				bad = append(bad, f)
			}
		}
	}
	if len(bad) > 0 {
		return types.FieldError(types.ErrInvalidConfig, "index references unknown or computed fields", bad...)
	}
	return nil
}

// SoftDeleteRule turns deletes into an update of FlagField (a bool) and,
// when set, TimestampField (a time). UseUTC selects UTC over local time.
type SoftDeleteRule struct {
	FlagField      string `json:"flagField"`
	TimestampField string `json:"timestampField,omitempty"`
	UseUTC         bool   `json:"useUtc"`
}

func (r *SoftDeleteRule) validate(shape entity.Shape) error {
	if r == nil {
		return nil
	}
	if f, ok := shape.Field(r.FlagField); !ok || f.Computed || f.Kind != entity.KindBool {
		return types.FieldError(types.ErrInvalidConfig, "soft delete flag must be a settable bool field", r.FlagField)
	}
	if r.TimestampField != "" {
		if f, ok := shape.Field(r.TimestampField); !ok || f.Computed || f.Kind != entity.KindTime {
			return types.FieldError(types.ErrInvalidConfig, "soft delete timestamp must be a settable time field", r.TimestampField)
		}
	}
	return nil
}

// ReturningMode selects the update response body.
type ReturningMode int

const (
	// ReturnAffectedRows answers {affectedRows: n}.
	ReturnAffectedRows ReturningMode = iota
	// ReturnRecord answers {data: record} for key-based updates.
	ReturnRecord
)

func (m ReturningMode) String() string {
	if m == ReturnRecord {
		return "record"
	}
	return "affectedRows"
}

// ParseReturningMode maps a configuration string to a mode.
func ParseReturningMode(s string) (ReturningMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "affectedrows":
		return ReturnAffectedRows, true
	case "record":
		return ReturnRecord, true
	default:
		return ReturnAffectedRows, false
	}
}
