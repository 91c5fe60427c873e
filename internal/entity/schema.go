// Package entity describes record types to the rest of crudql.
//
// A Schema[T] is a table of typed get/set closures over *T declared once at
// startup. Build validates the table and erases the type parameter, yielding
// a Shape that the registry, policy evaluator, filter compiler and storage
// backends use without reflecting over record values.
package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrUnknownField indicates a field name not declared on the shape.
var ErrUnknownField = errors.New("unknown field")

// ErrReadOnlyField indicates an attempt to set a computed field.
var ErrReadOnlyField = errors.New("field is read-only")

// ErrNotNullable indicates null was supplied for a non-nullable field.
var ErrNotNullable = errors.New("field does not accept null")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Shape is the type-erased view of a Schema.
// Record values passed in and returned are always *T for the schema's T.
type Shape interface {
	Name() string
	TypeID() reflect.Type
	Key() string
	Fields() []FieldInfo
	Field(name string) (FieldInfo, bool)
	Relations() []Relation
	Relation(name string) (Relation, bool)

	New() any
	ID(rec any) string
	Get(rec any, field string) (any, error)
	Set(rec any, field string, value any) error
	Clone(rec any) any
	ToMap(rec any) map[string]any
	FromMap(values map[string]any) (any, error)
	Marshal(rec any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

type accessor[T any] struct {
	info FieldInfo
	get  func(*T) any
	set  func(*T, any)
}

// Schema accumulates field accessors for T. Declaration errors are kept and
// reported by Build so that schemas read as a single chained expression.
type Schema[T any] struct {
	name      string
	key       string
	fields    map[string]*accessor[T]
	order     []string
	relations map[string]Relation
	relOrder  []string
	errs      []error
}

// NewSchema starts a schema for T under the given display name.
func NewSchema[T any](name string) *Schema[T] {
	return &Schema[T]{
		name:      name,
		fields:    make(map[string]*accessor[T]),
		relations: make(map[string]Relation),
	}
}

func (s *Schema[T]) add(info FieldInfo, get func(*T) any, set func(*T, any)) *Schema[T] {
	if !identPattern.MatchString(info.Name) {
		s.errs = append(s.errs, fmt.Errorf("field %q: invalid name", info.Name))
		return s
	}
	if _, dup := s.fields[info.Name]; dup {
		s.errs = append(s.errs, fmt.Errorf("field %q declared twice", info.Name))
		return s
	}
	if get == nil {
		s.errs = append(s.errs, fmt.Errorf("field %q: nil getter", info.Name))
		return s
	}
	s.fields[info.Name] = &accessor[T]{info: info, get: get, set: set}
	s.order = append(s.order, info.Name)
	return s
}

// Text declares a string field.
func (s *Schema[T]) Text(name string, get func(*T) string, set func(*T, string)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindText},
		func(r *T) any { return get(r) },
		func(r *T, v any) { set(r, v.(string)) })
}

// Int declares an int64 field.
func (s *Schema[T]) Int(name string, get func(*T) int64, set func(*T, int64)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindInt},
		func(r *T) any { return get(r) },
		func(r *T, v any) { set(r, v.(int64)) })
}

// Float declares a float64 field.
func (s *Schema[T]) Float(name string, get func(*T) float64, set func(*T, float64)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindFloat},
		func(r *T) any { return get(r) },
		func(r *T, v any) { set(r, v.(float64)) })
}

// Bool declares a bool field.
func (s *Schema[T]) Bool(name string, get func(*T) bool, set func(*T, bool)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindBool},
		func(r *T) any { return get(r) },
		func(r *T, v any) { set(r, v.(bool)) })
}

// Time declares a time.Time field.
func (s *Schema[T]) Time(name string, get func(*T) time.Time, set func(*T, time.Time)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindTime},
		func(r *T) any { return get(r) },
		func(r *T, v any) { set(r, v.(time.Time)) })
}

// NullableTime declares a *time.Time field; nil reads as null.
func (s *Schema[T]) NullableTime(name string, get func(*T) *time.Time, set func(*T, *time.Time)) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: KindTime, Nullable: true},
		func(r *T) any {
			if t := get(r); t != nil {
				return *t
			}
			return nil
		},
		func(r *T, v any) {
			if v == nil {
				set(r, nil)
				return
			}
			t := v.(time.Time)
			set(r, &t)
		})
}

// Computed declares a read-only field derived from the record.
// The getter must return the canonical Go type of kind, or nil.
func (s *Schema[T]) Computed(name string, kind Kind, get func(*T) any) *Schema[T] {
	return s.add(FieldInfo{Name: name, Kind: kind, Computed: true, Nullable: true}, get, nil)
}

// Key marks the identifier field. It must be a declared text field.
func (s *Schema[T]) Key(name string) *Schema[T] {
	s.key = name
	return s
}

// HasMany declares a one-to-many relation: records of target whose
// foreignField equals this record's localField.
func (s *Schema[T]) HasMany(name, target, localField, foreignField string) *Schema[T] {
	return s.relation(Relation{Name: name, Target: target, LocalField: localField, ForeignField: foreignField, Many: true})
}

// BelongsTo declares a many-to-one relation.
func (s *Schema[T]) BelongsTo(name, target, localField, foreignField string) *Schema[T] {
	return s.relation(Relation{Name: name, Target: target, LocalField: localField, ForeignField: foreignField})
}

func (s *Schema[T]) relation(r Relation) *Schema[T] {
	if !identPattern.MatchString(r.Name) {
		s.errs = append(s.errs, fmt.Errorf("relation %q: invalid name", r.Name))
		return s
	}
	if _, dup := s.relations[r.Name]; dup {
		s.errs = append(s.errs, fmt.Errorf("relation %q declared twice", r.Name))
		return s
	}
	s.relations[r.Name] = r
	s.relOrder = append(s.relOrder, r.Name)
	return s
}

// Build validates the declarations and returns the type-erased shape.
func (s *Schema[T]) Build() (Shape, error) {
	errs := append([]error(nil), s.errs...)
	if strings.TrimSpace(s.name) == "" {
		errs = append(errs, errors.New("entity name is required"))
	}
	if s.key == "" {
		errs = append(errs, errors.New("key field is required"))
	} else if acc, ok := s.fields[s.key]; !ok {
		errs = append(errs, fmt.Errorf("key field %q is not declared", s.key))
	} else if acc.info.Kind != KindText || acc.info.Computed {
		errs = append(errs, fmt.Errorf("key field %q must be a settable text field", s.key))
	}
	for _, name := range s.relOrder {
		r := s.relations[name]
		if _, ok := s.fields[r.LocalField]; !ok {
			errs = append(errs, fmt.Errorf("relation %q: local field %q is not declared", r.Name, r.LocalField))
		}
		if _, clash := s.fields[r.Name]; clash {
			errs = append(errs, fmt.Errorf("relation %q shadows a field", r.Name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("entity %s: %w", s.name, err)
	}

	fields := make([]FieldInfo, 0, len(s.order))
	for _, name := range s.order {
		fields = append(fields, s.fields[name].info)
	}
	rels := make([]Relation, 0, len(s.relOrder))
	for _, name := range s.relOrder {
		rels = append(rels, s.relations[name])
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Name < rels[j].Name })

	byName := make(map[string]*accessor[T], len(s.fields))
	for k, v := range s.fields {
		byName[k] = v
	}
	relByName := make(map[string]Relation, len(s.relations))
	for k, v := range s.relations {
		relByName[k] = v
	}

	return &shape[T]{
		name:      s.name,
		key:       s.key,
		fields:    fields,
		byName:    byName,
		relations: rels,
		relByName: relByName,
		typ:       reflect.TypeOf((*T)(nil)).Elem(),
	}, nil
}

// MustBuild is Build for package-level catalogs; it panics on error.
func (s *Schema[T]) MustBuild() Shape {
	sh, err := s.Build()
	if err != nil {
		panic(err)
	}
	return sh
}

// shape is the immutable result of Build.
type shape[T any] struct {
	name      string
	key       string
	fields    []FieldInfo
	byName    map[string]*accessor[T]
	relations []Relation
	relByName map[string]Relation
	typ       reflect.Type
}

func (s *shape[T]) Name() string         { return s.name }
func (s *shape[T]) TypeID() reflect.Type { return s.typ }
func (s *shape[T]) Key() string          { return s.key }

func (s *shape[T]) Fields() []FieldInfo {
	return append([]FieldInfo(nil), s.fields...)
}

func (s *shape[T]) Field(name string) (FieldInfo, bool) {
	acc, ok := s.byName[name]
	if !ok {
		return FieldInfo{}, false
	}
	return acc.info, true
}

func (s *shape[T]) Relations() []Relation {
	return append([]Relation(nil), s.relations...)
}

func (s *shape[T]) Relation(name string) (Relation, bool) {
	r, ok := s.relByName[name]
	return r, ok
}

func (s *shape[T]) New() any { return new(T) }

func (s *shape[T]) record(rec any) *T {
	r, ok := rec.(*T)
	if !ok || r == nil {
		panic(fmt.Sprintf("entity %s: record of type %T, want *%s", s.name, rec, s.typ))
	}
	return r
}

func (s *shape[T]) ID(rec any) string {
	v, _ := s.byName[s.key].get(s.record(rec)).(string)
	return v
}

func (s *shape[T]) Get(rec any, field string) (any, error) {
	acc, ok := s.byName[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return acc.get(s.record(rec)), nil
}

// Set coerces value into the field kind before assigning it.
func (s *shape[T]) Set(rec any, field string, value any) error {
	acc, ok := s.byName[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	if acc.set == nil {
		return fmt.Errorf("%w: %s", ErrReadOnlyField, field)
	}
	res, err := Coerce(value, acc.info.Kind)
	if err != nil {
		return fmt.Errorf("field %s: expected %s: %w", field, acc.info.Kind, err)
	}
	if res.IsNull {
		if !acc.info.Nullable {
			return fmt.Errorf("%w: %s", ErrNotNullable, field)
		}
		acc.set(s.record(rec), nil)
		return nil
	}
	acc.set(s.record(rec), res.Value)
	return nil
}

func (s *shape[T]) Clone(rec any) any {
	c := *s.record(rec)
	return &c
}

// ToMap returns every declared field, computed ones included.
func (s *shape[T]) ToMap(rec any) map[string]any {
	r := s.record(rec)
	out := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		out[f.Name] = s.byName[f.Name].get(r)
	}
	return out
}

// FromMap builds a fresh record from values. Computed fields are ignored;
// unknown names fail.
func (s *shape[T]) FromMap(values map[string]any) (any, error) {
	rec := new(T)
	for name, v := range values {
		acc, ok := s.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		if acc.info.Computed {
			continue
		}
		if err := s.Set(rec, name, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Marshal encodes the settable fields as a JSON object.
func (s *shape[T]) Marshal(rec any) ([]byte, error) {
	r := s.record(rec)
	doc := make(map[string]any, len(s.fields))
	for _, f := range s.fields {
		if f.Computed {
			continue
		}
		v := s.byName[f.Name].get(r)
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339Nano)
		}
		doc[f.Name] = v
	}
	return json.Marshal(doc)
}

// Unmarshal decodes a document written by Marshal. Fields missing from the
// document keep their zero value so stored rows survive added fields.
func (s *shape[T]) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("entity %s: decode: %w", s.name, err)
	}
	rec := new(T)
	for name, v := range doc {
		acc, ok := s.byName[name]
		if !ok || acc.info.Computed {
			continue
		}
		if v == nil && !acc.info.Nullable {
			continue
		}
		if err := s.Set(rec, name, v); err != nil {
			return nil, fmt.Errorf("entity %s: decode: %w", s.name, err)
		}
	}
	return rec, nil
}
