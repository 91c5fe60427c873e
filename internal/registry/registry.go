// Package registry holds the frozen configuration of every entity.
//
// Writers serialize through one mutex and publish a fresh immutable
// snapshot with an atomic pointer swap, so readers never lock and never see
// a half-applied change. Every setter is read-modify-write: clone the
// current Registration, apply the delta, validate, publish.
package registry

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/validation"
)

var collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Registration is the frozen configuration of one entity. Values returned
// by the Store are shared snapshots and must be treated as read-only.
type Registration struct {
	Name       string
	TypeID     reflect.Type
	Shape      entity.Shape
	Collection string
	Policy     *policy.Policy
	Validators map[types.Action][]validation.Validator
	Includes   *IncludeNode
	Pagination *query.PaginationConfig
	Ordering   *query.OrderingConfig
	Indexes    *IndexConfig
	SoftDelete *SoftDeleteRule
	Returning  ReturningMode
}

// clone copies the registration; nested configs are replaced, never
// mutated, so a shallow copy plus a fresh validator map is enough.
func (r *Registration) clone() *Registration {
	c := *r
	c.Validators = make(map[types.Action][]validation.Validator, len(r.Validators))
	for a, vs := range r.Validators {
		c.Validators[a] = append([]validation.Validator(nil), vs...)
	}
	return &c
}

type snapshot struct {
	byType map[reflect.Type]*Registration
	byName map[string]*Registration
}

// Store is the entity registry.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
	log  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes registration events to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&snapshot{
		byType: map[reflect.Type]*Registration{},
		byName: map[string]*Registration{},
	})
	return s
}

// Register adds shape under its name. Re-registering the same type under
// the same name is a no-op; any other overlap is a configuration error.
func (s *Store) Register(shape entity.Shape) error {
	if shape == nil {
		return types.Errorf(types.ErrInvalidConfig, "nil shape")
	}
	key := strings.ToLower(shape.Name())

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if old, ok := cur.byType[shape.TypeID()]; ok {
		if strings.EqualFold(old.Name, shape.Name()) {
			return nil
		}
		return types.Errorf(types.ErrInvalidConfig, "type %s already registered as %q", shape.TypeID(), old.Name)
	}
	if old, ok := cur.byName[key]; ok {
		return types.Errorf(types.ErrInvalidConfig, "entity name %q already registered for type %s", shape.Name(), old.TypeID)
	}

	reg := &Registration{
		Name:       shape.Name(),
		TypeID:     shape.TypeID(),
		Shape:      shape,
		Collection: defaultCollection(shape.Name()),
		Validators: map[types.Action][]validation.Validator{},
		Includes:   &IncludeNode{},
	}
	s.publish(cur, reg)
	s.log.Debug("entity registered", zap.String("entity", reg.Name), zap.String("type", reg.TypeID.String()))
	return nil
}

// Register builds schema and registers the resulting shape.
func Register[T any](s *Store, schema *entity.Schema[T]) (entity.Shape, error) {
	shape, err := schema.Build()
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidConfig, "%v", err)
	}
	if err := s.Register(shape); err != nil {
		return nil, err
	}
	return shape, nil
}

func defaultCollection(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// publish installs reg in a copy of cur. Caller holds s.mu.
func (s *Store) publish(cur *snapshot, reg *Registration) {
	next := &snapshot{
		byType: make(map[reflect.Type]*Registration, len(cur.byType)+1),
		byName: make(map[string]*Registration, len(cur.byName)+1),
	}
	for k, v := range cur.byType {
		next.byType[k] = v
	}
	for k, v := range cur.byName {
		next.byName[k] = v
	}
	next.byType[reg.TypeID] = reg
	next.byName[strings.ToLower(reg.Name)] = reg
	s.snap.Store(next)
}

// update runs fn on a clone of the named registration and publishes it
// when fn succeeds. Nothing is published on error.
func (s *Store) update(name string, what string, fn func(cur *snapshot, r *Registration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	reg, ok := cur.byName[strings.ToLower(name)]
	if !ok {
		return types.Errorf(types.ErrEntityNotRegistered, "entity %q is not registered", name)
	}
	next := reg.clone()
	if err := fn(cur, next); err != nil {
		return err
	}
	s.publish(cur, next)
	s.log.Debug("entity configured", zap.String("entity", next.Name), zap.String("setting", what))
	return nil
}

// SetStorage binds the entity to a storage collection name.
func (s *Store) SetStorage(name, collection string) error {
	if !collectionPattern.MatchString(collection) {
		return types.Errorf(types.ErrInvalidConfig, "collection %q must match %s", collection, collectionPattern)
	}
	return s.update(name, "storage", func(_ *snapshot, r *Registration) error {
		r.Collection = collection
		return nil
	})
}

// SetPolicy validates and freezes p for the entity.
func (s *Store) SetPolicy(name string, p *policy.Policy) error {
	return s.update(name, "policy", func(_ *snapshot, r *Registration) error {
		if p == nil {
			r.Policy = nil
			return nil
		}
		if err := p.Validate(r.Shape); err != nil {
			return err
		}
		r.Policy = p.Clone()
		return nil
	})
}

// AddValidator appends v for action. Validators are kept sorted by name so
// the order of AddValidator calls does not matter; a name may be used once
// per action.
func (s *Store) AddValidator(name string, action types.Action, v validation.Validator) error {
	if v == nil || v.Name() == "" {
		return types.Errorf(types.ErrInvalidConfig, "validator must be non-nil and named")
	}
	if action != types.ActionCreate && action != types.ActionUpdate {
		return types.Errorf(types.ErrInvalidConfig, "validator %q: only create and update run validators", v.Name())
	}
	return s.update(name, "validator", func(_ *snapshot, r *Registration) error {
		var bad []string
		for _, f := range validation.Fields(v) {
			if _, ok := r.Shape.Field(f); !ok {
				bad = append(bad, f)
			}
		}
		if len(bad) > 0 {
			return types.FieldError(types.ErrInvalidConfig, fmt.Sprintf("validator %q references unknown fields", v.Name()), bad...)
		}
		list := r.Validators[action]
		for _, existing := range list {
			if existing.Name() == v.Name() {
				return types.Errorf(types.ErrInvalidConfig, "validator %q already registered for %s on %s", v.Name(), action, r.Name)
			}
		}
		list = append(list, v)
		sort.SliceStable(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
		r.Validators[action] = list
		return nil
	})
}

// AddInclude permits traversal of the dotted relation path. roles restricts
// the final segment; nil leaves it open and an empty non-nil set closes it.
// Segments are checked against relations as far as related entities are
// registered; Check verifies the rest once registration is complete.
func (s *Store) AddInclude(name, path string, roles types.RoleSet) error {
	segs, err := SplitPath(path)
	if err != nil {
		return types.Errorf(types.ErrInvalidConfig, "%v", err)
	}
	return s.update(name, "include", func(cur *snapshot, r *Registration) error {
		if err := checkPath(cur, r.Shape, segs, false); err != nil {
			return err
		}
		r.Includes = MergeIncludes(r.Includes, pathTree(segs, roles))
		return nil
	})
}

// checkPath walks segs through relations. When strict, every relation
// target must be registered.
func checkPath(cur *snapshot, shape entity.Shape, segs []string, strict bool) error {
	for i, seg := range segs {
		rel, ok := shape.Relation(seg)
		if !ok {
			return types.Errorf(types.ErrInvalidConfig, "include %q: %s has no relation %q",
				strings.Join(segs[:i+1], "."), shape.Name(), seg)
		}
		target, ok := cur.byName[strings.ToLower(rel.Target)]
		if !ok {
			if strict {
				return types.Errorf(types.ErrInvalidConfig, "include %q: relation target %q is not registered",
					strings.Join(segs[:i+1], "."), rel.Target)
			}
			return nil
		}
		if _, ok := target.Shape.Field(rel.ForeignField); !ok {
			return types.Errorf(types.ErrInvalidConfig, "include %q: %s has no field %q",
				strings.Join(segs[:i+1], "."), target.Name, rel.ForeignField)
		}
		shape = target.Shape
	}
	return nil
}

// SetPagination sets paging bounds.
func (s *Store) SetPagination(name string, cfg *query.PaginationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.update(name, "pagination", func(_ *snapshot, r *Registration) error {
		if cfg == nil {
			r.Pagination = nil
			return nil
		}
		c := *cfg
		r.Pagination = &c
		return nil
	})
}

// SetOrdering sets the ordering allow-list and default.
func (s *Store) SetOrdering(name string, cfg *query.OrderingConfig) error {
	return s.update(name, "ordering", func(_ *snapshot, r *Registration) error {
		if err := cfg.Validate(r.Shape); err != nil {
			return err
		}
		if cfg == nil {
			r.Ordering = nil
			return nil
		}
		c := &query.OrderingConfig{Default: append([]query.OrderTerm(nil), cfg.Default...)}
		if cfg.Allowed != nil {
			c.Allowed = append([]string{}, cfg.Allowed...)
		}
		r.Ordering = c
		return nil
	})
}

// SetIndexes sets the unique indexes.
func (s *Store) SetIndexes(name string, cfg *IndexConfig) error {
	return s.update(name, "indexes", func(_ *snapshot, r *Registration) error {
		if err := cfg.validate(r.Shape); err != nil {
			return err
		}
		if cfg == nil {
			r.Indexes = nil
			return nil
		}
		c := &IndexConfig{}
		for _, idx := range cfg.Unique {
			c.Unique = append(c.Unique, UniqueIndex{Name: idx.Name, Fields: append([]string(nil), idx.Fields...)})
		}
		sort.Slice(c.Unique, func(i, j int) bool { return c.Unique[i].Name < c.Unique[j].Name })
		r.Indexes = c
		return nil
	})
}

// SetSoftDelete turns deletes into flag updates.
func (s *Store) SetSoftDelete(name string, rule *SoftDeleteRule) error {
	return s.update(name, "soft delete", func(_ *snapshot, r *Registration) error {
		if err := rule.validate(r.Shape); err != nil {
			return err
		}
		if rule == nil {
			r.SoftDelete = nil
			return nil
		}
		c := *rule
		r.SoftDelete = &c
		return nil
	})
}

// SetUpdateReturning selects what update responds with.
func (s *Store) SetUpdateReturning(name string, mode ReturningMode) error {
	return s.update(name, "update returning", func(_ *snapshot, r *Registration) error {
		r.Returning = mode
		return nil
	})
}

// Check verifies cross-entity references once every entity is registered:
// relation targets must exist and include paths must resolve end to end.
func (s *Store) Check() error {
	cur := s.snap.Load()
	for _, reg := range sortedRegs(cur) {
		for _, rel := range reg.Shape.Relations() {
			if _, ok := cur.byName[strings.ToLower(rel.Target)]; !ok {
				return types.Errorf(types.ErrInvalidConfig, "%s.%s: relation target %q is not registered", reg.Name, rel.Name, rel.Target)
			}
		}
		for _, rule := range reg.Includes.Flatten() {
			if err := checkPath(cur, reg.Shape, strings.Split(rule.Path, "."), true); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resolve returns the registration for name, case-insensitively.
func (s *Store) Resolve(name string) (*Registration, error) {
	reg, ok := s.snap.Load().byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, types.Errorf(types.ErrEntityNotRegistered, "entity %q is not registered", name)
	}
	return reg, nil
}

// ResolveByType returns the registration for t. Pointer types resolve to
// their element type.
func (s *Store) ResolveByType(t reflect.Type) (*Registration, error) {
	if t == nil {
		return nil, types.Errorf(types.ErrEntityNotRegistered, "nil type")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	reg, ok := s.snap.Load().byType[t]
	if !ok {
		return nil, types.Errorf(types.ErrEntityNotRegistered, "type %s is not registered", t)
	}
	return reg, nil
}

// All returns every registration sorted by name.
func (s *Store) All() []*Registration {
	return sortedRegs(s.snap.Load())
}

func sortedRegs(snap *snapshot) []*Registration {
	out := make([]*Registration, 0, len(snap.byName))
	for _, r := range snap.byName {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
