// Package engine executes create, read, update and delete requests against
// registered entities.
//
// Every operation runs the same pipeline over a registry snapshot and stops
// at the first failure: resolve the entity, authorize the action, resolve
// the field projection and row filters, validate the payload, compile the
// filter and includes, resolve ordering and paging, touch storage, then
// mask the result. Storage is only written after every check has passed.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Engine is safe for concurrent use. It holds no per-request state.
type Engine struct {
	registry   *registry.Store
	store      storage.Store
	log        *zap.Logger
	pagination query.PaginationConfig
	now        func() time.Time
	newID      func() string

	// unique serializes the unique index check with the write that follows
	// it, per entity.
	unique sync.Map // entity name -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger routes internal failures to l.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithPagination sets the page sizes used when an entity configures none.
// Entity settings override each size individually.
func WithPagination(cfg query.PaginationConfig) Option {
	return func(e *Engine) { e.pagination = cfg }
}

// WithClock replaces time.Now for soft-delete timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the key generator used when create omits a key.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New creates an Engine over reg and store.
func New(reg *registry.Store, store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		store:    store,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    types.NewRecordID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine reads from.
func (e *Engine) Registry() *registry.Store {
	return e.registry
}

// target is what every operation resolves first.
type target struct {
	reg  *registry.Registration
	coll storage.Collection
}

func (e *Engine) resolve(name string) (*target, error) {
	reg, err := e.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return &target{reg: reg, coll: collection(reg)}, nil
}

func collection(reg *registry.Registration) storage.Collection {
	return storage.Collection{Name: reg.Collection, Shape: reg.Shape}
}

// authorize admits everyone when the entity has no policy.
func authorize(reg *registry.Registration, caller types.Caller, action types.Action) error {
	if reg.Policy == nil || reg.Policy.Authorize(caller.Roles, action) {
		return nil
	}
	if caller.Anonymous() {
		return types.Errorf(types.ErrUnauthenticated, "authentication required to %s %s", action, reg.Name)
	}
	return types.Errorf(types.ErrForbidden, "%s on %s is not permitted for the caller's roles", action, reg.Name)
}

// projection resolves field visibility. A caller that passed authorize but
// matches no assignment sees every field.
func projection(reg *registry.Registration, roles types.RoleSet, action types.Action) policy.Decision {
	if reg.Policy == nil {
		return policy.Decision{Kind: policy.Unrestricted}
	}
	d := reg.Policy.ResolveProjection(roles, action)
	if d.Kind == policy.Denied {
		d.Kind = policy.Unrestricted
	}
	return d
}

// rowFilter compiles the row filters that apply to caller. They are built
// by the entity's configuration, so a compile failure is a server defect,
// not a caller mistake.
func rowFilter(reg *registry.Registration, caller types.Caller, action types.Action) (query.Predicate, error) {
	if reg.Policy == nil {
		return nil, nil
	}
	var preds []query.Predicate
	for _, n := range reg.Policy.RowFilters(caller, action) {
		p, err := query.Compile(n, reg.Shape)
		if err != nil {
			return nil, fmt.Errorf("row filter for %s on %s does not compile: %v", action, reg.Name, err)
		}
		preds = append(preds, p)
	}
	return query.AllPredicates(preds...), nil
}

// live hides soft-deleted records.
func live(reg *registry.Registration) query.Predicate {
	rule := reg.SoftDelete
	if rule == nil {
		return nil
	}
	shape := reg.Shape
	return func(rec any) bool {
		v, _ := shape.Get(rec, rule.FlagField)
		deleted, _ := v.(bool)
		return !deleted
	}
}

// pagingFor merges the engine defaults with the entity's own settings.
func (e *Engine) pagingFor(reg *registry.Registration) *query.PaginationConfig {
	cfg := e.pagination
	if reg.Pagination != nil {
		if reg.Pagination.DefaultPageSize > 0 {
			cfg.DefaultPageSize = reg.Pagination.DefaultPageSize
		}
		if reg.Pagination.MaxPageSize > 0 {
			cfg.MaxPageSize = reg.Pagination.MaxPageSize
		}
	}
	if cfg.MaxPageSize > 0 && cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}
	return &cfg
}

// fail passes taxonomy errors through and logs everything else as an
// internal failure.
func (e *Engine) fail(action types.Action, reg *registry.Registration, err error) error {
	if err == nil || types.Known(err) {
		return err
	}
	e.log.Error("request failed",
		zap.String("action", action.String()),
		zap.String("entity", reg.Name),
		zap.Error(err))
	return fmt.Errorf("%s %s: %w", action, reg.Name, err)
}
