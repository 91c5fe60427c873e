package engine

import (
	"context"
	"slices"
	"sort"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/entity"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/include"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/policy"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/storage"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Read lists the records of an entity visible to caller.
//
// Selected relations are loaded one query per relation per level, filtered
// by the target entity's row filters and masked by its read projection.
func (e *Engine) Read(ctx context.Context, caller types.Caller, req ReadRequest) (*ReadResult, error) {
	const action = types.ActionRead

	t, err := e.resolve(req.Entity)
	if err != nil {
		return nil, err
	}
	if err := authorize(t.reg, caller, action); err != nil {
		return nil, err
	}
	decision := projection(t.reg, caller.Roles, action)
	row, err := rowFilter(t.reg, caller, action)
	if err != nil {
		return nil, e.fail(action, t.reg, err)
	}
	shape := t.reg.Shape
	sel := req.Select

	if sel != nil {
		if bad := unknownFields(shape, sel.Fields, ""); len(bad) > 0 {
			return nil, types.FieldError(types.ErrValidation, "unknown select field", bad...)
		}
	}
	filter, err := query.Compile(req.Filter, shape)
	if err != nil {
		return nil, err
	}
	if err := readable(decision, query.Fields(req.Filter), "filter"); err != nil {
		return nil, err
	}
	if _, err := include.Resolve(t.reg.Includes, include.Paths(sel), caller.Roles); err != nil {
		return nil, err
	}
	if err := e.checkNested(shape, sel, ""); err != nil {
		return nil, err
	}
	order, err := query.ResolveOrder(req.OrderBy, shape, t.reg.Ordering)
	if err != nil {
		return nil, err
	}
	if req.OrderBy != "" {
		if err := readable(decision, order.Fields(), "order by"); err != nil {
			return nil, err
		}
	}
	page, err := query.ResolvePage(req.Page, req.PageSize, req.IncludeCount, e.pagingFor(t.reg))
	if err != nil {
		return nil, err
	}

	where := query.AllPredicates(filter, row, live(t.reg))
	q := storage.Query{Where: where, Order: order.Compare(shape)}
	if page != nil {
		q.Offset = page.Offset()
		q.Limit = page.PageSize + 1
	}
	recs, err := e.store.Find(ctx, t.coll, q)
	if err != nil {
		return nil, e.fail(action, t.reg, err)
	}

	res := &ReadResult{}
	if page != nil {
		more := len(recs) > page.PageSize
		if more {
			recs = recs[:page.PageSize]
		}
		res.Pagination = &Pagination{
			Page:            page.Page,
			PageSize:        page.PageSize,
			HasNextPage:     more,
			HasPreviousPage: page.Page > 1,
		}
		if page.IncludeCount {
			total, err := e.store.Count(ctx, t.coll, where)
			if err != nil {
				return nil, e.fail(action, t.reg, err)
			}
			pages := query.TotalPages(total, page.PageSize)
			res.Pagination.TotalRecords = &total
			res.Pagination.TotalPages = &pages
		}
	}

	if res.Data, err = e.render(ctx, caller, t.reg, decision, recs, sel); err != nil {
		return nil, e.fail(action, t.reg, err)
	}
	return res, nil
}

// readable rejects filtering or ordering on fields a restricted projection
// masks, since either would reveal the masked values.
func readable(d policy.Decision, fields []string, use string) error {
	if d.Kind != policy.Restricted {
		return nil
	}
	var denied []string
	for _, f := range fields {
		if !d.Allows(f) && !slices.Contains(denied, f) {
			denied = append(denied, f)
		}
	}
	if len(denied) == 0 {
		return nil
	}
	sort.Strings(denied)
	return types.FieldError(types.ErrForbidden, "cannot "+use+" fields hidden from the caller's roles", denied...)
}

// checkNested validates the fields selected inside relations. Field names
// in errors are qualified by their relation path.
func (e *Engine) checkNested(shape entity.Shape, sel *include.Selection, prefix string) error {
	for _, name := range sel.RelationNames() {
		path := join(prefix, name)
		rel, ok := shape.Relation(name)
		if !ok {
			return types.FieldError(types.ErrValidation, "unknown relation", path)
		}
		target, err := e.registry.Resolve(rel.Target)
		if err != nil {
			return err
		}
		sub := sel.Relations[name]
		if sub == nil {
			continue
		}
		if bad := unknownFields(target.Shape, sub.Fields, path+"."); len(bad) > 0 {
			return types.FieldError(types.ErrValidation, "unknown select field", bad...)
		}
		if err := e.checkNested(target.Shape, sub, path); err != nil {
			return err
		}
	}
	return nil
}

// render converts recs to masked maps and attaches the selected relations.
// Relation keys are added after masking so a restricted projection on the
// parent never hides them.
func (e *Engine) render(ctx context.Context, caller types.Caller, reg *registry.Registration, decision policy.Decision, recs []any, sel *include.Selection) ([]map[string]any, error) {
	shape := reg.Shape
	var fields []string
	if sel != nil {
		fields = sel.Fields
	}

	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		out[i] = decision.Apply(pick(shape.ToMap(rec), fields))
	}

	for _, name := range sel.RelationNames() {
		rel, _ := shape.Relation(name)
		related, err := e.loadRelated(ctx, caller, rel, recs, shape, sel.Relations[name])
		if err != nil {
			return nil, err
		}
		for i, rec := range recs {
			v, _ := shape.Get(rec, rel.LocalField)
			var children []map[string]any
			if v != nil {
				children = related[valueKey(v)]
			}
			switch {
			case rel.Many && children == nil:
				out[i][name] = []map[string]any{}
			case rel.Many:
				out[i][name] = children
			case len(children) > 0:
				out[i][name] = children[0]
			default:
				out[i][name] = nil
			}
		}
	}
	return out, nil
}

// loadRelated fetches the targets of rel for every parent in one query and
// groups the rendered children by their foreign field value.
func (e *Engine) loadRelated(ctx context.Context, caller types.Caller, rel entity.Relation, parents []any, parentShape entity.Shape, sel *include.Selection) (map[string][]map[string]any, error) {
	keys := map[string]bool{}
	for _, p := range parents {
		if v, _ := parentShape.Get(p, rel.LocalField); v != nil {
			keys[valueKey(v)] = true
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	reg, err := e.registry.Resolve(rel.Target)
	if err != nil {
		return nil, err
	}
	shape := reg.Shape
	row, err := rowFilter(reg, caller, types.ActionRead)
	if err != nil {
		return nil, err
	}
	order, err := query.ResolveOrder("", shape, reg.Ordering)
	if err != nil {
		return nil, err
	}
	match := func(rec any) bool {
		v, _ := shape.Get(rec, rel.ForeignField)
		return v != nil && keys[valueKey(v)]
	}

	recs, err := e.store.Find(ctx, collection(reg), storage.Query{
		Where: query.AllPredicates(match, row, live(reg)),
		Order: order.Compare(shape),
	})
	if err != nil {
		return nil, err
	}
	rendered, err := e.render(ctx, caller, reg, projection(reg, caller.Roles, types.ActionRead), recs, sel)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]map[string]any, len(keys))
	for i, rec := range recs {
		v, _ := shape.Get(rec, rel.ForeignField)
		k := valueKey(v)
		grouped[k] = append(grouped[k], rendered[i])
	}
	return grouped, nil
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}
