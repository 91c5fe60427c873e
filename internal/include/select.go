// Package include parses caller selections and checks the relation paths
// they request against an entity's include-permission tree.
package include

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

/*
 * Selection parsing.
 *
 * A select list mixes plain field names with single-key objects that open a
 * relation:
 *
 *   ["id", "name", {"orders": ["id", "total", {"lines": ["sku"]}]}]
 *
 * The parsed Selection keeps fields in request order (duplicates dropped)
 * and relations keyed by name. Repeating a relation merges its selections.
 * Nesting is capped at MaxDepth relation levels.
 */

// MaxDepth bounds how many relation levels one selection may open.
const MaxDepth = 8

// Selection is a parsed select list for one entity.
type Selection struct {
	Fields    []string
	Relations map[string]*Selection
}

// Empty reports whether nothing was selected.
func (s *Selection) Empty() bool {
	return s == nil || (len(s.Fields) == 0 && len(s.Relations) == 0)
}

// RelationNames returns the selected relation names in lexical order.
func (s *Selection) RelationNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Relations))
	for name := range s.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseSelect parses the raw decoded JSON select value. A nil value
// yields a nil Selection.
func ParseSelect(raw any) (*Selection, error) {
	if raw == nil {
		return nil, nil
	}
	return parseList(raw, "", 0)
}

func parseList(raw any, at string, depth int) (*Selection, error) {
	if depth > MaxDepth {
		return nil, types.Errorf(types.ErrValidation, "select nesting deeper than %d at %q", MaxDepth, at)
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			items = make([]any, len(strs))
			for i, s := range strs {
				items[i] = s
			}
		} else {
			return nil, types.Errorf(types.ErrValidation, "select%s must be an array", where(at))
		}
	}

	sel := &Selection{}
	seen := map[string]bool{}
	for _, item := range items {
		switch v := item.(type) {
		case string:
			name := strings.TrimSpace(v)
			if name == "" {
				return nil, types.Errorf(types.ErrValidation, "select%s contains an empty field name", where(at))
			}
			if !seen[name] {
				seen[name] = true
				sel.Fields = append(sel.Fields, name)
			}
		case map[string]any:
			if len(v) != 1 {
				return nil, types.Errorf(types.ErrValidation, "select%s: relation objects must have exactly one key", where(at))
			}
			for rel, sub := range v {
				path := join(at, rel)
				if strings.TrimSpace(rel) == "" || rel != strings.TrimSpace(rel) || strings.Contains(rel, ".") {
					return nil, types.Errorf(types.ErrValidation, "select: invalid relation name %q", path)
				}
				child, err := parseList(sub, path, depth+1)
				if err != nil {
					return nil, err
				}
				if sel.Relations == nil {
					sel.Relations = map[string]*Selection{}
				}
				sel.Relations[rel] = merge(sel.Relations[rel], child)
			}
		default:
			return nil, types.Errorf(types.ErrValidation, "select%s: expected field name or relation object, got %T", where(at), item)
		}
	}
	return sel, nil
}

func merge(a, b *Selection) *Selection {
	if a == nil {
		return b
	}
	seen := make(map[string]bool, len(a.Fields))
	for _, f := range a.Fields {
		seen[f] = true
	}
	for _, f := range b.Fields {
		if !seen[f] {
			seen[f] = true
			a.Fields = append(a.Fields, f)
		}
	}
	for rel, sub := range b.Relations {
		if a.Relations == nil {
			a.Relations = map[string]*Selection{}
		}
		a.Relations[rel] = merge(a.Relations[rel], sub)
	}
	return a
}

// Paths flattens the relations of sel into dotted paths, parents before
// children, sorted within each level.
func Paths(sel *Selection) []string {
	var out []string
	var walk func(s *Selection, prefix string)
	walk = func(s *Selection, prefix string) {
		for _, rel := range s.RelationNames() {
			path := join(prefix, rel)
			out = append(out, path)
			walk(s.Relations[rel], path)
		}
	}
	walk(sel, "")
	return out
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

func where(at string) string {
	if at == "" {
		return ""
	}
	return fmt.Sprintf(" of %q", at)
}
