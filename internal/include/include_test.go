package include

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/registry"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// tree grants:
//
//	orders          open
//	orders.lines    clerk, admin
//	orders.customer nobody (empty set)
//	notes           admin
func tree() *registry.IncludeNode {
	return &registry.IncludeNode{Children: map[string]*registry.IncludeNode{
		"orders": {Segment: "orders", Children: map[string]*registry.IncludeNode{
			"lines":    {Segment: "lines", AllowedRoles: types.NewRoleSet("clerk", "admin")},
			"customer": {Segment: "customer", AllowedRoles: types.NewRoleSet()},
		}},
		"notes": {Segment: "notes", AllowedRoles: types.NewRoleSet("admin"), Children: map[string]*registry.IncludeNode{
			"author": {Segment: "author"},
		}},
	}}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		paths      []string
		roles      types.RoleSet
		want       []string
		wantDenied string
	}{
		{name: "nothing requested", paths: nil, roles: types.NewRoleSet("clerk"), want: []string{}},
		{name: "open segment", paths: []string{"orders"}, roles: nil, want: []string{"orders"}},
		{name: "restricted with role", paths: []string{"orders.lines", "orders"}, roles: types.NewRoleSet("CLERK"), want: []string{"orders", "orders.lines"}},
		{name: "restricted without role", paths: []string{"orders", "orders.lines"}, roles: types.NewRoleSet("viewer"), wantDenied: "orders.lines"},
		{name: "empty set admits nobody", paths: []string{"orders.customer"}, roles: types.NewRoleSet("admin"), wantDenied: "orders.customer"},
		{name: "unregistered path", paths: []string{"invoices"}, roles: types.NewRoleSet("admin"), wantDenied: "invoices"},
		{name: "unregistered child", paths: []string{"orders.payments"}, roles: types.NewRoleSet("admin"), wantDenied: "orders.payments"},
		{name: "restricted ancestor guards open child", paths: []string{"notes.author"}, roles: types.NewRoleSet("clerk"), wantDenied: "notes"},
		{name: "open child under granted ancestor", paths: []string{"notes.author"}, roles: types.NewRoleSet("admin"), want: []string{"notes.author"}},
		{name: "duplicates collapse", paths: []string{"orders", "orders"}, roles: nil, want: []string{"orders"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tree(), tt.paths, tt.roles)
			if tt.wantDenied != "" {
				if !errors.Is(err, types.ErrIncludeNotPermitted) {
					t.Fatalf("Resolve() error = %v, want ErrIncludeNotPermitted", err)
				}
				if diff := cmp.Diff([]string{tt.wantDenied}, types.Fields(err)); diff != "" {
					t.Errorf("denied path mismatch (-want +got):\n%s", diff)
				}
				if want := "include not permitted: " + tt.wantDenied; err.Error() != want {
					t.Errorf("Resolve() error = %q, want %q", err.Error(), want)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_NilTreeDeniesEverything(t *testing.T) {
	_, err := Resolve(nil, []string{"orders"}, types.NewRoleSet("admin"))
	if !errors.Is(err, types.ErrIncludeNotPermitted) {
		t.Errorf("Resolve(nil tree) error = %v, want ErrIncludeNotPermitted", err)
	}
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad fixture %s: %v", s, err)
	}
	return v
}

func TestParseSelect(t *testing.T) {
	sel, err := ParseSelect(decode(t, `["id", "name", "id", {"orders": ["total", {"lines": ["sku"]}]}, {"orders": ["id"]}, {"notes": []}]`))
	if err != nil {
		t.Fatalf("ParseSelect() error = %v", err)
	}

	if diff := cmp.Diff([]string{"id", "name"}, sel.Fields); diff != "" {
		t.Errorf("Fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"total", "id"}, sel.Relations["orders"].Fields); diff != "" {
		t.Errorf("orders fields mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"notes", "orders", "orders.lines"}, Paths(sel)); diff != "" {
		t.Errorf("Paths() mismatch (-want +got):\n%s", diff)
	}
	if !sel.Relations["notes"].Empty() {
		t.Errorf("notes selection should be empty")
	}
}

func TestParseSelect_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not an array", raw: `"id"`},
		{name: "empty field", raw: `["  "]`},
		{name: "number item", raw: `[1]`},
		{name: "two keys", raw: `[{"orders": [], "notes": []}]`},
		{name: "dotted relation", raw: `[{"orders.lines": []}]`},
		{name: "relation value not array", raw: `[{"orders": "id"}]`},
		{name: "too deep", raw: nested(MaxDepth + 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSelect(decode(t, tt.raw)); !errors.Is(err, types.ErrValidation) {
				t.Errorf("ParseSelect(%s) error = %v, want ErrValidation", tt.raw, err)
			}
		})
	}
}

// nested opens levels relations, one inside the other.
func nested(levels int) string {
	raw := `["id"]`
	for i := levels; i > 0; i-- {
		raw = fmt.Sprintf(`["id", {"r%d": %s}]`, i, raw)
	}
	return raw
}

func TestParseSelect_Depth(t *testing.T) {
	sel, err := ParseSelect(decode(t, nested(MaxDepth)))
	if err != nil {
		t.Fatalf("ParseSelect(%d levels) error = %v", MaxDepth, err)
	}
	if got := len(Paths(sel)); got != MaxDepth {
		t.Errorf("Paths() has %d entries, want %d", got, MaxDepth)
	}

	_, err = ParseSelect(decode(t, nested(MaxDepth+1)))
	if !errors.Is(err, types.ErrValidation) {
		t.Fatalf("ParseSelect(%d levels) error = %v, want ErrValidation", MaxDepth+1, err)
	}
	if !strings.Contains(err.Error(), "nesting deeper than") {
		t.Errorf("error = %q, want the depth limit", err.Error())
	}
}

func TestParseSelect_Nil(t *testing.T) {
	sel, err := ParseSelect(nil)
	if err != nil || sel != nil {
		t.Errorf("ParseSelect(nil) = %v, %v, want nil, nil", sel, err)
	}
	if Paths(sel) != nil {
		t.Errorf("Paths(nil) should be nil")
	}
}
