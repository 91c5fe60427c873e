package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/include"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

func body(t *testing.T, s string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return m
}

func TestDecodeRead(t *testing.T) {
	req, err := DecodeRead(body(t, `{
		"entity": " Order ",
		"filter": {"field": "total", "op": "gt", "value": 10},
		"select": ["id", {"lines": ["sku"]}],
		"orderBy": "total:desc",
		"page": 2,
		"pageSize": "25",
		"includeCount": true
	}`))
	if err != nil {
		t.Fatalf("DecodeRead() error = %v", err)
	}

	if req.Entity != "Order" {
		t.Errorf("Entity = %q, want Order", req.Entity)
	}
	if req.Filter == nil {
		t.Error("Filter = nil, want a node")
	}
	wantSel := &include.Selection{
		Fields:    []string{"id"},
		Relations: map[string]*include.Selection{"lines": {Fields: []string{"sku"}}},
	}
	if diff := cmp.Diff(wantSel, req.Select); diff != "" {
		t.Errorf("Select mismatch (-want +got):\n%s", diff)
	}
	if req.OrderBy != "total:desc" || *req.Page != 2 || *req.PageSize != 25 || !req.IncludeCount {
		t.Errorf("paging = %q %d %d %v", req.OrderBy, *req.Page, *req.PageSize, req.IncludeCount)
	}
}

func TestDecodeRead_FilterText(t *testing.T) {
	req, err := DecodeRead(map[string]any{"entity": "Order", "filter": "total gt 10"})
	if err != nil {
		t.Fatalf("DecodeRead() error = %v", err)
	}
	if req.Filter == nil {
		t.Error("Filter = nil, want a node")
	}
}

func TestDecodeCreate(t *testing.T) {
	req, err := DecodeCreate(body(t, `{"entity": "Customer", "input": {"name": "Ada"}, "returning": ["id", "name"]}`))
	if err != nil {
		t.Fatalf("DecodeCreate() error = %v", err)
	}
	want := CreateRequest{Entity: "Customer", Input: map[string]any{"name": "Ada"}, Returning: []string{"id", "name"}}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Errorf("DecodeCreate() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUpdate(t *testing.T) {
	tests := []struct {
		name string
		body string
		key  string
		cond bool
	}{
		{name: "key object", body: `{"entity": "Order", "key": {"id": "o-1"}, "update": {"total": 1}}`, key: "o-1"},
		{name: "key string", body: `{"entity": "Order", "key": "o-1", "update": {"total": 1}}`, key: "o-1"},
		{name: "condition", body: `{"entity": "Order", "condition": {"field": "total", "op": "eq", "value": 0}, "update": {"total": 1}}`, cond: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeUpdate(body(t, tt.body))
			if err != nil {
				t.Fatalf("DecodeUpdate() error = %v", err)
			}
			if req.Key != tt.key {
				t.Errorf("Key = %q, want %q", req.Key, tt.key)
			}
			if (req.Condition != nil) != tt.cond {
				t.Errorf("Condition = %v, want set=%v", req.Condition, tt.cond)
			}
		})
	}
}

func TestDecodeDelete(t *testing.T) {
	req, err := DecodeDelete(body(t, `{"entity": "Order", "key": {"id": "o-9"}}`))
	if err != nil {
		t.Fatalf("DecodeDelete() error = %v", err)
	}
	if req.Key != "o-9" {
		t.Errorf("Key = %q, want o-9", req.Key)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		decode func(map[string]any) error
		body   string
		fields []string
	}{
		{
			name:   "unknown request keys",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "fliter": {}, "limit": 3}`,
			fields: []string{"fliter", "limit"},
		},
		{
			name:   "missing entity",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "  "}`,
			fields: []string{"entity"},
		},
		{
			name:   "missing input",
			decode: func(b map[string]any) error { _, err := DecodeCreate(b); return err },
			body:   `{"entity": "Order"}`,
			fields: []string{"input"},
		},
		{
			name:   "input not an object",
			decode: func(b map[string]any) error { _, err := DecodeCreate(b); return err },
			body:   `{"entity": "Order", "input": [1]}`,
			fields: []string{"input"},
		},
		{
			name:   "returning with relations",
			decode: func(b map[string]any) error { _, err := DecodeCreate(b); return err },
			body:   `{"entity": "Order", "input": {}, "returning": [{"lines": ["sku"]}]}`,
			fields: []string{"returning"},
		},
		{
			name:   "fractional page",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "page": 1.5}`,
			fields: []string{"page"},
		},
		{
			name:   "page above int32 as a number",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "page": 4611686018427387905, "pageSize": 2}`,
			fields: []string{"page"},
		},
		{
			name:   "page above int32 as a string",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "page": "4611686018427387905"}`,
			fields: []string{"page"},
		},
		{
			name:   "pageSize above int32 as a float",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "pageSize": 3e9}`,
			fields: []string{"pageSize"},
		},
		{
			name:   "non boolean includeCount",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "includeCount": "often"}`,
			fields: []string{"includeCount"},
		},
		{
			name:   "orderBy not a string",
			decode: func(b map[string]any) error { _, err := DecodeRead(b); return err },
			body:   `{"entity": "Order", "orderBy": ["total"]}`,
			fields: []string{"orderBy"},
		},
		{
			name:   "delete without key",
			decode: func(b map[string]any) error { _, err := DecodeDelete(b); return err },
			body:   `{"entity": "Order"}`,
			fields: []string{"id"},
		},
		{
			name:   "delete with empty key id",
			decode: func(b map[string]any) error { _, err := DecodeDelete(b); return err },
			body:   `{"entity": "Order", "key": {"id": ""}}`,
			fields: []string{"id"},
		},
		{
			name:   "update without update",
			decode: func(b map[string]any) error { _, err := DecodeUpdate(b); return err },
			body:   `{"entity": "Order", "key": "o-1"}`,
			fields: []string{"update"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode(body(t, tt.body))
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if diff := cmp.Diff(tt.fields, types.Fields(err)); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_NilBody(t *testing.T) {
	if _, err := DecodeRead(nil); !errors.Is(err, types.ErrValidation) {
		t.Errorf("DecodeRead(nil) error = %v, want ErrValidation", err)
	}
}
