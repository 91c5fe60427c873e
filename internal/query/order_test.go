package query

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

func TestResolveOrder(t *testing.T) {
	cfg := &OrderingConfig{
		Allowed: []string{"name", "qty", "price"},
		Default: []OrderTerm{{Field: "name", Direction: Asc}},
	}

	tests := []struct {
		name string
		raw  string
		cfg  *OrderingConfig
		want []OrderTerm
	}{
		{name: "empty uses default", raw: "", cfg: cfg, want: []OrderTerm{{Field: "name"}}},
		{name: "empty without config is storage order", raw: " ", cfg: nil, want: nil},
		{name: "direction parsed", raw: "qty:desc, name", cfg: cfg, want: []OrderTerm{{Field: "qty", Direction: Desc}, {Field: "name"}}},
		{name: "direction case-insensitive", raw: "price:ASC", cfg: cfg, want: []OrderTerm{{Field: "price"}}},
		{name: "no allow-list permits any field", raw: "listed:desc", cfg: nil, want: []OrderTerm{{Field: "listed", Direction: Desc}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveOrder(tt.raw, itemShape, tt.cfg)
			if err != nil {
				t.Fatalf("ResolveOrder() error = %v, want nil", err)
			}
			if diff := cmp.Diff(tt.want, got.Terms); diff != "" {
				t.Errorf("ResolveOrder() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveOrder_Errors(t *testing.T) {
	cfg := &OrderingConfig{Allowed: []string{"name", "qty"}}

	tests := []struct {
		name      string
		raw       string
		wantMsg   string
		wantField string
	}{
		{name: "unknown direction", raw: "qty:sideways", wantMsg: `invalid sort direction "sideways" for field qty`, wantField: "qty"},
		{name: "unlisted field", raw: "price", wantMsg: "ordering not allowed on field: price", wantField: "price"},
		{name: "unknown field", raw: "colour", wantMsg: "unknown order field: colour", wantField: "colour"},
		{name: "computed field", raw: "total", wantField: "total"},
		{name: "duplicate", raw: "qty, qty:desc", wantMsg: "duplicate order field", wantField: "qty"},
		{name: "empty term", raw: "qty,,name", wantMsg: "empty term"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveOrder(tt.raw, itemShape, cfg)
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("ResolveOrder() error = %v, want ErrValidation", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("ResolveOrder() error = %v, want containing %q", err, tt.wantMsg)
			}
			if tt.wantField != "" {
				if diff := cmp.Diff([]string{tt.wantField}, types.Fields(err)); diff != "" {
					t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestOrderingConfig_Validate(t *testing.T) {
	good := &OrderingConfig{Allowed: []string{"name"}, Default: []OrderTerm{{Field: "name"}}}
	if err := good.Validate(itemShape); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}

	bad := &OrderingConfig{Allowed: []string{"name", "nope"}, Default: []OrderTerm{{Field: "qty"}}}
	err := bad.Validate(itemShape)
	if !errors.Is(err, types.ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if diff := cmp.Diff([]string{"nope", "qty"}, types.Fields(err)); diff != "" {
		t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
	}
}

func TestOrder_Compare(t *testing.T) {
	recs := []any{
		&item{ID: "a", Name: "b", Qty: 1},
		&item{ID: "b", Name: "a", Qty: 2},
		&item{ID: "c", Name: "a", Qty: 3},
	}

	order, err := ResolveOrder("name, qty:desc", itemShape, nil)
	if err != nil {
		t.Fatalf("ResolveOrder() error = %v", err)
	}
	slices.SortStableFunc(recs, order.Compare(itemShape))

	var got []string
	for _, r := range recs {
		got = append(got, r.(*item).ID)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, got); diff != "" {
		t.Errorf("sorted ids mismatch (-want +got):\n%s", diff)
	}

	if (Order{}).Compare(itemShape) != nil {
		t.Errorf("empty Order.Compare() = non-nil, want nil")
	}
}
