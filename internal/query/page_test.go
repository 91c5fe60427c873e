package query

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

func intp(v int) *int { return &v }

func TestResolvePage(t *testing.T) {
	cfg := &PaginationConfig{DefaultPageSize: 10, MaxPageSize: 50}

	tests := []struct {
		name         string
		page         *int
		pageSize     *int
		includeCount bool
		cfg          *PaginationConfig
		want         *Page
	}{
		{name: "nothing requested, no default", want: nil},
		{name: "nothing requested, default applies", cfg: cfg, want: &Page{Page: 1, PageSize: 10}},
		{name: "page only uses default size", page: intp(3), cfg: cfg, want: &Page{Page: 3, PageSize: 10}},
		{name: "page only without default", page: intp(2), want: &Page{Page: 2, PageSize: FallbackPageSize}},
		{name: "fallback capped by max", page: intp(1), cfg: &PaginationConfig{MaxPageSize: 5}, want: &Page{Page: 1, PageSize: 5}},
		{name: "size only starts at page 1", pageSize: intp(7), cfg: cfg, want: &Page{Page: 1, PageSize: 7}},
		{name: "size at max", pageSize: intp(50), cfg: cfg, includeCount: true, want: &Page{Page: 1, PageSize: 50, IncludeCount: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePage(tt.page, tt.pageSize, tt.includeCount, tt.cfg)
			if err != nil {
				t.Fatalf("ResolvePage() error = %v, want nil", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolvePage() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolvePage_Errors(t *testing.T) {
	cfg := &PaginationConfig{MaxPageSize: 100}

	tests := []struct {
		name      string
		page      *int
		pageSize  *int
		wantMsg   string
		wantField string
	}{
		{name: "page zero", page: intp(0), wantMsg: "page must be greater than or equal to 1", wantField: "page"},
		{name: "page negative", page: intp(-1), wantMsg: "page must be greater than or equal to 1", wantField: "page"},
		{name: "pageSize zero", pageSize: intp(0), wantMsg: "pageSize must be greater than or equal to 1", wantField: "pageSize"},
		{name: "pageSize negative", pageSize: intp(-5), wantMsg: "pageSize must be greater than or equal to 1", wantField: "pageSize"},
		{name: "pageSize above max", pageSize: intp(101), wantMsg: "pageSize must not exceed 100", wantField: "pageSize"},
		{name: "offset overflows", page: intp(math.MaxInt / 2), pageSize: intp(100), wantMsg: "page is out of range", wantField: "page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolvePage(tt.page, tt.pageSize, false, cfg)
			if !errors.Is(err, types.ErrValidation) {
				t.Fatalf("ResolvePage() error = %v, want ErrValidation", err)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("ResolvePage() error = %q, want %q", err.Error(), tt.wantMsg)
			}
			if diff := cmp.Diff([]string{tt.wantField}, types.Fields(err)); diff != "" {
				t.Errorf("Fields() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPaginationConfig_Validate(t *testing.T) {
	if err := (&PaginationConfig{DefaultPageSize: 200, MaxPageSize: 100}).Validate(); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
	}
	if err := (*PaginationConfig)(nil).Validate(); err != nil {
		t.Errorf("nil Validate() error = %v, want nil", err)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		total, size, want int
	}{
		{total: 0, size: 10, want: 0},
		{total: 1, size: 10, want: 1},
		{total: 10, size: 10, want: 1},
		{total: 11, size: 10, want: 2},
		{total: 7, size: 3, want: 3},
		{total: 5, size: 0, want: 0},
	}
	for _, tt := range tests {
		if got := TotalPages(tt.total, tt.size); got != tt.want {
			t.Errorf("TotalPages(%d, %d) = %d, want %d", tt.total, tt.size, got, tt.want)
		}
	}
}

// Property-based test: totalPages is the smallest page count covering total.
func TestTotalPages_PropertyCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("pages*size covers total and pages-1 does not", prop.ForAll(
		func(total, size int) bool {
			pages := TotalPages(total, size)
			if total == 0 {
				return pages == 0
			}
			return pages*size >= total && (pages-1)*size < total
		},
		gen.IntRange(0, 100000),
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}
