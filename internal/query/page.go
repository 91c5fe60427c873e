package query

import (
	"fmt"
	"math"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// FallbackPageSize applies when a page is requested without a size and no
// default is configured.
const FallbackPageSize = 20

// PaginationConfig bounds paging for an entity. Zero values mean "not set".
type PaginationConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Validate checks the configuration at registration time.
func (c *PaginationConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.DefaultPageSize < 0 || c.MaxPageSize < 0 {
		return types.Errorf(types.ErrInvalidConfig, "pagination sizes must not be negative")
	}
	if c.MaxPageSize > 0 && c.DefaultPageSize > c.MaxPageSize {
		return types.Errorf(types.ErrInvalidConfig, "default page size %d exceeds maximum %d", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

// Page is a resolved paging instruction.
type Page struct {
	Page         int
	PageSize     int
	IncludeCount bool
}

// Offset is the number of records skipped before this page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// ResolvePage validates the requested page parameters. It returns nil when
// nothing was requested and no default page size is configured, meaning
// all matching records are returned without pagination metadata.
func ResolvePage(page, pageSize *int, includeCount bool, cfg *PaginationConfig) (*Page, error) {
	if page != nil && *page < 1 {
		return nil, fieldMessage("page must be greater than or equal to 1", "page")
	}
	if pageSize != nil && *pageSize < 1 {
		return nil, fieldMessage("pageSize must be greater than or equal to 1", "pageSize")
	}

	var def, maxSize int
	if cfg != nil {
		def, maxSize = cfg.DefaultPageSize, cfg.MaxPageSize
	}
	if pageSize != nil && maxSize > 0 && *pageSize > maxSize {
		return nil, fieldMessage(fmt.Sprintf("pageSize must not exceed %d", maxSize), "pageSize")
	}

	if page == nil && pageSize == nil && def == 0 {
		return nil, nil
	}

	out := &Page{Page: 1, IncludeCount: includeCount}
	if page != nil {
		out.Page = *page
	}
	switch {
	case pageSize != nil:
		out.PageSize = *pageSize
	case def > 0:
		out.PageSize = def
	default:
		out.PageSize = FallbackPageSize
		if maxSize > 0 && out.PageSize > maxSize {
			out.PageSize = maxSize
		}
	}
	if out.Page-1 > (math.MaxInt-out.PageSize)/out.PageSize {
		return nil, fieldMessage("page is out of range", "page")
	}
	return out, nil
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// fieldMessage keeps message verbatim; FieldError would append the field list.
func fieldMessage(message, field string) error {
	return &types.Error{Kind: types.ErrValidation, Message: message, Fields: []string{field}}
}
