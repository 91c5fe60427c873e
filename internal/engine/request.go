package engine

import (
	"encoding/json"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/include"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/query"
)

// CreateRequest inserts one record. Returning optionally limits the
// response to the named fields.
type CreateRequest struct {
	Entity    string
	Input     map[string]any
	Returning []string
}

// ReadRequest lists records. A nil Filter matches everything; a nil Select
// returns every field and no relations.
type ReadRequest struct {
	Entity       string
	Filter       query.Node
	Select       *include.Selection
	OrderBy      string
	Page         *int
	PageSize     *int
	IncludeCount bool
}

// UpdateRequest changes the record with Key, or every record matching
// Condition. Exactly one of the two must be set.
type UpdateRequest struct {
	Entity    string
	Key       string
	Condition query.Node
	Update    map[string]any
}

// DeleteRequest removes the record with Key.
type DeleteRequest struct {
	Entity string
	Key    string
}

// CreateResult carries the stored record, masked for the caller.
type CreateResult struct {
	Data map[string]any `json:"data"`
}

// ReadResult carries the page of records. Pagination is nil when the
// request was not paged.
type ReadResult struct {
	Data       []map[string]any `json:"data"`
	Pagination *Pagination      `json:"pagination,omitempty"`
}

// Pagination describes the returned page. The totals are present only when
// the request asked for a count.
type Pagination struct {
	Page            int  `json:"page"`
	PageSize        int  `json:"pageSize"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	TotalRecords    *int `json:"totalRecords,omitempty"`
	TotalPages      *int `json:"totalPages,omitempty"`
}

// UpdateResult reports either the affected row count or, for key-based
// updates of entities configured to return records, the updated record.
type UpdateResult struct {
	AffectedRows int
	Data         map[string]any
}

// MarshalJSON renders {"data": ...} when a record is returned and
// {"affectedRows": n} otherwise.
func (r UpdateResult) MarshalJSON() ([]byte, error) {
	if r.Data != nil {
		return json.Marshal(map[string]any{"data": r.Data})
	}
	return json.Marshal(map[string]any{"affectedRows": r.AffectedRows})
}
