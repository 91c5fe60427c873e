package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/logger"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// ErrorCase maps a sentinel error to an HTTP status code.
type ErrorCase struct {
	Err    error
	Status int
}

// errorCases is checked in order with errors.Is.
var errorCases = []ErrorCase{
	{Err: types.ErrValidation, Status: http.StatusBadRequest},
	{Err: types.ErrUnauthenticated, Status: http.StatusUnauthorized},
	{Err: types.ErrForbidden, Status: http.StatusForbidden},
	{Err: types.ErrIncludeNotPermitted, Status: http.StatusUnprocessableEntity},
	{Err: types.ErrNotFound, Status: http.StatusNotFound},
	{Err: types.ErrAlreadyDeleted, Status: http.StatusBadRequest},
	{Err: types.ErrConflict, Status: http.StatusConflict},
	{Err: types.ErrEntityNotRegistered, Status: http.StatusBadRequest},
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Fields  []string `json:"fields,omitempty"`
	TraceID string   `json:"trace_id,omitempty"`
}

// StatusFor returns the HTTP status for err, 500 for anything outside the
// taxonomy.
func StatusFor(err error) int {
	for _, cs := range errorCases {
		if errors.Is(err, cs.Err) {
			return cs.Status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes err and records it on the context for the access
// log. Internal errors never leak their message.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	status := StatusFor(err)
	resp := ErrorResponse{
		Error:   err.Error(),
		Fields:  types.Fields(err),
		TraceID: logger.RequestID(c.Request.Context()),
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
		resp.Fields = nil
	}
	c.AbortWithStatusJSON(status, resp)
}

func abortWith(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:   err.Error(),
		TraceID: logger.RequestID(c.Request.Context()),
	})
}
