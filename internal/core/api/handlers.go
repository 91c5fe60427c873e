package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// handler adapts engine operations to gin.
type handler struct {
	engine    *engine.Engine
	ready     func(*gin.Context) error
	startedAt time.Time
}

// body decodes the request body as a JSON object. Numbers stay
// json.Number so integer fields keep their precision.
func body(c *gin.Context) (map[string]any, error) {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, types.Errorf(types.ErrValidation, "request body exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return nil, types.Errorf(types.ErrValidation, "request body is required")
		}
		return nil, types.Errorf(types.ErrValidation, "request body must be a JSON object: %v", err)
	}
	if dec.More() {
		return nil, types.Errorf(types.ErrValidation, "request body must hold a single JSON object")
	}
	return m, nil
}

// queryBody turns query parameters into a request body. Repeated
// parameters keep the first value.
func queryBody(c *gin.Context) map[string]any {
	m := make(map[string]any)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m
}

func (h *handler) create(c *gin.Context) {
	b, err := body(c)
	if err != nil {
		respondError(c, err)
		return
	}
	req, err := engine.DecodeCreate(b)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.engine.Create(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *handler) readPost(c *gin.Context) {
	b, err := body(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h.read(c, b)
}

func (h *handler) readGet(c *gin.Context) {
	h.read(c, queryBody(c))
}

func (h *handler) read(c *gin.Context, b map[string]any) {
	req, err := engine.DecodeRead(b)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.engine.Read(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) update(c *gin.Context) {
	b, err := body(c)
	if err != nil {
		respondError(c, err)
		return
	}
	req, err := engine.DecodeUpdate(b)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	res, err := h.engine.Update(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) deletePost(c *gin.Context) {
	b, err := body(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h.delete(c, b)
}

// deleteQuery serves DELETE /v1/crud/delete?entity=&id=.
func (h *handler) deleteQuery(c *gin.Context) {
	b := map[string]any{}
	if v, ok := c.GetQuery("entity"); ok {
		b["entity"] = v
	}
	if v, ok := c.GetQuery("id"); ok {
		b["key"] = map[string]any{"id": v}
	}
	h.delete(c, b)
}

func (h *handler) delete(c *gin.Context, b map[string]any) {
	req, err := engine.DecodeDelete(b)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.engine.Delete(ctx, auth.CallerFromContext(ctx), req); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) entities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": h.engine.Registry().Describe()})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "started_at": h.startedAt})
}

func (h *handler) readiness(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
