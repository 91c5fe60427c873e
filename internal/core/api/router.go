// Package api serves the CRUD engine over HTTP with gin.
package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
)

// Options configures NewRouter.
type Options struct {
	Engine     *engine.Engine
	Identifier auth.Identifier
	Logger     *zap.Logger

	// Metrics is optional; Gatherer serves /metrics when set.
	Metrics  *HTTPMetrics
	Gatherer prometheus.Gatherer

	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error

	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// NewRouter builds the gin engine with every crudql route.
func NewRouter(opts Options) *gin.Engine {
	if opts.Identifier == nil {
		opts.Identifier = auth.HeaderIdentifier{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(opts.Logger), opts.Metrics.Handler())

	h := &handler{engine: opts.Engine, startedAt: time.Now().UTC()}
	if opts.Ready != nil {
		h.ready = func(c *gin.Context) error { return opts.Ready(c.Request.Context()) }
	}

	r.GET("/healthz", h.health)
	r.GET("/readyz", h.readiness)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1", Timeout(opts.RequestTimeout), BodyLimit(opts.MaxBodyBytes), Identify(opts.Identifier))
	v1.GET("/entities", h.entities)

	crud := v1.Group("/crud")
	crud.POST("/create", h.create)
	crud.POST("/read", h.readPost)
	crud.GET("/read", h.readGet)
	crud.POST("/update", h.update)
	crud.POST("/delete", h.deletePost)
	crud.DELETE("/delete", h.deleteQuery)

	return r
}
