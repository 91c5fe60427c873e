// Package server provides gRPC server lifecycle management and the
// crudql.v1.CrudService implementation.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/logger"
)

const (
	requestIDKey   = "x-request-id"
	errorFieldsKey = "x-error-fields"
)

// Options configures NewGRPCServer.
type Options struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	Identifier     auth.Identifier
	Logger         *zap.Logger
}

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	opts   Options
}

// NewGRPCServer creates gRPC server with request, auth and timeout
// interceptors and registers the CRUD and health services.
func NewGRPCServer(opts Options, service CrudServer) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if opts.Identifier == nil {
		opts.Identifier = auth.HeaderIdentifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		requestInterceptor(opts.Logger),
		timeoutInterceptor(opts.RequestTimeout),
		auth.UnaryInterceptor(opts.Identifier),
	))
	RegisterCrudServer(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{server: server, health: healthServer, opts: opts}, nil
}

// Start binds listener and serves gRPC requests. It blocks until Shutdown
// is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *GRPCServer) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown gracefully stops server, forcing a stop when ctx ends first.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	}
}

// requestInterceptor assigns a request id (taken from x-request-id metadata
// when present), echoes it in the response header and logs the call.
func requestInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)
		id := ""
		if v := md.Get(requestIDKey); len(v) > 0 {
			id = v[0]
		}
		if id == "" {
			id = uuid.NewString()
		}
		ctx = logger.WithRequestID(ctx, id)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDKey, id))

		resp, err := handler(ctx, req)

		logger.For(ctx, log).Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)))
		return resp, err
	}
}

func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if d <= 0 {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return handler(ctx, req)
	}
}

func fieldsTrailer(fields []string) metadata.MD {
	md := metadata.MD{}
	md.Append(errorFieldsKey, fields...)
	return md
}

// ErrorFields extracts the offending field names from a call trailer.
func ErrorFields(trailer metadata.MD) []string {
	return trailer.Get(errorFieldsKey)
}
