package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// Identity headers. gRPC metadata uses the lower-cased names.
const (
	HeaderAPIKey   = "X-API-Key"
	HeaderCallerID = "X-Caller-ID"
	HeaderRoles    = "X-Roles"
)

// Credentials are the raw identity values carried by a request.
type Credentials struct {
	APIKey   string
	CallerID string
	Roles    string
}

// CredentialsFromHeader reads credentials from HTTP headers.
func CredentialsFromHeader(h http.Header) Credentials {
	return Credentials{
		APIKey:   h.Get(HeaderAPIKey),
		CallerID: h.Get(HeaderCallerID),
		Roles:    h.Get(HeaderRoles),
	}
}

// CredentialsFromMetadata reads credentials from incoming gRPC metadata.
func CredentialsFromMetadata(md metadata.MD) Credentials {
	first := func(name string) string {
		if v := md.Get(name); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	return Credentials{
		APIKey:   first("x-api-key"),
		CallerID: first("x-caller-id"),
		Roles:    first("x-roles"),
	}
}

// Identifier turns request credentials into a caller.
type Identifier interface {
	Identify(ctx context.Context, cred Credentials) (types.Caller, error)
}

// HeaderIdentifier trusts the caller id and roles sent by an upstream
// gateway. Requests without either produce an anonymous caller, which the
// engine rejects as unauthenticated.
type HeaderIdentifier struct{}

// Identify implements Identifier.
func (HeaderIdentifier) Identify(_ context.Context, cred Credentials) (types.Caller, error) {
	return types.NewCaller(cred.CallerID, SplitRoles(cred.Roles)...), nil
}

type callerKey struct{}

// WithCaller stores the caller on ctx.
func WithCaller(ctx context.Context, c types.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by WithCaller, or the
// anonymous caller.
func CallerFromContext(ctx context.Context) types.Caller {
	c, _ := ctx.Value(callerKey{}).(types.Caller)
	return c
}

// HTTPStatus maps an identification failure to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return http.StatusForbidden
	case isInfrastructure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// GRPCCode maps an identification failure to a status code.
func GRPCCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrKeyRevoked):
		return codes.PermissionDenied
	case isInfrastructure(err):
		return codes.Unavailable
	default:
		return codes.Unauthenticated
	}
}

func isInfrastructure(err error) bool {
	for _, known := range []error{ErrMissingKey, ErrInvalidKeyFormat, ErrUnknownKey, ErrInvalidKey} {
		if errors.Is(err, known) {
			return false
		}
	}
	return true
}

// UnaryInterceptor returns gRPC interceptor that identifies the caller and
// stores it on the handler context. Health checks pass through.
func UnaryInterceptor(id Identifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		caller, err := id.Identify(ctx, CredentialsFromMetadata(md))
		if err != nil {
			return nil, status.Error(GRPCCode(err), err.Error())
		}
		return handler(WithCaller(ctx, caller), req)
	}
}
