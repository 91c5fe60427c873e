package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/auth"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/logger"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/engine"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/types"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "crudql.v1.CrudService"

// CrudServer is the server API for crudql.v1.CrudService. Requests and
// responses carry the same JSON shapes as the HTTP API.
type CrudServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Read(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(method string, call func(CrudServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CrudServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CrudServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// CrudServiceDesc describes crudql.v1.CrudService for grpc.Server.
var CrudServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CrudServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Create", CrudServer.Create),
		unaryHandler("Read", CrudServer.Read),
		unaryHandler("Update", CrudServer.Update),
		unaryHandler("Delete", CrudServer.Delete),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crudql/v1/crud.proto",
}

// RegisterCrudServer registers srv on s.
func RegisterCrudServer(s grpc.ServiceRegistrar, srv CrudServer) {
	s.RegisterService(&CrudServiceDesc, srv)
}

// CrudClient calls crudql.v1.CrudService.
type CrudClient struct {
	cc grpc.ClientConnInterface
}

// NewCrudClient wraps an established connection.
func NewCrudClient(cc grpc.ClientConnInterface) *CrudClient {
	return &CrudClient{cc: cc}
}

func (c *CrudClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Create calls CrudService.Create.
func (c *CrudClient) Create(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Create", in, opts...)
}

// Read calls CrudService.Read.
func (c *CrudClient) Read(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Read", in, opts...)
}

// Update calls CrudService.Update.
func (c *CrudClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Update", in, opts...)
}

// Delete calls CrudService.Delete.
func (c *CrudClient) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Delete", in, opts...)
}

// CrudService implements CrudServer over the engine. The caller comes from
// the context populated by auth.UnaryInterceptor.
type CrudService struct {
	engine *engine.Engine
	log    *zap.Logger
}

// NewCrudService creates the service.
func NewCrudService(e *engine.Engine, log *zap.Logger) (*CrudService, error) {
	if e == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CrudService{engine: e, log: log}, nil
}

func (s *CrudService) Create(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := engine.DecodeCreate(in.AsMap())
	if err != nil {
		return nil, s.status(ctx, err)
	}
	res, err := s.engine.Create(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.status(ctx, err)
	}
	return s.respond(ctx, res)
}

func (s *CrudService) Read(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := engine.DecodeRead(in.AsMap())
	if err != nil {
		return nil, s.status(ctx, err)
	}
	res, err := s.engine.Read(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.status(ctx, err)
	}
	return s.respond(ctx, res)
}

func (s *CrudService) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := engine.DecodeUpdate(in.AsMap())
	if err != nil {
		return nil, s.status(ctx, err)
	}
	res, err := s.engine.Update(ctx, auth.CallerFromContext(ctx), req)
	if err != nil {
		return nil, s.status(ctx, err)
	}
	return s.respond(ctx, res)
}

func (s *CrudService) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := engine.DecodeDelete(in.AsMap())
	if err != nil {
		return nil, s.status(ctx, err)
	}
	if err := s.engine.Delete(ctx, auth.CallerFromContext(ctx), req); err != nil {
		return nil, s.status(ctx, err)
	}
	return &structpb.Struct{}, nil
}

// respond converts a result through its JSON form so both transports
// render identical shapes.
func (s *CrudService) respond(ctx context.Context, v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, s.status(ctx, fmt.Errorf("encode response: %w", err))
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, s.status(ctx, fmt.Errorf("encode response: %w", err))
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, s.status(ctx, fmt.Errorf("encode response: %w", err))
	}
	return out, nil
}

type codeCase struct {
	err  error
	code codes.Code
}

var codeCases = []codeCase{
	{types.ErrValidation, codes.InvalidArgument},
	{types.ErrUnauthenticated, codes.Unauthenticated},
	{types.ErrForbidden, codes.PermissionDenied},
	{types.ErrIncludeNotPermitted, codes.FailedPrecondition},
	{types.ErrNotFound, codes.NotFound},
	{types.ErrAlreadyDeleted, codes.FailedPrecondition},
	{types.ErrConflict, codes.AlreadyExists},
	{types.ErrEntityNotRegistered, codes.InvalidArgument},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
	{context.Canceled, codes.Canceled},
}

// CodeFor returns the status code for err.
func CodeFor(err error) codes.Code {
	for _, cs := range codeCases {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return codes.Internal
}

// status converts err into a gRPC status error. Offending fields travel in
// the "x-error-fields" trailer. Internal errors are logged and hidden.
func (s *CrudService) status(ctx context.Context, err error) error {
	code := CodeFor(err)
	if code == codes.Internal {
		logger.For(ctx, s.log).Error("grpc request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
	if fields := types.Fields(err); len(fields) > 0 {
		_ = grpc.SetTrailer(ctx, fieldsTrailer(fields))
	}
	return status.Error(code, err.Error())
}
