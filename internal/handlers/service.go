package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// VersionServiceName is the fully qualified gRPC service name
const VersionServiceName = "chronicle.v1.VersionService"

// Full method names
const (
	VersionServiceCreateMethod        = "/chronicle.v1.VersionService/Create"
	VersionServiceGetMethod           = "/chronicle.v1.VersionService/Get"
	VersionServiceNewVersionMethod    = "/chronicle.v1.VersionService/NewVersion"
	VersionServiceDestroyMethod       = "/chronicle.v1.VersionService/Destroy"
	VersionServiceRestoreMethod       = "/chronicle.v1.VersionService/Restore"
	VersionServiceBecomeCurrentMethod = "/chronicle.v1.VersionService/BecomeCurrent"
	VersionServiceHistoryMethod       = "/chronicle.v1.VersionService/History"
	VersionServiceRelatedMethod       = "/chronicle.v1.VersionService/Related"
	VersionServiceLatestMethod        = "/chronicle.v1.VersionService/Latest"
)

// VersionServiceServer is the server API for the VersionService service.
// Requests and responses are structpb.Struct documents.
type VersionServiceServer interface {
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	NewVersion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Destroy(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Restore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BecomeCurrent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Related(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Latest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedVersionServiceServer can be embedded to have forward compatible implementations
type UnimplementedVersionServiceServer struct{}

func (UnimplementedVersionServiceServer) Create(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Create not implemented")
}
func (UnimplementedVersionServiceServer) Get(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedVersionServiceServer) NewVersion(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method NewVersion not implemented")
}
func (UnimplementedVersionServiceServer) Destroy(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Destroy not implemented")
}
func (UnimplementedVersionServiceServer) Restore(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Restore not implemented")
}
func (UnimplementedVersionServiceServer) BecomeCurrent(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method BecomeCurrent not implemented")
}
func (UnimplementedVersionServiceServer) History(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method History not implemented")
}
func (UnimplementedVersionServiceServer) Related(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Related not implemented")
}
func (UnimplementedVersionServiceServer) Latest(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Latest not implemented")
}

// RegisterVersionServiceServer registers srv on s
func RegisterVersionServiceServer(s grpc.ServiceRegistrar, srv VersionServiceServer) {
	s.RegisterService(&VersionServiceDesc, srv)
}

// unaryHandler adapts one VersionServiceServer method to a grpc.MethodDesc handler
func unaryHandler(fullMethod string, call func(VersionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(VersionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(VersionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// VersionServiceDesc is the grpc.ServiceDesc for the VersionService service
var VersionServiceDesc = grpc.ServiceDesc{
	ServiceName: VersionServiceName,
	HandlerType: (*VersionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: unaryHandler(VersionServiceCreateMethod, VersionServiceServer.Create)},
		{MethodName: "Get", Handler: unaryHandler(VersionServiceGetMethod, VersionServiceServer.Get)},
		{MethodName: "NewVersion", Handler: unaryHandler(VersionServiceNewVersionMethod, VersionServiceServer.NewVersion)},
		{MethodName: "Destroy", Handler: unaryHandler(VersionServiceDestroyMethod, VersionServiceServer.Destroy)},
		{MethodName: "Restore", Handler: unaryHandler(VersionServiceRestoreMethod, VersionServiceServer.Restore)},
		{MethodName: "BecomeCurrent", Handler: unaryHandler(VersionServiceBecomeCurrentMethod, VersionServiceServer.BecomeCurrent)},
		{MethodName: "History", Handler: unaryHandler(VersionServiceHistoryMethod, VersionServiceServer.History)},
		{MethodName: "Related", Handler: unaryHandler(VersionServiceRelatedMethod, VersionServiceServer.Related)},
		{MethodName: "Latest", Handler: unaryHandler(VersionServiceLatestMethod, VersionServiceServer.Latest)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chronicle/v1/version.proto",
}
