package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "qtranspile.v1.AnalysisService"

// AnalysisServiceServer is the server API of the analysis service. Payloads
// are protobuf well-known types; their JSON shapes are documented on Server.
type AnalysisServiceServer interface {
	ListBackends(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SelectBackend(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitJob(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
	JobStatus(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	CancelJob(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	GetRun(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

func unary[Req proto.Message, Resp any](name string, newReq func() Req, call func(AnalysisServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(AnalysisServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(Req))
			})
		},
	}
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListBackends", newEmpty, AnalysisServiceServer.ListBackends),
		unary("SelectBackend", newString, AnalysisServiceServer.SelectBackend),
		unary("Analyze", newStruct, AnalysisServiceServer.Analyze),
		unary("SubmitJob", newStruct, AnalysisServiceServer.SubmitJob),
		unary("JobStatus", newString, AnalysisServiceServer.JobStatus),
		unary("CancelJob", newString, AnalysisServiceServer.CancelJob),
		unary("GetRun", newString, AnalysisServiceServer.GetRun),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qtranspile/v1/analysis.proto",
}

func RegisterAnalysisServiceServer(s grpc.ServiceRegistrar, srv AnalysisServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ------------------------------------------------------------------
// Client
// ------------------------------------------------------------------

type AnalysisServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewAnalysisServiceClient(cc grpc.ClientConnInterface) *AnalysisServiceClient {
	return &AnalysisServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AnalysisServiceClient) ListBackends(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "ListBackends", in, opts)
}

func (c *AnalysisServiceClient) SelectBackend(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "SelectBackend", in, opts)
}

func (c *AnalysisServiceClient) Analyze(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "Analyze", in, opts)
}

func (c *AnalysisServiceClient) SubmitJob(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, "SubmitJob", in, opts)
}

func (c *AnalysisServiceClient) JobStatus(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "JobStatus", in, opts)
}

func (c *AnalysisServiceClient) CancelJob(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return invoke[wrapperspb.BoolValue](ctx, c.cc, "CancelJob", in, opts)
}

func (c *AnalysisServiceClient) GetRun(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, "GetRun", in, opts)
}
