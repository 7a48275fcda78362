package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

/*
 * gRPC wiring for the ingest service.
 *
 * Bid requests are free-form JSON documents, so both methods exchange
 * google.protobuf.Struct rather than a generated message per field. The
 * service descriptor is registered by hand; there is no .proto to compile.
 */

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bidkeeper.ingest.v1.IngestAPI"

// Full method names, as seen by interceptors.
const (
	SubmitBidRequestMethod  = "/" + ServiceName + "/SubmitBidRequest"
	ReportBidRequestsMethod = "/" + ServiceName + "/ReportBidRequests"
)

// IngestAPIServer is the server API for the ingest service.
type IngestAPIServer interface {
	// SubmitBidRequest accepts one bid request document.
	SubmitBidRequest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// ReportBidRequests accepts {"bid_requests": [...]} with per-request results.
	ReportBidRequests(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterIngestAPIServer registers srv on s.
func RegisterIngestAPIServer(s grpc.ServiceRegistrar, srv IngestAPIServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IngestAPIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitBidRequest", Handler: unaryHandler(SubmitBidRequestMethod, IngestAPIServer.SubmitBidRequest)},
		{MethodName: "ReportBidRequests", Handler: unaryHandler(ReportBidRequestsMethod, IngestAPIServer.ReportBidRequests)},
	},
	Streams: []grpc.StreamDesc{},
}

type structMethod func(IngestAPIServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unaryHandler adapts a Struct-in/Struct-out method to grpc.MethodDesc.
func unaryHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(IngestAPIServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(IngestAPIServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// IngestAPIClient calls the ingest service.
type IngestAPIClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestAPIClient wraps a client connection.
func NewIngestAPIClient(cc grpc.ClientConnInterface) *IngestAPIClient {
	return &IngestAPIClient{cc: cc}
}

// SubmitBidRequest calls IngestAPI.SubmitBidRequest.
func (c *IngestAPIClient) SubmitBidRequest(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitBidRequestMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportBidRequests calls IngestAPI.ReportBidRequests.
func (c *IngestAPIClient) ReportBidRequests(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ReportBidRequestsMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
