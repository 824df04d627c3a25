package rpc

import (
	"context"

	"google.golang.org/grpc"

	fpb "github.com/a-swarm/evolution-core/internal/federation/pb"
)

const serviceName = "aswarm.federation.Federator"

// FederatorServer is implemented by the federation RPC handler.
// FederationStream (bidirectional sketch/consensus streaming) is not
// part of this surface: nothing in the corpus sketches its wire
// semantics, and spec.md's federation module only requires the three
// unary RPCs below.
type FederatorServer interface {
	ShareSketch(ctx context.Context, req *fpb.ShareSketchRequest) (*fpb.ShareSketchResponse, error)
	RequestSketch(ctx context.Context, req *fpb.RequestSketchRequest) (*fpb.RequestSketchResponse, error)
	ReportHealth(ctx context.Context, req *fpb.HealthReportRequest) (*fpb.HealthReportResponse, error)
}

func RegisterFederatorServer(s grpc.ServiceRegistrar, srv FederatorServer) {
	s.RegisterService(&federatorServiceDesc, srv)
}

func shareSketchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(fpb.ShareSketchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FederatorServer).ShareSketch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ShareSketch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FederatorServer).ShareSketch(ctx, req.(*fpb.ShareSketchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func requestSketchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(fpb.RequestSketchRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FederatorServer).RequestSketch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/RequestSketch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FederatorServer).RequestSketch(ctx, req.(*fpb.RequestSketchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func reportHealthHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(fpb.HealthReportRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FederatorServer).ReportHealth(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/ReportHealth"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FederatorServer).ReportHealth(ctx, req.(*fpb.HealthReportRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var federatorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FederatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ShareSketch", Handler: shareSketchHandler},
		{MethodName: "RequestSketch", Handler: requestSketchHandler},
		{MethodName: "ReportHealth", Handler: reportHealthHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "federation.proto",
}

// Client is a thin typed wrapper over a grpc.ClientConn using the JSON codec.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) ShareSketch(ctx context.Context, req *fpb.ShareSketchRequest, opts ...grpc.CallOption) (*fpb.ShareSketchResponse, error) {
	out := new(fpb.ShareSketchResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.conn.Invoke(ctx, serviceName+"/ShareSketch", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RequestSketch(ctx context.Context, req *fpb.RequestSketchRequest, opts ...grpc.CallOption) (*fpb.RequestSketchResponse, error) {
	out := new(fpb.RequestSketchResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.conn.Invoke(ctx, serviceName+"/RequestSketch", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ReportHealth(ctx context.Context, req *fpb.HealthReportRequest, opts ...grpc.CallOption) (*fpb.HealthReportResponse, error) {
	out := new(fpb.HealthReportResponse)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := c.conn.Invoke(ctx, serviceName+"/ReportHealth", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
