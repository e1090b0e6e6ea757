// Package rpc registers and invokes gRPC services whose payloads are
// google.protobuf.Struct messages, so services can be declared without
// generated stubs.
package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// UnaryHandler serves a request/response method.
type UnaryHandler func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// StreamHandler serves a server-streaming method.
type StreamHandler func(req *structpb.Struct, stream Stream) error

// Stream is the sending half of a server stream.
type Stream interface {
	Context() context.Context
	Send(*structpb.Struct) error
}

// Service describes a gRPC service as a set of named handlers.
type Service struct {
	Name    string
	Unary   map[string]UnaryHandler
	Streams map[string]StreamHandler
}

// Method returns the full method path for name within service.
func Method(service, name string) string {
	return "/" + service + "/" + name
}

// Register adds the service to r.
func (s *Service) Register(r grpc.ServiceRegistrar) {
	desc := grpc.ServiceDesc{
		ServiceName: s.Name,
		HandlerType: (*any)(nil),
		Metadata:    "structpb",
	}
	for name, h := range s.Unary {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    s.unary(name, h),
		})
	}
	for name, h := range s.Streams {
		desc.Streams = append(desc.Streams, grpc.StreamDesc{
			StreamName:    name,
			ServerStreams: true,
			Handler: func(_ any, ss grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := ss.RecvMsg(in); err != nil {
					return err
				}
				return h(in, &serverStream{ss})
			},
		})
	}
	r.RegisterService(&desc, s)
}

func (s *Service) unary(name string, h UnaryHandler) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		call := func(ctx context.Context, req any) (any, error) {
			out, err := h(ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = &structpb.Struct{}
			}
			return out, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: s, FullMethod: Method(s.Name, name)}
		return interceptor(ctx, in, info, call)
	}
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(m *structpb.Struct) error {
	return s.SendMsg(m)
}

// Invoke performs a unary call. A nil req is sent as an empty struct.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Receiver reads messages from a server stream until it returns io.EOF.
type Receiver func() (*structpb.Struct, error)

// Subscribe opens a server stream and sends req as its only request.
func Subscribe(ctx context.Context, cc grpc.ClientConnInterface, method string, req *structpb.Struct, opts ...grpc.CallOption) (Receiver, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	desc := &grpc.StreamDesc{ServerStreams: true}
	cs, err := cc.NewStream(ctx, desc, method, opts...)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := cs.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send stream request: %w", err)
	}
	if err := cs.CloseSend(); err != nil {
		return nil, fmt.Errorf("close stream send: %w", err)
	}
	return func() (*structpb.Struct, error) {
		out := new(structpb.Struct)
		if err := cs.RecvMsg(out); err != nil {
			return nil, err
		}
		return out, nil
	}, nil
}
