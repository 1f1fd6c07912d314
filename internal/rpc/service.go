// Package rpc exposes the scramble transform as a gRPC service. Requests
// and responses are protobuf well-known types, so no generated code is
// needed: Encrypt and Decrypt take and return an encoded image as a
// BytesValue.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "gilbert.Scrambler"

	EncryptMethod      = "/" + ServiceName + "/Encrypt"
	DecryptMethod      = "/" + ServiceName + "/Decrypt"
	CapabilitiesMethod = "/" + ServiceName + "/Capabilities"

	// MaxMessageSize bounds request and response sizes on both ends.
	MaxMessageSize = 256 << 20
)

// ScramblerServer is the server API for the Scrambler service.
type ScramblerServer interface {
	Encrypt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Decrypt(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Capabilities(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterScramblerServer attaches srv to s.
func RegisterScramblerServer(s grpc.ServiceRegistrar, srv ScramblerServer) {
	s.RegisterService(&ScramblerServiceDesc, srv)
}

// ScramblerServiceDesc describes the Scrambler service to grpc.
var ScramblerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScramblerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Encrypt",
			Handler:    encryptHandler,
		},
		{
			MethodName: "Decrypt",
			Handler:    decryptHandler,
		},
		{
			MethodName: "Capabilities",
			Handler:    capabilitiesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gilbert.proto",
}

type bytesMethod func(ScramblerServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)

func bytesHandler(fullMethod string, call bytesMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ScramblerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(ScramblerServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	encryptHandler = bytesHandler(EncryptMethod, ScramblerServer.Encrypt)
	decryptHandler = bytesHandler(DecryptMethod, ScramblerServer.Decrypt)
)

func capabilitiesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScramblerServer).Capabilities(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CapabilitiesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ScramblerServer).Capabilities(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
