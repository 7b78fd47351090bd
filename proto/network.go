package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const (
	NetworkController_ServiceName           = "dsnet.NetworkController"
	NetworkController_Stream_FullMethodName = "/dsnet.NetworkController/Stream"
)

type NetworkController_StreamServer = grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]

type NetworkController_StreamClient = grpc.BidiStreamingClient[structpb.Struct, structpb.Struct]

// NetworkControllerServer is implemented by the relay.
type NetworkControllerServer interface {
	Stream(NetworkController_StreamServer) error
}

// UnimplementedNetworkControllerServer can be embedded to satisfy
// NetworkControllerServer.
type UnimplementedNetworkControllerServer struct{}

func (UnimplementedNetworkControllerServer) Stream(NetworkController_StreamServer) error {
	return status.Error(codes.Unimplemented, "method Stream not implemented")
}

func RegisterNetworkControllerServer(s grpc.ServiceRegistrar, srv NetworkControllerServer) {
	s.RegisterService(&NetworkController_ServiceDesc, srv)
}

func _NetworkController_Stream_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(NetworkControllerServer).Stream(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var NetworkController_ServiceDesc = grpc.ServiceDesc{
	ServiceName: NetworkController_ServiceName,
	HandlerType: (*NetworkControllerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       _NetworkController_Stream_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "dsnet/network.proto",
}

type NetworkControllerClient interface {
	Stream(ctx context.Context, opts ...grpc.CallOption) (NetworkController_StreamClient, error)
}

type networkControllerClient struct {
	cc grpc.ClientConnInterface
}

func NewNetworkControllerClient(cc grpc.ClientConnInterface) NetworkControllerClient {
	return &networkControllerClient{cc}
}

func (c *networkControllerClient) Stream(ctx context.Context, opts ...grpc.CallOption) (NetworkController_StreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &NetworkController_ServiceDesc.Streams[0], NetworkController_Stream_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}

type envelopeSender interface {
	Send(*structpb.Struct) error
}

type envelopeReceiver interface {
	Recv() (*structpb.Struct, error)
}

// SendEnvelope encodes env and writes it to a client or server stream.
func SendEnvelope(s envelopeSender, env *Envelope) error {
	msg, err := env.ToStruct()
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// RecvEnvelope reads and decodes the next envelope of a client or server stream.
func RecvEnvelope(s envelopeReceiver) (*Envelope, error) {
	msg, err := s.Recv()
	if err != nil {
		return nil, err
	}
	return EnvelopeFromStruct(msg)
}
