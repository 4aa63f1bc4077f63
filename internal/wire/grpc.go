package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's global encoding registry so
// both client and server pick this codec for every call on this
// service, in place of the default proto codec that would require
// protoc-generated proto.Message implementations.
const codecName = "jerswire"

func init() {
	encoding.RegisterCodec(wireCodec{})
}

// wireCodec adapts the hand-written Marshal/Unmarshal pairs in
// codec.go to grpc's encoding.Codec interface, the same seam
// protoc-gen-go-grpc normally fills with the generated proto codec.
// Grounded on the teacher's use of google.golang.org/grpc directly
// (internal/raft/transport.go); this project supplies its own wire
// format instead of depending on a protoc run (see DESIGN.md).
type wireCodec struct{}

func (wireCodec) Name() string { return codecName }

func (wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case ClientFrame:
		return MarshalClientFrame(m), nil
	case *ClientFrame:
		return MarshalClientFrame(*m), nil
	case ControllerReply:
		return MarshalControllerReply(m), nil
	case *ControllerReply:
		return MarshalControllerReply(*m), nil
	case AgentFrame:
		return MarshalAgentFrame(m), nil
	case *AgentFrame:
		return MarshalAgentFrame(*m), nil
	case ControllerFrame:
		return MarshalControllerFrame(m), nil
	case *ControllerFrame:
		return MarshalControllerFrame(*m), nil
	default:
		return nil, fmt.Errorf("wire: codec cannot marshal %T", v)
	}
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	switch p := v.(type) {
	case *ClientFrame:
		m, err := UnmarshalClientFrame(data)
		if err != nil {
			return err
		}
		*p = m
		return nil
	case *ControllerReply:
		m, err := UnmarshalControllerReply(data)
		if err != nil {
			return err
		}
		*p = m
		return nil
	case *AgentFrame:
		m, err := UnmarshalAgentFrame(data)
		if err != nil {
			return err
		}
		*p = m
		return nil
	case *ControllerFrame:
		m, err := UnmarshalControllerFrame(data)
		if err != nil {
			return err
		}
		*p = m
		return nil
	default:
		return fmt.Errorf("wire: codec cannot unmarshal into %T", v)
	}
}

// AgentSessionServer is implemented by internal/agentregistry: one
// call per connected agent, a full-duplex exchange of AgentFrame/
// ControllerFrame for the lifetime of that connection.
type AgentSessionServer func(stream AgentSessionStream) error

// AgentSessionStream is the bidi-stream seam the hand-written service
// descriptor below hands to AgentSessionServer; it is satisfied by
// grpc.ServerStream plus the typed Send/Recv this package provides.
type AgentSessionStream interface {
	Send(*ControllerFrame) error
	Recv() (*AgentFrame, error)
	Context() context.Context
}

type agentSessionStream struct {
	grpc.ServerStream
}

func (s *agentSessionStream) Send(m *ControllerFrame) error { return s.ServerStream.SendMsg(m) }
func (s *agentSessionStream) Recv() (*AgentFrame, error) {
	m := new(AgentFrame)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ClientCommandServer handles one unary ClientFrame/ControllerReply
// exchange; implemented by internal/eventloop's client-facing handler.
type ClientCommandServer func(ctx context.Context, req *ClientFrame) (*ControllerReply, error)

// serviceHandlers lets RegisterControllerService bind both RPCs
// without depending on a concrete struct type.
type serviceHandlers struct {
	agentSession  AgentSessionServer
	clientCommand ClientCommandServer
}

var registered *serviceHandlers

// ServiceDesc is the hand-written equivalent of what
// protoc-gen-go-grpc would emit for a service with one bidi-streaming
// RPC (AgentSession) and one unary RPC (ClientCommand), grounded on
// the teacher's pb.FalconQueueServiceServer registration in
// internal/server/server.go.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "jers.Controller",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ClientCommand",
			Handler:    clientCommandHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AgentSession",
			Handler:       agentSessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "jers.proto",
}

func clientCommandHandler(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	req := new(ClientFrame)
	if err := dec(req); err != nil {
		return nil, err
	}
	if registered == nil || registered.clientCommand == nil {
		return nil, fmt.Errorf("wire: no ClientCommand handler registered")
	}
	return registered.clientCommand(ctx, req)
}

func agentSessionHandler(_ any, stream grpc.ServerStream) error {
	if registered == nil || registered.agentSession == nil {
		return fmt.Errorf("wire: no AgentSession handler registered")
	}
	return registered.agentSession(&agentSessionStream{ServerStream: stream})
}

// RegisterControllerService wires the two handlers into the package
// and returns a grpc.ServiceDesc suitable for grpc.Server.RegisterService.
// Only one controller service may be registered per process, matching
// the single-controller-struct design of SPEC_FULL.md §9.
func RegisterControllerService(agentSession AgentSessionServer, clientCommand ClientCommandServer) grpc.ServiceDesc {
	registered = &serviceHandlers{agentSession: agentSession, clientCommand: clientCommand}
	return ServiceDesc
}

// CallOption forces every call on this service to use wireCodec.
func CallOption() grpc.CallOption {
	return grpc.CallContentSubtype(codecName)
}

// DialClientCommand issues one ClientCommand unary RPC over conn.
func DialClientCommand(ctx context.Context, conn *grpc.ClientConn, req *ClientFrame) (*ControllerReply, error) {
	reply := new(ControllerReply)
	err := conn.Invoke(ctx, "/jers.Controller/ClientCommand", req, reply, CallOption())
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// OpenAgentSession opens the bidi AgentSession stream over conn.
func OpenAgentSession(ctx context.Context, conn *grpc.ClientConn) (AgentSessionClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "AgentSession", ServerStreams: true, ClientStreams: true}
	cs, err := conn.NewStream(ctx, desc, "/jers.Controller/AgentSession", CallOption())
	if err != nil {
		return nil, err
	}
	return &agentSessionClientStream{ClientStream: cs}, nil
}

// AgentSessionClientStream is the agent side of AgentSession.
type AgentSessionClientStream interface {
	Send(*AgentFrame) error
	Recv() (*ControllerFrame, error)
}

type agentSessionClientStream struct {
	grpc.ClientStream
}

func (s *agentSessionClientStream) Send(m *AgentFrame) error { return s.ClientStream.SendMsg(m) }
func (s *agentSessionClientStream) Recv() (*ControllerFrame, error) {
	m := new(ControllerFrame)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
