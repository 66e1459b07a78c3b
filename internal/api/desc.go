package api

import (
	"context"

	"github.com/bibswap/swapchat/internal/convo"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "swapchat.v1.ConversationService"

// ConversationServer is the server API of the conversation service.
type ConversationServer interface {
	Inbox(context.Context, *InboxRequest) (*InboxResponse, error)
	Open(context.Context, *OpenRequest) (*convo.Snapshot, error)
	Send(context.Context, *SendRequest) (*SendResponse, error)
	MarkSeen(context.Context, *ConversationRequest) (*convo.ReadResult, error)
	Block(context.Context, *ConversationRequest) (*emptypb.Empty, error)
	Unblock(context.Context, *ConversationRequest) (*emptypb.Empty, error)
	Delete(context.Context, *ConversationRequest) (*emptypb.Empty, error)
	Report(context.Context, *ReportRequest) (*ReportResponse, error)
	Translate(context.Context, *TranslateRequest) (*TranslateResponse, error)
	StartConversation(context.Context, *StartRequest) (*StartResponse, error)
	RecordInterest(context.Context, *InterestRequest) (*InterestResponse, error)
	PutListing(context.Context, *PutListingRequest) (*emptypb.Empty, error)
	Resolve(context.Context, *ResolveRequest) (*ResolveResponse, error)
	Status(context.Context, *emptypb.Empty) (*StatusResponse, error)
	Watch(*WatchRequest, grpc.ServerStream) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for one unary RPC.
func unary[Req, Resp any](name string, call func(ConversationServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ConversationServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ConversationServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ConversationServer).Watch(in, stream)
}

// ServiceDesc describes ConversationService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ConversationServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Inbox", ConversationServer.Inbox),
		unary("Open", ConversationServer.Open),
		unary("Send", ConversationServer.Send),
		unary("MarkSeen", ConversationServer.MarkSeen),
		unary("Block", ConversationServer.Block),
		unary("Unblock", ConversationServer.Unblock),
		unary("Delete", ConversationServer.Delete),
		unary("Report", ConversationServer.Report),
		unary("Translate", ConversationServer.Translate),
		unary("StartConversation", ConversationServer.StartConversation),
		unary("RecordInterest", ConversationServer.RecordInterest),
		unary("PutListing", ConversationServer.PutListing),
		unary("Resolve", ConversationServer.Resolve),
		unary("Status", ConversationServer.Status),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "swapchat/v1/conversation.json",
}

// Register registers srv on s.
func Register(s grpc.ServiceRegistrar, srv ConversationServer) {
	s.RegisterService(&ServiceDesc, srv)
}
