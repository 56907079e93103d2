package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ChatServiceName    = "dm.v1.ChatService"
	SessionServiceName = "dm.v1.SessionService"

	MethodListConversations    = "/" + ChatServiceName + "/ListConversations"
	MethodListMessages         = "/" + ChatServiceName + "/ListMessages"
	MethodSelectConversation   = "/" + ChatServiceName + "/SelectConversation"
	MethodSendText             = "/" + ChatServiceName + "/SendText"
	MethodLoadOlder            = "/" + ChatServiceName + "/LoadOlder"
	MethodSearchCorrespondents = "/" + ChatServiceName + "/SearchCorrespondents"
	MethodSearchMessages       = "/" + ChatServiceName + "/SearchMessages"
	MethodListOutbox           = "/" + ChatServiceName + "/ListOutbox"
	MethodWatchEvents          = "/" + ChatServiceName + "/WatchEvents"

	MethodGetSessionStatus = "/" + SessionServiceName + "/GetSessionStatus"
	MethodLogout           = "/" + SessionServiceName + "/Logout"
)

// ChatServer is implemented by the daemon's chat service.
type ChatServer interface {
	ListConversations(context.Context, *Empty) (*ListConversationsResponse, error)
	ListMessages(context.Context, *ConversationRequest) (*MessagesResponse, error)
	SelectConversation(context.Context, *ConversationRequest) (*MessagesResponse, error)
	SendText(context.Context, *SendTextRequest) (*SendTextResponse, error)
	LoadOlder(context.Context, *ConversationRequest) (*MessagesResponse, error)
	SearchCorrespondents(context.Context, *SearchRequest) (*SearchCorrespondentsResponse, error)
	SearchMessages(context.Context, *SearchRequest) (*SearchMessagesResponse, error)
	ListOutbox(context.Context, *ListOutboxRequest) (*ListOutboxResponse, error)
	WatchEvents(*WatchEventsRequest, EventSender) error
}

// SessionServer is implemented by the daemon's session service.
type SessionServer interface {
	GetSessionStatus(context.Context, *Empty) (*SessionStatus, error)
	Logout(context.Context, *Empty) (*LogoutResponse, error)
}

// EventSender is the server side of a WatchEvents stream.
type EventSender interface {
	Send(*Event) error
	Context() context.Context
}

type eventSender struct {
	grpc.ServerStream
}

func (s eventSender) Send(evt *Event) error {
	out, err := Encode(evt)
	if err != nil {
		return err
	}
	return s.SendMsg(out)
}

// ChatServiceDesc describes ChatService for grpc.Server.RegisterService.
var ChatServiceDesc = grpc.ServiceDesc{
	ServiceName: ChatServiceName,
	HandlerType: (*ChatServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListConversations", Handler: unary(MethodListConversations, ChatServer.ListConversations)},
		{MethodName: "ListMessages", Handler: unary(MethodListMessages, ChatServer.ListMessages)},
		{MethodName: "SelectConversation", Handler: unary(MethodSelectConversation, ChatServer.SelectConversation)},
		{MethodName: "SendText", Handler: unary(MethodSendText, ChatServer.SendText)},
		{MethodName: "LoadOlder", Handler: unary(MethodLoadOlder, ChatServer.LoadOlder)},
		{MethodName: "SearchCorrespondents", Handler: unary(MethodSearchCorrespondents, ChatServer.SearchCorrespondents)},
		{MethodName: "SearchMessages", Handler: unary(MethodSearchMessages, ChatServer.SearchMessages)},
		{MethodName: "ListOutbox", Handler: unary(MethodListOutbox, ChatServer.ListOutbox)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dm/v1/chat",
}

// SessionServiceDesc describes SessionService for grpc.Server.RegisterService.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSessionStatus", Handler: unary(MethodGetSessionStatus, SessionServer.GetSessionStatus)},
		{MethodName: "Logout", Handler: unary(MethodLogout, SessionServer.Logout)},
	},
	Metadata: "dm/v1/session",
}

// RegisterChatServer registers srv on s.
func RegisterChatServer(s grpc.ServiceRegistrar, srv ChatServer) {
	s.RegisterService(&ChatServiceDesc, srv)
}

// RegisterSessionServer registers srv on s.
func RegisterSessionServer(s grpc.ServiceRegistrar, srv SessionServer) {
	s.RegisterService(&SessionServiceDesc, srv)
}

// unary adapts a typed method expression to a grpc handler. S is the
// server interface the method belongs to.
func unary[S, Req, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			r := new(Req)
			if err := Decode(req.(*structpb.Struct), r); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
			}
			out, err := call(srv.(S), ctx, r)
			if err != nil {
				return nil, err
			}
			return Encode(out)
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchEventsRequest)
	if err := Decode(in, req); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return srv.(ChatServer).WatchEvents(req, eventSender{stream})
}
