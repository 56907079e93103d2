package client

import (
	"context"
	"fmt"
	"io"

	"github.com/Ae-Ti/BMN-sub000/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	in, err := rpc.Encode(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := rpc.Decode(out, resp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	return resp, nil
}

func (c *Client) GetSessionStatus(ctx context.Context) (*rpc.SessionStatus, error) {
	return invoke[rpc.SessionStatus](ctx, c, rpc.MethodGetSessionStatus, &rpc.Empty{})
}

func (c *Client) Logout(ctx context.Context) (*rpc.LogoutResponse, error) {
	return invoke[rpc.LogoutResponse](ctx, c, rpc.MethodLogout, &rpc.Empty{})
}

func (c *Client) ListConversations(ctx context.Context) (*rpc.ListConversationsResponse, error) {
	return invoke[rpc.ListConversationsResponse](ctx, c, rpc.MethodListConversations, &rpc.Empty{})
}

func (c *Client) ListMessages(ctx context.Context, conversation string) (*rpc.MessagesResponse, error) {
	return invoke[rpc.MessagesResponse](ctx, c, rpc.MethodListMessages, &rpc.ConversationRequest{Conversation: conversation})
}

func (c *Client) SelectConversation(ctx context.Context, conversation string) (*rpc.MessagesResponse, error) {
	return invoke[rpc.MessagesResponse](ctx, c, rpc.MethodSelectConversation, &rpc.ConversationRequest{Conversation: conversation})
}

func (c *Client) LoadOlder(ctx context.Context, conversation string) (*rpc.MessagesResponse, error) {
	return invoke[rpc.MessagesResponse](ctx, c, rpc.MethodLoadOlder, &rpc.ConversationRequest{Conversation: conversation})
}

func (c *Client) SendText(ctx context.Context, conversation, text string) (*rpc.SendTextResponse, error) {
	return invoke[rpc.SendTextResponse](ctx, c, rpc.MethodSendText, &rpc.SendTextRequest{Conversation: conversation, Text: text})
}

func (c *Client) SearchCorrespondents(ctx context.Context, query string, limit int) (*rpc.SearchCorrespondentsResponse, error) {
	return invoke[rpc.SearchCorrespondentsResponse](ctx, c, rpc.MethodSearchCorrespondents, &rpc.SearchRequest{Query: query, Limit: limit})
}

func (c *Client) SearchMessages(ctx context.Context, query, conversation string, limit int) (*rpc.SearchMessagesResponse, error) {
	return invoke[rpc.SearchMessagesResponse](ctx, c, rpc.MethodSearchMessages, &rpc.SearchRequest{Query: query, Conversation: conversation, Limit: limit})
}

func (c *Client) ListOutbox(ctx context.Context, status string, limit int) (*rpc.ListOutboxResponse, error) {
	return invoke[rpc.ListOutboxResponse](ctx, c, rpc.MethodListOutbox, &rpc.ListOutboxRequest{Status: status, Limit: limit})
}

// EventStream receives events from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event. It returns io.EOF when the daemon closes
// the stream.
func (s *EventStream) Recv() (*rpc.Event, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	evt := new(rpc.Event)
	if err := rpc.Decode(out, evt); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}

// WatchEvents opens an event stream. No prefixes selects the daemon's
// default set. The stream ends when ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, prefixes ...string) (*EventStream, error) {
	desc := &grpc.StreamDesc{StreamName: "WatchEvents", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, rpc.MethodWatchEvents)
	if err != nil {
		return nil, err
	}
	in, err := rpc.Encode(&rpc.WatchEventsRequest{Prefixes: prefixes})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil && err != io.EOF {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}
