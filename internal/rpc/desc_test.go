package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubChat struct {
	ChatServer
	lastSend *SendTextRequest
}

func (s *stubChat) SendText(_ context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	s.lastSend = req
	if req.Text == "" {
		return nil, status.Error(codes.InvalidArgument, "empty")
	}
	return &SendTextResponse{Message: Message{ID: "m1", ConversationKey: req.Conversation, Text: req.Text, CreatedAtMs: 1767261600000}}, nil
}

func method(t *testing.T, desc *grpc.ServiceDesc, name string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	t.Helper()
	for _, m := range desc.Methods {
		if m.MethodName == name {
			return m.Handler
		}
	}
	t.Fatalf("method %s not registered", name)
	return nil
}

func decoderFor(t *testing.T, v any) func(any) error {
	t.Helper()
	in, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	return func(dst any) error {
		proto.Merge(dst.(*structpb.Struct), in)
		return nil
	}
}

func TestUnaryHandlerDecodesAndEncodes(t *testing.T) {
	srv := &stubChat{}
	h := method(t, &ChatServiceDesc, "SendText")

	out, err := h(srv, context.Background(), decoderFor(t, &SendTextRequest{Conversation: "alice", Text: "hi"}), nil)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if srv.lastSend == nil || srv.lastSend.Conversation != "alice" || srv.lastSend.Text != "hi" {
		t.Fatalf("server saw %+v", srv.lastSend)
	}

	var resp SendTextResponse
	if err := Decode(out.(*structpb.Struct), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message.ID != "m1" || resp.Message.CreatedAtMs != 1767261600000 {
		t.Errorf("response = %+v", resp.Message)
	}
}

func TestUnaryHandlerPassesErrorsThrough(t *testing.T) {
	h := method(t, &ChatServiceDesc, "SendText")
	_, err := h(&stubChat{}, context.Background(), decoderFor(t, &SendTextRequest{Conversation: "alice"}), nil)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestUnaryHandlerRunsInterceptor(t *testing.T) {
	h := method(t, &ChatServiceDesc, "SendText")
	var seen string
	interceptor := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		seen = info.FullMethod
		return next(ctx, req)
	}
	if _, err := h(&stubChat{}, context.Background(), decoderFor(t, &SendTextRequest{Conversation: "a", Text: "b"}), interceptor); err != nil {
		t.Fatal(err)
	}
	if seen != MethodSendText {
		t.Errorf("interceptor saw %q, want %q", seen, MethodSendText)
	}
}

func TestUnaryHandlerDecoderError(t *testing.T) {
	h := method(t, &SessionServiceDesc, "Logout")
	boom := errors.New("boom")
	_, err := h(nil, context.Background(), func(any) error { return boom }, nil)
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestEventPayloadSurvivesStruct(t *testing.T) {
	in := &Event{
		ID:           "e1",
		Session:      "main",
		Kind:         "message.upserted",
		OccurredAtMs: 1767261600123,
		Payload:      json.RawMessage(`{"conversation":"alice","removed":["c1"]}`),
	}
	s, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	var out Event
	if err := Decode(s, &out); err != nil {
		t.Fatal(err)
	}
	if out.OccurredAtMs != in.OccurredAtMs || out.Kind != in.Kind {
		t.Errorf("envelope = %+v", out)
	}
	var payload struct {
		Conversation string   `json:"conversation"`
		Removed      []string `json:"removed"`
	}
	if err := json.Unmarshal(out.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Conversation != "alice" || len(payload.Removed) != 1 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestDecodeNil(t *testing.T) {
	var req ConversationRequest
	if err := Decode(nil, &req); err != nil {
		t.Errorf("Decode(nil) error = %v", err)
	}
}
