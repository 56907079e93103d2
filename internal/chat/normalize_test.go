package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeHistoryFieldAliases(t *testing.T) {
	n := NewNormalizer("me")
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "content and createdAt",
			raw:  `{"id":"m1","content":"hi","createdAt":"2024-03-01T10:00:00Z","fromMe":false}`,
			want: Message{ID: "m1", Text: "hi", CreatedAt: ts},
		},
		{
			name: "numeric id and text alias",
			raw:  `{"messageId":42,"text":"hi","timestamp":1709287200000}`,
			want: Message{ID: "42", Text: "hi", CreatedAt: ts},
		},
		{
			name: "mongo id and epoch seconds",
			raw:  `{"_id":"abc","body":"hi","sentAt":1709287200}`,
			want: Message{ID: "abc", Text: "hi", CreatedAt: ts},
		},
		{
			name: "zone-less timestamp is utc",
			raw:  `{"id":"m2","message":"hi","created_at":"2024-03-01T10:00:00"}`,
			want: Message{ID: "m2", Text: "hi", CreatedAt: ts},
		},
		{
			name: "array timestamp",
			raw:  `{"id":"m3","content":"hi","createdAt":[2024,3,1,10,0,0,0]}`,
			want: Message{ID: "m3", Text: "hi", CreatedAt: ts},
		},
		{
			name: "read flag",
			raw:  `{"id":"m4","content":"hi","createdAt":"2024-03-01T10:00:00Z","isRead":true}`,
			want: Message{ID: "m4", Text: "hi", CreatedAt: ts, ReadState: ReadRead},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := n.DecodeHistory("bob", json.RawMessage(tc.raw))
			require.NoError(t, err)
			tc.want.ConversationKey = "bob"
			tc.want.Source = SourceBackfill
			require.Equal(t, tc.want.ID, got.ID)
			require.Equal(t, tc.want.Text, got.Text)
			require.True(t, tc.want.CreatedAt.Equal(got.CreatedAt), "created at %v", got.CreatedAt)
			require.Equal(t, tc.want.ReadState, got.ReadState)
			require.Equal(t, "bob", got.ConversationKey)
			require.Equal(t, SourceBackfill, got.Source)
		})
	}
}

func TestFromMePriority(t *testing.T) {
	n := NewNormalizer("Me")

	got, err := n.DecodeHistory("bob", json.RawMessage(`{"id":"1","content":"x","sender":"me"}`))
	require.NoError(t, err)
	require.True(t, got.FromMe, "sender matching identity is self-authored")
	require.Equal(t, DeliverySent, got.Delivery)

	got, err = n.DecodeHistory("bob", json.RawMessage(`{"id":"2","content":"x","sender":"me","fromMe":false}`))
	require.NoError(t, err)
	require.False(t, got.FromMe, "explicit flag wins over sender")

	got, err = n.DecodeHistory("bob", json.RawMessage(`{"id":"3","content":"x","sender":{"username":"me"}}`))
	require.NoError(t, err)
	require.True(t, got.FromMe)

	got, err = n.DecodeHistory("bob", json.RawMessage(`{"id":"4","content":"x","senderId":"bob"}`))
	require.NoError(t, err)
	require.False(t, got.FromMe)
	require.Equal(t, DeliveryNone, got.Delivery)
}

func TestSyntheticIDIsDeterministic(t *testing.T) {
	n := NewNormalizer("me")
	raw := json.RawMessage(`{"content":"hello","createdAt":"2024-03-01T10:00:00Z"}`)

	a, err := n.DecodeHistory("bob", raw)
	require.NoError(t, err)
	_, b, err := n.DecodePush([]byte(`{"partner":"bob","message":{"content":"hello","createdAt":"2024-03-01T10:00:00Z"}}`))
	require.NoError(t, err)

	require.Equal(t, a.ID, b.ID)
	require.Contains(t, a.ID, "syn-")
	require.NotEqual(t, a.ID, SyntheticID(a.CreatedAt, "hello!"))
}

func TestSyntheticIDCollidesWithoutTimestamp(t *testing.T) {
	n := NewNormalizer("me")
	frame := []byte(`{"partner":"bob","message":{"content":"hey"}}`)

	s := NewMessageStore()
	for i := 0; i < 3; i++ {
		key, m, err := n.DecodePush(frame)
		require.NoError(t, err)
		require.Equal(t, SyntheticID(time.Time{}, "hey"), m.ID)
		s.Merge(key, []Message{m})
	}
	require.Equal(t, 1, s.Len("bob"))
}

func TestClientIDUsedWhenServerIDMissing(t *testing.T) {
	n := NewNormalizer("me")
	got, err := n.DecodeAck("bob", json.RawMessage(`{"content":"hi","clientMsgId":"c-1","fromMe":true}`))
	require.NoError(t, err)
	require.Equal(t, "c-1", got.ID)
	require.Equal(t, "c-1", got.ClientID)
	require.Equal(t, SourceAck, got.Source)
}

func TestDecodeAckUnwrapsMessageEnvelope(t *testing.T) {
	n := NewNormalizer("me")
	got, err := n.DecodeAck("bob", json.RawMessage(`{"message":{"id":"s1","content":"hi","sender":"me"}}`))
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
	require.True(t, got.FromMe)
}

func TestDecodePushShapes(t *testing.T) {
	n := NewNormalizer("me")

	key, m, err := n.DecodePush([]byte(`{"partner":"bob","message":{"content":"hey","fromMe":false}}`))
	require.NoError(t, err)
	require.Equal(t, "bob", key)
	require.Equal(t, "hey", m.Text)
	require.Equal(t, SourcePush, m.Source)
	require.False(t, m.FromMe)

	key, m, err = n.DecodePush([]byte(`{"id":"7","content":"yo","sender":"carol","receiver":"me"}`))
	require.NoError(t, err)
	require.Equal(t, "carol", key, "inbound flat frame belongs to the sender")
	require.Equal(t, "7", m.ID)

	key, m, err = n.DecodePush([]byte(`{"id":"8","content":"sent elsewhere","sender":"me","receiver":"dave"}`))
	require.NoError(t, err)
	require.Equal(t, "dave", key, "self-authored frame belongs to the receiver")
	require.True(t, m.FromMe)
}

func TestDecodePushRejectsBadFrames(t *testing.T) {
	n := NewNormalizer("me")

	_, _, err := n.DecodePush([]byte(`not json`))
	var malformed *MalformedPayloadError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, SourcePush, malformed.Source)

	_, _, err = n.DecodePush([]byte(`{"content":"orphan"}`))
	require.True(t, errors.As(err, &malformed))

	_, _, err = n.DecodePush([]byte(`{"partner":"bob","message":{"fromMe":false}}`))
	require.True(t, errors.As(err, &malformed), "no text and no timestamp")

	_, _, err = n.DecodePush([]byte(`{"type":"typing","partner":"bob"}`))
	require.ErrorIs(t, err, ErrIgnoredFrame)
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	_, err := ParseTimestamp(json.RawMessage(`"yesterday"`))
	require.Error(t, err)

	got, err := ParseTimestamp(json.RawMessage(`"2024-03-01 10:00:00"`))
	require.NoError(t, err)
	require.Equal(t, 2024, got.Year())
}
