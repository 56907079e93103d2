package rpc

import "encoding/json"

// Empty is the request of calls that take no arguments.
type Empty struct{}

// Conversation is one row of the conversation list.
type Conversation struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	LatestText  string `json:"latestText,omitempty"`
	LatestAtMs  int64  `json:"latestAtMs,omitempty"`
	UnreadCount int    `json:"unreadCount"`
	Selected    bool   `json:"selected,omitempty"`
}

// Message is one entry of a conversation log.
type Message struct {
	ID              string `json:"id"`
	ClientID        string `json:"clientId,omitempty"`
	ConversationKey string `json:"conversation"`
	Text            string `json:"text"`
	CreatedAtMs     int64  `json:"createdAtMs,omitempty"`
	FromMe          bool   `json:"fromMe"`
	Delivery        string `json:"delivery,omitempty"`
	ReadState       string `json:"readState,omitempty"`
	Source          string `json:"source,omitempty"`
}

// Correspondent is one allow-list entry.
type Correspondent struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
}

// SearchHit is one full-text match.
type SearchHit struct {
	ConversationKey string `json:"conversation"`
	DisplayName     string `json:"displayName,omitempty"`
	MessageID       string `json:"messageId"`
	Text            string `json:"text"`
	Snippet         string `json:"snippet,omitempty"`
	FromMe          bool   `json:"fromMe"`
	CreatedAtMs     int64  `json:"createdAtMs,omitempty"`
}

// OutboxEntry is one recorded send attempt.
type OutboxEntry struct {
	ClientID        string `json:"clientId"`
	ConversationKey string `json:"conversation"`
	Text            string `json:"text"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	ServerID        string `json:"serverId,omitempty"`
	CreatedAtMs     int64  `json:"createdAtMs"`
	UpdatedAtMs     int64  `json:"updatedAtMs"`
}

// Event is one bus event streamed to clients.
type Event struct {
	ID           string          `json:"id"`
	Session      string          `json:"session"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurredAtMs"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Selected      string         `json:"selected,omitempty"`
	TotalUnread   int            `json:"totalUnread"`
}

// ConversationRequest names one conversation.
type ConversationRequest struct {
	Conversation string `json:"conversation"`
}

type MessagesResponse struct {
	Conversation string    `json:"conversation"`
	Messages     []Message `json:"messages"`
	HasMore      bool      `json:"hasMore"`
	Loading      bool      `json:"loading"`
}

type SendTextRequest struct {
	Conversation string `json:"conversation"`
	Text         string `json:"text"`
}

type SendTextResponse struct {
	Message Message `json:"message"`
}

// SearchRequest is shared by both search calls. Conversation only narrows
// message search.
type SearchRequest struct {
	Query        string `json:"query"`
	Conversation string `json:"conversation,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

type SearchCorrespondentsResponse struct {
	Correspondents []Correspondent `json:"correspondents"`
}

type SearchMessagesResponse struct {
	Results []SearchHit `json:"results"`
}

type ListOutboxRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListOutboxResponse struct {
	Entries []OutboxEntry `json:"entries"`
}

// WatchEventsRequest selects events by kind prefix. No prefixes means the
// default set: message, conversation and session events.
type WatchEventsRequest struct {
	Prefixes []string `json:"prefixes,omitempty"`
}

type SessionStatus struct {
	Session          string `json:"session"`
	State            string `json:"state"`
	StatusMessage    string `json:"statusMessage,omitempty"`
	Identity         string `json:"identity,omitempty"`
	LiveConnected    bool   `json:"liveConnected"`
	UptimeMs         int64  `json:"uptimeMs"`
	Correspondents   int64  `json:"correspondents"`
	Conversations    int64  `json:"conversations"`
	Messages         int64  `json:"messages"`
	TotalUnread      int    `json:"totalUnread"`
	BootstrappedAtMs int64  `json:"bootstrappedAtMs,omitempty"`
	LastPushAtMs     int64  `json:"lastPushAtMs,omitempty"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
