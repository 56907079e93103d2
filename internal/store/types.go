package store

// Correspondent is a cached directory entry.
type Correspondent struct {
	ID          string
	DisplayName string
	Nickname    string
}

// Conversation is the cached projection of one conversation list row.
type Conversation struct {
	CorrespondentID string
	DisplayName     string
	LatestText      string
	LatestAt        int64 // unix ms, 0 when the conversation has no messages
	UnreadCount     int
}

// Message is a cached message row.
type Message struct {
	ID              int64
	ConversationKey string
	MsgID           string
	ClientID        string
	Body            string
	FromMe          bool
	Delivery        string
	Source          string
	Timestamp       int64 // unix ms, 0 when unknown
}

// OutboxEntry records one send attempt.
type OutboxEntry struct {
	ID              int64
	ClientMsgID     string
	ConversationKey string
	Body            string
	Status          string // queued, sending, sent, failed
	ErrorMessage    string
	ServerMsgID     string
	CreatedAt       int64
	UpdatedAt       int64
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message     Message
	DisplayName string
	Snippet     string
}
