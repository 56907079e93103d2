package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Ae-Ti/BMN-sub000/internal/chat"
	"go.uber.org/zap"
)

const (
	pathCorrespondents = "/api/chat/correspondents"
	pathConversations  = "/api/chat/conversations"
)

func conversationPath(partner, suffix string) string {
	return pathConversations + "/" + url.PathEscape(partner) + suffix
}

// pageEnvelope covers the paged list shapes the backend returns: a bare
// array, a Spring-style {"content", "last"} page, or {"items", "hasMore"}.
type pageEnvelope struct {
	Content  []json.RawMessage `json:"content"`
	Items    []json.RawMessage `json:"items"`
	Data     []json.RawMessage `json:"data"`
	Messages []json.RawMessage `json:"messages"`
	Last     *bool             `json:"last"`
	HasMore  *bool             `json:"hasMore"`
	HasNext  *bool             `json:"hasNext"`
}

func decodePage(body []byte) ([]json.RawMessage, *bool, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil, nil
	}
	if body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, nil, fmt.Errorf("decoding page: %w", err)
		}
		return items, nil, nil
	}

	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("decoding page: %w", err)
	}
	var items []json.RawMessage
	for _, cand := range [][]json.RawMessage{env.Content, env.Items, env.Data, env.Messages} {
		if cand != nil {
			items = cand
			break
		}
	}
	switch {
	case env.HasMore != nil:
		return items, env.HasMore, nil
	case env.HasNext != nil:
		return items, env.HasNext, nil
	case env.Last != nil:
		more := !*env.Last
		return items, &more, nil
	}
	return items, nil, nil
}

type wireCorrespondent struct {
	Username    json.RawMessage `json:"username"`
	ID          json.RawMessage `json:"id"`
	UserID      json.RawMessage `json:"userId"`
	DisplayName string          `json:"displayName"`
	Name        string          `json:"name"`
	Nickname    string          `json:"nickname"`
}

// ListCorrespondents returns one page of the users the account follows,
// optionally filtered by search.
func (c *Client) ListCorrespondents(ctx context.Context, search string, page, size int) (chat.CorrespondentPage, error) {
	q := pageQuery(page, size)
	if search != "" {
		q.Set("search", search)
	}
	req, err := c.newRequest(ctx, http.MethodGet, pathCorrespondents, q, nil)
	if err != nil {
		return chat.CorrespondentPage{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return chat.CorrespondentPage{}, err
	}
	items, more, err := decodePage(body)
	if err != nil {
		return chat.CorrespondentPage{}, err
	}

	out := chat.CorrespondentPage{HasMore: more, Items: make([]chat.Correspondent, 0, len(items))}
	for _, raw := range items {
		var w wireCorrespondent
		if err := json.Unmarshal(raw, &w); err != nil {
			c.log.Debug("skipping correspondent entry", zap.Error(err))
			continue
		}
		id := firstNonEmpty(ident(w.Username), ident(w.ID), ident(w.UserID))
		if id == "" {
			continue
		}
		out.Items = append(out.Items, chat.Correspondent{
			ID:          id,
			DisplayName: firstNonEmpty(w.DisplayName, w.Name),
			Nickname:    w.Nickname,
		})
	}
	return out, nil
}

type wireConversation struct {
	Partner         json.RawMessage `json:"partner"`
	PartnerUsername json.RawMessage `json:"partnerUsername"`
	Username        json.RawMessage `json:"username"`
	Correspondent   json.RawMessage `json:"correspondent"`
	DisplayName     string          `json:"displayName"`
	PartnerName     string          `json:"partnerName"`
	LastMessage     json.RawMessage `json:"lastMessage"`
	LatestMessage   json.RawMessage `json:"latestMessage"`
	LastMessageAt   json.RawMessage `json:"lastMessageAt"`
	UpdatedAt       json.RawMessage `json:"updatedAt"`
	UnreadCount     *int            `json:"unreadCount"`
	Unread          *int            `json:"unread"`
}

type wireSnippet struct {
	Content   *string         `json:"content"`
	Text      *string         `json:"text"`
	CreatedAt json.RawMessage `json:"createdAt"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// ConversationPage is one page of server-side conversation summaries.
type ConversationPage struct {
	Items   []chat.Conversation
	HasMore *bool
}

// ListConversations returns one page of conversation summaries, each with
// its latest message and unread count.
func (c *Client) ListConversations(ctx context.Context, page, size int) (ConversationPage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathConversations, pageQuery(page, size), nil)
	if err != nil {
		return ConversationPage{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return ConversationPage{}, err
	}
	items, more, err := decodePage(body)
	if err != nil {
		return ConversationPage{}, err
	}

	out := ConversationPage{HasMore: more, Items: make([]chat.Conversation, 0, len(items))}
	for _, raw := range items {
		conv, ok := c.decodeConversation(raw)
		if ok {
			out.Items = append(out.Items, conv)
		}
	}
	return out, nil
}

func (c *Client) decodeConversation(raw json.RawMessage) (chat.Conversation, bool) {
	var w wireConversation
	if err := json.Unmarshal(raw, &w); err != nil {
		c.log.Debug("skipping conversation entry", zap.Error(err))
		return chat.Conversation{}, false
	}
	conv := chat.Conversation{
		CorrespondentID: firstNonEmpty(ident(w.Partner), ident(w.PartnerUsername), ident(w.Username), ident(w.Correspondent)),
		DisplayName:     firstNonEmpty(w.DisplayName, w.PartnerName),
	}
	if conv.CorrespondentID == "" {
		return chat.Conversation{}, false
	}
	if w.UnreadCount != nil {
		conv.UnreadCount = *w.UnreadCount
	} else if w.Unread != nil {
		conv.UnreadCount = *w.Unread
	}

	latest := w.LastMessage
	if len(latest) == 0 {
		latest = w.LatestMessage
	}
	latest = bytes.TrimSpace(latest)
	stamp := w.LastMessageAt
	if len(stamp) == 0 {
		stamp = w.UpdatedAt
	}
	if len(latest) > 0 {
		switch latest[0] {
		case '"':
			_ = json.Unmarshal(latest, &conv.LatestText)
		case '{':
			var s wireSnippet
			if json.Unmarshal(latest, &s) == nil {
				switch {
				case s.Content != nil:
					conv.LatestText = *s.Content
				case s.Text != nil:
					conv.LatestText = *s.Text
				}
				if len(stamp) == 0 {
					stamp = s.CreatedAt
				}
				if len(stamp) == 0 {
					stamp = s.Timestamp
				}
			}
		}
	}
	if ts, err := chat.ParseTimestamp(stamp); err == nil {
		conv.LatestAt = ts
	}
	return conv, true
}

// FetchMessages returns one raw page of a conversation's history, newest
// page first.
func (c *Client) FetchMessages(ctx context.Context, partner string, page, size int) (chat.MessagePage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, conversationPath(partner, "/messages"), pageQuery(page, size), nil)
	if err != nil {
		return chat.MessagePage{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return chat.MessagePage{}, err
	}
	items, more, err := decodePage(body)
	if err != nil {
		return chat.MessagePage{}, err
	}
	return chat.MessagePage{Items: items, HasMore: more}, nil
}

type sendRequest struct {
	Content     string `json:"content"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

// SendMessage posts text to partner and returns the canonical persisted
// message as the server encoded it.
func (c *Client) SendMessage(ctx context.Context, partner, text, clientID string) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodPost, conversationPath(partner, "/messages"), nil,
		sendRequest{Content: text, ClientMsgID: clientID})
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// MarkRead tells the server every message from partner has been read.
func (c *Client) MarkRead(ctx context.Context, partner string) error {
	req, err := c.newRequest(ctx, http.MethodPost, conversationPath(partner, "/read"), nil, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// ident reads a JSON string or number identifier.
func ident(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
