package store

import (
	"database/sql"
	"time"
)

// UpsertConversation writes the current projection of a conversation.
func (db *DB) UpsertConversation(c *Conversation) error {
	_, err := db.Exec(`
		INSERT INTO conversations (correspondent_id, display_name, latest_text, latest_at, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(correspondent_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE conversations.display_name END,
			latest_text = excluded.latest_text,
			latest_at = excluded.latest_at,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.CorrespondentID, c.DisplayName, c.LatestText, c.LatestAt, c.UnreadCount, time.Now().UnixMilli())
	return err
}

// ListConversations returns conversations, most recent first, empty ones
// last. Names fall back through conversation name, correspondent nickname,
// correspondent display name and finally the id.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT c.correspondent_id,
			COALESCE(NULLIF(c.display_name,''), NULLIF(p.nickname,''), NULLIF(p.display_name,''), c.correspondent_id),
			c.latest_text, c.latest_at, c.unread_count
		FROM conversations c
		LEFT JOIN correspondents p ON p.id = c.correspondent_id
		ORDER BY c.latest_at = 0, c.latest_at DESC, c.correspondent_id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.CorrespondentID, &c.DisplayName, &c.LatestText, &c.LatestAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation returns one conversation, or nil if it was never cached.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT c.correspondent_id,
			COALESCE(NULLIF(c.display_name,''), NULLIF(p.nickname,''), NULLIF(p.display_name,''), c.correspondent_id),
			c.latest_text, c.latest_at, c.unread_count
		FROM conversations c
		LEFT JOIN correspondents p ON p.id = c.correspondent_id
		WHERE c.correspondent_id = ?`, id).
		Scan(&c.CorrespondentID, &c.DisplayName, &c.LatestText, &c.LatestAt, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConversationCount returns the number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
