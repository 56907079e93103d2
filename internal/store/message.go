package store

import (
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (conversation_key, msg_id, client_id, body, from_me, delivery, source, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_key, msg_id) DO UPDATE SET
		client_id = excluded.client_id,
		body = excluded.body,
		from_me = excluded.from_me,
		delivery = excluded.delivery,
		source = excluded.source,
		timestamp = excluded.timestamp`

// UpsertMessage inserts or updates a message (idempotent on conversation_key + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL,
		m.ConversationKey, m.MsgID, m.ClientID, m.Body, m.FromMe, m.Delivery, m.Source, m.Timestamp, time.Now().UnixMilli())
	return err
}

// ApplyMessages upserts msgs and deletes the ids in removed, all in one
// transaction. removed carries ids of optimistic rows replaced by their
// server copy.
func (db *DB) ApplyMessages(key string, msgs []Message, removed []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range removed {
		if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_key = ? AND msg_id = ?`, key, id); err != nil {
			return fmt.Errorf("delete message %q: %w", id, err)
		}
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL,
			key, m.MsgID, m.ClientID, m.Body, m.FromMe, m.Delivery, m.Source, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns messages for a conversation using keyset pagination by
// timestamp, newest first. Messages without a timestamp are always included
// on the first page.
func (db *DB) ListMessages(key string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	first := beforeTs <= 0
	if first {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_key, msg_id, client_id, body, from_me, delivery, source, timestamp
		FROM messages
		WHERE conversation_key = ? AND ((timestamp > 0 AND timestamp < ?) OR (timestamp = 0 AND ?))
		ORDER BY timestamp = 0 DESC, timestamp DESC, id DESC
		LIMIT ?`, key, beforeTs, first, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationKey, &m.MsgID, &m.ClientID, &m.Body, &m.FromMe, &m.Delivery, &m.Source, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
