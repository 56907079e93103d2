package store

import "strings"

// SearchMessages performs a full-text search on cached message bodies.
// key narrows the search to one conversation when non-empty.
func (db *DB) SearchMessages(query, key string, limit int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.conversation_key, m.msg_id, m.client_id, m.body, m.from_me,
		       m.delivery, m.source, m.timestamp,
		       COALESCE(NULLIF(p.nickname,''), NULLIF(p.display_name,''), m.conversation_key),
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		LEFT JOIN correspondents p ON p.id = m.conversation_key
		WHERE messages_fts MATCH ?`

	args := []any{ftsQuery(query)}
	if key != "" {
		q += " AND m.conversation_key = ?"
		args = append(args, key)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationKey, &r.Message.MsgID,
			&r.Message.ClientID, &r.Message.Body, &r.Message.FromMe,
			&r.Message.Delivery, &r.Message.Source, &r.Message.Timestamp,
			&r.DisplayName, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ftsQuery quotes each whitespace-separated term so user input cannot be
// parsed as FTS5 syntax. Terms are ANDed.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}
