package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const upsertCorrespondentSQL = `
	INSERT INTO correspondents (id, display_name, nickname, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE correspondents.display_name END,
		nickname = CASE WHEN excluded.nickname != '' THEN excluded.nickname ELSE correspondents.nickname END,
		updated_at = excluded.updated_at`

// UpsertCorrespondent inserts or updates a correspondent. Empty names never
// overwrite known ones.
func (db *DB) UpsertCorrespondent(c *Correspondent) error {
	_, err := db.Exec(upsertCorrespondentSQL, c.ID, c.DisplayName, c.Nickname, time.Now().UnixMilli())
	return err
}

// BulkUpsertCorrespondents inserts or updates many correspondents in one transaction.
func (db *DB) BulkUpsertCorrespondents(cs []Correspondent) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range cs {
		if _, err := tx.Exec(upsertCorrespondentSQL, c.ID, c.DisplayName, c.Nickname, now); err != nil {
			return fmt.Errorf("upsert correspondent %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetCorrespondent returns a correspondent by id, or nil if unknown.
func (db *DB) GetCorrespondent(id string) (*Correspondent, error) {
	var c Correspondent
	err := db.QueryRow(`SELECT id, display_name, nickname FROM correspondents WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.Nickname)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SearchCorrespondents matches term as a case-insensitive substring of the
// id, display name or nickname, ordered by id.
func (db *DB) SearchCorrespondents(term string, limit int) ([]Correspondent, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(term))) + "%"
	rows, err := db.Query(`
		SELECT id, display_name, nickname
		FROM correspondents
		WHERE lower(id) LIKE ? ESCAPE '\'
		   OR lower(display_name) LIKE ? ESCAPE '\'
		   OR lower(nickname) LIKE ? ESCAPE '\'
		ORDER BY id
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Correspondent
	for rows.Next() {
		var c Correspondent
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.Nickname); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CorrespondentCount returns the number of cached correspondents.
func (db *DB) CorrespondentCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM correspondents`).Scan(&count)
	return count, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
