package store

import (
	"database/sql"
	"fmt"
)

const upsertMessageSQL = `
	INSERT INTO messages (id, text, created_at, is_read,
		sender_id, sender_username, sender_name, sender_image_url,
		recipient_id, recipient_username, recipient_name, recipient_image_url)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		created_at = excluded.created_at,
		is_read = excluded.is_read,
		sender_username = excluded.sender_username,
		sender_name = excluded.sender_name,
		sender_image_url = excluded.sender_image_url,
		recipient_username = excluded.recipient_username,
		recipient_name = excluded.recipient_name,
		recipient_image_url = excluded.recipient_image_url`

const selectMessageColumns = `
	SELECT id, text, created_at, is_read,
		sender_id, sender_username, sender_name, sender_image_url,
		recipient_id, recipient_username, recipient_name, recipient_image_url
	FROM messages`

// UpsertMessage inserts or replaces a message by id. Redelivery of the
// same server id overwrites the row instead of duplicating it.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, messageArgs(m)...)
	return err
}

// UpsertMessages inserts or replaces a batch in a single transaction.
func (db *DB) UpsertMessages(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range msgs {
		if _, err := tx.Exec(upsertMessageSQL, messageArgs(m)...); err != nil {
			return fmt.Errorf("upsert message %d: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessagesBetween returns every message exchanged between the two
// users, ascending by creation time. The pair is unordered: either user
// may be the sender.
func (db *DB) ListMessagesBetween(a, b int64) ([]Message, error) {
	rows, err := db.Query(selectMessageColumns+`
		WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)
		ORDER BY created_at ASC, id ASC`, a, b)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := scanMessage(rows.Scan, &m); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessagesBetween returns how many messages the pair has locally.
func (db *DB) CountMessagesBetween(a, b int64) (int64, error) {
	var count int64
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE (sender_id = ?1 AND recipient_id = ?2) OR (sender_id = ?2 AND recipient_id = ?1)`,
		a, b).Scan(&count)
	return count, err
}

// NextPlaceholderID allocates the next negative id for an optimistic
// local message.
func (db *DB) NextPlaceholderID() (int64, error) {
	var min sql.NullInt64
	if err := db.QueryRow(`SELECT MIN(id) FROM messages WHERE id < 0`).Scan(&min); err != nil {
		return 0, err
	}
	if min.Valid {
		return min.Int64 - 1, nil
	}
	return -1, nil
}

// ResolvePlaceholder replaces the oldest matching optimistic row with the
// authoritative server message, in one transaction. Returns whether a
// placeholder was consumed. When none matches the server row is still
// upserted, so redelivered echoes stay idempotent.
func (db *DB) ResolvePlaceholder(m *Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var placeholderID int64
	err = tx.QueryRow(`
		SELECT id FROM messages
		WHERE id < 0 AND sender_id = ? AND recipient_id = ? AND text = ?
		ORDER BY id DESC LIMIT 1`,
		m.SenderID, m.RecipientID, m.Text).Scan(&placeholderID)
	replaced := err == nil
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if replaced {
		if _, err := tx.Exec(`DELETE FROM messages WHERE id = ?`, placeholderID); err != nil {
			return false, err
		}
	}

	if _, err := tx.Exec(upsertMessageSQL, messageArgs(m)...); err != nil {
		return false, err
	}
	return replaced, tx.Commit()
}

// MarkConversationRead flags every message from counterpart to self as read.
func (db *DB) MarkConversationRead(selfID, counterpartID int64) error {
	_, err := db.Exec(`
		UPDATE messages SET is_read = 1
		WHERE sender_id = ? AND recipient_id = ? AND is_read = 0`,
		counterpartID, selfID)
	return err
}

func messageArgs(m *Message) []any {
	return []any{
		m.ID, m.Text, m.CreatedAt, m.IsRead,
		m.SenderID, m.SenderUsername, m.SenderName, m.SenderAvatarURL,
		m.RecipientID, m.RecipientUsername, m.RecipientName, m.RecipientAvatarURL,
	}
}

func scanMessage(scan func(...any) error, m *Message) error {
	return scan(
		&m.ID, &m.Text, &m.CreatedAt, &m.IsRead,
		&m.SenderID, &m.SenderUsername, &m.SenderName, &m.SenderAvatarURL,
		&m.RecipientID, &m.RecipientUsername, &m.RecipientName, &m.RecipientAvatarURL,
	)
}
