package store

// ListConversations derives the conversation list for the given user:
// one row per distinct counterpart, carrying the most recent message and
// the number of unread messages from that counterpart. Counterpart names
// come from the users cache when known, otherwise stay empty for the
// caller to fill from snapshots.
func (db *DB) ListConversations(selfID int64) ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT c.counterpart_id,
			COALESCE(u.username, ''), COALESCE(u.name, ''), COALESCE(u.image_url, ''),
			c.text, c.created_at,
			(SELECT COUNT(*) FROM messages um
				WHERE um.sender_id = c.counterpart_id AND um.recipient_id = ?1 AND um.is_read = 0)
		FROM (
			SELECT CASE WHEN sender_id = ?1 THEN recipient_id ELSE sender_id END AS counterpart_id,
				text, created_at,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN sender_id = ?1 THEN recipient_id ELSE sender_id END
					ORDER BY created_at DESC, id DESC
				) AS rn
			FROM messages
			WHERE sender_id = ?1 OR recipient_id = ?1
		) c
		LEFT JOIN users u ON u.id = c.counterpart_id
		WHERE c.rn = 1
		ORDER BY c.created_at DESC`, selfID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.CounterpartID, &c.CounterpartUsername, &c.CounterpartName,
			&c.CounterpartAvatarURL, &c.LastMessageText, &c.LastMessageAt, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}
